// Package protocol defines the interfaces between the dispatch engine and its
// external collaborators: the recipient directory, the content renderer, and
// the outbound transport.
package protocol

import "context"

// Recipient is one resolved directory entry.
type Recipient struct {
	ID         string         `json:"id"`
	Address    string         `json:"address"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// Suppression states excluded from dispatch by default.
const (
	StatusUnsubscribed = "unsubscribed"
	StatusBounced      = "bounced"
	StatusComplained   = "complained"
)

// DefaultExcludeStatuses is the standard suppression set.
func DefaultExcludeStatuses() []string {
	return []string{StatusUnsubscribed, StatusBounced, StatusComplained}
}

// Directory resolves recipient lists. Implementations live outside the
// engine; the engine only depends on this interface.
type Directory interface {
	// Resolve returns recipients of listRef, excluding the given statuses.
	Resolve(ctx context.Context, listRef string, excludeStatuses []string) ([]Recipient, error)

	// IsSuppressed reports whether a single recipient is currently suppressed.
	IsSuppressed(ctx context.Context, recipientID string) (bool, error)

	// Recipient returns a single directory entry by id.
	Recipient(ctx context.Context, recipientID string) (*Recipient, error)
}
