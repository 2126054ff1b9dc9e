// Package httpdirectory resolves recipients from an external directory
// service over HTTP. The engine never owns recipient data; this client is
// the default bridge to whatever system does.
package httpdirectory

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/heraldkit/herald/pkg/protocol"
)

const defaultTimeout = 30 * time.Second

// entry is the directory service wire shape for a single recipient.
type entry struct {
	ID         string         `json:"id"`
	Address    string         `json:"address"`
	Status     string         `json:"status"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

func (e entry) toRecipient() protocol.Recipient {
	return protocol.Recipient{
		ID:         e.ID,
		Address:    e.Address,
		Attributes: e.Attributes,
	}
}

// Directory implements protocol.Directory against a directory service.
type Directory struct {
	baseURL string
	client  *http.Client
}

func NewDirectory(baseURL string) *Directory {
	return &Directory{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: defaultTimeout},
	}
}

func (d *Directory) Resolve(ctx context.Context, listRef string, excludeStatuses []string) ([]protocol.Recipient, error) {
	endpoint := d.baseURL + "/lists/" + url.PathEscape(listRef) + "/recipients"
	if len(excludeStatuses) > 0 {
		endpoint += "?exclude=" + url.QueryEscape(strings.Join(excludeStatuses, ","))
	}

	var entries []entry

	if err := d.get(ctx, endpoint, &entries); err != nil {
		return nil, fmt.Errorf("failed to resolve list %q: %w", listRef, err)
	}

	excluded := make(map[string]bool, len(excludeStatuses))
	for _, status := range excludeStatuses {
		excluded[status] = true
	}

	recipients := make([]protocol.Recipient, 0, len(entries))

	// Filter again locally so a directory that ignores the exclude
	// parameter cannot leak suppressed recipients into a run.
	for _, e := range entries {
		if excluded[e.Status] {
			continue
		}

		recipients = append(recipients, e.toRecipient())
	}

	return recipients, nil
}

func (d *Directory) IsSuppressed(ctx context.Context, recipientID string) (bool, error) {
	e, err := d.fetch(ctx, recipientID)
	if err != nil {
		return false, err
	}

	for _, status := range protocol.DefaultExcludeStatuses() {
		if e.Status == status {
			return true, nil
		}
	}

	return false, nil
}

func (d *Directory) Recipient(ctx context.Context, recipientID string) (*protocol.Recipient, error) {
	e, err := d.fetch(ctx, recipientID)
	if err != nil {
		return nil, err
	}

	recipient := e.toRecipient()

	return &recipient, nil
}

func (d *Directory) fetch(ctx context.Context, recipientID string) (*entry, error) {
	endpoint := d.baseURL + "/recipients/" + url.PathEscape(recipientID)

	var e entry

	if err := d.get(ctx, endpoint, &e); err != nil {
		return nil, fmt.Errorf("failed to fetch recipient %q: %w", recipientID, err)
	}

	return &e, nil
}

func (d *Directory) get(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}

	req.Header.Set("Accept", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach directory: %w", err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("directory returned status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode directory response: %w", err)
	}

	return nil
}
