package protocol

import "context"

// SendResult is the synchronous acceptance outcome from the provider.
// Delivery, bounce and complaint callbacks arrive asynchronously and are
// matched back to the ledger by correlation id.
type SendResult struct {
	Accepted          bool   `json:"accepted"`
	ProviderMessageID string `json:"provider_message_id,omitempty"`
}

// Transport is the outbound delivery provider. The transport may itself
// retry or duplicate; the engine only guarantees at most one dispatch
// attempt record per recipient per run.
type Transport interface {
	Send(ctx context.Context, address string, message *RenderedMessage, correlationID string) (*SendResult, error)
}
