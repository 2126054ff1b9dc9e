package models

import (
	"fmt"
	"time"
)

// DedupeBucket is the time bucket used when an event carries no EventID.
const DedupeBucket = time.Hour

// TriggerEvent is an ephemeral inbound event. It is not persisted beyond the
// dedupe window; every instance it creates is durable on its own.
type TriggerEvent struct {
	EventID     string         `json:"event_id,omitempty"`
	RecipientID string         `json:"recipient_id" validate:"required"`
	EventType   string         `json:"event_type"   validate:"required"`
	Payload     map[string]any `json:"payload,omitempty"`
	OccurredAt  time.Time      `json:"occurred_at"`
}

// DedupeKey identifies duplicate deliveries: the explicit event id when the
// producer supplies one, otherwise (recipient, event type, time bucket).
func (e *TriggerEvent) DedupeKey() string {
	if e.EventID != "" {
		return "event:" + e.EventID
	}

	bucket := e.OccurredAt.UTC().Truncate(DedupeBucket).Unix()

	return fmt.Sprintf("event:%s:%s:%d", e.RecipientID, e.EventType, bucket)
}

// Scope builds the predicate evaluation scope for this event combined with
// recipient attributes.
func (e *TriggerEvent) Scope(recipientAttributes map[string]any) map[string]any {
	return map[string]any{
		"event":     e.Payload,
		"recipient": recipientAttributes,
	}
}
