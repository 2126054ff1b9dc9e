package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/heraldkit/herald/pkg/eventbus"
	"github.com/heraldkit/herald/pkg/events"
	"github.com/heraldkit/herald/pkg/models"
)

// Trigger accepts inbound behavioral events and hands them to the matcher
// through the event bus.
type Trigger struct {
	publisher eventbus.EventPublisher
	logger    *slog.Logger
}

func NewTrigger(publisher eventbus.EventPublisher, logger *slog.Logger) *Trigger {
	return &Trigger{
		publisher: publisher,
		logger:    logger.With("module", "trigger_service"),
	}
}

// Submit validates and publishes one trigger event. Publishing is
// fire-and-forget for the producer; dedupe happens at the matcher.
func (t *Trigger) Submit(ctx context.Context, event *models.TriggerEvent) error {
	if event.RecipientID == "" {
		return ErrRecipientRequired
	}

	if event.EventType == "" {
		return ErrEventTypeRequired
	}

	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	wrapped := events.TriggerEventReceived{
		BaseEvent: events.NewBaseEvent(events.TriggerEventReceivedEvent, event.RecipientID),
		Event:     *event,
	}

	if err := t.publisher.Publish(ctx, event.RecipientID, wrapped); err != nil {
		return err
	}

	t.logger.Debug("Trigger event accepted",
		"event_type", event.EventType,
		"recipient_id", event.RecipientID)

	return nil
}
