package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/heraldkit/herald/pkg/dedupe"
	"github.com/heraldkit/herald/pkg/eventbus"
	"github.com/heraldkit/herald/pkg/events"
	"github.com/heraldkit/herald/pkg/models"
	"github.com/heraldkit/herald/pkg/persistence"
	"github.com/heraldkit/herald/pkg/protocol"
)

// Matcher turns inbound trigger events into workflow instances. Matching is
// stateless; the instances it creates carry all durable state.
type Matcher struct {
	workflows persistence.WorkflowRepository
	instances persistence.InstanceRepository
	directory protocol.Directory
	dedupe    dedupe.Store
	publisher eventbus.EventPublisher
	logger    *slog.Logger
	clock     func() time.Time
}

func NewMatcher(
	workflows persistence.WorkflowRepository,
	instances persistence.InstanceRepository,
	directory protocol.Directory,
	dedupeStore dedupe.Store,
	publisher eventbus.EventPublisher,
	logger *slog.Logger,
) *Matcher {
	return &Matcher{
		workflows: workflows,
		instances: instances,
		directory: directory,
		dedupe:    dedupeStore,
		publisher: publisher,
		logger:    logger.With("module", "trigger_matcher"),
		clock:     func() time.Time { return time.Now().UTC() },
	}
}

// Match evaluates the event against every active workflow and returns the
// instances it created. Duplicate deliveries inside the dedupe window are
// absorbed silently; suppressed or unknown recipients match nothing.
func (m *Matcher) Match(ctx context.Context, event *models.TriggerEvent) ([]*models.WorkflowInstance, error) {
	logger := m.logger.With("event_type", event.EventType, "recipient_id", event.RecipientID)

	fresh, err := m.dedupe.Reserve(ctx, event.DedupeKey(), models.DedupeBucket)
	if err != nil {
		return nil, fmt.Errorf("failed to reserve dedupe key: %w", err)
	}

	if !fresh {
		logger.Debug("Duplicate trigger event, ignoring", "dedupe_key", event.DedupeKey())
		return nil, nil
	}

	created, err := m.match(ctx, logger, event)
	if err != nil && len(created) == 0 {
		// Nothing happened yet, so give the reservation back: the bus will
		// redeliver the event and the retry must not be absorbed as a
		// duplicate. Once an instance exists the reservation stays, since
		// releasing it would duplicate that instance on redelivery.
		if releaseErr := m.dedupe.Release(ctx, event.DedupeKey()); releaseErr != nil {
			logger.Warn("Failed to release dedupe key after match error", "error", releaseErr)
		}
	}

	return created, err
}

func (m *Matcher) match(ctx context.Context, logger *slog.Logger, event *models.TriggerEvent) ([]*models.WorkflowInstance, error) {
	recipient, err := m.directory.Recipient(ctx, event.RecipientID)
	if err != nil {
		logger.Warn("Trigger event for unknown recipient, ignoring", "error", err)
		return nil, nil
	}

	suppressed, err := m.directory.IsSuppressed(ctx, event.RecipientID)
	if err != nil {
		return nil, fmt.Errorf("failed to check suppression for recipient %s: %w", event.RecipientID, err)
	}

	if suppressed {
		logger.Debug("Recipient suppressed, event matches nothing")
		return nil, nil
	}

	candidates, err := m.workflows.ActiveWorkflows(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list active workflows: %w", err)
	}

	scope := event.Scope(recipient.Attributes)

	var created []*models.WorkflowInstance

	for _, wf := range candidates {
		entry, err := wf.EntryNode()
		if err != nil {
			logger.Warn("Active workflow has no valid entry node, skipping", "workflow_id", wf.ID, "error", err)
			continue
		}

		trigger := entry.Trigger
		if trigger.EventType != event.EventType {
			continue
		}

		if trigger.Predicate != nil && !trigger.Predicate.Evaluate(scope) {
			continue
		}

		capped, err := m.overFrequencyCap(ctx, wf.ID, event.RecipientID, trigger.FrequencyCap)
		if err != nil {
			return created, err
		}

		if capped {
			logger.Debug("Frequency cap reached, skipping workflow", "workflow_id", wf.ID)
			continue
		}

		instance, err := m.createInstance(ctx, wf, entry, event, scope)
		if err != nil {
			return created, err
		}

		logger.Info("Trigger event matched workflow",
			"workflow_id", wf.ID,
			"instance_id", instance.ID,
			"status", string(instance.Status))

		created = append(created, instance)
	}

	return created, nil
}

func (m *Matcher) overFrequencyCap(ctx context.Context, workflowID, recipientID string, freqCap *models.FrequencyCap) (bool, error) {
	if freqCap == nil {
		return false, nil
	}

	since := m.clock().Add(-freqCap.Window)

	count, err := m.instances.CountInstancesSince(ctx, workflowID, recipientID, since)
	if err != nil {
		return false, fmt.Errorf("failed to count instances for frequency cap: %w", err)
	}

	return count >= freqCap.MaxInstances, nil
}

// createInstance persists a new instance positioned at the entry node. A
// trigger offset parks the instance immediately; the scheduler clock resumes
// it once the offset elapses.
func (m *Matcher) createInstance(ctx context.Context, wf *models.Workflow, entry *models.Node, event *models.TriggerEvent, scope map[string]any) (*models.WorkflowInstance, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate instance id: %w", err)
	}

	instance := &models.WorkflowInstance{
		ID:          id.String(),
		WorkflowID:  wf.ID,
		RecipientID: event.RecipientID,
		Cursor:      entry.ID,
		Status:      models.InstanceStatusActive,
		TriggerData: scope,
	}

	if entry.Trigger.Offset > 0 {
		// The offset counts from when the event occurred, not from when it
		// was delivered, so replayed or lagged deliveries fire on time. An
		// offset that already elapsed in transit starts the instance now.
		occurred := event.OccurredAt
		if occurred.IsZero() {
			occurred = m.clock()
		}

		if resumeAt := occurred.Add(entry.Trigger.Offset); resumeAt.After(m.clock()) {
			instance.Suspend(resumeAt)
		}
	}

	if err := m.instances.SaveInstance(ctx, instance); err != nil {
		return nil, fmt.Errorf("failed to save instance: %w", err)
	}

	m.publishCreated(ctx, instance)

	return instance, nil
}

func (m *Matcher) publishCreated(ctx context.Context, instance *models.WorkflowInstance) {
	if m.publisher == nil {
		return
	}

	event := events.InstanceCreated{
		BaseEvent:   events.NewBaseEvent(events.InstanceCreatedEvent, instance.ID),
		InstanceID:  instance.ID,
		WorkflowID:  instance.WorkflowID,
		RecipientID: instance.RecipientID,
	}

	if err := m.publisher.Publish(ctx, instance.ID, event); err != nil {
		m.logger.Warn("Failed to publish instance created event", "instance_id", instance.ID, "error", err)
	}
}
