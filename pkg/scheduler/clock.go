// Package scheduler runs the clock: a ticker-driven poller that claims due
// schedules and resumable workflow instances from the store and drives them.
// Multiple clock processes may run against the same database; the atomic
// status claims guarantee each schedule and instance fires exactly once.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/heraldkit/herald/pkg/dispatch"
	"github.com/heraldkit/herald/pkg/eventbus"
	"github.com/heraldkit/herald/pkg/events"
	"github.com/heraldkit/herald/pkg/models"
	"github.com/heraldkit/herald/pkg/persistence"
	"github.com/heraldkit/herald/pkg/protocol"
	"github.com/heraldkit/herald/pkg/recurrence"
)

// DefaultPollInterval is how often the clock wakes up. Due times between
// ticks fire on the next tick; sub-interval precision is out of scope.
const DefaultPollInterval = time.Minute

// maxRunRetries bounds consecutive deferred runs before a schedule is
// marked failed.
const maxRunRetries = 3

// runRetryDelay is the wait before a deferred run is retried.
const runRetryDelay = 5 * time.Minute

// RunDispatcher fans a claimed run out to its recipients.
type RunDispatcher interface {
	Run(ctx context.Context, runID string, schedule *models.Schedule, channel string) (*models.RunSummary, error)
}

// InstanceRunner advances a claimed workflow instance.
type InstanceRunner interface {
	Run(ctx context.Context, instance *models.WorkflowInstance) error
}

// Clock is the scheduler daemon.
type Clock struct {
	workerID   string
	store      persistence.Persistence
	dispatcher RunDispatcher
	runner     InstanceRunner
	directory  protocol.Directory
	publisher  eventbus.EventPublisher
	logger     *slog.Logger

	interval time.Duration
	now      func() time.Time

	ticker  *time.Ticker
	done    chan struct{}
	started bool
	mu      sync.Mutex
}

func NewClock(
	workerID string,
	store persistence.Persistence,
	dispatcher RunDispatcher,
	runner InstanceRunner,
	directory protocol.Directory,
	publisher eventbus.EventPublisher,
	logger *slog.Logger,
) *Clock {
	return &Clock{
		workerID:   workerID,
		store:      store,
		dispatcher: dispatcher,
		runner:     runner,
		directory:  directory,
		publisher:  publisher,
		logger:     logger.With("module", "scheduler_clock", "worker_id", workerID),
		interval:   DefaultPollInterval,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Start begins polling. It returns immediately; the poll loop runs until
// Stop is called or the context is cancelled.
func (c *Clock) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started {
		return nil
	}

	c.logger.Info("Starting scheduler clock", "interval", c.interval)

	c.ticker = time.NewTicker(c.interval)
	c.done = make(chan struct{})
	c.started = true

	go c.poll(ctx)

	return nil
}

// Stop shuts the poll loop down. In-flight runs finish on their own.
func (c *Clock) Stop(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.started {
		return nil
	}

	c.logger.Info("Stopping scheduler clock")

	c.ticker.Stop()

	// Closing always reaches the poll goroutine, even when a tick is in
	// flight; a send would be dropped and leave the goroutine parked.
	close(c.done)

	c.started = false

	return nil
}

func (c *Clock) poll(ctx context.Context) {
	for {
		select {
		case <-c.done:
			return
		case <-ctx.Done():
			return
		case <-c.ticker.C:
			c.tick(ctx)
		}
	}
}

// tick is one full pass: fire due schedules, then resume waiting instances.
func (c *Clock) tick(ctx context.Context) {
	c.processDueSchedules(ctx)
	c.processResumableInstances(ctx)
}

func (c *Clock) processDueSchedules(ctx context.Context) {
	now := c.now()

	due, err := c.store.ScheduleRepository().DueSchedules(ctx, now)
	if err != nil {
		c.logger.Error("Failed to query due schedules", "error", err)
		return
	}

	if len(due) > 0 {
		c.logger.Info("Processing due schedules", "count", len(due))
	}

	for _, schedule := range due {
		err := c.store.ScheduleRepository().ClaimSchedule(ctx, schedule.ID, models.ScheduleStatusScheduled, models.ScheduleStatusRunning)
		if err != nil {
			if persistence.IsClaimConflict(err) {
				// Another clock instance got there first.
				continue
			}

			c.logger.Error("Failed to claim schedule", "schedule_id", schedule.ID, "error", err)

			continue
		}

		schedule.Status = models.ScheduleStatusRunning
		schedule.NextExecutionAt = nil

		c.executeSchedule(ctx, schedule)
	}
}

// executeSchedule drives one claimed schedule through a run and settles its
// next status.
func (c *Clock) executeSchedule(ctx context.Context, schedule *models.Schedule) {
	logger := c.logger.With("schedule_id", schedule.ID, "type", string(schedule.Type))

	runID, err := uuid.NewV7()
	if err != nil {
		logger.Error("Failed to generate run id", "error", err)
		return
	}

	firedAt := c.now()

	switch schedule.Type {
	case models.ScheduleTypeImmediate, models.ScheduleTypeOneTime, models.ScheduleTypeRecurring:
		c.executeRun(ctx, runID.String(), schedule, firedAt)
	case models.ScheduleTypeDrip:
		c.materializeDrip(ctx, runID.String(), schedule)
	case models.ScheduleTypeEventTriggered:
		// Event-triggered schedules carry no due time; the matcher creates
		// their instances. Nothing to fire here.
		logger.Warn("Event-triggered schedule was claimed as due, ignoring")
		c.settle(ctx, schedule, models.ScheduleStatusCompleted, nil)
	}
}

func (c *Clock) executeRun(ctx context.Context, runID string, schedule *models.Schedule, firedAt time.Time) {
	logger := c.logger.With("schedule_id", schedule.ID, "run_id", runID)

	c.publish(ctx, runID, events.RunStarted{
		BaseEvent:  events.NewBaseEvent(events.RunStartedEvent, runID),
		RunID:      runID,
		ScheduleID: schedule.ID,
	})

	summary, err := c.dispatcher.Run(ctx, runID, schedule, schedule.DeliveryChannel())
	if err != nil {
		c.handleRunFailure(ctx, runID, schedule, firedAt, err)
		return
	}

	schedule.RunRetries = 0

	c.publish(ctx, runID, events.RunCompleted{
		BaseEvent:  events.NewBaseEvent(events.RunCompletedEvent, runID),
		RunID:      runID,
		ScheduleID: schedule.ID,
		Summary:    *summary,
		Duration:   c.now().Sub(firedAt),
	})

	if schedule.Type != models.ScheduleTypeRecurring {
		c.settle(ctx, schedule, models.ScheduleStatusCompleted, nil)
		return
	}

	next, err := recurrence.Next(schedule.RecurrenceRule, firedAt)
	if err != nil {
		logger.Error("Failed to compute next occurrence", "error", err)
		c.settle(ctx, schedule, models.ScheduleStatusFailed, nil)

		return
	}

	if next == nil {
		// The rule's end condition was reached.
		c.settle(ctx, schedule, models.ScheduleStatusCompleted, nil)
		return
	}

	logger.Info("Recurring schedule rescheduled", "next_execution_at", *next)
	c.settle(ctx, schedule, models.ScheduleStatusScheduled, next)
}

// handleRunFailure settles a schedule whose run errored. Deferrable failures
// are retried a bounded number of times; everything else leaves the ledger
// in charge and the schedule comes back for a resume the same way.
func (c *Clock) handleRunFailure(ctx context.Context, runID string, schedule *models.Schedule, firedAt time.Time, runErr error) {
	logger := c.logger.With("schedule_id", schedule.ID, "run_id", runID)

	schedule.RunRetries++

	c.publish(ctx, runID, events.RunFailed{
		BaseEvent:  events.NewBaseEvent(events.RunFailedEvent, runID),
		RunID:      runID,
		ScheduleID: schedule.ID,
		Error:      runErr.Error(),
		Retries:    schedule.RunRetries,
	})

	if schedule.RunRetries >= maxRunRetries {
		logger.Error("Run retry budget exhausted, failing schedule", "error", runErr)
		c.settle(ctx, schedule, models.ScheduleStatusFailed, nil)

		return
	}

	retryAt := firedAt.Add(runRetryDelay)

	if dispatch.IsDeferrable(runErr) {
		logger.Warn("Run deferred, nothing was dispatched", "error", runErr, "retry_at", retryAt)
	} else {
		logger.Warn("Run stopped early, will resume from the ledger", "error", runErr, "retry_at", retryAt)
	}

	c.settle(ctx, schedule, models.ScheduleStatusScheduled, &retryAt)
}

// settle transitions the claimed schedule and persists it. The write is
// conditional on the stored status still being running: an admin pause or
// cancel that landed during the run wins, and the run's outcome is discarded.
func (c *Clock) settle(ctx context.Context, schedule *models.Schedule, target models.ScheduleStatus, nextExecutionAt *time.Time) {
	if err := schedule.Transition(target, nextExecutionAt); err != nil {
		c.logger.Error("Invalid schedule transition",
			"schedule_id", schedule.ID,
			"from", string(schedule.Status),
			"to", string(target),
			"error", err)

		return
	}

	err := c.store.ScheduleRepository().SettleSchedule(ctx, schedule, models.ScheduleStatusRunning)
	if err != nil {
		if persistence.IsClaimConflict(err) {
			c.logger.Info("Schedule status changed during run, keeping it",
				"schedule_id", schedule.ID,
				"discarded_target", string(target))

			return
		}

		c.logger.Error("Failed to settle schedule", "schedule_id", schedule.ID, "error", err)
	}
}

// materializeDrip expands a drip schedule into one durable workflow instance
// per recipient and completes the schedule; the instances run on their own
// from here.
func (c *Clock) materializeDrip(ctx context.Context, runID string, schedule *models.Schedule) {
	logger := c.logger.With("schedule_id", schedule.ID, "run_id", runID)

	wf, err := dripWorkflow(schedule)
	if err != nil {
		logger.Error("Failed to build drip workflow", "error", err)
		c.settle(ctx, schedule, models.ScheduleStatusFailed, nil)

		return
	}

	if err := c.store.WorkflowRepository().SaveWorkflow(ctx, wf); err != nil {
		logger.Error("Failed to save drip workflow", "error", err)
		c.settle(ctx, schedule, models.ScheduleStatusFailed, nil)

		return
	}

	recipients, err := c.directory.Resolve(ctx, schedule.ListRef, protocol.DefaultExcludeStatuses())
	if err != nil {
		c.handleRunFailure(ctx, runID, schedule, c.now(), &dispatch.RecipientResolutionError{ListRef: schedule.ListRef, Err: err})
		return
	}

	if settings := schedule.Settings; settings.MaxRecipientsPerRun > 0 && len(recipients) > settings.MaxRecipientsPerRun {
		recipients = recipients[:settings.MaxRecipientsPerRun]
	}

	c.publish(ctx, runID, events.RunStarted{
		BaseEvent:  events.NewBaseEvent(events.RunStartedEvent, runID),
		RunID:      runID,
		ScheduleID: schedule.ID,
		Recipients: len(recipients),
	})

	created := 0

	for _, recipient := range recipients {
		instance, err := c.materializeInstance(ctx, wf, schedule, recipient)
		if err != nil {
			logger.Error("Failed to materialize drip instance", "recipient_id", recipient.ID, "error", err)
			continue
		}

		created++

		if err := c.runner.Run(ctx, instance); err != nil {
			logger.Error("Failed to start drip instance", "instance_id", instance.ID, "error", err)
		}
	}

	logger.Info("Drip schedule materialized", "recipients", len(recipients), "instances", created)
	c.settle(ctx, schedule, models.ScheduleStatusCompleted, nil)
}

func (c *Clock) materializeInstance(ctx context.Context, wf *models.Workflow, schedule *models.Schedule, recipient protocol.Recipient) (*models.WorkflowInstance, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate instance id: %w", err)
	}

	instance := &models.WorkflowInstance{
		ID:          id.String(),
		WorkflowID:  wf.ID,
		ScheduleID:  schedule.ID,
		RecipientID: recipient.ID,
		Status:      models.InstanceStatusActive,
		MaxRetries:  schedule.Settings.MaxRetries,
		TriggerData: map[string]any{"recipient": recipient.Attributes},
	}

	if err := c.store.InstanceRepository().SaveInstance(ctx, instance); err != nil {
		return nil, fmt.Errorf("failed to save instance: %w", err)
	}

	c.publish(ctx, instance.ID, events.InstanceCreated{
		BaseEvent:   events.NewBaseEvent(events.InstanceCreatedEvent, instance.ID),
		InstanceID:  instance.ID,
		WorkflowID:  wf.ID,
		RecipientID: recipient.ID,
	})

	return instance, nil
}

func (c *Clock) processResumableInstances(ctx context.Context) {
	now := c.now()

	resumable, err := c.store.InstanceRepository().ResumableInstances(ctx, now)
	if err != nil {
		c.logger.Error("Failed to query resumable instances", "error", err)
		return
	}

	if len(resumable) > 0 {
		c.logger.Info("Resuming instances", "count", len(resumable))
	}

	for _, instance := range resumable {
		err := c.store.InstanceRepository().ClaimInstance(ctx, instance.ID, models.InstanceStatusWaiting, models.InstanceStatusActive)
		if err != nil {
			if persistence.IsClaimConflict(err) {
				continue
			}

			c.logger.Error("Failed to claim instance", "instance_id", instance.ID, "error", err)

			continue
		}

		instance.Status = models.InstanceStatusActive
		instance.ResumeAt = nil

		if err := c.runner.Run(ctx, instance); err != nil {
			c.logger.Error("Failed to advance instance", "instance_id", instance.ID, "error", err)
		}
	}
}

func (c *Clock) publish(ctx context.Context, key string, event events.Event) {
	if c.publisher == nil {
		return
	}

	if err := c.publisher.Publish(ctx, key, event); err != nil {
		c.logger.Warn("Failed to publish event", "event_type", string(event.GetType()), "error", err)
	}
}
