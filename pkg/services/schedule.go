package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/heraldkit/herald/pkg/models"
	"github.com/heraldkit/herald/pkg/persistence"
	"github.com/heraldkit/herald/pkg/recurrence"
)

// Schedule implements the admin operations on campaign schedules.
type Schedule struct {
	store    persistence.Persistence
	validate *validator.Validate
	logger   *slog.Logger
	now      func() time.Time
}

func NewSchedule(store persistence.Persistence, logger *slog.Logger) *Schedule {
	return &Schedule{
		store:    store,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger.With("module", "schedule_service"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Create persists a new schedule in draft. Missing settings fall back to the
// defaults; the fire time is supplied at activation, not here.
func (s *Schedule) Create(ctx context.Context, schedule *models.Schedule) (*models.Schedule, error) {
	schedule.Status = models.ScheduleStatusDraft
	schedule.NextExecutionAt = nil
	schedule.RunRetries = 0

	defaults := models.DefaultScheduleSettings()

	if schedule.Settings.MaxRecipientsPerRun <= 0 {
		schedule.Settings.MaxRecipientsPerRun = defaults.MaxRecipientsPerRun
	}

	if schedule.Settings.ConcurrencyLimit <= 0 {
		schedule.Settings.ConcurrencyLimit = defaults.ConcurrencyLimit
	}

	if schedule.Settings.MaxRetries <= 0 {
		schedule.Settings.MaxRetries = defaults.MaxRetries
	}

	if err := s.validate.Struct(schedule); err != nil {
		return nil, &ServiceError{Op: "create_schedule", Message: err.Error(), Err: ErrInvalidRequest}
	}

	if err := schedule.Validate(); err != nil {
		return nil, err
	}

	if err := s.store.ScheduleRepository().SaveSchedule(ctx, schedule); err != nil {
		return nil, err
	}

	s.logger.Info("Schedule created", "schedule_id", schedule.ID, "type", string(schedule.Type))

	return schedule, nil
}

// Activate moves a draft schedule onto the clock. One-time schedules need an
// explicit fire time; recurring schedules derive theirs from the rule;
// immediate and drip schedules fire on the next tick.
func (s *Schedule) Activate(ctx context.Context, id string, fireAt *time.Time) (*models.Schedule, error) {
	schedule, err := s.store.ScheduleRepository().ScheduleByID(ctx, id)
	if err != nil {
		return nil, err
	}

	now := s.now()

	var next *time.Time

	switch schedule.Type {
	case models.ScheduleTypeOneTime:
		if fireAt == nil {
			return nil, ErrFireTimeRequired
		}

		if fireAt.Before(now) {
			return nil, ErrFireTimeInPast
		}

		next = fireAt
	case models.ScheduleTypeRecurring:
		next, err = recurrence.Next(schedule.RecurrenceRule, now)
		if err != nil {
			return nil, err
		}

		if next == nil {
			return nil, ErrFireTimeInPast
		}
	case models.ScheduleTypeImmediate, models.ScheduleTypeDrip:
		at := now
		if fireAt != nil && fireAt.After(now) {
			at = *fireAt
		}

		next = &at
	case models.ScheduleTypeEventTriggered:
		// These have no due time; activating the linked workflow is what
		// arms them.
		return nil, ErrNotClockDriven
	}

	if err := schedule.Transition(models.ScheduleStatusScheduled, next); err != nil {
		return nil, err
	}

	if err := s.store.ScheduleRepository().SaveSchedule(ctx, schedule); err != nil {
		return nil, err
	}

	s.logger.Info("Schedule activated", "schedule_id", schedule.ID, "next_execution_at", *next)

	return schedule, nil
}

// Pause takes a schedule off the clock. A running schedule keeps its
// in-flight run; pausing only stops future claims.
func (s *Schedule) Pause(ctx context.Context, id string) (*models.Schedule, error) {
	repo := s.store.ScheduleRepository()

	err := repo.ClaimSchedule(ctx, id, models.ScheduleStatusScheduled, models.ScheduleStatusPaused)
	if persistence.IsClaimConflict(err) {
		err = repo.ClaimSchedule(ctx, id, models.ScheduleStatusRunning, models.ScheduleStatusPaused)
	}

	if err != nil {
		if persistence.IsClaimConflict(err) {
			return nil, ErrNotPausable
		}

		return nil, err
	}

	s.logger.Info("Schedule paused", "schedule_id", id)

	return repo.ScheduleByID(ctx, id)
}

// Resume puts a paused schedule back on the clock with a freshly computed
// due time; the one lost at pause is gone for good.
func (s *Schedule) Resume(ctx context.Context, id string) (*models.Schedule, error) {
	schedule, err := s.store.ScheduleRepository().ScheduleByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if schedule.Status != models.ScheduleStatusPaused {
		return nil, ErrNotPaused
	}

	now := s.now()
	next := &now

	if schedule.Type == models.ScheduleTypeRecurring {
		next, err = recurrence.Next(schedule.RecurrenceRule, now)
		if err != nil {
			return nil, err
		}

		if next == nil {
			// The rule ended while paused; nothing left to fire.
			if err := schedule.Transition(models.ScheduleStatusCancelled, nil); err != nil {
				return nil, err
			}

			return schedule, s.store.ScheduleRepository().SaveSchedule(ctx, schedule)
		}
	}

	if err := schedule.Transition(models.ScheduleStatusScheduled, next); err != nil {
		return nil, err
	}

	if err := s.store.ScheduleRepository().SaveSchedule(ctx, schedule); err != nil {
		return nil, err
	}

	s.logger.Info("Schedule resumed", "schedule_id", id, "next_execution_at", *next)

	return schedule, nil
}

// Cancel terminally stops a schedule. In-flight dispatch marks its remaining
// recipients skipped; cancellation never claws back sent messages.
func (s *Schedule) Cancel(ctx context.Context, id string) (*models.Schedule, error) {
	schedule, err := s.store.ScheduleRepository().ScheduleByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if schedule.Status.IsTerminal() {
		return nil, ErrTerminal
	}

	if err := schedule.Transition(models.ScheduleStatusCancelled, nil); err != nil {
		return nil, err
	}

	if err := s.store.ScheduleRepository().SaveSchedule(ctx, schedule); err != nil {
		return nil, err
	}

	s.logger.Info("Schedule cancelled", "schedule_id", id)

	return schedule, nil
}

func (s *Schedule) List(ctx context.Context) ([]*models.Schedule, error) {
	return s.store.ScheduleRepository().Schedules(ctx)
}

func (s *Schedule) Get(ctx context.Context, id string) (*models.Schedule, error) {
	return s.store.ScheduleRepository().ScheduleByID(ctx, id)
}
