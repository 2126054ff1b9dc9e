package memory

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/heraldkit/herald/pkg/models"
	"github.com/heraldkit/herald/pkg/persistence"
)

// ScheduleRepository is the in-memory schedule store.
type ScheduleRepository struct {
	store *Persistence
}

func (r *ScheduleRepository) Schedules(_ context.Context) ([]*models.Schedule, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	out := make([]*models.Schedule, 0, len(r.store.schedules))
	for _, schedule := range r.store.schedules {
		out = append(out, cloneSchedule(schedule))
	}

	return out, nil
}

func (r *ScheduleRepository) ScheduleByID(_ context.Context, id string) (*models.Schedule, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	schedule, ok := r.store.schedules[id]
	if !ok {
		return nil, persistence.NewStoreError("ScheduleByID", "schedule", id, persistence.ErrScheduleNotFound)
	}

	return cloneSchedule(schedule), nil
}

func (r *ScheduleRepository) SaveSchedule(_ context.Context, schedule *models.Schedule) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	now := time.Now().UTC()
	if schedule.CreatedAt.IsZero() {
		schedule.CreatedAt = now
	}

	schedule.UpdatedAt = now

	if schedule.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return err
		}

		schedule.ID = id.String()
	}

	r.store.schedules[schedule.ID] = cloneSchedule(schedule)

	return nil
}

func (r *ScheduleRepository) DueSchedules(_ context.Context, now time.Time) ([]*models.Schedule, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var due []*models.Schedule

	for _, schedule := range r.store.schedules {
		if schedule.IsDue(now) {
			due = append(due, cloneSchedule(schedule))
		}
	}

	return due, nil
}

func (r *ScheduleRepository) ClaimSchedule(_ context.Context, id string, from, to models.ScheduleStatus) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	schedule, ok := r.store.schedules[id]
	if !ok {
		return persistence.NewStoreError("ClaimSchedule", "schedule", id, persistence.ErrScheduleNotFound)
	}

	if schedule.Status != from {
		return persistence.NewStoreError("ClaimSchedule", "schedule", id, persistence.ErrClaimConflict)
	}

	schedule.Status = to
	if to != models.ScheduleStatusScheduled {
		schedule.NextExecutionAt = nil
	}

	schedule.UpdatedAt = time.Now().UTC()

	return nil
}

func (r *ScheduleRepository) SettleSchedule(_ context.Context, schedule *models.Schedule, from models.ScheduleStatus) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	stored, ok := r.store.schedules[schedule.ID]
	if !ok {
		return persistence.NewStoreError("SettleSchedule", "schedule", schedule.ID, persistence.ErrScheduleNotFound)
	}

	if stored.Status != from {
		return persistence.NewStoreError("SettleSchedule", "schedule", schedule.ID, persistence.ErrClaimConflict)
	}

	stored.Status = schedule.Status

	stored.NextExecutionAt = nil
	if schedule.NextExecutionAt != nil {
		at := *schedule.NextExecutionAt
		stored.NextExecutionAt = &at
	}

	stored.RunRetries = schedule.RunRetries
	stored.UpdatedAt = time.Now().UTC()

	return nil
}

func cloneSchedule(s *models.Schedule) *models.Schedule {
	out := *s

	if s.NextExecutionAt != nil {
		at := *s.NextExecutionAt
		out.NextExecutionAt = &at
	}

	if s.RecurrenceRule != nil {
		rule := *s.RecurrenceRule
		out.RecurrenceRule = &rule
	}

	if len(s.DripSteps) > 0 {
		out.DripSteps = append([]models.DripStep(nil), s.DripSteps...)
	}

	return &out
}
