package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/heraldkit/herald/pkg/models"
	"github.com/heraldkit/herald/pkg/persistence"
)

// ScheduleRepository handles schedule-related database operations.
type ScheduleRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewScheduleRepository creates a new schedule repository.
func NewScheduleRepository(db *sql.DB, logger *slog.Logger) *ScheduleRepository {
	return &ScheduleRepository{db: db, logger: logger}
}

const scheduleColumns = `
	id
  , owner
  , name
  , type
  , status
  , content_ref
  , list_ref
  , channel
  , workflow_id
  , recurrence_rule
  , drip_steps
  , next_execution_at
  , run_retries
  , settings
  , created_at
  , updated_at
`

func (r *ScheduleRepository) Schedules(ctx context.Context) ([]*models.Schedule, error) {
	query := `SELECT ` + scheduleColumns + ` FROM schedules ORDER BY created_at DESC`

	return r.querySchedules(ctx, query)
}

func (r *ScheduleRepository) DueSchedules(ctx context.Context, now time.Time) ([]*models.Schedule, error) {
	query := `
		SELECT ` + scheduleColumns + `
		FROM schedules
		WHERE status = 'scheduled' AND next_execution_at <= $1
		ORDER BY next_execution_at ASC
	`

	return r.querySchedules(ctx, query, now)
}

func (r *ScheduleRepository) querySchedules(ctx context.Context, query string, args ...any) ([]*models.Schedule, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query schedules: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	schedules := make([]*models.Schedule, 0)

	for rows.Next() {
		schedule, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan schedule: %w", err)
		}

		schedules = append(schedules, schedule)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating schedules: %w", err)
	}

	return schedules, nil
}

func (r *ScheduleRepository) ScheduleByID(ctx context.Context, id string) (*models.Schedule, error) {
	query := `SELECT ` + scheduleColumns + ` FROM schedules WHERE id = $1`

	schedule, err := scanSchedule(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewStoreError("ScheduleByID", "schedule", id, persistence.ErrScheduleNotFound)
		}

		return nil, fmt.Errorf("failed to scan schedule: %w", err)
	}

	return schedule, nil
}

func (r *ScheduleRepository) SaveSchedule(ctx context.Context, schedule *models.Schedule) error {
	now := time.Now().UTC()

	if schedule.CreatedAt.IsZero() {
		schedule.CreatedAt = now
	}

	schedule.UpdatedAt = now

	if schedule.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate schedule ID: %w", err)
		}

		schedule.ID = id.String()
	}

	ruleJSON, err := marshalNullable(schedule.RecurrenceRule)
	if err != nil {
		return fmt.Errorf("failed to marshal recurrence rule: %w", err)
	}

	stepsJSON, err := marshalNullable(schedule.DripSteps)
	if err != nil {
		return fmt.Errorf("failed to marshal drip steps: %w", err)
	}

	settingsJSON, err := json.Marshal(schedule.Settings)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}

	query := `
		INSERT INTO schedules (
			id, owner, name, type, status, content_ref, list_ref, channel, workflow_id,
			recurrence_rule, drip_steps, next_execution_at, run_retries,
			settings, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (id) DO UPDATE SET
			owner = EXCLUDED.owner,
			name = EXCLUDED.name,
			type = EXCLUDED.type,
			status = EXCLUDED.status,
			content_ref = EXCLUDED.content_ref,
			list_ref = EXCLUDED.list_ref,
			channel = EXCLUDED.channel,
			workflow_id = EXCLUDED.workflow_id,
			recurrence_rule = EXCLUDED.recurrence_rule,
			drip_steps = EXCLUDED.drip_steps,
			next_execution_at = EXCLUDED.next_execution_at,
			run_retries = EXCLUDED.run_retries,
			settings = EXCLUDED.settings,
			updated_at = EXCLUDED.updated_at
	`

	_, err = r.db.ExecContext(ctx, query,
		schedule.ID, schedule.Owner, schedule.Name, string(schedule.Type), string(schedule.Status),
		schedule.ContentRef, schedule.ListRef, schedule.Channel, schedule.WorkflowID,
		ruleJSON, stepsJSON, schedule.NextExecutionAt, schedule.RunRetries,
		settingsJSON, schedule.CreatedAt, schedule.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save schedule: %w", err)
	}

	return nil
}

// ClaimSchedule is the atomic compare-and-set on the status column. The
// conditional UPDATE succeeds for exactly one concurrent caller; everyone
// else observes zero affected rows and gets ErrClaimConflict.
func (r *ScheduleRepository) ClaimSchedule(ctx context.Context, id string, from, to models.ScheduleStatus) error {
	query := `
		UPDATE schedules
		SET status = $1,
			next_execution_at = CASE WHEN $1 = 'scheduled' THEN next_execution_at ELSE NULL END,
			updated_at = NOW()
		WHERE id = $2 AND status = $3
	`

	result, err := r.db.ExecContext(ctx, query, string(to), id, string(from))
	if err != nil {
		return fmt.Errorf("failed to claim schedule: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read claim result: %w", err)
	}

	if affected == 0 {
		return persistence.NewStoreError("ClaimSchedule", "schedule", id, persistence.ErrClaimConflict)
	}

	return nil
}

// SettleSchedule persists a run's outcome behind the same conditional-update
// shape as ClaimSchedule, so an admin pause or cancel that landed during the
// run is never overwritten.
func (r *ScheduleRepository) SettleSchedule(ctx context.Context, schedule *models.Schedule, from models.ScheduleStatus) error {
	query := `
		UPDATE schedules
		SET status = $1,
			next_execution_at = $2,
			run_retries = $3,
			updated_at = NOW()
		WHERE id = $4 AND status = $5
	`

	result, err := r.db.ExecContext(ctx, query,
		string(schedule.Status), schedule.NextExecutionAt, schedule.RunRetries,
		schedule.ID, string(from),
	)
	if err != nil {
		return fmt.Errorf("failed to settle schedule: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read settle result: %w", err)
	}

	if affected == 0 {
		return persistence.NewStoreError("SettleSchedule", "schedule", schedule.ID, persistence.ErrClaimConflict)
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSchedule(row rowScanner) (*models.Schedule, error) {
	var (
		schedule     models.Schedule
		scheduleType string
		status       string
		ruleJSON     []byte
		stepsJSON    []byte
		nextAt       sql.NullTime
		settingsJSON []byte
	)

	err := row.Scan(
		&schedule.ID, &schedule.Owner, &schedule.Name, &scheduleType, &status,
		&schedule.ContentRef, &schedule.ListRef, &schedule.Channel, &schedule.WorkflowID,
		&ruleJSON, &stepsJSON, &nextAt, &schedule.RunRetries,
		&settingsJSON, &schedule.CreatedAt, &schedule.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	schedule.Type = models.ScheduleType(scheduleType)
	schedule.Status = models.ScheduleStatus(status)

	if nextAt.Valid {
		at := nextAt.Time.UTC()
		schedule.NextExecutionAt = &at
	}

	if len(ruleJSON) > 0 {
		if err := json.Unmarshal(ruleJSON, &schedule.RecurrenceRule); err != nil {
			return nil, fmt.Errorf("failed to unmarshal recurrence rule: %w", err)
		}
	}

	if len(stepsJSON) > 0 {
		if err := json.Unmarshal(stepsJSON, &schedule.DripSteps); err != nil {
			return nil, fmt.Errorf("failed to unmarshal drip steps: %w", err)
		}
	}

	if len(settingsJSON) > 0 {
		if err := json.Unmarshal(settingsJSON, &schedule.Settings); err != nil {
			return nil, fmt.Errorf("failed to unmarshal settings: %w", err)
		}
	}

	return &schedule, nil
}

// marshalNullable marshals v to JSON, returning nil for nil pointers and
// empty slices so the column stays NULL.
func marshalNullable(v any) ([]byte, error) {
	switch value := v.(type) {
	case *models.RecurrenceRule:
		if value == nil {
			return nil, nil
		}
	case []models.DripStep:
		if len(value) == 0 {
			return nil, nil
		}
	case map[string]any:
		if len(value) == 0 {
			return nil, nil
		}
	}

	return json.Marshal(v)
}
