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

// InstanceRepository handles workflow instance database operations.
type InstanceRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewInstanceRepository creates a new instance repository.
func NewInstanceRepository(db *sql.DB, logger *slog.Logger) *InstanceRepository {
	return &InstanceRepository{db: db, logger: logger}
}

const instanceColumns = `
	id
  , workflow_id
  , schedule_id
  , recipient_id
  , cursor
  , status
  , resume_at
  , attempts
  , max_retries
  , trigger_data
  , abort_reason
  , created_at
  , updated_at
`

func (r *InstanceRepository) InstanceByID(ctx context.Context, id string) (*models.WorkflowInstance, error) {
	query := `SELECT ` + instanceColumns + ` FROM workflow_instances WHERE id = $1`

	instance, err := scanInstance(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewStoreError("InstanceByID", "instance", id, persistence.ErrInstanceNotFound)
		}

		return nil, fmt.Errorf("failed to scan instance: %w", err)
	}

	return instance, nil
}

func (r *InstanceRepository) SaveInstance(ctx context.Context, instance *models.WorkflowInstance) error {
	now := time.Now().UTC()

	if instance.CreatedAt.IsZero() {
		instance.CreatedAt = now
	}

	instance.UpdatedAt = now

	if instance.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate instance ID: %w", err)
		}

		instance.ID = id.String()
	}

	triggerJSON, err := marshalNullable(instance.TriggerData)
	if err != nil {
		return fmt.Errorf("failed to marshal trigger data: %w", err)
	}

	query := `
		INSERT INTO workflow_instances (
			id, workflow_id, schedule_id, recipient_id, cursor, status,
			resume_at, attempts, max_retries, trigger_data, abort_reason, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			cursor = EXCLUDED.cursor,
			status = EXCLUDED.status,
			resume_at = EXCLUDED.resume_at,
			attempts = EXCLUDED.attempts,
			max_retries = EXCLUDED.max_retries,
			trigger_data = EXCLUDED.trigger_data,
			abort_reason = EXCLUDED.abort_reason,
			updated_at = EXCLUDED.updated_at
	`

	_, err = r.db.ExecContext(ctx, query,
		instance.ID, instance.WorkflowID, instance.ScheduleID, instance.RecipientID,
		instance.Cursor, string(instance.Status), instance.ResumeAt, instance.Attempts,
		instance.MaxRetries, triggerJSON, instance.AbortReason, instance.CreatedAt, instance.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save instance: %w", err)
	}

	return nil
}

func (r *InstanceRepository) ResumableInstances(ctx context.Context, now time.Time) ([]*models.WorkflowInstance, error) {
	query := `
		SELECT ` + instanceColumns + `
		FROM workflow_instances
		WHERE status = 'waiting' AND resume_at <= $1
		ORDER BY resume_at ASC
	`

	rows, err := r.db.QueryContext(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("failed to query resumable instances: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	instances := make([]*models.WorkflowInstance, 0)

	for rows.Next() {
		instance, err := scanInstance(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan instance: %w", err)
		}

		instances = append(instances, instance)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating instances: %w", err)
	}

	return instances, nil
}

// ClaimInstance is the instance-level compare-and-set, identical in shape to
// ScheduleRepository.ClaimSchedule.
func (r *InstanceRepository) ClaimInstance(ctx context.Context, id string, from, to models.InstanceStatus) error {
	query := `
		UPDATE workflow_instances
		SET status = $1,
			resume_at = CASE WHEN $1 = 'waiting' THEN resume_at ELSE NULL END,
			updated_at = NOW()
		WHERE id = $2 AND status = $3
	`

	result, err := r.db.ExecContext(ctx, query, string(to), id, string(from))
	if err != nil {
		return fmt.Errorf("failed to claim instance: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read claim result: %w", err)
	}

	if affected == 0 {
		return persistence.NewStoreError("ClaimInstance", "instance", id, persistence.ErrClaimConflict)
	}

	return nil
}

func (r *InstanceRepository) CountInstancesSince(ctx context.Context, workflowID, recipientID string, since time.Time) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM workflow_instances
		WHERE workflow_id = $1 AND recipient_id = $2 AND created_at >= $3
	`

	var count int

	err := r.db.QueryRowContext(ctx, query, workflowID, recipientID, since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count instances: %w", err)
	}

	return count, nil
}

func scanInstance(row rowScanner) (*models.WorkflowInstance, error) {
	var (
		instance    models.WorkflowInstance
		status      string
		resumeAt    sql.NullTime
		triggerJSON []byte
	)

	err := row.Scan(
		&instance.ID, &instance.WorkflowID, &instance.ScheduleID, &instance.RecipientID,
		&instance.Cursor, &status, &resumeAt, &instance.Attempts,
		&instance.MaxRetries, &triggerJSON, &instance.AbortReason, &instance.CreatedAt, &instance.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	instance.Status = models.InstanceStatus(status)

	if resumeAt.Valid {
		at := resumeAt.Time.UTC()
		instance.ResumeAt = &at
	}

	if len(triggerJSON) > 0 {
		if err := json.Unmarshal(triggerJSON, &instance.TriggerData); err != nil {
			return nil, fmt.Errorf("failed to unmarshal trigger data: %w", err)
		}
	}

	return &instance, nil
}
