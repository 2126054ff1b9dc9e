// Package persistence provides the data storage abstraction for schedules,
// workflow definitions and workflow instances.
package persistence

import (
	"context"
	"time"

	"github.com/heraldkit/herald/pkg/models"
)

// ScheduleRepository stores schedule definitions. Claim operations are the
// engine's only mutual-exclusion primitive: conditional status updates that
// succeed for exactly one caller.
type ScheduleRepository interface {
	Schedules(ctx context.Context) ([]*models.Schedule, error)
	ScheduleByID(ctx context.Context, id string) (*models.Schedule, error)
	SaveSchedule(ctx context.Context, schedule *models.Schedule) error

	// DueSchedules returns schedules with status=scheduled and
	// nextExecutionAt <= now.
	DueSchedules(ctx context.Context, now time.Time) ([]*models.Schedule, error)

	// ClaimSchedule transitions status from -> to only if the stored status
	// still equals from. Returns ErrClaimConflict when another worker won.
	ClaimSchedule(ctx context.Context, id string, from, to models.ScheduleStatus) error

	// SettleSchedule writes the outcome of a claimed run (status,
	// nextExecutionAt, runRetries) only if the stored status still equals
	// from. Returns ErrClaimConflict when an admin transition landed while
	// the run was in flight; the caller must leave the stored status alone.
	SettleSchedule(ctx context.Context, schedule *models.Schedule, from models.ScheduleStatus) error
}

// WorkflowRepository stores workflow definitions.
type WorkflowRepository interface {
	Workflows(ctx context.Context) ([]*models.Workflow, error)
	ActiveWorkflows(ctx context.Context) ([]*models.Workflow, error)
	WorkflowByID(ctx context.Context, id string) (*models.Workflow, error)
	SaveWorkflow(ctx context.Context, workflow *models.Workflow) error
	DeleteWorkflow(ctx context.Context, id string) error
}

// InstanceRepository stores workflow instances.
type InstanceRepository interface {
	InstanceByID(ctx context.Context, id string) (*models.WorkflowInstance, error)
	SaveInstance(ctx context.Context, instance *models.WorkflowInstance) error

	// ResumableInstances returns instances with status=waiting and
	// resumeAt <= now.
	ResumableInstances(ctx context.Context, now time.Time) ([]*models.WorkflowInstance, error)

	// ClaimInstance is the instance-level compare-and-set, mirroring
	// ClaimSchedule.
	ClaimInstance(ctx context.Context, id string, from, to models.InstanceStatus) error

	// CountInstancesSince counts instances created for (workflow, recipient)
	// since the given time. Used by the trigger matcher's frequency cap.
	CountInstancesSince(ctx context.Context, workflowID, recipientID string, since time.Time) (int, error)
}

// Persistence aggregates the repositories behind one connection lifecycle.
type Persistence interface {
	ScheduleRepository() ScheduleRepository
	WorkflowRepository() WorkflowRepository
	InstanceRepository() InstanceRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}
