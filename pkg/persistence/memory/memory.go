// Package memory provides an in-memory persistence implementation used by
// tests and local development. Claim semantics match the SQL implementation:
// compare-and-set on the status field under a single mutex.
package memory

import (
	"context"
	"sync"

	"github.com/heraldkit/herald/pkg/models"
	"github.com/heraldkit/herald/pkg/persistence"
)

// Persistence implements persistence.Persistence backed by process memory.
type Persistence struct {
	mu        sync.RWMutex
	schedules map[string]*models.Schedule
	workflows map[string]*models.Workflow
	instances map[string]*models.WorkflowInstance

	scheduleRepo *ScheduleRepository
	workflowRepo *WorkflowRepository
	instanceRepo *InstanceRepository
}

// NewPersistence creates an empty in-memory store.
func NewPersistence() *Persistence {
	p := &Persistence{
		schedules: make(map[string]*models.Schedule),
		workflows: make(map[string]*models.Workflow),
		instances: make(map[string]*models.WorkflowInstance),
	}

	p.scheduleRepo = &ScheduleRepository{store: p}
	p.workflowRepo = &WorkflowRepository{store: p}
	p.instanceRepo = &InstanceRepository{store: p}

	return p
}

func (p *Persistence) ScheduleRepository() persistence.ScheduleRepository {
	return p.scheduleRepo
}

func (p *Persistence) WorkflowRepository() persistence.WorkflowRepository {
	return p.workflowRepo
}

func (p *Persistence) InstanceRepository() persistence.InstanceRepository {
	return p.instanceRepo
}

func (p *Persistence) HealthCheck(_ context.Context) error {
	return nil
}

func (p *Persistence) Close(_ context.Context) error {
	return nil
}
