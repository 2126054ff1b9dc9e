package memory

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/heraldkit/herald/pkg/models"
	"github.com/heraldkit/herald/pkg/persistence"
)

// WorkflowRepository is the in-memory workflow definition store.
type WorkflowRepository struct {
	store *Persistence
}

func (r *WorkflowRepository) Workflows(_ context.Context) ([]*models.Workflow, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	out := make([]*models.Workflow, 0, len(r.store.workflows))
	for _, workflow := range r.store.workflows {
		out = append(out, workflow)
	}

	return out, nil
}

func (r *WorkflowRepository) ActiveWorkflows(_ context.Context) ([]*models.Workflow, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var active []*models.Workflow

	for _, workflow := range r.store.workflows {
		if workflow.Status == models.WorkflowStatusActive {
			active = append(active, workflow)
		}
	}

	return active, nil
}

func (r *WorkflowRepository) WorkflowByID(_ context.Context, id string) (*models.Workflow, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	workflow, ok := r.store.workflows[id]
	if !ok {
		return nil, persistence.NewStoreError("WorkflowByID", "workflow", id, persistence.ErrWorkflowNotFound)
	}

	return workflow, nil
}

func (r *WorkflowRepository) SaveWorkflow(_ context.Context, workflow *models.Workflow) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	now := time.Now().UTC()
	if workflow.CreatedAt.IsZero() {
		workflow.CreatedAt = now
	}

	workflow.UpdatedAt = now

	if workflow.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return err
		}

		workflow.ID = id.String()
	}

	r.store.workflows[workflow.ID] = workflow

	return nil
}

func (r *WorkflowRepository) DeleteWorkflow(_ context.Context, id string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if _, ok := r.store.workflows[id]; !ok {
		return persistence.NewStoreError("DeleteWorkflow", "workflow", id, persistence.ErrWorkflowNotFound)
	}

	delete(r.store.workflows, id)

	return nil
}
