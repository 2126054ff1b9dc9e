package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/heraldkit/herald/pkg/models"
	"github.com/heraldkit/herald/pkg/persistence"
)

// Workflow implements the admin operations on journey definitions.
type Workflow struct {
	store  persistence.Persistence
	logger *slog.Logger
}

func NewWorkflow(store persistence.Persistence, logger *slog.Logger) *Workflow {
	return &Workflow{
		store:  store,
		logger: logger.With("module", "workflow_service"),
	}
}

// Create validates the raw workflow document against the schema, then the
// graph invariants, and persists it as a draft.
func (w *Workflow) Create(ctx context.Context, document []byte) (*models.Workflow, error) {
	var raw map[string]any

	if err := json.Unmarshal(document, &raw); err != nil {
		return nil, &ServiceError{Op: "create_workflow", Message: err.Error(), Err: ErrInvalidRequest}
	}

	if err := models.ValidateWorkflowDocument(raw); err != nil {
		return nil, err
	}

	var wf models.Workflow

	if err := json.Unmarshal(document, &wf); err != nil {
		return nil, &ServiceError{Op: "create_workflow", Message: err.Error(), Err: ErrInvalidRequest}
	}

	wf.Status = models.WorkflowStatusDraft

	if err := wf.Validate(); err != nil {
		return nil, err
	}

	for _, node := range wf.Nodes {
		if err := node.Validate(); err != nil {
			return nil, err
		}
	}

	if err := w.store.WorkflowRepository().SaveWorkflow(ctx, &wf); err != nil {
		return nil, err
	}

	w.logger.Info("Workflow created", "workflow_id", wf.ID, "nodes", len(wf.Nodes))

	return &wf, nil
}

// Activate makes a draft workflow matchable. The graph is re-validated so an
// invalid definition can never go live.
func (w *Workflow) Activate(ctx context.Context, id string) (*models.Workflow, error) {
	wf, err := w.store.WorkflowRepository().WorkflowByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if wf.Status == models.WorkflowStatusArchived {
		return nil, ErrWorkflowArchived
	}

	if err := wf.Validate(); err != nil {
		return nil, err
	}

	wf.Status = models.WorkflowStatusActive

	if err := w.store.WorkflowRepository().SaveWorkflow(ctx, wf); err != nil {
		return nil, err
	}

	w.logger.Info("Workflow activated", "workflow_id", wf.ID)

	return wf, nil
}

// Archive retires a workflow from matching. Existing instances keep running
// against the stored graph.
func (w *Workflow) Archive(ctx context.Context, id string) (*models.Workflow, error) {
	wf, err := w.store.WorkflowRepository().WorkflowByID(ctx, id)
	if err != nil {
		return nil, err
	}

	wf.Status = models.WorkflowStatusArchived

	if err := w.store.WorkflowRepository().SaveWorkflow(ctx, wf); err != nil {
		return nil, err
	}

	w.logger.Info("Workflow archived", "workflow_id", wf.ID)

	return wf, nil
}

// Delete removes a draft workflow. Anything that ever went live is archived
// instead, because instances may still reference the graph.
func (w *Workflow) Delete(ctx context.Context, id string) error {
	wf, err := w.store.WorkflowRepository().WorkflowByID(ctx, id)
	if err != nil {
		return err
	}

	if wf.Status != models.WorkflowStatusDraft {
		return fmt.Errorf("%w: workflow %s is %s", ErrWorkflowNotDraft, id, wf.Status)
	}

	return w.store.WorkflowRepository().DeleteWorkflow(ctx, id)
}

func (w *Workflow) List(ctx context.Context) ([]*models.Workflow, error) {
	return w.store.WorkflowRepository().Workflows(ctx)
}

func (w *Workflow) Get(ctx context.Context, id string) (*models.Workflow, error) {
	return w.store.WorkflowRepository().WorkflowByID(ctx, id)
}
