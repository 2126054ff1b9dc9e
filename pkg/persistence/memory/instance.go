package memory

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/heraldkit/herald/pkg/models"
	"github.com/heraldkit/herald/pkg/persistence"
)

// InstanceRepository is the in-memory workflow instance store.
type InstanceRepository struct {
	store *Persistence
}

func (r *InstanceRepository) InstanceByID(_ context.Context, id string) (*models.WorkflowInstance, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	instance, ok := r.store.instances[id]
	if !ok {
		return nil, persistence.NewStoreError("InstanceByID", "instance", id, persistence.ErrInstanceNotFound)
	}

	return cloneInstance(instance), nil
}

func (r *InstanceRepository) SaveInstance(_ context.Context, instance *models.WorkflowInstance) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	now := time.Now().UTC()
	if instance.CreatedAt.IsZero() {
		instance.CreatedAt = now
	}

	instance.UpdatedAt = now

	if instance.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return err
		}

		instance.ID = id.String()
	}

	r.store.instances[instance.ID] = cloneInstance(instance)

	return nil
}

func (r *InstanceRepository) ResumableInstances(_ context.Context, now time.Time) ([]*models.WorkflowInstance, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var due []*models.WorkflowInstance

	for _, instance := range r.store.instances {
		if instance.IsResumable(now) {
			due = append(due, cloneInstance(instance))
		}
	}

	return due, nil
}

func (r *InstanceRepository) ClaimInstance(_ context.Context, id string, from, to models.InstanceStatus) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	instance, ok := r.store.instances[id]
	if !ok {
		return persistence.NewStoreError("ClaimInstance", "instance", id, persistence.ErrInstanceNotFound)
	}

	if instance.Status != from {
		return persistence.NewStoreError("ClaimInstance", "instance", id, persistence.ErrClaimConflict)
	}

	instance.Status = to
	if to != models.InstanceStatusWaiting {
		instance.ResumeAt = nil
	}

	instance.UpdatedAt = time.Now().UTC()

	return nil
}

func (r *InstanceRepository) CountInstancesSince(_ context.Context, workflowID, recipientID string, since time.Time) (int, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	count := 0

	for _, instance := range r.store.instances {
		if instance.WorkflowID == workflowID && instance.RecipientID == recipientID && !instance.CreatedAt.Before(since) {
			count++
		}
	}

	return count, nil
}

func cloneInstance(i *models.WorkflowInstance) *models.WorkflowInstance {
	out := *i

	if i.ResumeAt != nil {
		at := *i.ResumeAt
		out.ResumeAt = &at
	}

	return &out
}
