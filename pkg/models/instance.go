package models

import (
	"errors"
	"time"
)

// InstanceStatus represents the lifecycle state of a workflow instance.
type InstanceStatus string

const (
	InstanceStatusActive    InstanceStatus = "active"    // Claimed or claimable for immediate advancement
	InstanceStatusWaiting   InstanceStatus = "waiting"   // Suspended at a delay until ResumeAt
	InstanceStatusCompleted InstanceStatus = "completed" // Walked off the end of the graph
	InstanceStatusAborted   InstanceStatus = "aborted"   // Condition dead-end, suppression, or retry budget exhausted
)

// WorkflowInstance is one per (workflow, recipient) execution. The cursor
// points at the node the executor will run next; node execution within one
// instance is strictly sequential.
type WorkflowInstance struct {
	ID          string         `json:"id"`
	WorkflowID  string         `json:"workflow_id"  validate:"required"`
	ScheduleID  string         `json:"schedule_id,omitempty"` // set when materialized from a drip schedule
	RecipientID string         `json:"recipient_id" validate:"required"`
	Cursor      string         `json:"cursor"` // current node id
	Status      InstanceStatus `json:"status"`
	ResumeAt    *time.Time     `json:"resume_at,omitempty"`   // non-nil iff status is waiting
	Attempts    int            `json:"attempts"`              // retries at the current node
	MaxRetries  int            `json:"max_retries,omitempty"` // per-node retry budget from the owning schedule; 0 means the default
	TriggerData map[string]any `json:"trigger_data,omitempty"`
	AbortReason string         `json:"abort_reason,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// ErrInvalidInstance is returned when instance validation fails.
var ErrInvalidInstance = errors.New("invalid workflow instance")

// IsTerminal reports whether the status admits no further transitions.
func (s InstanceStatus) IsTerminal() bool {
	return s == InstanceStatusCompleted || s == InstanceStatusAborted
}

// IsResumable reports whether a waiting instance is due at the given time.
func (i *WorkflowInstance) IsResumable(now time.Time) bool {
	return i.Status == InstanceStatusWaiting && i.ResumeAt != nil && !i.ResumeAt.After(now)
}

// Suspend parks the instance at its current cursor until resumeAt. No timer
// is held anywhere; any process may later pick the instance up.
func (i *WorkflowInstance) Suspend(resumeAt time.Time) {
	i.Status = InstanceStatusWaiting
	i.ResumeAt = &resumeAt
	i.UpdatedAt = time.Now().UTC()
}

// Advance moves the cursor to the next node and resets the retry counter.
func (i *WorkflowInstance) Advance(nodeID string) {
	i.Cursor = nodeID
	i.Attempts = 0
	i.ResumeAt = nil
	i.Status = InstanceStatusActive
	i.UpdatedAt = time.Now().UTC()
}

// Complete marks the instance finished.
func (i *WorkflowInstance) Complete() {
	i.Status = InstanceStatusCompleted
	i.ResumeAt = nil
	i.UpdatedAt = time.Now().UTC()
}

// Abort marks the instance terminally failed with a reason.
func (i *WorkflowInstance) Abort(reason string) {
	i.Status = InstanceStatusAborted
	i.AbortReason = reason
	i.ResumeAt = nil
	i.UpdatedAt = time.Now().UTC()
}

// Validate enforces the ResumeAt invariant.
func (i *WorkflowInstance) Validate() error {
	if (i.ResumeAt != nil) != (i.Status == InstanceStatusWaiting) {
		return ErrInvalidInstance
	}

	if i.WorkflowID == "" || i.RecipientID == "" {
		return ErrInvalidInstance
	}

	return nil
}
