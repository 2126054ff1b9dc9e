// Package services implements the admin-facing operations on schedules,
// workflows and trigger events, between the HTTP handlers and the stores.
package services

import (
	"errors"
	"fmt"

	"github.com/heraldkit/herald/pkg/models"
)

// Validation errors (400 Bad Request).
var (
	ErrInvalidRequest     = errors.New("invalid request")
	ErrFireTimeRequired   = errors.New("one-time schedules need a fire time to activate")
	ErrFireTimeInPast     = errors.New("fire time is in the past")
	ErrNotClockDriven     = errors.New("event-triggered campaigns activate through their workflow")
	ErrInvalidStatus      = errors.New("invalid status filter")
	ErrRecipientRequired  = errors.New("trigger events need a recipient id")
	ErrEventTypeRequired  = errors.New("trigger events need an event type")
)

// Business conflicts (409 Conflict).
var (
	ErrNotPausable     = errors.New("schedule cannot be paused in its current status")
	ErrNotPaused       = errors.New("schedule is not paused")
	ErrTerminal        = errors.New("schedule is already in a terminal status")
	ErrWorkflowNotDraft = errors.New("only draft workflows can be modified")
	ErrWorkflowArchived = errors.New("workflow is archived")
)

// ServiceError wraps service-level errors with operation context.
type ServiceError struct {
	Op      string
	Message string
	Err     error
}

func (e *ServiceError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}

	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// IsValidationError reports whether err should map to HTTP 400.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrFireTimeRequired) ||
		errors.Is(err, ErrFireTimeInPast) ||
		errors.Is(err, ErrNotClockDriven) ||
		errors.Is(err, ErrInvalidStatus) ||
		errors.Is(err, ErrRecipientRequired) ||
		errors.Is(err, ErrEventTypeRequired) ||
		errors.Is(err, models.ErrInvalidSchedule) ||
		errors.Is(err, models.ErrInvalidWorkflow) ||
		errors.Is(err, models.ErrInvalidNode) ||
		errors.Is(err, models.ErrInvalidRecurrenceRule)
}

// IsConflictError reports whether err should map to HTTP 409.
func IsConflictError(err error) bool {
	return errors.Is(err, ErrNotPausable) ||
		errors.Is(err, ErrNotPaused) ||
		errors.Is(err, ErrTerminal) ||
		errors.Is(err, ErrWorkflowNotDraft) ||
		errors.Is(err, ErrWorkflowArchived) ||
		errors.Is(err, models.ErrInvalidTransition)
}
