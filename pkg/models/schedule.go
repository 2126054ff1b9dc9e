// Package models defines the core domain models for campaign scheduling and dispatch.
package models

import (
	"errors"
	"time"
)

// ScheduleType determines how a campaign run is initiated.
type ScheduleType string

const (
	ScheduleTypeImmediate      ScheduleType = "immediate"       // Fire once as soon as claimed
	ScheduleTypeOneTime        ScheduleType = "one_time"        // Fire once at NextExecutionAt
	ScheduleTypeRecurring      ScheduleType = "recurring"       // Fire repeatedly per recurrence rule
	ScheduleTypeDrip           ScheduleType = "drip"            // Materialize per-recipient step sequences
	ScheduleTypeEventTriggered ScheduleType = "event_triggered" // Instances created by the trigger matcher
)

// ScheduleStatus represents the lifecycle state of a schedule.
type ScheduleStatus string

const (
	ScheduleStatusDraft     ScheduleStatus = "draft"
	ScheduleStatusScheduled ScheduleStatus = "scheduled"
	ScheduleStatusRunning   ScheduleStatus = "running"
	ScheduleStatusPaused    ScheduleStatus = "paused"
	ScheduleStatusCompleted ScheduleStatus = "completed"
	ScheduleStatusFailed    ScheduleStatus = "failed"
	ScheduleStatusCancelled ScheduleStatus = "cancelled"
)

// scheduleTransitions is the closed state machine for schedules.
// Terminal states have no outgoing transitions.
var scheduleTransitions = map[ScheduleStatus][]ScheduleStatus{
	ScheduleStatusDraft:     {ScheduleStatusScheduled, ScheduleStatusCancelled},
	ScheduleStatusScheduled: {ScheduleStatusRunning, ScheduleStatusPaused, ScheduleStatusCancelled, ScheduleStatusFailed},
	ScheduleStatusRunning:   {ScheduleStatusScheduled, ScheduleStatusCompleted, ScheduleStatusFailed, ScheduleStatusPaused, ScheduleStatusCancelled},
	ScheduleStatusPaused:    {ScheduleStatusScheduled, ScheduleStatusCancelled},
}

// DripStep is one step of a drip sequence: wait DelayFromPrevious, then send ContentRef.
type DripStep struct {
	DelayFromPrevious time.Duration `json:"delay_from_previous" validate:"min=0"`
	ContentRef        string        `json:"content_ref"         validate:"required"`
}

// ScheduleSettings bounds a single run.
type ScheduleSettings struct {
	MaxRecipientsPerRun int `json:"max_recipients_per_run"`
	ConcurrencyLimit    int `json:"concurrency_limit"`
	MaxRetries          int `json:"max_retries"`
}

// DefaultChannel is the delivery channel used when a schedule names none.
const DefaultChannel = "email"

// DefaultScheduleSettings are applied when a schedule omits explicit limits.
func DefaultScheduleSettings() ScheduleSettings {
	return ScheduleSettings{
		MaxRecipientsPerRun: 10000,
		ConcurrencyLimit:    8,
		MaxRetries:          3,
	}
}

// Schedule defines when and how a campaign run fires. Mutated only by the
// scheduler clock and by explicit pause/cancel operations.
type Schedule struct {
	ID              string           `json:"id"`
	Owner           string           `json:"owner"            validate:"required"`
	Name            string           `json:"name"             validate:"required,min=3"`
	Type            ScheduleType     `json:"type"             validate:"required,oneof=immediate one_time recurring drip event_triggered"`
	Status          ScheduleStatus   `json:"status"           validate:"required"`
	ContentRef      string           `json:"content_ref"`
	ListRef         string           `json:"list_ref"`
	Channel         string           `json:"channel,omitempty"` // delivery channel for plain sends, defaults to email

	WorkflowID      string           `json:"workflow_id,omitempty"` // drip/event-triggered schedules execute a workflow
	RecurrenceRule  *RecurrenceRule  `json:"recurrence_rule,omitempty"`
	DripSteps       []DripStep       `json:"drip_steps,omitempty"`
	NextExecutionAt *time.Time       `json:"next_execution_at,omitempty"`
	RunRetries      int              `json:"run_retries"` // consecutive run-level failures
	Settings        ScheduleSettings `json:"settings"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

var (
	// ErrInvalidSchedule is returned when schedule validation fails.
	ErrInvalidSchedule = errors.New("invalid schedule configuration")

	// ErrInvalidTransition is returned when a status change violates the state machine.
	ErrInvalidTransition = errors.New("invalid schedule status transition")
)

// IsTerminal reports whether the status admits no further transitions.
func (s ScheduleStatus) IsTerminal() bool {
	return s == ScheduleStatusCompleted || s == ScheduleStatusFailed || s == ScheduleStatusCancelled
}

// CanTransitionTo reports whether the state machine permits moving to target.
func (s *Schedule) CanTransitionTo(target ScheduleStatus) bool {
	for _, allowed := range scheduleTransitions[s.Status] {
		if allowed == target {
			return true
		}
	}

	return false
}

// Transition applies a status change, enforcing the state machine and the
// NextExecutionAt invariant: non-nil iff status is scheduled.
func (s *Schedule) Transition(target ScheduleStatus, nextExecutionAt *time.Time) error {
	if !s.CanTransitionTo(target) {
		return ErrInvalidTransition
	}

	s.Status = target
	if target == ScheduleStatusScheduled {
		s.NextExecutionAt = nextExecutionAt
	} else {
		s.NextExecutionAt = nil
	}

	s.UpdatedAt = time.Now().UTC()

	return nil
}

// DeliveryChannel returns the configured channel, or the default.
func (s *Schedule) DeliveryChannel() string {
	if s.Channel == "" {
		return DefaultChannel
	}

	return s.Channel
}

// IsDue reports whether this schedule should be claimed at the given time.
func (s *Schedule) IsDue(now time.Time) bool {
	return s.Status == ScheduleStatusScheduled && s.NextExecutionAt != nil && !s.NextExecutionAt.After(now)
}

// Validate performs structural validation beyond field tags.
func (s *Schedule) Validate() error {
	if (s.NextExecutionAt != nil) != (s.Status == ScheduleStatusScheduled) {
		return ErrInvalidSchedule
	}

	switch s.Type {
	case ScheduleTypeRecurring:
		if s.RecurrenceRule == nil {
			return ErrInvalidSchedule
		}

		if err := s.RecurrenceRule.Validate(); err != nil {
			return err
		}
	case ScheduleTypeDrip:
		if len(s.DripSteps) == 0 {
			return ErrInvalidSchedule
		}

		for _, step := range s.DripSteps {
			if step.ContentRef == "" || step.DelayFromPrevious < 0 {
				return ErrInvalidSchedule
			}
		}
	case ScheduleTypeEventTriggered:
		if s.WorkflowID == "" {
			return ErrInvalidSchedule
		}
	case ScheduleTypeImmediate, ScheduleTypeOneTime:
		if s.ContentRef == "" {
			return ErrInvalidSchedule
		}
	default:
		return ErrInvalidSchedule
	}

	return nil
}
