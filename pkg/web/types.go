// Package web provides the HTTP handlers for the herald admin API.
package web

import (
	"time"

	"github.com/heraldkit/herald/pkg/models"
)

// CreateScheduleRequest is the request body for creating a schedule.
type CreateScheduleRequest struct {
	Owner          string                  `json:"owner"           validate:"required"`
	Name           string                  `json:"name"            validate:"required,min=3"`
	Type           string                  `json:"type"            validate:"required,oneof=immediate one_time recurring drip event_triggered"`
	ContentRef     string                  `json:"content_ref"`
	ListRef        string                  `json:"list_ref"`
	Channel        string                  `json:"channel"`
	WorkflowID     string                  `json:"workflow_id"`
	RecurrenceRule *models.RecurrenceRule  `json:"recurrence_rule,omitempty"`
	DripSteps      []models.DripStep       `json:"drip_steps,omitempty"`
	Settings       models.ScheduleSettings `json:"settings"`
}

// ToModel builds the draft schedule from the request.
func (r *CreateScheduleRequest) ToModel() *models.Schedule {
	return &models.Schedule{
		Owner:          r.Owner,
		Name:           r.Name,
		Type:           models.ScheduleType(r.Type),
		Status:         models.ScheduleStatusDraft,
		ContentRef:     r.ContentRef,
		ListRef:        r.ListRef,
		Channel:        r.Channel,
		WorkflowID:     r.WorkflowID,
		RecurrenceRule: r.RecurrenceRule,
		DripSteps:      r.DripSteps,
		Settings:       r.Settings,
	}
}

// ActivateScheduleRequest is the optional request body for activation.
type ActivateScheduleRequest struct {
	FireAt *time.Time `json:"fire_at,omitempty"`
}

// SubmitTriggerEventRequest is the request body for posting a trigger event.
type SubmitTriggerEventRequest struct {
	EventID     string         `json:"event_id,omitempty"`
	RecipientID string         `json:"recipient_id" validate:"required"`
	EventType   string         `json:"event_type"   validate:"required"`
	Payload     map[string]any `json:"payload,omitempty"`
	OccurredAt  time.Time      `json:"occurred_at,omitzero"`
}

// ToModel builds the trigger event from the request.
func (r *SubmitTriggerEventRequest) ToModel() *models.TriggerEvent {
	return &models.TriggerEvent{
		EventID:     r.EventID,
		RecipientID: r.RecipientID,
		EventType:   r.EventType,
		Payload:     r.Payload,
		OccurredAt:  r.OccurredAt,
	}
}
