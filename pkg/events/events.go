// Package events defines event types for campaign run and workflow instance
// lifecycle notifications.
package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/heraldkit/herald/pkg/models"
)

type EventType string

// Kafka topics.
const Topic = "herald.events"                      // Engine lifecycle events
const TriggerEventTopic = "herald.trigger.events"  // Inbound trigger events from producers
const CallbackTopic = "herald.transport.callbacks" // Asynchronous delivery/bounce/complaint callbacks

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Run lifecycle events.
	RunStartedEvent   EventType = "run.started"
	RunCompletedEvent EventType = "run.completed"
	RunFailedEvent    EventType = "run.failed"

	// Per-recipient dispatch events.
	DispatchRecordedEvent EventType = "dispatch.recorded"

	// Workflow instance lifecycle events.
	InstanceCreatedEvent   EventType = "instance.created"
	InstanceAdvancedEvent  EventType = "instance.advanced"
	InstanceSuspendedEvent EventType = "instance.suspended"
	InstanceCompletedEvent EventType = "instance.completed"
	InstanceAbortedEvent   EventType = "instance.aborted"

	// Inbound events.
	TriggerEventReceivedEvent EventType = "trigger.event.received"
	TransportCallbackEvent    EventType = "transport.callback"
)

type Event interface {
	GetType() EventType
}

type BaseEvent struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	WorkerID  string         `json:"worker_id,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

func NewBaseEvent(eventType EventType, key string) BaseEvent {
	return BaseEvent{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Metadata:  map[string]any{EventMetadataKey: key},
	}
}

type RunStarted struct {
	BaseEvent

	RunID      string `json:"run_id"`
	ScheduleID string `json:"schedule_id"`
	Recipients int    `json:"recipients"`
}

func (e RunStarted) GetType() EventType { return RunStartedEvent }

type RunCompleted struct {
	BaseEvent

	RunID      string            `json:"run_id"`
	ScheduleID string            `json:"schedule_id"`
	Summary    models.RunSummary `json:"summary"`
	Duration   time.Duration     `json:"duration"`
}

func (e RunCompleted) GetType() EventType { return RunCompletedEvent }

type RunFailed struct {
	BaseEvent

	RunID      string `json:"run_id"`
	ScheduleID string `json:"schedule_id"`
	Error      string `json:"error"`
	Retries    int    `json:"retries"`
}

func (e RunFailed) GetType() EventType { return RunFailedEvent }

type DispatchRecorded struct {
	BaseEvent

	RunID       string         `json:"run_id"`
	RecipientID string         `json:"recipient_id"`
	Outcome     models.Outcome `json:"outcome"`
	Error       string         `json:"error,omitempty"`
}

func (e DispatchRecorded) GetType() EventType { return DispatchRecordedEvent }

type InstanceCreated struct {
	BaseEvent

	InstanceID  string `json:"instance_id"`
	WorkflowID  string `json:"workflow_id"`
	RecipientID string `json:"recipient_id"`
}

func (e InstanceCreated) GetType() EventType { return InstanceCreatedEvent }

type InstanceAdvanced struct {
	BaseEvent

	InstanceID string `json:"instance_id"`
	WorkflowID string `json:"workflow_id"`
	NodeID     string `json:"node_id"`
	NodeKind   string `json:"node_kind"`
}

func (e InstanceAdvanced) GetType() EventType { return InstanceAdvancedEvent }

type InstanceSuspended struct {
	BaseEvent

	InstanceID string    `json:"instance_id"`
	WorkflowID string    `json:"workflow_id"`
	NodeID     string    `json:"node_id"`
	ResumeAt   time.Time `json:"resume_at"`
}

func (e InstanceSuspended) GetType() EventType { return InstanceSuspendedEvent }

type InstanceCompleted struct {
	BaseEvent

	InstanceID string `json:"instance_id"`
	WorkflowID string `json:"workflow_id"`
}

func (e InstanceCompleted) GetType() EventType { return InstanceCompletedEvent }

type InstanceAborted struct {
	BaseEvent

	InstanceID string `json:"instance_id"`
	WorkflowID string `json:"workflow_id"`
	Reason     string `json:"reason"`
}

func (e InstanceAborted) GetType() EventType { return InstanceAbortedEvent }

// TriggerEventReceived carries an inbound trigger event through the bus to
// the matcher.
type TriggerEventReceived struct {
	BaseEvent

	Event models.TriggerEvent `json:"event"`
}

func (e TriggerEventReceived) GetType() EventType { return TriggerEventReceivedEvent }

// TransportCallback is an asynchronous delivery/bounce/complaint notification
// from the outbound provider, matched to the ledger by correlation id.
type TransportCallback struct {
	BaseEvent

	CorrelationID string         `json:"correlation_id"`
	Outcome       models.Outcome `json:"outcome"`
	Detail        string         `json:"detail,omitempty"`
}

func (e TransportCallback) GetType() EventType { return TransportCallbackEvent }
