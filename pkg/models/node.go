package models

import (
	"errors"
	"fmt"
	"time"
)

// NodeKind is the closed set of workflow node kinds. The executor switches
// exhaustively over these; adding a kind is a compile-time-checked change.
type NodeKind string

const (
	NodeKindTrigger   NodeKind = "trigger"
	NodeKindCondition NodeKind = "condition"
	NodeKindAction    NodeKind = "action"
	NodeKindDelay     NodeKind = "delay"
)

// TriggerSpec configures a trigger node, the unique entry point of a workflow.
type TriggerSpec struct {
	EventType    string        `json:"event_type" validate:"required"`
	Predicate    *Predicate    `json:"predicate,omitempty"`
	Offset       time.Duration `json:"offset,omitempty"` // wait after the event before the first node runs
	FrequencyCap *FrequencyCap `json:"frequency_cap,omitempty"`
}

// FrequencyCap limits instance creation per recipient per workflow.
type FrequencyCap struct {
	MaxInstances int           `json:"max_instances" validate:"min=1"`
	Window       time.Duration `json:"window"        validate:"min=1"`
}

// ConditionBranch pairs a predicate with the edge label taken when it matches.
type ConditionBranch struct {
	Label     string    `json:"label"     validate:"required"`
	Predicate Predicate `json:"predicate"`
}

// ConditionSpec configures a condition node. Branches are evaluated in order;
// the first match selects the outgoing edge with that label. No match falls
// through to the default edge (empty label), if any.
type ConditionSpec struct {
	Branches []ConditionBranch `json:"branches" validate:"required,min=1"`
}

// ActionSpec configures an action node: dispatch ContentRef to the instance's
// recipient over the named channel.
type ActionSpec struct {
	ContentRef string `json:"content_ref" validate:"required"`
	Channel    string `json:"channel"     validate:"required"`
}

// DelaySpec configures a delay node.
type DelaySpec struct {
	Duration time.Duration `json:"duration" validate:"min=1"`
}

// Node is one vertex of a workflow graph. Exactly one of the kind-specific
// spec fields is set, matching Kind.
type Node struct {
	ID   string   `json:"id"   validate:"required"`
	Kind NodeKind `json:"kind" validate:"required,oneof=trigger condition action delay"`
	Name string   `json:"name"`

	Trigger   *TriggerSpec   `json:"trigger,omitempty"`
	Condition *ConditionSpec `json:"condition,omitempty"`
	Action    *ActionSpec    `json:"action,omitempty"`
	Delay     *DelaySpec     `json:"delay,omitempty"`
}

// Edge connects a source node to a target node. Branch labels only carry
// meaning on edges leaving a condition node; an empty label is the default.
type Edge struct {
	ID     string `json:"id"`
	Source string `json:"source" validate:"required"`
	Target string `json:"target" validate:"required"`
	Branch string `json:"branch,omitempty"`
}

// ErrInvalidNode is returned when a node's spec does not match its kind.
var ErrInvalidNode = errors.New("invalid node configuration")

// Validate checks that exactly the spec matching Kind is present.
func (n *Node) Validate() error {
	switch n.Kind {
	case NodeKindTrigger:
		if n.Trigger == nil || n.Trigger.EventType == "" {
			return fmt.Errorf("node %s: %w: trigger spec required", n.ID, ErrInvalidNode)
		}
	case NodeKindCondition:
		if n.Condition == nil || len(n.Condition.Branches) == 0 {
			return fmt.Errorf("node %s: %w: condition branches required", n.ID, ErrInvalidNode)
		}
	case NodeKindAction:
		if n.Action == nil || n.Action.ContentRef == "" {
			return fmt.Errorf("node %s: %w: action spec required", n.ID, ErrInvalidNode)
		}
	case NodeKindDelay:
		if n.Delay == nil || n.Delay.Duration <= 0 {
			return fmt.Errorf("node %s: %w: delay duration required", n.ID, ErrInvalidNode)
		}
	default:
		return fmt.Errorf("node %s: %w: unknown kind %q", n.ID, ErrInvalidNode, n.Kind)
	}

	return nil
}
