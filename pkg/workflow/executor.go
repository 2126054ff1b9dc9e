// Package workflow executes journey graphs: the executor advances durable
// per-recipient instances node by node, and the matcher creates instances
// from inbound trigger events.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/heraldkit/herald/pkg/eventbus"
	"github.com/heraldkit/herald/pkg/events"
	"github.com/heraldkit/herald/pkg/models"
	"github.com/heraldkit/herald/pkg/otelhelper"
	"github.com/heraldkit/herald/pkg/persistence"
	"github.com/heraldkit/herald/pkg/protocol"
)

// Dispatcher sends one rendered message to one recipient, gated by the
// execution ledger. The dispatch engine implements this.
type Dispatcher interface {
	DispatchOne(ctx context.Context, runID, contentRef, channel, recipientID string) error
}

// Executor advances workflow instances. Each Step call executes exactly one
// node and persists the instance before returning, so a crash between steps
// loses at most the node in flight and never corrupts the cursor.
type Executor struct {
	workflows  persistence.WorkflowRepository
	instances  persistence.InstanceRepository
	directory  protocol.Directory
	dispatcher Dispatcher
	publisher  eventbus.EventPublisher
	logger     *slog.Logger

	maxRetries int
	retryDelay time.Duration
	clock      func() time.Time
}

func NewExecutor(
	workflows persistence.WorkflowRepository,
	instances persistence.InstanceRepository,
	directory protocol.Directory,
	dispatcher Dispatcher,
	publisher eventbus.EventPublisher,
	logger *slog.Logger,
) *Executor {
	return &Executor{
		workflows:  workflows,
		instances:  instances,
		directory:  directory,
		dispatcher: dispatcher,
		publisher:  publisher,
		logger:     logger.With("module", "workflow_executor"),
		maxRetries: models.DefaultScheduleSettings().MaxRetries,
		retryDelay: time.Minute,
		clock:      func() time.Time { return time.Now().UTC() },
	}
}

// Run advances the instance until it suspends, completes or aborts. The
// caller must hold the claim on the instance.
func (e *Executor) Run(ctx context.Context, instance *models.WorkflowInstance) error {
	for instance.Status == models.InstanceStatusActive {
		if err := e.Step(ctx, instance); err != nil {
			return err
		}
	}

	return nil
}

// Step executes the node under the instance cursor and persists the result.
func (e *Executor) Step(ctx context.Context, instance *models.WorkflowInstance) error {
	logger := e.logger.With("instance_id", instance.ID, "workflow_id", instance.WorkflowID)

	ctx, span := otelhelper.StartSpan(ctx, otel.Tracer("herald/workflow"), "instance step",
		attribute.String(otelhelper.InstanceIDKey, instance.ID),
		attribute.String(otelhelper.WorkflowIDKey, instance.WorkflowID),
		attribute.String(otelhelper.NodeIDKey, instance.Cursor),
	)
	defer span.End()

	wf, err := e.workflows.WorkflowByID(ctx, instance.WorkflowID)
	if err != nil {
		return fmt.Errorf("failed to fetch workflow %s: %w", instance.WorkflowID, err)
	}

	if instance.Cursor == "" {
		entry, err := wf.EntryNode()
		if err != nil {
			return err
		}

		instance.Cursor = entry.ID
	}

	node, err := wf.NodeByID(instance.Cursor)
	if err != nil {
		return err
	}

	logger = logger.With("node_id", node.ID, "node_kind", string(node.Kind))

	switch node.Kind {
	case models.NodeKindTrigger:
		// Entry node: matching already happened when the instance was
		// created, so the trigger is a pass-through.
		e.follow(wf, instance, node, "")
	case models.NodeKindCondition:
		e.executeCondition(wf, instance, node)
	case models.NodeKindAction:
		if err := e.executeAction(ctx, wf, instance, node); err != nil {
			return err
		}
	case models.NodeKindDelay:
		e.executeDelay(wf, instance, node)
	}

	if err := e.instances.SaveInstance(ctx, instance); err != nil {
		return fmt.Errorf("failed to save instance %s: %w", instance.ID, err)
	}

	e.publishTransition(ctx, instance, node)
	logger.Debug("Node executed", "status", string(instance.Status), "cursor", instance.Cursor)

	return nil
}

// executeCondition selects the first matching branch, in declaration order.
// No matching branch falls through to the default edge; a selected branch
// without an outgoing edge aborts the instance.
func (e *Executor) executeCondition(wf *models.Workflow, instance *models.WorkflowInstance, node *models.Node) {
	branch := ""

	for _, candidate := range node.Condition.Branches {
		if candidate.Predicate.Evaluate(instance.TriggerData) {
			branch = candidate.Label
			break
		}
	}

	e.follow(wf, instance, node, branch)
}

// executeAction re-checks suppression at send time, then dispatches through
// the ledger-gated dispatcher. Failures are retried with a linear backoff up
// to the retry budget.
func (e *Executor) executeAction(ctx context.Context, wf *models.Workflow, instance *models.WorkflowInstance, node *models.Node) error {
	suppressed, err := e.directory.IsSuppressed(ctx, instance.RecipientID)
	if err != nil {
		return fmt.Errorf("failed to check suppression for recipient %s: %w", instance.RecipientID, err)
	}

	if suppressed {
		instance.Abort("recipient suppressed")
		return nil
	}

	budget := instance.MaxRetries
	if budget <= 0 {
		budget = e.maxRetries
	}

	// The instance id is the run id: one logical run per recipient journey,
	// so the ledger makes redelivery after a crash a no-op.
	err = e.dispatcher.DispatchOne(ctx, instance.ID, node.Action.ContentRef, node.Action.Channel, instance.RecipientID)
	if err != nil {
		instance.Attempts++

		if instance.Attempts >= budget {
			instance.Abort(fmt.Sprintf("action %s failed after %d attempts: %v", node.ID, instance.Attempts, err))

			e.logger.Warn("Action retry budget exhausted",
				"instance_id", instance.ID,
				"node_id", node.ID,
				"error", err)

			return nil
		}

		instance.Suspend(e.clock().Add(time.Duration(instance.Attempts) * e.retryDelay))

		return nil
	}

	e.follow(wf, instance, node, "")

	return nil
}

// executeDelay advances the cursor past the delay node and parks the
// instance until the wait elapses. The resume time is absolute, so restarts
// and downtime never extend the wait.
func (e *Executor) executeDelay(wf *models.Workflow, instance *models.WorkflowInstance, node *models.Node) {
	next, err := wf.NextNodeID(node.ID, "")
	if err != nil || next == "" {
		// A trailing delay has nothing left to run.
		instance.Complete()
		return
	}

	instance.Advance(next)
	instance.Suspend(e.clock().Add(node.Delay.Duration))
}

// follow moves the cursor along the outgoing edge for branch. A missing edge
// is a graph dead end and aborts the instance; no outgoing edges at all
// means the instance walked off the end of the graph.
func (e *Executor) follow(wf *models.Workflow, instance *models.WorkflowInstance, node *models.Node, branch string) {
	next, err := wf.NextNodeID(node.ID, branch)
	if err != nil {
		if errors.Is(err, models.ErrNoMatchingEdge) {
			instance.Abort(fmt.Sprintf("no outgoing edge from node %s for branch %q", node.ID, branch))
			return
		}

		instance.Abort(err.Error())

		return
	}

	if next == "" {
		instance.Complete()
		return
	}

	instance.Advance(next)
}

func (e *Executor) publishTransition(ctx context.Context, instance *models.WorkflowInstance, node *models.Node) {
	if e.publisher == nil {
		return
	}

	var event events.Event

	switch instance.Status {
	case models.InstanceStatusActive:
		event = events.InstanceAdvanced{
			BaseEvent:  events.NewBaseEvent(events.InstanceAdvancedEvent, instance.ID),
			InstanceID: instance.ID,
			WorkflowID: instance.WorkflowID,
			NodeID:     node.ID,
			NodeKind:   string(node.Kind),
		}
	case models.InstanceStatusWaiting:
		event = events.InstanceSuspended{
			BaseEvent:  events.NewBaseEvent(events.InstanceSuspendedEvent, instance.ID),
			InstanceID: instance.ID,
			WorkflowID: instance.WorkflowID,
			NodeID:     node.ID,
			ResumeAt:   *instance.ResumeAt,
		}
	case models.InstanceStatusCompleted:
		event = events.InstanceCompleted{
			BaseEvent:  events.NewBaseEvent(events.InstanceCompletedEvent, instance.ID),
			InstanceID: instance.ID,
			WorkflowID: instance.WorkflowID,
		}
	case models.InstanceStatusAborted:
		event = events.InstanceAborted{
			BaseEvent:  events.NewBaseEvent(events.InstanceAbortedEvent, instance.ID),
			InstanceID: instance.ID,
			WorkflowID: instance.WorkflowID,
			Reason:     instance.AbortReason,
		}
	}

	if event == nil {
		return
	}

	if err := e.publisher.Publish(ctx, instance.ID, event); err != nil {
		e.logger.Warn("Failed to publish instance event", "instance_id", instance.ID, "error", err)
	}
}
