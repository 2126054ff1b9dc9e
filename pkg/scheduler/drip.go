package scheduler

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/heraldkit/herald/pkg/models"
)

// dripWorkflow expands a drip schedule's steps into a linear workflow graph:
// trigger, then delay/action pairs, one pair per step. The workflow id is
// derived deterministically from the schedule id so re-firing the schedule
// reuses the same graph instead of piling up copies.
func dripWorkflow(schedule *models.Schedule) (*models.Workflow, error) {
	if len(schedule.DripSteps) == 0 {
		return nil, fmt.Errorf("%w: drip schedule has no steps", models.ErrInvalidSchedule)
	}

	wf := &models.Workflow{
		ID:     uuid.NewSHA1(uuid.NameSpaceOID, []byte("drip:"+schedule.ID)).String(),
		Name:   schedule.Name + " (drip)",
		Owner:  schedule.Owner,
		Status: models.WorkflowStatusActive,
		Nodes: []*models.Node{
			{
				ID:   "trigger",
				Kind: models.NodeKindTrigger,
				// The event type is unique to this schedule and never
				// produced by anything; only materialization creates
				// instances of this graph.
				Trigger: &models.TriggerSpec{EventType: "drip:" + schedule.ID},
			},
		},
	}

	previous := "trigger"

	for i, step := range schedule.DripSteps {
		if step.DelayFromPrevious > 0 {
			delayID := fmt.Sprintf("delay-%d", i)
			wf.Nodes = append(wf.Nodes, &models.Node{
				ID:    delayID,
				Kind:  models.NodeKindDelay,
				Delay: &models.DelaySpec{Duration: step.DelayFromPrevious},
			})
			wf.Edges = append(wf.Edges, &models.Edge{
				ID:     fmt.Sprintf("e-%s-%s", previous, delayID),
				Source: previous,
				Target: delayID,
			})

			previous = delayID
		}

		actionID := fmt.Sprintf("send-%d", i)
		wf.Nodes = append(wf.Nodes, &models.Node{
			ID:   actionID,
			Kind: models.NodeKindAction,
			Action: &models.ActionSpec{
				ContentRef: step.ContentRef,
				Channel:    schedule.DeliveryChannel(),
			},
		})
		wf.Edges = append(wf.Edges, &models.Edge{
			ID:     fmt.Sprintf("e-%s-%s", previous, actionID),
			Source: previous,
			Target: actionID,
		})

		previous = actionID
	}

	if err := wf.Validate(); err != nil {
		return nil, err
	}

	return wf, nil
}
