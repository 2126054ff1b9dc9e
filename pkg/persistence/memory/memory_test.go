package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heraldkit/herald/pkg/models"
	"github.com/heraldkit/herald/pkg/persistence"
)

func newTestStore(t *testing.T) *Persistence {
	t.Helper()

	return NewPersistence()
}

func seedSchedule(t *testing.T, store *Persistence, status models.ScheduleStatus, nextAt *time.Time) *models.Schedule {
	t.Helper()

	schedule := &models.Schedule{
		Owner:           "team-growth",
		Name:            "Weekly digest",
		Type:            models.ScheduleTypeOneTime,
		Status:          status,
		ContentRef:      "content/digest",
		ListRef:         "lists/all",
		NextExecutionAt: nextAt,
		Settings:        models.DefaultScheduleSettings(),
	}
	require.NoError(t, store.ScheduleRepository().SaveSchedule(context.Background(), schedule))

	return schedule
}

func TestScheduleRepository_DueSchedules(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)

	due := seedSchedule(t, store, models.ScheduleStatusScheduled, &past)
	seedSchedule(t, store, models.ScheduleStatusScheduled, &future)
	seedSchedule(t, store, models.ScheduleStatusPaused, nil)

	found, err := store.ScheduleRepository().DueSchedules(ctx, now)
	require.NoError(t, err)

	require.Len(t, found, 1)
	assert.Equal(t, due.ID, found[0].ID)
}

func TestScheduleRepository_ClaimSchedule_OnlyOneWinner(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	schedule := seedSchedule(t, store, models.ScheduleStatusScheduled, &now)

	var wg sync.WaitGroup

	wins := make(chan struct{}, 10)

	for range 10 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			err := store.ScheduleRepository().ClaimSchedule(ctx, schedule.ID, models.ScheduleStatusScheduled, models.ScheduleStatusRunning)
			if err == nil {
				wins <- struct{}{}

				return
			}

			assert.True(t, persistence.IsClaimConflict(err))
		}()
	}

	wg.Wait()
	close(wins)

	assert.Len(t, wins, 1)

	claimed, err := store.ScheduleRepository().ScheduleByID(ctx, schedule.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ScheduleStatusRunning, claimed.Status)
	assert.Nil(t, claimed.NextExecutionAt)
}

func TestScheduleRepository_ClaimSchedule_NotFound(t *testing.T) {
	store := newTestStore(t)

	err := store.ScheduleRepository().ClaimSchedule(context.Background(), "nope", models.ScheduleStatusScheduled, models.ScheduleStatusRunning)
	assert.True(t, persistence.IsNotFound(err))
}

func TestScheduleRepository_SettleSchedule_KeepsConcurrentTransition(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	schedule := seedSchedule(t, store, models.ScheduleStatusRunning, &now)

	// An admin transition lands before the run's outcome is written.
	require.NoError(t, store.ScheduleRepository().ClaimSchedule(ctx, schedule.ID, models.ScheduleStatusRunning, models.ScheduleStatusPaused))

	schedule.Status = models.ScheduleStatusCompleted
	schedule.NextExecutionAt = nil

	err := store.ScheduleRepository().SettleSchedule(ctx, schedule, models.ScheduleStatusRunning)
	assert.True(t, persistence.IsClaimConflict(err))

	stored, err := store.ScheduleRepository().ScheduleByID(ctx, schedule.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ScheduleStatusPaused, stored.Status)
}

func TestScheduleRepository_SettleSchedule_WritesOutcome(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	schedule := seedSchedule(t, store, models.ScheduleStatusRunning, &now)

	next := now.Add(24 * time.Hour)
	schedule.Status = models.ScheduleStatusScheduled
	schedule.NextExecutionAt = &next
	schedule.RunRetries = 0

	require.NoError(t, store.ScheduleRepository().SettleSchedule(ctx, schedule, models.ScheduleStatusRunning))

	stored, err := store.ScheduleRepository().ScheduleByID(ctx, schedule.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ScheduleStatusScheduled, stored.Status)
	require.NotNil(t, stored.NextExecutionAt)
	assert.Equal(t, next, stored.NextExecutionAt.UTC())
}

func TestScheduleRepository_SaveIsolatesCallerCopy(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	schedule := seedSchedule(t, store, models.ScheduleStatusScheduled, &now)

	// Mutating the caller's copy must not leak into the store.
	schedule.Name = "changed after save"

	stored, err := store.ScheduleRepository().ScheduleByID(ctx, schedule.ID)
	require.NoError(t, err)
	assert.Equal(t, "Weekly digest", stored.Name)
}

func TestWorkflowRepository_ActiveWorkflows(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	active := &models.Workflow{
		Name:   "Welcome journey",
		Status: models.WorkflowStatusActive,
		Nodes: []*models.Node{
			{ID: "start", Kind: models.NodeKindTrigger, Trigger: &models.TriggerSpec{EventType: "user.signed_up"}},
		},
	}
	draft := &models.Workflow{
		Name:   "Winback draft",
		Status: models.WorkflowStatusDraft,
		Nodes: []*models.Node{
			{ID: "start", Kind: models.NodeKindTrigger, Trigger: &models.TriggerSpec{EventType: "user.churned"}},
		},
	}

	require.NoError(t, store.WorkflowRepository().SaveWorkflow(ctx, active))
	require.NoError(t, store.WorkflowRepository().SaveWorkflow(ctx, draft))

	found, err := store.WorkflowRepository().ActiveWorkflows(ctx)
	require.NoError(t, err)

	require.Len(t, found, 1)
	assert.Equal(t, active.ID, found[0].ID)
}

func TestWorkflowRepository_Delete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	workflow := &models.Workflow{
		Name:   "Disposable",
		Status: models.WorkflowStatusDraft,
		Nodes: []*models.Node{
			{ID: "start", Kind: models.NodeKindTrigger, Trigger: &models.TriggerSpec{EventType: "x"}},
		},
	}
	require.NoError(t, store.WorkflowRepository().SaveWorkflow(ctx, workflow))
	require.NoError(t, store.WorkflowRepository().DeleteWorkflow(ctx, workflow.ID))

	_, err := store.WorkflowRepository().WorkflowByID(ctx, workflow.ID)
	assert.True(t, persistence.IsNotFound(err))
}

func seedInstance(t *testing.T, store *Persistence, status models.InstanceStatus, resumeAt *time.Time) *models.WorkflowInstance {
	t.Helper()

	instance := &models.WorkflowInstance{
		WorkflowID:  "wf-1",
		RecipientID: "r-1",
		Cursor:      "start",
		Status:      status,
		ResumeAt:    resumeAt,
	}
	require.NoError(t, store.InstanceRepository().SaveInstance(context.Background(), instance))

	return instance
}

func TestInstanceRepository_ResumableInstances(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)

	due := seedInstance(t, store, models.InstanceStatusWaiting, &past)
	seedInstance(t, store, models.InstanceStatusWaiting, &future)
	seedInstance(t, store, models.InstanceStatusActive, nil)

	found, err := store.InstanceRepository().ResumableInstances(ctx, now)
	require.NoError(t, err)

	require.Len(t, found, 1)
	assert.Equal(t, due.ID, found[0].ID)
}

func TestInstanceRepository_ClaimInstance_Conflict(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	instance := seedInstance(t, store, models.InstanceStatusWaiting, &now)

	require.NoError(t, store.InstanceRepository().ClaimInstance(ctx, instance.ID, models.InstanceStatusWaiting, models.InstanceStatusActive))

	err := store.InstanceRepository().ClaimInstance(ctx, instance.ID, models.InstanceStatusWaiting, models.InstanceStatusActive)
	assert.True(t, persistence.IsClaimConflict(err))
}

func TestInstanceRepository_CountInstancesSince(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	seedInstance(t, store, models.InstanceStatusCompleted, nil)
	seedInstance(t, store, models.InstanceStatusActive, nil)

	other := &models.WorkflowInstance{WorkflowID: "wf-2", RecipientID: "r-1", Cursor: "start", Status: models.InstanceStatusActive}
	require.NoError(t, store.InstanceRepository().SaveInstance(ctx, other))

	count, err := store.InstanceRepository().CountInstancesSince(ctx, "wf-1", "r-1", now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	count, err = store.InstanceRepository().CountInstancesSince(ctx, "wf-1", "r-1", now.Add(time.Hour))
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestPersistence_HealthCheck(t *testing.T) {
	store := newTestStore(t)

	assert.NoError(t, store.HealthCheck(context.Background()))
	assert.NoError(t, store.Close(context.Background()))
}
