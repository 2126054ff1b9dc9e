package workflow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heraldkit/herald/pkg/dedupe"
	"github.com/heraldkit/herald/pkg/models"
	"github.com/heraldkit/herald/pkg/persistence"
	"github.com/heraldkit/herald/pkg/persistence/memory"
)

func signupWorkflow(id string, trigger *models.TriggerSpec) *models.Workflow {
	return &models.Workflow{
		ID:     id,
		Name:   "Signup Journey",
		Status: models.WorkflowStatusActive,
		Nodes: []*models.Node{
			{ID: "n-trigger", Kind: models.NodeKindTrigger, Trigger: trigger},
			{ID: "n-send", Kind: models.NodeKindAction, Action: &models.ActionSpec{ContentRef: "welcome", Channel: "email"}},
		},
		Edges: []*models.Edge{
			{ID: "e1", Source: "n-trigger", Target: "n-send"},
		},
	}
}

func newTestMatcher(t *testing.T, workflows ...*models.Workflow) (*Matcher, *memory.Persistence, *fakeDirectory) {
	t.Helper()

	store := memory.NewPersistence()
	for _, wf := range workflows {
		require.NoError(t, store.WorkflowRepository().SaveWorkflow(context.Background(), wf))
	}

	directory := &fakeDirectory{attributes: map[string]map[string]any{
		"r-1": {"country": "BR", "plan": "premium"},
		"r-2": {"country": "CA", "plan": "free"},
	}}

	matcher := NewMatcher(
		store.WorkflowRepository(),
		store.InstanceRepository(),
		directory,
		dedupe.NewMemoryStore(),
		nil,
		testLogger(),
	)

	return matcher, store, directory
}

func signupEvent(eventID, recipientID string) *models.TriggerEvent {
	return &models.TriggerEvent{
		EventID:     eventID,
		RecipientID: recipientID,
		EventType:   "user.signup",
		Payload:     map[string]any{"source": "web"},
		OccurredAt:  time.Now().UTC(),
	}
}

func TestMatcher_Match_CreatesActiveInstance(t *testing.T) {
	matcher, store, _ := newTestMatcher(t, signupWorkflow("wf-1", &models.TriggerSpec{EventType: "user.signup"}))

	created, err := matcher.Match(context.Background(), signupEvent("evt-1", "r-1"))
	require.NoError(t, err)
	require.Len(t, created, 1)

	instance := created[0]
	assert.Equal(t, "wf-1", instance.WorkflowID)
	assert.Equal(t, "r-1", instance.RecipientID)
	assert.Equal(t, "n-trigger", instance.Cursor)
	assert.Equal(t, models.InstanceStatusActive, instance.Status)
	assert.Equal(t, map[string]any{"source": "web"}, instance.TriggerData["event"])

	persisted, err := store.InstanceRepository().InstanceByID(context.Background(), instance.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusActive, persisted.Status)
}

func TestMatcher_Match_PredicateMismatchCreatesNothing(t *testing.T) {
	trigger := &models.TriggerSpec{
		EventType: "user.signup",
		Predicate: &models.Predicate{Field: "recipient.country", Op: models.OpEq, Value: "BR"},
	}
	matcher, _, _ := newTestMatcher(t, signupWorkflow("wf-1", trigger))

	// r-2 is in CA; the country predicate requires BR.
	created, err := matcher.Match(context.Background(), signupEvent("evt-1", "r-2"))
	require.NoError(t, err)
	assert.Empty(t, created)

	created, err = matcher.Match(context.Background(), signupEvent("evt-2", "r-1"))
	require.NoError(t, err)
	assert.Len(t, created, 1)
}

func TestMatcher_Match_EventTypeMismatch(t *testing.T) {
	matcher, _, _ := newTestMatcher(t, signupWorkflow("wf-1", &models.TriggerSpec{EventType: "order.placed"}))

	created, err := matcher.Match(context.Background(), signupEvent("evt-1", "r-1"))
	require.NoError(t, err)
	assert.Empty(t, created)
}

func TestMatcher_Match_DuplicateEventAbsorbed(t *testing.T) {
	matcher, _, _ := newTestMatcher(t, signupWorkflow("wf-1", &models.TriggerSpec{EventType: "user.signup"}))

	created, err := matcher.Match(context.Background(), signupEvent("evt-1", "r-1"))
	require.NoError(t, err)
	require.Len(t, created, 1)

	// Redelivery of the same event id creates nothing.
	created, err = matcher.Match(context.Background(), signupEvent("evt-1", "r-1"))
	require.NoError(t, err)
	assert.Empty(t, created)
}

func TestMatcher_Match_FrequencyCapLimitsInstances(t *testing.T) {
	trigger := &models.TriggerSpec{
		EventType:    "user.signup",
		FrequencyCap: &models.FrequencyCap{MaxInstances: 1, Window: 24 * time.Hour},
	}
	matcher, _, _ := newTestMatcher(t, signupWorkflow("wf-1", trigger))

	created, err := matcher.Match(context.Background(), signupEvent("evt-1", "r-1"))
	require.NoError(t, err)
	require.Len(t, created, 1)

	// One hour later, a second qualifying event hits a once-per-24h cap.
	created, err = matcher.Match(context.Background(), signupEvent("evt-2", "r-1"))
	require.NoError(t, err)
	assert.Empty(t, created)
}

func TestMatcher_Match_SuppressedRecipientMatchesNothing(t *testing.T) {
	matcher, _, directory := newTestMatcher(t, signupWorkflow("wf-1", &models.TriggerSpec{EventType: "user.signup"}))
	directory.suppressed = map[string]bool{"r-1": true}

	created, err := matcher.Match(context.Background(), signupEvent("evt-1", "r-1"))
	require.NoError(t, err)
	assert.Empty(t, created)
}

func TestMatcher_Match_UnknownRecipientIgnored(t *testing.T) {
	matcher, _, _ := newTestMatcher(t, signupWorkflow("wf-1", &models.TriggerSpec{EventType: "user.signup"}))

	created, err := matcher.Match(context.Background(), signupEvent("evt-1", "r-unknown"))
	require.NoError(t, err)
	assert.Empty(t, created)
}

func TestMatcher_Match_OffsetParksInstance(t *testing.T) {
	trigger := &models.TriggerSpec{EventType: "user.signup", Offset: 2 * time.Hour}
	matcher, _, _ := newTestMatcher(t, signupWorkflow("wf-1", trigger))

	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	matcher.clock = func() time.Time { return now }

	event := signupEvent("evt-1", "r-1")
	event.OccurredAt = now

	created, err := matcher.Match(context.Background(), event)
	require.NoError(t, err)
	require.Len(t, created, 1)

	instance := created[0]
	assert.Equal(t, models.InstanceStatusWaiting, instance.Status)
	require.NotNil(t, instance.ResumeAt)
	assert.Equal(t, now.Add(2*time.Hour), *instance.ResumeAt)
}

func TestMatcher_Match_OffsetCountsFromOccurrenceNotDelivery(t *testing.T) {
	trigger := &models.TriggerSpec{EventType: "user.signup", Offset: 2 * time.Hour}
	matcher, _, _ := newTestMatcher(t, signupWorkflow("wf-1", trigger))

	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	matcher.clock = func() time.Time { return now }

	// Delivered an hour late: the remaining wait shrinks accordingly.
	event := signupEvent("evt-1", "r-1")
	event.OccurredAt = now.Add(-time.Hour)

	created, err := matcher.Match(context.Background(), event)
	require.NoError(t, err)
	require.Len(t, created, 1)

	require.NotNil(t, created[0].ResumeAt)
	assert.Equal(t, now.Add(time.Hour), *created[0].ResumeAt)
}

func TestMatcher_Match_ElapsedOffsetStartsInstanceImmediately(t *testing.T) {
	trigger := &models.TriggerSpec{EventType: "user.signup", Offset: 2 * time.Hour}
	matcher, _, _ := newTestMatcher(t, signupWorkflow("wf-1", trigger))

	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	matcher.clock = func() time.Time { return now }

	// The event sat on the bus longer than the whole offset.
	event := signupEvent("evt-1", "r-1")
	event.OccurredAt = now.Add(-3 * time.Hour)

	created, err := matcher.Match(context.Background(), event)
	require.NoError(t, err)
	require.Len(t, created, 1)

	assert.Equal(t, models.InstanceStatusActive, created[0].Status)
	assert.Nil(t, created[0].ResumeAt)
}

func TestMatcher_Match_MultipleWorkflowsMatchIndependently(t *testing.T) {
	matcher, _, _ := newTestMatcher(t,
		signupWorkflow("wf-1", &models.TriggerSpec{EventType: "user.signup"}),
		signupWorkflow("wf-2", &models.TriggerSpec{EventType: "user.signup"}),
		signupWorkflow("wf-3", &models.TriggerSpec{EventType: "order.placed"}),
	)

	created, err := matcher.Match(context.Background(), signupEvent("evt-1", "r-1"))
	require.NoError(t, err)
	assert.Len(t, created, 2)
}

func TestMatcher_Match_DraftWorkflowNeverMatches(t *testing.T) {
	wf := signupWorkflow("wf-1", &models.TriggerSpec{EventType: "user.signup"})
	wf.Status = models.WorkflowStatusDraft

	matcher, _, _ := newTestMatcher(t, wf)

	created, err := matcher.Match(context.Background(), signupEvent("evt-1", "r-1"))
	require.NoError(t, err)
	assert.Empty(t, created)
}

type flakyInstanceRepository struct {
	persistence.InstanceRepository

	countFailures int
}

func (r *flakyInstanceRepository) CountInstancesSince(ctx context.Context, workflowID, recipientID string, since time.Time) (int, error) {
	if r.countFailures > 0 {
		r.countFailures--
		return 0, errors.New("connection refused")
	}

	return r.InstanceRepository.CountInstancesSince(ctx, workflowID, recipientID, since)
}

func TestMatcher_Match_RedeliveryAfterTransientFailureCreatesInstance(t *testing.T) {
	trigger := &models.TriggerSpec{
		EventType:    "user.signup",
		FrequencyCap: &models.FrequencyCap{MaxInstances: 1, Window: 24 * time.Hour},
	}

	store := memory.NewPersistence()
	require.NoError(t, store.WorkflowRepository().SaveWorkflow(context.Background(), signupWorkflow("wf-1", trigger)))

	directory := &fakeDirectory{attributes: map[string]map[string]any{"r-1": {"country": "BR"}}}
	instances := &flakyInstanceRepository{InstanceRepository: store.InstanceRepository(), countFailures: 1}

	matcher := NewMatcher(
		store.WorkflowRepository(),
		instances,
		directory,
		dedupe.NewMemoryStore(),
		nil,
		testLogger(),
	)

	// The first delivery dies on the frequency-cap lookup before anything
	// was created.
	_, err := matcher.Match(context.Background(), signupEvent("evt-1", "r-1"))
	require.Error(t, err)

	// The bus redelivers the identical event; the failed delivery must not
	// have burned its dedupe reservation.
	created, err := matcher.Match(context.Background(), signupEvent("evt-1", "r-1"))
	require.NoError(t, err)
	assert.Len(t, created, 1)
}
