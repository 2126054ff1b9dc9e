package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func evaluationScope() map[string]any {
	return map[string]any{
		"event": map[string]any{
			"country": "BR",
			"amount":  float64(150),
			"tags":    []any{"vip", "beta"},
		},
		"recipient": map[string]any{
			"plan": "premium",
		},
	}
}

func TestPredicate_Evaluate_Comparisons(t *testing.T) {
	testCases := []struct {
		name      string
		predicate Predicate
		want      bool
	}{
		{name: "eq match", predicate: Predicate{Field: "event.country", Op: OpEq, Value: "BR"}, want: true},
		{name: "eq mismatch", predicate: Predicate{Field: "event.country", Op: OpEq, Value: "CA"}, want: false},
		{name: "ne", predicate: Predicate{Field: "event.country", Op: OpNe, Value: "CA"}, want: true},
		{name: "gt", predicate: Predicate{Field: "event.amount", Op: OpGt, Value: 100}, want: true},
		{name: "gte boundary", predicate: Predicate{Field: "event.amount", Op: OpGte, Value: 150}, want: true},
		{name: "lt false", predicate: Predicate{Field: "event.amount", Op: OpLt, Value: 100}, want: false},
		{name: "in", predicate: Predicate{Field: "event.country", Op: OpIn, Value: []any{"AR", "BR"}}, want: true},
		{name: "in miss", predicate: Predicate{Field: "event.country", Op: OpIn, Value: []any{"AR", "CL"}}, want: false},
		{name: "contains list", predicate: Predicate{Field: "event.tags", Op: OpContains, Value: "vip"}, want: true},
		{name: "contains substring", predicate: Predicate{Field: "recipient.plan", Op: OpContains, Value: "prem"}, want: true},
		{name: "exists", predicate: Predicate{Field: "recipient.plan", Op: OpExists}, want: true},
		{name: "exists missing", predicate: Predicate{Field: "recipient.tier", Op: OpExists}, want: false},
		{name: "missing field is false", predicate: Predicate{Field: "event.missing", Op: OpEq, Value: "x"}, want: false},
		{name: "type mismatch is false", predicate: Predicate{Field: "event.country", Op: OpGt, Value: 1}, want: false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.predicate.Evaluate(evaluationScope()))
		})
	}
}

func TestPredicate_Evaluate_Composites(t *testing.T) {
	all := Predicate{All: []Predicate{
		{Field: "event.country", Op: OpEq, Value: "BR"},
		{Field: "recipient.plan", Op: OpEq, Value: "premium"},
	}}
	assert.True(t, all.Evaluate(evaluationScope()))

	all.All[1].Value = "basic"
	assert.False(t, all.Evaluate(evaluationScope()))

	anyOf := Predicate{Any: []Predicate{
		{Field: "event.country", Op: OpEq, Value: "CA"},
		{Field: "event.amount", Op: OpGte, Value: 100},
	}}
	assert.True(t, anyOf.Evaluate(evaluationScope()))
}

func TestPredicate_Evaluate_JSONNumbers(t *testing.T) {
	// Payloads arrive JSON-decoded, so numbers are float64 but rule values
	// may be written as integers.
	var scope map[string]any

	require.NoError(t, json.Unmarshal([]byte(`{"event":{"count":3}}`), &scope))

	predicate := Predicate{Field: "event.count", Op: OpEq, Value: 3}
	assert.True(t, predicate.Evaluate(scope))
}

func TestPredicate_Validate(t *testing.T) {
	testCases := []struct {
		name      string
		predicate Predicate
		wantErr   bool
	}{
		{name: "comparison", predicate: Predicate{Field: "event.country", Op: OpEq, Value: "BR"}, wantErr: false},
		{name: "composite", predicate: Predicate{All: []Predicate{{Field: "a", Op: OpExists}}}, wantErr: false},
		{name: "all and any together", predicate: Predicate{All: []Predicate{{Field: "a", Op: OpExists}}, Any: []Predicate{{Field: "b", Op: OpExists}}}, wantErr: true},
		{name: "missing field", predicate: Predicate{Op: OpEq, Value: "x"}, wantErr: true},
		{name: "unknown operator", predicate: Predicate{Field: "a", Op: "matches"}, wantErr: true},
		{name: "invalid nested", predicate: Predicate{All: []Predicate{{Op: OpEq}}}, wantErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.predicate.Validate()
			if tc.wantErr {
				assert.ErrorIs(t, err, ErrInvalidPredicate)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestTriggerEvent_DedupeKey(t *testing.T) {
	withID := &TriggerEvent{EventID: "evt-1", RecipientID: "r-1", EventType: "user.signed_up"}
	assert.Equal(t, "event:evt-1", withID.DedupeKey())

	hour := time.Date(2025, 6, 1, 14, 0, 0, 0, time.UTC)

	first := &TriggerEvent{RecipientID: "r-1", EventType: "user.signed_up", OccurredAt: hour.Add(10 * time.Minute)}
	second := &TriggerEvent{RecipientID: "r-1", EventType: "user.signed_up", OccurredAt: hour.Add(20 * time.Minute)}

	// Same bucket, same key; different recipients never collide.
	assert.Equal(t, first.DedupeKey(), second.DedupeKey())

	other := &TriggerEvent{RecipientID: "r-2", EventType: "user.signed_up", OccurredAt: first.OccurredAt}
	assert.NotEqual(t, first.DedupeKey(), other.DedupeKey())
}
