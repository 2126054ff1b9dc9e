package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validOneTimeSchedule() *Schedule {
	fireAt := time.Now().UTC().Add(time.Hour)

	return &Schedule{
		ID:              "sch-1",
		Owner:           "team-growth",
		Name:            "Launch announcement",
		Type:            ScheduleTypeOneTime,
		Status:          ScheduleStatusScheduled,
		ContentRef:      "content/launch",
		ListRef:         "lists/all",
		NextExecutionAt: &fireAt,
		Settings:        DefaultScheduleSettings(),
	}
}

func TestSchedule_Transition_FollowsStateMachine(t *testing.T) {
	testCases := []struct {
		name    string
		from    ScheduleStatus
		to      ScheduleStatus
		allowed bool
	}{
		{name: "draft to scheduled", from: ScheduleStatusDraft, to: ScheduleStatusScheduled, allowed: true},
		{name: "draft to cancelled", from: ScheduleStatusDraft, to: ScheduleStatusCancelled, allowed: true},
		{name: "draft to running", from: ScheduleStatusDraft, to: ScheduleStatusRunning, allowed: false},
		{name: "scheduled to running", from: ScheduleStatusScheduled, to: ScheduleStatusRunning, allowed: true},
		{name: "scheduled to paused", from: ScheduleStatusScheduled, to: ScheduleStatusPaused, allowed: true},
		{name: "scheduled to completed", from: ScheduleStatusScheduled, to: ScheduleStatusCompleted, allowed: false},
		{name: "running back to scheduled", from: ScheduleStatusRunning, to: ScheduleStatusScheduled, allowed: true},
		{name: "running to completed", from: ScheduleStatusRunning, to: ScheduleStatusCompleted, allowed: true},
		{name: "running to failed", from: ScheduleStatusRunning, to: ScheduleStatusFailed, allowed: true},
		{name: "paused to scheduled", from: ScheduleStatusPaused, to: ScheduleStatusScheduled, allowed: true},
		{name: "paused to running", from: ScheduleStatusPaused, to: ScheduleStatusRunning, allowed: false},
		{name: "completed is terminal", from: ScheduleStatusCompleted, to: ScheduleStatusScheduled, allowed: false},
		{name: "cancelled is terminal", from: ScheduleStatusCancelled, to: ScheduleStatusScheduled, allowed: false},
		{name: "failed is terminal", from: ScheduleStatusFailed, to: ScheduleStatusRunning, allowed: false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			schedule := validOneTimeSchedule()
			schedule.Status = tc.from

			next := time.Now().UTC().Add(time.Hour)

			var nextAt *time.Time
			if tc.to == ScheduleStatusScheduled {
				nextAt = &next
			}

			err := schedule.Transition(tc.to, nextAt)
			if tc.allowed {
				require.NoError(t, err)
				assert.Equal(t, tc.to, schedule.Status)
			} else {
				require.ErrorIs(t, err, ErrInvalidTransition)
				assert.Equal(t, tc.from, schedule.Status)
			}
		})
	}
}

func TestSchedule_Transition_ClearsNextExecutionOutsideScheduled(t *testing.T) {
	schedule := validOneTimeSchedule()
	require.NotNil(t, schedule.NextExecutionAt)

	err := schedule.Transition(ScheduleStatusRunning, nil)
	require.NoError(t, err)

	assert.Nil(t, schedule.NextExecutionAt)
	assert.NoError(t, schedule.Validate())
}

func TestSchedule_IsDue(t *testing.T) {
	now := time.Now().UTC()

	schedule := validOneTimeSchedule()
	past := now.Add(-time.Minute)
	schedule.NextExecutionAt = &past

	assert.True(t, schedule.IsDue(now))

	future := now.Add(time.Minute)
	schedule.NextExecutionAt = &future
	assert.False(t, schedule.IsDue(now))

	schedule.NextExecutionAt = &past
	schedule.Status = ScheduleStatusPaused
	assert.False(t, schedule.IsDue(now))
}

func TestSchedule_Validate(t *testing.T) {
	testCases := []struct {
		name    string
		mutate  func(*Schedule)
		wantErr bool
	}{
		{name: "valid one time", mutate: func(*Schedule) {}, wantErr: false},
		{
			name: "next execution without scheduled status",
			mutate: func(s *Schedule) {
				s.Status = ScheduleStatusDraft
			},
			wantErr: true,
		},
		{
			name: "scheduled without next execution",
			mutate: func(s *Schedule) {
				s.NextExecutionAt = nil
			},
			wantErr: true,
		},
		{
			name: "one time without content",
			mutate: func(s *Schedule) {
				s.ContentRef = ""
			},
			wantErr: true,
		},
		{
			name: "recurring requires a rule",
			mutate: func(s *Schedule) {
				s.Type = ScheduleTypeRecurring
				s.RecurrenceRule = nil
			},
			wantErr: true,
		},
		{
			name: "recurring with valid rule",
			mutate: func(s *Schedule) {
				s.Type = ScheduleTypeRecurring
				s.RecurrenceRule = &RecurrenceRule{
					Unit:     RecurrenceUnitDay,
					Interval: 1,
					Anchor:   time.Now().UTC(),
				}
			},
			wantErr: false,
		},
		{
			name: "drip requires steps",
			mutate: func(s *Schedule) {
				s.Type = ScheduleTypeDrip
				s.DripSteps = nil
			},
			wantErr: true,
		},
		{
			name: "drip step without content",
			mutate: func(s *Schedule) {
				s.Type = ScheduleTypeDrip
				s.DripSteps = []DripStep{{DelayFromPrevious: time.Hour}}
			},
			wantErr: true,
		},
		{
			name: "event triggered requires workflow",
			mutate: func(s *Schedule) {
				s.Type = ScheduleTypeEventTriggered
				s.WorkflowID = ""
			},
			wantErr: true,
		},
		{
			name: "unknown type",
			mutate: func(s *Schedule) {
				s.Type = ScheduleType("hourly")
			},
			wantErr: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			schedule := validOneTimeSchedule()
			tc.mutate(schedule)

			err := schedule.Validate()
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSchedule_DeliveryChannel(t *testing.T) {
	schedule := validOneTimeSchedule()
	assert.Equal(t, DefaultChannel, schedule.DeliveryChannel())

	schedule.Channel = "sms"
	assert.Equal(t, "sms", schedule.DeliveryChannel())
}

func TestRecurrenceRule_Validate(t *testing.T) {
	anchor := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	testCases := []struct {
		name    string
		rule    RecurrenceRule
		wantErr bool
	}{
		{name: "daily", rule: RecurrenceRule{Unit: RecurrenceUnitDay, Interval: 1, Anchor: anchor}, wantErr: false},
		{name: "every two weeks", rule: RecurrenceRule{Unit: RecurrenceUnitWeek, Interval: 2, Anchor: anchor}, wantErr: false},
		{name: "cron expression", rule: RecurrenceRule{CronExpression: "0 9 * * 1"}, wantErr: false},
		{name: "bad cron expression", rule: RecurrenceRule{CronExpression: "not a cron"}, wantErr: true},
		{name: "zero interval", rule: RecurrenceRule{Unit: RecurrenceUnitDay, Interval: 0, Anchor: anchor}, wantErr: true},
		{name: "missing anchor", rule: RecurrenceRule{Unit: RecurrenceUnitDay, Interval: 1}, wantErr: true},
		{name: "unknown unit", rule: RecurrenceRule{Unit: "fortnight", Interval: 1, Anchor: anchor}, wantErr: true},
		{name: "bad timezone", rule: RecurrenceRule{Unit: RecurrenceUnitDay, Interval: 1, Anchor: anchor, Timezone: "Mars/Olympus"}, wantErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.rule.Validate()
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
