package recurrence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heraldkit/herald/pkg/models"
)

func monthlyOn31(anchor time.Time) *models.RecurrenceRule {
	return &models.RecurrenceRule{
		Unit:     models.RecurrenceUnitMonth,
		Interval: 1,
		Anchor:   anchor,
	}
}

func TestNext_MonthlyDay31_ClampsAndReverts(t *testing.T) {
	anchor := time.Date(2025, time.January, 31, 9, 0, 0, 0, time.UTC)
	rule := monthlyOn31(anchor)

	next, err := Next(rule, anchor)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, time.Date(2025, time.February, 28, 9, 0, 0, 0, time.UTC), *next)

	next, err = Next(rule, *next)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, time.Date(2025, time.March, 31, 9, 0, 0, 0, time.UTC), *next, "must not skip March")
}

func TestNext_MonthlyDay31_LeapYear(t *testing.T) {
	anchor := time.Date(2024, time.January, 31, 9, 0, 0, 0, time.UTC)
	rule := monthlyOn31(anchor)

	next, err := Next(rule, anchor)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, time.Date(2024, time.February, 29, 9, 0, 0, 0, time.UTC), *next)
}

func TestNext_Daily(t *testing.T) {
	anchor := time.Date(2025, time.June, 1, 8, 30, 0, 0, time.UTC)
	rule := &models.RecurrenceRule{
		Unit:     models.RecurrenceUnitDay,
		Interval: 1,
		Anchor:   anchor,
	}

	next, err := Next(rule, anchor)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, anchor.AddDate(0, 0, 1), *next)
}

func TestNext_BeforeAnchor_ReturnsAnchor(t *testing.T) {
	anchor := time.Date(2025, time.June, 1, 8, 30, 0, 0, time.UTC)
	rule := &models.RecurrenceRule{
		Unit:     models.RecurrenceUnitWeek,
		Interval: 2,
		Anchor:   anchor,
	}

	next, err := Next(rule, anchor.Add(-48*time.Hour))
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, anchor, *next)
}

func TestNext_DSTTransition_KeepsWallClock(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	// 2025-03-09 is the spring-forward date in the US.
	anchor := time.Date(2025, time.March, 8, 9, 0, 0, 0, loc)
	rule := &models.RecurrenceRule{
		Unit:     models.RecurrenceUnitDay,
		Interval: 1,
		Anchor:   anchor,
		Timezone: "America/New_York",
	}

	next, err := Next(rule, anchor)
	require.NoError(t, err)
	require.NotNil(t, next)

	local := next.In(loc)
	assert.Equal(t, 9, local.Hour(), "wall-clock hour must survive DST")
	assert.Equal(t, 9, local.Day())
	// The absolute gap is 23 hours across spring-forward.
	assert.Equal(t, 23*time.Hour, next.Sub(anchor.UTC()))
}

func TestNext_EndCount(t *testing.T) {
	anchor := time.Date(2025, time.June, 1, 8, 0, 0, 0, time.UTC)
	rule := &models.RecurrenceRule{
		Unit:     models.RecurrenceUnitDay,
		Interval: 1,
		Anchor:   anchor,
		End:      &models.RecurrenceEnd{Count: 3},
	}

	// Occurrences: June 1 (anchor), June 2, June 3 — then done.
	next, err := Next(rule, anchor.AddDate(0, 0, 1))
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, anchor.AddDate(0, 0, 2), *next)

	next, err = Next(rule, anchor.AddDate(0, 0, 2))
	require.NoError(t, err)
	assert.Nil(t, next, "end count reached")
}

func TestNext_EndDate(t *testing.T) {
	anchor := time.Date(2025, time.June, 1, 8, 0, 0, 0, time.UTC)
	until := anchor.AddDate(0, 0, 2)
	rule := &models.RecurrenceRule{
		Unit:     models.RecurrenceUnitDay,
		Interval: 1,
		Anchor:   anchor,
		End:      &models.RecurrenceEnd{Until: &until},
	}

	next, err := Next(rule, anchor.AddDate(0, 0, 2))
	require.NoError(t, err)
	assert.Nil(t, next)
}

func TestNext_FixedInterval(t *testing.T) {
	anchor := time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC)
	rule := &models.RecurrenceRule{
		Unit:     models.RecurrenceUnitInterval,
		Interval: 90 * 60, // every 90 minutes
		Anchor:   anchor,
	}

	next, err := Next(rule, anchor.Add(10*time.Minute))
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, anchor.Add(90*time.Minute), *next)
}

func TestNext_CronExpression(t *testing.T) {
	anchor := time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC)
	rule := &models.RecurrenceRule{
		CronExpression: "0 9 * * *",
		Anchor:         anchor,
	}

	next, err := Next(rule, time.Date(2025, time.June, 2, 10, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, time.Date(2025, time.June, 3, 9, 0, 0, 0, time.UTC), *next)
}

func TestNext_CronExpression_EndCount(t *testing.T) {
	anchor := time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC)
	rule := &models.RecurrenceRule{
		CronExpression: "0 9 * * *",
		Anchor:         anchor,
		End:            &models.RecurrenceEnd{Count: 2},
	}

	// June 1 09:00 and June 2 09:00 are the only occurrences.
	next, err := Next(rule, time.Date(2025, time.June, 1, 9, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, time.Date(2025, time.June, 2, 9, 0, 0, 0, time.UTC), *next)

	next, err = Next(rule, time.Date(2025, time.June, 2, 9, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Nil(t, next)
}

func TestNext_InvalidRule(t *testing.T) {
	_, err := Next(&models.RecurrenceRule{Unit: "fortnight", Interval: 1, Anchor: time.Now()}, time.Now())
	assert.Error(t, err)
}
