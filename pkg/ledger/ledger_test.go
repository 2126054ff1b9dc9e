package ledger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heraldkit/herald/pkg/models"
)

func TestRecordAttempt_AssignsAttemptNumbers(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemoryLedger()

	first, err := ledger.RecordAttempt(ctx, "run-1", "rcpt-1", "corr-1")
	require.NoError(t, err)
	assert.Equal(t, 1, first.AttemptNumber)
	assert.Equal(t, models.OutcomePending, first.Outcome)

	err = ledger.MarkOutcome(ctx, "run-1", "rcpt-1", 1, models.OutcomeFailed, "transport timeout")
	require.NoError(t, err)

	second, err := ledger.RecordAttempt(ctx, "run-1", "rcpt-1", "corr-2")
	require.NoError(t, err)
	assert.Equal(t, 2, second.AttemptNumber)
}

func TestRecordAttempt_RejectsSecondPending(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemoryLedger()

	_, err := ledger.RecordAttempt(ctx, "run-1", "rcpt-1", "")
	require.NoError(t, err)

	_, err = ledger.RecordAttempt(ctx, "run-1", "rcpt-1", "")
	assert.ErrorIs(t, err, ErrPendingAttemptExists)
}

func TestHasSucceeded(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemoryLedger()

	record, err := ledger.RecordAttempt(ctx, "run-1", "rcpt-1", "")
	require.NoError(t, err)

	succeeded, err := ledger.HasSucceeded(ctx, "run-1", "rcpt-1")
	require.NoError(t, err)
	assert.False(t, succeeded)

	err = ledger.MarkOutcome(ctx, "run-1", "rcpt-1", record.AttemptNumber, models.OutcomeSucceeded, "")
	require.NoError(t, err)

	succeeded, err = ledger.HasSucceeded(ctx, "run-1", "rcpt-1")
	require.NoError(t, err)
	assert.True(t, succeeded)
}

func TestHasNonFailed_FailedRecordAllowsRetry(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemoryLedger()

	record, err := ledger.RecordAttempt(ctx, "run-1", "rcpt-1", "")
	require.NoError(t, err)

	// A pending record blocks a second dispatch.
	blocked, err := ledger.HasNonFailed(ctx, "run-1", "rcpt-1")
	require.NoError(t, err)
	assert.True(t, blocked)

	err = ledger.MarkOutcome(ctx, "run-1", "rcpt-1", record.AttemptNumber, models.OutcomeFailed, "rejected")
	require.NoError(t, err)

	blocked, err = ledger.HasNonFailed(ctx, "run-1", "rcpt-1")
	require.NoError(t, err)
	assert.False(t, blocked, "failed attempts do not block an explicit retry")
}

func TestSummarize_CountsLatestAttemptPerRecipient(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemoryLedger()

	for _, tc := range []struct {
		recipient string
		outcome   models.Outcome
		detail    string
	}{
		{"rcpt-1", models.OutcomeSucceeded, ""},
		{"rcpt-2", models.OutcomeSucceeded, ""},
		{"rcpt-3", models.OutcomeFailed, "mailbox full"},
		{"rcpt-4", models.OutcomeSkipped, ""},
	} {
		record, err := ledger.RecordAttempt(ctx, "run-1", tc.recipient, "")
		require.NoError(t, err)

		err = ledger.MarkOutcome(ctx, "run-1", tc.recipient, record.AttemptNumber, tc.outcome, tc.detail)
		require.NoError(t, err)
	}

	// A failed then succeeded retry must count once, as succeeded.
	record, err := ledger.RecordAttempt(ctx, "run-1", "rcpt-3", "")
	require.NoError(t, err)
	err = ledger.MarkOutcome(ctx, "run-1", "rcpt-3", record.AttemptNumber, models.OutcomeSucceeded, "")
	require.NoError(t, err)

	summary, err := ledger.Summarize(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, 4, summary.Attempted)
	assert.Equal(t, 3, summary.Succeeded)
	assert.Equal(t, 0, summary.Failed)
	assert.Equal(t, 1, summary.Skipped)
}

func TestHistory_Pagination(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemoryLedger()

	for _, recipient := range []string{"a", "b", "c", "d", "e"} {
		_, err := ledger.RecordAttempt(ctx, "run-1", recipient, "")
		require.NoError(t, err)
	}

	page, err := ledger.History(ctx, "run-1", 2, 0)
	require.NoError(t, err)
	assert.Len(t, page.Records, 2)
	assert.Equal(t, 5, page.TotalCount)
	assert.True(t, page.HasMore)

	page, err = ledger.History(ctx, "run-1", 2, 4)
	require.NoError(t, err)
	assert.Len(t, page.Records, 1)
	assert.False(t, page.HasMore)
}

func TestUpdateOutcomeByCorrelationID(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemoryLedger()

	_, err := ledger.RecordAttempt(ctx, "run-1", "rcpt-1", "provider-msg-9")
	require.NoError(t, err)

	err = ledger.UpdateOutcomeByCorrelationID(ctx, "provider-msg-9", models.OutcomeFailed, "hard bounce")
	require.NoError(t, err)

	summary, err := ledger.Summarize(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, []string{"hard bounce"}, summary.SampleErrors)

	err = ledger.UpdateOutcomeByCorrelationID(ctx, "unknown", models.OutcomeFailed, "")
	assert.ErrorIs(t, err, ErrRecordNotFound)
}
