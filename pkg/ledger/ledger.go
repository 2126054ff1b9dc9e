// Package ledger provides the durable per-recipient dispatch attempt log.
// The ledger is the sole source of truth for dispatch idempotence across
// retries and process restarts.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/heraldkit/herald/pkg/models"
)

var (
	// ErrPendingAttemptExists indicates a pending record already exists for
	// the (run, recipient) pair. At most one pending attempt is allowed.
	ErrPendingAttemptExists = errors.New("pending attempt already exists")

	// ErrRecordNotFound indicates no ledger record matched the query.
	ErrRecordNotFound = errors.New("execution record not found")
)

// HistoryPage is one page of ledger records.
type HistoryPage struct {
	Records    []*models.ExecutionRecord `json:"records"`
	TotalCount int                       `json:"total_count"`
	HasMore    bool                      `json:"has_more"`
}

// Ledger is the append/query store of dispatch attempts.
type Ledger interface {
	// RecordAttempt appends a pending record with the next attempt number
	// for (runID, recipientID). Fails with ErrPendingAttemptExists when a
	// pending record is already open.
	RecordAttempt(ctx context.Context, runID, recipientID, correlationID string) (*models.ExecutionRecord, error)

	// MarkOutcome resolves an attempt to a terminal outcome.
	MarkOutcome(ctx context.Context, runID, recipientID string, attemptNumber int, outcome models.Outcome, errorDetail string) error

	// HasSucceeded reports whether any attempt for (runID, recipientID)
	// succeeded.
	HasSucceeded(ctx context.Context, runID, recipientID string) (bool, error)

	// HasNonFailed reports whether any pending, succeeded or skipped record
	// exists for (runID, recipientID). Dispatch skips such recipients.
	HasNonFailed(ctx context.Context, runID, recipientID string) (bool, error)

	// Summarize aggregates outcomes for a run.
	Summarize(ctx context.Context, runID string) (*models.RunSummary, error)

	// History returns ledger records for a run, newest first, paginated.
	History(ctx context.Context, runID string, limit, offset int) (*HistoryPage, error)

	// UpdateOutcomeByCorrelationID resolves an attempt matched by the
	// correlation id carried on asynchronous transport callbacks.
	UpdateOutcomeByCorrelationID(ctx context.Context, correlationID string, outcome models.Outcome, errorDetail string) error
}

// nextAttemptNumber computes the attempt number for a new record given the
// existing records of a (run, recipient) pair.
func nextAttemptNumber(existing []*models.ExecutionRecord) int {
	max := 0

	for _, record := range existing {
		if record.AttemptNumber > max {
			max = record.AttemptNumber
		}
	}

	return max + 1
}

// summarize folds records into a run summary, skipping pending attempts from
// the failure counters while still counting them as attempted.
func summarize(runID string, records []*models.ExecutionRecord) *models.RunSummary {
	summary := &models.RunSummary{RunID: runID}

	// Only the latest attempt per recipient counts toward the summary.
	latest := make(map[string]*models.ExecutionRecord)

	for _, record := range records {
		current, ok := latest[record.RecipientID]
		if !ok || record.AttemptNumber > current.AttemptNumber {
			latest[record.RecipientID] = record
		}
	}

	for _, record := range latest {
		summary.Attempted++

		switch record.Outcome {
		case models.OutcomeSucceeded:
			summary.Succeeded++
		case models.OutcomeFailed:
			summary.AddError(record.ErrorDetail)
		case models.OutcomeSkipped:
			summary.Skipped++
		case models.OutcomePending:
		}
	}

	return summary
}

// touch stamps record timestamps consistently across implementations.
func touch(record *models.ExecutionRecord) {
	now := time.Now().UTC()

	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}

	record.UpdatedAt = now
}
