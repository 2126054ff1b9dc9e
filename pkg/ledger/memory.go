package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/heraldkit/herald/pkg/models"
)

// MemoryLedger is an in-memory ledger for tests and local development.
type MemoryLedger struct {
	mu      sync.RWMutex
	records map[string][]*models.ExecutionRecord // keyed by runID + "/" + recipientID
	byRun   map[string][]*models.ExecutionRecord
}

// NewMemoryLedger creates an empty in-memory ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		records: make(map[string][]*models.ExecutionRecord),
		byRun:   make(map[string][]*models.ExecutionRecord),
	}
}

func pairKey(runID, recipientID string) string {
	return runID + "/" + recipientID
}

func (l *MemoryLedger) RecordAttempt(_ context.Context, runID, recipientID, correlationID string) (*models.ExecutionRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	existing := l.records[pairKey(runID, recipientID)]

	for _, record := range existing {
		if record.Outcome == models.OutcomePending {
			return nil, fmt.Errorf("run %s recipient %s: %w", runID, recipientID, ErrPendingAttemptExists)
		}
	}

	record := &models.ExecutionRecord{
		RunID:         runID,
		RecipientID:   recipientID,
		AttemptNumber: nextAttemptNumber(existing),
		Outcome:       models.OutcomePending,
		CorrelationID: correlationID,
	}
	touch(record)

	l.records[pairKey(runID, recipientID)] = append(existing, record)
	l.byRun[runID] = append(l.byRun[runID], record)

	out := *record

	return &out, nil
}

func (l *MemoryLedger) MarkOutcome(_ context.Context, runID, recipientID string, attemptNumber int, outcome models.Outcome, errorDetail string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, record := range l.records[pairKey(runID, recipientID)] {
		if record.AttemptNumber == attemptNumber {
			record.Outcome = outcome
			record.ErrorDetail = errorDetail
			touch(record)

			return nil
		}
	}

	return fmt.Errorf("run %s recipient %s attempt %d: %w", runID, recipientID, attemptNumber, ErrRecordNotFound)
}

func (l *MemoryLedger) HasSucceeded(_ context.Context, runID, recipientID string) (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	for _, record := range l.records[pairKey(runID, recipientID)] {
		if record.Outcome == models.OutcomeSucceeded {
			return true, nil
		}
	}

	return false, nil
}

func (l *MemoryLedger) HasNonFailed(_ context.Context, runID, recipientID string) (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	for _, record := range l.records[pairKey(runID, recipientID)] {
		if record.Outcome != models.OutcomeFailed {
			return true, nil
		}
	}

	return false, nil
}

func (l *MemoryLedger) Summarize(_ context.Context, runID string) (*models.RunSummary, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return summarize(runID, l.byRun[runID]), nil
}

func (l *MemoryLedger) History(_ context.Context, runID string, limit, offset int) (*HistoryPage, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	all := append([]*models.ExecutionRecord(nil), l.byRun[runID]...)

	sort.Slice(all, func(i, j int) bool {
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})

	total := len(all)

	if offset > total {
		offset = total
	}

	end := offset + limit
	if limit <= 0 || end > total {
		end = total
	}

	page := make([]*models.ExecutionRecord, 0, end-offset)
	for _, record := range all[offset:end] {
		out := *record
		page = append(page, &out)
	}

	return &HistoryPage{
		Records:    page,
		TotalCount: total,
		HasMore:    end < total,
	}, nil
}

func (l *MemoryLedger) UpdateOutcomeByCorrelationID(_ context.Context, correlationID string, outcome models.Outcome, errorDetail string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, records := range l.records {
		for _, record := range records {
			if record.CorrelationID == correlationID {
				record.Outcome = outcome
				record.ErrorDetail = errorDetail
				touch(record)

				return nil
			}
		}
	}

	return fmt.Errorf("correlation %s: %w", correlationID, ErrRecordNotFound)
}
