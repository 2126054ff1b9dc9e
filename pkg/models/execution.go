package models

import "time"

// Outcome is the state of one dispatch attempt.
type Outcome string

const (
	OutcomePending   Outcome = "pending"
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
	OutcomeSkipped   Outcome = "skipped"
)

// ExecutionRecord is one ledger entry: a single dispatch attempt for one
// recipient in one run. The (RunID, RecipientID, AttemptNumber) key is
// unique, and at most one pending record exists per (RunID, RecipientID) at
// any time.
type ExecutionRecord struct {
	RunID         string    `json:"run_id"`
	RecipientID   string    `json:"recipient_id"`
	AttemptNumber int       `json:"attempt_number"`
	Outcome       Outcome   `json:"outcome"`
	CorrelationID string    `json:"correlation_id,omitempty"` // matches async transport callbacks
	ErrorDetail   string    `json:"error_detail,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// MaxSampleErrors bounds the error samples carried in a run summary.
const MaxSampleErrors = 10

// RunSummary aggregates per-recipient outcomes for one run. This is the only
// user-visible failure shape; raw errors never escape a run.
type RunSummary struct {
	RunID        string   `json:"run_id"`
	Attempted    int      `json:"attempted"`
	Succeeded    int      `json:"succeeded"`
	Failed       int      `json:"failed"`
	Skipped      int      `json:"skipped"`
	SampleErrors []string `json:"sample_errors,omitempty"`
}

// AddError records a failure, keeping at most MaxSampleErrors samples.
func (s *RunSummary) AddError(detail string) {
	s.Failed++

	if len(s.SampleErrors) < MaxSampleErrors {
		s.SampleErrors = append(s.SampleErrors, detail)
	}
}
