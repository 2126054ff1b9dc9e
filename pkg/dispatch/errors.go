package dispatch

import (
	"errors"
	"fmt"
)

// RecipientResolutionError defers the whole run: no recipients were touched,
// so the scheduler may retry the run later without idempotence concerns.
type RecipientResolutionError struct {
	ListRef string
	Err     error
}

func (e *RecipientResolutionError) Error() string {
	return fmt.Sprintf("failed to resolve recipients for list %q: %v", e.ListRef, e.Err)
}

func (e *RecipientResolutionError) Unwrap() error {
	return e.Err
}

// RenderError fails a single recipient attempt; the run continues.
type RenderError struct {
	RecipientID string
	ContentRef  string
	Err         error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("failed to render content %q for recipient %q: %v", e.ContentRef, e.RecipientID, e.Err)
}

func (e *RenderError) Unwrap() error {
	return e.Err
}

// TransportError fails a single recipient attempt; the run continues.
type TransportError struct {
	RecipientID string
	Err         error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport send failed for recipient %q: %v", e.RecipientID, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// PersistenceError aborts the run: ledger state is unknown, so dispatch must
// stop and resume later from the surviving records.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("ledger operation %q failed: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// IsDeferrable reports whether the run was not started and may simply be
// retried later.
func IsDeferrable(err error) bool {
	var resolutionErr *RecipientResolutionError

	return errors.As(err, &resolutionErr)
}
