// Package dedupe provides the short-lived reservation store used to suppress
// duplicate trigger event deliveries. Reservations expire with the dedupe
// window; durable frequency caps are enforced against instance creation
// history, not this store.
package dedupe

import (
	"context"
	"time"
)

// Store reserves keys for a bounded window.
type Store interface {
	// Reserve marks key as seen for the given window. Returns true when this
	// caller made the reservation, false when the key was already reserved.
	Reserve(ctx context.Context, key string, window time.Duration) (bool, error)

	// Release drops a reservation early, so a transient failure after
	// Reserve does not absorb the redelivered event as a duplicate.
	Release(ctx context.Context, key string) error

	Close() error
}
