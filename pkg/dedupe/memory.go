package dedupe

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process Store for tests and single-node development.
type MemoryStore struct {
	mu       sync.Mutex
	reserved map[string]time.Time // key -> expiry
	now      func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		reserved: make(map[string]time.Time),
		now:      time.Now,
	}
}

// NewMemoryStoreWithClock creates a store with an injectable clock for tests.
func NewMemoryStoreWithClock(now func() time.Time) *MemoryStore {
	return &MemoryStore{
		reserved: make(map[string]time.Time),
		now:      now,
	}
}

func (s *MemoryStore) Reserve(_ context.Context, key string, window time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()

	expiry, exists := s.reserved[key]
	if exists && expiry.After(now) {
		return false, nil
	}

	s.reserved[key] = now.Add(window)

	return true, nil
}

func (s *MemoryStore) Release(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.reserved, key)

	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}
