package cmd

import (
	"context"
	"log/slog"

	"github.com/heraldkit/herald/pkg/dedupe"
)

// NewDedupeStore returns a Redis-backed dedupe store when a URL is given,
// falling back to the in-memory store. The in-memory store only dedupes
// within a single process, so it is not safe for multi-worker ingest.
func NewDedupeStore(ctx context.Context, logger *slog.Logger, redisURL string) (dedupe.Store, error) {
	if redisURL == "" {
		logger.WarnContext(ctx, "Using in-memory dedupe store, duplicates are only absorbed per process")

		return dedupe.NewMemoryStore(), nil
	}

	return dedupe.NewRedisStore(ctx, redisURL)
}
