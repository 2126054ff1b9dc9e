// Package cmd provides common initialization for the herald binaries.
package cmd

import (
	"context"
	"log/slog"
	"strings"

	"github.com/heraldkit/herald/pkg/persistence"
	"github.com/heraldkit/herald/pkg/persistence/memory"
	"github.com/heraldkit/herald/pkg/persistence/postgresql"
)

// NewPersistence selects the store from the database URL scheme. Anything
// that is not postgres gets the in-memory store, which is for development
// only: nothing survives a restart.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) persistence.Persistence {
	switch {
	case strings.HasPrefix(databaseURL, "postgres://"), strings.HasPrefix(databaseURL, "postgresql://"):
		store, err := postgresql.NewPersistence(ctx, logger, databaseURL)
		if err != nil {
			panic(err)
		}

		return store
	default:
		logger.WarnContext(ctx, "Using in-memory persistence, state will not survive restarts")

		return memory.NewPersistence()
	}
}
