package cmd

import (
	"context"
	"log/slog"
	"strings"

	"github.com/heraldkit/herald/pkg/ledger"
)

// NewLedger selects the execution ledger backend from the database URL
// scheme, mirroring NewPersistence. Both stores can share one Postgres
// database; the ledger keeps its own tables.
func NewLedger(ctx context.Context, logger *slog.Logger, databaseURL string) ledger.Ledger {
	switch {
	case strings.HasPrefix(databaseURL, "postgres://"), strings.HasPrefix(databaseURL, "postgresql://"):
		led, err := ledger.NewPostgresLedger(ctx, logger, databaseURL)
		if err != nil {
			panic(err)
		}

		return led
	default:
		return ledger.NewMemoryLedger()
	}
}
