package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"

	"github.com/heraldkit/herald/pkg/cmd"
	"github.com/heraldkit/herald/pkg/log"
	"github.com/heraldkit/herald/pkg/otelhelper"
)

func main() {
	command := &cli.Command{
		Name:                  "herald-ingest",
		EnableShellCompletion: true,
		Usage:                 "Consume trigger events and transport callbacks from the event bus",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "worker-id",
				Aliases: []string{"id"},
				Usage:   "Custom worker ID (auto-generated if not provided)",
				Value:   "",
				Sources: cli.EnvVars("WORKER_ID"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:     "event-bus",
				Usage:    "Event bus type (kafka, gochannel)",
				Required: true,
				Sources:  cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:     "directory-url",
				Usage:    "Base URL of the recipient directory service",
				Required: true,
				Sources:  cli.EnvVars("DIRECTORY_URL"),
			},
			&cli.StringFlag{
				Name:    "redis-url",
				Usage:   "Redis URL for trigger event deduplication (in-memory if not provided)",
				Value:   "",
				Sources: cli.EnvVars("REDIS_URL"),
			},
			&cli.StringFlag{
				Name:    "webhook-url",
				Usage:   "Provider webhook URL for the webhook transport",
				Value:   "",
				Sources: cli.EnvVars("WEBHOOK_URL"),
			},
			&cli.StringFlag{
				Name:    "webhook-headers",
				Usage:   "Extra webhook headers as comma separated Key=Value pairs",
				Value:   "",
				Sources: cli.EnvVars("WEBHOOK_HEADERS"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			tracerProvider, err := otelhelper.InitTracer(ctx, "herald-ingest")
			if err != nil {
				return fmt.Errorf("failed to initialize tracer: %w", err)
			}
			defer func() {
				if err := tracerProvider.Shutdown(ctx); err != nil {
					slog.Error("Failed to shutdown tracer provider", "error", err)
				}
			}()

			workerID := command.String("worker-id")
			if workerID == "" {
				workerID = "ingest-" + uuid.New().String()[:8]
			}

			logger := log.WithModule("herald-ingest").With("worker_id", workerID)

			logger.InfoContext(ctx, "Initializing Herald Ingest")

			registry := cmd.NewRegistry(
				logger,
				command.String("webhook-url"),
				cmd.ParseHeaders(command.String("webhook-headers")),
			)

			eventBus := cmd.NewEventBus(command.String("event-bus"), logger)
			defer func() {
				err := eventBus.Close()
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			store := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			defer func() {
				err := store.Close(ctx)
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			execLedger := cmd.NewLedger(ctx, logger, command.String("database-url"))

			dedupeStore, err := cmd.NewDedupeStore(ctx, logger, command.String("redis-url"))
			if err != nil {
				return err
			}

			manager := NewIngestManager(
				workerID,
				store,
				execLedger,
				dedupeStore,
				eventBus,
				registry,
				command.String("directory-url"),
				logger,
			)

			err = manager.Start(ctx)
			if err != nil {
				logger.ErrorContext(ctx, "Failed to start ingest manager", "error", err)
			}

			return nil
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
