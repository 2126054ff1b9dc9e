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
		Name:                  "herald-clock",
		EnableShellCompletion: true,
		Usage:                 "Start the scheduler clock to fire due campaigns",
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

			tracerProvider, err := otelhelper.InitTracer(ctx, "herald-clock")
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
				workerID = "clock-" + uuid.New().String()[:8]
			}

			logger := log.WithModule("herald-clock").With("worker_id", workerID)

			logger.InfoContext(ctx, "Initializing Herald Clock")

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

			manager := NewClockManager(
				workerID,
				store,
				execLedger,
				eventBus,
				registry,
				command.String("directory-url"),
				logger,
			)

			err = manager.Start(ctx)
			if err != nil {
				logger.ErrorContext(ctx, "Failed to start scheduler clock", "error", err)
			}

			return nil
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
