package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/heraldkit/herald/pkg/dispatch"
	"github.com/heraldkit/herald/pkg/eventbus"
	"github.com/heraldkit/herald/pkg/ledger"
	"github.com/heraldkit/herald/pkg/persistence"
	"github.com/heraldkit/herald/pkg/providers/httpdirectory"
	"github.com/heraldkit/herald/pkg/registry"
	"github.com/heraldkit/herald/pkg/scheduler"
	"github.com/heraldkit/herald/pkg/workflow"
)

type ClockManager struct {
	id           string
	logger       *slog.Logger
	store        persistence.Persistence
	ledger       ledger.Ledger
	eventBus     eventbus.EventBus
	registry     *registry.Registry
	directoryURL string
}

func NewClockManager(
	id string,
	store persistence.Persistence,
	execLedger ledger.Ledger,
	eventBus eventbus.EventBus,
	registry *registry.Registry,
	directoryURL string,
	logger *slog.Logger,
) *ClockManager {
	return &ClockManager{
		id:           id,
		logger:       logger.With("module", "herald-clock", "worker_id", id),
		store:        store,
		ledger:       execLedger,
		eventBus:     eventBus,
		registry:     registry,
		directoryURL: directoryURL,
	}
}

func (m *ClockManager) Start(ctx context.Context) error {
	m.logger.InfoContext(ctx, "Starting scheduler clock", "worker_id", m.id)

	directory := httpdirectory.NewDirectory(m.directoryURL)

	renderer, err := m.registry.Renderer()
	if err != nil {
		return err
	}

	fanout := dispatch.NewFanout(directory, renderer, m.registry, m.ledger, m.store.ScheduleRepository(), m.eventBus, m.logger)
	executor := workflow.NewExecutor(
		m.store.WorkflowRepository(),
		m.store.InstanceRepository(),
		directory,
		fanout,
		m.eventBus,
		m.logger,
	)

	clock := scheduler.NewClock(m.id, m.store, fanout, executor, directory, m.eventBus, m.logger)

	err = clock.Start(ctx)
	if err != nil {
		return err
	}

	m.logger.InfoContext(ctx, "Scheduler clock started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	<-sigChan
	m.logger.InfoContext(ctx, "Shutting down scheduler clock...")

	return clock.Stop(ctx)
}
