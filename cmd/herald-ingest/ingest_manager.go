package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/heraldkit/herald/pkg/dedupe"
	"github.com/heraldkit/herald/pkg/dispatch"
	"github.com/heraldkit/herald/pkg/eventbus"
	"github.com/heraldkit/herald/pkg/events"
	"github.com/heraldkit/herald/pkg/ledger"
	"github.com/heraldkit/herald/pkg/models"
	"github.com/heraldkit/herald/pkg/persistence"
	"github.com/heraldkit/herald/pkg/providers/httpdirectory"
	"github.com/heraldkit/herald/pkg/registry"
	"github.com/heraldkit/herald/pkg/workflow"
)

// IngestManager consumes inbound trigger events, matches them against active
// workflows and advances the instances the matcher creates. It also applies
// asynchronous transport callbacks to the execution ledger.
type IngestManager struct {
	id           string
	logger       *slog.Logger
	store        persistence.Persistence
	ledger       ledger.Ledger
	dedupe       dedupe.Store
	eventBus     eventbus.EventBus
	registry     *registry.Registry
	directoryURL string

	matcher  *workflow.Matcher
	executor *workflow.Executor
}

func NewIngestManager(
	id string,
	store persistence.Persistence,
	execLedger ledger.Ledger,
	dedupeStore dedupe.Store,
	eventBus eventbus.EventBus,
	registry *registry.Registry,
	directoryURL string,
	logger *slog.Logger,
) *IngestManager {
	return &IngestManager{
		id:           id,
		logger:       logger.With("module", "herald-ingest", "worker_id", id),
		store:        store,
		ledger:       execLedger,
		dedupe:       dedupeStore,
		eventBus:     eventBus,
		registry:     registry,
		directoryURL: directoryURL,
	}
}

func (m *IngestManager) Start(ctx context.Context) error {
	m.logger.InfoContext(ctx, "Starting ingest manager", "worker_id", m.id)

	directory := httpdirectory.NewDirectory(m.directoryURL)

	renderer, err := m.registry.Renderer()
	if err != nil {
		return err
	}

	fanout := dispatch.NewFanout(directory, renderer, m.registry, m.ledger, m.store.ScheduleRepository(), m.eventBus, m.logger)

	m.matcher = workflow.NewMatcher(
		m.store.WorkflowRepository(),
		m.store.InstanceRepository(),
		directory,
		m.dedupe,
		m.eventBus,
		m.logger,
	)
	m.executor = workflow.NewExecutor(
		m.store.WorkflowRepository(),
		m.store.InstanceRepository(),
		directory,
		fanout,
		m.eventBus,
		m.logger,
	)

	m.eventBus.Handle(events.TriggerEventReceivedEvent, m.handleTriggerEvent)
	m.eventBus.Handle(events.TransportCallbackEvent, m.handleTransportCallback)

	err = m.eventBus.Subscribe(ctx)
	if err != nil {
		m.logger.ErrorContext(ctx, "Failed to subscribe to event bus", "error", err)

		return err
	}

	m.logger.InfoContext(ctx, "Ingest manager started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	<-sigChan
	m.logger.InfoContext(ctx, "Shutting down ingest manager...")

	return nil
}

func (m *IngestManager) handleTriggerEvent(ctx context.Context, event any) error {
	received, ok := event.(*events.TriggerEventReceived)
	if !ok {
		m.logger.ErrorContext(ctx, "Invalid event type for TriggerEventReceived")

		return nil
	}

	logger := m.logger.With(
		"event_type", received.Event.EventType,
		"recipient_id", received.Event.RecipientID,
	)
	logger.InfoContext(ctx, "Processing trigger event")

	instances, err := m.matcher.Match(ctx, &received.Event)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to match trigger event", "error", err)

		return err
	}

	for _, instance := range instances {
		if instance.Status != models.InstanceStatusActive {
			continue
		}

		err := m.executor.Run(ctx, instance)
		if err != nil {
			logger.ErrorContext(ctx, "Failed to advance instance", "instance_id", instance.ID, "error", err)
		}
	}

	return nil
}

func (m *IngestManager) handleTransportCallback(ctx context.Context, event any) error {
	callback, ok := event.(*events.TransportCallback)
	if !ok {
		m.logger.ErrorContext(ctx, "Invalid event type for TransportCallback")

		return nil
	}

	err := m.ledger.UpdateOutcomeByCorrelationID(ctx, callback.CorrelationID, callback.Outcome, callback.Detail)
	if err != nil {
		m.logger.ErrorContext(ctx, "Failed to apply transport callback",
			"correlation_id", callback.CorrelationID, "error", err)

		return err
	}

	return nil
}
