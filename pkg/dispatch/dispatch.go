// Package dispatch fans a campaign run out to its recipients: resolve the
// audience, render per-recipient content, hand messages to the outbound
// transport and record every attempt in the execution ledger.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/heraldkit/herald/pkg/eventbus"
	"github.com/heraldkit/herald/pkg/events"
	"github.com/heraldkit/herald/pkg/ledger"
	"github.com/heraldkit/herald/pkg/models"
	"github.com/heraldkit/herald/pkg/otelhelper"
	"github.com/heraldkit/herald/pkg/protocol"
)

// TransportResolver selects the outbound transport for a delivery channel.
type TransportResolver interface {
	Transport(channel string) (protocol.Transport, error)
}

// ScheduleReader reads the stored schedule back so an in-flight run can
// observe admin status changes.
type ScheduleReader interface {
	ScheduleByID(ctx context.Context, id string) (*models.Schedule, error)
}

// cancelCheckBatch is how many recipients are fed between stored-status
// re-checks during a run.
const cancelCheckBatch = 25

// Fanout executes campaign runs. All collaborators are interfaces; the
// engine never talks to a provider directly.
type Fanout struct {
	directory  protocol.Directory
	renderer   protocol.Renderer
	transports TransportResolver
	ledger     ledger.Ledger
	schedules  ScheduleReader
	publisher  eventbus.EventPublisher
	logger     *slog.Logger
}

func NewFanout(
	directory protocol.Directory,
	renderer protocol.Renderer,
	transports TransportResolver,
	execLedger ledger.Ledger,
	schedules ScheduleReader,
	publisher eventbus.EventPublisher,
	logger *slog.Logger,
) *Fanout {
	return &Fanout{
		directory:  directory,
		renderer:   renderer,
		transports: transports,
		ledger:     execLedger,
		schedules:  schedules,
		publisher:  publisher,
		logger:     logger.With("module", "dispatch"),
	}
}

// Run resolves the schedule's audience and dispatches to every recipient,
// bounded by the schedule settings. It returns the run summary once every
// started attempt has settled.
//
// A RecipientResolutionError means nothing was dispatched and the run may be
// retried as a whole. A PersistenceError means the run stopped early and
// must be resumed; the ledger records written so far make the resume
// idempotent. Per-recipient render and transport failures never fail the
// run; they surface only in the summary.
func (f *Fanout) Run(ctx context.Context, runID string, schedule *models.Schedule, channel string) (*models.RunSummary, error) {
	logger := f.logger.With("run_id", runID, "schedule_id", schedule.ID)

	ctx, span := otelhelper.StartSpan(ctx, otel.Tracer("herald/dispatch"), "dispatch run",
		attribute.String(otelhelper.RunIDKey, runID),
		attribute.String(otelhelper.ScheduleIDKey, schedule.ID),
	)
	defer span.End()

	recipients, err := f.directory.Resolve(ctx, schedule.ListRef, protocol.DefaultExcludeStatuses())
	if err != nil {
		return nil, &RecipientResolutionError{ListRef: schedule.ListRef, Err: err}
	}

	settings := schedule.Settings
	if settings.MaxRecipientsPerRun > 0 && len(recipients) > settings.MaxRecipientsPerRun {
		logger.Warn("Recipient list truncated to run limit",
			"resolved", len(recipients),
			"limit", settings.MaxRecipientsPerRun)

		recipients = recipients[:settings.MaxRecipientsPerRun]
	}

	logger.Info("Starting fan-out", "recipients", len(recipients), "channel", channel)

	workers := settings.ConcurrencyLimit
	if workers <= 0 {
		workers = models.DefaultScheduleSettings().ConcurrencyLimit
	}

	if workers > len(recipients) {
		workers = len(recipients)
	}

	var (
		wg       sync.WaitGroup
		fatalMu  sync.Mutex
		fatalErr error
	)

	queue := make(chan protocol.Recipient)

	// A fatal ledger error stops the feed; in-flight sends still settle.
	runCtx, stop := context.WithCancel(ctx)
	defer stop()

	recordFatal := func(err error) {
		fatalMu.Lock()
		if fatalErr == nil {
			fatalErr = err
		}
		fatalMu.Unlock()
		stop()
	}

	for range workers {
		wg.Add(1)

		go func() {
			defer wg.Done()

			for recipient := range queue {
				if ctx.Err() != nil {
					// Run was cancelled: the recipient was never attempted.
					f.recordSkipped(runID, recipient.ID, "run cancelled")
					continue
				}

				err := f.dispatchRecipient(runCtx, runID, schedule.ContentRef, channel, recipient)

				var persistenceErr *PersistenceError
				if errors.As(err, &persistenceErr) {
					recordFatal(err)
				}
			}
		}()
	}

	fed := 0

	for i, recipient := range recipients {
		// An admin cancel must cut a run short, not just stop future claims.
		if i > 0 && i%cancelCheckBatch == 0 && f.scheduleCancelled(ctx, schedule.ID) {
			logger.Info("Run cut short by schedule cancellation",
				"dispatched", fed,
				"remaining", len(recipients)-fed)

			break
		}

		queue <- recipient
		fed++
	}

	close(queue)
	wg.Wait()

	// Recipients that were never fed settle as skipped, so the summary
	// accounts for everyone the directory resolved.
	for _, recipient := range recipients[fed:] {
		f.recordSkipped(runID, recipient.ID, "schedule cancelled")
	}

	summary, err := f.ledger.Summarize(context.WithoutCancel(ctx), runID)
	if err != nil {
		return nil, &PersistenceError{Op: "summarize", Err: err}
	}

	logger.Info("Fan-out settled",
		"attempted", summary.Attempted,
		"succeeded", summary.Succeeded,
		"failed", summary.Failed,
		"skipped", summary.Skipped)

	return summary, fatalErr
}

// DispatchOne dispatches a single recipient, used by workflow action nodes.
// The same ledger gate applies: a recipient with a pending, succeeded or
// skipped record for this run is never dispatched again.
func (f *Fanout) DispatchOne(ctx context.Context, runID, contentRef, channel, recipientID string) error {
	recipient, err := f.directory.Recipient(ctx, recipientID)
	if err != nil {
		return &RecipientResolutionError{ListRef: recipientID, Err: err}
	}

	return f.dispatchRecipient(ctx, runID, contentRef, channel, *recipient)
}

// dispatchRecipient performs one gated render-and-send. Render and transport
// failures are recorded as failed attempts and returned as typed errors;
// only ledger failures are fatal.
func (f *Fanout) dispatchRecipient(ctx context.Context, runID, contentRef, channel string, recipient protocol.Recipient) error {
	logger := f.logger.With("run_id", runID, "recipient_id", recipient.ID)

	gated, err := f.ledger.HasNonFailed(ctx, runID, recipient.ID)
	if err != nil {
		return &PersistenceError{Op: "has_non_failed", Err: err}
	}

	if gated {
		logger.Debug("Recipient already dispatched for run, skipping")
		return nil
	}

	correlationID := uuid.NewString()

	record, err := f.ledger.RecordAttempt(ctx, runID, recipient.ID, correlationID)
	if err != nil {
		if errors.Is(err, ledger.ErrPendingAttemptExists) {
			// Another worker opened an attempt between the gate check and
			// the insert; that attempt owns the recipient.
			logger.Debug("Concurrent attempt already pending, skipping")
			return nil
		}

		return &PersistenceError{Op: "record_attempt", Err: err}
	}

	message, err := f.renderer.Render(ctx, contentRef, recipient.Attributes)
	if err != nil {
		renderErr := &RenderError{RecipientID: recipient.ID, ContentRef: contentRef, Err: err}
		if markErr := f.markOutcome(ctx, record, models.OutcomeFailed, renderErr.Error()); markErr != nil {
			return markErr
		}

		logger.Warn("Render failed", "content_ref", contentRef, "error", err)

		return renderErr
	}

	transport, err := f.transports.Transport(channel)
	if err != nil {
		transportErr := &TransportError{RecipientID: recipient.ID, Err: err}
		if markErr := f.markOutcome(ctx, record, models.OutcomeFailed, transportErr.Error()); markErr != nil {
			return markErr
		}

		return transportErr
	}

	result, err := transport.Send(ctx, recipient.Address, message, correlationID)
	if err == nil && !result.Accepted {
		err = errors.New("provider rejected message")
	}

	if err != nil {
		transportErr := &TransportError{RecipientID: recipient.ID, Err: err}
		if markErr := f.markOutcome(ctx, record, models.OutcomeFailed, transportErr.Error()); markErr != nil {
			return markErr
		}

		logger.Warn("Transport send failed", "error", err)

		return transportErr
	}

	if err := f.markOutcome(ctx, record, models.OutcomeSucceeded, ""); err != nil {
		return err
	}

	logger.Debug("Dispatch succeeded", "provider_message_id", result.ProviderMessageID)

	return nil
}

// scheduleCancelled re-reads the stored schedule. Pause is deliberately not
// checked here: a paused schedule lets its in-flight run finish.
func (f *Fanout) scheduleCancelled(ctx context.Context, scheduleID string) bool {
	if f.schedules == nil {
		return false
	}

	stored, err := f.schedules.ScheduleByID(ctx, scheduleID)
	if err != nil {
		f.logger.Warn("Failed to re-check schedule status", "schedule_id", scheduleID, "error", err)
		return false
	}

	return stored.Status == models.ScheduleStatusCancelled
}

// recordSkipped marks a never-attempted recipient as skipped, detached from
// the possibly-cancelled run context.
func (f *Fanout) recordSkipped(runID, recipientID, detail string) {
	ctx := context.WithoutCancel(context.Background())

	record, err := f.ledger.RecordAttempt(ctx, runID, recipientID, uuid.NewString())
	if err != nil {
		return
	}

	_ = f.markOutcome(ctx, record, models.OutcomeSkipped, detail)
}

func (f *Fanout) markOutcome(ctx context.Context, record *models.ExecutionRecord, outcome models.Outcome, detail string) error {
	// Outcome writes survive run cancellation so the ledger never keeps a
	// pending record for a settled send.
	ctx = context.WithoutCancel(ctx)

	err := f.ledger.MarkOutcome(ctx, record.RunID, record.RecipientID, record.AttemptNumber, outcome, detail)
	if err != nil {
		return &PersistenceError{Op: "mark_outcome", Err: err}
	}

	f.publishRecorded(ctx, record, outcome, detail)

	return nil
}

func (f *Fanout) publishRecorded(ctx context.Context, record *models.ExecutionRecord, outcome models.Outcome, detail string) {
	if f.publisher == nil {
		return
	}

	event := events.DispatchRecorded{
		BaseEvent:   events.NewBaseEvent(events.DispatchRecordedEvent, record.RunID),
		RunID:       record.RunID,
		RecipientID: record.RecipientID,
		Outcome:     outcome,
		Error:       detail,
	}

	if err := f.publisher.Publish(ctx, record.RunID, event); err != nil {
		f.logger.Warn("Failed to publish dispatch event", "error", err)
	}
}
