package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heraldkit/herald/pkg/ledger"
	"github.com/heraldkit/herald/pkg/models"
	"github.com/heraldkit/herald/pkg/protocol"
)

type stubDirectory struct {
	recipients []protocol.Recipient
	resolveErr error
	suppressed map[string]bool
}

func (d *stubDirectory) Resolve(_ context.Context, _ string, _ []string) ([]protocol.Recipient, error) {
	if d.resolveErr != nil {
		return nil, d.resolveErr
	}

	return d.recipients, nil
}

func (d *stubDirectory) IsSuppressed(_ context.Context, recipientID string) (bool, error) {
	return d.suppressed[recipientID], nil
}

func (d *stubDirectory) Recipient(_ context.Context, recipientID string) (*protocol.Recipient, error) {
	for _, recipient := range d.recipients {
		if recipient.ID == recipientID {
			return &recipient, nil
		}
	}

	return nil, fmt.Errorf("recipient %s not found", recipientID)
}

type stubRenderer struct {
	failFor map[string]bool
}

func (r *stubRenderer) Render(_ context.Context, contentRef string, attributes map[string]any) (*protocol.RenderedMessage, error) {
	name, _ := attributes["name"].(string)
	if r.failFor[name] {
		return nil, errors.New("template variable missing")
	}

	return &protocol.RenderedMessage{Subject: "hello " + name, TextBody: contentRef}, nil
}

type stubTransport struct {
	mu       sync.Mutex
	sent     []string
	failFor  map[string]bool
	rejected map[string]bool
}

func (t *stubTransport) Send(_ context.Context, address string, _ *protocol.RenderedMessage, _ string) (*protocol.SendResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.failFor[address] {
		return nil, errors.New("connection reset")
	}

	if t.rejected[address] {
		return &protocol.SendResult{Accepted: false}, nil
	}

	t.sent = append(t.sent, address)

	return &protocol.SendResult{Accepted: true, ProviderMessageID: "pm-" + address}, nil
}

func (t *stubTransport) sentAddresses() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	return append([]string(nil), t.sent...)
}

type stubResolver struct {
	transport protocol.Transport
	err       error
}

func (r *stubResolver) Transport(_ string) (protocol.Transport, error) {
	if r.err != nil {
		return nil, r.err
	}

	return r.transport, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testSchedule() *models.Schedule {
	return &models.Schedule{
		ID:         "sched-1",
		Owner:      "acme",
		Name:       "Welcome Blast",
		Type:       models.ScheduleTypeOneTime,
		Status:     models.ScheduleStatusRunning,
		ContentRef: "welcome-v2",
		ListRef:    "list-all",
		Settings:   models.DefaultScheduleSettings(),
	}
}

func testRecipients(n int) []protocol.Recipient {
	recipients := make([]protocol.Recipient, 0, n)
	for i := range n {
		id := fmt.Sprintf("r-%d", i)
		recipients = append(recipients, protocol.Recipient{
			ID:         id,
			Address:    id + "@example.com",
			Attributes: map[string]any{"name": id},
		})
	}

	return recipients
}

func TestFanout_Run_AllSucceed(t *testing.T) {
	execLedger := ledger.NewMemoryLedger()
	transport := &stubTransport{}
	fanout := NewFanout(
		&stubDirectory{recipients: testRecipients(5)},
		&stubRenderer{},
		&stubResolver{transport: transport},
		execLedger,
		nil,
		nil,
		testLogger(),
	)

	summary, err := fanout.Run(context.Background(), "run-1", testSchedule(), "email")
	require.NoError(t, err)

	assert.Equal(t, 5, summary.Attempted)
	assert.Equal(t, 5, summary.Succeeded)
	assert.Equal(t, 0, summary.Failed)
	assert.Len(t, transport.sentAddresses(), 5)
}

func TestFanout_Run_PartialFailure(t *testing.T) {
	execLedger := ledger.NewMemoryLedger()
	transport := &stubTransport{failFor: map[string]bool{"r-1@example.com": true}}
	fanout := NewFanout(
		&stubDirectory{recipients: testRecipients(3)},
		&stubRenderer{},
		&stubResolver{transport: transport},
		execLedger,
		nil,
		nil,
		testLogger(),
	)

	summary, err := fanout.Run(context.Background(), "run-1", testSchedule(), "email")
	require.NoError(t, err)

	// One transport failure must not fail the run, only the recipient.
	assert.Equal(t, 3, summary.Attempted)
	assert.Equal(t, 2, summary.Succeeded)
	assert.Equal(t, 1, summary.Failed)
	require.Len(t, summary.SampleErrors, 1)
	assert.Contains(t, summary.SampleErrors[0], "connection reset")
}

func TestFanout_Run_RenderFailureIsPerRecipient(t *testing.T) {
	execLedger := ledger.NewMemoryLedger()
	transport := &stubTransport{}
	fanout := NewFanout(
		&stubDirectory{recipients: testRecipients(3)},
		&stubRenderer{failFor: map[string]bool{"r-2": true}},
		&stubResolver{transport: transport},
		execLedger,
		nil,
		nil,
		testLogger(),
	)

	summary, err := fanout.Run(context.Background(), "run-1", testSchedule(), "email")
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Succeeded)
	assert.Equal(t, 1, summary.Failed)
	assert.Len(t, transport.sentAddresses(), 2)
}

func TestFanout_Run_ResolutionErrorDefersRun(t *testing.T) {
	execLedger := ledger.NewMemoryLedger()
	fanout := NewFanout(
		&stubDirectory{resolveErr: errors.New("directory unavailable")},
		&stubRenderer{},
		&stubResolver{transport: &stubTransport{}},
		execLedger,
		nil,
		nil,
		testLogger(),
	)

	summary, err := fanout.Run(context.Background(), "run-1", testSchedule(), "email")
	require.Error(t, err)
	assert.Nil(t, summary)
	assert.True(t, IsDeferrable(err))

	// Nothing was recorded, so a retry starts clean.
	ledgerSummary, err := execLedger.Summarize(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, 0, ledgerSummary.Attempted)
}

func TestFanout_Run_IdempotentAcrossRetry(t *testing.T) {
	execLedger := ledger.NewMemoryLedger()
	transport := &stubTransport{failFor: map[string]bool{"r-1@example.com": true}}
	directory := &stubDirectory{recipients: testRecipients(3)}
	fanout := NewFanout(directory, &stubRenderer{}, &stubResolver{transport: transport}, execLedger, nil, nil, testLogger())

	_, err := fanout.Run(context.Background(), "run-1", testSchedule(), "email")
	require.NoError(t, err)
	require.Len(t, transport.sentAddresses(), 2)

	// Retry with a healthy transport: only the failed recipient goes out.
	transport.failFor = nil

	summary, err := fanout.Run(context.Background(), "run-1", testSchedule(), "email")
	require.NoError(t, err)

	assert.Len(t, transport.sentAddresses(), 3)
	assert.Equal(t, 3, summary.Attempted)
	assert.Equal(t, 3, summary.Succeeded)
	assert.Equal(t, 0, summary.Failed)
}

func TestFanout_Run_TruncatesToRecipientLimit(t *testing.T) {
	execLedger := ledger.NewMemoryLedger()
	transport := &stubTransport{}
	schedule := testSchedule()
	schedule.Settings.MaxRecipientsPerRun = 4

	fanout := NewFanout(
		&stubDirectory{recipients: testRecipients(10)},
		&stubRenderer{},
		&stubResolver{transport: transport},
		execLedger,
		nil,
		nil,
		testLogger(),
	)

	summary, err := fanout.Run(context.Background(), "run-1", schedule, "email")
	require.NoError(t, err)

	assert.Equal(t, 4, summary.Attempted)
	assert.Len(t, transport.sentAddresses(), 4)
}

func TestFanout_DispatchOne(t *testing.T) {
	execLedger := ledger.NewMemoryLedger()
	transport := &stubTransport{}
	directory := &stubDirectory{recipients: testRecipients(1)}
	fanout := NewFanout(directory, &stubRenderer{}, &stubResolver{transport: transport}, execLedger, nil, nil, testLogger())

	err := fanout.DispatchOne(context.Background(), "run-1", "welcome-v2", "email", "r-0")
	require.NoError(t, err)

	succeeded, err := execLedger.HasSucceeded(context.Background(), "run-1", "r-0")
	require.NoError(t, err)
	assert.True(t, succeeded)

	// Second dispatch for the same run is gated by the ledger.
	err = fanout.DispatchOne(context.Background(), "run-1", "welcome-v2", "email", "r-0")
	require.NoError(t, err)
	assert.Len(t, transport.sentAddresses(), 1)
}

func TestFanout_DispatchOne_UnknownChannel(t *testing.T) {
	execLedger := ledger.NewMemoryLedger()
	directory := &stubDirectory{recipients: testRecipients(1)}
	fanout := NewFanout(
		directory,
		&stubRenderer{},
		&stubResolver{err: errors.New("channel 'fax' not registered")},
		execLedger,
		nil,
		nil,
		testLogger(),
	)

	err := fanout.DispatchOne(context.Background(), "run-1", "welcome-v2", "fax", "r-0")

	var transportErr *TransportError
	require.ErrorAs(t, err, &transportErr)

	// The failed attempt is on the ledger, so a later retry can pick it up.
	summary, sumErr := execLedger.Summarize(context.Background(), "run-1")
	require.NoError(t, sumErr)
	assert.Equal(t, 1, summary.Failed)
}

func TestFanout_Run_ProviderRejectionFailsRecipient(t *testing.T) {
	execLedger := ledger.NewMemoryLedger()
	transport := &stubTransport{rejected: map[string]bool{"r-0@example.com": true}}
	fanout := NewFanout(
		&stubDirectory{recipients: testRecipients(2)},
		&stubRenderer{},
		&stubResolver{transport: transport},
		execLedger,
		nil,
		nil,
		testLogger(),
	)

	summary, err := fanout.Run(context.Background(), "run-1", testSchedule(), "email")
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Succeeded)
	assert.Equal(t, 1, summary.Failed)
	assert.Contains(t, summary.SampleErrors[0], "rejected")
}

type stubScheduleReader struct {
	status models.ScheduleStatus
}

func (r *stubScheduleReader) ScheduleByID(_ context.Context, id string) (*models.Schedule, error) {
	schedule := testSchedule()
	schedule.ID = id
	schedule.Status = r.status

	return schedule, nil
}

func TestFanout_Run_AdminCancelSkipsRemainingRecipients(t *testing.T) {
	execLedger := ledger.NewMemoryLedger()
	transport := &stubTransport{}
	fanout := NewFanout(
		&stubDirectory{recipients: testRecipients(60)},
		&stubRenderer{},
		&stubResolver{transport: transport},
		execLedger,
		&stubScheduleReader{status: models.ScheduleStatusCancelled},
		nil,
		testLogger(),
	)

	summary, err := fanout.Run(context.Background(), "run-1", testSchedule(), "email")
	require.NoError(t, err)

	// The first stored-status re-check lands after one batch; everyone
	// behind it settles as skipped instead of being sent.
	assert.Equal(t, 60, summary.Attempted)
	assert.Equal(t, cancelCheckBatch, summary.Succeeded)
	assert.Equal(t, 60-cancelCheckBatch, summary.Skipped)
	assert.Len(t, transport.sentAddresses(), cancelCheckBatch)
}

func TestFanout_Run_PauseLetsInFlightRunFinish(t *testing.T) {
	execLedger := ledger.NewMemoryLedger()
	transport := &stubTransport{}
	fanout := NewFanout(
		&stubDirectory{recipients: testRecipients(60)},
		&stubRenderer{},
		&stubResolver{transport: transport},
		execLedger,
		&stubScheduleReader{status: models.ScheduleStatusPaused},
		nil,
		testLogger(),
	)

	summary, err := fanout.Run(context.Background(), "run-1", testSchedule(), "email")
	require.NoError(t, err)

	assert.Equal(t, 60, summary.Succeeded)
	assert.Equal(t, 0, summary.Skipped)
}
