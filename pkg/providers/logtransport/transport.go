// Package logtransport is the development transport: it logs every send and
// accepts it without delivering anything.
package logtransport

import (
	"context"
	"log/slog"

	"github.com/heraldkit/herald/pkg/protocol"
)

type Transport struct {
	logger *slog.Logger
}

func NewTransport(logger *slog.Logger) *Transport {
	return &Transport{logger: logger.With("module", "log_transport")}
}

func (t *Transport) Send(ctx context.Context, address string, message *protocol.RenderedMessage, correlationID string) (*protocol.SendResult, error) {
	t.logger.InfoContext(ctx, "Message dispatched",
		"address", address,
		"subject", message.Subject,
		"correlation_id", correlationID)

	return &protocol.SendResult{Accepted: true, ProviderMessageID: correlationID}, nil
}
