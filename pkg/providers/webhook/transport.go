// Package webhook delivers messages by POSTing them to a provider HTTP
// endpoint, with bounded retries on transient failures.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/heraldkit/herald/pkg/protocol"
)

const defaultTimeout = 30 * time.Second

// payload is the wire shape sent to the provider endpoint.
type payload struct {
	Address       string `json:"address"`
	Subject       string `json:"subject"`
	HTMLBody      string `json:"html_body,omitempty"`
	TextBody      string `json:"text_body,omitempty"`
	CorrelationID string `json:"correlation_id"`
}

type acceptResponse struct {
	MessageID string `json:"message_id"`
}

// Transport implements protocol.Transport over a provider webhook.
type Transport struct {
	url      string
	headers  map[string]string
	client   *http.Client
	attempts int
	delay    time.Duration
}

func NewTransport(url string, headers map[string]string) *Transport {
	return &Transport{
		url:      url,
		headers:  headers,
		client:   &http.Client{Timeout: defaultTimeout},
		attempts: 3,
		delay:    time.Second,
	}
}

func (t *Transport) Send(ctx context.Context, address string, message *protocol.RenderedMessage, correlationID string) (*protocol.SendResult, error) {
	body, err := json.Marshal(payload{
		Address:       address,
		Subject:       message.Subject,
		HTMLBody:      message.HTMLBody,
		TextBody:      message.TextBody,
		CorrelationID: correlationID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal send payload: %w", err)
	}

	var lastErr error

	for attempt := range t.attempts {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(t.delay):
			}
		}

		result, retryable, err := t.post(ctx, body)
		if err == nil {
			return result, nil
		}

		lastErr = err

		if !retryable {
			break
		}
	}

	return nil, lastErr
}

func (t *Transport) post(ctx context.Context, body []byte) (*protocol.SendResult, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		return nil, false, fmt.Errorf("failed to build request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	for key, value := range t.headers {
		req.Header.Set(key, value)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, true, fmt.Errorf("failed to reach provider: %w", err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var accepted acceptResponse

		data, err := io.ReadAll(resp.Body)
		if err == nil {
			_ = json.Unmarshal(data, &accepted)
		}

		return &protocol.SendResult{Accepted: true, ProviderMessageID: accepted.MessageID}, false, nil
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return nil, true, fmt.Errorf("provider returned status %d", resp.StatusCode)
	default:
		// 4xx: the message itself was rejected, retrying will not help.
		return nil, false, fmt.Errorf("provider rejected message with status %d", resp.StatusCode)
	}
}
