// Package registry holds the delivery providers available to the engine:
// outbound transports keyed by channel, plus the content renderer. Providers
// register at startup and may be swapped at runtime; dispatch resolves them
// per send.
package registry

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/heraldkit/herald/pkg/protocol"
)

type Registry struct {
	logger     *slog.Logger
	mu         sync.RWMutex
	transports map[string]protocol.Transport
	renderer   protocol.Renderer
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		logger:     logger.With("module", "registry"),
		transports: make(map[string]protocol.Transport),
	}
}

// RegisterTransport binds a transport to a channel, replacing any previous
// binding.
func (r *Registry) RegisterTransport(channel string, transport protocol.Transport) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.transports[channel] = transport
	r.logger.Info("Registered transport", "channel", channel)
}

// DeregisterTransport removes a channel's transport. In-flight sends keep
// the transport they already resolved.
func (r *Registry) DeregisterTransport(channel string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.transports, channel)
	r.logger.Info("Deregistered transport", "channel", channel)
}

// Transport resolves the transport for a channel.
func (r *Registry) Transport(channel string) (protocol.Transport, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	transport, ok := r.transports[channel]
	if !ok {
		return nil, fmt.Errorf("channel %q not registered", channel)
	}

	return transport, nil
}

// Channels returns the channels with a registered transport.
func (r *Registry) Channels() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	channels := make([]string, 0, len(r.transports))
	for channel := range r.transports {
		channels = append(channels, channel)
	}

	return channels
}

// RegisterRenderer sets the content renderer.
func (r *Registry) RegisterRenderer(renderer protocol.Renderer) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.renderer = renderer
	r.logger.Info("Registered renderer")
}

// Renderer resolves the content renderer.
func (r *Registry) Renderer() (protocol.Renderer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.renderer == nil {
		return nil, fmt.Errorf("no renderer registered")
	}

	return r.renderer, nil
}
