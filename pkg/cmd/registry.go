package cmd

import (
	"log/slog"
	"strings"

	"github.com/heraldkit/herald/pkg/models"
	"github.com/heraldkit/herald/pkg/providers/logtransport"
	"github.com/heraldkit/herald/pkg/providers/render"
	"github.com/heraldkit/herald/pkg/providers/webhook"
	"github.com/heraldkit/herald/pkg/registry"
)

func registerNativeTransports(reg *registry.Registry, logger *slog.Logger, webhookURL string, webhookHeaders map[string]string) {
	if webhookURL != "" {
		reg.RegisterTransport("webhook", webhook.NewTransport(webhookURL, webhookHeaders))
	}

	reg.RegisterTransport(models.DefaultChannel, logtransport.NewTransport(logger))
	reg.RegisterTransport("log", logtransport.NewTransport(logger))
}

// NewRegistry builds the provider registry for the herald binaries. The
// default channel gets the logging transport until a real provider is
// registered; a webhook transport is added when a sink URL is configured.
func NewRegistry(logger *slog.Logger, webhookURL string, webhookHeaders map[string]string) *registry.Registry {
	reg := registry.NewRegistry(logger)

	registerNativeTransports(reg, logger, webhookURL, webhookHeaders)
	reg.RegisterRenderer(render.NewTemplateRenderer())

	return reg
}

// ParseHeaders parses "Key=Value" pairs from a comma separated list, as
// accepted by the webhook transport header flag.
func ParseHeaders(raw string) map[string]string {
	if raw == "" {
		return nil
	}

	headers := make(map[string]string)

	for _, pair := range strings.Split(raw, ",") {
		key, value, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}

		headers[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}

	return headers
}
