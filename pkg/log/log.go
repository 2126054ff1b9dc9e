// Package log configures the process-wide slog default used by the herald
// binaries.
package log

import (
	"log/slog"
	"os"
	"strings"
)

// Setup installs the default logger. The level is one of debug, info, warn
// or error; anything else falls back to info. LOG_FORMAT=json switches the
// handler to JSON output for log shippers.
func Setup(logLevel string) {
	level := parseLevel(logLevel)

	opts := &slog.HandlerOptions{
		Level: level,
		// Source locations only at debug: they are noise in production
		// output and cost an extra frame lookup per record.
		AddSource: level == slog.LevelDebug,
	}

	var handler slog.Handler
	if strings.EqualFold(os.Getenv("LOG_FORMAT"), "json") {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	slog.SetDefault(slog.New(handler).With("service", "herald"))
}

func parseLevel(logLevel string) slog.Level {
	switch strings.ToLower(logLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithModule returns the default logger tagged with the originating module.
func WithModule(module string) *slog.Logger {
	return slog.With("module", module)
}
