package log

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, parseLevel("WARN"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel("info"))
	assert.Equal(t, slog.LevelInfo, parseLevel("verbose"))
}

func TestSetup_JSONFormat(t *testing.T) {
	t.Setenv("LOG_FORMAT", "json")

	Setup("info")

	_, ok := slog.Default().Handler().(*slog.JSONHandler)
	assert.True(t, ok)
}
