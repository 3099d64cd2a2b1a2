package main

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/errand/internal/config"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, parseLevel("WARN"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel("info"))
	assert.Equal(t, slog.LevelInfo, parseLevel("verbose"))
}

func TestSetupLogger_JSON(t *testing.T) {
	defer slog.SetDefault(slog.Default())
	var buf bytes.Buffer

	logger := setupLogger(config.LoggingConfig{Level: "warn", Format: "json"}, &buf)
	logger.Info("hidden")
	logger.With("component", "alert").Warn("=== ALERT FIRED ===", "symbol", "BTC")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	assert.Equal(t, "=== ALERT FIRED ===", rec["msg"])
	assert.Equal(t, "alert", rec["component"])
	assert.Equal(t, "BTC", rec["symbol"])
}

func TestSetupLogger_Text(t *testing.T) {
	defer slog.SetDefault(slog.Default())
	noColor := color.NoColor
	color.NoColor = true
	defer func() { color.NoColor = noColor }()

	var buf bytes.Buffer
	logger := setupLogger(config.LoggingConfig{Level: "debug", Format: "text"}, &buf)
	logger.With("component", "dispatcher").WithGroup("step").Debug("routed", "flow", "summary")

	out := buf.String()
	assert.Contains(t, out, "DBG routed")
	assert.Contains(t, out, " component=dispatcher")
	assert.Contains(t, out, " step.flow=summary")
	assert.True(t, strings.HasSuffix(out, "\n"))
}

func TestDataPath(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "/srv/data")
	assert.Equal(t, filepath.Join("/srv/data", "errand"), dataPath())
}
