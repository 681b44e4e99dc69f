package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pteroca-com/pluginhost/internal/ports"
)

func TestNopLogger(t *testing.T) {
	t.Parallel()

	logger := NewNopLogger()
	logger.Info(context.Background(), "ignored")
	assert.Same(t, logger, logger.With(ports.F("k", "v")))

	logger.SetLevel(ports.LevelDebug)
	assert.Equal(t, ports.LevelDebug, logger.Level())
}

func TestZerologLogger_JSON(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := NewZerologLogger(WithOutput(&buf), WithFormat(FormatJSON), WithTimestamp(false))

	logger.With(ports.F("component", "manager")).Warn(context.Background(), "plugin state changed",
		ports.F("plugin", "hello"),
		ports.F("to", "faulted"),
		ports.F("error", errors.New("boom")),
	)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "plugin state changed", entry["message"])
	assert.Equal(t, "manager", entry["component"])
	assert.Equal(t, "hello", entry["plugin"])
	assert.Equal(t, "boom", entry["error"])
	assert.NotContains(t, entry, "time")
}

func TestZerologLogger_LevelFiltering(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := NewZerologLogger(WithOutput(&buf), WithFormat(FormatJSON), WithLevel(ports.LevelWarn))
	child := logger.With(ports.F("plugin", "hello"))
	ctx := context.Background()

	child.Info(ctx, "hidden")
	assert.Empty(t, buf.String())

	logger.SetLevel(ports.LevelDebug)
	child.Debug(ctx, "shown")
	assert.Contains(t, buf.String(), "shown")
	assert.Equal(t, ports.LevelDebug, child.Level())
}

func TestZerologLogger_Text(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := NewZerologLogger(WithOutput(&buf), WithTimestamp(false))
	logger.Error(context.Background(), "enable failed", ports.F("plugin", "hello"))

	line := buf.String()
	assert.Contains(t, line, "enable failed")
	assert.Contains(t, line, "plugin=hello")
	assert.True(t, strings.HasSuffix(line, "\n"))
}

func TestParseFormat(t *testing.T) {
	t.Parallel()

	assert.Equal(t, FormatJSON, ParseFormat(" JSON "))
	assert.Equal(t, FormatText, ParseFormat("pretty"))
}
