package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m), line)
		out = append(out, m)
	}
	return out
}

func TestNewLogger_JSONFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(Config{Level: "debug", Output: &buf})

	logger.Info("Envelope rendered",
		"system", "MessageBus",
		"envelopes", 3,
		"grouped", true,
		"ratio", 0.5,
		"elapsed", 250*time.Millisecond,
		"error", errors.New("boom"),
	)

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	line := lines[0]
	assert.Equal(t, "info", line["level"])
	assert.Equal(t, "Envelope rendered", line["message"])
	assert.Equal(t, "MessageBus", line["system"])
	assert.Equal(t, float64(3), line["envelopes"])
	assert.Equal(t, true, line["grouped"])
	assert.Equal(t, 0.5, line["ratio"])
	assert.Equal(t, float64(250), line["elapsed"])
	// Errors keep their message whatever shape the handler gives them.
	assert.Contains(t, fmt.Sprint(line["error"]), "boom")
	assert.Contains(t, line, "time")
}

func TestNewLogger_LevelFiltering(t *testing.T) {
	tests := []struct {
		level    string
		expected []string
	}{
		{level: "debug", expected: []string{"debug", "info", "warn", "error"}},
		{level: "info", expected: []string{"info", "warn", "error"}},
		{level: "WARN", expected: []string{"warn", "error"}},
		{level: "error", expected: []string{"error"}},
		{level: "", expected: []string{"info", "warn", "error"}},
		{level: "bogus", expected: []string{"info", "warn", "error"}},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			var buf bytes.Buffer
			logger := NewLogger(Config{Level: tt.level, Output: &buf})

			logger.Debug("d")
			logger.Info("i")
			logger.Warn("w")
			logger.Error("e")

			var levels []string
			for _, line := range decodeLines(t, &buf) {
				levels = append(levels, line["level"].(string))
			}
			assert.Equal(t, tt.expected, levels)
		})
	}
}

func TestNewLogger_AttrsAndGroups(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(Config{Output: &buf}).
		With("component", "spool").
		WithGroup("file")

	logger.Info("Loaded", slog.Group("envelope", "system", "S", "gauges", 2))

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "spool", lines[0]["component"])

	file, ok := lines[0]["file"].(map[string]any)
	require.True(t, ok, "file group should be a nested object: %v", lines[0])
	env, ok := file["envelope"].(map[string]any)
	require.True(t, ok, "envelope group should be a nested object: %v", file)
	assert.Equal(t, "S", env["system"])
	assert.Equal(t, float64(2), env["gauges"])
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected zerolog.Level
	}{
		{input: "debug", expected: zerolog.DebugLevel},
		{input: " Warn ", expected: zerolog.WarnLevel},
		{input: "ERROR", expected: zerolog.ErrorLevel},
		{input: "", expected: zerolog.InfoLevel},
		{input: "loud", expected: zerolog.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, parseLevel(tt.input))
		})
	}
}

func TestNewLogger_Pretty(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(Config{Pretty: true, Output: &buf})

	logger.Info("Server listening", "addr", ":9464")

	out := buf.String()
	assert.Contains(t, out, "Server listening")
	assert.Contains(t, out, "addr=")
	assert.False(t, json.Valid([]byte(strings.TrimSpace(out))))
}
