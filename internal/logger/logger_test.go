package logger_test

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ms-checkin/internal/logger"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []logger.LogEntry {
	t.Helper()
	var out []logger.LogEntry
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var e logger.LogEntry
		require.NoError(t, json.Unmarshal([]byte(line), &e))
		out = append(out, e)
	}
	return out
}

func TestWriterLoggerEmitsJSONLines(t *testing.T) {
	var buf bytes.Buffer
	l := logger.NewWithWriter(&buf)

	l.Info("checkin", "scan accepted")
	l.LogCheckin("CHECK_IN", 7, "T1", "success")
	l.LogBreaker("tickets.example.com", "closed", "open")

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 3)

	assert.Equal(t, "INFO", entries[0].Level)
	assert.Equal(t, "CHECKIN", entries[0].Category)
	assert.Equal(t, "scan accepted", entries[0].Message)
	assert.Equal(t, "logger_test.go", entries[0].File)

	assert.Equal(t, "[CHECK_IN] 7/T1 - success", entries[1].Message)
	assert.Equal(t, "logger_test.go", entries[1].File)

	assert.Equal(t, "WARN", entries[2].Level)
	assert.Equal(t, "[tickets.example.com] closed -> open", entries[2].Message)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, logger.DEBUG, logger.ParseLevel("debug"))
	assert.Equal(t, logger.ERROR, logger.ParseLevel(" Error "))
	assert.Equal(t, logger.INFO, logger.ParseLevel(""))
	assert.Equal(t, logger.INFO, logger.ParseLevel("verbose"))
	assert.Equal(t, "WARN", logger.WARN.String())
}

func TestNilAndDiscardLoggersAreSafe(t *testing.T) {
	var l *logger.Logger
	assert.NotPanics(t, func() {
		l.Error("X", "ignored")
		l.Close()
	})
	assert.NotPanics(t, func() { logger.Discard().LogKafka("PUBLISHED", "checkin.events", "ok") })
}
