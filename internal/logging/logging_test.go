package logging

import (
	"bytes"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestLevelFromVerbosity(t *testing.T) {
	tests := []struct {
		verbosity int
		expected  logrus.Level
	}{
		{verbosity: -1, expected: logrus.WarnLevel},
		{verbosity: 0, expected: logrus.WarnLevel},
		{verbosity: 1, expected: logrus.InfoLevel},
		{verbosity: 2, expected: logrus.DebugLevel},
		{verbosity: 5, expected: logrus.DebugLevel},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, LevelFromVerbosity(tt.verbosity), "verbosity %d", tt.verbosity)
	}
}

func TestLoggingRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	Init(logrus.InfoLevel, &buf)
	t.Cleanup(func() { Init(logrus.WarnLevel, &bytes.Buffer{}) })

	Debug("test", "hidden %d", 1)
	Info("test", "shown %d", 2)
	Error("test", errors.New("boom"), "failed")

	out := buf.String()
	assert.NotContains(t, out, "hidden 1")
	assert.Contains(t, out, "shown 2")
	assert.Contains(t, out, "subsystem=test")
	assert.Contains(t, out, "error=boom")
}

func TestLeveledLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	Init(logrus.DebugLevel, &buf)
	t.Cleanup(func() { Init(logrus.WarnLevel, &bytes.Buffer{}) })

	LeveledLogger{Subsystem: "transport"}.Debug("retrying request", "url", "https://example.com", "attempt", 2)

	out := buf.String()
	assert.Contains(t, out, "retrying request")
	assert.Contains(t, out, "subsystem=transport")
	assert.Contains(t, out, "attempt=2")
}
