package logx

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestLogger sets up a logger with a bytes.Buffer for testing.
func setupTestLogger() *bytes.Buffer {
	var buf bytes.Buffer
	logWriterLock.Lock()
	logWriter = &buf
	logWriterLock.Unlock()
	return &buf
}

func resetTestLogger() {
	logWriterLock.Lock()
	logWriter = nil
	logWriterLock.Unlock()
}

func TestNewLogger(t *testing.T) {
	logger := NewLogger("feedback")
	assert.Equal(t, "feedback", logger.Component())
	assert.Equal(t, "feedback/abc", logger.With("abc").Component())
}

func TestLogFormat(t *testing.T) {
	buf := setupTestLogger()
	defer resetTestLogger()

	NewLogger("lifecycle").Info("Test message with %s", "formatting")

	output := buf.String()
	assert.Contains(t, output, "[lifecycle]")
	assert.Contains(t, output, "INFO: Test message with formatting")
	assert.True(t, strings.HasPrefix(output, "["))
	assert.Contains(t, output, "Z]")
}

func TestLogLevels(t *testing.T) {
	buf := setupTestLogger()
	defer resetTestLogger()
	SetDebug(true)
	defer SetDebug(false)

	logger := NewLogger("coder")
	tests := []struct {
		logFunc  func(string, ...any)
		expected string
	}{
		{logger.Debug, "DEBUG"},
		{logger.Info, "INFO"},
		{logger.Warn, "WARN"},
		{logger.Error, "ERROR"},
	}

	for _, tt := range tests {
		buf.Reset()
		tt.logFunc("level check")
		assert.Contains(t, buf.String(), tt.expected+": level check")
	}
}

func TestDebugSuppressedWhenDisabled(t *testing.T) {
	buf := setupTestLogger()
	defer resetTestLogger()
	SetDebug(false)

	NewLogger("coder").Debug("hidden")
	assert.Empty(t, buf.String())
}

func TestDomainDebug(t *testing.T) {
	buf := setupTestLogger()
	defer resetTestLogger()
	SetDebug(true)
	defer SetDebug(false)
	SetDebugDomains([]string{"coder"})
	defer SetDebugDomains(nil)

	ctx := WithComponent(context.Background(), "coder/1234")
	Debug(ctx, "feedback", "should not appear")
	assert.Empty(t, buf.String())

	Debug(ctx, "coder", "round %d", 3)
	assert.Contains(t, buf.String(), "[coder/1234] DEBUG: [coder] round 3")
}

func TestRecentLogEntriesFilter(t *testing.T) {
	setupTestLogger()
	defer resetTestLogger()

	start := time.Now().UTC().Add(-time.Second)
	NewLogger("buffer-test-a").Info("alpha")
	NewLogger("buffer-test-b").Warn("beta")

	entries := GetRecentLogEntries("buffer-test-a", start)
	require.Len(t, entries, 1)
	assert.Equal(t, "alpha", entries[0].Message)
	assert.Equal(t, "INFO", entries[0].Level)

	future := GetRecentLogEntries("buffer-test-b", time.Now().Add(time.Hour))
	assert.Empty(t, future)
}

func TestBufferCapacity(t *testing.T) {
	b := &InMemoryLogBuffer{maxSize: 3}
	for i := 0; i < 5; i++ {
		b.AddLogEntry(&LogEntry{Component: "x", Message: string(rune('a' + i))})
	}
	entries := b.GetLogEntries("", time.Time{})
	require.Len(t, entries, 3)
	assert.Equal(t, "c", entries[0].Message)
	assert.Equal(t, "e", entries[2].Message)
}

func TestWrapAndErrorf(t *testing.T) {
	buf := setupTestLogger()
	defer resetTestLogger()

	assert.NoError(t, Wrap(nil, "ignored"))

	base := errors.New("disk full")
	err := Wrap(base, "saving plan")
	require.Error(t, err)
	assert.ErrorIs(t, err, base)
	assert.Equal(t, "saving plan: disk full", err.Error())
	assert.Contains(t, buf.String(), "ERROR: saving plan: disk full")

	err = Errorf("clone %s: %w", "acme/api", base)
	assert.ErrorIs(t, err, base)
}
