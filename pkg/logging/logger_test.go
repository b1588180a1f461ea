package logging

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// captureOutput records entries for assertions.
type captureOutput struct {
	mu      sync.Mutex
	entries []LogEntry
}

func (c *captureOutput) Write(entry LogEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, entry)
	return nil
}

func (c *captureOutput) Sync() error  { return nil }
func (c *captureOutput) Close() error { return nil }

func (c *captureOutput) all() []LogEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]LogEntry(nil), c.entries...)
}

func TestLoggerSeverityFiltering(t *testing.T) {
	capture := &captureOutput{}
	logger := NewLogger(Config{
		Severity: WARN,
		Outputs:  []Output{capture},
	})

	ctx := context.Background()
	logger.Debug(ctx, "debug message")
	logger.Info(ctx, "info message")
	logger.Warn(ctx, "warn message")
	logger.Error(ctx, "error message")

	entries := capture.all()
	require.Len(t, entries, 2)
	assert.Equal(t, WARN, entries[0].Severity)
	assert.Equal(t, "warn message", entries[0].Message)
	assert.Equal(t, ERROR, entries[1].Severity)
}

func TestLoggerFormatting(t *testing.T) {
	capture := &captureOutput{}
	logger := NewLogger(Config{Severity: DEBUG, Outputs: []Output{capture}})

	logger.Info(context.Background(), "step %d of %d complete", 3, 8)

	entries := capture.all()
	require.Len(t, entries, 1)
	assert.Equal(t, "step 3 of 8 complete", entries[0].Message)
	assert.NotEmpty(t, entries[0].File)
}

func TestLoggerCorrelationID(t *testing.T) {
	capture := &captureOutput{}
	logger := NewLogger(Config{Severity: DEBUG, Outputs: []Output{capture}})

	ctx := WithCorrelationID(context.Background(), "run-abc123")
	logger.Info(ctx, "scoring candidates")

	entries := capture.all()
	require.Len(t, entries, 1)
	assert.Equal(t, "run-abc123", entries[0].CorrelationID)

	// Without the context value the field stays empty.
	logger.Info(context.Background(), "no run context")
	assert.Empty(t, capture.all()[1].CorrelationID)
}

func TestLoggerDefaultFields(t *testing.T) {
	capture := &captureOutput{}
	logger := NewLogger(Config{
		Severity:      DEBUG,
		Outputs:       []Output{capture},
		DefaultFields: map[string]interface{}{"component": "optimizer"},
	})

	logger.Info(context.Background(), "starting")

	entries := capture.all()
	require.Len(t, entries, 1)
	assert.Equal(t, "optimizer", entries[0].Fields["component"])
}

func TestParseSeverity(t *testing.T) {
	assert.Equal(t, DEBUG, ParseSeverity("DEBUG"))
	assert.Equal(t, ERROR, ParseSeverity("ERROR"))
	assert.Equal(t, INFO, ParseSeverity("unrecognized"))
}

func TestGetCorrelationID(t *testing.T) {
	_, ok := GetCorrelationID(context.Background())
	assert.False(t, ok)

	id, ok := GetCorrelationID(WithCorrelationID(context.Background(), "run-1"))
	assert.True(t, ok)
	assert.Equal(t, "run-1", id)
}
