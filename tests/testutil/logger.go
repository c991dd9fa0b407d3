package testutil

import (
	"bytes"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/systmms/keypair/internal/logging"
)

// TestLogger captures the output of a real logging.Logger.
//
// Example usage:
//
//	logs := NewTestLogger(t)
//	rec := reconcile.New(store, reconcile.WithLogger(logs.Logger))
//	rec.Reconcile(ctx, event)
//	logs.AssertNoKeyMaterial(t)
type TestLogger struct {
	Logger *logging.Logger

	mu     sync.Mutex
	buffer bytes.Buffer
}

// NewTestLogger creates a TestLogger with debug output enabled and
// colors disabled, so level markers are plain text.
func NewTestLogger(t *testing.T) *TestLogger {
	t.Helper()

	l := &TestLogger{}
	l.Logger = logging.NewWithWriter(l, true, true)
	return l
}

// Write implements io.Writer for the wrapped logger.
func (l *TestLogger) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.buffer.Write(p)
}

// GetOutput returns everything logged so far.
func (l *TestLogger) GetOutput() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.buffer.String()
}

// AssertContains asserts that the log output contains substr.
func (l *TestLogger) AssertContains(t *testing.T, substr string) {
	t.Helper()
	assert.Contains(t, l.GetOutput(), substr, "Expected log output to contain %q", substr)
}

// AssertNotContains asserts that the log output does NOT contain substr.
func (l *TestLogger) AssertNotContains(t *testing.T, substr string) {
	t.Helper()
	assert.NotContains(t, l.GetOutput(), substr, "Expected log output to NOT contain %q", substr)
}

// AssertNoKeyMaterial asserts that no PEM block, nor any body line of the
// given PEM values, reached the logs.
func (l *TestLogger) AssertNoKeyMaterial(t *testing.T, pems ...string) {
	t.Helper()
	AssertNoKeyMaterial(t, l.GetOutput(), pems...)
}

// AssertLogCount asserts how often a level marker appears.
//
// Level markers:
//   - Info: "✓"
//   - Warn: "⚠"
//   - Error: "✗"
//   - Debug: "[DEBUG]"
func (l *TestLogger) AssertLogCount(t *testing.T, level string, count int) {
	t.Helper()

	var marker string
	switch level {
	case "info":
		marker = "✓"
	case "warn":
		marker = "⚠"
	case "error":
		marker = "✗"
	case "debug":
		marker = "[DEBUG]"
	default:
		t.Fatalf("Unknown log level: %s", level)
	}

	actual := strings.Count(l.GetOutput(), marker)
	assert.Equal(t, count, actual, "Expected %d %s log messages, got %d", count, level, actual)
}
