package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewRejectsNothingButFallsBackOnBadLevel(t *testing.T) {
	l, err := New(Config{Level: "not-a-level", Format: "json", OutputPath: "stdout"})
	require.NoError(t, err)
	require.NotNil(t, l)
	assert.NotNil(t, l.Zap())
}

func TestNewConsoleAndJSONFormats(t *testing.T) {
	for _, format := range []string{"console", "text", "json", ""} {
		l, err := New(Config{Level: "debug", Format: format, OutputPath: "stdout"})
		require.NoError(t, err)
		require.NotNil(t, l)
	}
}

func TestNewRejectsUnwritablePath(t *testing.T) {
	_, err := New(Config{Level: "info", Format: "json", OutputPath: "/nonexistent-dir/does/not/exist.log"})
	assert.Error(t, err)
}

func TestDefaultIsSingleton(t *testing.T) {
	a := Default()
	b := Default()
	assert.Same(t, a, b)
}

func TestWithFieldsDoesNotMutateParent(t *testing.T) {
	base, err := New(Config{Level: "info", Format: "json", OutputPath: "stdout"})
	require.NoError(t, err)

	child := base.WithWorkflowID("wf-1")
	assert.NotSame(t, base, child)
}

func TestWithContextAddsCorrelationID(t *testing.T) {
	base, err := New(Config{Level: "info", Format: "json", OutputPath: "stdout"})
	require.NoError(t, err)

	ctx := context.WithValue(context.Background(), CorrelationIDKey, "req-123")
	withCtx := base.WithContext(ctx)
	assert.NotSame(t, base, withCtx)

	// No correlation id in context: same logger returned, not a new wrapper.
	plain := base.WithContext(context.Background())
	assert.Same(t, base, plain)
}

func TestLoggingMethodsDoNotPanic(t *testing.T) {
	l, err := New(Config{Level: "debug", Format: "json", OutputPath: "stdout"})
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		l.Debug("debug msg")
		l.Info("info msg", zap.String("k", "v"))
		l.Warn("warn msg")
		l.WithError(assertError{}).Error("error msg")
		l.WithTaskID("t-1").WithTerminalID("term-1").Info("scoped")
		_ = l.Sync()
	})
}

type assertError struct{}

func (assertError) Error() string { return "boom" }
