//go:build unit

package runtime

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/praxislaw/lib-reliability/reliability/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// captureLogger records log entries for assertions.
type captureLogger struct {
	log.NopLogger

	entries chan string
}

func (l *captureLogger) Log(_ context.Context, _ log.Level, msg string, _ ...log.Field) {
	select {
	case l.entries <- msg:
	default:
	}
}

func TestSafeGo_RunsFunction(t *testing.T) {
	t.Parallel()

	done := make(chan struct{})

	SafeGo(context.Background(), &log.NopLogger{}, "test", "run", func(context.Context) {
		close(done)
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("function was not run")
	}
}

func TestSafeGo_RecoversPanic(t *testing.T) {
	t.Parallel()

	logger := &captureLogger{entries: make(chan string, 1)}

	SafeGo(context.Background(), logger, "test", "explode", func(context.Context) {
		panic("boom")
	})

	select {
	case msg := <-logger.entries:
		assert.Equal(t, "panic recovered", msg)
	case <-time.After(time.Second):
		t.Fatal("panic was not logged")
	}
}

func TestSafeGo_NilLoggerIsSafe(t *testing.T) {
	t.Parallel()

	done := make(chan struct{})

	SafeGo(context.Background(), nil, "test", "run", func(context.Context) {
		close(done)
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("function was not run")
	}
}

func TestPanicError(t *testing.T) {
	t.Parallel()

	sentinel := errors.New("original")
	require.Same(t, sentinel, PanicError(sentinel))

	assert.EqualError(t, PanicError("boom"), "panic: boom")
	assert.EqualError(t, PanicError(42), "panic: 42")
	assert.EqualError(t, PanicError(nil), "panic: <nil>")
}
