package messaging

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cf-hub/cf-goal-hub/internal/domain/shared"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fastRetry(maxRetries int) RetryConfig {
	return RetryConfig{
		MaxRetries:     maxRetries,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		Multiplier:     2.0,
	}
}

func solveEvent() shared.Event {
	return shared.NewSolveRecordedEvent(shared.UserID(7), "1850A", 800, 2)
}

func TestDispatcherSyncHandlerErrorSurfaces(t *testing.T) {
	d := NewDispatcherBuilder(nil).
		WithLogger(quietLogger()).
		WithRetryConfig(fastRetry(0)).
		Build()
	defer func() { _ = d.Stop() }()

	calls := 0
	require.NoError(t, d.RegisterSync(shared.EventSolveRecorded, "counter", func(shared.Event) error {
		calls++
		return errors.New("storage down")
	}))

	err := d.Dispatch(solveEvent())
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDispatcherRetriesUntilSuccess(t *testing.T) {
	d := NewDispatcherBuilder(nil).
		WithLogger(quietLogger()).
		WithRetryConfig(fastRetry(3)).
		Build()
	defer func() { _ = d.Stop() }()

	calls := 0
	require.NoError(t, d.RegisterSync(shared.EventSolveRecorded, "flaky", func(shared.Event) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	}))

	require.NoError(t, d.Dispatch(solveEvent()))
	assert.Equal(t, 3, calls)

	snap := d.Metrics().Snapshot()
	assert.Equal(t, int64(1), snap.TotalDispatched)
	assert.Equal(t, int64(3), snap.TotalExecutions)
	assert.Equal(t, int64(1), snap.TotalRetries)
	assert.Zero(t, snap.TotalFailures)
}

func TestDispatcherExhaustedEventGoesToDeadLetter(t *testing.T) {
	d := NewDispatcherBuilder(nil).
		WithLogger(quietLogger()).
		WithRetryConfig(fastRetry(1)).
		WithDeadLetterQueue(4).
		Build()
	defer func() { _ = d.Stop() }()

	require.NoError(t, d.RegisterSync(shared.EventSolveRecorded, "doomed", func(shared.Event) error {
		return errors.New("permanent")
	}))

	require.Error(t, d.Dispatch(solveEvent()))

	require.Equal(t, 1, d.DeadLetterQueue().Size())
	entry, ok := d.DeadLetterQueue().Pop()
	require.True(t, ok)
	assert.Equal(t, "doomed", entry.HandlerName)
	assert.Equal(t, 2, entry.Attempts)
	assert.Equal(t, shared.EventSolveRecorded, entry.Event.EventType())

	_, ok = d.DeadLetterQueue().Pop()
	assert.False(t, ok, "queue must be empty after the only entry is taken")

	snap := d.Metrics().Snapshot()
	assert.Equal(t, int64(1), snap.TotalFailures)
}

func TestDispatcherAsyncHandlerRunsAfterDispatchReturns(t *testing.T) {
	d := NewDispatcherBuilder(nil).
		WithLogger(quietLogger()).
		WithRetryConfig(fastRetry(0)).
		WithWorkerPoolSize(2).
		Build()

	var mu sync.Mutex
	handled := 0
	require.NoError(t, d.Register(shared.EventStreakExtended, "async", func(shared.Event) error {
		mu.Lock()
		handled++
		mu.Unlock()
		return nil
	}))

	for i := 0; i < 5; i++ {
		require.NoError(t, d.Dispatch(shared.NewStreakExtendedEvent(shared.UserID(7), i+1, 9)))
	}

	// Stop waits for in-flight async handlers.
	require.NoError(t, d.Stop())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 5, handled)
}

func TestDispatcherMiddlewareOrder(t *testing.T) {
	d := NewDispatcherBuilder(nil).
		WithLogger(quietLogger()).
		WithRetryConfig(fastRetry(0)).
		Build()
	defer func() { _ = d.Stop() }()

	var trace []string
	mark := func(name string) Middleware {
		return func(next shared.EventHandler) shared.EventHandler {
			return func(e shared.Event) error {
				trace = append(trace, name)
				return next(e)
			}
		}
	}
	d.Use(mark("outer"))
	d.Use(mark("inner"))

	require.NoError(t, d.RegisterSync(shared.EventSolveRecorded, "noop", func(shared.Event) error {
		trace = append(trace, "handler")
		return nil
	}))

	require.NoError(t, d.Dispatch(solveEvent()))
	assert.Equal(t, []string{"outer", "inner", "handler"}, trace)
}

func TestRecoveryMiddlewareTurnsPanicIntoError(t *testing.T) {
	d := NewDispatcherBuilder(nil).
		WithLogger(quietLogger()).
		WithRetryConfig(fastRetry(0)).
		Build()
	defer func() { _ = d.Stop() }()

	d.Use(RecoveryMiddleware(quietLogger()))
	require.NoError(t, d.RegisterSync(shared.EventSolveRecorded, "panics", func(shared.Event) error {
		panic("boom")
	}))

	err := d.Dispatch(solveEvent())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "handler panic")
}

func TestDispatcherRejectsBadRegistrations(t *testing.T) {
	d := NewDispatcherBuilder(nil).WithLogger(quietLogger()).Build()
	defer func() { _ = d.Stop() }()

	assert.Error(t, d.Register(shared.EventSolveRecorded, "no-handler", nil))
	assert.Error(t, d.Register(shared.EventSolveRecorded, "", func(shared.Event) error { return nil }))
}
