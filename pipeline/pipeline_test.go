package pipeline_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/loopworks/syncpipe/pipeline"
	"github.com/loopworks/syncpipe/pipeline/deferred"
	"github.com/loopworks/syncpipe/shared/timewindow"
)

type doResult struct {
	value string
	err   error
	at    time.Time
}

// runInRoot executes fn inside an established root on a fresh worker, the
// way the connection layer would, and reports fn's outcome on the returned
// channel.
func runInRoot(loop pipeline.Reactor, fn func(ctx context.Context, w *pipeline.Worker) (string, error)) <-chan doResult {
	out := make(chan doResult, 1)
	loop.Submit(func() {
		w := pipeline.NewWorker(loop, zap.NewNop())
		_, _ = w.Run(context.Background(), func(ctx context.Context) (any, error) {
			v, err := fn(ctx, w)
			out <- doResult{value: v, err: err, at: time.Now()}
			return nil, nil
		})
	})
	return out
}

func awaitResult(t *testing.T, ch <-chan doResult) doResult {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for pipeline outcome")
		return doResult{}
	}
}

func TestDo_DelayedWorkReturnsAfterDelay(t *testing.T) {
	loop := newTestLoop(t)

	start := time.Now()
	res := awaitResult(t, runInRoot(loop, func(ctx context.Context, w *pipeline.Worker) (string, error) {
		return pipeline.Do(ctx, w, pipeline.Options{Delay: 100 * time.Millisecond},
			func(ctx context.Context) (string, error) {
				return "OK", nil
			})
	}))

	require.NoError(t, res.err)
	require.Equal(t, "OK", res.value)
	window := timewindow.Window(start, 100*time.Millisecond, 1500*time.Millisecond)
	require.True(t, timewindow.Within(window, res.at),
		"completed at %v, outside %v", res.at, window)
}

func TestDo_TimeoutElapsesBeforeDelayedWork(t *testing.T) {
	loop := newTestLoop(t)

	res := awaitResult(t, runInRoot(loop, func(ctx context.Context, w *pipeline.Worker) (string, error) {
		return pipeline.Do(ctx, w,
			pipeline.Options{Timeout: 50 * time.Millisecond, Delay: 100 * time.Millisecond},
			func(ctx context.Context) (string, error) {
				return "OK", nil
			})
	}))

	require.ErrorIs(t, res.err, deferred.ErrTimeout)
}

func TestDo_WorkErrorIndistinguishableFromDirectCall(t *testing.T) {
	loop := newTestLoop(t)
	cause := errors.New("downstream unavailable")

	res := awaitResult(t, runInRoot(loop, func(ctx context.Context, w *pipeline.Worker) (string, error) {
		return pipeline.Do(ctx, w, pipeline.Options{}, func(ctx context.Context) (string, error) {
			return "", cause
		})
	}))

	require.ErrorIs(t, res.err, cause)
}

func TestDo_SuspendingWorkStillDeliversOutcome(t *testing.T) {
	loop := newTestLoop(t)
	dInner := deferred.New[string]()
	loop.ScheduleAfter(30*time.Millisecond, func() {
		_ = dInner.Succeed("from the deep")
	})

	res := awaitResult(t, runInRoot(loop, func(ctx context.Context, w *pipeline.Worker) (string, error) {
		return pipeline.Do(ctx, w, pipeline.Options{}, func(ctx context.Context) (string, error) {
			return pipeline.Suspend(ctx, dInner)
		})
	}))

	require.NoError(t, res.err)
	require.Equal(t, "from the deep", res.value)
}

func TestAsync_ReturnsPendingDeferredThatResolvesLater(t *testing.T) {
	loop := newTestLoop(t)

	states := make(chan deferred.State, 1)
	values := make(chan string, 1)
	loop.Submit(func() {
		w := pipeline.NewWorker(loop, zap.NewNop())
		d := pipeline.Async(context.Background(), w, pipeline.Options{Delay: 20 * time.Millisecond},
			func(ctx context.Context) (string, error) {
				return "eventually", nil
			})
		states <- d.State()
		d.OnSuccess(func(v string) { values <- v })
	})

	select {
	case s := <-states:
		require.Equal(t, deferred.Pending, s)
	case <-time.After(time.Second):
		t.Fatal("Async did not return immediately")
	}
	select {
	case v := <-values:
		require.Equal(t, "eventually", v)
	case <-time.After(time.Second):
		t.Fatal("async pipeline never resolved")
	}
}
