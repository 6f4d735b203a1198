package pipeline

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/loopworks/syncpipe/pipeline/deferred"
)

// Options configures a pipeline invocation.
type Options struct {
	// Timeout > 0 auto-fails the invocation's Deferred with
	// deferred.ErrTimeout if the outcome is still unknown after it elapses.
	Timeout time.Duration
	// Delay > 0 postpones the start of the work by that much, scheduled via
	// the reactor. The caller is never blocked by the delay.
	Delay time.Duration
}

// Async schedules work as a new pipeline invocation and returns its Deferred
// immediately, for the caller to observe asynchronously.
//
// The work runs under Run on a fresh logical worker derived from w, after
// opts.Delay, on the reactor goroutine. A normal return succeeds the
// Deferred, an error fails it, and a suspension leaves it pending until the
// suspended computation completes. If opts.Timeout fails the Deferred first,
// the late outcome is discarded (detectably, see deferred.ErrAlreadyResolved)
// and logged.
func Async[R any](ctx context.Context, w *Worker, opts Options, work func(context.Context) (R, error)) *deferred.Deferred[R] {
	d := deferred.NewWithTimeout[R](w.reactor, opts.Timeout)
	inv := w.child()

	resolve := func(v any, err error) {
		if err != nil {
			if resErr := d.Fail(err); resErr != nil {
				w.logger.Debug("pipeline failure discarded",
					zap.String("deferredId", d.DeferredId),
					zap.NamedError("cause", err),
					zap.Error(resErr),
				)
			}
			return
		}
		val, _ := v.(R)
		if resErr := d.Succeed(val); resErr != nil {
			w.logger.Debug("pipeline outcome discarded",
				zap.String("deferredId", d.DeferredId),
				zap.Error(resErr),
			)
		}
	}

	start := func() {
		v, err := inv.runRooted(ctx, func(ctx context.Context) (any, error) {
			return work(ctx)
		}, resolve)
		if errors.Is(err, ErrSuspended) {
			// Pending; the eventual completion reaches resolve through the
			// root's completion hook.
			return
		}
		resolve(v, err)
	}

	w.reactor.ScheduleAfter(opts.Delay, start)
	return d
}

// Do schedules work like Async but suspends the caller until the outcome is
// known, then returns or raises exactly that outcome, indistinguishable from
// a direct call that took the same wall-clock time.
//
// Do is itself a suspension point: it is usable only inside a root
// established by Run.
func Do[R any](ctx context.Context, w *Worker, opts Options, work func(context.Context) (R, error)) (R, error) {
	return Suspend(ctx, Async(ctx, w, opts, work))
}
