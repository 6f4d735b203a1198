package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/loopworks/syncpipe/pipeline/deferred"
)

var (
	// ErrSuspended is the sentinel Run returns when the work transferred
	// control away before returning: the result is still pending.
	ErrSuspended = errors.New("pipeline: suspended, result pending")

	// ErrSuspendOutsidePipeline reports a Suspend call with no root
	// established by Run for the calling computation.
	ErrSuspendOutsidePipeline = errors.New("pipeline: suspend outside pipeline")

	// ErrAlreadyResumed reports a second resumption of the same resume point.
	ErrAlreadyResumed = errors.New("pipeline: resume point already resumed")

	// ErrResumeOutOfOrder reports a resumption that violates the strict LIFO
	// unwinding of nested suspensions within one logical worker.
	ErrResumeOutOfOrder = errors.New("pipeline: resume point is not the innermost suspension")
)

// Work is a unit of work executed under a root established by Run. The ctx it
// receives carries that root; Suspend calls must use it (or a context derived
// from it).
type Work func(ctx context.Context) (any, error)

type rootCtxKey struct{}

func rootFrom(ctx context.Context) *root {
	r, _ := ctx.Value(rootCtxKey{}).(*root)
	return r
}

// Run establishes a new root resume point for w, saving whatever root existed
// before, and executes work under it.
//
// If work returns without suspending, Run returns its value or error
// synchronously and restores the previous root. If work suspends, Run returns
// (nil, ErrSuspended); the root stays established until the suspended
// computation eventually completes through resume, at which point the final
// outcome is delivered to the completion hook installed by the entry point.
func (w *Worker) Run(ctx context.Context, work Work) (any, error) {
	return w.runRooted(ctx, work, nil)
}

func (w *Worker) runRooted(ctx context.Context, work Work, onDone func(any, error)) (any, error) {
	r := &root{
		worker:  w,
		handoff: make(chan rootSignal),
		onDone:  onDone,
	}
	w.pushRoot(r)
	workCtx := context.WithValue(ctx, rootCtxKey{}, r)

	go func() {
		v, err := runGuarded(workCtx, work)
		r.handoff <- rootSignal{value: v, err: err}
	}()

	sig := <-r.handoff
	if sig.suspended {
		return nil, ErrSuspended
	}
	w.dropRoot(r)
	return sig.value, sig.err
}

// runGuarded recovers a panicking work into an error so a misbehaving unit of
// work fails its own pipeline instead of killing the process.
func runGuarded(ctx context.Context, work Work) (v any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pipeline: panic in work: %v", r)
		}
	}()
	return work(ctx)
}

// Suspend parks the calling computation until d resolves, and returns the
// outcome: the success value, or the failure raised exactly as a direct
// synchronous call would have raised it.
//
// Requires a root established by Run in ctx; without one it fails with
// ErrSuspendOutsidePipeline. If d is already resolved, Suspend returns
// immediately without yielding. Otherwise control goes back to the reactor
// until d's resolution re-enters this exact point.
func Suspend[R any](ctx context.Context, d *deferred.Deferred[R]) (R, error) {
	var zero R

	r := rootFrom(ctx)
	if r == nil {
		return zero, fmt.Errorf("%w: deferred %s", ErrSuspendOutsidePipeline, d.DeferredId)
	}
	w := r.worker

	p := &resumePoint{root: r, outcome: make(chan outcome, 1)}
	w.pushPoint(p)

	d.OnSuccess(func(v R) { w.resume(p, v, nil) })
	d.OnFailure(func(err error) { w.resume(p, nil, err) })

	// Already resolved: the observer fired synchronously above and the
	// outcome is sitting in the buffer. No yield.
	select {
	case out := <-p.outcome:
		w.dropPoint(p)
		return unbox[R](out)
	default:
	}

	p.parked = true
	r.handoff <- rootSignal{suspended: true}

	out := <-p.outcome
	w.dropPoint(p)
	return unbox[R](out)
}

func unbox[R any](out outcome) (R, error) {
	var zero R
	if out.err != nil {
		return zero, out.err
	}
	v, _ := out.value.(R)
	return v, nil
}
