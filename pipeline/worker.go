package pipeline

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Reactor is the slice of the event loop the scheduler relies on: serialized
// callback delivery on a single goroutine, and timers that fire on that same
// goroutine.
type Reactor interface {
	Submit(fn func())
	ScheduleAfter(d time.Duration, fn func()) (cancel func())
}

// A Worker is one logical thread-of-control through the scheduler: one
// connection's request processing, or one concurrent pipeline invocation.
// It owns the execution context stack for that thread-of-control: the live
// resume points, the roots established by Run, and the single pending-resume
// slot.
//
// IMPORTANT:
// A Worker is **intentionally NOT thread-safe**. Its state is mutated only
// by the reactor goroutine and by the one work goroutine the scheduler has
// handed control to; the handoff channels order those mutations. Touching a
// Worker from any other goroutine is undefined behavior.
type Worker struct {
	WorkerId string

	reactor Reactor
	logger  *zap.Logger

	roots   []*root
	points  []*resumePoint
	pending *resumePoint
}

// NewWorker returns a fresh logical worker bound to r.
func NewWorker(r Reactor, logger *zap.Logger) *Worker {
	return &Worker{
		WorkerId: uuid.New().String(),
		reactor:  r,
		logger:   logger,
	}
}

// child returns a new worker on the same reactor, used for each concurrent
// pipeline invocation so that its suspensions never interleave with the
// parent's own resume-point stack.
func (w *Worker) child() *Worker {
	return NewWorker(w.reactor, w.logger)
}

// rootSignal travels up a root's handoff channel: either "the work suspended,
// control is yours" or the work's final outcome.
type rootSignal struct {
	suspended bool
	value     any
	err       error
}

// A root is the resume point established by Run: the place control returns
// to when a nested suspension first parks the work.
type root struct {
	worker  *Worker
	handoff chan rootSignal
	// onDone receives the final outcome when the work completes only after
	// having suspended; the synchronous completion path returns through Run
	// instead.
	onDone func(any, error)
}

type outcome struct {
	value any
	err   error
}

// A resumePoint is an opaque capture of "where to continue": the channel the
// parked work goroutine blocks on, plus resolution bookkeeping.
type resumePoint struct {
	root    *root
	outcome chan outcome
	parked  bool
	resumed bool
}

func (w *Worker) pushRoot(r *root) {
	w.roots = append(w.roots, r)
}

func (w *Worker) dropRoot(r *root) {
	for i := len(w.roots) - 1; i >= 0; i-- {
		if w.roots[i] == r {
			w.roots = append(w.roots[:i], w.roots[i+1:]...)
			return
		}
	}
}

func (w *Worker) pushPoint(p *resumePoint) {
	w.points = append(w.points, p)
}

func (w *Worker) dropPoint(p *resumePoint) {
	for i := len(w.points) - 1; i >= 0; i-- {
		if w.points[i] == p {
			w.points = append(w.points[:i], w.points[i+1:]...)
			return
		}
	}
}

func (w *Worker) innermostPoint() *resumePoint {
	if n := len(w.points); n != 0 {
		return w.points[n-1]
	}
	return nil
}

// resume re-enters a previously captured resume point with an outcome. It is
// invoked from reactor callback context only, from a Deferred's observers,
// never directly by user code.
//
// Single resumption and LIFO unwinding are enforced here: re-entering an
// already-resumed point, or a point that is not the worker's innermost live
// suspension, panics with a protocol error. The reactor loop recovers and
// logs it, failing that operation without taking the loop down.
func (w *Worker) resume(p *resumePoint, v any, err error) {
	if p.resumed {
		panic(fmt.Errorf("%w: worker %s", ErrAlreadyResumed, w.WorkerId))
	}
	if w.innermostPoint() != p {
		panic(fmt.Errorf("%w: worker %s", ErrResumeOutOfOrder, w.WorkerId))
	}
	p.resumed = true

	if !p.parked {
		// The deferred resolved before the suspension ever yielded; hand the
		// outcome straight back, Suspend picks it up without parking.
		p.outcome <- outcome{value: v, err: err}
		return
	}

	prev := w.pending
	w.pending = p
	p.outcome <- outcome{value: v, err: err}

	// Control is with the work goroutine now; wait until it parks again or
	// finishes, then give the slot back.
	sig := <-p.root.handoff
	w.pending = prev

	if !sig.suspended {
		w.dropRoot(p.root)
		switch {
		case p.root.onDone != nil:
			p.root.onDone(sig.value, sig.err)
		case sig.err != nil:
			// No completion hook to carry the failure; record it instead of
			// dropping it on the floor.
			w.logger.Error("pipeline failure with no completion hook",
				zap.String("workerId", w.WorkerId),
				zap.Error(sig.err),
			)
		}
	}
}
