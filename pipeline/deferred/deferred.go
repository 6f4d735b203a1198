package deferred

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrTimeout marks a failure caused by a deferred's deadline elapsing
	// before resolution. Match with errors.Is.
	ErrTimeout = errors.New("deferred: timed out")

	// ErrAlreadyResolved is returned by Succeed/Fail when the deferred has
	// already been resolved. The first resolution wins; the error makes the
	// second attempt detectable instead of silently swallowed.
	ErrAlreadyResolved = errors.New("deferred: already resolved")

	errFailedWithoutCause = errors.New("deferred: failed without cause")
)

// State is the resolution state of a Deferred.
type State int

const (
	Pending State = iota
	Succeeded
	Failed
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Timer is the slice of the reactor a Deferred needs for its timeout: a way
// to run a callback on the reactor goroutine after a delay.
type Timer interface {
	ScheduleAfter(d time.Duration, fn func()) (cancel func())
}

// IMPORTANT:
// A Deferred is **intentionally NOT thread-safe**.
//
// It is owned by the reactor goroutine: it must be resolved and observed
// only from reactor callback context. Work running on another goroutine
// hands its outcome over via the reactor's Submit before touching it.
//
// ➤ We deliberately avoided synchronization (mutexes, atomic ops, etc.)
//
//	so that accidental cross-goroutine sharing shows up as a race instead
//	of being papered over.
//
// This mirrors the single-threaded callback-delivery guarantee the
// surrounding event loop already provides.
type Deferred[R any] struct {
	DeferredId string

	state     State
	value     R
	err       error
	onSuccess []func(R)
	onFailure []func(error)

	cancelTimeout func()
}

// New returns a pending deferred with no deadline.
func New[R any]() *Deferred[R] {
	return &Deferred[R]{DeferredId: uuid.New().String()}
}

// NewWithTimeout returns a pending deferred that auto-fails with ErrTimeout
// if still pending once timeout has elapsed. A timeout <= 0 means no
// deadline.
func NewWithTimeout[R any](t Timer, timeout time.Duration) *Deferred[R] {
	d := New[R]()
	if timeout > 0 {
		d.cancelTimeout = t.ScheduleAfter(timeout, func() {
			// Already-resolved is the normal race with real completion.
			_ = d.Fail(fmt.Errorf("%w after %v", ErrTimeout, timeout))
		})
	}
	return d
}

// State returns the current resolution state.
func (d *Deferred[R]) State() State { return d.state }

// Resolved reports whether the deferred has been resolved either way.
func (d *Deferred[R]) Resolved() bool { return d.state != Pending }

// Value returns the stored success value. Zero value unless Succeeded.
func (d *Deferred[R]) Value() R { return d.value }

// Err returns the stored failure. The failure is recorded even when no
// failure observer was registered, so it stays inspectable.
func (d *Deferred[R]) Err() error { return d.err }

// Succeed resolves the deferred with v and fires the success observers
// synchronously in registration order. Returns ErrAlreadyResolved if the
// deferred was already resolved; the earlier resolution stands.
func (d *Deferred[R]) Succeed(v R) error {
	if d.state != Pending {
		return fmt.Errorf("%w: %v", ErrAlreadyResolved, d.state)
	}
	d.state = Succeeded
	d.value = v
	d.stopTimeout()
	for _, fn := range d.onSuccess {
		fn(v)
	}
	d.onSuccess = nil
	d.onFailure = nil
	return nil
}

// Fail resolves the deferred with err and fires the failure observers
// synchronously in registration order. A nil err is normalized so a failed
// deferred always carries a cause. Returns ErrAlreadyResolved if the
// deferred was already resolved; the earlier resolution stands.
func (d *Deferred[R]) Fail(err error) error {
	if d.state != Pending {
		return fmt.Errorf("%w: %v", ErrAlreadyResolved, d.state)
	}
	if err == nil {
		err = errFailedWithoutCause
	}
	d.state = Failed
	d.err = err
	d.stopTimeout()
	for _, fn := range d.onFailure {
		fn(err)
	}
	d.onSuccess = nil
	d.onFailure = nil
	return nil
}

// OnSuccess registers fn to run when the deferred succeeds. If it already
// has, fn runs immediately and synchronously with the stored value.
func (d *Deferred[R]) OnSuccess(fn func(R)) {
	switch d.state {
	case Succeeded:
		fn(d.value)
	case Pending:
		d.onSuccess = append(d.onSuccess, fn)
	}
}

// OnFailure registers fn to run when the deferred fails. If it already has,
// fn runs immediately and synchronously with the stored error.
func (d *Deferred[R]) OnFailure(fn func(error)) {
	switch d.state {
	case Failed:
		fn(d.err)
	case Pending:
		d.onFailure = append(d.onFailure, fn)
	}
}

func (d *Deferred[R]) stopTimeout() {
	if d.cancelTimeout != nil {
		d.cancelTimeout()
		d.cancelTimeout = nil
	}
}
