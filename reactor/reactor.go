package reactor

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// A Loop is a single-goroutine callback executor: the reactor thread of the
// scheduler. Every callback submitted to it runs on the same goroutine, one
// at a time, in submission order. Timers fire by re-submitting their callback
// onto the loop, so timer callbacks get the same serialization guarantee.
//
// All scheduler and deferred state is owned by this goroutine. Code running
// on another goroutine must hand results over via Submit instead of touching
// that state directly.
type Loop struct {
	loopId string
	tasks  chan func()
	logger *zap.Logger
}

// NewLoop starts a loop goroutine and returns the loop together with a stop
// function. The stop function cancels the loop; callbacks still queued after
// cancellation are dropped.
func NewLoop(ctx context.Context, bufferSize int, logger *zap.Logger) (*Loop, func()) {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	ctx, cancelFn := context.WithCancel(ctx)

	l := &Loop{
		loopId: uuid.New().String(),
		tasks:  make(chan func(), bufferSize),
		logger: logger,
	}

	ready := make(chan struct{})
	go func() {
		close(ready)
		for {
			select {
			case fn := <-l.tasks:
				l.invoke(fn)
			case <-ctx.Done():
				l.logger.Debug("reactor loop stopped", zap.String("loopId", l.loopId))
				return
			}
		}
	}()
	<-ready

	return l, cancelFn
}

// invoke runs a single callback, recovering panics so that one misbehaving
// callback cannot take the whole loop down.
func (l *Loop) invoke(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("panic in reactor callback",
				zap.String("loopId", l.loopId),
				zap.Any("panic", r),
			)
		}
	}()
	fn()
}

// Submit enqueues fn for execution on the loop goroutine. Safe for concurrent
// use; this is the only supported way for other goroutines to reach reactor
// owned state.
func (l *Loop) Submit(fn func()) {
	l.tasks <- fn
}

// ScheduleAfter arranges for fn to run on the loop goroutine once d has
// elapsed. With d <= 0 the callback is submitted immediately. The returned
// cancel function stops the timer if it has not fired yet.
func (l *Loop) ScheduleAfter(d time.Duration, fn func()) (cancel func()) {
	if d <= 0 {
		l.Submit(fn)
		return func() {}
	}
	timer := time.AfterFunc(d, func() {
		l.Submit(fn)
	})
	return func() { timer.Stop() }
}
