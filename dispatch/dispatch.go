// Package dispatch is the connection adapter: for each inbound unit of work
// on a logical connection it selects an execution mode (background pool,
// scheduler-suspended pipeline, or plain inline) and delivers the outcome as
// a Deferred resolved on the reactor goroutine.
package dispatch

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/loopworks/syncpipe/internal/workpool"
	"github.com/loopworks/syncpipe/pipeline"
	"github.com/loopworks/syncpipe/pipeline/deferred"
	"github.com/loopworks/syncpipe/reactor"
)

// Mode is the execution strategy chosen for one unit of work.
type Mode int

const (
	// ModeInline executes the unit synchronously on the reactor goroutine,
	// with no suspension capability.
	ModeInline Mode = iota
	// ModePipelined wraps the unit in Run on the connection's worker,
	// allowing it to suspend while preserving per-connection ordering.
	ModePipelined
	// ModeBackground executes the unit on a separate pool goroutine; its
	// completion re-joins the reactor before resolving the Deferred.
	ModeBackground
)

func (m Mode) String() string {
	switch m {
	case ModeInline:
		return "inline"
	case ModePipelined:
		return "pipelined"
	case ModeBackground:
		return "background"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Unit is one inbound unit of work on a connection.
type Unit func(ctx context.Context) (any, error)

// Policy decides, per inbound unit, which execution mode to use. Injected by
// the surrounding connection-handling code.
type Policy func(connId string, unit Unit) Mode

// A Dispatcher routes units of work to their execution mode. All of its own
// state lives on the reactor goroutine; Dispatch may be called from anywhere.
type Dispatcher struct {
	loop   *reactor.Loop
	pool   *workpool.Pool
	policy Policy
	logger *zap.Logger
	conns  map[string]*conn
}

// Config sizes the background pool.
type Config struct {
	PoolWorkers    int
	PoolBufferSize int
}

// New returns a dispatcher on top of loop, together with a stop function
// that tears down the background pool.
func New(ctx context.Context, loop *reactor.Loop, policy Policy, config Config, logger *zap.Logger) (*Dispatcher, func()) {
	ctx, cancelFn := context.WithCancel(ctx)
	d := &Dispatcher{
		loop:   loop,
		pool:   workpool.New(ctx, config.PoolWorkers, config.PoolBufferSize),
		policy: policy,
		logger: logger,
		conns:  make(map[string]*conn),
	}
	return d, cancelFn
}

type queuedUnit struct {
	ctx  context.Context
	unit Unit
	out  *deferred.Deferred[any]
}

// conn is the per-connection thread-of-control: its scheduler worker plus
// the FIFO of pipelined units still to be processed.
type conn struct {
	connId string
	worker *pipeline.Worker
	queue  []queuedUnit
	busy   bool
}

// Dispatch routes one unit of work on the given connection and returns the
// Deferred carrying its eventual outcome. Safe for concurrent use: the
// routing itself is marshaled onto the reactor goroutine.
func (d *Dispatcher) Dispatch(ctx context.Context, connId string, unit Unit) *deferred.Deferred[any] {
	out := deferred.New[any]()
	d.loop.Submit(func() {
		d.route(ctx, connId, unit, out)
	})
	return out
}

func (d *Dispatcher) route(ctx context.Context, connId string, unit Unit, out *deferred.Deferred[any]) {
	c, ok := d.conns[connId]
	if !ok {
		c = &conn{
			connId: connId,
			worker: pipeline.NewWorker(d.loop, d.logger),
		}
		d.conns[connId] = c
	}

	mode := d.policy(connId, unit)
	d.logger.Debug("dispatching unit",
		zap.String("connId", connId),
		zap.Stringer("mode", mode),
	)

	switch mode {
	case ModeInline:
		v, err := unit(ctx)
		resolve(out, v, err)
	case ModeBackground:
		d.background(ctx, connId, unit, out)
	case ModePipelined:
		c.queue = append(c.queue, queuedUnit{ctx: ctx, unit: unit, out: out})
		d.pump(c)
	default:
		_ = out.Fail(fmt.Errorf("dispatch: unknown mode %v", mode))
	}
}

// background runs the unit on the partitioned pool, the only true
// parallelism in the system, and re-joins the reactor goroutine with the
// outcome before touching the Deferred.
func (d *Dispatcher) background(ctx context.Context, connId string, unit Unit, out *deferred.Deferred[any]) {
	submitted := d.pool.Submit(ctx, workpool.Job{
		Key: connId,
		Fn: func() {
			v, err := unit(ctx)
			d.loop.Submit(func() {
				resolve(out, v, err)
			})
		},
	})
	if !submitted {
		_ = out.Fail(fmt.Errorf("dispatch: background pool rejected unit: %w", ctx.Err()))
	}
}

// pump starts the next pipelined unit if the connection is idle. A unit is
// fully processed, including all of its suspensions, before the next one
// begins: the connection frees up only when the unit's Deferred resolves,
// even though the reactor serves other connections during any suspension.
func (d *Dispatcher) pump(c *conn) {
	if c.busy || len(c.queue) == 0 {
		return
	}
	next := c.queue[0]
	c.queue = c.queue[1:]
	c.busy = true

	res := pipeline.Async[any](next.ctx, c.worker, pipeline.Options{}, next.unit)
	res.OnSuccess(func(v any) { d.finish(c, next.out, v, nil) })
	res.OnFailure(func(err error) { d.finish(c, next.out, nil, err) })
}

func (d *Dispatcher) finish(c *conn, out *deferred.Deferred[any], v any, err error) {
	resolve(out, v, err)
	c.busy = false
	d.pump(c)
}

func resolve(out *deferred.Deferred[any], v any, err error) {
	if err != nil {
		_ = out.Fail(err)
		return
	}
	_ = out.Succeed(v)
}
