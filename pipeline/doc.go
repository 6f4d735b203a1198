// Package pipeline provides a cooperative suspend/resume scheduler layered on
// top of a single-threaded reactor loop.
//
// Request-handling code written in a direct, sequential style can issue
// operations that would normally block (timers, external completions)
// without blocking the goroutine that drives the reactor. The scheduler
// captures the calling code's execution point, hands control back to the
// loop, and re-enters that exact point once the awaited outcome is ready.
//
// # How does it work?
//
// A logical worker (one connection's thread-of-control, or one concurrent
// pipeline invocation) owns a stack of resume points. Three operations form
// the protocol:
//
//   - Run establishes a root resume point and executes a unit of work.
//     If the work never suspends, Run returns its outcome synchronously,
//     with no reactor involvement. If the work suspends, Run returns the
//     ErrSuspended sentinel and the outcome arrives later.
//   - Suspend parks the calling computation on a pending Deferred, letting
//     the reactor serve other workers, and returns the deferred's eventual
//     outcome as if the call had blocked.
//   - resume (internal, reactor-callback context only) re-enters a parked
//     resume point with the outcome, enforcing single resumption and strict
//     LIFO unwinding of nested suspensions.
//
// The entry points Do and Async schedule a unit of work through the reactor
// (optionally delayed, optionally time-bounded) and deliver its outcome via
// a Deferred: Do suspends the caller until the outcome is known, Async
// returns the Deferred immediately.
//
// # Ownership
//
// Scheduler state is owned by the reactor goroutine plus the worker
// goroutines it hands control to; exactly one of them runs at any instant.
// Code on a foreign goroutine must marshal completions through the reactor's
// Submit before resolving a Deferred that a worker is suspended on.
package pipeline
