// Package workpool provides the background-execution pool for the connection
// adapter: a fixed set of worker goroutines with hash-partitioned job
// channels, so jobs sharing a key are executed by the same worker in arrival
// order.
package workpool

import (
	"context"

	"github.com/cespare/xxhash/v2"
)

// A Job is one background unit of work. Jobs with equal keys never run
// concurrently with each other.
type Job struct {
	Key string
	Fn  func()
}

type Pool struct {
	jobChs []chan Job
}

// New starts numWorkers goroutines, each draining its own buffered channel,
// and returns the pool. The workers stop when ctx is canceled.
func New(ctx context.Context, numWorkers, bufferSize int) *Pool {
	if numWorkers <= 0 {
		numWorkers = 1
	}
	if bufferSize <= 0 {
		bufferSize = 1
	}

	channels := make([]chan Job, numWorkers)
	for i := 0; i < numWorkers; i++ {
		ch := make(chan Job, bufferSize)
		go func(ch chan Job) {
			defer close(ch)
			for {
				select {
				case job := <-ch:
					job.Fn()
				case <-ctx.Done():
					return
				}
			}
		}(ch)
		channels[i] = ch
	}

	return &Pool{jobChs: channels}
}

// Submit hands job to the worker owning its key's partition. Returns false if
// ctx was done before the job could be enqueued.
func (p *Pool) Submit(ctx context.Context, job Job) bool {
	select {
	case <-ctx.Done():
		return false
	case p.jobChs[getIndexByHash(job.Key, len(p.jobChs))] <- job:
		return true
	}
}

func getIndexByHash(key string, numChs int) int {
	switch numChs {
	case 0:
		panic("number of channels cannot be 0")
	case 1:
		return 0
	default:
		return int(xxhash.Sum64String(key) % uint64(numChs))
	}
}
