package workpool_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/loopworks/syncpipe/internal/workpool"
)

func TestPool_SameKeyJobsRunInOrder(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	pool := workpool.New(ctx, 4, 8)

	var got []int
	done := make(chan struct{})
	for i := 0; i < 5; i++ {
		n := i
		job := workpool.Job{Key: "conn-1", Fn: func() {
			got = append(got, n)
			if n == 4 {
				close(done)
			}
		}}
		require.True(t, pool.Submit(ctx, job))
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for jobs")
	}
	require.Equal(t, []int{0, 1, 2, 3, 4}, got)
}

func TestPool_DistributesAcrossKeys(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	pool := workpool.New(ctx, 4, 8)

	const n = 16
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		key := string(rune('a' + i))
		require.True(t, pool.Submit(ctx, workpool.Job{Key: key, Fn: wg.Done}))
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("not all jobs ran")
	}
}

func TestPool_SubmitFailsWhenCanceledAndFull(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	pool := workpool.New(ctx, 1, 1)

	block := make(chan struct{})
	started := make(chan struct{})
	require.True(t, pool.Submit(ctx, workpool.Job{Key: "k", Fn: func() {
		close(started)
		<-block
	}}))
	<-started
	// Fill the single buffer slot, then cancel: the next submit has nowhere
	// to go and must report failure.
	require.True(t, pool.Submit(ctx, workpool.Job{Key: "k", Fn: func() {}}))
	cancel()
	require.False(t, pool.Submit(ctx, workpool.Job{Key: "k", Fn: func() {}}))
	close(block)
}
