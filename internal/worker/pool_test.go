package worker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestPool_RespectsConcurrencyLimit(t *testing.T) {
	var (
		mu      sync.Mutex
		running int
		peak    int
	)
	release := make(chan struct{})

	run := func(ctx context.Context, req Request) {
		mu.Lock()
		running++
		if running > peak {
			peak = running
		}
		mu.Unlock()

		<-release

		mu.Lock()
		running--
		mu.Unlock()
	}

	pool := NewPool("test", 2, run, nil)
	pool.pollInterval = 10 * time.Millisecond

	for i := 0; i < 6; i++ {
		pool.Submit(Request{JobID: fmt.Sprintf("job-%d", i)})
	}
	pool.Start(context.Background())
	defer close(release)

	if !waitFor(time.Second, func() bool { return pool.ActiveCount() == 2 }) {
		t.Fatalf("expected 2 active executions, got %d", pool.ActiveCount())
	}

	// give the scheduler a few more polls to overshoot if it is going to
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if peak > 2 {
		t.Errorf("expected at most 2 concurrent executions, saw %d", peak)
	}
	if pool.QueueDepth() != 4 {
		t.Errorf("expected 4 queued requests, got %d", pool.QueueDepth())
	}
}

func TestPool_DropsDuplicateActiveJob(t *testing.T) {
	var (
		mu   sync.Mutex
		runs int
	)
	release := make(chan struct{})

	run := func(ctx context.Context, req Request) {
		mu.Lock()
		runs++
		mu.Unlock()
		<-release
	}

	pool := NewPool("test", 4, run, nil)
	pool.pollInterval = 10 * time.Millisecond

	pool.Submit(Request{JobID: "job-1"})
	pool.Submit(Request{JobID: "job-1"})
	pool.Submit(Request{JobID: "job-1"})
	pool.Start(context.Background())
	defer close(release)

	if !waitFor(time.Second, func() bool { return pool.QueueDepth() == 0 }) {
		t.Fatalf("queue never drained, depth %d", pool.QueueDepth())
	}

	mu.Lock()
	defer mu.Unlock()
	if runs != 1 {
		t.Errorf("expected 1 execution for duplicate submissions, got %d", runs)
	}
}

func TestPool_StopCancelsAndDrains(t *testing.T) {
	started := make(chan struct{})
	var finished atomic.Int32

	run := func(ctx context.Context, req Request) {
		defer finished.Add(1)
		close(started)
		<-ctx.Done()
	}

	pool := NewPool("test", 1, run, nil)
	pool.pollInterval = 10 * time.Millisecond

	pool.Submit(Request{JobID: "job-1"})
	pool.Start(context.Background())

	<-started

	stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := pool.Stop(stopCtx); err != nil {
		t.Fatalf("stop: %v", err)
	}

	// Stop must not return before every execution has exited.
	if finished.Load() != 1 {
		t.Error("pool stopped before executions drained")
	}
}

func TestPool_StopTimesOutOnStuckExecution(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	run := func(ctx context.Context, req Request) {
		// ignores cancellation
		<-release
	}

	pool := NewPool("test", 1, run, nil)
	pool.pollInterval = 10 * time.Millisecond

	pool.Submit(Request{JobID: "job-1"})
	pool.Start(context.Background())

	if !waitFor(time.Second, func() bool { return pool.ActiveCount() == 1 }) {
		t.Fatal("execution never started")
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := pool.Stop(stopCtx); err == nil {
		t.Error("expected drain timeout error, got nil")
	}
}

func TestPool_RecoversFromPanic(t *testing.T) {
	var (
		mu   sync.Mutex
		runs []string
	)

	run := func(ctx context.Context, req Request) {
		mu.Lock()
		runs = append(runs, req.JobID)
		mu.Unlock()
		if req.JobID == "bad" {
			panic("boom")
		}
	}

	pool := NewPool("test", 1, run, nil)
	pool.pollInterval = 10 * time.Millisecond

	pool.Submit(Request{JobID: "bad"})
	pool.Submit(Request{JobID: "good"})
	pool.Start(context.Background())

	ok := waitFor(time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(runs) == 2
	})
	if !ok {
		t.Fatalf("panicking execution stalled the pool, ran %v", runs)
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := pool.Stop(stopCtx); err != nil {
		t.Fatalf("stop: %v", err)
	}
}
