package dispatch

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestPool_RunsSubmittedTasks(t *testing.T) {
	p := New(2, 16)
	defer p.Stop()

	var n atomic.Int32
	var wg sync.WaitGroup
	wg.Add(10)
	for i := 0; i < 10; i++ {
		p.Submit(func(ctx context.Context) {
			n.Add(1)
			wg.Done()
		})
	}
	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for tasks")
	}
	if n.Load() != 10 {
		t.Fatalf("expected 10 tasks run, got %d", n.Load())
	}
}

func TestPool_DropsWhenQueueFull(t *testing.T) {
	p := New(1, 1)
	defer p.Stop()

	block := make(chan struct{})
	p.Submit(func(ctx context.Context) { <-block })
	// Give the first task a moment to be picked up by the single worker.
	time.Sleep(20 * time.Millisecond)
	p.Submit(func(context.Context) {})
	p.Submit(func(context.Context) {})
	close(block)

	if p.Dropped() == 0 {
		t.Fatalf("expected at least one dropped task under overload")
	}
}

func TestPool_RecoversFromPanic(t *testing.T) {
	p := New(1, 4)
	defer p.Stop()

	var ran atomic.Bool
	p.Submit(func(context.Context) { panic("boom") })
	p.Submit(func(context.Context) { ran.Store(true) })
	time.Sleep(50 * time.Millisecond)
	if !ran.Load() {
		t.Fatalf("worker did not recover from panic to run next task")
	}
}
