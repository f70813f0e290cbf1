package sched

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/piula/bedrock/internal/envelope"
)

func TestSchedulerRunsDueCommands(t *testing.T) {
	q := NewQueue()
	var ran int32
	var wg sync.WaitGroup
	wg.Add(3)

	s := New(q, 2, func(ctx context.Context, cmd *envelope.Command) {
		atomic.AddInt32(&ran, 1)
		wg.Done()
	})

	for i := 0; i < 3; i++ {
		q.Enqueue(newTestCommand(0, time.Now().Add(-time.Millisecond)))
	}

	ctx, cancel := context.WithCancel(context.Background())
	go s.Run(ctx)

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for scheduler to run all due commands")
	}
	cancel()

	if got := atomic.LoadInt32(&ran); got != 3 {
		t.Errorf("expected 3 commands run, got %d", got)
	}
}

func TestSchedulerDrainsOnShutdown(t *testing.T) {
	q := NewQueue()
	var ran int32

	s := New(q, 1, func(ctx context.Context, cmd *envelope.Command) {
		atomic.AddInt32(&ran, 1)
	})

	q.Enqueue(newTestCommand(0, time.Now().Add(time.Hour)))
	q.Enqueue(newTestCommand(0, time.Now().Add(2*time.Hour)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for scheduler shutdown")
	}

	if got := atomic.LoadInt32(&ran); got != 2 {
		t.Errorf("expected shutdown to drain both queued commands, got %d run", got)
	}
	if q.Len() != 0 {
		t.Error("expected queue to be empty after shutdown drain")
	}
}

func TestSchedulerWakeIsNonBlocking(t *testing.T) {
	q := NewQueue()
	s := New(q, 1, func(ctx context.Context, cmd *envelope.Command) {})

	// Wake should never block even if called many times with no reader.
	for i := 0; i < 5; i++ {
		s.Wake()
	}
}
