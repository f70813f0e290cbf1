// Package sched drains the command queue through a bounded worker pool,
// computing the earliest pending ExecuteAt so the owning node's main loop
// can sleep precisely instead of busy-polling. Uses sourcegraph/conc's
// pool for the bounded worker fan-out.
package sched

import (
	"context"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/piula/bedrock/internal/envelope"
	"github.com/piula/bedrock/internal/logging"
)

var log = logging.GetLogger("sched")

// Handler runs one command to completion. It is supplied by the owning
// node (wrapping the core.Executor and cluster replication) so this
// package stays ignorant of peek/process/replication semantics.
type Handler func(ctx context.Context, cmd *envelope.Command)

// Scheduler drains a Queue through a bounded pool of worker goroutines,
// dispatching due commands to a Handler. It does not re-enqueue a command
// after its Handler returns; calling Queue.Enqueue again with the same
// command reschedules it.
type Scheduler struct {
	queue   *Queue
	handler Handler
	workers int

	mu       sync.Mutex
	inFlight int
	wakeCh   chan struct{}
}

// New returns a Scheduler draining q with up to workers concurrent
// handlers.
func New(q *Queue, workers int, handler Handler) *Scheduler {
	if workers < 1 {
		workers = 1
	}
	return &Scheduler{
		queue:   q,
		handler: handler,
		workers: workers,
		wakeCh:  make(chan struct{}, 1),
	}
}

// Wake nudges the scheduler to re-check the queue immediately - called
// after Enqueue so a freshly-added due command isn't stuck behind a sleep.
func (s *Scheduler) Wake() {
	select {
	case s.wakeCh <- struct{}{}:
	default:
	}
}

// Run drives the scheduler loop until ctx is cancelled, then drains
// remaining queued commands before returning.
func (s *Scheduler) Run(ctx context.Context) {
	p := pool.New().WithMaxGoroutines(s.workers)

	for {
		cmd, due := s.queue.PopIfDue()
		if due {
			s.dispatch(ctx, p, cmd)
			continue
		}

		wait := s.nextActivity()
		select {
		case <-ctx.Done():
			p.Wait()
			s.drainOnShutdown(ctx)
			return
		case <-s.wakeCh:
		case <-time.After(wait):
		}
	}
}

// dispatch runs cmd on the worker pool, tracking in-flight count so
// nextActivity can account for commands currently executing.
func (s *Scheduler) dispatch(ctx context.Context, p *pool.Pool, cmd *envelope.Command) {
	s.mu.Lock()
	s.inFlight++
	s.mu.Unlock()

	p.Go(func() {
		defer func() {
			s.mu.Lock()
			s.inFlight--
			s.mu.Unlock()
		}()
		s.handler(ctx, cmd)
	})
}

// nextActivity returns how long the loop should sleep before re-checking
// the queue: a short 10ms poll while work is in flight, zero if a command
// is due now, otherwise the time until the earliest queued ExecuteAt,
// capped so periodic housekeeping still runs.
func (s *Scheduler) nextActivity() time.Duration {
	const maxIdle = time.Second

	s.mu.Lock()
	inFlight := s.inFlight
	s.mu.Unlock()

	if inFlight > 0 {
		return 10 * time.Millisecond
	}

	cmd, ok := s.queue.Peek()
	if !ok {
		return maxIdle
	}

	wait := time.Until(cmd.ExecuteAt)
	if wait <= 0 {
		return 0
	}
	if wait > maxIdle {
		return maxIdle
	}
	return wait
}

// drainOnShutdown hands every remaining queued command to the handler
// synchronously: a standing-down node finishes in-flight and queued
// work before returning to searching.
func (s *Scheduler) drainOnShutdown(ctx context.Context) {
	remaining := s.queue.Drain()
	if len(remaining) == 0 {
		return
	}
	log.Infof("draining %d queued command(s) before shutdown", len(remaining))
	for _, cmd := range remaining {
		s.handler(ctx, cmd)
	}
}
