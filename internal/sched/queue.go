package sched

import (
	"container/heap"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/piula/bedrock/internal/envelope"
)

// Queue is a thread-safe priority queue of commands waiting to run, a thin
// synchronized wrapper around commandHeap for concurrent callers.
type Queue struct {
	mu     sync.Mutex
	h      *commandHeap
	seq    uint64
}

// NewQueue returns an empty Queue.
func NewQueue() *Queue {
	h := newCommandHeap()
	heap.Init(h)
	return &Queue{h: h}
}

// Enqueue adds cmd to the queue, stamping its arrival sequence if not
// already stamped (a re-enqueue after HTTP suspend keeps its original
// arrival order).
func (q *Queue) Enqueue(cmd *envelope.Command) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if cmd.Arrival() == 0 {
		q.seq++
		cmd.SetArrival(q.seq)
	}
	q.h.Add(cmd)
}

// Remove withdraws a queued command by id, for a plugin that cancels a
// suspended command outright.
func (q *Queue) Remove(id uuid.UUID) (*envelope.Command, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.h.RemoveByID(id)
}

// Contains reports whether id is currently queued.
func (q *Queue) Contains(id uuid.UUID) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.h.Contains(id)
}

// Len returns the number of queued commands.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.h.Len()
}

// Peek returns the earliest-due command without removing it.
func (q *Queue) Peek() (*envelope.Command, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.h.Peek()
}

// PopIfDue removes and returns the earliest command only if its ExecuteAt
// has already passed; otherwise it leaves the queue untouched.
func (q *Queue) PopIfDue() (*envelope.Command, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	cmd, ok := q.h.Peek()
	if !ok || cmd.ExecuteAt.After(time.Now()) {
		return nil, false
	}
	heap.Pop(q.h)
	return cmd, true
}

// Drain removes and returns every queued command, in priority order, for
// use during shutdown draining.
func (q *Queue) Drain() []*envelope.Command {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]*envelope.Command, 0, q.h.Len())
	for q.h.Len() > 0 {
		it := heap.Pop(q.h).(*queueItem)
		out = append(out, it.cmd)
	}
	return out
}
