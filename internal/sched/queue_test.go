package sched

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/piula/bedrock/internal/envelope"
)

func newTestCommand(priority int, executeAt time.Time) *envelope.Command {
	return &envelope.Command{
		ID:        uuid.New(),
		Priority:  priority,
		ExecuteAt: executeAt,
	}
}

func TestQueueOrdersByExecuteAtThenPriority(t *testing.T) {
	q := NewQueue()
	now := time.Now()

	low := newTestCommand(1, now)
	high := newTestCommand(9, now)
	later := newTestCommand(9, now.Add(time.Hour))

	q.Enqueue(later)
	q.Enqueue(low)
	q.Enqueue(high)

	first, ok := q.Peek()
	if !ok {
		t.Fatal("expected a queued command")
	}
	if first.ID != high.ID {
		t.Errorf("expected the higher-priority, earlier-due command first, got priority %d", first.Priority)
	}
}

func TestQueuePopIfDueRespectsExecuteAt(t *testing.T) {
	q := NewQueue()
	future := newTestCommand(0, time.Now().Add(time.Hour))
	q.Enqueue(future)

	if _, ok := q.PopIfDue(); ok {
		t.Error("expected PopIfDue to skip a command scheduled in the future")
	}
	if q.Len() != 1 {
		t.Errorf("expected the future command to remain queued, len=%d", q.Len())
	}

	due := newTestCommand(0, time.Now().Add(-time.Millisecond))
	q.Enqueue(due)

	got, ok := q.PopIfDue()
	if !ok {
		t.Fatal("expected PopIfDue to return the due command")
	}
	if got.ID != due.ID {
		t.Error("expected the due command, not the future one")
	}
}

func TestQueueRemoveByID(t *testing.T) {
	q := NewQueue()
	cmd := newTestCommand(0, time.Now())
	q.Enqueue(cmd)

	if !q.Contains(cmd.ID) {
		t.Fatal("expected queue to contain the enqueued command")
	}

	removed, ok := q.Remove(cmd.ID)
	if !ok || removed.ID != cmd.ID {
		t.Fatal("expected Remove to return the enqueued command")
	}
	if q.Contains(cmd.ID) {
		t.Error("expected queue not to contain the command after Remove")
	}
}

func TestQueueDrainReturnsAllInPriorityOrder(t *testing.T) {
	q := NewQueue()
	now := time.Now()
	a := newTestCommand(5, now)
	b := newTestCommand(1, now)
	c := newTestCommand(9, now)

	q.Enqueue(a)
	q.Enqueue(b)
	q.Enqueue(c)

	drained := q.Drain()
	if len(drained) != 3 {
		t.Fatalf("expected 3 drained commands, got %d", len(drained))
	}
	if drained[0].ID != c.ID || drained[1].ID != a.ID || drained[2].ID != b.ID {
		t.Error("expected drained commands in descending priority order")
	}
	if q.Len() != 0 {
		t.Error("expected queue to be empty after Drain")
	}
}

func TestQueueReEnqueueKeepsArrivalOrder(t *testing.T) {
	q := NewQueue()
	cmd := newTestCommand(0, time.Now())
	q.Enqueue(cmd)
	first := cmd.Arrival()

	cmd.ExecuteAt = time.Now().Add(time.Minute)
	q.Enqueue(cmd)

	if cmd.Arrival() != first {
		t.Error("expected re-enqueuing an already-stamped command to keep its original arrival")
	}
}
