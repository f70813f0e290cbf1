package sched

import (
	"container/heap"

	"github.com/google/uuid"

	"github.com/piula/bedrock/internal/envelope"
)

// queueItem is one entry in commandHeap: a command plus its position in the
// underlying slice, maintained by container/heap.
type queueItem struct {
	cmd   *envelope.Command
	index int
}

// commandHeap is a priority queue of in-flight commands ordered first by
// ExecuteAt (commands with a future time stay inert), then by Priority,
// then by arrival order - combined with an id-indexed map so a command
// suspended on an HTTP wait can be found and re-inserted by id.
type commandHeap struct {
	items []*queueItem
	byID  map[uuid.UUID]*queueItem
}

func newCommandHeap() *commandHeap {
	return &commandHeap{
		items: make([]*queueItem, 0),
		byID:  make(map[uuid.UUID]*queueItem),
	}
}

func (h *commandHeap) Len() int { return len(h.items) }

func (h *commandHeap) Less(i, j int) bool {
	a, b := h.items[i].cmd, h.items[j].cmd
	if !a.ExecuteAt.Equal(b.ExecuteAt) {
		return a.ExecuteAt.Before(b.ExecuteAt)
	}
	// Higher priority first.
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	return a.Arrival() < b.Arrival()
}

func (h *commandHeap) Swap(i, j int) {
	h.items[i], h.items[j] = h.items[j], h.items[i]
	h.items[i].index = i
	h.items[j].index = j
}

func (h *commandHeap) Push(x interface{}) {
	it := x.(*queueItem)
	it.index = len(h.items)
	h.items = append(h.items, it)
	h.byID[it.cmd.ID] = it
}

func (h *commandHeap) Pop() interface{} {
	old := h.items
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	h.items = old[:n-1]
	delete(h.byID, it.cmd.ID)
	return it
}

// Add inserts cmd into the queue, or re-schedules it (fixing the heap) if a
// command with the same ID was already present - the case of a plugin
// re-queuing a suspended command with a new ExecuteAt.
func (h *commandHeap) Add(cmd *envelope.Command) {
	if it, ok := h.byID[cmd.ID]; ok {
		it.cmd = cmd
		heap.Fix(h, it.index)
		return
	}
	heap.Push(h, &queueItem{cmd: cmd})
}

// RemoveByID removes a command by id, returning it if present.
func (h *commandHeap) RemoveByID(id uuid.UUID) (*envelope.Command, bool) {
	it, ok := h.byID[id]
	if !ok {
		return nil, false
	}
	heap.Remove(h, it.index)
	return it.cmd, true
}

// Peek returns the earliest-due command without removing it.
func (h *commandHeap) Peek() (*envelope.Command, bool) {
	if len(h.items) == 0 {
		return nil, false
	}
	return h.items[0].cmd, true
}

// Contains reports whether id is currently queued.
func (h *commandHeap) Contains(id uuid.UUID) bool {
	_, ok := h.byID[id]
	return ok
}
