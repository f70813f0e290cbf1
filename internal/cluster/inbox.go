// Package cluster implements the node state machine: the nine-state graph
// of leader election, synchronization, and replicated writes that every
// bedrock node runs on its own dedicated goroutine.
package cluster

import (
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/piula/bedrock/internal/envelope"
)

// InboundFrame is one frame arriving from a peer link, tagged with the
// peer it came from so the state machine can reply or account for it.
type InboundFrame struct {
	PeerID uint64
	Req    envelope.Request
}

// inboxNode is one entry in the lock-free linked list backing FrameInbox.
type inboxNode struct {
	value *InboundFrame
	next  atomic.Pointer[inboxNode]
}

// FrameInbox fans in frames pushed concurrently by every peerlink.Link
// goroutine into the single channel the Node's state-machine goroutine
// selects on: many producers (one per peer), one consumer (the node
// loop), via a lock-free MPSC queue.
type FrameInbox struct {
	head     atomic.Pointer[inboxNode]
	tail     atomic.Pointer[inboxNode]
	out      chan *InboundFrame
	consumer sync.WaitGroup
	closed   atomic.Bool

	mu   sync.Mutex
	cond *sync.Cond
}

// NewFrameInbox returns a running FrameInbox; call Close to stop it.
func NewFrameInbox() *FrameInbox {
	sentinel := &inboxNode{}

	q := &FrameInbox{
		out: make(chan *InboundFrame),
	}
	q.cond = sync.NewCond(&q.mu)
	q.head.Store(sentinel)
	q.tail.Store(sentinel)

	q.consumer.Add(1)
	go q.consume()

	return q
}

// Push enqueues a frame from peer link goroutine. Returns false if the
// inbox has already been closed.
func (q *FrameInbox) Push(frame *InboundFrame) bool {
	if frame == nil || q.closed.Load() {
		return false
	}

	newNode := &inboxNode{value: frame}

	var backoff uint8
	for {
		tailNode := q.tail.Load()
		next := tailNode.next.Load()
		if next == nil {
			if tailNode.next.CompareAndSwap(nil, newNode) {
				q.tail.CompareAndSwap(tailNode, newNode)
				q.cond.Signal()
				return true
			}
		} else {
			q.tail.CompareAndSwap(tailNode, next)
		}

		if backoff < 10 {
			backoff++
			for i := 0; i < 1<<backoff; i++ {
				runtime.Gosched()
			}
		}
		runtime.Gosched()
	}
}

// consume drains the linked list into the output channel.
func (q *FrameInbox) consume() {
	defer q.consumer.Done()
	defer close(q.out)

	for {
		hasItems := false

		for {
			head := q.head.Load()
			next := head.next.Load()
			if next == nil {
				break
			}
			hasItems = true

			value := next.value
			q.head.Store(next)
			q.out <- value
			next.value = nil
		}

		if !hasItems && q.closed.Load() {
			return
		}

		if !hasItems {
			q.mu.Lock()
			head := q.head.Load()
			if head.next.Load() == nil && !q.closed.Load() {
				q.cond.Wait()
			}
			q.mu.Unlock()
		}
	}
}

// Recv returns the channel the node's select loop reads from.
func (q *FrameInbox) Recv() <-chan *InboundFrame {
	return q.out
}

// Close stops the inbox from accepting new frames; frames already queued
// are still delivered.
func (q *FrameInbox) Close() {
	q.closed.Store(true)
	q.cond.Signal()
}

// IsClosed reports whether Close has been called.
func (q *FrameInbox) IsClosed() bool {
	return q.closed.Load()
}

// Len returns an approximate count of queued frames; O(n), debug use only.
func (q *FrameInbox) Len() int {
	count := 0
	current := q.head.Load()
	for {
		next := current.next.Load()
		if next == nil {
			break
		}
		count++
		current = next
	}
	return count
}
