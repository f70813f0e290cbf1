package cluster

import (
	"sync"
	"testing"
	"time"

	"github.com/piula/bedrock/internal/envelope"
)

func TestFrameInboxBasicOperations(t *testing.T) {
	q := NewFrameInbox()
	defer q.Close()

	for i := 0; i < 10; i++ {
		frame := &InboundFrame{PeerID: uint64(i), Req: envelope.Request{MethodLine: "PING"}}
		if !q.Push(frame) {
			t.Fatalf("failed to push frame %d", i)
		}
	}

	for i := 0; i < 10; i++ {
		select {
		case got := <-q.Recv():
			if got.PeerID != uint64(i) {
				t.Errorf("expected peer id %d, got %d", i, got.PeerID)
			}
		case <-time.After(100 * time.Millisecond):
			t.Fatalf("timed out waiting for frame %d", i)
		}
	}

	select {
	case got := <-q.Recv():
		t.Errorf("expected inbox to be empty, got %+v", got)
	case <-time.After(10 * time.Millisecond):
	}
}

func TestFrameInboxConcurrentProducers(t *testing.T) {
	q := NewFrameInbox()
	defer q.Close()

	const numPeers = 8
	const framesPerPeer = 200
	total := numPeers * framesPerPeer

	var wg sync.WaitGroup
	wg.Add(numPeers)
	for p := 0; p < numPeers; p++ {
		peerID := uint64(p)
		go func() {
			defer wg.Done()
			for i := 0; i < framesPerPeer; i++ {
				q.Push(&InboundFrame{PeerID: peerID})
			}
		}()
	}

	received := 0
	done := make(chan struct{})
	go func() {
		defer close(done)
		for received < total {
			<-q.Recv()
			received++
		}
	}()

	wg.Wait()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out draining inbox, received %d/%d", received, total)
	}
}

func TestFrameInboxPushAfterCloseFails(t *testing.T) {
	q := NewFrameInbox()
	q.Close()

	if q.Push(&InboundFrame{PeerID: 1}) {
		t.Error("expected Push to fail after Close")
	}
	if !q.IsClosed() {
		t.Error("expected IsClosed to report true after Close")
	}
}

func TestFrameInboxRejectsNil(t *testing.T) {
	q := NewFrameInbox()
	defer q.Close()

	if q.Push(nil) {
		t.Error("expected Push(nil) to return false")
	}
}
