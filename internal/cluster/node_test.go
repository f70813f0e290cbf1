package cluster

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/piula/bedrock/internal/config"
	"github.com/piula/bedrock/internal/envelope"
	"github.com/piula/bedrock/internal/peerlink"
	"github.com/piula/bedrock/internal/testutil"
)

func TestBetterCandidatePrefersHigherPriority(t *testing.T) {
	if !betterCandidate(2, 5, 1, 3) {
		t.Error("expected node with higher priority to be the better candidate")
	}
}

func TestBetterCandidateTiesBreakOnLowerID(t *testing.T) {
	if !betterCandidate(1, 5, 2, 5) {
		t.Error("expected the lower node id to win an equal-priority tie")
	}
	if betterCandidate(2, 5, 1, 5) {
		t.Error("expected the higher node id to lose an equal-priority tie")
	}
}

func TestStateStringUnknownByDefault(t *testing.T) {
	var s State
	if s.String() != "UNKNOWN" {
		t.Errorf("expected zero-value State to be UNKNOWN, got %s", s.String())
	}
}

// pairedNodes wires two Nodes over a real loopback TCP connection: nodeB
// listens, nodeA dials, and every frame each Link delivers is forwarded
// into that node's FrameInbox - the glue the owning server is
// responsible for (here done inline for the test).
func pairedNodes(t *testing.T) (a, b *Node, stop func()) {
	t.Helper()

	addrB := "127.0.0.1:0"
	lnB, err := net.Listen("tcp", addrB)
	if err != nil {
		t.Fatalf("failed to reserve listener port: %v", err)
	}
	realAddrB := lnB.Addr().String()
	_ = lnB.Close()

	cfgA := &config.ServerConfig{NodeID: 1, Priority: 10, Peers: map[uint64]config.PeerConfig{2: {ID: 2}}, RTT: 20 * time.Millisecond, RecvTimeout: 300 * time.Millisecond}
	cfgB := &config.ServerConfig{NodeID: 2, Priority: 5, Peers: map[uint64]config.PeerConfig{1: {ID: 1}}, RTT: 20 * time.Millisecond, RecvTimeout: 300 * time.Millisecond}

	surfaceA := testutil.NewMemSurface()
	surfaceB := testutil.NewMemSurface()

	inboxA := NewFrameInbox()
	inboxB := NewFrameInbox()

	mgrA := peerlink.NewManager()
	mgrB := peerlink.NewManager()

	ctx, cancel := context.WithCancel(context.Background())

	_, err = peerlink.Listen(ctx, realAddrB, func(l *peerlink.Link) {
		mgrB.Add(l)
		go forwardFrames(ctx, l, 1, inboxB)
	})
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}

	linkToB := peerlink.New(2, realAddrB, peerlink.Config{SelfID: 1, ReconnectMin: 10 * time.Millisecond, ReconnectMax: 50 * time.Millisecond})
	mgrA.Add(linkToB)
	go forwardFrames(ctx, linkToB, 2, inboxA)
	mgrA.Start(ctx)

	nodeA := New(cfgA, surfaceA, mgrA, inboxA)
	nodeB := New(cfgB, surfaceB, mgrB, inboxB)

	go nodeA.Run(ctx)
	go nodeB.Run(ctx)

	return nodeA, nodeB, func() {
		cancel()
		mgrA.Stop()
	}
}

func forwardFrames(ctx context.Context, l *peerlink.Link, peerID uint64, inbox *FrameInbox) {
	for {
		select {
		case frame, ok := <-l.Recv():
			if !ok {
				return
			}
			inbox.Push(&InboundFrame{
				PeerID: peerID,
				Req:    envelope.Request{MethodLine: frame.MethodLine, Headers: frame.Headers, Body: frame.Body},
			})
		case <-ctx.Done():
			return
		}
	}
}

func TestTwoNodesElectALeader(t *testing.T) {
	a, b, stop := pairedNodes(t)
	defer stop()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if a.State() == StateLeading || b.State() == StateLeading {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	if a.State() != StateLeading && b.State() != StateLeading {
		t.Fatalf("expected one node to become leader, got a=%s b=%s", a.State(), b.State())
	}

	// The higher-priority node (a, priority 10) must win the election.
	if a.State() != StateLeading {
		t.Errorf("expected the higher-priority node to lead, got a=%s b=%s", a.State(), b.State())
	}
}
