package cluster

import (
	"context"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/piula/bedrock/internal/core"
	"github.com/piula/bedrock/internal/envelope"
	"github.com/piula/bedrock/internal/metrics"
	"github.com/piula/bedrock/internal/replog"
	"github.com/piula/bedrock/internal/tss"
)

// ErrNotLeader is returned by ExecuteWrite when called on a node that is
// not currently LEADING.
var ErrNotLeader = errors.New("cluster: node is not the leader")

// ExecuteWrite implements the LEADING node's replicated-write path:
// assign the next commit index, broadcast the record, then either commit
// immediately (ASYNC) or wait for a quorum of follower acks (QUORUM)
// before committing locally. surface is the per-command Surface the
// caller's Process call left with uncommitted SQL on it; ExecuteWrite
// owns committing or rolling it back on every return path.
func (n *Node) ExecuteWrite(cmd *envelope.Command, surface tss.Surface) error {
	if !n.IsLeader() {
		surface.Rollback()
		return ErrNotLeader
	}

	sql := surface.UncommittedQuery()
	rec := n.rlog.Append(sql, cmd.ID)

	ackCh := n.registerPending(rec.Index)
	defer n.unregisterPending(rec.Index)

	if err := n.broadcastRecord(rec); err != nil {
		log.Warningf("node %d: broadcasting record %d: %v", n.cfg.NodeID, rec.Index, err)
	}

	if cmd.Consistency == envelope.ConsistencyQuorum {
		start := time.Now()
		if !n.awaitQuorumAck(ackCh) {
			surface.Rollback()
			return core.Fail(core.StepOutcome{StatusLine: "500 Commit conflict"})
		}
		metrics.ObserveQuorumAck(time.Since(start))
	}

	index := rec.Index
	if _, err := surface.Commit(&index); err != nil {
		surface.Rollback()
		return err
	}
	metrics.IncCommit()
	return nil
}

func (n *Node) broadcastRecord(rec replog.Record) error {
	var h envelope.Headers
	h.Set("index", strconv.FormatUint(rec.Index, 10))
	h.Set("leaderEpoch", strconv.FormatUint(rec.LeaderEpoch, 10))
	h.Set("commandID", rec.CommandID.String())
	return n.peers.Broadcast("REPLICATE", h, replog.EncodeForWire(rec))
}

func (n *Node) registerPending(index uint64) chan bool {
	ch := make(chan bool, n.quorumSize())
	n.pendingMu.Lock()
	n.pending[index] = ch
	n.pendingMu.Unlock()
	return ch
}

func (n *Node) unregisterPending(index uint64) {
	n.pendingMu.Lock()
	delete(n.pending, index)
	n.pendingMu.Unlock()
}

// awaitQuorumAck blocks until floor(n/2) followers (not counting the
// leader itself) have acked, or the recv timeout expires.
func (n *Node) awaitQuorumAck(ackCh chan bool) bool {
	needed := n.quorumSize() - 1
	if needed <= 0 {
		return true
	}

	acked := 0
	deadline := time.After(n.recvTimeout())
	for acked < needed {
		select {
		case <-ackCh:
			acked++
		case <-deadline:
			return false
		}
	}
	return true
}

// handleReplicate is the follower-side path: decode, apply in order, and
// ack back to the leader.
func (n *Node) handleReplicate(f *InboundFrame) {
	rec, err := replog.DecodeFromWire(f.Req.Body)
	if err != nil {
		log.Warningf("node %d: decoding replicated record from peer %d: %v", n.cfg.NodeID, f.PeerID, err)
		return
	}

	if err := n.rlog.ApplyInOrder(rec); err != nil {
		log.Warningf("node %d: record %d from peer %d: %v, re-synchronizing", n.cfg.NodeID, rec.Index, f.PeerID, err)
		n.setState(StateSynchronizing)
		go n.startSynchronization(f.PeerID)
		return
	}

	if err := n.applyLocally(rec); err != nil {
		log.Warningf("node %d: applying record %d locally: %v", n.cfg.NodeID, rec.Index, err)
		return
	}

	var h envelope.Headers
	h.Set("index", strconv.FormatUint(rec.Index, 10))
	if err := n.peers.SendTo(f.PeerID, "ACK", h, nil); err != nil {
		log.Warningf("node %d: acking record %d: %v", n.cfg.NodeID, rec.Index, err)
	}
}

// applyLocally begins a transaction, executes rec.SQL, and commits it at
// rec.Index - the follower-side counterpart of the leader's own
// BeginConcurrent/Execute/Commit sequence in internal/core.
func (n *Node) applyLocally(rec replog.Record) error {
	if err := n.surface.BeginConcurrent(); err != nil {
		return err
	}
	if _, err := n.surface.Execute(context.Background(), rec.SQL); err != nil {
		n.surface.Rollback()
		return err
	}
	index := rec.Index
	if _, err := n.surface.Commit(&index); err != nil {
		return err
	}
	return nil
}

// handleAck is the leader-side path: wake up ExecuteWrite's
// awaitQuorumAck for the acked index, if still pending.
func (n *Node) handleAck(f *InboundFrame) {
	index := uint64(f.Req.Headers.GetInt("index"))

	n.pendingMu.Lock()
	ch, ok := n.pending[index]
	n.pendingMu.Unlock()

	if ok {
		select {
		case ch <- true:
		default:
		}
	}
}
