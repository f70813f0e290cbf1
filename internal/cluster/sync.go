package cluster

import (
	"strconv"

	"github.com/piula/bedrock/internal/envelope"
	"github.com/piula/bedrock/internal/replog"
)

// startSynchronization enters SYNCHRONIZING and asks peerID for every
// record after our own commit count: a pull stream against the peer with
// the highest observed commit count.
func (n *Node) startSynchronization(peerID uint64) {
	n.setState(StateSynchronizing)

	var h envelope.Headers
	h.Set("from", strconv.FormatUint(n.CommitCount(), 10))
	if err := n.peers.SendTo(peerID, "SYNC_REQUEST", h, nil); err != nil {
		log.Warningf("node %d: requesting sync from peer %d: %v", n.cfg.NodeID, peerID, err)
		n.setState(StateSearching)
	}
}

// handleSyncRequest answers a peer's pull request with every record this
// node holds after the requested index, sent one SYNC_RECORD frame at a
// time in order.
func (n *Node) handleSyncRequest(f *InboundFrame) {
	from := uint64(f.Req.Headers.GetInt("from"))
	records := n.rlog.Since(from)

	for _, rec := range records {
		var h envelope.Headers
		h.Set("index", strconv.FormatUint(rec.Index, 10))
		if err := n.peers.SendTo(f.PeerID, "SYNC_RECORD", h, replog.EncodeForWire(rec)); err != nil {
			log.Warningf("node %d: sending sync record %d to peer %d: %v", n.cfg.NodeID, rec.Index, f.PeerID, err)
			return
		}
	}
}

// handleSyncRecord applies one record pulled from a peer; a gap aborts
// the synchronization attempt and the caller (tick) will retry against
// whichever peer now looks best.
func (n *Node) handleSyncRecord(f *InboundFrame) {
	if n.State() != StateSynchronizing {
		return
	}

	rec, err := replog.DecodeFromWire(f.Req.Body)
	if err != nil {
		log.Warningf("node %d: decoding sync record from peer %d: %v", n.cfg.NodeID, f.PeerID, err)
		return
	}

	if err := n.rlog.ApplyInOrder(rec); err != nil {
		log.Warningf("node %d: sync record %d from peer %d: %v, aborting synchronization", n.cfg.NodeID, rec.Index, f.PeerID, err)
		n.setState(StateSearching)
		return
	}

	if err := n.applyLocally(rec); err != nil {
		log.Warningf("node %d: applying sync record %d: %v", n.cfg.NodeID, rec.Index, err)
		return
	}

	if n.CommitCount() >= n.quorumMinimum() {
		n.setState(StateWaiting)
	}
}

// quorumMinimum is the commit count this node must reach during
// SYNCHRONIZING before it is considered caught up: the highest commit
// count seen among any peer view.
func (n *Node) quorumMinimum() uint64 {
	best := n.highestCommitPeer()
	if best == nil {
		return 0
	}
	return best.CommitCount
}
