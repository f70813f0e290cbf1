package cluster

import (
	"strconv"
	"time"

	"github.com/piula/bedrock/internal/envelope"
)

// maybeStandUp checks the election condition: this node is the
// highest-priority WAITING node and a quorum of peers is reachable.
func (n *Node) maybeStandUp() {
	if n.peers.ConnectedCount()+1 < n.quorumSize() {
		return
	}

	n.mu.RLock()
	myID, myPriority := n.cfg.NodeID, n.cfg.Priority
	best := true
	for _, pv := range n.peerViews {
		if pv.State != StateWaiting {
			continue
		}
		if betterCandidate(pv.ID, pv.Priority, myID, myPriority) {
			best = false
			break
		}
	}
	n.mu.RUnlock()

	if !best {
		return
	}

	n.startStandUp()
}

// startStandUp broadcasts STANDINGUP and waits, via the normal frame
// dispatch loop, for APPROVE/DENY replies tallied in n.approvals.
func (n *Node) startStandUp() {
	n.setState(StateStandingUp)

	n.electionMu.Lock()
	n.standingUpID = n.cfg.NodeID
	n.approvals = map[uint64]bool{n.cfg.NodeID: true}
	n.electionMu.Unlock()

	var h envelope.Headers
	h.Set("candidateID", strconv.FormatUint(n.cfg.NodeID, 10))
	h.Set("priority", strconv.Itoa(n.cfg.Priority))
	if err := n.peers.Broadcast("STANDINGUP", h, nil); err != nil {
		log.Warningf("node %d: broadcasting STANDINGUP: %v", n.cfg.NodeID, err)
	}

	go n.awaitElectionResult()
}

// awaitElectionResult gives peers one RTT window to reply, then commits
// to LEADING if a strict majority approved, or falls back to WAITING.
func (n *Node) awaitElectionResult() {
	time.Sleep(n.electionWindow())

	n.electionMu.Lock()
	approvals := len(n.approvals)
	n.electionMu.Unlock()

	if n.State() != StateStandingUp {
		return
	}

	if approvals >= n.quorumSize() {
		n.becomeLeader()
	} else {
		n.setState(StateWaiting)
	}
}

func (n *Node) electionWindow() time.Duration {
	return 3 * n.tickInterval()
}

func (n *Node) becomeLeader() {
	n.mu.Lock()
	n.leaderEpoch++
	n.leaderID = n.cfg.NodeID
	epoch := n.leaderEpoch
	n.mu.Unlock()

	n.rlog.PromoteToLeader(epoch)
	n.setState(StateLeading)
	n.broadcastState()
}

// handleStandingUp replies APPROVE unless this node sees a strictly
// better candidate, in which case it replies DENY naming that candidate.
func (n *Node) handleStandingUp(f *InboundFrame) {
	candidateID := uint64(f.Req.Headers.GetInt("candidateID"))
	candidatePriority := int(f.Req.Headers.GetInt("priority"))

	n.mu.RLock()
	myID, myPriority := n.cfg.NodeID, n.cfg.Priority
	betterID, betterPriority := myID, myPriority
	for _, pv := range n.peerViews {
		if betterCandidate(pv.ID, pv.Priority, betterID, betterPriority) {
			betterID, betterPriority = pv.ID, pv.Priority
		}
	}
	n.mu.RUnlock()

	var h envelope.Headers
	h.Set("candidateID", strconv.FormatUint(candidateID, 10))

	if betterCandidate(betterID, betterPriority, candidateID, candidatePriority) {
		h.Set("betterID", strconv.FormatUint(betterID, 10))
		if err := n.peers.SendTo(f.PeerID, "DENY", h, nil); err != nil {
			log.Warningf("node %d: sending DENY: %v", n.cfg.NodeID, err)
		}
		return
	}

	if err := n.peers.SendTo(f.PeerID, "APPROVE", h, nil); err != nil {
		log.Warningf("node %d: sending APPROVE: %v", n.cfg.NodeID, err)
	}
}

func (n *Node) handleApprove(f *InboundFrame) {
	if n.State() != StateStandingUp {
		return
	}
	n.electionMu.Lock()
	n.approvals[f.PeerID] = true
	n.electionMu.Unlock()
}

func (n *Node) handleDeny(f *InboundFrame) {
	if n.State() != StateStandingUp {
		return
	}
	log.Infof("node %d: election denied by peer %d", n.cfg.NodeID, f.PeerID)
	n.setState(StateWaiting)
}

// handleStandingDown notes a leader voluntarily yielding, so followers
// re-enter WAITING immediately instead of waiting out recvTimeout.
func (n *Node) handleStandingDown(f *InboundFrame) {
	n.mu.Lock()
	wasLeader := n.leaderID == f.PeerID
	if wasLeader {
		n.leaderID = 0
	}
	n.mu.Unlock()

	if wasLeader && (n.State() == StateFollowing || n.State() == StateSubscribing) {
		n.setState(StateWaiting)
		n.resendEscalations()
	}
}
