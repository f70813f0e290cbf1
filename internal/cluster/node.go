package cluster

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/piula/bedrock/internal/config"
	"github.com/piula/bedrock/internal/envelope"
	"github.com/piula/bedrock/internal/logging"
	"github.com/piula/bedrock/internal/peerlink"
	"github.com/piula/bedrock/internal/replog"
	"github.com/piula/bedrock/internal/tss"
)

var log = logging.GetLogger("cluster")

// Node runs the nine-state cluster graph on one goroutine started by
// Run, fed by a FrameInbox fan-in from every peerlink.Link and by
// ExecuteWrite calls from the owning server's command pipeline.
type Node struct {
	cfg     *config.ServerConfig
	surface tss.Surface
	peers   *peerlink.Manager
	inbox   *FrameInbox
	rlog    *replog.Log

	mu          sync.RWMutex
	state       State
	leaderEpoch uint64
	leaderID    uint64
	lastFromLdr time.Time
	peerViews   map[uint64]*PeerView

	pendingMu sync.Mutex
	pending   map[uint64]chan bool // record index -> quorum-ack waiter

	electionMu   sync.Mutex
	standingUpID uint64
	approvals    map[uint64]bool

	escalations   map[uuid.UUID]*escalation
	escalationsMu sync.Mutex

	// ExecuteEscalated runs a reconstructed request through the owning
	// server's full peek/process/commit pipeline. Wired by the server
	// after construction; nil until then.
	ExecuteEscalated func(cmd *envelope.Command) envelope.Response
}

// escalation tracks one write a follower has forwarded to the leader,
// awaiting the leader's response or a re-election to re-send it.
type escalation struct {
	cmd  *envelope.Command
	done chan *envelope.Response
}

// New returns a Node in state SEARCHING, ready for Run.
func New(cfg *config.ServerConfig, surface tss.Surface, peers *peerlink.Manager, inbox *FrameInbox) *Node {
	return &Node{
		cfg:         cfg,
		surface:     surface,
		peers:       peers,
		inbox:       inbox,
		rlog:        replog.New(0),
		state:       StateSearching,
		peerViews:   make(map[uint64]*PeerView),
		pending:     make(map[uint64]chan bool),
		approvals:   make(map[uint64]bool),
		escalations: make(map[uuid.UUID]*escalation),
	}
}

// State returns the node's current state.
func (n *Node) State() State {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.state
}

func (n *Node) setState(s State) {
	n.mu.Lock()
	prev := n.state
	n.state = s
	n.mu.Unlock()
	if prev != s {
		log.Infof("node %d: %s -> %s", n.cfg.NodeID, prev, s)
	}
}

// CommitCount returns the node's local replication cursor: the leader's
// append count, or a follower's apply count.
func (n *Node) CommitCount() uint64 {
	n.mu.RLock()
	isLeader := n.state == StateLeading
	n.mu.RUnlock()
	if isLeader {
		return n.rlog.CommitCount()
	}
	return n.rlog.LastApplied()
}

// IsLeader reports whether this node currently believes it is LEADING.
func (n *Node) IsLeader() bool {
	return n.State() == StateLeading
}

// Run drives the state machine until ctx is cancelled: it fans in peer
// frames and periodically re-evaluates election/failover timers.
func (n *Node) Run(ctx context.Context) {
	n.setState(StateSearching)
	ticker := time.NewTicker(n.tickInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			n.shutdown()
			return
		case frame, ok := <-n.inbox.Recv():
			if !ok {
				return
			}
			n.handleFrame(frame)
		case <-ticker.C:
			n.tick()
		}
	}
}

func (n *Node) tickInterval() time.Duration {
	if n.cfg != nil && n.cfg.RTT > 0 {
		return n.cfg.RTT
	}
	return 200 * time.Millisecond
}

func (n *Node) recvTimeout() time.Duration {
	if n.cfg != nil && n.cfg.RecvTimeout > 0 {
		return n.cfg.RecvTimeout
	}
	return 2 * time.Second
}

// tick re-evaluates timers: SEARCHING -> SYNCHRONIZING/WAITING once peers
// are visible, failover on a lost leader, and re-election attempts.
func (n *Node) tick() {
	switch n.State() {
	case StateSearching:
		if n.peers.ConnectedCount() > 0 {
			n.enterWaitingOrSync()
		}
	case StateFollowing:
		n.mu.RLock()
		lastFromLdr := n.lastFromLdr
		n.mu.RUnlock()
		if !lastFromLdr.IsZero() && time.Since(lastFromLdr) > n.recvTimeout() {
			log.Warningf("node %d: lost leader %d, re-entering WAITING", n.cfg.NodeID, n.leaderID)
			n.setState(StateWaiting)
			n.mu.Lock()
			n.leaderID = 0
			n.mu.Unlock()
			n.resendEscalations()
		}
	case StateWaiting:
		n.maybeStandUp()
	}
}

// enterWaitingOrSync decides, on leaving SEARCHING, whether this node must
// first pull records from a peer with a higher commit count.
func (n *Node) enterWaitingOrSync() {
	best := n.highestCommitPeer()
	if best != nil && best.CommitCount > n.CommitCount() {
		n.startSynchronization(best.ID)
		return
	}
	n.setState(StateWaiting)
}

func (n *Node) highestCommitPeer() *PeerView {
	n.mu.RLock()
	defer n.mu.RUnlock()

	var best *PeerView
	for _, pv := range n.peerViews {
		if best == nil || pv.CommitCount > best.CommitCount {
			best = pv
		}
	}
	return best
}

func (n *Node) quorumSize() int {
	if n.cfg != nil {
		return n.cfg.QuorumSize()
	}
	return 1
}

// handleFrame dispatches one inbound frame to the right handler by verb.
func (n *Node) handleFrame(f *InboundFrame) {
	switch f.Req.MethodLine {
	case "STATE":
		n.handleState(f)
	case "STANDINGUP":
		n.handleStandingUp(f)
	case "APPROVE":
		n.handleApprove(f)
	case "DENY":
		n.handleDeny(f)
	case "STANDINGDOWN":
		n.handleStandingDown(f)
	case "SYNC_REQUEST":
		n.handleSyncRequest(f)
	case "SYNC_RECORD":
		n.handleSyncRecord(f)
	case "REPLICATE":
		n.handleReplicate(f)
	case "ACK":
		n.handleAck(f)
	case "ESCALATE":
		n.handleEscalate(f)
	case "ESCALATE_RESPONSE":
		n.handleEscalateResponse(f)
	default:
		log.Warningf("node %d: unrecognized frame %q from peer %d", n.cfg.NodeID, f.Req.MethodLine, f.PeerID)
	}
}

// handleState updates the sender's tracked view and, if it names a
// LEADING peer, records it as this node's leader contact.
func (n *Node) handleState(f *InboundFrame) {
	priority := int(f.Req.Headers.GetInt("priority"))
	commitCount := uint64(f.Req.Headers.GetInt("commitCount"))
	stateVal := int(f.Req.Headers.GetInt("state"))

	n.mu.Lock()
	n.peerViews[f.PeerID] = &PeerView{
		ID:          f.PeerID,
		Priority:    priority,
		State:       State(stateVal),
		CommitCount: commitCount,
	}
	if State(stateVal) == StateLeading {
		if n.state == StateFollowing || n.state == StateSubscribing {
			n.leaderID = f.PeerID
			n.lastFromLdr = time.Now()
		}
	}
	n.mu.Unlock()
}

// broadcastState announces this node's own state, so every peer can keep
// its PeerView table current without a separate heartbeat protocol.
func (n *Node) broadcastState() {
	var h envelope.Headers
	h.Set("priority", strconv.Itoa(n.cfg.Priority))
	h.Set("commitCount", strconv.FormatUint(n.CommitCount(), 10))
	h.Set("state", strconv.Itoa(int(n.State())))
	if err := n.peers.Broadcast("STATE", h, nil); err != nil {
		log.Warningf("node %d: broadcasting state: %v", n.cfg.NodeID, err)
	}
}

func (n *Node) shutdown() {
	n.mu.RLock()
	isLeader := n.state == StateLeading
	n.mu.RUnlock()

	if isLeader {
		n.setState(StateStandingDown)
		n.drainInFlight()
	}
	n.setState(StateSearching)
}

// drainInFlight waits for every outstanding QUORUM ack before a leader
// steps down, so every in-flight commit is drained first.
func (n *Node) drainInFlight() {
	n.pendingMu.Lock()
	waiters := make([]chan bool, 0, len(n.pending))
	for _, ch := range n.pending {
		waiters = append(waiters, ch)
	}
	n.pendingMu.Unlock()

	deadline := time.After(n.recvTimeout())
	for _, ch := range waiters {
		select {
		case <-ch:
		case <-deadline:
			return
		}
	}
}

// Status returns a JSON-shaped map describing this node and its peers.
func (n *Node) Status() map[string]any {
	n.mu.RLock()
	defer n.mu.RUnlock()

	peerList := make([]map[string]any, 0, len(n.peerViews))
	for _, pv := range n.peerViews {
		var latency time.Duration
		state := pv.State.String()
		if link, ok := n.peers.Get(pv.ID); ok {
			latency = link.Latency()
			if !link.Connected() {
				state = ""
			}
		}

		var name, host string
		if peer, ok := n.cfg.Peers[pv.ID]; ok {
			name = peer.Name
			host = peer.Host
		}

		peerList = append(peerList, map[string]any{
			"id":          pv.ID,
			"name":        name,
			"host":        host,
			"priority":    pv.Priority,
			"state":       state,
			"commitCount": pv.CommitCount,
			"latency":     latency.String(),
		})
	}

	return map[string]any{
		"state":       n.state.String(),
		"commitCount": n.CommitCount(),
		"priority":    n.cfg.Priority,
		"peerList":    peerList,
	}
}
