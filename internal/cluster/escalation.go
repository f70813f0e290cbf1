package cluster

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/piula/bedrock/internal/envelope"
	"github.com/piula/bedrock/internal/metrics"
)

// ErrNoLeader is returned by Escalate when a FOLLOWING node has no known
// leader contact to escalate to.
var ErrNoLeader = errors.New("cluster: no known leader to escalate to")

// Escalate implements follower write escalation: a FOLLOWING node that
// needs to process a write wraps the original request in an ESCALATE
// frame, forwards it to the leader, and blocks (with the client's socket
// held open by the caller) until a response arrives or ctx is cancelled
// by a re-election.
func (n *Node) Escalate(ctx context.Context, cmd *envelope.Command) (*envelope.Response, error) {
	n.mu.RLock()
	leaderID := n.leaderID
	n.mu.RUnlock()

	if leaderID == 0 {
		return nil, ErrNoLeader
	}

	done := make(chan *envelope.Response, 1)
	n.escalationsMu.Lock()
	n.escalations[cmd.ID] = &escalation{cmd: cmd, done: done}
	n.escalationsMu.Unlock()
	defer func() {
		n.escalationsMu.Lock()
		delete(n.escalations, cmd.ID)
		n.escalationsMu.Unlock()
	}()

	if err := n.sendEscalation(leaderID, cmd); err != nil {
		return nil, err
	}
	metrics.IncEscalated()
	cmd.EscalatedToLeader = true

	select {
	case resp := <-done:
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (n *Node) sendEscalation(leaderID uint64, cmd *envelope.Command) error {
	var h envelope.Headers
	h.Set("commandID", cmd.ID.String())
	h.Set("method", cmd.Request.MethodLine)
	cmd.Request.Headers.Each(func(k, v string) {
		h.Set("orig-"+k, v)
	})
	return n.peers.SendTo(leaderID, "ESCALATE", h, cmd.Request.Body)
}

// resendEscalations re-sends every still-pending escalation to the
// current leader once one is known again, so a write in flight during a
// failover survives the re-election.
func (n *Node) resendEscalations() {
	n.escalationsMu.Lock()
	pending := make([]*escalation, 0, len(n.escalations))
	for _, e := range n.escalations {
		pending = append(pending, e)
	}
	n.escalationsMu.Unlock()

	if len(pending) == 0 {
		return
	}

	go func() {
		deadline := time.Now().Add(n.recvTimeout() * 5)
		for time.Now().Before(deadline) {
			n.mu.RLock()
			leaderID := n.leaderID
			n.mu.RUnlock()
			if leaderID != 0 {
				for _, e := range pending {
					if err := n.sendEscalation(leaderID, e.cmd); err != nil {
						log.Warningf("node %d: re-sending escalated command %s: %v", n.cfg.NodeID, e.cmd.ID, err)
					}
				}
				return
			}
			time.Sleep(n.tickInterval())
		}
	}()
}

// handleEscalate is the leader-side path: it reconstructs the original
// request, runs it through the caller-supplied executeFn (wired by the
// owning server to the full peek/process/commit pipeline), and replies
// ESCALATE_RESPONSE carrying the response's status line and body. The
// response headers (commitCount among them) are not forwarded.
func (n *Node) handleEscalate(f *InboundFrame) {
	if !n.IsLeader() {
		return
	}
	if n.ExecuteEscalated == nil {
		log.Warningf("node %d: received ESCALATE but no executor is wired", n.cfg.NodeID)
		return
	}

	methodLine, _ := f.Req.Headers.Get("method")
	var reqHeaders envelope.Headers
	f.Req.Headers.Each(func(k, v string) {
		const prefix = "orig-"
		if len(k) > len(prefix) && k[:len(prefix)] == prefix {
			reqHeaders.Set(k[len(prefix):], v)
		}
	})

	req := envelope.Request{MethodLine: methodLine, Headers: reqHeaders, Body: f.Req.Body}
	cmd := envelope.NewCommand(req)

	resp := n.ExecuteEscalated(cmd)

	var h envelope.Headers
	if id, ok := f.Req.Headers.Get("commandID"); ok {
		h.Set("commandID", id)
	}
	h.Set("status", resp.StatusLine)
	if err := n.peers.SendTo(f.PeerID, "ESCALATE_RESPONSE", h, resp.Body); err != nil {
		log.Warningf("node %d: replying to escalated command: %v", n.cfg.NodeID, err)
	}
}

// handleEscalateResponse delivers the leader's status line and body back
// to the goroutine blocked in Escalate, as a Response with no headers.
func (n *Node) handleEscalateResponse(f *InboundFrame) {
	idStr, ok := f.Req.Headers.Get("commandID")
	if !ok {
		return
	}
	id, err := uuid.Parse(idStr)
	if err != nil {
		return
	}

	n.escalationsMu.Lock()
	e, ok := n.escalations[id]
	n.escalationsMu.Unlock()
	if !ok {
		return
	}

	status, _ := f.Req.Headers.Get("status")
	resp := &envelope.Response{StatusLine: status, Body: f.Req.Body}

	select {
	case e.done <- resp:
	default:
	}
}
