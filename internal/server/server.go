// Package server wires the command executor, cluster state machine, and
// scheduler into one daemon: it accepts client connections on Endpoint,
// decodes framed commands, runs them through the peek/process pipeline,
// and replicates writes via the cluster Node - the composition root
// cmd/bedrockd's serve command calls into.
package server

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"sync"
	"time"

	"github.com/piula/bedrock/internal/cluster"
	"github.com/piula/bedrock/internal/config"
	"github.com/piula/bedrock/internal/core"
	"github.com/piula/bedrock/internal/envelope"
	"github.com/piula/bedrock/internal/logging"
	"github.com/piula/bedrock/internal/peerlink"
	"github.com/piula/bedrock/internal/plugin"
	"github.com/piula/bedrock/internal/sched"
	"github.com/piula/bedrock/internal/tss"
)

var log = logging.GetLogger("server")

// SurfaceFactory returns a fresh tss.Surface pinned to one worker: each
// in-flight command borrows exactly one connection for its duration.
type SurfaceFactory func() tss.Surface

// Server is one bedrock node: client listener, executor, scheduler, and
// cluster membership, composed and started together.
type Server struct {
	cfg      *config.ServerConfig
	executor *core.Executor
	peers    *peerlink.Manager
	inbox    *cluster.FrameInbox
	node     *cluster.Node
	queue    *sched.Queue
	sch      *sched.Scheduler

	surfacePool sync.Pool

	clientLn net.Listener
	peerLn   net.Listener
}

// New assembles a Server from its configuration, a per-connection
// tss.Surface factory, and the registered plugin set.
func New(cfg *config.ServerConfig, newSurface SurfaceFactory, plugins []plugin.Plugin) *Server {
	dispatcher := plugin.NewDispatcher(plugins...)
	executor := core.NewExecutor(dispatcher)

	peers := peerlink.NewManager()
	inbox := cluster.NewFrameInbox()
	node := cluster.New(cfg, newSurface(), peers, inbox)

	s := &Server{
		cfg:      cfg,
		executor: executor,
		peers:    peers,
		inbox:    inbox,
		node:     node,
		queue:    sched.NewQueue(),
	}
	s.surfacePool.New = func() any { return newSurface() }
	node.ExecuteEscalated = s.runCommandSynchronously

	workers := len(cfg.Peers) + 2
	s.sch = sched.New(s.queue, workers, s.runQueuedCommand)
	return s
}

// Start dials every configured peer, listens for both peer and client
// connections, and runs the cluster Node and Scheduler until ctx is
// cancelled. It blocks until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	for id, peer := range s.cfg.Peers {
		link := peerlink.New(id, peer.Host, peerlink.Config{
			SelfID:       s.cfg.NodeID,
			RTT:          s.cfg.RTT,
			ReconnectMin: s.cfg.ReconnectMin,
			ReconnectMax: s.cfg.ReconnectMax,
		})
		s.peers.Add(link)
		go s.forwardPeerFrames(ctx, link, id)
	}
	s.peers.Start(ctx)

	peerLn, err := peerlink.Listen(ctx, s.cfg.PeerListenAddr, func(l *peerlink.Link) {
		s.peers.Add(l)
		go s.forwardPeerFrames(ctx, l, l.PeerID)
	})
	if err != nil {
		return err
	}
	s.peerLn = peerLn

	clientLn, err := net.Listen("tcp", s.cfg.Endpoint)
	if err != nil {
		_ = peerLn.Close()
		return err
	}
	s.clientLn = clientLn

	go s.node.Run(ctx)
	go s.sch.Run(ctx)
	go s.acceptClients(ctx)

	<-ctx.Done()
	_ = clientLn.Close()
	_ = peerLn.Close()
	s.peers.Stop()
	return nil
}

func (s *Server) forwardPeerFrames(ctx context.Context, l *peerlink.Link, peerID uint64) {
	for {
		select {
		case frame, ok := <-l.Recv():
			if !ok {
				return
			}
			s.inbox.Push(&cluster.InboundFrame{
				PeerID: peerID,
				Req:    envelope.Request{MethodLine: frame.MethodLine, Headers: frame.Headers, Body: frame.Body},
			})
		case <-ctx.Done():
			return
		}
	}
}

func (s *Server) acceptClients(ctx context.Context) {
	for {
		conn, err := s.clientLn.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warningf("accept error: %v", err)
			continue
		}
		go s.serveClient(conn)
	}
}

func (s *Server) serveClient(conn net.Conn) {
	defer conn.Close()

	r := bufio.NewReader(conn)
	for {
		req, err := envelope.ReadRequest(r)
		if err != nil {
			return
		}

		if req.MethodLine == "STATUS" {
			if err := envelope.WriteResponse(conn, s.statusResponse()); err != nil {
				return
			}
			continue
		}

		cmd := envelope.NewCommand(req)
		if _, ok := req.Headers.Get("writeConsistency"); !ok && s.cfg.DefaultConsistency == string(envelope.ConsistencyQuorum) {
			cmd.Consistency = envelope.ConsistencyQuorum
		}

		if cmd.ExecuteAt.After(time.Now()) {
			s.queue.Enqueue(cmd)
			s.sch.Wake()
			if err := envelope.WriteResponse(conn, envelope.Response{StatusLine: "202 Accepted"}); err != nil {
				return
			}
			continue
		}

		if cmd.ForgetConnection {
			go s.runCommandSynchronously(cmd)
			if err := envelope.WriteResponse(conn, envelope.Response{StatusLine: "202 Accepted"}); err != nil {
				return
			}
			continue
		}

		resp := s.runCommandSynchronously(cmd)
		if err := envelope.WriteResponse(conn, resp); err != nil {
			return
		}
	}
}

// runCommandSynchronously runs cmd through peek, then process+replication
// if needed, blocking until a final response is ready - the path used
// both for directly-received client commands and for ESCALATE frames the
// leader receives from a follower.
func (s *Server) runCommandSynchronously(cmd *envelope.Command) envelope.Response {
	surface := s.surfacePool.Get().(tss.Surface)
	defer s.surfacePool.Put(surface)

	ctx := context.Background()

	responded, err := s.executor.Peek(ctx, surface, cmd)
	if err != nil {
		return errorResponse(err)
	}
	if responded {
		return cmd.Response
	}

	switch s.node.State() {
	case cluster.StateLeading:
		needsCommit, err := s.executor.Process(ctx, surface, cmd)
		if err != nil {
			return errorResponse(err)
		}
		if !needsCommit {
			return cmd.Response
		}
		if err := s.node.ExecuteWrite(cmd, surface); err != nil {
			return errorResponse(err)
		}
	case cluster.StateFollowing:
		// Peek already rolled the surface back; forward the original,
		// unprocessed command so the leader runs its own Peek/Process.
		escalateCtx, cancel := context.WithTimeout(ctx, tss.DefaultTimingBudget)
		defer cancel()
		resp, err := s.node.Escalate(escalateCtx, cmd)
		if err != nil {
			return errorResponse(err)
		}
		return *resp
	default:
		return errorResponse(core.Fail(core.StepOutcome{StatusLine: "503 Cluster not ready to accept writes"}))
	}

	cmd.Complete = true
	return cmd.Response
}

// runQueuedCommand is the sched.Handler wired into the Scheduler for
// commands serveClient queued because their commandExecuteTime lay in the
// future; the client already received 202, so the response is discarded.
func (s *Server) runQueuedCommand(_ context.Context, cmd *envelope.Command) {
	s.runCommandSynchronously(cmd)
}

// Status returns the cluster Node's status.
func (s *Server) Status() map[string]any {
	return s.node.Status()
}

// statusResponse renders Status() as a 200 response whose body is the
// JSON status shape, answering the STATUS frame bedrockctl sends.
func (s *Server) statusResponse() envelope.Response {
	body, err := json.Marshal(s.Status())
	if err != nil {
		return errorResponse(err)
	}
	return envelope.Response{StatusLine: "200 OK", Body: body}
}

// errorResponse uses err's text as the status line when it already starts
// with a numeric code (a core.Fail outcome); any other error becomes 500.
func errorResponse(err error) envelope.Response {
	if resp := (envelope.Response{StatusLine: err.Error()}); resp.StatusCode() != 0 {
		return resp
	}
	return envelope.Response{StatusLine: "500 " + err.Error()}
}
