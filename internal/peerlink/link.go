// Package peerlink maintains one persistent TCP connection per cluster
// peer: framed send/receive, automatic reconnection with exponential
// backoff, and round-trip latency tracking via PING/PONG.
package peerlink

import (
	"bufio"
	"context"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/piula/bedrock/internal/envelope"
	"github.com/piula/bedrock/internal/logging"
)

var log = logging.GetLogger("peerlink")

// ErrClosed is returned by Send once a Link has been closed.
var ErrClosed = errors.New("peerlink: link closed")

// Frame is delivered by Recv for every inbound frame read off the wire.
type Frame struct {
	MethodLine string
	Headers    envelope.Headers
	Body       []byte
}

// Config parameterizes reconnect timing and handshake identity for a Link.
type Config struct {
	SelfID       uint64
	RTT          time.Duration
	ReconnectMin time.Duration
	ReconnectMax time.Duration
}

// Link owns one TCP connection to a peer - dialed by Run, which reconnects
// on failure, or accepted and wrapped by Attach, which does not - and
// tracks the last PING/PONG round-trip latency. Send/close
// are serialized behind one mutex so every caller sees a consistent view
// of whether this peer is currently reachable.
type Link struct {
	PeerID uint64
	Addr   string
	cfg    Config

	mu               sync.Mutex
	conn             net.Conn
	w                *bufio.Writer
	closed           bool
	failedReconnects int
	lastLatency      time.Duration

	inbox chan Frame
}

// New returns a Link that is not yet connected; call Run to dial and
// maintain the connection until ctx is cancelled.
func New(peerID uint64, addr string, cfg Config) *Link {
	if cfg.ReconnectMin <= 0 {
		cfg.ReconnectMin = 100 * time.Millisecond
	}
	if cfg.ReconnectMax <= 0 {
		cfg.ReconnectMax = 10 * time.Second
	}
	return &Link{
		PeerID: peerID,
		Addr:   addr,
		cfg:    cfg,
		inbox:  make(chan Frame, 64),
	}
}

// Recv returns the channel of inbound frames read from this peer - one
// consumer per Link, a single-producer-single-consumer channel that
// needs no lock-free machinery.
func (l *Link) Recv() <-chan Frame {
	return l.inbox
}

// Run dials and re-dials Addr until ctx is cancelled, reading frames into
// inbox and backing off exponentially between failed attempts.
func (l *Link) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		conn, err := net.Dial("tcp", l.Addr)
		if err != nil {
			l.sleepBackoff(ctx)
			continue
		}

		if err := Hello(conn, l.cfg.SelfID); err != nil {
			_ = conn.Close()
			l.sleepBackoff(ctx)
			continue
		}

		l.mu.Lock()
		l.conn = conn
		l.w = bufio.NewWriter(conn)
		l.failedReconnects = 0
		l.mu.Unlock()

		log.Infof("connected to peer %d at %s", l.PeerID, l.Addr)
		l.readLoop(ctx, conn)

		l.mu.Lock()
		if l.conn == conn {
			l.conn = nil
			l.w = nil
		}
		closed := l.closed
		l.mu.Unlock()

		if closed || ctx.Err() != nil {
			return
		}
		l.sleepBackoff(ctx)
	}
}

// Attach wraps an already-accepted inbound connection (the listening
// side of a peer pair) into a Link ready for Serve.
func Attach(peerID uint64, conn net.Conn) *Link {
	return &Link{
		PeerID: peerID,
		Addr:   conn.RemoteAddr().String(),
		inbox:  make(chan Frame, 64),
		conn:   conn,
		w:      bufio.NewWriter(conn),
	}
}

// Serve runs the read loop for an already-connected Link (the accept-side
// counterpart of Run's dial loop); it returns when conn errors, closes, or
// ctx is cancelled. It does not reconnect - an accepted connection that
// drops waits for the remote peer to redial.
func (l *Link) Serve(ctx context.Context, conn net.Conn) {
	l.readLoop(ctx, conn)

	l.mu.Lock()
	if l.conn == conn {
		l.conn = nil
		l.w = nil
	}
	l.mu.Unlock()
}

// readLoop reads framed messages off conn until it errors or closes,
// delivering each to inbox.
func (l *Link) readLoop(ctx context.Context, conn net.Conn) {
	r := bufio.NewReader(conn)
	for {
		methodLine, headers, body, err := envelope.ReadFrame(r)
		if err != nil {
			if ctx.Err() == nil {
				log.Warningf("peer %d read error: %v", l.PeerID, err)
			}
			return
		}

		if methodLine == "PING" {
			l.handlePing(headers)
			continue
		}
		if methodLine == "PONG" {
			l.handlePong(headers)
			continue
		}

		select {
		case l.inbox <- Frame{MethodLine: methodLine, Headers: headers, Body: body}:
		case <-ctx.Done():
			return
		}
	}
}

// Send writes a framed message to the peer, returning ErrClosed if the
// link has been closed and net errors verbatim otherwise (the caller -
// the cluster Node - decides whether a write failure demotes this peer).
func (l *Link) Send(methodLine string, headers envelope.Headers, body []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrClosed
	}
	if l.w == nil {
		return errors.New("peerlink: not connected")
	}

	if err := envelope.WriteFrame(l.w, methodLine, headers, body); err != nil {
		return err
	}
	return l.w.Flush()
}

// Ping sends a PING frame stamped with the send time so handlePong can
// compute round-trip latency.
func (l *Link) Ping() error {
	var h envelope.Headers
	h.Set("sentAt", formatNow())
	return l.Send("PING", h, nil)
}

func (l *Link) handlePing(headers envelope.Headers) {
	var h envelope.Headers
	if v, ok := headers.Get("sentAt"); ok {
		h.Set("sentAt", v)
	}
	if err := l.Send("PONG", h, nil); err != nil {
		log.Warningf("failed to reply to PING from peer %d: %v", l.PeerID, err)
	}
}

func (l *Link) handlePong(headers envelope.Headers) {
	v, ok := headers.Get("sentAt")
	if !ok {
		return
	}
	sentAt, err := parseTime(v)
	if err != nil {
		return
	}

	l.mu.Lock()
	l.lastLatency = time.Since(sentAt)
	l.mu.Unlock()
}

// Latency returns the most recently measured PING/PONG round trip.
func (l *Link) Latency() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastLatency
}

// Connected reports whether the link currently has a live socket.
func (l *Link) Connected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.conn != nil
}

// Close tears down the connection and stops Run from reconnecting.
func (l *Link) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.closed = true
	if l.conn != nil {
		err := l.conn.Close()
		l.conn = nil
		return err
	}
	return nil
}

// sleepBackoff waits the next exponential backoff interval, keyed by
// failedReconnects the way the original keys its reconnect delay by
// FailedConnections, with a floor at cfg.ReconnectMin and a ceiling at
// cfg.ReconnectMax, jittered to avoid a reconnect thundering herd.
func (l *Link) sleepBackoff(ctx context.Context) {
	l.mu.Lock()
	l.failedReconnects++
	n := l.failedReconnects
	l.mu.Unlock()

	backoff := l.cfg.ReconnectMin << uint(min(n, 16))
	if backoff <= 0 || backoff > l.cfg.ReconnectMax {
		backoff = l.cfg.ReconnectMax
	}
	jitter := time.Duration(rand.Int63n(int64(backoff) / 4 + 1))
	wait := backoff + jitter

	select {
	case <-time.After(wait):
	case <-ctx.Done():
	}
}
