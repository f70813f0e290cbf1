package peerlink

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"

	"github.com/piula/bedrock/internal/envelope"
)

// echoListener accepts one connection and echoes every frame it reads
// back to the sender, standing in for a peer node in these tests.
func echoListener(t *testing.T) (addr string, stop func()) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		r := bufio.NewReader(conn)
		// Consume the HELLO handshake Link.Run sends before any real frame.
		if _, _, _, err := envelope.ReadFrame(r); err != nil {
			return
		}
		for {
			methodLine, headers, body, err := envelope.ReadFrame(r)
			if err != nil {
				return
			}
			if err := envelope.WriteFrame(conn, methodLine, headers, body); err != nil {
				return
			}
		}
	}()

	return ln.Addr().String(), func() { _ = ln.Close() }
}

func TestLinkConnectsAndSends(t *testing.T) {
	addr, stop := echoListener(t)
	defer stop()

	link := New(1, addr, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go link.Run(ctx)

	deadline := time.Now().Add(time.Second)
	for !link.Connected() {
		if time.Now().After(deadline) {
			t.Fatal("link never connected")
		}
		time.Sleep(5 * time.Millisecond)
	}

	var h envelope.Headers
	h.Set("k", "v")
	if err := link.Send("HELLO", h, []byte("payload")); err != nil {
		t.Fatalf("send failed: %v", err)
	}

	select {
	case frame := <-link.Recv():
		if frame.MethodLine != "HELLO" || string(frame.Body) != "payload" {
			t.Errorf("unexpected echoed frame: %+v", frame)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for echoed frame")
	}

	_ = link.Close()
}

func TestLinkPingPongTracksLatency(t *testing.T) {
	addr, stop := echoListenerWithPong(t)
	defer stop()

	link := New(2, addr, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go link.Run(ctx)

	deadline := time.Now().Add(time.Second)
	for !link.Connected() {
		if time.Now().After(deadline) {
			t.Fatal("link never connected")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := link.Ping(); err != nil {
		t.Fatalf("ping failed: %v", err)
	}

	deadline = time.Now().Add(time.Second)
	for link.Latency() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("latency was never recorded")
		}
		time.Sleep(5 * time.Millisecond)
	}

	_ = link.Close()
}

// echoListenerWithPong behaves like a real peer link: it answers PING
// with PONG (handled transparently inside Link.readLoop for the other
// direction, but here we stand in for the remote peer).
func echoListenerWithPong(t *testing.T) (addr string, stop func()) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		r := bufio.NewReader(conn)
		for {
			methodLine, headers, _, err := envelope.ReadFrame(r)
			if err != nil {
				return
			}
			if methodLine == "PING" {
				if err := envelope.WriteFrame(conn, "PONG", headers, nil); err != nil {
					return
				}
			}
		}
	}()

	return ln.Addr().String(), func() { _ = ln.Close() }
}

func TestManagerBroadcastReportsPerPeerFailures(t *testing.T) {
	addr, stop := echoListener(t)
	defer stop()

	mgr := NewManager()
	connected := New(1, addr, Config{})
	unreachable := New(2, "127.0.0.1:1", Config{})
	mgr.Add(connected)
	mgr.Add(unreachable)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mgr.Start(ctx)
	defer mgr.Stop()

	deadline := time.Now().Add(time.Second)
	for !connected.Connected() {
		if time.Now().After(deadline) {
			t.Fatal("connected link never connected")
		}
		time.Sleep(5 * time.Millisecond)
	}

	err := mgr.Broadcast("HELLO", envelope.Headers{}, nil)
	if err == nil {
		t.Fatal("expected Broadcast to report the unreachable peer's failure")
	}
}
