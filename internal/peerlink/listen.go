package peerlink

import (
	"bufio"
	"context"
	"net"
	"strconv"

	"github.com/piula/bedrock/internal/envelope"
)

// Listen opens a TCP listener for incoming peer connections. Each
// accepted connection is expected to open with a HELLO frame naming the
// dialing peer's id.
func Listen(ctx context.Context, addr string, onAttach func(*Link)) (net.Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go acceptOne(ctx, conn, onAttach)
		}
	}()

	return ln, nil
}

func acceptOne(ctx context.Context, conn net.Conn, onAttach func(*Link)) {
	r := bufio.NewReader(conn)
	methodLine, headers, _, err := envelope.ReadFrame(r)
	if err != nil || methodLine != "HELLO" {
		log.Warningf("peerlink: rejecting connection from %s: bad handshake", conn.RemoteAddr())
		_ = conn.Close()
		return
	}

	peerID, err := strconv.ParseUint(valueOrEmpty(headers, "peerID"), 10, 64)
	if err != nil {
		log.Warningf("peerlink: rejecting connection from %s: invalid peerID", conn.RemoteAddr())
		_ = conn.Close()
		return
	}

	link := Attach(peerID, conn)
	onAttach(link)
	link.Serve(ctx, conn)
}

func valueOrEmpty(h envelope.Headers, key string) string {
	v, _ := h.Get(key)
	return v
}

// Hello sends the handshake frame Listen expects, identifying selfID as
// the dialing node.
func Hello(conn net.Conn, selfID uint64) error {
	var h envelope.Headers
	h.Set("peerID", strconv.FormatUint(selfID, 10))
	return envelope.WriteFrame(conn, "HELLO", h, nil)
}
