package main

import (
	"bufio"
	"net"
	"time"

	"github.com/piula/bedrock/cmd/internal/cliutil"
	"github.com/piula/bedrock/internal/envelope"
)

// sendFramed dials cfg.Endpoint, writes one framed request built from
// methodLine/headers/body, and reads back and returns the framed response.
// With cfg.ForgetSocket set that response is the node's immediate
// "202 Accepted".
func sendFramed(cfg *cliutil.ClientConfig, methodLine string, headers envelope.Headers, body []byte) (*envelope.Response, error) {
	conn, err := net.DialTimeout("tcp", cfg.Endpoint, time.Duration(cfg.TimeoutSec)*time.Second)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	headers.Set("writeConsistency", cfg.Consistency)
	if cfg.ForgetSocket {
		headers.Set("Connection", "forget")
	}

	if err := envelope.WriteRequest(conn, envelope.Request{MethodLine: methodLine, Headers: headers, Body: body}); err != nil {
		return nil, err
	}

	_ = conn.SetReadDeadline(time.Now().Add(time.Duration(cfg.TimeoutSec) * time.Second))
	resp, err := envelope.ReadResponse(bufio.NewReader(conn))
	if err != nil {
		return nil, err
	}
	return &resp, nil
}
