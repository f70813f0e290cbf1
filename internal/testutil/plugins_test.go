package testutil

import (
	"testing"

	"github.com/piula/bedrock/internal/envelope"
)

func TestEchoPluginReturnsBodyVerbatim(t *testing.T) {
	surface := NewMemSurface()
	req := envelope.Request{MethodLine: "ECHO", Body: []byte("hello")}
	cmd := envelope.NewCommand(req)

	p := EchoPlugin{}
	handled, err := p.Peek(surface, cmd)
	if err != nil || !handled {
		t.Fatalf("expected ECHO to be handled, got handled=%v err=%v", handled, err)
	}
	if string(cmd.Response.Body) != "hello" {
		t.Errorf("expected echoed body %q, got %q", "hello", cmd.Response.Body)
	}
}

func TestSleepPluginHandlesTestcommand(t *testing.T) {
	surface := NewMemSurface()
	var h envelope.Headers
	h.Set("peekSleep", "1")
	req := envelope.Request{MethodLine: "TESTCOMMAND", Headers: h}
	cmd := envelope.NewCommand(req)

	p := SleepPlugin{}
	handled, err := p.Peek(surface, cmd)
	if err != nil || !handled {
		t.Fatalf("expected TESTCOMMAND to be handled, got handled=%v err=%v", handled, err)
	}
	if cmd.Response.StatusLine != "200 OK" {
		t.Errorf("expected 200 OK, got %q", cmd.Response.StatusLine)
	}
}

func TestIDCollisionPluginWritesAndReturnsRequestedStatus(t *testing.T) {
	surface := NewMemSurface()
	var h envelope.Headers
	h.Set("response", "756")
	req := envelope.Request{MethodLine: "IDCOLLISION", Headers: h}
	cmd := envelope.NewCommand(req)

	p := IDCollisionPlugin{}
	handled, err := p.Process(surface, cmd)
	if err != nil || !handled {
		t.Fatalf("expected IDCOLLISION to be handled, got handled=%v err=%v", handled, err)
	}
	if cmd.Response.StatusLine != "756 OK" {
		t.Errorf("expected 756 OK, got %q", cmd.Response.StatusLine)
	}
	if surface.UncommittedQuery() == "" {
		t.Error("expected IDCOLLISION to leave an uncommitted write")
	}
}
