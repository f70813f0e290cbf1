package testutil

import (
	"context"
	"strconv"
	"time"

	"github.com/piula/bedrock/internal/envelope"
	"github.com/piula/bedrock/internal/tss"
)

// EchoPlugin answers ECHO by returning the request body verbatim, the
// simplest possible read-only command - useful as a smoke test that the
// peek/process pipeline and wire codec round-trip a body at all.
type EchoPlugin struct{}

func (EchoPlugin) Name() string { return "echo" }

func (EchoPlugin) Peek(_ tss.Surface, cmd *envelope.Command) (bool, error) {
	if cmd.Request.MethodLine != "ECHO" {
		return false, nil
	}
	cmd.Response.StatusLine = "200 OK"
	cmd.Response.Body = cmd.Request.Body
	return true, nil
}

func (EchoPlugin) Process(_ tss.Surface, _ *envelope.Command) (bool, error) { return false, nil }
func (EchoPlugin) PreventDetach() bool                                     { return false }

// SleepPlugin answers TESTCOMMAND by sleeping for the requested
// peekSleep duration during Peek before replying 200 - seed scenario S1's
// way of simulating a slow read without touching the storage surface.
type SleepPlugin struct{}

func (SleepPlugin) Name() string { return "sleep" }

func (SleepPlugin) Peek(db tss.Surface, cmd *envelope.Command) (bool, error) {
	if cmd.Request.MethodLine != "TESTCOMMAND" {
		return false, nil
	}
	if ms := cmd.Request.Headers.GetInt("peekSleep"); ms > 0 {
		time.Sleep(time.Duration(ms) * time.Millisecond)
	}
	cmd.Response.StatusLine = "200 OK"
	cmd.Response.Headers.Set("commitCount", strconv.FormatUint(db.CommitCount(), 10))
	return true, nil
}

func (SleepPlugin) Process(_ tss.Surface, _ *envelope.Command) (bool, error) { return false, nil }
func (SleepPlugin) PreventDetach() bool                                     { return false }

// IDCollisionPlugin answers IDCOLLISION by issuing a trivial write and
// replying with whatever status the caller asked for via the response
// header - seed scenario S2's way of exercising the replicated write path
// (ASYNC/QUORUM) with a custom, client-recognizable status code.
type IDCollisionPlugin struct{}

func (IDCollisionPlugin) Name() string { return "idcollision" }

func (IDCollisionPlugin) Peek(_ tss.Surface, _ *envelope.Command) (bool, error) { return false, nil }

func (IDCollisionPlugin) Process(db tss.Surface, cmd *envelope.Command) (bool, error) {
	if cmd.Request.MethodLine != "IDCOLLISION" {
		return false, nil
	}

	if _, err := db.Execute(context.Background(), "INSERT INTO idcollision (id) VALUES (1)"); err != nil {
		return false, err
	}

	status := "756"
	if v, ok := cmd.Request.Headers.Get("response"); ok && v != "" {
		status = v
	}
	cmd.Response.StatusLine = status + " OK"
	return true, nil
}

func (IDCollisionPlugin) PreventDetach() bool { return false }
