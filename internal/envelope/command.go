package envelope

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Consistency is the write-durability level a client requests for a write command.
type Consistency string

const (
	ConsistencyAsync       Consistency = "ASYNC"
	ConsistencyQuorum      Consistency = "QUORUM"
	ConsistencyAsyncReplic Consistency = "ASYNCHRONOUS_REPLICATION"
)

// Command is a single client request moving through the peek/process
// pipeline, together with the mutable response and execution bookkeeping
// the executor and scheduler need to carry it across suspension points.
type Command struct {
	Request  Request
	Response Response

	// JSONContent is populated by a plugin during peek/process and, if
	// non-empty, serialized into Response.Body by the executor.
	JSONContent map[string]any

	ID                uuid.UUID
	ClientID          string
	PeekCount         int
	ProcessCount      int
	Complete          bool
	Priority          int
	ExecuteAt         time.Time
	OriginatingNodeID uint64
	Consistency       Consistency
	EscalatedToLeader bool

	// ForgetConnection mirrors the "Connection: forget" request header: the
	// client socket should not be held for the response.
	ForgetConnection bool

	// arrival breaks ties between commands with equal (ExecuteAt, Priority)
	// in FIFO order; set once by the scheduler on enqueue.
	arrival uint64
}

// NewCommand wraps req into a fresh Command, reading the well-known headers
// (writeConsistency, commandExecuteTime, Connection, clientID) into the
// execution record.
func NewCommand(req Request) *Command {
	c := &Command{
		Request: req,
		ID:      uuid.New(),
	}

	if v, ok := req.Headers.Get("clientID"); ok {
		c.ClientID = v
	}

	switch v, _ := req.Headers.Get("writeConsistency"); Consistency(v) {
	case ConsistencyQuorum:
		c.Consistency = ConsistencyQuorum
	case ConsistencyAsyncReplic:
		c.Consistency = ConsistencyAsyncReplic
	default:
		c.Consistency = ConsistencyAsync
	}

	if us := req.Headers.GetInt("commandExecuteTime"); us > 0 {
		c.ExecuteAt = time.UnixMicro(us)
	} else {
		c.ExecuteAt = time.Now()
	}

	if v, ok := req.Headers.Get("Connection"); ok && v == "forget" {
		c.ForgetConnection = true
	}

	return c
}

// SetArrival stamps the FIFO tie-breaker; called once by the scheduler on enqueue.
func (c *Command) SetArrival(seq uint64) { c.arrival = seq }

// Arrival returns the FIFO tie-breaker stamped by SetArrival.
func (c *Command) Arrival() uint64 { return c.arrival }

// EnsureStatus defaults Response.StatusLine to "200 OK" if a plugin left it unset.
func (c *Command) EnsureStatus() {
	if c.Response.StatusLine == "" {
		c.Response.StatusLine = "200 OK"
	}
}

// MergeJSONContent serializes JSONContent into Response.Body, warning (via
// the returned bool) if it would silently overwrite a different, already
// populated body - mirroring the original's "replacing existing response
// content" guard.
func (c *Command) MergeJSONContent() (overwroteDifferent bool, err error) {
	if len(c.JSONContent) == 0 {
		return false, nil
	}

	encoded, err := json.Marshal(c.JSONContent)
	if err != nil {
		return false, err
	}

	if len(c.Response.Body) > 0 && string(c.Response.Body) != string(encoded) {
		c.Response.Body = encoded
		return true, nil
	}

	c.Response.Body = encoded
	return false, nil
}
