// Package metrics holds the node's instruments on an rcrowley/go-metrics
// registry. The cluster package records commits, quorum-ack latency, and
// escalations; the peek/process duration timers are only updated by
// callers of ObservePeek/ObserveProcess, which the executor does not call.
package metrics

import (
	"strconv"
	"time"

	gometrics "github.com/rcrowley/go-metrics"
)

// Registry is the process-wide metrics registry every package registers
// its instruments into.
var Registry = gometrics.NewRegistry()

var (
	peekDuration    = gometrics.NewTimer()
	processDuration = gometrics.NewTimer()
	commitCount     = gometrics.NewCounter()
	quorumAckTime   = gometrics.NewTimer()
	escalatedCount  = gometrics.NewCounter()
)

func init() {
	_ = Registry.Register("bedrock.peek.duration", peekDuration)
	_ = Registry.Register("bedrock.process.duration", processDuration)
	_ = Registry.Register("bedrock.commit.count", commitCount)
	_ = Registry.Register("bedrock.quorum.ack.duration", quorumAckTime)
	_ = Registry.Register("bedrock.escalated.count", escalatedCount)
}

// ObservePeek records how long a Peek call took.
func ObservePeek(d time.Duration) { peekDuration.Update(d) }

// ObserveProcess records how long a Process call took.
func ObserveProcess(d time.Duration) { processDuration.Update(d) }

// IncCommit counts one committed write.
func IncCommit() { commitCount.Inc(1) }

// ObserveQuorumAck records how long a QUORUM write waited for acks.
func ObserveQuorumAck(d time.Duration) { quorumAckTime.Update(d) }

// IncEscalated counts one command escalated from a follower to the leader.
func IncEscalated() { escalatedCount.Inc(1) }

// Snapshot returns a point-in-time view of every registered metric's
// textual summary, suitable for a debug/status endpoint.
func Snapshot() map[string]string {
	out := make(map[string]string)
	Registry.Each(func(name string, i interface{}) {
		switch m := i.(type) {
		case gometrics.Timer:
			out[name] = strconv.FormatFloat(m.Mean(), 'f', 2, 64) + "ns"
		case gometrics.Counter:
			out[name] = strconv.FormatInt(m.Count(), 10)
		}
	})
	return out
}
