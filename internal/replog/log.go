package replog

import (
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/golang/snappy"
	"github.com/google/uuid"
)

// ErrGap is returned by ApplyInOrder when a record arrives out of order.
var ErrGap = errors.New("replog: record index leaves a gap in the log")

// ErrStale is returned by ApplyInOrder when a record's index has already
// been applied.
var ErrStale = errors.New("replog: record already applied")

// ErrHashMismatch is returned when a record's Hash doesn't match its SQL.
var ErrHashMismatch = errors.New("replog: record hash does not match its SQL")

// Log is the leader-side append log and, on a follower, the in-order
// apply cursor over records received from the leader. A single Log
// serves exactly one role at a time: a leader only calls Append, a
// follower only calls ApplyInOrder.
type Log struct {
	mu          sync.Mutex
	leaderEpoch uint64
	nextIndex   uint64
	lastApplied uint64
	records     []Record
}

// New returns an empty Log starting at index 1 under leaderEpoch.
func New(leaderEpoch uint64) *Log {
	return &Log{leaderEpoch: leaderEpoch, nextIndex: 1}
}

// Append assigns the next index to sql, hashes it, and stores the record
// - the single-writer leader-side path. Safe for the leader's single
// replication goroutine; not meant for concurrent writers.
func (l *Log) Append(sql string, commandID uuid.UUID) Record {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec := NewRecord(l.nextIndex, sql, l.leaderEpoch, commandID)
	l.records = append(l.records, rec)
	l.nextIndex++
	return rec
}

// PromoteToLeader switches l from follower-apply mode to leader-append
// mode under a new epoch, continuing the index sequence from the last
// record this node applied as a follower.
func (l *Log) PromoteToLeader(epoch uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.leaderEpoch = epoch
	l.nextIndex = l.lastApplied + 1
}

// CommitCount returns the number of records appended (the leader's
// commitCount, stamped into every response header).
func (l *Log) CommitCount() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.nextIndex - 1
}

// ApplyInOrder is the follower-side path: it rejects a record whose index
// isn't exactly lastApplied+1 (a gap means the follower must
// re-synchronize), rejects one already applied, and verifies the
// record's hash before accepting it.
func (l *Log) ApplyInOrder(rec Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if rec.Index <= l.lastApplied {
		return ErrStale
	}
	if rec.Index != l.lastApplied+1 {
		return ErrGap
	}
	if !rec.VerifyHash() {
		return ErrHashMismatch
	}

	l.records = append(l.records, rec)
	l.lastApplied = rec.Index
	return nil
}

// LastApplied returns the highest index applied so far (a follower's
// commitCount).
func (l *Log) LastApplied() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastApplied
}

// Since returns every record with Index > from, in order - used to answer
// a SYNCHRONIZING peer's pull request.
func (l *Log) Since(from uint64) []Record {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Record, 0)
	for _, r := range l.records {
		if r.Index > from {
			out = append(out, r)
		}
	}
	return out
}

// EncodeForWire serializes and snappy-compresses rec for transmission
// over a peerlink.Link.
func EncodeForWire(rec Record) []byte {
	return snappy.Encode(nil, rec.Serialize())
}

// DecodeFromWire decompresses and deserializes a record previously
// produced by EncodeForWire.
func DecodeFromWire(data []byte) (Record, error) {
	var rec Record
	decoded, err := snappy.Decode(nil, data)
	if err != nil {
		return rec, errors.Wrap(err, "replog: snappy decode failed")
	}
	if err := rec.Deserialize(decoded); err != nil {
		return rec, err
	}
	return rec, nil
}
