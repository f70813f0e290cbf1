// Package replog is the leader-side append log and follower-side apply
// cursor for committed writes. Records are totally ordered by Index; a
// follower that observes a gap must re-synchronize rather than apply out
// of order.
package replog

import (
	"crypto/sha256"
	"encoding/binary"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

// Record is a single committed write, as distributed from leader to followers.
type Record struct {
	Index       uint64
	SQL         string
	Hash        [sha256.Size]byte
	LeaderEpoch uint64
	CommandID   uuid.UUID
}

// NewRecord builds a Record for sql at index, hashing the body and stamping
// the leader epoch the record was produced under.
func NewRecord(index uint64, sql string, leaderEpoch uint64, commandID uuid.UUID) Record {
	return Record{
		Index:       index,
		SQL:         sql,
		Hash:        sha256.Sum256([]byte(sql)),
		LeaderEpoch: leaderEpoch,
		CommandID:   commandID,
	}
}

// SizeBytes returns the exact number of bytes Serialize will produce.
func (r *Record) SizeBytes() int {
	// Index(8) + LeaderEpoch(8) + CommandID(16) + Hash(32) + SQLLen(4) + SQL
	return 8 + 8 + 16 + sha256.Size + 4 + len(r.SQL)
}

// Serialize encodes a Record into a byte array with the format:
// 8 bytes index, 8 bytes leader epoch, 16 bytes command id,
// 32 bytes sha256 hash, 4 bytes sql length (big endian), N bytes sql text.
func (r *Record) Serialize() []byte {
	total := r.SizeBytes()
	out := make([]byte, total)

	binary.BigEndian.PutUint64(out[0:8], r.Index)
	binary.BigEndian.PutUint64(out[8:16], r.LeaderEpoch)
	copy(out[16:32], r.CommandID[:])
	copy(out[32:32+sha256.Size], r.Hash[:])

	pos := 32 + sha256.Size
	binary.BigEndian.PutUint32(out[pos:pos+4], uint32(len(r.SQL)))
	pos += 4
	copy(out[pos:], r.SQL)

	return out
}

// Deserialize extracts all Record fields from a byte array produced by Serialize.
func (r *Record) Deserialize(data []byte) error {
	const headerLen = 8 + 8 + 16 + sha256.Size + 4
	if len(data) < headerLen {
		return errors.Newf("replog: data too short for record header (got %d, want >= %d)", len(data), headerLen)
	}

	r.Index = binary.BigEndian.Uint64(data[0:8])
	r.LeaderEpoch = binary.BigEndian.Uint64(data[8:16])
	copy(r.CommandID[:], data[16:32])
	copy(r.Hash[:], data[32:32+sha256.Size])

	pos := 32 + sha256.Size
	sqlLen := binary.BigEndian.Uint32(data[pos : pos+4])
	pos += 4

	if len(data) < pos+int(sqlLen) {
		return errors.Newf("replog: data too short for sql of length %d", sqlLen)
	}
	r.SQL = string(data[pos : pos+int(sqlLen)])

	return nil
}

// VerifyHash reports whether Hash matches the sha256 of SQL, catching a
// corrupted or tampered record before it is applied.
func (r *Record) VerifyHash() bool {
	return r.Hash == sha256.Sum256([]byte(r.SQL))
}
