package replog

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogAppendAssignsSequentialIndexes(t *testing.T) {
	l := New(1)

	a := l.Append("INSERT INTO t VALUES (1)", uuid.New())
	b := l.Append("INSERT INTO t VALUES (2)", uuid.New())

	assert.Equal(t, uint64(1), a.Index)
	assert.Equal(t, uint64(2), b.Index)
	assert.Equal(t, uint64(2), l.CommitCount())
}

func TestLogApplyInOrderRejectsGap(t *testing.T) {
	l := New(0)
	rec := NewRecord(2, "SELECT 1", 0, uuid.New())

	err := l.ApplyInOrder(rec)
	require.ErrorIs(t, err, ErrGap)
}

func TestLogApplyInOrderRejectsStale(t *testing.T) {
	l := New(0)
	first := NewRecord(1, "SELECT 1", 0, uuid.New())
	require.NoError(t, l.ApplyInOrder(first))

	err := l.ApplyInOrder(first)
	require.ErrorIs(t, err, ErrStale)
}

func TestLogApplyInOrderRejectsBadHash(t *testing.T) {
	l := New(0)
	rec := NewRecord(1, "SELECT 1", 0, uuid.New())
	rec.SQL = "DROP TABLE t"

	err := l.ApplyInOrder(rec)
	require.ErrorIs(t, err, ErrHashMismatch)
}

func TestLogApplyInOrderAcceptsSequence(t *testing.T) {
	l := New(0)
	for i := uint64(1); i <= 5; i++ {
		rec := NewRecord(i, "SELECT 1", 0, uuid.New())
		require.NoError(t, l.ApplyInOrder(rec))
	}
	assert.Equal(t, uint64(5), l.LastApplied())
}

func TestLogSinceReturnsTail(t *testing.T) {
	l := New(0)
	l.Append("a", uuid.New())
	l.Append("b", uuid.New())
	l.Append("c", uuid.New())

	tail := l.Since(1)
	require.Len(t, tail, 2)
	assert.Equal(t, uint64(2), tail[0].Index)
	assert.Equal(t, uint64(3), tail[1].Index)
}

func TestEncodeDecodeForWireRoundTrip(t *testing.T) {
	rec := NewRecord(1, "INSERT INTO t VALUES ('x')", 4, uuid.New())

	wire := EncodeForWire(rec)
	decoded, err := DecodeFromWire(wire)
	require.NoError(t, err)

	assert.Equal(t, rec.Index, decoded.Index)
	assert.Equal(t, rec.SQL, decoded.SQL)
	assert.True(t, decoded.VerifyHash())
}
