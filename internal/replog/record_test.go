package replog

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordSizeBytes(t *testing.T) {
	r := NewRecord(7, "UPDATE t SET v=1", 3, uuid.New())
	assert.Equal(t, len(r.Serialize()), r.SizeBytes())
}

func TestRecordRoundTrip(t *testing.T) {
	original := NewRecord(42, "INSERT INTO t VALUES (1,2,3)", 9, uuid.New())

	data := original.Serialize()

	var decoded Record
	require.NoError(t, decoded.Deserialize(data))

	assert.Equal(t, original.Index, decoded.Index)
	assert.Equal(t, original.LeaderEpoch, decoded.LeaderEpoch)
	assert.Equal(t, original.CommandID, decoded.CommandID)
	assert.Equal(t, original.SQL, decoded.SQL)
	assert.Equal(t, original.Hash, decoded.Hash)
	assert.True(t, decoded.VerifyHash())
}

func TestRecordDeserializeTooShort(t *testing.T) {
	var r Record
	require.Error(t, r.Deserialize([]byte{1, 2, 3}))
}

func TestRecordDeserializeTruncatedSQL(t *testing.T) {
	original := NewRecord(1, "SELECT 1", 0, uuid.New())
	data := original.Serialize()

	var r Record
	require.Error(t, r.Deserialize(data[:len(data)-3]))
}
