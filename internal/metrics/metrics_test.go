package metrics

import (
	"testing"
	"time"
)

func TestIncCommitAndSnapshot(t *testing.T) {
	before := Snapshot()["bedrock.commit.count"]

	IncCommit()
	IncCommit()

	after := Snapshot()["bedrock.commit.count"]
	if after == before {
		t.Errorf("expected commit count to change after IncCommit, still %q", after)
	}
}

func TestObservePeekRecordsDuration(t *testing.T) {
	ObservePeek(5 * time.Millisecond)
	snap := Snapshot()
	if _, ok := snap["bedrock.peek.duration"]; !ok {
		t.Error("expected peek duration to appear in snapshot")
	}
}
