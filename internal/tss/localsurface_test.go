package tss

import (
	"context"
	"testing"
)

func TestLocalSurfaceCommitAssignsIndex(t *testing.T) {
	s := NewLocalSurface()
	if err := s.BeginConcurrent(); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if _, err := s.Execute(context.Background(), "INSERT INTO t VALUES (1)"); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if s.UncommittedQuery() == "" {
		t.Fatal("expected a non-empty uncommitted query after a write")
	}

	index, err := s.Commit(nil)
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if index != 1 {
		t.Errorf("expected first commit to be index 1, got %d", index)
	}
	if s.CommitCount() != 1 {
		t.Errorf("expected commit count 1, got %d", s.CommitCount())
	}
}

func TestLocalSurfaceCommitHonorsAssignedIndex(t *testing.T) {
	s := NewLocalSurface()
	_ = s.BeginConcurrent()
	_, _ = s.Execute(context.Background(), "INSERT INTO t VALUES (1)")

	assigned := uint64(42)
	index, err := s.Commit(&assigned)
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if index != 42 {
		t.Errorf("expected commit to honor assigned index 42, got %d", index)
	}
}

func TestLocalSurfaceRollbackClearsUncommitted(t *testing.T) {
	s := NewLocalSurface()
	_ = s.BeginConcurrent()
	_, _ = s.Execute(context.Background(), "INSERT INTO t VALUES (1)")
	s.Rollback()

	if s.InsideTransaction() {
		t.Error("expected Rollback to close the transaction")
	}
	if s.UncommittedQuery() != "" {
		t.Error("expected Rollback to clear uncommitted statements")
	}
}

func TestLocalSurfaceReadOnlyLeavesNoUncommittedQuery(t *testing.T) {
	s := NewLocalSurface()
	_ = s.BeginConcurrent()
	_, _ = s.Execute(context.Background(), "SELECT * FROM t")

	if s.UncommittedQuery() != "" {
		t.Error("expected a read-only statement to leave UncommittedQuery empty")
	}
}
