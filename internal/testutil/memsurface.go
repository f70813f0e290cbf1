// Package testutil provides an in-memory Transactional Storage Surface and
// a handful of trivial plugins used to exercise internal/core,
// internal/cluster, and internal/sched without a real embedded SQL engine.
package testutil

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/piula/bedrock/internal/tss"
)

// MemSurface is a tss.Surface fake backed by an in-memory statement log
// instead of a real SQL engine. It is not safe for concurrent transactions
// from multiple goroutines at once - callers should pin one MemSurface per
// worker, exactly as the real surface expects.
type MemSurface struct {
	mu sync.Mutex

	open        bool
	statements  []string
	commitCount uint64

	timingDeadline time.Time
	timingActive   bool

	// BeginFails, when set, makes the next BeginConcurrent call fail once,
	// then resets - used to exercise the 501 path in tests.
	BeginFails bool
}

// NewMemSurface returns a MemSurface starting at commit count 0.
func NewMemSurface() *MemSurface {
	return &MemSurface{}
}

func (m *MemSurface) BeginConcurrent() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.BeginFails {
		m.BeginFails = false
		return tss.ErrBeginFailed
	}

	m.open = true
	m.statements = nil
	return nil
}

func (m *MemSurface) InsideTransaction() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.open
}

func (m *MemSurface) Execute(ctx context.Context, sql string) (tss.Rows, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.timingActive && !m.timingDeadline.IsZero() && time.Now().After(m.timingDeadline) {
		return nil, tss.ErrTimeout
	}

	if isWrite(sql) {
		m.statements = append(m.statements, sql)
	}
	return emptyRows{}, nil
}

func (m *MemSurface) UncommittedQuery() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return strings.Join(m.statements, "; ")
}

func (m *MemSurface) Commit(assignIndex *uint64) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if assignIndex != nil {
		m.commitCount = *assignIndex
	} else {
		m.commitCount++
	}
	m.open = false
	m.statements = nil
	return m.commitCount, nil
}

func (m *MemSurface) Rollback() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.open = false
	m.statements = nil
}

func (m *MemSurface) CommitCount() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.commitCount
}

func (m *MemSurface) StartTiming(budget time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timingActive = true
	m.timingDeadline = time.Now().Add(budget)
}

func (m *MemSurface) ResetTiming() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timingActive = false
	m.timingDeadline = time.Time{}
}

func isWrite(sql string) bool {
	s := strings.TrimSpace(strings.ToUpper(sql))
	for _, verb := range []string{"INSERT", "UPDATE", "DELETE", "CREATE", "DROP", "ALTER"} {
		if strings.HasPrefix(s, verb) {
			return true
		}
	}
	return false
}

type emptyRows struct{}

func (emptyRows) Next() bool        { return false }
func (emptyRows) Scan(...any) error { return nil }
func (emptyRows) Close() error      { return nil }
