package tss

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"
)

// LocalSurface is the default local Surface a bedrockd node starts with:
// one statement log per transaction plus a committed-index counter, a
// single-writer-per-connection store with no actual SQL parsing - an
// embedded SQL engine's query planning and storage format are an
// external collaborator this package only fakes the contract for.
type LocalSurface struct {
	mu sync.Mutex

	open       bool
	statements []string

	commitCount uint64
	committed   map[uint64]string

	timingDeadline time.Time
	timingActive   bool
}

// NewLocalSurface returns a LocalSurface starting at commit count 0.
func NewLocalSurface() *LocalSurface {
	return &LocalSurface{committed: make(map[uint64]string)}
}

func (s *LocalSurface) BeginConcurrent() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open = true
	s.statements = nil
	return nil
}

func (s *LocalSurface) InsideTransaction() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

func (s *LocalSurface) Execute(_ context.Context, sql string) (Rows, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.timingActive && !s.timingDeadline.IsZero() && time.Now().After(s.timingDeadline) {
		return nil, ErrTimeout
	}

	if isWriteStatement(sql) {
		s.statements = append(s.statements, sql)
	}
	return localEmptyRows{}, nil
}

func (s *LocalSurface) UncommittedQuery() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return strings.Join(s.statements, "; ")
}

// Commit stores a SHA-256 digest of the transaction's statement text
// under the given (or next) index, hashing the text the way replog.Record
// hashes its own SQL, without coupling the two packages.
func (s *LocalSurface) Commit(assignIndex *uint64) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var index uint64
	if assignIndex != nil {
		index = *assignIndex
		if index > s.commitCount {
			s.commitCount = index
		}
	} else {
		s.commitCount++
		index = s.commitCount
	}

	s.committed[index] = hashStatements(s.statements)
	s.open = false
	s.statements = nil
	return index, nil
}

func (s *LocalSurface) Rollback() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open = false
	s.statements = nil
}

func (s *LocalSurface) CommitCount() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commitCount
}

func (s *LocalSurface) StartTiming(budget time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timingActive = true
	s.timingDeadline = time.Now().Add(budget)
}

func (s *LocalSurface) ResetTiming() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timingActive = false
	s.timingDeadline = time.Time{}
}

func hashStatements(statements []string) string {
	h := sha256.Sum256([]byte(strings.Join(statements, "; ")))
	return hex.EncodeToString(h[:])
}

func isWriteStatement(sql string) bool {
	s := strings.TrimSpace(strings.ToUpper(sql))
	for _, verb := range []string{"INSERT", "UPDATE", "DELETE", "CREATE", "DROP", "ALTER"} {
		if strings.HasPrefix(s, verb) {
			return true
		}
	}
	return false
}

type localEmptyRows struct{}

func (localEmptyRows) Next() bool        { return false }
func (localEmptyRows) Scan(...any) error { return nil }
func (localEmptyRows) Close() error      { return nil }
