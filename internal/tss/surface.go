package tss

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
)

// DefaultTimingBudget is the default per-command wall budget: exceeding
// it raises ErrTimeout, which the executor translates to 555.
const DefaultTimingBudget = 5 * time.Second

// ErrTimeout is raised by Execute when the transaction's timing budget,
// started by StartTiming, has elapsed.
var ErrTimeout = errors.New("tss: timeout")

// ErrBeginFailed is returned by BeginConcurrent when the engine rejects a
// new concurrent transaction.
var ErrBeginFailed = errors.New("tss: failed to begin concurrent transaction")

// Rows is the minimal query result surface the executor needs; the
// embedded engine's full result type is an external collaborator.
type Rows interface {
	Next() bool
	Scan(dest ...any) error
	Close() error
}

// Surface is the Transactional Storage Surface each worker thread holds
// exactly one connection to: parallel worker threads, each pinned to one
// TSS connection.
type Surface interface {
	// BeginConcurrent starts a snapshot-isolated transaction that permits
	// concurrent execution of non-conflicting writes on other workers.
	BeginConcurrent() error

	// InsideTransaction reports whether a transaction is currently open.
	InsideTransaction() bool

	// Execute runs sql against the open transaction, honoring the timing
	// budget set by StartTiming. Returns ErrTimeout if the budget elapses.
	Execute(ctx context.Context, sql string) (Rows, error)

	// UncommittedQuery returns the concatenation of statements issued in
	// the current transaction; empty iff the transaction is read-only so far.
	UncommittedQuery() string

	// Commit commits the open transaction. If assignIndex is non-nil (the
	// follower case), the engine must record precisely that index;
	// otherwise it assigns the next index itself. Returns the committed index.
	Commit(assignIndex *uint64) (uint64, error)

	// Rollback rolls back the open transaction. Idempotent: safe to call
	// with or without an open transaction.
	Rollback()

	// CommitCount returns the most recent committed index visible to this connection.
	CommitCount() uint64

	// StartTiming begins the per-command wall budget.
	StartTiming(budget time.Duration)

	// ResetTiming clears the wall budget, e.g. after a command completes
	// or before re-queuing it on an HTTP suspension.
	ResetTiming()
}
