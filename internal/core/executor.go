// Package core implements the command executor: the two-phase peek/process
// pipeline that wraps each command in one transaction on the Transactional
// Storage Surface, decides whether a command is read-only, and on write
// hands off to the caller (the cluster state machine) for replication and
// commit.
package core

import (
	"context"
	"strconv"

	"github.com/cockroachdb/errors"

	"github.com/piula/bedrock/internal/envelope"
	"github.com/piula/bedrock/internal/logging"
	"github.com/piula/bedrock/internal/plugin"
	"github.com/piula/bedrock/internal/tss"
)

var log = logging.GetLogger("core")

// statusError carries a StepOutcome as an error, the idiomatic stand-in for
// the source's STHROW("NNN Reason") (Design Note 2).
type statusError struct {
	outcome StepOutcome
}

func (e *statusError) Error() string { return e.outcome.StatusLine }

// Fail returns an error that the executor's single catch point converts
// into outcome. Plugins call this to signal a status the way STHROW does.
func Fail(outcome StepOutcome) error {
	return &statusError{outcome: outcome}
}

// Executor implements the peek/process command pipeline.
type Executor struct {
	Dispatcher *plugin.Dispatcher
}

// NewExecutor returns an Executor dispatching through d.
func NewExecutor(d *plugin.Dispatcher) *Executor {
	return &Executor{Dispatcher: d}
}

// Peek runs the speculative, read-oriented phase. It returns
// responded=true if the command was fully handled (the caller must not
// call Process); false means the command needs processing.
func (e *Executor) Peek(ctx context.Context, db tss.Surface, cmd *envelope.Command) (responded bool, err error) {
	cmd.PeekCount++
	db.StartTiming(tss.DefaultTimingBudget)

	if err := db.BeginConcurrent(); err != nil {
		e.handleException(db, cmd, Fail(StepOutcome{StatusLine: "501 Failed to begin concurrent transaction"}), false)
		cmd.Complete = true
		db.Rollback()
		db.ResetTiming()
		return true, nil
	}

	handled, pluginName, perr := e.Dispatcher.Peek(db, cmd)
	if perr != nil {
		if errors.Is(perr, tss.ErrTimeout) {
			perr = Fail(StepOutcome{StatusLine: "555 Timeout peeking command"})
		}
		e.handleException(db, cmd, perr, false)
		cmd.Complete = true
		db.Rollback()
		db.ResetTiming()
		return true, nil
	}

	if !handled {
		// Nobody peeked it: this command must go through process.
		db.ResetTiming()
		db.Rollback()
		return false, nil
	}

	log.Infof("plugin %q peeked command %q", pluginName, cmd.Request.MethodLine)

	cmd.EnsureStatus()
	cmd.Response.Headers.Set("commitCount", strconv.FormatUint(db.CommitCount(), 10))

	if overwrote, merr := cmd.MergeJSONContent(); merr != nil {
		return false, merr
	} else if overwrote {
		log.Warningf("replacing existing response content in %q", cmd.Request.MethodLine)
	}

	cmd.Complete = true
	db.Rollback()
	db.ResetTiming()
	return true, nil
}

// Process runs the authoritative, possibly-writing phase. It returns
// needsCommit=true if the transaction produced uncommitted SQL the caller
// must replicate and commit; the command is not marked Complete until
// that commit resolves.
func (e *Executor) Process(ctx context.Context, db tss.Surface, cmd *envelope.Command) (needsCommit bool, err error) {
	cmd.ProcessCount++
	db.StartTiming(tss.DefaultTimingBudget)

	if !db.InsideTransaction() {
		if err := db.BeginConcurrent(); err != nil {
			e.handleException(db, cmd, Fail(StepOutcome{StatusLine: "501 Failed to begin concurrent transaction"}), true)
			cmd.Complete = true
			db.ResetTiming()
			return false, nil
		}
	}

	handled, pluginName, perr := e.Dispatcher.Process(db, cmd)
	if perr == nil && !handled {
		perr = Fail(StepOutcome{StatusLine: "430 Unrecognized command"})
	}
	if perr != nil {
		if errors.Is(perr, tss.ErrTimeout) {
			perr = Fail(StepOutcome{StatusLine: "555 Timeout processing command"})
		}
		e.handleException(db, cmd, perr, true)
		cmd.Complete = true
		db.ResetTiming()
		return false, nil
	}

	log.Infof("plugin %q processed command %q", pluginName, cmd.Request.MethodLine)

	if db.UncommittedQuery() == "" {
		db.Rollback()
		needsCommit = false
	} else {
		needsCommit = true
	}

	cmd.EnsureStatus()
	cmd.Response.Headers.Set("commitCount", strconv.FormatUint(db.CommitCount(), 10))

	if overwrote, merr := cmd.MergeJSONContent(); merr != nil {
		return false, merr
	} else if overwrote {
		log.Warningf("replacing existing response content in %q", cmd.Request.MethodLine)
	}

	db.ResetTiming()
	cmd.Complete = !needsCommit
	return needsCommit, nil
}

// handleException is the executor's single catch point: it classifies
// severity, overwrites the response from the outcome if populated,
// stamps commitCount, and unconditionally rolls back rather than trying
// to distinguish partially-applied writes from clean failures.
func (e *Executor) handleException(db tss.Surface, cmd *envelope.Command, err error, wasProcessing bool) {
	db.Rollback()
	db.ResetTiming()

	var se *statusError
	var outcome StepOutcome
	if errors.As(err, &se) {
		outcome = se.outcome
	} else {
		outcome = StepOutcome{StatusLine: "500 " + err.Error()}
	}

	severity := outcome.Severity
	if outcome.StatusLine != "" {
		tagged := ClassifySeverity(outcome.StatusLine)
		if severity < tagged {
			severity = tagged
		}
	}

	msg := "error processing command " + strconv.Quote(cmd.Request.MethodLine) + ": " + outcome.StatusLine
	switch severity {
	case SeverityAlert:
		log.Alertf("%s", msg)
	case SeverityWarn:
		log.Warningf("%s", msg)
	case SeverityHmmm:
		log.Infof("hmmm: %s", msg)
	default:
		log.Infof("%s", msg)
	}

	if outcome.StatusLine != "" {
		cmd.Response.StatusLine = outcome.StatusLine
	}
	if len(outcome.Headers) > 0 {
		for k, v := range outcome.Headers {
			cmd.Response.Headers.Set(k, v)
		}
	}
	if len(outcome.Body) > 0 {
		cmd.Response.Body = outcome.Body
	}

	cmd.Response.Headers.Set("commitCount", strconv.FormatUint(db.CommitCount(), 10))
}
