package executor

import "time"

// Status is the per-run result for a target.
type Status string

const (
	// StatusSucceeded: the tool exited zero and all declared outputs
	// exist.
	StatusSucceeded Status = "succeeded"

	// StatusFailed: the tool exited non-zero, could not be started, or
	// exited zero without producing a declared output.
	StatusFailed Status = "failed"

	// StatusUpstreamFailed: a dependency failed, so the target was
	// never attempted.
	StatusUpstreamFailed Status = "upstream-failed"

	// StatusCancelled: the run was interrupted before or during the
	// attempt.
	StatusCancelled Status = "cancelled"
)

// Outcome is the result of one target attempt (or non-attempt).
//
// Outcomes are owned by the Executor for the duration of a run and
// folded into the run ledger as they terminate.
type Outcome struct {
	Target   string
	Status   Status
	ExitCode int

	// Stderr holds the captured tail of the tool's standard error.
	// Populated on failure.
	Stderr string

	// Err describes dispatch or verification failures that are not
	// plain non-zero exits (tool missing, output not produced).
	Err error

	Duration time.Duration
}

// Report aggregates the outcomes of one Executor run.
type Report struct {
	// Outcomes maps target name to its outcome, for every stale target
	// scheduled this run.
	Outcomes map[string]Outcome

	Succeeded int
	Failed    int
	Skipped   int // upstream-failed + cancelled

	// Fresh is the number of graph targets that were already up to
	// date and never scheduled.
	Fresh int

	// FailedTargets lists failed target names in completion order.
	FailedTargets []string

	Duration time.Duration
}

// OK reports whether every scheduled target succeeded.
func (r *Report) OK() bool { return r.Failed == 0 && r.Skipped == 0 }
