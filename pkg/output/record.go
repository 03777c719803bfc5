// Package output provides JSONL output for pipeline runs.
//
// Output is structured as typed record envelopes containing per-target
// outcomes, progress updates, and run summaries. Each line is a
// self-contained JSON object that downstream tabular tooling can parse
// independently.
package output

import (
	"encoding/json"
	"time"
)

// Record type constants define the envelope types for JSONL output.
// These follow the pattern: alnpipe.<type>.v<version>
const (
	// TypeTarget identifies per-target outcome records.
	TypeTarget = "alnpipe.target.v1"

	// TypePlan identifies staleness plan records (dry-run output).
	TypePlan = "alnpipe.plan.v1"

	// TypeProgress identifies progress update records.
	TypeProgress = "alnpipe.progress.v1"

	// TypeSummary identifies final run summary records.
	TypeSummary = "alnpipe.summary.v1"

	// TypeError identifies engine-level error records.
	TypeError = "alnpipe.error.v1"
)

// Record is the envelope for all JSONL output.
//
// Each line contains a Record with a type-specific payload in the Data
// field. The type field determines how to interpret the payload.
type Record struct {
	// Type identifies the record type (e.g., "alnpipe.target.v1").
	Type string `json:"type"`

	// TS is the timestamp when the record was created (RFC3339Nano).
	TS time.Time `json:"ts"`

	// RunID is the correlation ID for this pipeline invocation.
	RunID string `json:"run_id"`

	// Data contains the type-specific payload as raw JSON.
	Data json.RawMessage `json:"data"`
}

// TargetRecord is the data payload for a single target outcome.
type TargetRecord struct {
	// Target is the unique target name, e.g. "align:osat-zmay".
	Target string `json:"target"`

	// Kind is the pipeline step kind.
	Kind string `json:"kind"`

	// Subject is the genome or pair the target operates on.
	Subject string `json:"subject"`

	// Status is succeeded, failed, upstream-failed, or skipped.
	Status string `json:"status"`

	// Reason is the staleness reason that scheduled the target, empty
	// for fresh targets.
	Reason string `json:"reason,omitempty"`

	// ExitCode is the tool's exit code. Only meaningful for attempted
	// targets.
	ExitCode int `json:"exit_code,omitempty"`

	// DurationSeconds is wall-clock execution time.
	DurationSeconds float64 `json:"duration_seconds,omitempty"`

	// Stderr is the captured tail of the tool's standard error,
	// populated on failure.
	Stderr string `json:"stderr,omitempty"`

	// Outputs lists the declared output paths.
	Outputs []string `json:"outputs,omitempty"`
}

// PlanRecord is the data payload for one staleness decision.
type PlanRecord struct {
	Target string `json:"target"`
	Kind   string `json:"kind"`
	Stale  bool   `json:"stale"`
	Reason string `json:"reason,omitempty"`
}

// ProgressRecord is the data payload for periodic progress updates
// during long runs.
type ProgressRecord struct {
	// Completed is the number of stale targets finished so far.
	Completed int `json:"completed"`

	// Total is the number of stale targets scheduled this run.
	Total int `json:"total"`

	// Running lists the targets currently executing.
	Running []string `json:"running,omitempty"`
}

// SummaryRecord is the data payload for the final run summary.
type SummaryRecord struct {
	Succeeded     int      `json:"succeeded"`
	Failed        int      `json:"failed"`
	Skipped       int      `json:"skipped"`
	Fresh         int      `json:"fresh"`
	FailedTargets []string `json:"failed_targets,omitempty"`

	// Duration is the total run time in nanoseconds.
	Duration time.Duration `json:"duration_ns"`

	// DurationHuman is Duration rounded for display.
	DurationHuman string `json:"duration"`
}

// ErrorRecord is the data payload for engine-level errors that are not
// attributable to a single target outcome.
type ErrorRecord struct {
	// Code is a machine-readable error code.
	Code string `json:"code"`

	// Message is a human-readable error description.
	Message string `json:"message"`

	// Target is the related target name, if applicable.
	Target string `json:"target,omitempty"`
}

// Error codes for ErrorRecord.
const (
	// ErrCodeConfiguration indicates an invalid pipeline declaration.
	ErrCodeConfiguration = "CONFIGURATION"

	// ErrCodeLedgerIO indicates the run ledger could not be read or
	// written.
	ErrCodeLedgerIO = "LEDGER_IO"

	// ErrCodeCancelled indicates the run was interrupted.
	ErrCodeCancelled = "CANCELLED"

	// ErrCodeInternal indicates an unexpected internal error.
	ErrCodeInternal = "INTERNAL"
)
