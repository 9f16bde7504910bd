// Package output provides JSONL output for processing runs.
//
// Output is structured as typed record envelopes containing per-file
// outcomes, skips, errors, and progress updates. Each line is a
// self-contained JSON object that can be parsed independently.
package output

import (
	"encoding/json"
	"errors"
	"time"
)

// Record type constants define the envelope types for JSONL output.
// These follow the pattern: gristmill.<type>.v<version>
const (
	// TypeFile identifies per-file outcome records.
	TypeFile = "gristmill.file.v1"

	// TypePlan identifies planned-file records emitted by dry runs.
	TypePlan = "gristmill.plan.v1"

	// TypeSkip identifies skip records.
	TypeSkip = "gristmill.skip.v1"

	// TypeError identifies error records.
	TypeError = "gristmill.error.v1"

	// TypeProgress identifies progress update records.
	TypeProgress = "gristmill.progress.v1"

	// TypeSummary identifies final summary records.
	TypeSummary = "gristmill.summary.v1"

	// TypePreflight identifies preflight capability check records.
	TypePreflight = "gristmill.preflight.v1"
)

// Record is the envelope for all JSONL output.
//
// Each line of JSONL output contains a Record with a type-specific
// payload in the Data field. The type field determines how to
// interpret the Data payload.
type Record struct {
	// Type identifies the record type (e.g., "gristmill.file.v1").
	Type string `json:"type"`

	// TS is the timestamp when the record was created (RFC3339Nano).
	TS time.Time `json:"ts"`

	// RunID is the correlation ID for this processing run.
	RunID string `json:"run_id"`

	// Store identifies the storage variant (e.g., "s3", "local").
	Store string `json:"store"`

	// Data contains the type-specific payload as raw JSON.
	Data json.RawMessage `json:"data"`
}

// FileRecord is the data payload for per-file outcomes.
//
// One file record is emitted for every file the run attempted,
// whether the operation succeeded or failed.
type FileRecord struct {
	// Identity is the ledger key for the file.
	Identity string `json:"identity"`

	// Name is the source-relative input name.
	Name string `json:"name"`

	// Status is the terminal status: "completed" or "failed".
	Status string `json:"status"`

	// Result is the published output reference. Empty on failure.
	Result string `json:"result,omitempty"`

	// Fields holds the operation-declared ledger columns.
	Fields map[string]string `json:"fields,omitempty"`

	// Attempts is the number of operation attempts made.
	Attempts int `json:"attempts"`

	// Duration is the wall time spent on this file.
	Duration time.Duration `json:"duration_ns"`

	// Error is the failure reason, if the file failed.
	Error string `json:"error,omitempty"`
}

// PlanRecord is the data payload for planned files.
//
// Plan records are emitted by dry runs: one per file the run would
// process, in plan order.
type PlanRecord struct {
	// Identity is the ledger key for the file.
	Identity string `json:"identity"`

	// Name is the source-relative input name.
	Name string `json:"name"`

	// Size is the input size in bytes.
	Size int64 `json:"size"`
}

// SkipRecord is the data payload for skipped inputs.
type SkipRecord struct {
	// Identity is the ledger key, when one was derived.
	Identity string `json:"identity,omitempty"`

	// Name is the source-relative input name.
	Name string `json:"name"`

	// Reason is a machine-readable skip reason.
	Reason string `json:"reason"`
}

// Skip reasons for SkipRecord.
const (
	// SkipReasonCompleted indicates the ledger already holds a verified result.
	SkipReasonCompleted = "ledger.completed"

	// SkipReasonFiltered indicates the input failed include/exclude filters.
	SkipReasonFiltered = "filters.excluded"

	// SkipReasonCap indicates the input fell past the max files cap.
	SkipReasonCap = "limits.max_files"

	// SkipReasonDuplicate indicates another input already claimed the identity.
	SkipReasonDuplicate = "identity.duplicate"
)

// ErrorRecord is the data payload for errors.
//
// Errors are emitted as records rather than failing the entire run,
// allowing partial results when some files fail.
type ErrorRecord struct {
	// Code is a machine-readable error code.
	Code string `json:"code"`

	// Message is a human-readable error description.
	Message string `json:"message"`

	// Identity is the ledger key related to this error, if applicable.
	Identity string `json:"identity,omitempty"`

	// Details contains additional error context.
	Details any `json:"details,omitempty"`
}

// Error codes for ErrorRecord.
const (
	// ErrCodeAccessDenied indicates permission failure.
	ErrCodeAccessDenied = "ACCESS_DENIED"

	// ErrCodeNotFound indicates the input or source was not found.
	ErrCodeNotFound = "NOT_FOUND"

	// ErrCodeTimeout indicates an operation timed out.
	ErrCodeTimeout = "TIMEOUT"

	// ErrCodeThrottled indicates rate limiting.
	ErrCodeThrottled = "THROTTLED"

	// ErrCodeOperation indicates the per-file operation failed.
	ErrCodeOperation = "OPERATION_FAILED"

	// ErrCodeInternal indicates an unexpected internal error.
	ErrCodeInternal = "INTERNAL"
)

// ProgressRecord is the data payload for progress updates.
//
// Progress records are emitted at phase transitions and periodically
// during processing to provide visibility into long-running runs.
type ProgressRecord struct {
	// Phase indicates the current run phase.
	Phase string `json:"phase"`

	// Discovered is the number of inputs found at the source.
	Discovered int64 `json:"discovered"`

	// Planned is the number of files in the run plan.
	Planned int64 `json:"planned"`

	// Processed is the number of planned files attempted so far.
	Processed int64 `json:"processed"`

	// Completed is the number of files completed so far.
	Completed int64 `json:"completed"`

	// Failed is the number of files failed so far.
	Failed int64 `json:"failed"`
}

// Run phase constants.
const (
	// PhaseDiscovering indicates inputs are being listed.
	PhaseDiscovering = "discovering"

	// PhasePlanning indicates the ledger is being reconciled and the
	// run plan computed.
	PhasePlanning = "planning"

	// PhaseProcessing indicates files are being processed.
	PhaseProcessing = "processing"

	// PhasePublishing indicates outputs and the ledger are being published.
	PhasePublishing = "publishing"

	// PhaseComplete indicates the run has finished.
	PhaseComplete = "complete"
)

// SummaryRecord is the data payload for final summaries.
//
// A summary record is emitted at the end of a run with aggregate
// statistics.
type SummaryRecord struct {
	// Discovered is the number of inputs found at the source.
	Discovered int64 `json:"discovered"`

	// Planned is the number of files in the run plan.
	Planned int64 `json:"planned"`

	// Completed is the number of files completed this run.
	Completed int64 `json:"completed"`

	// Failed is the number of files failed this run.
	Failed int64 `json:"failed"`

	// Skipped is the number of inputs skipped (already completed,
	// filtered, capped, or duplicate identity).
	Skipped int64 `json:"skipped"`

	// Demoted is the number of ledger records reconciliation demoted
	// because their outputs had vanished.
	Demoted int64 `json:"demoted"`

	// Errors is the count of non-fatal errors encountered.
	Errors int64 `json:"errors"`

	// Duration is the total run duration.
	Duration time.Duration `json:"duration_ns"`

	// DurationHuman is a human-readable duration string.
	DurationHuman string `json:"duration"`

	// LedgerRef is where the final ledger was published.
	LedgerRef string `json:"ledger_ref,omitempty"`
}

// PreflightRecord is the data payload for preflight capability checks.
//
// Preflight records are emitted early, before long-running operations.
// They provide an explicit contract for what was checked and whether the
// principal appears to have the required permissions.
type PreflightRecord struct {
	Results []PreflightCheckResult `json:"results"`
}

// PreflightCheckResult is a single capability check result.
type PreflightCheckResult struct {
	Capability string `json:"capability"`
	Allowed    bool   `json:"allowed"`
	Method     string `json:"method,omitempty"`
	ErrorCode  string `json:"error_code,omitempty"`
	Detail     string `json:"detail,omitempty"`
}

// Writer errors.
var (
	// ErrWriterClosed is returned when writing to a closed writer.
	ErrWriterClosed = errors.New("writer is closed")
)

// WriteError wraps errors that occur during write operations.
type WriteError struct {
	Op  string // Operation that failed (e.g., "marshal_data", "write")
	Err error  // Underlying error
}

func (e *WriteError) Error() string {
	return "output: " + e.Op + ": " + e.Err.Error()
}

func (e *WriteError) Unwrap() error {
	return e.Err
}
