// Package output provides JSONL output for dispatch events and reports.
//
// Output is structured as typed record envelopes containing dispatches,
// state transitions, outcomes, gate reports, and errors. Each line is a
// self-contained JSON object that can be parsed independently, and every
// machine-readable reason code emitted anywhere in the runner is declared
// here so downstream automation greps one stable vocabulary.
package output

import (
	"encoding/json"
	"errors"
	"time"
)

// Record type constants define the envelope types for JSONL output.
// These follow the pattern: dxrunner.<type>.v<version>
const (
	// TypeDispatch identifies job dispatch records.
	TypeDispatch = "dxrunner.dispatch.v1"

	// TypeTransition identifies health state transition records.
	TypeTransition = "dxrunner.transition.v1"

	// TypeOutcome identifies terminal outcome records.
	TypeOutcome = "dxrunner.outcome.v1"

	// TypeGate identifies governance gate report records.
	TypeGate = "dxrunner.gate.v1"

	// TypePreflight identifies provider preflight records.
	TypePreflight = "dxrunner.preflight.v1"

	// TypeRestart identifies watchdog restart records.
	TypeRestart = "dxrunner.restart.v1"

	// TypeError identifies error records.
	TypeError = "dxrunner.error.v1"
)

// Record is the envelope for all JSONL output.
//
// Each line of JSONL output contains a Record with a type-specific
// payload in the Data field. The type field determines how to
// interpret the Data payload.
type Record struct {
	// Type identifies the record type (e.g., "dxrunner.transition.v1").
	Type string `json:"type"`

	// TS is the timestamp when the record was created (RFC3339Nano).
	TS time.Time `json:"ts"`

	// Task is the opaque task key this record concerns, if any.
	Task string `json:"task,omitempty"`

	// Provider identifies the backend provider (e.g., "ccglm", "gemini").
	Provider string `json:"provider,omitempty"`

	// Data contains the type-specific payload as raw JSON.
	Data json.RawMessage `json:"data"`
}

// DispatchRecord is the data payload for job dispatches.
type DispatchRecord struct {
	// AttemptID is the unique id of this launch attempt.
	AttemptID string `json:"attempt_id"`

	// PID is the detached process id.
	PID int `json:"pid"`

	// Workspace is the working directory the job runs in.
	Workspace string `json:"workspace"`

	// Model is the resolved model identifier.
	Model string `json:"model"`

	// ModelBasis is the selection basis: preferred, fallback, unavailable.
	ModelBasis string `json:"model_basis"`

	// FallbackReason explains a non-preferred selection, if any.
	FallbackReason string `json:"fallback_reason,omitempty"`

	// LaunchMode records how the subprocess was detached.
	LaunchMode string `json:"launch_mode"`

	// RetryCount is the number of restarts layered on this job identity.
	RetryCount int `json:"retry_count"`
}

// TransitionRecord is the data payload for state transitions.
type TransitionRecord struct {
	From string `json:"from"`
	To   string `json:"to"`

	// Reason carries a machine code for the transition cause, if any.
	Reason string `json:"reason,omitempty"`
}

// OutcomeRecord is the data payload for terminal outcomes.
type OutcomeRecord struct {
	// State is the terminal state (exited_ok, exited_err, no_op_success,
	// stopped, blocked).
	State string `json:"state"`

	// ExitCode is the captured raw exit code, when one was recorded.
	ExitCode *int `json:"exit_code,omitempty"`

	// ReasonCode is a stable machine code for the outcome cause.
	ReasonCode string `json:"reason_code,omitempty"`

	// Detail is a human-readable elaboration.
	Detail string `json:"detail,omitempty"`
}

// GateRecord is the data payload for a single gate check result.
type GateRecord struct {
	Operation string `json:"operation"`
	Gate      string `json:"gate"`
	Check     string `json:"check,omitempty"`
	Passed    bool   `json:"passed"`
	Severity  string `json:"severity"`
	Code      string `json:"code,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// PreflightRecord is the data payload for provider preflight checks.
//
// Preflight records are emitted before any dispatch and provide an
// explicit contract for what was checked and what verdict each
// sub-check produced.
type PreflightRecord struct {
	Results []PreflightCheckResult `json:"results"`
}

// PreflightCheckResult is a single preflight sub-check result.
type PreflightCheckResult struct {
	Check    string `json:"check"`
	Passed   bool   `json:"passed"`
	Severity string `json:"severity"`
	Code     string `json:"code,omitempty"`
	Detail   string `json:"detail,omitempty"`
}

// RestartRecord is the data payload for watchdog restarts.
type RestartRecord struct {
	RetryCount int    `json:"retry_count"`
	RotatedLog string `json:"rotated_log"`
	Mode       string `json:"mode"`
}

// ErrorRecord is the data payload for errors.
//
// Errors are emitted as records rather than aborting a whole watchdog
// pass, so one failing job never hides the rest.
type ErrorRecord struct {
	// Code is a machine-readable error code.
	Code string `json:"code"`

	// Message is a human-readable error description.
	Message string `json:"message"`

	// Details contains additional error context.
	Details any `json:"details,omitempty"`
}

// Governance gate reason codes. These are part of the runner's public
// contract: scripts branch on them and alert rules grep for them.
const (
	// CodeBaselineNotAncestor reports a workspace behind the required commit.
	CodeBaselineNotAncestor = "baseline_not_ancestor"

	// CodeBaselineUndeterminable reports ancestry that could not be decided
	// (shallow history, git failure). Fails closed.
	CodeBaselineUndeterminable = "baseline_undeterminable"

	// CodePathNotAllowed reports a workspace outside the allow-list.
	CodePathNotAllowed = "path_not_allowed"

	// CodeMutationBudgetExceeded reports more touched files than budgeted.
	CodeMutationBudgetExceeded = "mutation_budget_exceeded"

	// CodeModelDrift reports a blocked non-canonical model request.
	CodeModelDrift = "model_drift_blocked"

	// CodeMissingCommit reports a completion commit absent from the repo.
	CodeMissingCommit = "missing_commit"

	// CodeNotAncestor reports a completion commit that has not landed on
	// the target branch.
	CodeNotAncestor = "not_ancestor"

	// CodeIntegrityUndeterminable reports a completion claim that could
	// not be verified either way. Fails closed.
	CodeIntegrityUndeterminable = "integrity_undeterminable"

	// CodeEvidenceMissing reports an absent required signoff artifact.
	CodeEvidenceMissing = "evidence_missing"
)

// Runtime outcome reason codes.
const (
	// CodeStalled reports a live process with no progress signal.
	CodeStalled = "stalled"

	// CodeRetryBudgetExhausted reports a blocked job out of restarts.
	CodeRetryBudgetExhausted = "retry_budget_exhausted"

	// CodeRestartDisabled reports a job blocked by its no-auto-restart
	// override or watchdog mode.
	CodeRestartDisabled = "restart_disabled"

	// CodeContractDrift reports a refused restart whose runtime contract
	// (auth source, model, base URL, scope) changed since launch.
	CodeContractDrift = "contract_drift"

	// CodeNoOp reports a clean exit with zero observed effect.
	CodeNoOp = "no_op"

	// CodeOperatorStop reports an explicit operator stop.
	CodeOperatorStop = "operator_stop"

	// CodeStartFailed reports an adapter that could not spawn.
	CodeStartFailed = "start_failed"
)

// Preflight sub-check reason codes.
const (
	// CodeBinaryMissing reports a provider CLI absent from PATH.
	CodeBinaryMissing = "binary_missing"

	// CodeAuthUnresolved reports no credential source matching.
	CodeAuthUnresolved = "auth_unresolved"

	// CodeProbeFailed reports an unreachable model.
	CodeProbeFailed = "probe_failed"

	// CodeProbeTimeout reports a probe that exceeded its deadline.
	CodeProbeTimeout = "probe_timeout"

	// CodeResolverMissing reports an absent secret-resolver command.
	CodeResolverMissing = "resolver_missing"
)

// Log-signature classes produced by the log scanner.
const (
	// CodeRateLimited reports provider throttling detected in the log.
	CodeRateLimited = "rate_limited"

	// CodeQuotaExhausted reports an exhausted usage quota.
	CodeQuotaExhausted = "quota_exhausted"

	// CodeAuthExpired reports rejected or expired credentials.
	CodeAuthExpired = "auth_expired"

	// CodeContextOverflow reports prompt/context length errors.
	CodeContextOverflow = "context_overflow"
)

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
