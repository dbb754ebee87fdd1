package artifact

import "time"

// Key identifies one job's artifact set. The store partitions by
// (provider, task) so concurrent jobs never share a write set.
type Key struct {
	Provider string
	Task     string
}

// Meta is the persistent job metadata written at dispatch and updated
// on restart.
//
// NOTE: field names are persisted in meta.json and are part of the
// stable on-disk contract.
type Meta struct {
	Task     string `json:"task"`
	Provider string `json:"provider"`

	Workspace    string `json:"workspace"`
	PromptSource string `json:"prompt_source,omitempty"`

	// AttemptID changes on every launch attempt for this job identity.
	AttemptID string `json:"attempt_id"`

	// RetryCount is the number of restarts layered on this identity.
	RetryCount int `json:"retry_count"`

	LaunchMode string `json:"launch_mode,omitempty"`

	Model          string `json:"model,omitempty"`
	ModelBasis     string `json:"model_basis,omitempty"`
	FallbackReason string `json:"fallback_reason,omitempty"`

	// NoAutoRestart blocks this job on first stall regardless of the
	// watchdog mode.
	NoAutoRestart bool `json:"no_auto_restart,omitempty"`

	// BaselineRef and TargetBranch carry the governance inputs forward
	// for the post-hoc gates.
	BaselineRef  string `json:"baseline_ref,omitempty"`
	TargetBranch string `json:"target_branch,omitempty"`

	// EvidencePath is the signoff artifact the evidence gate requires,
	// relative to the workspace. Empty disables the gate for this job.
	EvidencePath string `json:"evidence_path,omitempty"`

	CreatedAt time.Time  `json:"created_at"`
	StartedAt *time.Time `json:"started_at,omitempty"`
}

// Outcome is the terminal record for one job. Written exactly once;
// authoritative over any process-table inference made afterwards.
type Outcome struct {
	// State is the terminal state: exited_ok, exited_err,
	// no_op_success, stopped, or blocked.
	State string `json:"state"`

	// ExitCode is the captured raw exit code, when one was recorded.
	ExitCode *int `json:"exit_code,omitempty"`

	// ReasonCode is a stable machine code for the outcome cause.
	ReasonCode string `json:"reason_code,omitempty"`

	// Detail is a human-readable elaboration (log signature hint,
	// stop cause).
	Detail string `json:"detail,omitempty"`

	CompletedAt time.Time `json:"completed_at"`
}

// Contract pins the runtime environment a job was launched under. A
// restart whose recomputed contract differs is refused rather than
// silently relaunched against a changed environment.
//
// The auth source is recorded by NAME only; secret values never reach
// the artifact set.
type Contract struct {
	AuthSource string `json:"auth_source,omitempty"`
	Model      string `json:"model,omitempty"`
	BaseURL    string `json:"base_url,omitempty"`
	ScopeHash  string `json:"scope_hash,omitempty"`
}

// Mutation records observed workspace file changes.
type Mutation struct {
	Count      int        `json:"count"`
	LastChange *time.Time `json:"last_change,omitempty"`
	ObservedAt time.Time  `json:"observed_at"`
}

// Heartbeat is the last observed sign of life plus the signal baselines
// the next poll diffs against.
type Heartbeat struct {
	// Source names the signal that produced this heartbeat:
	// launch, log, cpu, or mutation.
	Source string `json:"source"`

	At time.Time `json:"at"`

	// Baselines for progress detection.
	LogBytes      int64  `json:"log_bytes"`
	CPUTicks      uint64 `json:"cpu_ticks"`
	MutationCount int    `json:"mutation_count"`
}

// Heartbeat sources.
const (
	HeartbeatLaunch   = "launch"
	HeartbeatLog      = "log"
	HeartbeatCPU      = "cpu"
	HeartbeatMutation = "mutation"
)
