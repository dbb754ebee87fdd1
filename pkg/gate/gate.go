// Package gate implements the governance checks that bound what a
// dispatched job may do: baseline freshness, permission scope, model
// drift, integrity of claimed completions, and evidence of signoff.
//
// Gates are pure policy: they read the workspace and the job's
// declared intent, and produce verdicts. Pre-dispatch gates run before
// any subprocess exists and a failing one means nothing is launched.
// Post-hoc gates audit a finished job's claims. Gates that depend on
// repository state fail closed: an undeterminable answer is a failure,
// never a pass.
package gate

import (
	"context"
	"time"

	"github.com/3leaps/dxrunner/pkg/scope"
)

// Kind separates gates by when they run.
type Kind string

const (
	// KindPreDispatch gates run before launch; failure prevents dispatch.
	KindPreDispatch Kind = "pre_dispatch"

	// KindPostHoc gates audit a finished job's claims.
	KindPostHoc Kind = "post_hoc"
)

// Severities. An error-severity failure fails the report; a warning
// annotates it.
const (
	SeverityError   = "error"
	SeverityWarning = "warning"
)

// Input carries everything gates evaluate against. Callers populate the
// fields relevant to the gates they run; gates skip (pass vacuously)
// when their subject is absent only where the check is explicitly
// optional.
type Input struct {
	// Workspace is the directory the job targets (pre) or ran in (post).
	Workspace string

	// Scope is the compiled permission scope.
	Scope *scope.Scope

	// BaselineRef is the commit/ref the workspace must contain before
	// dispatch.
	BaselineRef string

	// TargetBranch is where completed work must land. Defaults to main
	// at the manifest layer.
	TargetBranch string

	// RequestedModel, CanonicalModel, and FallbackModels describe the
	// model request the drift gate vets.
	RequestedModel string
	CanonicalModel string
	FallbackModels []string

	// AllowModelOverride disables drift blocking for this dispatch. The
	// override is explicit and recorded; it never becomes ambient.
	AllowModelOverride bool

	// CompletionCommit is the commit id a finished job claims to have
	// produced.
	CompletionCommit string

	// EvidencePath is the signoff artifact a finished job must leave.
	EvidencePath string

	// MutationCount is the observed number of workspace file mutations.
	MutationCount int

	// GitTimeout bounds repository queries. Zero uses the gitstate
	// default.
	GitTimeout time.Duration
}

// Result is one gate verdict.
type Result struct {
	// Gate is the gate name.
	Gate string `json:"gate"`

	// Check is the sub-check within the gate, when the gate has several.
	Check string `json:"check,omitempty"`

	// Passed reports the verdict.
	Passed bool `json:"passed"`

	// Severity is error or warning.
	Severity string `json:"severity"`

	// Code is a stable machine reason code when the check fails.
	Code string `json:"code,omitempty"`

	// Reason is a human-readable elaboration.
	Reason string `json:"reason,omitempty"`
}

// Check is one governance gate.
type Check interface {
	// Name returns the gate name.
	Name() string

	// Kind reports when the gate runs.
	Kind() Kind

	// Run evaluates the gate. Expected policy violations are failing
	// Results, never errors.
	Run(ctx context.Context, in *Input) []Result
}

// Report is the aggregate verdict of one engine run.
type Report struct {
	// Operation names what was being gated (e.g. "start", "report").
	Operation string `json:"operation"`

	// Results holds every individual verdict, in gate order.
	Results []Result `json:"results"`

	// EvaluatedAt is when the run completed.
	EvaluatedAt time.Time `json:"evaluated_at"`
}

// Passed reports whether no error-severity check failed.
func (r Report) Passed() bool {
	for _, res := range r.Results {
		if !res.Passed && res.Severity == SeverityError {
			return false
		}
	}
	return true
}

// FirstFailure returns the first error-severity failure, if any.
func (r Report) FirstFailure() (Result, bool) {
	for _, res := range r.Results {
		if !res.Passed && res.Severity == SeverityError {
			return res, true
		}
	}
	return Result{}, false
}

// Engine runs a fixed set of gates.
type Engine struct {
	checks []Check
}

// NewEngine returns an engine over the given gates.
func NewEngine(checks ...Check) *Engine {
	return &Engine{checks: checks}
}

// DefaultEngine returns an engine with the full governance set.
func DefaultEngine() *Engine {
	return NewEngine(
		&BaselineGate{},
		&ScopeGate{},
		&ModelDriftGate{},
		&MutationGate{},
		&IntegrityGate{},
		&EvidenceGate{},
	)
}

// Run evaluates every gate of the given kind against the input. All
// gates run even after a failure, so the report names every violation
// at once instead of one per invocation.
func (e *Engine) Run(ctx context.Context, operation string, kind Kind, in *Input) Report {
	report := Report{Operation: operation}
	for _, c := range e.checks {
		if c.Kind() != kind {
			continue
		}
		report.Results = append(report.Results, c.Run(ctx, in)...)
	}
	report.EvaluatedAt = time.Now().UTC()
	return report
}
