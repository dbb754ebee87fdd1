// Package provider defines the adapter contract for dispatching
// headless coding-agent jobs against backend providers.
//
// Providers have materially different CLIs and auth models, but the
// orchestration logic (retry, health classification, artifact layout)
// is provider-agnostic. One static interface with a concrete
// implementation per backend isolates all provider-specific branching,
// so the supervisor is written once. Adapters are selected by a
// provider type enum, never by sourcing files at runtime.
package provider

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/3leaps/dxrunner/pkg/authsource"
)

// Type identifies a backend provider.
type Type string

const (
	// TypeCCGLM is the Claude CLI pointed at the Z.ai Anthropic-compatible endpoint.
	TypeCCGLM Type = "ccglm"

	// TypeOpenCode is the OpenCode CLI.
	TypeOpenCode Type = "opencode"

	// TypeGemini is the Gemini CLI.
	TypeGemini Type = "gemini"
)

// Types lists every supported provider type.
func Types() []Type {
	return []Type{TypeCCGLM, TypeOpenCode, TypeGemini}
}

// ParseType validates a provider name.
func ParseType(s string) (Type, error) {
	switch Type(strings.ToLower(strings.TrimSpace(s))) {
	case TypeCCGLM:
		return TypeCCGLM, nil
	case TypeOpenCode:
		return TypeOpenCode, nil
	case TypeGemini:
		return TypeGemini, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownProvider, s)
	}
}

// LaunchMode records how a subprocess was detached.
type LaunchMode string

const (
	// LaunchDetached runs the provider CLI under the launch shim in its
	// own session, output redirected to the job log.
	LaunchDetached LaunchMode = "detached"

	// LaunchPTY is reserved for providers that require a controlling
	// terminal.
	LaunchPTY LaunchMode = "pty"

	// LaunchScript is reserved for providers driven through a wrapper
	// script.
	LaunchScript LaunchMode = "script"
)

// StartRequest asks an adapter to launch one job.
type StartRequest struct {
	// Task is the opaque task key the job runs under.
	Task string

	// PromptPath is the prompt file fed to the provider CLI's stdin.
	PromptPath string

	// Workspace is the working directory for the subprocess. The
	// permission gate vets it before dispatch; the adapter honors it
	// as given.
	Workspace string

	// LogPath receives all subprocess output, append-only.
	LogPath string

	// RCPath receives the raw exit code, written exactly once by the
	// launch shim at child exit.
	RCPath string

	// Model is the resolved model identifier to run with.
	Model string
}

// StartResult reports a successful launch.
type StartResult struct {
	// PID is the detached process id (the launch shim, which is the
	// session and process-group leader for the job).
	PID int

	// Model is the model the job was launched with.
	Model string

	// Basis is the model selection basis.
	Basis ModelBasis

	// FallbackReason explains a non-preferred selection, if any.
	FallbackReason string

	// LaunchMode records how the subprocess was detached.
	LaunchMode LaunchMode
}

// Adapter is the per-provider implementation of the dispatch contract.
//
// Start must return without blocking past subprocess spawn; the
// subprocess survives the caller exiting. Preflight and ProbeModel are
// the only operations permitted to block on network I/O, and both
// enforce a bounded timeout.
type Adapter interface {
	// Type returns the provider type.
	Type() Type

	// Preflight checks binary presence, credential resolvability, and
	// model reachability. Expected absences are reported as failing
	// checks, never as errors.
	Preflight(ctx context.Context) []CheckResult

	// ResolveModel applies the canonical/fallback-chain policy to a
	// requested model. Deterministic for a given configuration.
	ResolveModel(requested string) ModelResolution

	// ProbeModel runs a short bounded-timeout liveness check of one
	// model, independent of a full job.
	ProbeModel(ctx context.Context, model string) (bool, string)

	// Start launches the job subprocess detached from the caller.
	Start(ctx context.Context, req StartRequest) (StartResult, error)

	// Stop terminates the tracked process group: signal, bounded wait,
	// escalate. Never matches by process name.
	Stop(ctx context.Context, pid int) error
}

// Preflight sub-check names. Stable: operators grep for them and the
// severity configuration keys off them.
const (
	CheckBinary   = "binary"
	CheckAuth     = "auth"
	CheckModel    = "model"
	CheckResolver = "resolver"
)

// Check severities.
const (
	SeverityError   = "error"
	SeverityWarning = "warning"
)

// CheckResult is one preflight sub-check verdict.
type CheckResult struct {
	// Check is the sub-check name.
	Check string

	// Passed reports the verdict.
	Passed bool

	// Severity is error (blocks dispatch) or warning (annotates).
	Severity string

	// Code is a stable machine reason code when the check fails.
	Code string

	// Detail is a human-readable elaboration. Secret values are
	// masked; only source names appear.
	Detail string
}

// Config is the explicit per-provider configuration, resolved once at
// startup and passed to the adapter constructor. Adapters never re-read
// ambient environment mid-run.
type Config struct {
	// Binary is the provider CLI name or path.
	Binary string `json:"binary" mapstructure:"binary"`

	// BaseURL overrides the provider API endpoint, when applicable.
	BaseURL string `json:"base_url,omitempty" mapstructure:"base_url"`

	// CanonicalModel is the required/approved model absent an explicit
	// override.
	CanonicalModel string `json:"canonical_model" mapstructure:"canonical_model"`

	// FallbackModels is the bounded, ordered chain resolution may fall
	// back within. Anything outside it resolves as unavailable.
	FallbackModels []string `json:"fallback_models,omitempty" mapstructure:"fallback_models"`

	// Auth is the credential acquisition chain for this provider.
	Auth authsource.Chain `json:"auth" mapstructure:"auth"`

	// ProbeTimeout bounds model reachability probes.
	ProbeTimeout time.Duration `json:"probe_timeout,omitempty" mapstructure:"probe_timeout"`

	// Mode is the launch mode. Defaults to detached.
	Mode LaunchMode `json:"launch_mode,omitempty" mapstructure:"launch_mode"`

	// Severity overrides preflight sub-check severities
	// (check name -> error|warning).
	Severity map[string]string `json:"severity,omitempty" mapstructure:"severity"`

	// ExtraArgs are appended to the provider CLI invocation.
	ExtraArgs []string `json:"extra_args,omitempty" mapstructure:"extra_args"`
}

// SeverityFor returns the effective severity for a preflight sub-check:
// the configured override when present, else the documented default
// (missing binary and unresolved auth block; probe and resolver issues
// warn).
func (c Config) SeverityFor(check string) string {
	if s, ok := c.Severity[check]; ok {
		switch strings.ToLower(strings.TrimSpace(s)) {
		case SeverityError:
			return SeverityError
		case SeverityWarning:
			return SeverityWarning
		}
	}
	switch check {
	case CheckBinary, CheckAuth:
		return SeverityError
	default:
		return SeverityWarning
	}
}

// LaunchModeOrDefault returns the configured launch mode, defaulting to
// detached.
func (c Config) LaunchModeOrDefault() LaunchMode {
	if c.Mode == "" {
		return LaunchDetached
	}
	return c.Mode
}
