// Package ccglm adapts the Claude CLI pointed at the Z.ai
// Anthropic-compatible endpoint. Credentials and the endpoint override
// are injected into the subprocess environment only; artifact records
// carry the credential source name, never the value.
package ccglm

import (
	"context"
	"fmt"
	"os"

	"github.com/3leaps/dxrunner/pkg/authsource"
	"github.com/3leaps/dxrunner/pkg/probe"
	"github.com/3leaps/dxrunner/pkg/provider"
)

// Environment variables the Claude CLI honors for endpoint overrides.
const (
	envAuthToken = "ANTHROPIC_AUTH_TOKEN"
	envBaseURL   = "ANTHROPIC_BASE_URL"
)

// DefaultBinary is the Claude CLI name when configuration does not
// override it.
const DefaultBinary = "claude"

// DefaultBaseURL is the Z.ai Anthropic-compatible endpoint.
const DefaultBaseURL = "https://api.z.ai/api/anthropic"

// DefaultModel is the canonical model for this provider.
const DefaultModel = "glm-4.6"

// Adapter implements provider.Adapter for the ccglm backend.
type Adapter struct {
	cfg     provider.Config
	auth    authsource.Resolved
	authErr error
}

// New resolves the credential chain once and returns the adapter. A
// failed resolution is not fatal here: Preflight reports it and Start
// refuses with it, so callers see the verdict through whichever
// operation they reach first.
func New(ctx context.Context, cfg provider.Config) *Adapter {
	if cfg.Binary == "" {
		cfg.Binary = DefaultBinary
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.CanonicalModel == "" {
		cfg.CanonicalModel = DefaultModel
	}
	if cfg.Auth.EnvVar == "" && cfg.Auth.TokenFile == "" && !cfg.Auth.NeedsResolver() {
		cfg.Auth.EnvVar = envAuthToken
	}

	a := &Adapter{cfg: cfg}
	a.auth, a.authErr = cfg.Auth.Resolve(ctx)
	return a
}

// Type returns the provider type.
func (a *Adapter) Type() provider.Type { return provider.TypeCCGLM }

// AuthSource names the credential source that matched, for contract
// records. Empty when resolution failed.
func (a *Adapter) AuthSource() string {
	if a.authErr != nil {
		return ""
	}
	return fmt.Sprintf("%s:%s", a.auth.Strategy, a.auth.Detail)
}

// BaseURL returns the effective endpoint for contract records.
func (a *Adapter) BaseURL() string { return a.cfg.BaseURL }

// Preflight reports binary, auth, resolver, and model reachability
// verdicts.
func (a *Adapter) Preflight(ctx context.Context) []provider.CheckResult {
	return provider.PreflightChecks(ctx, a.cfg, a.probeSpec)
}

// ResolveModel applies the canonical/fallback-chain policy.
func (a *Adapter) ResolveModel(requested string) provider.ModelResolution {
	return a.cfg.ResolveModel(requested)
}

// ProbeModel runs a bounded single-prompt invocation against one model.
func (a *Adapter) ProbeModel(ctx context.Context, model string) (bool, string) {
	res := probe.Run(ctx, a.probeSpec(model))
	return res.OK, res.Detail
}

// Start launches the job detached under the launch shim. The prompt
// file is fed to the CLI's stdin by the shim; `-p` puts the CLI in
// non-interactive print mode.
func (a *Adapter) Start(ctx context.Context, req provider.StartRequest) (provider.StartResult, error) {
	if a.authErr != nil {
		return provider.StartResult{}, &provider.AdapterError{
			Op: "Start", Provider: a.Type(), Task: req.Task,
			Err: fmt.Errorf("%w: %v", provider.ErrAuthUnresolved, a.authErr),
		}
	}
	res := a.cfg.ResolveModel(req.Model)
	if res.Basis == provider.BasisUnavailable {
		return provider.StartResult{}, &provider.AdapterError{
			Op: "Start", Provider: a.Type(), Task: req.Task,
			Err: fmt.Errorf("%w: %s", provider.ErrModelUnavailable, res.Reason),
		}
	}

	pid, err := provider.StartDetached(a.launchSpec(req, res.Model))
	if err != nil {
		return provider.StartResult{}, &provider.AdapterError{
			Op: "Start", Provider: a.Type(), Task: req.Task, Err: err,
		}
	}

	return provider.StartResult{
		PID:            pid,
		Model:          res.Model,
		Basis:          res.Basis,
		FallbackReason: res.Reason,
		LaunchMode:     a.cfg.LaunchModeOrDefault(),
	}, nil
}

// Stop terminates the tracked process group with signal escalation.
func (a *Adapter) Stop(ctx context.Context, pid int) error {
	if _, err := provider.StopGroup(ctx, pid, 0); err != nil {
		return &provider.AdapterError{Op: "Stop", Provider: a.Type(), Err: err}
	}
	return nil
}

func (a *Adapter) launchSpec(req provider.StartRequest, model string) provider.LaunchSpec {
	argv := []string{a.cfg.Binary, "-p", "--model", model}
	argv = append(argv, a.cfg.ExtraArgs...)
	return provider.LaunchSpec{
		Argv:       argv,
		Env:        a.env(),
		Dir:        req.Workspace,
		PromptPath: req.PromptPath,
		LogPath:    req.LogPath,
		RCPath:     req.RCPath,
	}
}

func (a *Adapter) probeSpec(model string) probe.Spec {
	return probe.Spec{
		Binary:  a.cfg.Binary,
		Args:    []string{"-p", "--model", model},
		Env:     a.env(),
		Stdin:   "Reply with the single word OK.",
		Timeout: a.cfg.ProbeTimeout,
	}
}

// env assembles the subprocess environment: inherited, plus the
// credential and endpoint override.
func (a *Adapter) env() []string {
	env := os.Environ()
	if a.authErr == nil && a.auth.Value != "" {
		env = append(env, envAuthToken+"="+a.auth.Value)
	}
	if a.cfg.BaseURL != "" {
		env = append(env, envBaseURL+"="+a.cfg.BaseURL)
	}
	return env
}
