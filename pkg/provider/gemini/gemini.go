// Package gemini adapts the Gemini CLI. The canonical model falls back
// to a cheaper tier under quota pressure; anything outside the
// configured chain is refused.
package gemini

import (
	"context"
	"fmt"
	"os"

	"github.com/3leaps/dxrunner/pkg/authsource"
	"github.com/3leaps/dxrunner/pkg/probe"
	"github.com/3leaps/dxrunner/pkg/provider"
)

// envAPIKey is where the Gemini CLI picks up credentials.
const envAPIKey = "GEMINI_API_KEY"

// DefaultBinary is the Gemini CLI name when configuration does not
// override it.
const DefaultBinary = "gemini"

// Canonical and fallback models for this provider.
const (
	DefaultModel         = "gemini-2.5-pro"
	DefaultFallbackModel = "gemini-2.5-flash"
)

// Adapter implements provider.Adapter for the Gemini backend.
type Adapter struct {
	cfg     provider.Config
	auth    authsource.Resolved
	authErr error
}

// New resolves the credential chain once and returns the adapter.
func New(ctx context.Context, cfg provider.Config) *Adapter {
	if cfg.Binary == "" {
		cfg.Binary = DefaultBinary
	}
	if cfg.CanonicalModel == "" {
		cfg.CanonicalModel = DefaultModel
		if len(cfg.FallbackModels) == 0 {
			cfg.FallbackModels = []string{DefaultFallbackModel}
		}
	}
	if cfg.Auth.EnvVar == "" && cfg.Auth.TokenFile == "" && !cfg.Auth.NeedsResolver() {
		cfg.Auth.EnvVar = envAPIKey
	}

	a := &Adapter{cfg: cfg}
	a.auth, a.authErr = cfg.Auth.Resolve(ctx)
	return a
}

// Type returns the provider type.
func (a *Adapter) Type() provider.Type { return provider.TypeGemini }

// AuthSource names the credential source that matched, for contract
// records. Empty when resolution failed.
func (a *Adapter) AuthSource() string {
	if a.authErr != nil {
		return ""
	}
	return fmt.Sprintf("%s:%s", a.auth.Strategy, a.auth.Detail)
}

// BaseURL returns the configured endpoint override, if any.
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
// file is fed to the CLI's stdin by the shim.
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
	argv := []string{a.cfg.Binary, "--model", model}
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
		Args:    []string{"--model", model, "-p", "Reply with the single word OK."},
		Env:     a.env(),
		Timeout: a.cfg.ProbeTimeout,
	}
}

func (a *Adapter) env() []string {
	env := os.Environ()
	if a.authErr == nil && a.auth.Value != "" {
		env = append(env, envAPIKey+"="+a.auth.Value)
	}
	return env
}
