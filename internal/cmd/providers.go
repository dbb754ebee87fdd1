package cmd

import (
	"context"
	"fmt"

	signaturesassets "github.com/3leaps/dxrunner/internal/assets/signatures"
	"github.com/3leaps/dxrunner/internal/config"
	"github.com/3leaps/dxrunner/internal/observability"
	"github.com/3leaps/dxrunner/pkg/artifact"
	"github.com/3leaps/dxrunner/pkg/logscan"
	"github.com/3leaps/dxrunner/pkg/provider"
	"github.com/3leaps/dxrunner/pkg/provider/ccglm"
	"github.com/3leaps/dxrunner/pkg/provider/gemini"
	"github.com/3leaps/dxrunner/pkg/provider/opencode"
	"github.com/3leaps/dxrunner/pkg/supervisor"
)

// buildAdapter constructs the adapter for one provider type from its
// configured settings. Missing configuration falls back to the
// adapter's canonical defaults.
func buildAdapter(ctx context.Context, typ provider.Type, cfg provider.Config) (provider.Adapter, error) {
	if s := mergedSeverity(cfg.Severity); s != nil {
		cfg.Severity = s
	}
	switch typ {
	case provider.TypeCCGLM:
		return ccglm.New(ctx, cfg), nil
	case provider.TypeOpenCode:
		return opencode.New(ctx, cfg), nil
	case provider.TypeGemini:
		return gemini.New(ctx, cfg), nil
	default:
		return nil, fmt.Errorf("%w: %q", provider.ErrUnknownProvider, typ)
	}
}

// providerConfig returns the configured settings for a provider type,
// zero-valued when unconfigured.
func providerConfig(typ provider.Type) provider.Config {
	cfg := config.GetConfig()
	if cfg == nil {
		return provider.Config{}
	}
	return cfg.Providers[string(typ)]
}

// mergedSeverity layers the global preflight.severity map under any
// per-provider overrides.
func mergedSeverity(perProvider map[string]string) map[string]string {
	cfg := config.GetConfig()
	if cfg == nil || len(cfg.Preflight.Severity) == 0 {
		return perProvider
	}
	merged := make(map[string]string, len(cfg.Preflight.Severity)+len(perProvider))
	for k, v := range cfg.Preflight.Severity {
		merged[k] = v
	}
	for k, v := range perProvider {
		merged[k] = v
	}
	return merged
}

// contractIdentity is the accessor pair every adapter exposes for
// contract records, beyond the provider.Adapter surface.
type contractIdentity interface {
	AuthSource() string
	BaseURL() string
}

// adapterContract extracts the runtime identity an adapter will launch
// under. The scope hash and resolved model are filled in by the caller.
func adapterContract(a provider.Adapter) artifact.Contract {
	c := artifact.Contract{}
	if id, ok := a.(contractIdentity); ok {
		c.AuthSource = id.AuthSource()
		c.BaseURL = id.BaseURL()
	}
	return c
}

// modelChain returns the effective canonical model and fallback chain
// for a provider type, applying the same defaults the adapter
// constructor applies.
func modelChain(typ provider.Type, cfg provider.Config) (string, []string) {
	canonical := cfg.CanonicalModel
	fallbacks := cfg.FallbackModels
	if canonical == "" {
		switch typ {
		case provider.TypeCCGLM:
			canonical = ccglm.DefaultModel
		case provider.TypeOpenCode:
			canonical = opencode.DefaultModel
		case provider.TypeGemini:
			canonical = gemini.DefaultModel
			if len(fallbacks) == 0 {
				fallbacks = []string{gemini.DefaultFallbackModel}
			}
		}
	}
	return canonical, fallbacks
}

// allAdapters builds adapters for every supported provider type.
func allAdapters(ctx context.Context) (map[provider.Type]provider.Adapter, error) {
	adapters := make(map[provider.Type]provider.Adapter, len(provider.Types()))
	for _, typ := range provider.Types() {
		a, err := buildAdapter(ctx, typ, providerConfig(typ))
		if err != nil {
			return nil, err
		}
		adapters[typ] = a
	}
	return adapters, nil
}

// newSupervisor builds the supervisor over the configured artifact
// root and supervision knobs, with the embedded signature tables
// wired for exited_err enrichment.
func newSupervisor() (*supervisor.Supervisor, error) {
	cfg := config.GetConfig()
	store := artifact.NewStore(cfg.ArtifactRoot)

	scanCfg, err := logscan.ParseConfig(signaturesassets.DefaultSignatures)
	if err != nil {
		return nil, fmt.Errorf("load embedded signature tables: %w", err)
	}
	classifier, err := logscan.New(scanCfg)
	if err != nil {
		return nil, fmt.Errorf("compile signature tables: %w", err)
	}

	return supervisor.New(store, supervisor.Config{
		StallThreshold: cfg.Supervisor.StallThreshold,
		StartupGrace:   cfg.Supervisor.StartupGrace,
		StopGrace:      cfg.Supervisor.StopGrace,
		MaxRetries:     cfg.Supervisor.MaxRetries,
	},
		supervisor.WithLogger(observability.CLILogger),
		supervisor.WithClassifier(classifier),
	), nil
}
