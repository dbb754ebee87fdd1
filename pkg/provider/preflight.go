package provider

import (
	"context"
	"errors"
	"fmt"
	"os/exec"

	"github.com/3leaps/dxrunner/pkg/authsource"
	"github.com/3leaps/dxrunner/pkg/output"
	"github.com/3leaps/dxrunner/pkg/probe"
)

// PreflightChecks executes the sub-checks every adapter shares: binary
// on PATH, credential chain resolvable, resolver command present when
// the chain needs one, and a bounded reachability probe of the
// canonical model. probeSpec builds the provider-specific probe
// invocation.
//
// Expected absences are verdicts, never errors, and the function is
// idempotent: two runs against an unchanged environment produce the
// same verdicts.
func PreflightChecks(ctx context.Context, cfg Config, probeSpec func(model string) probe.Spec) []CheckResult {
	results := make([]CheckResult, 0, 4)

	binaryOK := false
	if _, err := exec.LookPath(cfg.Binary); err != nil {
		results = append(results, CheckResult{
			Check:    CheckBinary,
			Severity: cfg.SeverityFor(CheckBinary),
			Code:     output.CodeBinaryMissing,
			Detail:   fmt.Sprintf("%s not found on PATH", cfg.Binary),
		})
	} else {
		binaryOK = true
		results = append(results, CheckResult{
			Check:    CheckBinary,
			Passed:   true,
			Severity: cfg.SeverityFor(CheckBinary),
			Detail:   cfg.Binary,
		})
	}

	if cfg.Auth.NeedsResolver() {
		if cfg.Auth.HasResolver() {
			results = append(results, CheckResult{
				Check:    CheckResolver,
				Passed:   true,
				Severity: cfg.SeverityFor(CheckResolver),
				Detail:   cfg.Auth.ResolverCommand,
			})
		} else {
			results = append(results, CheckResult{
				Check:    CheckResolver,
				Severity: cfg.SeverityFor(CheckResolver),
				Code:     output.CodeResolverMissing,
				Detail:   fmt.Sprintf("resolver command %q not found on PATH", cfg.Auth.ResolverCommand),
			})
		}
	}

	resolved, err := cfg.Auth.Resolve(ctx)
	if err != nil {
		code := output.CodeAuthUnresolved
		if errors.Is(err, authsource.ErrResolverMissing) {
			code = output.CodeResolverMissing
		}
		results = append(results, CheckResult{
			Check:    CheckAuth,
			Severity: cfg.SeverityFor(CheckAuth),
			Code:     code,
			Detail:   err.Error(),
		})
	} else {
		results = append(results, CheckResult{
			Check:    CheckAuth,
			Passed:   true,
			Severity: cfg.SeverityFor(CheckAuth),
			Detail:   fmt.Sprintf("source=%s (%s)", resolved.Strategy, resolved.Detail),
		})
	}

	// The reachability probe needs the binary; with it missing the
	// verdict would only repeat the binary check.
	if binaryOK {
		res := probe.Run(ctx, probeSpec(cfg.CanonicalModel))
		check := CheckResult{
			Check:    CheckModel,
			Passed:   res.OK,
			Severity: cfg.SeverityFor(CheckModel),
			Detail:   res.Detail,
		}
		if !res.OK {
			check.Code = res.Code
		}
		results = append(results, check)
	}

	return results
}
