// Package preflight aggregates per-provider readiness checks into one
// report. It answers "can this provider take a job right now" before
// anything is dispatched: binary present, credentials resolvable,
// model reachable.
//
// Severity decides what blocks: an error-severity failure fails the
// provider, a warning annotates it. The boundary is configurable per
// sub-check; defaults block on missing binary and unresolved auth.
package preflight

import (
	"context"
	"fmt"
	"sort"

	"github.com/3leaps/dxrunner/pkg/output"
	"github.com/3leaps/dxrunner/pkg/provider"
)

// Report is the aggregated preflight verdict across providers.
type Report struct {
	// Providers holds one entry per checked provider, sorted by name.
	Providers []ProviderReport `json:"providers"`
}

// ProviderReport is one provider's verdict.
type ProviderReport struct {
	Provider string                        `json:"provider"`
	Results  []output.PreflightCheckResult `json:"results"`
}

// Passed reports whether no error-severity sub-check failed.
func (p ProviderReport) Passed() bool {
	for _, r := range p.Results {
		if !r.Passed && r.Severity == provider.SeverityError {
			return false
		}
	}
	return true
}

// Warnings returns the failing warning-severity sub-checks.
func (p ProviderReport) Warnings() []output.PreflightCheckResult {
	var out []output.PreflightCheckResult
	for _, r := range p.Results {
		if !r.Passed && r.Severity == provider.SeverityWarning {
			out = append(out, r)
		}
	}
	return out
}

// Passed reports whether every provider passed.
func (r Report) Passed() bool {
	for _, p := range r.Providers {
		if !p.Passed() {
			return false
		}
	}
	return true
}

// Record converts one provider's results into the JSONL payload.
func (p ProviderReport) Record() *output.PreflightRecord {
	return &output.PreflightRecord{Results: p.Results}
}

// Run executes preflight for every given adapter. Adapters report
// expected absences as failing checks, never as errors, so Run only
// fails on programming errors (no adapters).
func Run(ctx context.Context, adapters map[provider.Type]provider.Adapter) (*Report, error) {
	if len(adapters) == 0 {
		return nil, fmt.Errorf("no provider adapters configured")
	}

	report := &Report{Providers: make([]ProviderReport, 0, len(adapters))}
	for typ, adapter := range adapters {
		pr := ProviderReport{Provider: string(typ)}
		for _, check := range adapter.Preflight(ctx) {
			pr.Results = append(pr.Results, output.PreflightCheckResult{
				Check:    check.Check,
				Passed:   check.Passed,
				Severity: check.Severity,
				Code:     check.Code,
				Detail:   check.Detail,
			})
		}
		report.Providers = append(report.Providers, pr)
	}

	sort.Slice(report.Providers, func(i, j int) bool {
		return report.Providers[i].Provider < report.Providers[j].Provider
	})
	return report, nil
}
