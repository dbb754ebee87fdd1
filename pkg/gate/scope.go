package gate

import (
	"context"
	"fmt"

	"github.com/3leaps/dxrunner/pkg/output"
)

// ScopeGate enforces the permission scope's workspace allow-list before
// dispatch. The budget half of the scope is audited after the fact by
// MutationGate, since mutations can only be counted once they happen.
type ScopeGate struct{}

// Name returns the gate name.
func (g *ScopeGate) Name() string { return "scope" }

// Kind reports that the gate runs before dispatch.
func (g *ScopeGate) Kind() Kind { return KindPreDispatch }

// Run evaluates the gate.
func (g *ScopeGate) Run(ctx context.Context, in *Input) []Result {
	if in.Scope == nil {
		return []Result{{
			Gate:     g.Name(),
			Check:    "workspace",
			Severity: SeverityError,
			Code:     output.CodePathNotAllowed,
			Reason:   "no permission scope configured",
		}}
	}

	if !in.Scope.AllowsWorkspace(in.Workspace) {
		return []Result{{
			Gate:     g.Name(),
			Check:    "workspace",
			Severity: SeverityError,
			Code:     output.CodePathNotAllowed,
			Reason:   fmt.Sprintf("workspace %s is outside the allowed paths", in.Workspace),
		}}
	}

	return []Result{{
		Gate:     g.Name(),
		Check:    "workspace",
		Passed:   true,
		Severity: SeverityError,
		Reason:   fmt.Sprintf("workspace %s is within scope", in.Workspace),
	}}
}

// MutationGate audits the observed mutation count against the scope's
// budget after a job finishes.
type MutationGate struct{}

// Name returns the gate name.
func (g *MutationGate) Name() string { return "scope" }

// Kind reports that the gate audits after the fact.
func (g *MutationGate) Kind() Kind { return KindPostHoc }

// Run evaluates the gate.
func (g *MutationGate) Run(ctx context.Context, in *Input) []Result {
	if in.Scope == nil || in.Scope.MutationBudget() == 0 {
		return []Result{{
			Gate:     g.Name(),
			Check:    "budget",
			Passed:   true,
			Severity: SeverityError,
			Reason:   "no mutation budget configured",
		}}
	}

	if !in.Scope.WithinBudget(in.MutationCount) {
		return []Result{{
			Gate:     g.Name(),
			Check:    "budget",
			Severity: SeverityError,
			Code:     output.CodeMutationBudgetExceeded,
			Reason:   fmt.Sprintf("observed %d mutations against a budget of %d", in.MutationCount, in.Scope.MutationBudget()),
		}}
	}

	return []Result{{
		Gate:     g.Name(),
		Check:    "budget",
		Passed:   true,
		Severity: SeverityError,
		Reason:   fmt.Sprintf("%d mutations within budget %d", in.MutationCount, in.Scope.MutationBudget()),
	}}
}
