package gate

import (
	"context"
	"fmt"

	"github.com/3leaps/dxrunner/pkg/gitstate"
	"github.com/3leaps/dxrunner/pkg/output"
)

// BaselineGate verifies the workspace contains the required baseline
// commit before dispatch: the baseline must exist in the repository and
// be an ancestor of (or equal to) the checked-out HEAD. A workspace
// behind the baseline would have the agent rediscover or conflict with
// work that already landed.
//
// Undeterminable ancestry (not a repository, git unavailable, shallow
// history) fails closed.
type BaselineGate struct{}

// Name returns the gate name.
func (g *BaselineGate) Name() string { return "baseline" }

// Kind reports that the gate runs before dispatch.
func (g *BaselineGate) Kind() Kind { return KindPreDispatch }

// Run evaluates the gate.
func (g *BaselineGate) Run(ctx context.Context, in *Input) []Result {
	if in.BaselineRef == "" {
		// No baseline declared: nothing to hold the workspace to.
		return []Result{{Gate: g.Name(), Passed: true, Severity: SeverityError, Reason: "no baseline declared"}}
	}

	repo := gitstate.Open(in.Workspace).WithTimeout(in.GitTimeout)

	exists, err := repo.CommitExists(ctx, in.BaselineRef)
	if err != nil {
		return []Result{{
			Gate:     g.Name(),
			Severity: SeverityError,
			Code:     output.CodeBaselineUndeterminable,
			Reason:   fmt.Sprintf("cannot verify baseline %s: %v", in.BaselineRef, err),
		}}
	}
	if !exists {
		return []Result{{
			Gate:     g.Name(),
			Severity: SeverityError,
			Code:     output.CodeBaselineUndeterminable,
			Reason:   fmt.Sprintf("baseline %s is not present in %s", in.BaselineRef, in.Workspace),
		}}
	}

	head, err := repo.Head(ctx)
	if err != nil {
		return []Result{{
			Gate:     g.Name(),
			Severity: SeverityError,
			Code:     output.CodeBaselineUndeterminable,
			Reason:   fmt.Sprintf("cannot resolve workspace HEAD: %v", err),
		}}
	}

	ok, err := repo.IsAncestor(ctx, in.BaselineRef, head)
	if err != nil {
		return []Result{{
			Gate:     g.Name(),
			Severity: SeverityError,
			Code:     output.CodeBaselineUndeterminable,
			Reason:   fmt.Sprintf("cannot determine ancestry of %s: %v", in.BaselineRef, err),
		}}
	}
	if !ok {
		return []Result{{
			Gate:     g.Name(),
			Severity: SeverityError,
			Code:     output.CodeBaselineNotAncestor,
			Reason:   fmt.Sprintf("workspace HEAD %s does not contain baseline %s", head, in.BaselineRef),
		}}
	}

	return []Result{{
		Gate:     g.Name(),
		Passed:   true,
		Severity: SeverityError,
		Reason:   fmt.Sprintf("baseline %s is contained in HEAD %s", in.BaselineRef, head),
	}}
}
