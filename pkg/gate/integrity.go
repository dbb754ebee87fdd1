package gate

import (
	"context"
	"fmt"

	"github.com/3leaps/dxrunner/pkg/gitstate"
	"github.com/3leaps/dxrunner/pkg/output"
)

// IntegrityGate audits a finished job's completion claim: the commit it
// says it produced must exist in the workspace repository and must have
// landed on the target branch. The two failure modes carry distinct
// codes because they mean different things — a missing commit is a
// fabricated or garbage-collected claim, a present-but-unlanded commit
// is unfinished integration.
type IntegrityGate struct{}

// Name returns the gate name.
func (g *IntegrityGate) Name() string { return "integrity" }

// Kind reports that the gate audits after the fact.
func (g *IntegrityGate) Kind() Kind { return KindPostHoc }

// Run evaluates the gate.
func (g *IntegrityGate) Run(ctx context.Context, in *Input) []Result {
	if in.CompletionCommit == "" {
		return []Result{{
			Gate:     g.Name(),
			Check:    "commit",
			Severity: SeverityError,
			Code:     output.CodeMissingCommit,
			Reason:   "no completion commit claimed",
		}}
	}

	repo := gitstate.Open(in.Workspace).WithTimeout(in.GitTimeout)

	exists, err := repo.CommitExists(ctx, in.CompletionCommit)
	if err != nil {
		return []Result{{
			Gate:     g.Name(),
			Check:    "commit",
			Severity: SeverityError,
			Code:     output.CodeIntegrityUndeterminable,
			Reason:   fmt.Sprintf("cannot verify commit %s: %v", in.CompletionCommit, err),
		}}
	}
	if !exists {
		return []Result{{
			Gate:     g.Name(),
			Check:    "commit",
			Severity: SeverityError,
			Code:     output.CodeMissingCommit,
			Reason:   fmt.Sprintf("claimed commit %s does not exist in %s", in.CompletionCommit, in.Workspace),
		}}
	}

	results := []Result{{
		Gate:     g.Name(),
		Check:    "commit",
		Passed:   true,
		Severity: SeverityError,
		Reason:   fmt.Sprintf("commit %s exists", in.CompletionCommit),
	}}

	target := in.TargetBranch
	if target == "" {
		target = "main"
	}

	landed, err := repo.IsAncestor(ctx, in.CompletionCommit, target)
	if err != nil {
		results = append(results, Result{
			Gate:     g.Name(),
			Check:    "ancestry",
			Severity: SeverityError,
			Code:     output.CodeIntegrityUndeterminable,
			Reason:   fmt.Sprintf("cannot determine whether %s landed on %s: %v", in.CompletionCommit, target, err),
		})
		return results
	}
	if !landed {
		results = append(results, Result{
			Gate:     g.Name(),
			Check:    "ancestry",
			Severity: SeverityError,
			Code:     output.CodeNotAncestor,
			Reason:   fmt.Sprintf("commit %s exists but has not landed on %s", in.CompletionCommit, target),
		})
		return results
	}

	results = append(results, Result{
		Gate:     g.Name(),
		Check:    "ancestry",
		Passed:   true,
		Severity: SeverityError,
		Reason:   fmt.Sprintf("commit %s landed on %s", in.CompletionCommit, target),
	})
	return results
}
