package gate

import (
	"context"
	"fmt"
	"os"

	"github.com/3leaps/dxrunner/pkg/output"
)

// EvidenceGate requires a finished job to have left its signoff
// artifact. The gate only checks presence and non-emptiness: the
// artifact's content is reviewed by humans, not parsed by policy.
type EvidenceGate struct{}

// Name returns the gate name.
func (g *EvidenceGate) Name() string { return "evidence" }

// Kind reports that the gate audits after the fact.
func (g *EvidenceGate) Kind() Kind { return KindPostHoc }

// Run evaluates the gate.
func (g *EvidenceGate) Run(ctx context.Context, in *Input) []Result {
	if in.EvidencePath == "" {
		// No evidence requirement declared for this job.
		return []Result{{
			Gate:     g.Name(),
			Passed:   true,
			Severity: SeverityError,
			Reason:   "no evidence artifact required",
		}}
	}

	info, err := os.Stat(in.EvidencePath)
	if err != nil {
		return []Result{{
			Gate:     g.Name(),
			Severity: SeverityError,
			Code:     output.CodeEvidenceMissing,
			Reason:   fmt.Sprintf("evidence artifact %s is absent", in.EvidencePath),
		}}
	}
	if info.IsDir() || info.Size() == 0 {
		return []Result{{
			Gate:     g.Name(),
			Severity: SeverityError,
			Code:     output.CodeEvidenceMissing,
			Reason:   fmt.Sprintf("evidence artifact %s is empty", in.EvidencePath),
		}}
	}

	return []Result{{
		Gate:     g.Name(),
		Passed:   true,
		Severity: SeverityError,
		Reason:   fmt.Sprintf("evidence artifact %s present (%d bytes)", in.EvidencePath, info.Size()),
	}}
}
