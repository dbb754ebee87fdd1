package gate

import (
	"context"
	"fmt"
	"strings"

	"github.com/3leaps/dxrunner/pkg/output"
)

// DriftMarker is the greppable token every model-drift refusal carries.
// Operators alert on the literal string, so it never changes.
const DriftMarker = "MODEL_DRIFT_VIOLATION"

// ModelDriftGate blocks dispatches that request a model outside the
// canonical/fallback chain. Agents under quota pressure will happily
// run on whatever model answers; this gate is what keeps "ran on the
// approved model" a property of the system instead of a hope.
//
// The explicit override lets an operator accept the substitution for
// one dispatch; the refusal-or-override is always recorded.
type ModelDriftGate struct{}

// Name returns the gate name.
func (g *ModelDriftGate) Name() string { return "model" }

// Kind reports that the gate runs before dispatch.
func (g *ModelDriftGate) Kind() Kind { return KindPreDispatch }

// Run evaluates the gate.
func (g *ModelDriftGate) Run(ctx context.Context, in *Input) []Result {
	requested := strings.TrimSpace(in.RequestedModel)

	if requested == "" || requested == in.CanonicalModel {
		return []Result{{
			Gate:     g.Name(),
			Passed:   true,
			Severity: SeverityError,
			Reason:   fmt.Sprintf("canonical model %s", in.CanonicalModel),
		}}
	}

	for _, m := range in.FallbackModels {
		if requested == strings.TrimSpace(m) {
			return []Result{{
				Gate:     g.Name(),
				Passed:   true,
				Severity: SeverityError,
				Reason:   fmt.Sprintf("%s is within the fallback chain for %s", requested, in.CanonicalModel),
			}}
		}
	}

	if in.AllowModelOverride {
		return []Result{{
			Gate:     g.Name(),
			Passed:   true,
			Severity: SeverityWarning,
			Reason:   fmt.Sprintf("override accepted: requested %s, canonical %s", requested, in.CanonicalModel),
		}}
	}

	return []Result{{
		Gate:     g.Name(),
		Severity: SeverityError,
		Code:     output.CodeModelDrift,
		Reason:   fmt.Sprintf("%s: requested %s, canonical %s", DriftMarker, requested, in.CanonicalModel),
	}}
}
