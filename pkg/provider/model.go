package provider

import (
	"fmt"
	"strings"
)

// ModelBasis is the selection basis of a model resolution.
type ModelBasis string

const (
	// BasisPreferred means the canonical model was selected.
	BasisPreferred ModelBasis = "preferred"

	// BasisFallback means a model from the configured fallback chain
	// was selected.
	BasisFallback ModelBasis = "fallback"

	// BasisUnavailable means the request resolved to nothing. Resolution
	// fails closed: no silent switch to an arbitrary other model.
	BasisUnavailable ModelBasis = "unavailable"
)

// ModelResolution is the outcome of resolving a requested model against
// a provider's configured chain.
type ModelResolution struct {
	// Model is the resolved model identifier, empty when unavailable.
	Model string

	// Basis is the selection basis.
	Basis ModelBasis

	// Reason explains a non-preferred selection.
	Reason string
}

// ResolveModel applies the canonical/fallback-chain policy. An empty
// request selects the canonical model. A request naming the canonical
// model is preferred. A request inside the fallback chain is a
// fallback. Anything else is unavailable: the chain is the bound, and
// substitution outside it is exactly what the model-drift gate exists
// to catch.
//
// Deterministic: same configuration and request always yield the same
// resolution.
func (c Config) ResolveModel(requested string) ModelResolution {
	requested = strings.TrimSpace(requested)

	if requested == "" || requested == c.CanonicalModel {
		if c.CanonicalModel == "" {
			return ModelResolution{
				Basis:  BasisUnavailable,
				Reason: "no canonical model configured",
			}
		}
		return ModelResolution{Model: c.CanonicalModel, Basis: BasisPreferred}
	}

	for _, m := range c.FallbackModels {
		if requested == strings.TrimSpace(m) {
			return ModelResolution{
				Model:  requested,
				Basis:  BasisFallback,
				Reason: fmt.Sprintf("requested %s is in the fallback chain for canonical %s", requested, c.CanonicalModel),
			}
		}
	}

	return ModelResolution{
		Basis:  BasisUnavailable,
		Reason: fmt.Sprintf("requested %s is outside the configured chain (canonical %s)", requested, c.CanonicalModel),
	}
}
