package scope

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/3leaps/dxrunner/pkg/match"
)

type scopeHashPayload struct {
	AllowedPaths   []string `json:"allowed_paths"`
	DeniedPaths    []string `json:"denied_paths,omitempty"`
	MutationBudget int      `json:"mutation_budget,omitempty"`
}

// Hash computes a canonical hash of a scope configuration for identity
// purposes. Pattern order, duplicates, and surrounding whitespace do
// not affect the hash; pattern meaning does.
func Hash(cfg Config) (string, error) {
	if len(cfg.AllowedPaths) == 0 {
		return "", ErrNoAllowedPaths
	}
	if cfg.MutationBudget < 0 {
		return "", ErrNegativeMutation
	}

	payload := scopeHashPayload{
		AllowedPaths:   normalizePatternList(cfg.AllowedPaths),
		DeniedPaths:    normalizePatternList(cfg.DeniedPaths),
		MutationBudget: cfg.MutationBudget,
	}
	if len(payload.AllowedPaths) == 0 {
		return "", ErrNoAllowedPaths
	}

	b, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal scope hash payload: %w", err)
	}

	sha := sha256.Sum256(b)
	return hex.EncodeToString(sha[:]), nil
}

func normalizePatternList(values []string) []string {
	if len(values) == 0 {
		return nil
	}

	unique := make(map[string]struct{})
	for _, value := range values {
		trimmed := match.NormalizePattern(strings.TrimSpace(value))
		if trimmed == "" {
			continue
		}
		unique[trimmed] = struct{}{}
	}
	if len(unique) == 0 {
		return nil
	}

	out := make([]string, 0, len(unique))
	for value := range unique {
		out = append(out, value)
	}
	// Sort for deterministic output
	sort.Strings(out)
	return out
}
