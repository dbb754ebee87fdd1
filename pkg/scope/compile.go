// Package scope compiles the permission scope a job runs under: which
// workspace paths dispatch may target and how many file mutations the
// job may perform.
//
// The compiled Scope is pinned into the job contract at dispatch time.
// Its canonical hash lets a later restart detect that the operator
// changed the scope configuration underneath a live job.
package scope

import (
	"errors"
	"fmt"

	"github.com/3leaps/dxrunner/pkg/match"
)

// Config is the raw permission scope configuration.
type Config struct {
	// AllowedPaths are doublestar glob patterns naming the workspace
	// roots dispatch may target. Required.
	AllowedPaths []string `json:"allowed_paths" mapstructure:"allowed_paths"`

	// DeniedPaths veto workspaces even inside an allowed root. Optional.
	DeniedPaths []string `json:"denied_paths,omitempty" mapstructure:"denied_paths"`

	// MutationBudget caps the number of file mutations a job may record
	// before the post-hoc scope gate fails. Zero means unlimited.
	MutationBudget int `json:"mutation_budget,omitempty" mapstructure:"mutation_budget"`
}

// Errors returned by Compile.
var (
	ErrNoAllowedPaths   = errors.New("scope.allowed_paths must not be empty")
	ErrNegativeMutation = errors.New("scope.mutation_budget must be >= 0")
)

// Scope is a compiled, queryable permission scope.
type Scope struct {
	matcher *match.Matcher
	budget  int
	hash    string
}

// Compile validates a scope configuration and compiles it into a Scope.
func Compile(cfg Config) (*Scope, error) {
	if len(cfg.AllowedPaths) == 0 {
		return nil, ErrNoAllowedPaths
	}
	if cfg.MutationBudget < 0 {
		return nil, ErrNegativeMutation
	}

	m, err := match.New(match.Config{Allows: cfg.AllowedPaths, Denies: cfg.DeniedPaths})
	if err != nil {
		return nil, fmt.Errorf("compile scope patterns: %w", err)
	}

	hash, err := Hash(cfg)
	if err != nil {
		return nil, err
	}

	return &Scope{matcher: m, budget: cfg.MutationBudget, hash: hash}, nil
}

// AllowsWorkspace reports whether the workspace path is inside the
// allowed area.
func (s *Scope) AllowsWorkspace(path string) bool {
	return s.matcher.Allowed(path)
}

// MutationBudget returns the mutation cap, zero meaning unlimited.
func (s *Scope) MutationBudget() int {
	return s.budget
}

// WithinBudget reports whether the observed mutation count respects the
// budget.
func (s *Scope) WithinBudget(mutations int) bool {
	if s.budget == 0 {
		return true
	}
	return mutations <= s.budget
}

// Hash returns the canonical scope hash pinned into the job contract.
func (s *Scope) Hash() string {
	return s.hash
}

// AllowedPaths returns the normalized allow patterns.
func (s *Scope) AllowedPaths() []string {
	return s.matcher.AllowPatterns()
}

// DeniedPaths returns the normalized deny patterns.
func (s *Scope) DeniedPaths() []string {
	return s.matcher.DenyPatterns()
}
