// Package match evaluates workspace paths against allow and deny rules
// using doublestar glob semantics.
//
// The permission gate compiles its path allow-list into a Matcher once
// and asks it whether a candidate workspace is inside the allowed area.
// A path is allowed when it matches an allow pattern directly OR lives
// underneath an allow pattern's static prefix; deny patterns veto either
// way. The mutation scanner reuses the same matcher type for its ignore
// rules.
package match

import (
	"errors"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Matcher evaluates filesystem paths against allow/deny patterns.
//
// A Matcher is safe for concurrent use after creation.
type Matcher struct {
	allows []pattern
	denies []pattern
}

// pattern holds a validated pattern with its derived static prefix.
type pattern struct {
	raw    string
	prefix string
}

// Config configures a Matcher.
type Config struct {
	// Allows are glob patterns a path must satisfy (at least one).
	// Required: at least one allow pattern must be specified.
	Allows []string

	// Denies are glob patterns a path must not satisfy (any).
	// Optional: if empty, no denies are applied.
	Denies []string
}

// Errors returned by Matcher operations.
var (
	// ErrNoAllows is returned when no allow patterns are provided.
	ErrNoAllows = errors.New("at least one allow pattern is required")

	// ErrInvalidPattern is returned when a pattern cannot be compiled.
	ErrInvalidPattern = errors.New("invalid glob pattern")
)

// PatternError wraps pattern-related errors with context.
type PatternError struct {
	Pattern string
	Err     error
}

func (e *PatternError) Error() string {
	return "pattern " + e.Pattern + ": " + e.Err.Error()
}

func (e *PatternError) Unwrap() error {
	return e.Err
}

// New creates a Matcher from the given configuration.
//
// Patterns are cleaned to slash-separated form. Returns an error if no
// allow patterns are provided or any pattern fails to compile.
func New(cfg Config) (*Matcher, error) {
	if len(cfg.Allows) == 0 {
		return nil, ErrNoAllows
	}

	allows, err := compile(cfg.Allows)
	if err != nil {
		return nil, err
	}
	denies, err := compile(cfg.Denies)
	if err != nil {
		return nil, err
	}

	return &Matcher{allows: allows, denies: denies}, nil
}

func compile(raw []string) ([]pattern, error) {
	out := make([]pattern, 0, len(raw))
	for _, r := range raw {
		normalized := NormalizePattern(r)
		if !doublestar.ValidatePattern(normalized) {
			return nil, &PatternError{Pattern: r, Err: ErrInvalidPattern}
		}
		out = append(out, pattern{
			raw:    normalized,
			prefix: DerivePrefix(normalized),
		})
	}
	return out, nil
}

// Allowed reports whether path is inside the allowed area.
//
// A path qualifies when it matches at least one allow pattern, or is
// equal to or underneath an allow pattern's static prefix. The prefix
// rule makes "/srv/work/**" admit "/srv/work" itself and keeps the
// allow-list usable as a plain path-prefix list. Deny patterns veto a
// qualifying path.
func (m *Matcher) Allowed(path string) bool {
	p := NormalizePath(path)

	allowed := false
	for _, a := range m.allows {
		if matchPattern(a.raw, p) || underPrefix(a.prefix, p) {
			allowed = true
			break
		}
	}
	if !allowed {
		return false
	}

	for _, d := range m.denies {
		if matchPattern(d.raw, p) {
			return false
		}
	}
	return true
}

// AllowPatterns returns the normalized allow patterns.
func (m *Matcher) AllowPatterns() []string {
	patterns := make([]string, len(m.allows))
	for i, p := range m.allows {
		patterns[i] = p.raw
	}
	return patterns
}

// DenyPatterns returns the normalized deny patterns.
func (m *Matcher) DenyPatterns() []string {
	patterns := make([]string, len(m.denies))
	for i, p := range m.denies {
		patterns[i] = p.raw
	}
	return patterns
}

// Prefixes returns the deduplicated static prefixes of the allow
// patterns, used for human-readable gate reports. An empty string means
// at least one pattern has no static prefix and nothing can be reported
// beyond the pattern itself.
func (m *Matcher) Prefixes() []string {
	raw := make([]string, len(m.allows))
	for i, p := range m.allows {
		raw[i] = p.raw
	}
	return DerivePrefixes(raw)
}

// NormalizePath cleans a filesystem path to slash-separated form for
// matching. Trailing slashes are dropped so "/srv/work/" and
// "/srv/work" compare equal.
func NormalizePath(path string) string {
	p := filepath.ToSlash(filepath.Clean(path))
	if len(p) > 1 {
		p = strings.TrimSuffix(p, "/")
	}
	return p
}

// underPrefix reports whether p equals prefix or is a descendant of it.
// An empty prefix never matches; containment is segment-aware so
// "/srv/work" does not admit "/srv/workspace".
func underPrefix(prefix, p string) bool {
	if prefix == "" {
		return false
	}
	pfx := strings.TrimSuffix(prefix, "/")
	if pfx == "" {
		return p == "/" || strings.HasPrefix(p, "/")
	}
	if p == pfx {
		return true
	}
	return strings.HasPrefix(p, pfx+"/")
}

// matchPattern matches a path against a doublestar pattern.
func matchPattern(pattern, path string) bool {
	matched, err := doublestar.Match(pattern, path)
	if err != nil {
		// Pattern was validated at construction time, so this shouldn't happen
		return false
	}
	return matched
}
