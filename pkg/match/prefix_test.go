package match

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDerivePrefix(t *testing.T) {
	tests := []struct {
		name     string
		pattern  string
		expected string
	}{
		{"double star tail", "/srv/work/**", "/srv/work/"},
		{"wildcard segment", "/srv/work/gt-*/repo", "/srv/work/"},
		{"no metacharacters", "/srv/work", "/srv/work"},
		{"leading double star", "**/scratch", ""},
		{"wildcard in first segment", "srv*/work", ""},
		{"question mark", "/srv/w?rk/**", "/srv/"},
		{"character class", "/srv/[ab]/x", "/srv/"},
		{"brace", "/srv/{a,b}/x", "/srv/"},
		{"root pattern", "/**", "/"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, DerivePrefix(tt.pattern))
		})
	}
}

func TestDerivePrefixes(t *testing.T) {
	tests := []struct {
		name     string
		patterns []string
		expected []string
	}{
		{
			name:     "dedupes shared prefix",
			patterns: []string{"/srv/work/**", "/srv/work/gt-*"},
			expected: []string{"/srv/work/"},
		},
		{
			name:     "distinct prefixes sorted",
			patterns: []string{"/srv/work/**", "/opt/jobs/**"},
			expected: []string{"/opt/jobs/", "/srv/work/"},
		},
		{
			name:     "shorter prefix shadows longer",
			patterns: []string{"/srv/**", "/srv/work/**"},
			expected: []string{"/srv/"},
		},
		{
			name:     "empty prefix survives",
			patterns: []string{"**/scratch"},
			expected: []string{""},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, DerivePrefixes(tt.patterns))
		})
	}
}

func TestNormalizePattern(t *testing.T) {
	tests := []struct {
		name     string
		pattern  string
		expected string
	}{
		{"already clean", "/srv/work/**", "/srv/work/**"},
		{"backslashes", `\srv\work\**`, "/srv/work/**"},
		{"doubled slashes", "/srv//work/**", "/srv/work/**"},
		{"trailing slash", "/srv/work/", "/srv/work"},
		{"bare root", "/", "/"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizePattern(tt.pattern))
		})
	}
}
