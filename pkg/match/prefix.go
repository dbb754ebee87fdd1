package match

import (
	"sort"
	"strings"
)

// metaChars are glob metacharacters that end a static prefix.
const metaChars = "*?[{"

// DerivePrefix extracts the longest static directory prefix from a glob
// pattern. The prefix is everything before the segment containing the
// first metacharacter.
//
// Examples:
//
//	"/srv/work/**"          -> "/srv/work/"
//	"/srv/work/gt-*/repo"   -> "/srv/work/"
//	"/srv/work"             -> "/srv/work"
//	"**/scratch"            -> ""
//
// Patterns with no static lead return "". A pattern with no
// metacharacters is its own prefix.
func DerivePrefix(pattern string) string {
	idx := strings.IndexAny(pattern, metaChars)
	if idx == -1 {
		return pattern
	}

	// Cut back to the directory boundary before the metacharacter.
	prefix := pattern[:idx]
	slash := strings.LastIndex(prefix, "/")
	if slash == -1 {
		return ""
	}
	return prefix[:slash+1]
}

// DerivePrefixes derives static prefixes for a set of patterns,
// deduplicated and sorted. Prefixes already covered by a shorter prefix
// in the set are dropped, so callers iterate the minimal cover.
func DerivePrefixes(patterns []string) []string {
	seen := make(map[string]struct{}, len(patterns))
	prefixes := make([]string, 0, len(patterns))
	for _, p := range patterns {
		prefix := DerivePrefix(p)
		if _, ok := seen[prefix]; ok {
			continue
		}
		seen[prefix] = struct{}{}
		prefixes = append(prefixes, prefix)
	}
	sort.Strings(prefixes)

	// Drop prefixes shadowed by an earlier (shorter) one.
	out := prefixes[:0]
	for _, p := range prefixes {
		shadowed := false
		for _, kept := range out {
			if kept != "" && strings.HasPrefix(p, kept) && p != kept {
				shadowed = true
				break
			}
		}
		if !shadowed {
			out = append(out, p)
		}
	}
	return out
}

// NormalizePattern cleans a pattern to slash-separated form without
// collapsing its glob metacharacters. Backslashes are treated as path
// separators, trailing slashes are dropped, and duplicate slashes are
// collapsed.
func NormalizePattern(pattern string) string {
	p := strings.ReplaceAll(pattern, "\\", "/")
	for strings.Contains(p, "//") {
		p = strings.ReplaceAll(p, "//", "/")
	}
	if len(p) > 1 {
		p = strings.TrimSuffix(p, "/")
	}
	return p
}
