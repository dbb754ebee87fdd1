package logscan

import (
	"bufio"
	"bytes"
	"regexp"
	"strings"
)

// maxLineBytes bounds single-line scanning; provider CLIs can emit very
// long JSON lines and only the leading portion carries the signature.
const maxLineBytes = 64 * 1024

// Match is a classified log line.
type Match struct {
	// Code is the matched signature's reason code.
	Code string

	// Hint is the matched signature's remediation note, if any.
	Hint string

	// Line is the log line that matched, trimmed.
	Line string
}

type compiledSignature struct {
	code string
	hint string
	re   *regexp.Regexp
}

// Classifier holds compiled signature tables and classifies log content
// into reason codes. Safe for concurrent use.
type Classifier struct {
	defaults  []compiledSignature
	providers map[string][]compiledSignature
}

// New validates and compiles a signature table configuration.
func New(cfg Config) (*Classifier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Classifier{
		providers: make(map[string][]compiledSignature, len(cfg.Providers)),
	}
	var err error
	if c.defaults, err = compileTable(cfg.Defaults); err != nil {
		return nil, err
	}
	for provider, sigs := range cfg.Providers {
		compiled, err := compileTable(sigs)
		if err != nil {
			return nil, err
		}
		c.providers[provider] = compiled
	}
	return c, nil
}

func compileTable(sigs []Signature) ([]compiledSignature, error) {
	out := make([]compiledSignature, 0, len(sigs))
	for _, s := range sigs {
		re, err := regexp.Compile(strings.TrimSpace(s.Pattern))
		if err != nil {
			return nil, err
		}
		out = append(out, compiledSignature{
			code: strings.TrimSpace(s.Code),
			hint: s.Hint,
			re:   re,
		})
	}
	return out, nil
}

// Classify tests a single log line against the provider's table, then
// the defaults. Table order decides ties.
func (c *Classifier) Classify(provider string, line []byte) (Match, bool) {
	if len(line) > maxLineBytes {
		line = line[:maxLineBytes]
	}
	for _, s := range c.providers[provider] {
		if s.re.Match(line) {
			return Match{Code: s.code, Hint: s.hint, Line: trimLine(line)}, true
		}
	}
	for _, s := range c.defaults {
		if s.re.Match(line) {
			return Match{Code: s.code, Hint: s.hint, Line: trimLine(line)}, true
		}
	}
	return Match{}, false
}

// ScanTail classifies a log tail, newest line first, returning the most
// recent match. Outcome enrichment cares about why the process died,
// and the last matching line is closest to the exit.
func (c *Classifier) ScanTail(provider string, tail []byte) (Match, bool) {
	lines := splitLines(tail)
	for i := len(lines) - 1; i >= 0; i-- {
		if m, ok := c.Classify(provider, lines[i]); ok {
			return m, true
		}
	}
	return Match{}, false
}

func splitLines(data []byte) [][]byte {
	var lines [][]byte
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for sc.Scan() {
		line := make([]byte, len(sc.Bytes()))
		copy(line, sc.Bytes())
		lines = append(lines, line)
	}
	return lines
}

func trimLine(line []byte) string {
	return strings.TrimSpace(string(line))
}
