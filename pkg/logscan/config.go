// Package logscan classifies provider log output into stable reason
// codes using per-provider signature tables.
//
// Provider CLIs report rate limits, quota exhaustion, and expired
// credentials as free-form log lines. Keeping the detection patterns as
// data (regex to reason code) instead of scattered greps lets the
// default tables ship embedded and lets operators extend them per
// deployment.
package logscan

import (
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Signature maps a log line pattern to a stable reason code.
type Signature struct {
	// Code is the stable reason code reported when the pattern matches.
	Code string `json:"code" yaml:"code"`

	// Pattern is a Go regular expression tested against single log lines.
	Pattern string `json:"pattern" yaml:"pattern"`

	// Hint is an optional operator-facing remediation note.
	Hint string `json:"hint,omitempty" yaml:"hint,omitempty"`
}

// Config holds signature tables: shared defaults plus per-provider
// extensions. Provider tables are consulted before the defaults so a
// provider can shadow a generic pattern with a more specific one.
type Config struct {
	Defaults  []Signature            `json:"defaults" yaml:"defaults"`
	Providers map[string][]Signature `json:"providers,omitempty" yaml:"providers,omitempty"`
}

// ParseConfig parses a YAML signature table document.
func ParseConfig(data []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse signature tables: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks every signature for a code and a compilable pattern.
func (c *Config) Validate() error {
	if err := validateTable("defaults", c.Defaults); err != nil {
		return err
	}
	for provider, sigs := range c.Providers {
		if strings.TrimSpace(provider) == "" {
			return fmt.Errorf("providers table has an empty provider name")
		}
		if err := validateTable("providers."+provider, sigs); err != nil {
			return err
		}
	}
	return nil
}

func validateTable(table string, sigs []Signature) error {
	for i := range sigs {
		s := sigs[i]
		s.Code = strings.TrimSpace(s.Code)
		s.Pattern = strings.TrimSpace(s.Pattern)
		sigs[i] = s

		if s.Code == "" {
			return fmt.Errorf("%s[%d].code is required", table, i)
		}
		if s.Pattern == "" {
			return fmt.Errorf("%s[%d].pattern is required", table, i)
		}
		if _, err := regexp.Compile(s.Pattern); err != nil {
			return fmt.Errorf("%s[%d].pattern invalid: %w", table, i, err)
		}
	}
	return nil
}

// Merge overlays o on top of c: o's defaults are appended after c's,
// and o's provider tables are appended after c's per provider. Used to
// extend the embedded tables with operator-supplied ones.
func (c Config) Merge(o Config) Config {
	out := Config{
		Defaults:  append(append([]Signature{}, c.Defaults...), o.Defaults...),
		Providers: make(map[string][]Signature, len(c.Providers)+len(o.Providers)),
	}
	for provider, sigs := range c.Providers {
		out.Providers[provider] = append([]Signature{}, sigs...)
	}
	for provider, sigs := range o.Providers {
		out.Providers[provider] = append(out.Providers[provider], sigs...)
	}
	return out
}
