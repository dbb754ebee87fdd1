// Package authsource resolves provider credentials through a fixed
// priority chain of acquisition strategies: direct token, token file,
// indirect secret reference, and a default secret reference as last
// resort. The first strategy that yields a value wins.
//
// The chain is resolved once at startup and the result is handed to the
// adapter constructor; nothing re-reads the environment mid-run. The
// resolved value is injected into the child process environment only —
// artifact records carry the strategy NAME, never the value.
package authsource

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// Strategy names the acquisition strategy that produced a credential.
// These names are recorded in job contracts.
type Strategy string

const (
	// StrategyDirect reads the token from an environment variable.
	StrategyDirect Strategy = "direct"

	// StrategyTokenFile reads the token from a file.
	StrategyTokenFile Strategy = "token_file"

	// StrategySecretRef resolves an indirect reference through the
	// external resolver command.
	StrategySecretRef Strategy = "secret_ref"

	// StrategyDefaultRef resolves the configured default reference as
	// the last resort.
	StrategyDefaultRef Strategy = "default_ref"
)

// DefaultResolverTimeout bounds one resolver command invocation.
const DefaultResolverTimeout = 30 * time.Second

// Sentinel errors.
var (
	// ErrUnresolved indicates no strategy in the chain yielded a value.
	ErrUnresolved = errors.New("no credential source resolved")

	// ErrResolverMissing indicates a secret reference is configured but
	// the resolver command is not executable.
	ErrResolverMissing = errors.New("secret resolver command unavailable")
)

// Chain is the credential acquisition configuration for one provider.
// Strategies are attempted in the fixed order direct, token file,
// secret reference, default reference; unset strategies are skipped.
type Chain struct {
	// EnvVar is the environment variable holding a direct token.
	EnvVar string `json:"env_var,omitempty" mapstructure:"env_var"`

	// TokenFile is a file holding the token.
	TokenFile string `json:"token_file,omitempty" mapstructure:"token_file"`

	// SecretRef is an opaque reference handed to the resolver command.
	SecretRef string `json:"secret_ref,omitempty" mapstructure:"secret_ref"`

	// DefaultSecretRef is the reference tried when nothing else matches.
	DefaultSecretRef string `json:"default_secret_ref,omitempty" mapstructure:"default_secret_ref"`

	// ResolverCommand resolves secret references (e.g. "op"). The
	// reference is appended to ResolverArgs.
	ResolverCommand string   `json:"resolver_command,omitempty" mapstructure:"resolver_command"`
	ResolverArgs    []string `json:"resolver_args,omitempty" mapstructure:"resolver_args"`

	// ResolverTimeout bounds one resolver invocation. Zero means
	// DefaultResolverTimeout.
	ResolverTimeout time.Duration `json:"resolver_timeout,omitempty" mapstructure:"resolver_timeout"`
}

// Resolved is a successfully acquired credential.
type Resolved struct {
	// Strategy is the acquisition strategy that matched.
	Strategy Strategy

	// Detail names the matched source (variable name, file path, or
	// reference), safe to log and persist.
	Detail string

	// Value is the secret. Never logged, never persisted.
	Value string
}

// Resolve walks the chain in priority order and returns the first
// credential found. ErrUnresolved when the whole chain comes up empty;
// ErrResolverMissing (wrapped) when an indirect reference is configured
// but the resolver command cannot run.
func (c Chain) Resolve(ctx context.Context) (Resolved, error) {
	if c.EnvVar != "" {
		if v := strings.TrimSpace(os.Getenv(c.EnvVar)); v != "" {
			return Resolved{Strategy: StrategyDirect, Detail: c.EnvVar, Value: v}, nil
		}
	}

	if c.TokenFile != "" {
		b, err := os.ReadFile(c.TokenFile)
		if err == nil {
			if v := strings.TrimSpace(string(b)); v != "" {
				return Resolved{Strategy: StrategyTokenFile, Detail: c.TokenFile, Value: v}, nil
			}
		} else if !os.IsNotExist(err) {
			return Resolved{}, fmt.Errorf("read token file %s: %w", c.TokenFile, err)
		}
	}

	if c.SecretRef != "" {
		v, err := c.resolveRef(ctx, c.SecretRef)
		if err != nil {
			return Resolved{}, err
		}
		if v != "" {
			return Resolved{Strategy: StrategySecretRef, Detail: c.SecretRef, Value: v}, nil
		}
	}

	if c.DefaultSecretRef != "" {
		v, err := c.resolveRef(ctx, c.DefaultSecretRef)
		if err != nil {
			return Resolved{}, err
		}
		if v != "" {
			return Resolved{Strategy: StrategyDefaultRef, Detail: c.DefaultSecretRef, Value: v}, nil
		}
	}

	return Resolved{}, ErrUnresolved
}

// HasResolver reports whether the resolver command is executable. Used
// by preflight to distinguish "resolver missing" from "reference empty".
func (c Chain) HasResolver() bool {
	if c.ResolverCommand == "" {
		return false
	}
	_, err := exec.LookPath(c.ResolverCommand)
	return err == nil
}

// NeedsResolver reports whether the chain is configured with any
// indirect reference.
func (c Chain) NeedsResolver() bool {
	return c.SecretRef != "" || c.DefaultSecretRef != ""
}

func (c Chain) resolveRef(ctx context.Context, ref string) (string, error) {
	if c.ResolverCommand == "" {
		return "", fmt.Errorf("%w: secret reference %q configured without a resolver command", ErrResolverMissing, ref)
	}
	if _, err := exec.LookPath(c.ResolverCommand); err != nil {
		return "", fmt.Errorf("%w: %s", ErrResolverMissing, c.ResolverCommand)
	}

	timeout := c.ResolverTimeout
	if timeout <= 0 {
		timeout = DefaultResolverTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := append(append([]string{}, c.ResolverArgs...), ref)
	cmd := exec.CommandContext(ctx, c.ResolverCommand, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("resolver %s timed out after %s: %w", c.ResolverCommand, timeout, ctx.Err())
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return "", fmt.Errorf("resolve reference %q: %s", ref, msg)
	}

	return strings.TrimSpace(stdout.String()), nil
}

// Mask hides all but the last 4 characters of a secret for display.
func Mask(value string) string {
	if len(value) <= 4 {
		return "****"
	}
	return "****" + value[len(value)-4:]
}
