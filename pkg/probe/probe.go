// Package probe runs bounded-timeout liveness probes against provider
// CLIs. A probe is a short real invocation of the provider binary with
// a trivial prompt: it answers "can this binary reach this model right
// now" without dispatching a full job.
//
// Probes and preflight are the only operations in the runner permitted
// to block on network I/O, and both enforce an explicit deadline so a
// hung provider never wedges the operator CLI.
package probe

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
	"time"
)

// DefaultTimeout bounds a probe invocation when the spec does not set
// one.
const DefaultTimeout = 30 * time.Second

// maxDetailBytes caps how much probe output is carried into results.
const maxDetailBytes = 512

// Spec describes one probe invocation.
type Spec struct {
	// Binary is the provider CLI to invoke.
	Binary string

	// Args are the probe arguments (non-interactive flags, model).
	Args []string

	// Env is the complete child environment; nil inherits nothing
	// beyond what the caller assembled.
	Env []string

	// Stdin is fed to the child as its standard input.
	Stdin string

	// Timeout bounds the invocation. Zero means DefaultTimeout.
	Timeout time.Duration
}

// Outcome codes.
const (
	CodeOK            = "ok"
	CodeBinaryMissing = "binary_missing"
	CodeTimeout       = "probe_timeout"
	CodeFailed        = "probe_failed"
)

// Result is a probe verdict.
type Result struct {
	// OK reports whether the probe completed successfully.
	OK bool

	// Code is the stable outcome code.
	Code string

	// Detail carries a trimmed slice of the child's output or the
	// failure cause.
	Detail string

	// Elapsed is how long the probe took.
	Elapsed time.Duration
}

// Run executes one probe. It never returns an error: expected failures
// (missing binary, timeout, nonzero exit) are verdicts, not faults.
func Run(ctx context.Context, spec Spec) Result {
	start := time.Now()

	if _, err := exec.LookPath(spec.Binary); err != nil {
		return Result{
			Code:    CodeBinaryMissing,
			Detail:  spec.Binary + " not found on PATH",
			Elapsed: time.Since(start),
		}
	}

	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, spec.Binary, spec.Args...)
	if spec.Env != nil {
		cmd.Env = spec.Env
	}
	if spec.Stdin != "" {
		cmd.Stdin = strings.NewReader(spec.Stdin)
	}

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	elapsed := time.Since(start)

	if ctx.Err() == context.DeadlineExceeded {
		return Result{
			Code:    CodeTimeout,
			Detail:  "probe exceeded " + timeout.String(),
			Elapsed: elapsed,
		}
	}
	if err != nil {
		return Result{
			Code:    CodeFailed,
			Detail:  trimDetail(out.Bytes(), err),
			Elapsed: elapsed,
		}
	}

	return Result{
		OK:      true,
		Code:    CodeOK,
		Detail:  trimDetail(out.Bytes(), nil),
		Elapsed: elapsed,
	}
}

func trimDetail(out []byte, err error) string {
	detail := strings.TrimSpace(string(out))
	if detail == "" && err != nil {
		detail = err.Error()
	}
	if len(detail) > maxDetailBytes {
		detail = detail[:maxDetailBytes]
	}
	return detail
}
