// Package gitstate answers the version-control questions the governance
// gates ask: does a commit exist, is one commit an ancestor of another,
// and what commit is a workspace checked out at.
//
// All queries shell out to the git binary with a bounded timeout. Boolean
// queries use (bool, error) semantics where a non-nil error means the
// answer could not be determined (missing binary, not a repository,
// truncated history). Callers that fail closed must treat that error as a
// failure, not a pass.
package gitstate

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// DefaultTimeout bounds a single git invocation. Local object and
// ancestry lookups are fast; anything slower indicates a wedged
// filesystem and should not hang a health check.
const DefaultTimeout = 10 * time.Second

// Sentinel errors for repository queries.
var (
	// ErrNotRepository indicates the directory is not inside a git work tree.
	ErrNotRepository = errors.New("not a git repository")

	// ErrGitUnavailable indicates the git binary could not be executed.
	ErrGitUnavailable = errors.New("git binary unavailable")
)

// Repo queries one git work tree.
type Repo struct {
	dir     string
	timeout time.Duration
}

// Open returns a Repo rooted at dir. The directory is not validated
// until the first query runs.
func Open(dir string) *Repo {
	return &Repo{dir: dir, timeout: DefaultTimeout}
}

// WithTimeout returns a copy of the repo using the given per-query timeout.
func (r *Repo) WithTimeout(d time.Duration) *Repo {
	cp := *r
	if d > 0 {
		cp.timeout = d
	}
	return &cp
}

// Dir returns the work tree directory this repo queries.
func (r *Repo) Dir() string {
	return r.dir
}

// Head returns the full commit id the work tree is currently checked
// out at.
func (r *Repo) Head(ctx context.Context) (string, error) {
	out, _, err := r.git(ctx, "rev-parse", "HEAD")
	if err != nil {
		return "", err
	}
	head := strings.TrimSpace(out)
	if head == "" {
		return "", fmt.Errorf("rev-parse HEAD returned empty output in %s", r.dir)
	}
	return head, nil
}

// ResolveCommit resolves a ref (branch, tag, abbreviated id) to a full
// commit id.
func (r *Repo) ResolveCommit(ctx context.Context, ref string) (string, error) {
	if strings.TrimSpace(ref) == "" {
		return "", errors.New("empty ref")
	}
	out, _, err := r.git(ctx, "rev-parse", "--verify", "--quiet", ref+"^{commit}")
	if err != nil {
		return "", fmt.Errorf("resolve %q: %w", ref, err)
	}
	return strings.TrimSpace(out), nil
}

// CommitExists reports whether ref names a commit object present in the
// repository. (false, nil) is a definitive absence; a non-nil error
// means existence could not be determined.
func (r *Repo) CommitExists(ctx context.Context, ref string) (bool, error) {
	if strings.TrimSpace(ref) == "" {
		return false, errors.New("empty ref")
	}
	_, code, err := r.git(ctx, "cat-file", "-e", ref+"^{commit}")
	if err == nil {
		return true, nil
	}
	// cat-file -e exits 1 for a missing object; anything else is a
	// repository-level failure the caller must not treat as "absent".
	if code == 1 {
		return false, nil
	}
	return false, err
}

// IsAncestor reports whether ancestor is an ancestor of (or equal to)
// descendant. (false, nil) is a definitive "has not landed"; a non-nil
// error means ancestry could not be determined, which fail-closed
// callers treat as failure.
func (r *Repo) IsAncestor(ctx context.Context, ancestor, descendant string) (bool, error) {
	if strings.TrimSpace(ancestor) == "" || strings.TrimSpace(descendant) == "" {
		return false, errors.New("empty ref")
	}
	_, code, err := r.git(ctx, "merge-base", "--is-ancestor", ancestor, descendant)
	if err == nil {
		return true, nil
	}
	if code == 1 {
		return false, nil
	}
	return false, err
}

// git runs a git subcommand in the repo directory and returns stdout,
// the exit code, and an error for nonzero exits or spawn failures.
func (r *Repo) git(ctx context.Context, args ...string) (string, int, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = r.dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return stdout.String(), 0, nil
	}

	if ctx.Err() != nil {
		return "", -1, fmt.Errorf("git %s timed out after %s: %w", args[0], r.timeout, ctx.Err())
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		code := exitErr.ExitCode()
		msg := strings.TrimSpace(stderr.String())
		if strings.Contains(msg, "not a git repository") {
			return "", code, fmt.Errorf("%w: %s", ErrNotRepository, r.dir)
		}
		if msg == "" {
			msg = fmt.Sprintf("git %s exited %d", strings.Join(args, " "), code)
		}
		return "", code, fmt.Errorf("git %s: %s", args[0], msg)
	}

	return "", -1, fmt.Errorf("%w: %v", ErrGitUnavailable, err)
}
