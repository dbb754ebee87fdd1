// Package exectest gates integration tests that spawn real processes.
//
// Supervision tests that launch actual subprocesses (detached sessions,
// signal escalation, process-group accounting) are opt-in: they touch
// the host process table and need a POSIX environment. Enable them
// with:
//
//	DXRUNNER_EXEC_TESTS=1 go test ./...
package exectest

import (
	"os"
	"strconv"
	"testing"
)

// EnvVar enables process-spawning integration tests when set truthy.
const EnvVar = "DXRUNNER_EXEC_TESTS"

// Enabled reports whether process-spawning tests are enabled.
func Enabled() bool {
	v, ok := os.LookupEnv(EnvVar)
	if !ok {
		return false
	}
	b, err := strconv.ParseBool(v)
	return err == nil && b
}

// SkipIfDisabled skips the test unless process-spawning tests are
// enabled.
func SkipIfDisabled(t *testing.T) {
	t.Helper()
	if !Enabled() {
		t.Skipf("process-spawning test disabled (set %s=1 to enable)", EnvVar)
	}
}
