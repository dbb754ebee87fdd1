package provider

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"
)

// ShimCommand is the hidden subcommand the runner re-execs itself with
// to supervise one provider subprocess. The shim becomes the session
// and process-group leader for the job: it redirects output to the job
// log, feeds the prompt file to the child's stdin, waits, and writes
// the raw exit code exactly once at child exit. Re-execing our own
// binary is what lets the job survive the dispatching process exiting
// while still capturing an exit code nobody would otherwise wait for.
const ShimCommand = "__runjob"

// LaunchSpec describes one detached launch.
type LaunchSpec struct {
	// Argv is the provider CLI invocation, argv[0] being the binary.
	Argv []string

	// Env is the complete child environment, including any injected
	// credentials.
	Env []string

	// Dir is the working directory for the subprocess, when set.
	Dir string

	// PromptPath is fed to the child's stdin by the shim.
	PromptPath string

	// LogPath receives all child output, append-only.
	LogPath string

	// RCPath receives the raw exit code at child exit.
	RCPath string
}

// StartDetached spawns the launch shim in its own session and returns
// its pid without waiting. The returned pid is the stable handle for
// liveness checks and group termination for the job's whole lifetime.
func StartDetached(spec LaunchSpec) (int, error) {
	if len(spec.Argv) == 0 {
		return 0, fmt.Errorf("%w: empty argv", ErrStartFailed)
	}
	if spec.LogPath == "" || spec.RCPath == "" {
		return 0, fmt.Errorf("%w: log and rc destinations are required", ErrStartFailed)
	}

	exe, err := os.Executable()
	if err != nil {
		return 0, fmt.Errorf("%w: resolve own executable: %v", ErrStartFailed, err)
	}

	args := []string{ShimCommand, "--log", spec.LogPath, "--rc", spec.RCPath}
	if spec.Dir != "" {
		args = append(args, "--cwd", spec.Dir)
	}
	if spec.PromptPath != "" {
		args = append(args, "--prompt", spec.PromptPath)
	}
	args = append(args, "--")
	args = append(args, spec.Argv...)

	cmd := exec.Command(exe, args...)
	cmd.Env = spec.Env
	// New session: the shim leads its own process group, survives this
	// process exiting, and group signals never reach unrelated
	// processes.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStartFailed, err)
	}
	pid := cmd.Process.Pid

	// Reap the shim if this process outlives it (watchdog restarts);
	// otherwise init adopts it.
	go func() { _ = cmd.Wait() }()

	return pid, nil
}
