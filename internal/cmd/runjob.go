package cmd

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/spf13/cobra"

	"github.com/3leaps/dxrunner/pkg/provider"
)

// ShimCommandName is the hidden launch-shim subcommand. StartDetached
// re-execs this binary with it; operators never invoke it directly.
const ShimCommandName = provider.ShimCommand

var (
	runjobLog    string
	runjobRC     string
	runjobCwd    string
	runjobPrompt string
)

var runjobCmd = &cobra.Command{
	Use:    ShimCommandName + " --log <path> --rc <path> [--cwd <dir>] [--prompt <file>] -- <argv...>",
	Hidden: true,
	Short:  "Launch shim (internal)",
	Args:   cobra.MinimumNArgs(1),
	RunE:   runShim,
	// The shim relays the child's exit code itself; cobra must not
	// print usage on child failure.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(runjobCmd)
	runjobCmd.Flags().StringVar(&runjobLog, "log", "", "Job log path (append-only)")
	runjobCmd.Flags().StringVar(&runjobRC, "rc", "", "Raw exit code path (written once)")
	runjobCmd.Flags().StringVar(&runjobCwd, "cwd", "", "Working directory for the child")
	runjobCmd.Flags().StringVar(&runjobPrompt, "prompt", "", "Prompt file fed to the child's stdin")
	_ = runjobCmd.MarkFlagRequired("log")
	_ = runjobCmd.MarkFlagRequired("rc")
}

// runShim supervises exactly one child: output to the job log, prompt
// on stdin, raw exit code to the rc file exactly once. It runs inside
// the detached session StartDetached created, so it is the process
// group leader Stop signals later.
func runShim(cmd *cobra.Command, argv []string) error {
	logFile, err := os.OpenFile(runjobLog, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open job log: %w", err)
	}
	defer func() { _ = logFile.Close() }()

	child := exec.Command(argv[0], argv[1:]...)
	child.Stdout = logFile
	child.Stderr = logFile
	child.Env = os.Environ()
	if runjobCwd != "" {
		child.Dir = runjobCwd
	}

	if runjobPrompt != "" {
		prompt, err := os.Open(runjobPrompt)
		if err != nil {
			writeRC(runjobRC, -1)
			return fmt.Errorf("open prompt file: %w", err)
		}
		defer func() { _ = prompt.Close() }()
		child.Stdin = prompt
	}

	if err := child.Start(); err != nil {
		writeRC(runjobRC, -1)
		return fmt.Errorf("start child: %w", err)
	}

	rc := 0
	if err := child.Wait(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			rc = exitErr.ExitCode()
		} else {
			writeRC(runjobRC, -1)
			return fmt.Errorf("wait for child: %w", err)
		}
	}

	writeRC(runjobRC, rc)
	if rc != 0 {
		return exitError(rc, "", nil)
	}
	return nil
}

// writeRC records the raw exit code exactly once. O_EXCL makes a
// second write (restarted shim racing a stale one) a no-op instead of
// an overwrite.
func writeRC(path string, rc int) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	defer func() { _ = f.Close() }()
	_, _ = fmt.Fprintf(f, "%d\n", rc)
}
