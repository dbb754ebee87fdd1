package cmd

import (
	"errors"
	"fmt"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"

	"github.com/3leaps/dxrunner/pkg/artifact"
	"github.com/3leaps/dxrunner/pkg/supervisor"
)

var (
	checkTask     string
	checkProvider string
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check one job and exit with its state class",
	Long: `Check reconstructs a single job's state and maps it to the process
exit code, so wrapping automation can branch on the job's condition
without parsing output:

  0  exited_ok or still making progress
  2  exited_err
  3  stalled or slow_start
  4  blocked
  5  no_op_success (clean exit, zero observed effect)
  8  state could not be fully determined`,
	RunE: runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)
	checkCmd.Flags().StringVar(&checkTask, "task", "", "Task key")
	checkCmd.Flags().StringVar(&checkProvider, "provider", "", "Provider backend")
	_ = checkCmd.MarkFlagRequired("task")
	_ = checkCmd.MarkFlagRequired("provider")
}

func runCheck(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	sup, err := newSupervisor()
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Failed to initialize supervisor", err)
	}

	key := artifact.Key{Provider: checkProvider, Task: checkTask}
	status, err := sup.Check(ctx, key)
	if err != nil {
		if errors.Is(err, supervisor.ErrJobNotFound) {
			return exitError(foundry.ExitFileNotFound, "Job not found", err)
		}
		return exitError(ExitPartial, "Job state could not be determined", err)
	}

	view := newStatusView(status)
	if flagJSON {
		if err := emitEnvelope("check", !stateIsFailure(status.State), view, nil, recoveryFor(status)); err != nil {
			return exitError(foundry.ExitFileWriteError, "Failed to write check result", err)
		}
	} else {
		fmt.Printf("%s/%s: %s\n", key.Provider, key.Task, status.State)
	}

	if code := stateExitCode(status.State); code != ExitOK {
		return exitError(code, "", nil)
	}
	return nil
}

// stateExitCode maps a job state to the check command's exit code.
func stateExitCode(s supervisor.State) int {
	switch s {
	case supervisor.StateExitedErr:
		return ExitExitedErr
	case supervisor.StateStalled, supervisor.StateSlowStart:
		return ExitStalled
	case supervisor.StateBlocked:
		return ExitBlocked
	case supervisor.StateNoOpSuccess:
		return ExitNoOp
	default:
		return ExitOK
	}
}

func stateIsFailure(s supervisor.State) bool {
	return stateExitCode(s) != ExitOK
}

// recoveryFor suggests the operator command that addresses a failed
// state, empty when none applies.
func recoveryFor(st *supervisor.Status) string {
	switch st.State {
	case supervisor.StateStalled, supervisor.StateSlowStart:
		return fmt.Sprintf("dxrunner restart --provider %s --task %s", st.Key.Provider, st.Key.Task)
	case supervisor.StateBlocked:
		return fmt.Sprintf("dxrunner logs --provider %s --task %s", st.Key.Provider, st.Key.Task)
	default:
		return ""
	}
}
