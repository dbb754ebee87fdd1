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
	stopTask     string
	stopProvider string
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop a job's process group and record the outcome",
	Long: `Stop signals the job's whole process group (SIGTERM, escalating to
SIGKILL after the stop grace) and records a stopped outcome. A job
that already finished keeps its recorded outcome.`,
	RunE: runStop,
}

func init() {
	rootCmd.AddCommand(stopCmd)
	stopCmd.Flags().StringVar(&stopTask, "task", "", "Task key")
	stopCmd.Flags().StringVar(&stopProvider, "provider", "", "Provider backend")
	_ = stopCmd.MarkFlagRequired("task")
	_ = stopCmd.MarkFlagRequired("provider")
}

func runStop(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	sup, err := newSupervisor()
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Failed to initialize supervisor", err)
	}

	key := artifact.Key{Provider: stopProvider, Task: stopTask}
	status, err := sup.Stop(ctx, key)
	switch {
	case errors.Is(err, supervisor.ErrJobNotFound):
		return exitError(foundry.ExitFileNotFound, "Job not found", err)
	case errors.Is(err, supervisor.ErrAlreadyTerminal):
		// The recorded outcome stands; report it instead of failing.
		if flagJSON {
			return emitEnvelope("stop", true, newStatusView(status),
				map[string]any{"note": "job already finished, outcome unchanged"}, "")
		}
		fmt.Printf("%s/%s already finished: %s\n", key.Provider, key.Task, status.State)
		return nil
	case err != nil:
		return exitError(foundry.ExitFileWriteError, "Failed to stop job", err)
	}

	if flagJSON {
		return emitEnvelope("stop", true, newStatusView(status), nil, "")
	}
	fmt.Printf("%s/%s stopped\n", key.Provider, key.Task)
	return nil
}
