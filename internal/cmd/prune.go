package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/dxrunner/internal/observability"
	"github.com/3leaps/dxrunner/pkg/artifact"
	"github.com/3leaps/dxrunner/pkg/supervisor"
)

var (
	pruneMaxAge time.Duration
	pruneDryRun bool
	pruneForce  bool
)

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Remove artifacts of finished jobs",
	Long: `Prune deletes the artifact directories of jobs with a recorded
terminal outcome older than --max-age. Live jobs are refused unless
--force, which stops them first; --force also extends pruning to dead
jobs without a terminal outcome, discarding their unfinalized state.`,
	RunE: runPrune,
}

func init() {
	rootCmd.AddCommand(pruneCmd)
	pruneCmd.Flags().DurationVar(&pruneMaxAge, "max-age", 7*24*time.Hour, "Minimum age of the recorded outcome before pruning")
	pruneCmd.Flags().BoolVar(&pruneDryRun, "dry-run", false, "Report what would be pruned without deleting")
	pruneCmd.Flags().BoolVar(&pruneForce, "force", false, "Also prune live jobs (stopping them) and dead jobs without a terminal outcome")
}

func runPrune(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	logger := observability.CLILogger

	sup, err := newSupervisor()
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Failed to initialize supervisor", err)
	}

	statuses, err := sup.List(ctx)
	if err != nil {
		return exitError(foundry.ExitFileReadError, "Failed to list jobs", err)
	}

	cutoff := time.Now().UTC().Add(-pruneMaxAge)
	var pruned, kept []artifact.Key
	for _, st := range statuses {
		if !pruneEligible(st, cutoff) {
			kept = append(kept, st.Key)
			continue
		}
		if pruneDryRun {
			fmt.Printf("would prune %s/%s (%s)\n", st.Key.Provider, st.Key.Task, st.State)
			pruned = append(pruned, st.Key)
			continue
		}
		if st.Alive {
			// Forced prune of a live job: stop it so no orphan survives
			// its artifacts.
			if _, err := sup.Stop(ctx, st.Key); err != nil && !errors.Is(err, supervisor.ErrAlreadyTerminal) {
				return exitError(foundry.ExitFileWriteError,
					fmt.Sprintf("Failed to stop %s/%s before prune", st.Key.Provider, st.Key.Task), err)
			}
		}
		if err := sup.Store().Remove(st.Key); err != nil {
			return exitError(foundry.ExitFileWriteError,
				fmt.Sprintf("Failed to prune %s/%s", st.Key.Provider, st.Key.Task), err)
		}
		logger.Info("pruned job artifacts",
			zap.String("provider", st.Key.Provider),
			zap.String("task", st.Key.Task),
			zap.String("state", string(st.State)),
		)
		pruned = append(pruned, st.Key)
	}

	if flagJSON {
		return emitEnvelope("prune", true, map[string]any{
			"pruned":  len(pruned),
			"kept":    len(kept),
			"dry_run": pruneDryRun,
		}, nil, "")
	}
	fmt.Printf("pruned %d, kept %d\n", len(pruned), len(kept))
	return nil
}

// pruneEligible decides whether one job's artifacts may be removed.
// Live jobs and unfinalized dead jobs are refused without --force.
func pruneEligible(st *supervisor.Status, cutoff time.Time) bool {
	if st.Alive {
		return pruneForce
	}
	if st.Outcome != nil {
		return st.State.Terminal() && st.Outcome.CompletedAt.Before(cutoff)
	}
	return pruneForce
}
