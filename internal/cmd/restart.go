package cmd

import (
	"errors"
	"fmt"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"

	"github.com/3leaps/dxrunner/pkg/artifact"
	"github.com/3leaps/dxrunner/pkg/output"
	"github.com/3leaps/dxrunner/pkg/provider"
	"github.com/3leaps/dxrunner/pkg/scope"
	"github.com/3leaps/dxrunner/pkg/supervisor"

	"github.com/3leaps/dxrunner/internal/config"
)

var (
	restartTask       string
	restartProvider   string
	restartForceDrift bool
)

var restartCmd = &cobra.Command{
	Use:   "restart",
	Short: "Launch a new attempt for a finished or stalled job",
	Long: `Restart rotates the job log, clears the recorded exit code and
outcome, and launches a fresh attempt under the same identity with the
retry count incremented. The runtime contract pinned at launch (auth
source, model, base URL, scope) must still hold; drift refuses the
restart unless --force-drift re-pins it.`,
	RunE: runRestart,
}

func init() {
	rootCmd.AddCommand(restartCmd)
	restartCmd.Flags().StringVar(&restartTask, "task", "", "Task key")
	restartCmd.Flags().StringVar(&restartProvider, "provider", "", "Provider backend")
	restartCmd.Flags().BoolVar(&restartForceDrift, "force-drift", false, "Restart despite a drifted runtime contract")
	_ = restartCmd.MarkFlagRequired("task")
	_ = restartCmd.MarkFlagRequired("provider")
}

func runRestart(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	typ, err := provider.ParseType(restartProvider)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid provider", err)
	}
	adapter, err := buildAdapter(ctx, typ, providerConfig(typ))
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid provider", err)
	}

	sup, err := newSupervisor()
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Failed to initialize supervisor", err)
	}

	key := artifact.Key{Provider: restartProvider, Task: restartTask}

	// The expected contract is recomputed from the current environment;
	// Restart compares it against the one pinned at launch.
	var expected *artifact.Contract
	if !restartForceDrift {
		c, err := currentContract(adapter, key, sup)
		if err != nil {
			return exitError(foundry.ExitInvalidArgument, "Failed to compute runtime contract", err)
		}
		expected = c
	}

	status, rotated, err := sup.Restart(ctx, adapter, key, expected)
	switch {
	case errors.Is(err, supervisor.ErrJobNotFound):
		return exitError(foundry.ExitFileNotFound, "Job not found", err)
	case errors.Is(err, supervisor.ErrContractDrift):
		return exitError(ExitGovernance, "Restart refused: runtime contract drifted since launch", err)
	case err != nil:
		return exitError(ExitBlocked, "Restart failed", err)
	}

	if flagJSON {
		writer := output.NewJSONLWriter(cmd.OutOrStdout(), key.Task, key.Provider)
		defer func() { _ = writer.Close() }()
		if err := writer.WriteRestart(ctx, &output.RestartRecord{
			RetryCount: status.Meta.RetryCount,
			RotatedLog: rotated,
			Mode:       "operator",
		}); err != nil {
			return exitError(foundry.ExitFileWriteError, "Failed to write restart record", err)
		}
		return nil
	}

	fmt.Printf("%s/%s restarted (attempt %d, pid %d)\n",
		key.Provider, key.Task, status.Meta.RetryCount+1, status.PID)
	return nil
}

// currentContract rebuilds the contract the job would launch under
// right now: the adapter's identity, the stored model, and the scope
// hash from current configuration.
func currentContract(adapter provider.Adapter, key artifact.Key, sup *supervisor.Supervisor) (*artifact.Contract, error) {
	c := adapterContract(adapter)

	compiled, err := scope.Compile(config.GetConfig().Scope)
	if err != nil {
		return nil, err
	}
	c.ScopeHash = compiled.Hash()

	// The model is carried over from the prior attempt; restarts never
	// change the model silently.
	meta, err := sup.Store().ReadMeta(key)
	if err == nil {
		c.Model = meta.Model
	}
	return &c, nil
}
