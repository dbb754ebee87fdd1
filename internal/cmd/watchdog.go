package cmd

import (
	"context"
	"os"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/dxrunner/internal/config"
	"github.com/3leaps/dxrunner/internal/observability"
	"github.com/3leaps/dxrunner/pkg/output"
	"github.com/3leaps/dxrunner/pkg/provider"
	"github.com/3leaps/dxrunner/pkg/scope"
	"github.com/3leaps/dxrunner/pkg/supervisor"
)

var (
	watchdogMode     string
	watchdogOnce     bool
	watchdogInterval time.Duration
)

var watchdogCmd = &cobra.Command{
	Use:   "watchdog",
	Short: "Poll tracked jobs and apply the restart policy",
	Long: `Watchdog polls every tracked job, finalizes outcomes for processes
that exited, and applies the restart policy to stalled jobs: restart
while retry budget remains (normal), report without acting (observe),
or block on first stall (no-auto-restart). Events stream to stdout as
JSONL records; one failing job never hides the rest of the pass.`,
	RunE: runWatchdog,
}

func init() {
	rootCmd.AddCommand(watchdogCmd)
	watchdogCmd.Flags().StringVar(&watchdogMode, "mode", "normal", "Restart policy (normal|observe|no-auto-restart)")
	watchdogCmd.Flags().BoolVar(&watchdogOnce, "once", false, "Run a single pass and exit")
	watchdogCmd.Flags().DurationVar(&watchdogInterval, "interval", 0, "Poll interval (default from configuration)")
}

func runWatchdog(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg := config.GetConfig()

	mode, err := supervisor.ParseMode(watchdogMode)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid watchdog mode", err)
	}

	sup, err := newSupervisor()
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Failed to initialize supervisor", err)
	}

	runtimes, err := buildRuntimes(ctx)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Failed to build provider runtimes", err)
	}

	compiled, err := scope.Compile(cfg.Scope)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid scope configuration", err)
	}

	interval := watchdogInterval
	if interval <= 0 {
		interval = cfg.Supervisor.WatchdogInterval
	}

	writer := output.NewJSONLWriter(os.Stdout, "", "")
	defer func() { _ = writer.Close() }()

	wd := supervisor.NewWatchdog(sup, runtimes, mode, interval,
		supervisor.WithWriter(writer),
		supervisor.WithScopeHash(compiled.Hash()),
		supervisor.WithWatchdogLogger(observability.CLILogger),
		supervisor.WithMetrics(cliMetrics),
	)

	if watchdogOnce {
		if err := wd.RunOnce(ctx); err != nil {
			return exitError(ExitPartial, "Watchdog pass failed", err)
		}
		return nil
	}

	if cfg.Metrics.Enabled {
		go serveMetricsEndpoint(ctx, cfg.Metrics.Port, observability.CLILogger)
	}

	observability.CLILogger.Info("watchdog running",
		zap.String("mode", string(mode)),
		zap.Duration("interval", interval),
	)
	if err := wd.Run(ctx); err != nil && ctx.Err() == nil {
		return exitError(ExitPartial, "Watchdog terminated", err)
	}
	return nil
}

// buildRuntimes assembles the per-provider runtime the watchdog
// recomputes contracts from.
func buildRuntimes(ctx context.Context) (map[provider.Type]supervisor.Runtime, error) {
	adapters, err := allAdapters(ctx)
	if err != nil {
		return nil, err
	}
	runtimes := make(map[provider.Type]supervisor.Runtime, len(adapters))
	for typ, a := range adapters {
		rt := supervisor.Runtime{Adapter: a}
		if id, ok := a.(contractIdentity); ok {
			rt.AuthSource = id.AuthSource()
			rt.BaseURL = id.BaseURL()
		}
		runtimes[typ] = rt
	}
	return runtimes, nil
}
