// Package cmd implements the dxrunner command surface.
package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/3leaps/dxrunner/internal/config"
	"github.com/3leaps/dxrunner/internal/observability"
)

// Domain exit codes. Distinct per failure class so wrapping automation
// can branch without parsing output; gofulmen foundry codes cover
// usage and file errors.
const (
	ExitOK         = 0
	ExitExitedErr  = 2
	ExitStalled    = 3
	ExitBlocked    = 4
	ExitNoOp       = 5
	ExitPreflight  = 6
	ExitGovernance = 7
	ExitPartial    = 8
)

// AppIdentity names the application for config and env binding.
type AppIdentity struct {
	BinaryName string
	EnvPrefix  string
	ConfigName string
}

var appIdentity *AppIdentity

// GetAppIdentity returns the identity, nil before initialization.
func GetAppIdentity() *AppIdentity {
	return appIdentity
}

// versionInfo carries build metadata injected through ldflags.
var versionInfo = struct {
	Version   string
	Commit    string
	BuildDate string
}{
	Version:   "dev",
	Commit:    "HEAD",
	BuildDate: "unknown",
}

// SetVersionInfo records build metadata for the version command and
// the status server.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
}

var (
	flagLogLevel       string
	flagJSON           bool
	flagArtifactRoot   string
	flagStallThreshold string
	flagStartupGrace   string
)

var rootCmd = &cobra.Command{
	Use:   "dxrunner",
	Short: "Dispatch and governance runner for headless coding-agent jobs",
	Long: `dxrunner launches long-running provider CLI jobs (ccglm, opencode,
gemini) detached from its own lifetime, tracks each job through a health
state machine backed only by on-disk artifacts, and composes governance
gates around dispatch and completion.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		observability.InitCLILogger(flagLogLevel, flagJSON)

		if appIdentity == nil {
			appIdentity = &AppIdentity{
				BinaryName: "dxrunner",
				EnvPrefix:  "DXRUNNER",
				ConfigName: config.AppName,
			}
		}

		if cmd.Name() == ShimCommandName {
			// The shim must not touch config; it only relays a child.
			return nil
		}

		overrides := map[string]any{}
		if flagArtifactRoot != "" {
			overrides["artifact_root"] = flagArtifactRoot
		}
		if flagStallThreshold != "" {
			overrides["supervisor.stall_threshold"] = flagStallThreshold
		}
		if flagStartupGrace != "" {
			overrides["supervisor.startup_grace"] = flagStartupGrace
		}
		if _, err := config.Load(cmd.Context(), overrides); err != nil {
			return exitError(foundry.ExitInvalidArgument, "Failed to load configuration", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "Log level (debug|info|warn|error)")
	rootCmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "Emit machine-readable JSON output")
	rootCmd.PersistentFlags().StringVar(&flagArtifactRoot, "artifact-root", "", "Artifact store root (overrides config)")
	rootCmd.PersistentFlags().StringVar(&flagStallThreshold, "stall-threshold", "", "Log quiescence before a job counts as stalled (overrides config)")
	rootCmd.PersistentFlags().StringVar(&flagStartupGrace, "startup-grace", "", "Grace before first output counts against a job (overrides config)")

	setDefaults()
}

// setDefaults seeds the global viper instance so flag-less invocations
// see complete configuration.
func setDefaults() {
	viper.SetDefault("server.host", "localhost")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("server.write_timeout", "30s")
	viper.SetDefault("server.idle_timeout", "120s")
	viper.SetDefault("server.shutdown_timeout", "10s")

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.profile", "structured")

	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.port", 9090)

	viper.SetDefault("health.enabled", true)

	viper.SetDefault("debug.enabled", false)
	viper.SetDefault("debug.pprof_enabled", false)

	viper.SetDefault("supervisor.stall_threshold", "30m")
	viper.SetDefault("supervisor.startup_grace", "90s")
	viper.SetDefault("supervisor.watchdog_interval", "60s")
	viper.SetDefault("supervisor.stop_grace", "30s")
	viper.SetDefault("supervisor.max_retries", 1)
}

// cliError carries a process exit code alongside the error chain.
type cliError struct {
	code int
	msg  string
	err  error
}

func (e *cliError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %v", e.msg, e.err)
	}
	return e.msg
}

func (e *cliError) Unwrap() error { return e.err }

// exitError builds a command error that Execute maps to an exit code.
func exitError(code int, msg string, err error) error {
	return &cliError{code: code, msg: msg, err: err}
}

// ExitWithCode logs a fatal condition and terminates immediately. Only
// for unrecoverable states outside the normal RunE error path.
func ExitWithCode(logger *zap.Logger, code int, msg string, err error) {
	if err != nil {
		logger.Error(msg, zap.Error(err))
	} else {
		logger.Error(msg)
	}
	observability.Sync()
	os.Exit(code)
}

// Execute runs the root command and converts command errors to process
// exit codes.
func Execute() {
	err := rootCmd.Execute()
	observability.Sync()
	if err == nil {
		return
	}

	var ce *cliError
	if errors.As(err, &ce) {
		if ce.msg != "" {
			fmt.Fprintln(os.Stderr, ce.Error())
		}
		os.Exit(ce.code)
	}

	fmt.Fprintln(os.Stderr, err.Error())
	os.Exit(foundry.ExitInvalidArgument)
}
