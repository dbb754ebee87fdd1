package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/dxrunner/internal/config"
	"github.com/3leaps/dxrunner/internal/observability"
	"github.com/3leaps/dxrunner/internal/server"
	"github.com/3leaps/dxrunner/internal/server/handlers"

	signaturesassets "github.com/3leaps/dxrunner/internal/assets/signatures"
	"github.com/3leaps/dxrunner/pkg/logscan"
)

var (
	serveHost string
	servePort int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the read-only status server",
	Long: `Serve exposes tracked jobs over HTTP: job listings and per-job state
under /api/v1/jobs, health and readiness probes, version metadata, and
prometheus metrics when enabled. The server only reads artifacts; all
mutation stays on the CLI.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Bind host (overrides config)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Bind port (overrides config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg := config.GetConfig()
	logger := observability.CLILogger

	host := cfg.Server.Host
	if serveHost != "" {
		host = serveHost
	}
	port := cfg.Server.Port
	if servePort != 0 {
		port = servePort
	}

	sup, err := newSupervisor()
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Failed to initialize supervisor", err)
	}

	handlers.InitHealthManager(versionInfo.Version)
	handlers.SetVersionInfo(versionInfo.Version, versionInfo.Commit, versionInfo.BuildDate)
	hm := handlers.GetHealthManager()
	hm.RegisterChecker("artifact_store", &artifactStoreChecker{root: cfg.ArtifactRoot})
	hm.RegisterChecker("signature_tables", &signatureTablesChecker{})

	opts := []server.Option{
		server.WithLogger(logger),
		server.WithJobSource(server.NewSupervisorSource(sup)),
	}
	if cfg.Metrics.Enabled {
		opts = append(opts, server.WithMetrics(cliMetrics))
		go pollJobGauges(ctx, sup, cliMetrics, cfg.Supervisor.WatchdogInterval, logger)
	}

	srv := server.New(host, port, opts...)

	logger.Info("status server starting",
		zap.String("addr", srv.Addr()),
		zap.Bool("metrics", cfg.Metrics.Enabled),
	)
	if err := srv.Start(ctx,
		cfg.Server.ReadTimeout,
		cfg.Server.WriteTimeout,
		cfg.Server.IdleTimeout,
		cfg.Server.ShutdownTimeout,
	); err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Status server failed", err)
	}
	return nil
}

// artifactStoreChecker probes that the artifact root exists and is a
// directory the server can read.
type artifactStoreChecker struct {
	root string
}

func (c *artifactStoreChecker) CheckHealth(ctx context.Context) error {
	info, err := os.Stat(c.root)
	if err != nil {
		if os.IsNotExist(err) {
			// An empty store is healthy; it appears on first dispatch.
			return nil
		}
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("artifact root %s is not a directory", c.root)
	}
	return nil
}

// signatureTablesChecker probes that the embedded log-signature tables
// still parse and compile.
type signatureTablesChecker struct{}

func (c *signatureTablesChecker) CheckHealth(ctx context.Context) error {
	cfg, err := logscan.ParseConfig(signaturesassets.DefaultSignatures)
	if err != nil {
		return err
	}
	_, err = logscan.New(cfg)
	return err
}
