package cmd

import (
	"fmt"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/dxrunner/internal/config"
	"github.com/3leaps/dxrunner/internal/observability"
	"github.com/3leaps/dxrunner/pkg/archive"
	"github.com/3leaps/dxrunner/pkg/artifact"
)

var (
	archiveTask     string
	archiveProvider string
	archiveBucket   string
	archivePrefix   string
	archiveAll      bool
)

var archiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Upload job artifacts to object storage",
	Long: `Archive uploads a job's artifact files (log, meta, outcome, contract)
to an S3-compatible bucket for retention beyond local pruning. Bucket
and credentials come from the archive configuration section; flags
override the bucket and key prefix. Credential values are read from
the configured source and never logged.`,
	RunE: runArchive,
}

func init() {
	rootCmd.AddCommand(archiveCmd)
	archiveCmd.Flags().StringVar(&archiveTask, "task", "", "Task key")
	archiveCmd.Flags().StringVar(&archiveProvider, "provider", "", "Provider backend")
	archiveCmd.Flags().StringVar(&archiveBucket, "bucket", "", "Destination bucket (overrides config)")
	archiveCmd.Flags().StringVar(&archivePrefix, "prefix", "", "Object key prefix (overrides config)")
	archiveCmd.Flags().BoolVar(&archiveAll, "all", false, "Archive every tracked job")
}

func runArchive(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	logger := observability.CLILogger

	if !archiveAll && (archiveTask == "" || archiveProvider == "") {
		return exitError(foundry.ExitInvalidArgument, "Invalid archive request",
			fmt.Errorf("either --all or both --task and --provider are required"))
	}

	archCfg := config.GetConfig().Archive
	if archiveBucket != "" {
		archCfg.Bucket = archiveBucket
	}
	if archivePrefix != "" {
		archCfg.Prefix = archivePrefix
	}
	if err := archCfg.Validate(); err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid archive configuration", err)
	}

	uploader, err := archive.NewS3Uploader(ctx, archCfg)
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to reach object storage", err)
	}

	sup, err := newSupervisor()
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Failed to initialize supervisor", err)
	}

	opts := []archive.Option{archive.WithLogger(logger)}
	if archCfg.RateLimit > 0 {
		opts = append(opts, archive.WithRateLimit(archCfg.RateLimit))
	}
	archiver := archive.NewArchiver(sup.Store(), uploader, archCfg.Prefix, opts...)

	if archiveAll {
		archives, err := archiver.ArchiveAll(ctx)
		if err != nil {
			return exitError(foundry.ExitExternalServiceUnavailable, "Archive failed", err)
		}
		if flagJSON {
			return emitEnvelope("archive", true, archives, nil, "")
		}
		for _, a := range archives {
			fmt.Printf("archived %s/%s (%d files, %d bytes)\n", a.Key.Provider, a.Key.Task, len(a.Files), a.Bytes)
		}
		return nil
	}

	key := artifact.Key{Provider: archiveProvider, Task: archiveTask}
	job, err := archiver.ArchiveJob(ctx, key)
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Archive failed", err)
	}

	logger.Info("job archived",
		zap.String("provider", key.Provider),
		zap.String("task", key.Task),
		zap.Int("files", len(job.Files)),
		zap.Int64("bytes", job.Bytes),
	)
	if flagJSON {
		return emitEnvelope("archive", true, job, nil, "")
	}
	fmt.Printf("archived %s/%s (%d files, %d bytes)\n", key.Provider, key.Task, len(job.Files), job.Bytes)
	return nil
}
