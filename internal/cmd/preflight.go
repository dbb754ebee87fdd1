package cmd

import (
	"fmt"
	"os"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"

	"github.com/3leaps/dxrunner/pkg/output"
	"github.com/3leaps/dxrunner/pkg/preflight"
	"github.com/3leaps/dxrunner/pkg/provider"
)

var preflightProvider string

var preflightCmd = &cobra.Command{
	Use:   "preflight",
	Short: "Check provider readiness before dispatching",
	Long: `Preflight answers "can this provider take a job right now": binary
on PATH, credentials resolvable, canonical model reachable. Severity
decides what blocks; by default a missing binary or unresolved auth
fails the provider and an unreachable model only warns. Credential
values are never printed, only the source that matched.`,
	RunE: runPreflight,
}

func init() {
	rootCmd.AddCommand(preflightCmd)
	preflightCmd.Flags().StringVar(&preflightProvider, "provider", "", "Limit to one provider (default all)")
}

func runPreflight(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	var adapters map[provider.Type]provider.Adapter
	if preflightProvider != "" {
		typ, err := provider.ParseType(preflightProvider)
		if err != nil {
			return exitError(foundry.ExitInvalidArgument, "Invalid provider", err)
		}
		a, err := buildAdapter(ctx, typ, providerConfig(typ))
		if err != nil {
			return exitError(foundry.ExitInvalidArgument, "Invalid provider", err)
		}
		adapters = map[provider.Type]provider.Adapter{typ: a}
	} else {
		var err error
		adapters, err = allAdapters(ctx)
		if err != nil {
			return exitError(foundry.ExitInvalidArgument, "Failed to build provider adapters", err)
		}
	}

	report, err := preflight.Run(ctx, adapters)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Preflight could not run", err)
	}

	if flagJSON {
		for _, pr := range report.Providers {
			writer := output.NewJSONLWriter(os.Stdout, "", pr.Provider)
			if werr := writer.WritePreflight(ctx, pr.Record()); werr != nil {
				_ = writer.Close()
				return exitError(foundry.ExitFileWriteError, "Failed to write preflight record", werr)
			}
			_ = writer.Close()
		}
	} else {
		printPreflightReport(report)
	}

	if !report.Passed() {
		return exitError(ExitPreflight, "Preflight failed for one or more providers", nil)
	}
	return nil
}

func printPreflightReport(report *preflight.Report) {
	for _, pr := range report.Providers {
		verdict := "ready"
		if !pr.Passed() {
			verdict = "not ready"
		}
		fmt.Printf("%s: %s\n", pr.Provider, verdict)
		for _, res := range pr.Results {
			mark := "ok"
			if !res.Passed {
				mark = res.Severity
			}
			line := fmt.Sprintf("  [%s] %s", mark, res.Check)
			if res.Detail != "" {
				line += ": " + res.Detail
			}
			fmt.Println(line)
		}
	}
}
