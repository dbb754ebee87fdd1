package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"

	"github.com/3leaps/dxrunner/internal/config"
	"github.com/3leaps/dxrunner/pkg/artifact"
	"github.com/3leaps/dxrunner/pkg/gate"
	"github.com/3leaps/dxrunner/pkg/output"
	"github.com/3leaps/dxrunner/pkg/scope"
	"github.com/3leaps/dxrunner/pkg/supervisor"
)

var (
	reportTask     string
	reportProvider string
	reportCommit   string
	reportFormat   string
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Audit a finished job's claims with the post-hoc gates",
	Long: `Report runs the post-hoc governance gates against a finished job:
integrity of the claimed completion commit (exists and landed on the
target branch), presence of the required evidence artifact, and the
mutation budget. Gates that cannot decide fail closed.`,
	RunE: runReport,
}

func init() {
	rootCmd.AddCommand(reportCmd)
	reportCmd.Flags().StringVar(&reportTask, "task", "", "Task key")
	reportCmd.Flags().StringVar(&reportProvider, "provider", "", "Provider backend")
	reportCmd.Flags().StringVar(&reportCommit, "commit", "", "Completion commit the job claims to have produced")
	reportCmd.Flags().StringVar(&reportFormat, "format", "json", "Output format (json|markdown)")
	_ = reportCmd.MarkFlagRequired("task")
	_ = reportCmd.MarkFlagRequired("provider")
}

func runReport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	if reportFormat != "json" && reportFormat != "markdown" {
		return exitError(foundry.ExitInvalidArgument, "Invalid report format",
			fmt.Errorf("format must be json or markdown, got %q", reportFormat))
	}

	sup, err := newSupervisor()
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Failed to initialize supervisor", err)
	}

	key := artifact.Key{Provider: reportProvider, Task: reportTask}
	status, err := sup.Check(ctx, key)
	if err != nil {
		if errors.Is(err, supervisor.ErrJobNotFound) {
			return exitError(foundry.ExitFileNotFound, "Job not found", err)
		}
		return exitError(ExitPartial, "Job state could not be determined", err)
	}
	if !status.State.Terminal() {
		return exitError(foundry.ExitInvalidArgument, "Job has not finished",
			fmt.Errorf("%s/%s is %s", key.Provider, key.Task, status.State))
	}

	var compiled *scope.Scope
	if c, err := scope.Compile(config.GetConfig().Scope); err == nil {
		compiled = c
	}
	in := postHocInput(status, reportCommit, compiled)

	report := gate.DefaultEngine().Run(ctx, "report", gate.KindPostHoc, in)
	recordGateFailures(report)

	if reportFormat == "markdown" {
		printMarkdownReport(status, report)
	} else {
		writer := output.NewJSONLWriter(os.Stdout, key.Task, key.Provider)
		defer func() { _ = writer.Close() }()
		if err := writeGateReport(ctx, writer, report); err != nil {
			return exitError(foundry.ExitFileWriteError, "Failed to write gate report", err)
		}
	}

	if fail, failed := report.FirstFailure(); failed {
		return exitError(ExitGovernance,
			fmt.Sprintf("Post-hoc audit failed at %s gate: %s", fail.Gate, fail.Reason), nil)
	}
	return nil
}

// postHocInput assembles the gate input for a finished job's audit. The
// mutation count comes from the job's status, which carries the marker
// persisted during live polls.
func postHocInput(status *supervisor.Status, commit string, compiled *scope.Scope) *gate.Input {
	return &gate.Input{
		Workspace:        status.Meta.Workspace,
		Scope:            compiled,
		TargetBranch:     status.Meta.TargetBranch,
		EvidencePath:     status.Meta.EvidencePath,
		CompletionCommit: commit,
		MutationCount:    status.MutationCount,
	}
}

// printMarkdownReport renders the audit as a markdown table for humans
// and PR comments.
func printMarkdownReport(status *supervisor.Status, report gate.Report) {
	var b strings.Builder
	fmt.Fprintf(&b, "## Audit: %s/%s\n\n", status.Key.Provider, status.Key.Task)
	fmt.Fprintf(&b, "State: `%s`", status.State)
	if status.Outcome != nil && status.Outcome.ReasonCode != "" {
		fmt.Fprintf(&b, " (%s)", status.Outcome.ReasonCode)
	}
	b.WriteString("\n\n")
	b.WriteString("| Gate | Check | Verdict | Detail |\n")
	b.WriteString("|------|-------|---------|--------|\n")
	for _, res := range report.Results {
		verdict := "pass"
		if !res.Passed {
			verdict = res.Severity
		}
		detail := res.Reason
		if detail == "" {
			detail = "-"
		}
		check := res.Check
		if check == "" {
			check = "-"
		}
		fmt.Fprintf(&b, "| %s | %s | %s | %s |\n", res.Gate, check, verdict, detail)
	}
	fmt.Print(b.String())
}
