package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"

	"github.com/3leaps/dxrunner/internal/config"
	"github.com/3leaps/dxrunner/pkg/gate"
	"github.com/3leaps/dxrunner/pkg/output"
	"github.com/3leaps/dxrunner/pkg/provider"
	"github.com/3leaps/dxrunner/pkg/scope"
)

var (
	gateWorkspace     string
	gateBaselineRef   string
	gateTargetBranch  string
	gateModel         string
	gateProviderName  string
	gateAllowOverride bool
	gateCommit        string
	gateEvidencePath  string
)

var gateCmd = &cobra.Command{
	Use:   "gate",
	Short: "Run a single governance gate standalone",
	Long: `Gate runs one governance gate against explicit inputs, outside any
dispatch. Useful for rehearsing a dispatch (will this workspace pass?)
and for auditing one claim in isolation. Exit code 7 reports an
error-severity failure.`,
}

func init() {
	rootCmd.AddCommand(gateCmd)
	gateCmd.PersistentFlags().StringVar(&gateWorkspace, "workspace", "", "Workspace path the gate evaluates")

	baseline := &cobra.Command{
		Use:   "baseline",
		Short: "Check the workspace contains the required baseline commit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSingleGate(cmd.Context(), &gate.BaselineGate{}, gate.KindPreDispatch)
		},
	}
	baseline.Flags().StringVar(&gateBaselineRef, "ref", "", "Commit the workspace must contain")
	_ = baseline.MarkFlagRequired("ref")

	scopeGate := &cobra.Command{
		Use:   "scope",
		Short: "Check the workspace is inside the allowed scope",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSingleGate(cmd.Context(), &gate.ScopeGate{}, gate.KindPreDispatch)
		},
	}

	model := &cobra.Command{
		Use:   "model",
		Short: "Check a model request against the provider's chain",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSingleGate(cmd.Context(), &gate.ModelDriftGate{}, gate.KindPreDispatch)
		},
	}
	model.Flags().StringVar(&gateModel, "model", "", "Requested model")
	model.Flags().StringVar(&gateProviderName, "provider", "", "Provider whose chain bounds the request")
	model.Flags().BoolVar(&gateAllowOverride, "allow-override", false, "Permit a non-canonical model")
	_ = model.MarkFlagRequired("provider")

	integrity := &cobra.Command{
		Use:   "integrity",
		Short: "Check a claimed completion commit exists and landed",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSingleGate(cmd.Context(), &gate.IntegrityGate{}, gate.KindPostHoc)
		},
	}
	integrity.Flags().StringVar(&gateCommit, "commit", "", "Claimed completion commit")
	integrity.Flags().StringVar(&gateTargetBranch, "target-branch", "main", "Branch the commit must have landed on")
	_ = integrity.MarkFlagRequired("commit")

	evidence := &cobra.Command{
		Use:   "evidence",
		Short: "Check the required signoff artifact exists",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSingleGate(cmd.Context(), &gate.EvidenceGate{}, gate.KindPostHoc)
		},
	}
	evidence.Flags().StringVar(&gateEvidencePath, "evidence", "", "Signoff artifact path (workspace-relative)")
	_ = evidence.MarkFlagRequired("evidence")

	gateCmd.AddCommand(baseline, scopeGate, model, integrity, evidence)
}

// runSingleGate evaluates one gate against the flag inputs and maps the
// verdict to the process exit code.
func runSingleGate(ctx context.Context, check gate.Check, kind gate.Kind) error {
	in := &gate.Input{
		Workspace:          gateWorkspace,
		BaselineRef:        gateBaselineRef,
		TargetBranch:       gateTargetBranch,
		RequestedModel:     gateModel,
		AllowModelOverride: gateAllowOverride,
		CompletionCommit:   gateCommit,
		EvidencePath:       gateEvidencePath,
	}

	if gateProviderName != "" {
		typ, err := provider.ParseType(gateProviderName)
		if err != nil {
			return exitError(foundry.ExitInvalidArgument, "Invalid provider", err)
		}
		in.CanonicalModel, in.FallbackModels = modelChain(typ, providerConfig(typ))
	}

	if compiled, err := scope.Compile(config.GetConfig().Scope); err == nil {
		in.Scope = compiled
	} else if check.Name() == "scope" {
		return exitError(foundry.ExitInvalidArgument, "Invalid scope configuration", err)
	}

	report := gate.NewEngine(check).Run(ctx, "gate", kind, in)
	recordGateFailures(report)

	if flagJSON {
		writer := output.NewJSONLWriter(os.Stdout, "", "")
		defer func() { _ = writer.Close() }()
		if err := writeGateReport(ctx, writer, report); err != nil {
			return exitError(foundry.ExitFileWriteError, "Failed to write gate report", err)
		}
	} else {
		for _, res := range report.Results {
			verdict := "pass"
			if !res.Passed {
				verdict = "FAIL (" + res.Severity + ")"
			}
			line := fmt.Sprintf("%s: %s", res.Gate, verdict)
			if res.Reason != "" {
				line += " - " + res.Reason
			}
			fmt.Println(line)
		}
	}

	if fail, failed := report.FirstFailure(); failed {
		return exitError(ExitGovernance,
			fmt.Sprintf("Gate %s failed: %s", fail.Gate, fail.Reason), nil)
	}
	return nil
}
