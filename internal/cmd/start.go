package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/dxrunner/internal/config"
	"github.com/3leaps/dxrunner/internal/observability"
	"github.com/3leaps/dxrunner/pkg/artifact"
	"github.com/3leaps/dxrunner/pkg/gate"
	"github.com/3leaps/dxrunner/pkg/manifest"
	"github.com/3leaps/dxrunner/pkg/output"
	"github.com/3leaps/dxrunner/pkg/provider"
	"github.com/3leaps/dxrunner/pkg/scope"
	"github.com/3leaps/dxrunner/pkg/supervisor"
)

// envAllowModelOverride permits a non-canonical model for one dispatch
// without editing the manifest. The override is recorded on the gate
// report either way.
const envAllowModelOverride = "DXRUNNER_ALLOW_MODEL_OVERRIDE"

var (
	startManifestPath  string
	startTask          string
	startProviderName  string
	startWorkspace     string
	startPromptFile    string
	startModel         string
	startBaselineRef   string
	startTargetBranch  string
	startEvidencePath  string
	startNoAutoRestart bool
	startAllowOverride bool
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Dispatch a detached provider job",
	Long: `Start runs the pre-dispatch governance gates (baseline freshness,
workspace scope, model drift) and, when they pass, launches the provider
CLI detached from dxrunner's own lifetime. A failing error-severity gate
means nothing is launched and no artifacts are written.

The dispatch is described by a manifest file, by flags, or both; flags
win where they overlap.`,
	RunE: runStart,
}

func init() {
	rootCmd.AddCommand(startCmd)
	startCmd.Flags().StringVarP(&startManifestPath, "manifest", "m", "", "Dispatch manifest file (YAML or JSON)")
	startCmd.Flags().StringVar(&startTask, "task", "", "Task key (path-safe identifier)")
	startCmd.Flags().StringVar(&startProviderName, "provider", "", "Provider backend (ccglm|opencode|gemini)")
	startCmd.Flags().StringVar(&startWorkspace, "workspace", "", "Absolute workspace path the job runs in")
	startCmd.Flags().StringVar(&startPromptFile, "prompt", "", "Prompt file fed to the provider CLI")
	startCmd.Flags().StringVar(&startModel, "model", "", "Requested model (empty selects the canonical model)")
	startCmd.Flags().StringVar(&startBaselineRef, "baseline", "", "Commit the workspace must contain before dispatch")
	startCmd.Flags().StringVar(&startTargetBranch, "target-branch", "", "Branch completed work must land on")
	startCmd.Flags().StringVar(&startEvidencePath, "evidence", "", "Signoff artifact required after completion (workspace-relative)")
	startCmd.Flags().BoolVar(&startNoAutoRestart, "no-auto-restart", false, "Block on first stall instead of spending the retry budget")
	startCmd.Flags().BoolVar(&startAllowOverride, "allow-model-override", false, "Permit a non-canonical model for this dispatch")
}

// dispatchSpec is the merged dispatch description: manifest fields with
// flag overrides layered on top.
type dispatchSpec struct {
	Task          string
	Provider      string
	Workspace     string
	PromptPath    string
	PromptText    string
	Model         string
	AllowOverride bool
	BaselineRef   string
	TargetBranch  string
	EvidencePath  string
	NoAutoRestart bool

	// MutationBudget overrides the configured scope budget, nil keeps it.
	MutationBudget *int
}

func runStart(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	logger := observability.CLILogger

	spec, err := resolveDispatchSpec()
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid dispatch request", err)
	}

	typ, err := provider.ParseType(spec.Provider)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid dispatch request", err)
	}
	provCfg := providerConfig(typ)
	adapter, err := buildAdapter(ctx, typ, provCfg)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid dispatch request", err)
	}

	compiled, err := compileScope(spec.MutationBudget)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid scope configuration", err)
	}

	writer := output.NewJSONLWriter(os.Stdout, spec.Task, spec.Provider)
	defer func() { _ = writer.Close() }()

	canonical, fallbacks := modelChain(typ, provCfg)
	report := gate.DefaultEngine().Run(ctx, "start", gate.KindPreDispatch, &gate.Input{
		Workspace:          spec.Workspace,
		Scope:              compiled,
		BaselineRef:        spec.BaselineRef,
		TargetBranch:       spec.TargetBranch,
		RequestedModel:     spec.Model,
		CanonicalModel:     canonical,
		FallbackModels:     fallbacks,
		AllowModelOverride: spec.AllowOverride,
	})
	recordGateFailures(report)
	if err := writeGateReport(ctx, writer, report); err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to write gate report", err)
	}
	if fail, blocked := report.FirstFailure(); blocked {
		// Nothing was launched and nothing was written: the workspace
		// and the artifact store are exactly as they were.
		return exitError(ExitGovernance,
			fmt.Sprintf("Dispatch blocked by %s gate: %s", fail.Gate, fail.Reason), nil)
	}

	sup, err := newSupervisor()
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Failed to initialize supervisor", err)
	}

	key := artifact.Key{Provider: spec.Provider, Task: spec.Task}
	promptPath := spec.PromptPath
	if promptPath == "" {
		promptPath, err = materializePrompt(sup, key, spec.PromptText)
		if err != nil {
			return exitError(foundry.ExitFileWriteError, "Failed to write prompt file", err)
		}
	}

	contract := adapterContract(adapter)
	contract.ScopeHash = compiled.Hash()

	status, err := sup.Dispatch(ctx, adapter, supervisor.DispatchRequest{
		Key:           key,
		Workspace:     spec.Workspace,
		PromptPath:    promptPath,
		Model:         spec.Model,
		NoAutoRestart: spec.NoAutoRestart,
		BaselineRef:   spec.BaselineRef,
		TargetBranch:  spec.TargetBranch,
		EvidencePath:  spec.EvidencePath,
		Contract:      contract,
	})
	if err != nil {
		_ = writer.WriteError(ctx, &output.ErrorRecord{
			Code:    output.CodeStartFailed,
			Message: err.Error(),
		})
		return exitError(ExitBlocked, "Dispatch failed", err)
	}

	if err := writer.WriteDispatch(ctx, &output.DispatchRecord{
		AttemptID:      status.Meta.AttemptID,
		PID:            status.PID,
		Workspace:      spec.Workspace,
		Model:          status.Meta.Model,
		ModelBasis:     status.Meta.ModelBasis,
		FallbackReason: status.Meta.FallbackReason,
		LaunchMode:     status.Meta.LaunchMode,
		RetryCount:     status.Meta.RetryCount,
	}); err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to write dispatch record", err)
	}

	logger.Info("dispatched",
		zap.String("provider", spec.Provider),
		zap.String("task", spec.Task),
		zap.Int("pid", status.PID),
		zap.String("model", status.Meta.Model),
	)
	return nil
}

// resolveDispatchSpec merges the manifest (when given) with flag
// overrides and validates the result.
func resolveDispatchSpec() (*dispatchSpec, error) {
	spec := &dispatchSpec{}

	if startManifestPath != "" {
		m, err := manifest.Load(startManifestPath)
		if err != nil {
			return nil, err
		}
		spec.Task = m.Task
		spec.Provider = m.Provider
		spec.Workspace = m.Workspace
		spec.PromptText = m.Prompt.Text
		if m.Prompt.File != "" {
			spec.PromptPath = resolveRelative(startManifestPath, m.Prompt.File)
		}
		if m.Model != nil {
			spec.Model = m.Model.Requested
			spec.AllowOverride = m.Model.AllowOverride
		}
		if m.Baseline != nil {
			spec.BaselineRef = m.Baseline.Ref
			spec.TargetBranch = m.Baseline.TargetBranch
		}
		if m.Gates != nil {
			spec.EvidencePath = m.Gates.EvidencePath
			spec.MutationBudget = m.Gates.MutationBudget
		}
		if m.Supervise != nil {
			spec.NoAutoRestart = m.Supervise.NoAutoRestart
		}
	}

	if startTask != "" {
		spec.Task = startTask
	}
	if startProviderName != "" {
		spec.Provider = startProviderName
	}
	if startWorkspace != "" {
		spec.Workspace = startWorkspace
	}
	if startPromptFile != "" {
		spec.PromptPath = startPromptFile
		spec.PromptText = ""
	}
	if startModel != "" {
		spec.Model = startModel
	}
	if startBaselineRef != "" {
		spec.BaselineRef = startBaselineRef
	}
	if startTargetBranch != "" {
		spec.TargetBranch = startTargetBranch
	}
	if startEvidencePath != "" {
		spec.EvidencePath = startEvidencePath
	}
	if startNoAutoRestart {
		spec.NoAutoRestart = true
	}
	if startAllowOverride || envBool(envAllowModelOverride) {
		spec.AllowOverride = true
	}
	if spec.BaselineRef != "" && spec.TargetBranch == "" {
		spec.TargetBranch = manifest.DefaultTargetBranch
	}

	switch {
	case spec.Task == "":
		return nil, fmt.Errorf("task is required (--task or manifest)")
	case spec.Provider == "":
		return nil, fmt.Errorf("provider is required (--provider or manifest)")
	case spec.Workspace == "":
		return nil, fmt.Errorf("workspace is required (--workspace or manifest)")
	case spec.PromptPath == "" && spec.PromptText == "":
		return nil, fmt.Errorf("prompt is required (--prompt or manifest prompt.file/prompt.text)")
	}
	if !filepath.IsAbs(spec.Workspace) {
		return nil, fmt.Errorf("workspace must be an absolute path: %s", spec.Workspace)
	}
	return spec, nil
}

// compileScope builds the permission scope from configuration with an
// optional per-job mutation budget override.
func compileScope(budgetOverride *int) (*scope.Scope, error) {
	cfg := config.GetConfig()
	scopeCfg := cfg.Scope
	if budgetOverride != nil {
		scopeCfg.MutationBudget = *budgetOverride
	}
	return scope.Compile(scopeCfg)
}

// materializePrompt writes inline prompt text into the job's artifact
// directory so restarts replay the same prompt. Runs only after the
// gates pass.
func materializePrompt(sup *supervisor.Supervisor, key artifact.Key, text string) (string, error) {
	dir := sup.Store().Dir(key)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, "prompt.md")
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// writeGateReport emits one gate record per verdict.
func writeGateReport(ctx context.Context, w output.Writer, report gate.Report) error {
	for _, res := range report.Results {
		rec := &output.GateRecord{
			Operation: report.Operation,
			Gate:      res.Gate,
			Check:     res.Check,
			Passed:    res.Passed,
			Severity:  res.Severity,
			Code:      res.Code,
			Reason:    res.Reason,
		}
		if err := w.WriteGate(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}

// resolveRelative resolves a manifest-relative path against the
// manifest's directory. Absolute paths pass through.
func resolveRelative(manifestPath, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(filepath.Dir(manifestPath), p)
}

// envBool reads a boolean environment variable, false when unset or
// unparsable.
func envBool(name string) bool {
	v, ok := os.LookupEnv(name)
	if !ok {
		return false
	}
	b, err := strconv.ParseBool(v)
	return err == nil && b
}
