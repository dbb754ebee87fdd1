// Package manifest provides loading and validation of dxrunner dispatch
// manifests.
//
// A dispatch manifest is a YAML or JSON file that configures a single
// job dispatch: which task, which provider, which workspace, the prompt
// source, and per-job governance and supervision overrides.
//
// Manifests are validated against a JSON Schema before dispatch. The
// schema enforces strict typing and disallows unknown properties, so a
// typoed field fails loudly instead of being silently ignored.
//
// Example manifest (YAML):
//
//	version: "1.0"
//	task: gt-1042
//	provider: ccglm
//	workspace: /srv/work/gt-1042/repo
//	prompt:
//	  file: prompts/gt-1042.md
//	baseline:
//	  ref: 3f2a9c1
//	  target_branch: main
//	supervise:
//	  no_auto_restart: true
package manifest

// DefaultTargetBranch is applied when a baseline is given without a
// target branch.
const DefaultTargetBranch = "main"

// Manifest represents a validated dispatch manifest.
//
// Required fields are Version, Task, Provider, Workspace, and Prompt.
// The remaining sections are optional overrides; absent values fall
// back to runner configuration.
type Manifest struct {
	// Schema is an optional JSON Schema reference for editor support.
	Schema string `json:"$schema,omitempty" yaml:"$schema,omitempty"`

	// Version is the manifest schema version. Must be "1.0".
	Version string `json:"version" yaml:"version"`

	// Task is the task identifier the job runs under. Artifact paths
	// embed it, so it is restricted to path-safe characters.
	Task string `json:"task" yaml:"task"`

	// Provider selects the adapter: "ccglm", "opencode", or "gemini".
	Provider string `json:"provider" yaml:"provider"`

	// Workspace is the absolute path of the workspace the job runs in.
	Workspace string `json:"workspace" yaml:"workspace"`

	// Prompt names the prompt source.
	Prompt PromptConfig `json:"prompt" yaml:"prompt"`

	// Model overrides model selection for this dispatch (optional).
	Model *ModelConfig `json:"model,omitempty" yaml:"model,omitempty"`

	// Baseline pins the commit the workspace must contain (optional).
	Baseline *BaselineConfig `json:"baseline,omitempty" yaml:"baseline,omitempty"`

	// Gates carries per-job gate inputs (optional).
	Gates *GatesConfig `json:"gates,omitempty" yaml:"gates,omitempty"`

	// Supervise carries per-job supervision overrides (optional).
	Supervise *SuperviseConfig `json:"supervise,omitempty" yaml:"supervise,omitempty"`
}

// PromptConfig names the prompt source. Exactly one of File or Text
// must be set.
type PromptConfig struct {
	// File is a path to a prompt file, absolute or relative to the
	// manifest's directory.
	File string `json:"file,omitempty" yaml:"file,omitempty"`

	// Text is an inline prompt.
	Text string `json:"text,omitempty" yaml:"text,omitempty"`
}

// ModelConfig overrides model selection for a single dispatch.
type ModelConfig struct {
	// Requested is the model identifier to request from the provider.
	Requested string `json:"requested,omitempty" yaml:"requested,omitempty"`

	// AllowOverride permits a non-canonical model without tripping the
	// model-drift gate. Default: false.
	AllowOverride bool `json:"allow_override,omitempty" yaml:"allow_override,omitempty"`
}

// BaselineConfig pins the commit ancestry the workspace must satisfy.
type BaselineConfig struct {
	// Ref is the commit (sha or ref) that must be an ancestor of the
	// workspace head before dispatch.
	Ref string `json:"ref" yaml:"ref"`

	// TargetBranch is the branch completion commits must land on.
	// Default: "main".
	TargetBranch string `json:"target_branch,omitempty" yaml:"target_branch,omitempty"`
}

// GatesConfig carries per-job governance gate inputs.
type GatesConfig struct {
	// EvidencePath is the signoff artifact the evidence gate requires
	// after completion, relative to the workspace. Empty disables the
	// evidence gate for this job.
	EvidencePath string `json:"evidence_path,omitempty" yaml:"evidence_path,omitempty"`

	// MutationBudget overrides the configured mutation budget for this
	// job. Nil means use the runner configuration.
	MutationBudget *int `json:"mutation_budget,omitempty" yaml:"mutation_budget,omitempty"`
}

// SuperviseConfig carries per-job supervision overrides.
type SuperviseConfig struct {
	// NoAutoRestart blocks the job on first stall instead of spending
	// the retry budget. Default: false.
	NoAutoRestart bool `json:"no_auto_restart,omitempty" yaml:"no_auto_restart,omitempty"`

	// MaxRetries overrides the configured restart budget for this job.
	// Nil means use the runner configuration.
	MaxRetries *int `json:"max_retries,omitempty" yaml:"max_retries,omitempty"`
}

// ApplyDefaults fills optional fields with their documented defaults.
func (m *Manifest) ApplyDefaults() {
	if m.Baseline != nil && m.Baseline.TargetBranch == "" {
		m.Baseline.TargetBranch = DefaultTargetBranch
	}
}
