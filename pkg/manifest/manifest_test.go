package manifest

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// validManifestYAML returns a minimal valid manifest in YAML format.
func validManifestYAML() string {
	return `version: "1.0"
task: gt-1042
provider: ccglm
workspace: /srv/work/gt-1042/repo
prompt:
  file: prompts/gt-1042.md
`
}

// validManifestJSON returns a minimal valid manifest in JSON format.
func validManifestJSON() string {
	return `{
  "version": "1.0",
  "task": "gt-1042",
  "provider": "ccglm",
  "workspace": "/srv/work/gt-1042/repo",
  "prompt": {
    "file": "prompts/gt-1042.md"
  }
}`
}

// fullManifestYAML returns a complete manifest with all optional fields.
func fullManifestYAML() string {
	return `version: "1.0"
task: gt-1042
provider: gemini
workspace: /srv/work/gt-1042/repo
prompt:
  text: |
    Implement the parser changes described in the task notes.
model:
  requested: gemini-2.5-flash
  allow_override: true
baseline:
  ref: 3f2a9c1
  target_branch: release-2026.08
gates:
  evidence_path: .signoff/gt-1042.json
  mutation_budget: 250
supervise:
  no_auto_restart: true
  max_retries: 2
`
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name        string
		content     string
		filename    string
		wantErr     bool
		errContains string
		validate    func(t *testing.T, m *Manifest)
	}{
		{
			name:     "valid YAML manifest",
			content:  validManifestYAML(),
			filename: "manifest.yaml",
			wantErr:  false,
			validate: func(t *testing.T, m *Manifest) {
				assert.Equal(t, "1.0", m.Version)
				assert.Equal(t, "gt-1042", m.Task)
				assert.Equal(t, "ccglm", m.Provider)
				assert.Equal(t, "/srv/work/gt-1042/repo", m.Workspace)
				assert.Equal(t, "prompts/gt-1042.md", m.Prompt.File)
				assert.Nil(t, m.Model)
				assert.Nil(t, m.Supervise)
			},
		},
		{
			name:     "valid JSON manifest",
			content:  validManifestJSON(),
			filename: "manifest.json",
			wantErr:  false,
			validate: func(t *testing.T, m *Manifest) {
				assert.Equal(t, "gt-1042", m.Task)
				assert.Equal(t, "ccglm", m.Provider)
			},
		},
		{
			name:     "full manifest with all options",
			content:  fullManifestYAML(),
			filename: "full.yaml",
			wantErr:  false,
			validate: func(t *testing.T, m *Manifest) {
				assert.Equal(t, "gemini", m.Provider)
				assert.Contains(t, m.Prompt.Text, "parser changes")
				require.NotNil(t, m.Model)
				assert.Equal(t, "gemini-2.5-flash", m.Model.Requested)
				assert.True(t, m.Model.AllowOverride)
				require.NotNil(t, m.Baseline)
				assert.Equal(t, "3f2a9c1", m.Baseline.Ref)
				assert.Equal(t, "release-2026.08", m.Baseline.TargetBranch)
				require.NotNil(t, m.Gates)
				assert.Equal(t, ".signoff/gt-1042.json", m.Gates.EvidencePath)
				require.NotNil(t, m.Gates.MutationBudget)
				assert.Equal(t, 250, *m.Gates.MutationBudget)
				require.NotNil(t, m.Supervise)
				assert.True(t, m.Supervise.NoAutoRestart)
				require.NotNil(t, m.Supervise.MaxRetries)
				assert.Equal(t, 2, *m.Supervise.MaxRetries)
			},
		},
		{
			name: "baseline target branch defaults to main",
			content: `version: "1.0"
task: gt-1042
provider: opencode
workspace: /srv/work/gt-1042/repo
prompt:
  file: p.md
baseline:
  ref: 3f2a9c1
`,
			filename: "baseline-default.yaml",
			wantErr:  false,
			validate: func(t *testing.T, m *Manifest) {
				require.NotNil(t, m.Baseline)
				assert.Equal(t, DefaultTargetBranch, m.Baseline.TargetBranch)
			},
		},
		{
			name:     "yml extension works",
			content:  validManifestYAML(),
			filename: "manifest.yml",
			wantErr:  false,
		},
		{
			name:        "empty file",
			content:     "",
			filename:    "empty.yaml",
			wantErr:     true,
			errContains: "empty",
		},
		{
			name:        "invalid YAML syntax",
			content:     "version: [invalid yaml",
			filename:    "bad.yaml",
			wantErr:     true,
			errContains: "invalid YAML",
		},
		{
			name:        "invalid JSON syntax",
			content:     `{"version": "1.0"`,
			filename:    "bad.json",
			wantErr:     true,
			errContains: "invalid JSON",
		},
		{
			name: "missing version",
			content: `task: gt-1042
provider: ccglm
workspace: /srv/work/x
prompt:
  file: p.md
`,
			filename:    "no-version.yaml",
			wantErr:     true,
			errContains: "version",
		},
		{
			name: "missing task",
			content: `version: "1.0"
provider: ccglm
workspace: /srv/work/x
prompt:
  file: p.md
`,
			filename:    "no-task.yaml",
			wantErr:     true,
			errContains: "task",
		},
		{
			name: "task with path separator",
			content: `version: "1.0"
task: ../escape
provider: ccglm
workspace: /srv/work/x
prompt:
  file: p.md
`,
			filename:    "bad-task.yaml",
			wantErr:     true,
			errContains: "task",
		},
		{
			name: "unknown provider",
			content: `version: "1.0"
task: gt-1042
provider: codex
workspace: /srv/work/x
prompt:
  file: p.md
`,
			filename:    "bad-provider.yaml",
			wantErr:     true,
			errContains: "provider",
		},
		{
			name: "relative workspace",
			content: `version: "1.0"
task: gt-1042
provider: ccglm
workspace: work/x
prompt:
  file: p.md
`,
			filename:    "rel-workspace.yaml",
			wantErr:     true,
			errContains: "workspace",
		},
		{
			name: "prompt with both file and text",
			content: `version: "1.0"
task: gt-1042
provider: ccglm
workspace: /srv/work/x
prompt:
  file: p.md
  text: inline
`,
			filename:    "double-prompt.yaml",
			wantErr:     true,
			errContains: "prompt",
		},
		{
			name: "prompt with neither source",
			content: `version: "1.0"
task: gt-1042
provider: ccglm
workspace: /srv/work/x
prompt: {}
`,
			filename:    "no-prompt-source.yaml",
			wantErr:     true,
			errContains: "prompt",
		},
		{
			name: "negative max retries",
			content: `version: "1.0"
task: gt-1042
provider: ccglm
workspace: /srv/work/x
prompt:
  file: p.md
supervise:
  max_retries: -1
`,
			filename:    "neg-retries.yaml",
			wantErr:     true,
			errContains: "max_retries",
		},
		{
			name: "unknown field rejected",
			content: `version: "1.0"
task: gt-1042
provider: ccglm
workspace: /srv/work/x
prompt:
  file: p.md
watchdog_mode: observe
`,
			filename:    "unknown-field.yaml",
			wantErr:     true,
			errContains: "additional",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpDir := t.TempDir()
			path := filepath.Join(tmpDir, tt.filename)
			err := os.WriteFile(path, []byte(tt.content), 0o644)
			require.NoError(t, err)

			m, err := Load(path)

			if tt.wantErr {
				require.Error(t, err)
				if tt.errContains != "" {
					assert.Contains(t, strings.ToLower(err.Error()), strings.ToLower(tt.errContains),
						"error should contain %q", tt.errContains)
				}
				return
			}

			require.NoError(t, err)
			require.NotNil(t, m)

			if tt.validate != nil {
				tt.validate(t, m)
			}
		})
	}
}

func TestLoad_FileErrors(t *testing.T) {
	t.Run("file not found", func(t *testing.T) {
		_, err := Load("/nonexistent/path/manifest.yaml")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not found")
	})

	t.Run("permission denied", func(t *testing.T) {
		if os.Getuid() == 0 {
			t.Skip("skipping permission test when running as root")
		}

		tmpDir := t.TempDir()
		path := filepath.Join(tmpDir, "noperm.yaml")
		err := os.WriteFile(path, []byte(validManifestYAML()), 0o000)
		require.NoError(t, err)
		t.Cleanup(func() {
			_ = os.Chmod(path, 0o644)
		})

		_, err = Load(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "permission")
	})
}

func TestLoadFromBytes(t *testing.T) {
	t.Run("YAML by extension", func(t *testing.T) {
		m, err := LoadFromBytes([]byte(validManifestYAML()), "test.yaml")
		require.NoError(t, err)
		assert.Equal(t, "gt-1042", m.Task)
	})

	t.Run("JSON by extension", func(t *testing.T) {
		m, err := LoadFromBytes([]byte(validManifestJSON()), "test.json")
		require.NoError(t, err)
		assert.Equal(t, "gt-1042", m.Task)
	})

	t.Run("unknown extension tries YAML first", func(t *testing.T) {
		m, err := LoadFromBytes([]byte(validManifestYAML()), "test.conf")
		require.NoError(t, err)
		assert.Equal(t, "gt-1042", m.Task)
	})

	t.Run("no path works for JSON content", func(t *testing.T) {
		m, err := LoadFromBytes([]byte(validManifestJSON()), "")
		require.NoError(t, err)
		assert.Equal(t, "gt-1042", m.Task)
	})
}

func TestLoadFromReader(t *testing.T) {
	m, err := LoadFromReader(strings.NewReader(validManifestYAML()), "stdin.yaml")
	require.NoError(t, err)
	assert.Equal(t, "ccglm", m.Provider)
}

func TestValidate(t *testing.T) {
	t.Run("valid manifest passes", func(t *testing.T) {
		m := &Manifest{
			Version:   "1.0",
			Task:      "gt-1042",
			Provider:  "opencode",
			Workspace: "/srv/work/gt-1042/repo",
			Prompt:    PromptConfig{File: "p.md"},
		}
		require.NoError(t, Validate(m))
	})

	t.Run("validation errors unwrap to sentinel", func(t *testing.T) {
		m := &Manifest{Version: "1.0"}
		err := Validate(m)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrValidationFailed))

		var verrs ValidationErrors
		require.True(t, errors.As(err, &verrs))
		assert.NotEmpty(t, verrs)
	})
}

func TestValidationError_Error(t *testing.T) {
	e := ValidationError{Path: "/prompt", Message: "missing required field"}
	assert.Equal(t, "/prompt: missing required field", e.Error())

	e = ValidationError{Message: "top-level failure"}
	assert.Equal(t, "top-level failure", e.Error())
}
