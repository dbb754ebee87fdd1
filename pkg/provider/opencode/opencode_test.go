package opencode

import (
	"context"
	"strings"
	"testing"

	"github.com/3leaps/dxrunner/pkg/provider"
)

func TestDefaults(t *testing.T) {
	t.Setenv(envAPIKey, "tok-1234")

	a := New(context.Background(), provider.Config{})
	if a.Type() != provider.TypeOpenCode {
		t.Fatalf("type = %s", a.Type())
	}
	if a.cfg.Binary != DefaultBinary {
		t.Fatalf("binary = %s, want %s", a.cfg.Binary, DefaultBinary)
	}

	res := a.ResolveModel("")
	if res.Model != DefaultModel || res.Basis != provider.BasisPreferred {
		t.Fatalf("default resolution = %+v", res)
	}
}

func TestLaunchSpecUsesRunSubcommand(t *testing.T) {
	t.Setenv(envAPIKey, "tok-1234")

	a := New(context.Background(), provider.Config{})
	spec := a.launchSpec(provider.StartRequest{
		Task:       "t1",
		PromptPath: "/tmp/prompt.md",
		Workspace:  "/work/repo",
		LogPath:    "/tmp/job.log",
		RCPath:     "/tmp/rc",
	}, DefaultModel)

	want := []string{DefaultBinary, "run", "--model", DefaultModel}
	if strings.Join(spec.Argv, " ") != strings.Join(want, " ") {
		t.Fatalf("argv = %v, want %v", spec.Argv, want)
	}

	injected := false
	for _, e := range spec.Env {
		if e == envAPIKey+"=tok-1234" {
			injected = true
		}
	}
	if !injected {
		t.Fatal("credential not injected into subprocess environment")
	}
}

func TestFallbackResolution(t *testing.T) {
	t.Setenv(envAPIKey, "tok-1234")

	a := New(context.Background(), provider.Config{
		FallbackModels: []string{"anthropic/claude-haiku-4-5"},
	})

	res := a.ResolveModel("anthropic/claude-haiku-4-5")
	if res.Basis != provider.BasisFallback {
		t.Fatalf("basis = %s, want fallback", res.Basis)
	}

	res = a.ResolveModel("openai/gpt-5")
	if res.Basis != provider.BasisUnavailable {
		t.Fatalf("basis = %s, want unavailable", res.Basis)
	}
}

func TestStartRefusesUnresolvedAuth(t *testing.T) {
	t.Setenv(envAPIKey, "")

	a := New(context.Background(), provider.Config{})
	_, err := a.Start(context.Background(), provider.StartRequest{Task: "t1", LogPath: "/tmp/l", RCPath: "/tmp/r"})
	if !provider.IsAuthUnresolved(err) {
		t.Fatalf("err = %v, want auth unresolved", err)
	}
}
