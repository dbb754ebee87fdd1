package gemini

import (
	"context"
	"strings"
	"testing"

	"github.com/3leaps/dxrunner/pkg/provider"
)

func TestDefaultsIncludeFallbackChain(t *testing.T) {
	t.Setenv(envAPIKey, "tok-1234")

	a := New(context.Background(), provider.Config{})
	if a.Type() != provider.TypeGemini {
		t.Fatalf("type = %s", a.Type())
	}

	res := a.ResolveModel("")
	if res.Model != DefaultModel || res.Basis != provider.BasisPreferred {
		t.Fatalf("default resolution = %+v", res)
	}

	res = a.ResolveModel(DefaultFallbackModel)
	if res.Basis != provider.BasisFallback {
		t.Fatalf("fallback resolution = %+v", res)
	}

	res = a.ResolveModel("gemini-1.0-ultra")
	if res.Basis != provider.BasisUnavailable {
		t.Fatalf("out-of-chain resolution = %+v", res)
	}
}

func TestExplicitCanonicalSkipsDefaultFallback(t *testing.T) {
	t.Setenv(envAPIKey, "tok-1234")

	a := New(context.Background(), provider.Config{CanonicalModel: "gemini-3-pro"})
	res := a.ResolveModel(DefaultFallbackModel)
	if res.Basis != provider.BasisUnavailable {
		t.Fatalf("explicit canonical must not inherit the default fallback chain, got %+v", res)
	}
}

func TestLaunchSpec(t *testing.T) {
	t.Setenv(envAPIKey, "tok-1234")

	a := New(context.Background(), provider.Config{})
	spec := a.launchSpec(provider.StartRequest{
		Task:       "t1",
		PromptPath: "/tmp/prompt.md",
		Workspace:  "/work/repo",
		LogPath:    "/tmp/job.log",
		RCPath:     "/tmp/rc",
	}, DefaultModel)

	want := []string{DefaultBinary, "--model", DefaultModel}
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

func TestStartRefusesUnresolvedAuth(t *testing.T) {
	t.Setenv(envAPIKey, "")

	a := New(context.Background(), provider.Config{})
	_, err := a.Start(context.Background(), provider.StartRequest{Task: "t1", LogPath: "/tmp/l", RCPath: "/tmp/r"})
	if !provider.IsAuthUnresolved(err) {
		t.Fatalf("err = %v, want auth unresolved", err)
	}
}
