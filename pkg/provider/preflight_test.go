package provider

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/3leaps/dxrunner/pkg/output"
	"github.com/3leaps/dxrunner/pkg/probe"
)

// fakeCLI drops an executable shell script on a temp PATH entry.
func fakeCLI(t *testing.T, name, script string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script+"\n"), 0o755); err != nil {
		t.Fatalf("write fake cli: %v", err)
	}
	t.Setenv("PATH", dir+string(os.PathListSeparator)+os.Getenv("PATH"))
}

func checkByName(t *testing.T, results []CheckResult, name string) CheckResult {
	t.Helper()
	for _, r := range results {
		if r.Check == name {
			return r
		}
	}
	t.Fatalf("no %s check in %+v", name, results)
	return CheckResult{}
}

func probeSpecFor(cfg Config) func(string) probe.Spec {
	return func(model string) probe.Spec {
		return probe.Spec{Binary: cfg.Binary, Args: []string{"--model", model}}
	}
}

func TestPreflightAllPass(t *testing.T) {
	fakeCLI(t, "fakeagent", "echo OK")
	t.Setenv("FAKE_TOKEN", "tok-1234")

	cfg := Config{Binary: "fakeagent", CanonicalModel: "m1"}
	cfg.Auth.EnvVar = "FAKE_TOKEN"

	results := PreflightChecks(context.Background(), cfg, probeSpecFor(cfg))
	if len(results) != 3 {
		t.Fatalf("got %d checks, want 3: %+v", len(results), results)
	}
	for _, r := range results {
		if !r.Passed {
			t.Fatalf("check %s failed: %s", r.Check, r.Detail)
		}
	}

	auth := checkByName(t, results, CheckAuth)
	if auth.Detail == "" {
		t.Fatal("auth check must name the matched source")
	}
}

func TestPreflightBinaryMissingSkipsProbe(t *testing.T) {
	t.Setenv("FAKE_TOKEN", "tok-1234")

	cfg := Config{Binary: "definitely-not-installed-xyz", CanonicalModel: "m1"}
	cfg.Auth.EnvVar = "FAKE_TOKEN"

	results := PreflightChecks(context.Background(), cfg, probeSpecFor(cfg))

	binary := checkByName(t, results, CheckBinary)
	if binary.Passed {
		t.Fatal("binary check passed for a missing binary")
	}
	if binary.Code != output.CodeBinaryMissing {
		t.Fatalf("binary code = %s, want %s", binary.Code, output.CodeBinaryMissing)
	}
	if binary.Severity != SeverityError {
		t.Fatalf("binary severity = %s, want error", binary.Severity)
	}

	for _, r := range results {
		if r.Check == CheckModel {
			t.Fatal("model probe must be skipped when the binary is missing")
		}
	}
}

func TestPreflightAuthUnresolved(t *testing.T) {
	fakeCLI(t, "fakeagent", "echo OK")

	cfg := Config{Binary: "fakeagent", CanonicalModel: "m1"}
	cfg.Auth.EnvVar = "DXRUNNER_TEST_UNSET_VAR"
	t.Setenv("DXRUNNER_TEST_UNSET_VAR", "")

	results := PreflightChecks(context.Background(), cfg, probeSpecFor(cfg))

	auth := checkByName(t, results, CheckAuth)
	if auth.Passed {
		t.Fatal("auth check passed with an empty chain")
	}
	if auth.Code != output.CodeAuthUnresolved {
		t.Fatalf("auth code = %s, want %s", auth.Code, output.CodeAuthUnresolved)
	}
}

func TestPreflightResolverMissing(t *testing.T) {
	fakeCLI(t, "fakeagent", "echo OK")

	cfg := Config{Binary: "fakeagent", CanonicalModel: "m1"}
	cfg.Auth.SecretRef = "op://vault/item"
	cfg.Auth.ResolverCommand = "definitely-not-a-resolver-xyz"

	results := PreflightChecks(context.Background(), cfg, probeSpecFor(cfg))

	resolver := checkByName(t, results, CheckResolver)
	if resolver.Passed {
		t.Fatal("resolver check passed for a missing resolver")
	}
	if resolver.Code != output.CodeResolverMissing {
		t.Fatalf("resolver code = %s, want %s", resolver.Code, output.CodeResolverMissing)
	}
	if resolver.Severity != SeverityWarning {
		t.Fatalf("resolver severity = %s, want warning", resolver.Severity)
	}

	auth := checkByName(t, results, CheckAuth)
	if auth.Passed {
		t.Fatal("auth cannot resolve without the resolver")
	}
	if auth.Code != output.CodeResolverMissing {
		t.Fatalf("auth code = %s, want %s", auth.Code, output.CodeResolverMissing)
	}
}

func TestPreflightProbeFailureIsWarning(t *testing.T) {
	fakeCLI(t, "fakeagent", "echo model unreachable >&2; exit 1")
	t.Setenv("FAKE_TOKEN", "tok-1234")

	cfg := Config{Binary: "fakeagent", CanonicalModel: "m1"}
	cfg.Auth.EnvVar = "FAKE_TOKEN"

	results := PreflightChecks(context.Background(), cfg, probeSpecFor(cfg))

	model := checkByName(t, results, CheckModel)
	if model.Passed {
		t.Fatal("model probe passed for a failing binary")
	}
	if model.Code != probe.CodeFailed {
		t.Fatalf("model code = %s, want %s", model.Code, probe.CodeFailed)
	}
	if model.Severity != SeverityWarning {
		t.Fatalf("model severity = %s, want warning", model.Severity)
	}
}

func TestPreflightIdempotent(t *testing.T) {
	fakeCLI(t, "fakeagent", "echo OK")
	t.Setenv("FAKE_TOKEN", "tok-1234")

	cfg := Config{Binary: "fakeagent", CanonicalModel: "m1"}
	cfg.Auth.EnvVar = "FAKE_TOKEN"

	first := PreflightChecks(context.Background(), cfg, probeSpecFor(cfg))
	second := PreflightChecks(context.Background(), cfg, probeSpecFor(cfg))
	if len(first) != len(second) {
		t.Fatalf("check counts differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].Check != second[i].Check || first[i].Passed != second[i].Passed || first[i].Code != second[i].Code {
			t.Fatalf("run %d differs: %+v vs %+v", i, first[i], second[i])
		}
	}
}
