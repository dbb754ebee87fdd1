package provider

import "testing"

func TestResolveModelPreferred(t *testing.T) {
	cfg := Config{CanonicalModel: "model-a", FallbackModels: []string{"model-b"}}

	for _, requested := range []string{"", "model-a", "  model-a  "} {
		res := cfg.ResolveModel(requested)
		if res.Basis != BasisPreferred {
			t.Fatalf("requested %q: basis = %s, want %s", requested, res.Basis, BasisPreferred)
		}
		if res.Model != "model-a" {
			t.Fatalf("requested %q: model = %s, want model-a", requested, res.Model)
		}
	}
}

func TestResolveModelFallback(t *testing.T) {
	cfg := Config{CanonicalModel: "model-a", FallbackModels: []string{"model-b", "model-c"}}

	res := cfg.ResolveModel("model-c")
	if res.Basis != BasisFallback {
		t.Fatalf("basis = %s, want %s", res.Basis, BasisFallback)
	}
	if res.Model != "model-c" {
		t.Fatalf("model = %s, want model-c", res.Model)
	}
	if res.Reason == "" {
		t.Fatal("fallback resolution must carry a reason")
	}
}

func TestResolveModelOutsideChain(t *testing.T) {
	cfg := Config{CanonicalModel: "model-a", FallbackModels: []string{"model-b"}}

	res := cfg.ResolveModel("model-z")
	if res.Basis != BasisUnavailable {
		t.Fatalf("basis = %s, want %s", res.Basis, BasisUnavailable)
	}
	if res.Model != "" {
		t.Fatalf("unavailable resolution must not select a model, got %s", res.Model)
	}
	if res.Reason == "" {
		t.Fatal("unavailable resolution must carry a reason")
	}
}

func TestResolveModelNoCanonical(t *testing.T) {
	res := Config{}.ResolveModel("")
	if res.Basis != BasisUnavailable {
		t.Fatalf("basis = %s, want %s", res.Basis, BasisUnavailable)
	}
}

func TestResolveModelDeterministic(t *testing.T) {
	cfg := Config{CanonicalModel: "model-a", FallbackModels: []string{"model-b"}}

	first := cfg.ResolveModel("model-b")
	second := cfg.ResolveModel("model-b")
	if first != second {
		t.Fatalf("resolution not deterministic: %+v vs %+v", first, second)
	}
}

func TestSeverityDefaults(t *testing.T) {
	cfg := Config{}
	cases := map[string]string{
		CheckBinary:   SeverityError,
		CheckAuth:     SeverityError,
		CheckModel:    SeverityWarning,
		CheckResolver: SeverityWarning,
	}
	for check, want := range cases {
		if got := cfg.SeverityFor(check); got != want {
			t.Fatalf("SeverityFor(%s) = %s, want %s", check, got, want)
		}
	}
}

func TestSeverityOverride(t *testing.T) {
	cfg := Config{Severity: map[string]string{
		CheckModel:  "ERROR",
		CheckBinary: "warning",
		CheckAuth:   "bogus",
	}}
	if got := cfg.SeverityFor(CheckModel); got != SeverityError {
		t.Fatalf("model severity = %s, want error", got)
	}
	if got := cfg.SeverityFor(CheckBinary); got != SeverityWarning {
		t.Fatalf("binary severity = %s, want warning", got)
	}
	// Unparseable overrides fall back to the default.
	if got := cfg.SeverityFor(CheckAuth); got != SeverityError {
		t.Fatalf("auth severity = %s, want error", got)
	}
}

func TestParseType(t *testing.T) {
	for _, typ := range Types() {
		got, err := ParseType("  " + string(typ) + " ")
		if err != nil {
			t.Fatalf("ParseType(%s): %v", typ, err)
		}
		if got != typ {
			t.Fatalf("ParseType(%s) = %s", typ, got)
		}
	}

	if _, err := ParseType("codex"); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}
