package supervisor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/3leaps/dxrunner/pkg/artifact"
	"github.com/3leaps/dxrunner/pkg/output"
	"github.com/3leaps/dxrunner/pkg/provider"
)

// staleHeartbeat marks a job silent for two hours with baselines no
// placeholder process can outrun.
func staleHeartbeat(t *testing.T, store *artifact.Store, key artifact.Key) {
	t.Helper()
	hb := &artifact.Heartbeat{
		Source:   artifact.HeartbeatLog,
		At:       time.Now().UTC().Add(-2 * time.Hour),
		LogBytes: 1 << 40,
		CPUTicks: 1 << 40,
	}
	if err := store.TouchHeartbeat(key, hb); err != nil {
		t.Fatalf("write heartbeat: %v", err)
	}
}

func seedStalledJob(t *testing.T, store *artifact.Store, key artifact.Key) (*artifact.Meta, int) {
	t.Helper()
	pid := spawnSleep(t)
	meta := seedJob(t, store, key, t.TempDir(), pid)
	meta.PromptSource = "/tmp/prompt.md"
	if err := store.WriteMeta(key, meta); err != nil {
		t.Fatalf("write meta: %v", err)
	}
	if err := store.WriteContract(key, &artifact.Contract{
		AuthSource: "direct:TOK",
		Model:      "m1",
		ScopeHash:  "h1",
	}); err != nil {
		t.Fatalf("write contract: %v", err)
	}
	staleHeartbeat(t, store, key)
	return meta, pid
}

func newWatchdog(t *testing.T, sup *Supervisor, fa *fakeAdapter, mode Mode) *Watchdog {
	t.Helper()
	runtimes := map[provider.Type]Runtime{
		provider.TypeCCGLM: {Adapter: fa, AuthSource: "direct:TOK", BaseURL: ""},
	}
	return NewWatchdog(sup, runtimes, mode, time.Minute, WithScopeHash("h1"))
}

func TestWatchdogRestartsOnceThenBlocks(t *testing.T) {
	sup, store := newSupervisor(t)
	key := artifact.Key{Provider: "ccglm", Task: "t1"}
	_, firstPID := seedStalledJob(t, store, key)

	fa := &fakeAdapter{model: "m1", spawn: func() (int, error) { return spawnSleep(t), nil }}
	wd := newWatchdog(t, sup, fa, ModeNormal)

	// First pass: stalled with budget remaining, restart.
	if err := wd.RunOnce(context.Background()); err != nil {
		t.Fatalf("first pass: %v", err)
	}
	if fa.starts != 1 {
		t.Fatalf("starts = %d, want 1", fa.starts)
	}

	meta, err := store.ReadMeta(key)
	if err != nil {
		t.Fatalf("read meta: %v", err)
	}
	if meta.RetryCount != 1 {
		t.Fatalf("retry count = %d, want 1", meta.RetryCount)
	}
	if logs := store.RotatedLogs(key); len(logs) != 0 {
		// No current log existed, so rotation left nothing behind.
		t.Fatalf("rotated logs = %d, want 0", len(logs))
	}

	deadline := time.Now().Add(3 * time.Second)
	for provider.IsAlive(firstPID) && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	if provider.IsAlive(firstPID) {
		t.Fatal("first attempt's process survived the restart")
	}

	// Second stall: budget exhausted, block.
	staleHeartbeat(t, store, key)
	if err := wd.RunOnce(context.Background()); err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if fa.starts != 1 {
		t.Fatalf("starts = %d after second pass, want still 1", fa.starts)
	}

	out, err := store.ReadOutcome(key)
	if err != nil {
		t.Fatalf("read outcome: %v", err)
	}
	if out.State != string(StateBlocked) || out.ReasonCode != output.CodeRetryBudgetExhausted {
		t.Fatalf("outcome = %+v", out)
	}

	// Blocked never auto-clears.
	if err := wd.RunOnce(context.Background()); err != nil {
		t.Fatalf("third pass: %v", err)
	}
	after, err := store.ReadOutcome(key)
	if err != nil {
		t.Fatalf("read outcome: %v", err)
	}
	if after.CompletedAt != out.CompletedAt {
		t.Fatal("blocked outcome rewritten by a later pass")
	}
}

func TestWatchdogObserveNeverRestarts(t *testing.T) {
	sup, store := newSupervisor(t)
	key := artifact.Key{Provider: "ccglm", Task: "t1"}
	seedStalledJob(t, store, key)

	fa := &fakeAdapter{model: "m1", spawn: func() (int, error) { return spawnSleep(t), nil }}
	wd := newWatchdog(t, sup, fa, ModeObserve)

	if err := wd.RunOnce(context.Background()); err != nil {
		t.Fatalf("pass: %v", err)
	}
	if fa.starts != 0 {
		t.Fatal("observe mode restarted a job")
	}
	if _, err := store.ReadOutcome(key); !errors.Is(err, artifact.ErrNotFound) {
		t.Fatalf("observe mode wrote an outcome: %v", err)
	}
}

func TestWatchdogNoAutoRestartBlocksFirstStall(t *testing.T) {
	sup, store := newSupervisor(t)
	key := artifact.Key{Provider: "ccglm", Task: "t1"}
	seedStalledJob(t, store, key)

	fa := &fakeAdapter{model: "m1", spawn: func() (int, error) { return spawnSleep(t), nil }}
	wd := newWatchdog(t, sup, fa, ModeNoAutoRestart)

	if err := wd.RunOnce(context.Background()); err != nil {
		t.Fatalf("pass: %v", err)
	}
	if fa.starts != 0 {
		t.Fatal("no-auto-restart mode restarted a job")
	}

	out, err := store.ReadOutcome(key)
	if err != nil {
		t.Fatalf("read outcome: %v", err)
	}
	if out.State != string(StateBlocked) || out.ReasonCode != output.CodeRestartDisabled {
		t.Fatalf("outcome = %+v", out)
	}
}

func TestWatchdogPerJobOverrideBeatsMode(t *testing.T) {
	sup, store := newSupervisor(t)
	key := artifact.Key{Provider: "ccglm", Task: "t1"}
	meta, _ := seedStalledJob(t, store, key)
	meta.NoAutoRestart = true
	if err := store.WriteMeta(key, meta); err != nil {
		t.Fatalf("write meta: %v", err)
	}

	fa := &fakeAdapter{model: "m1", spawn: func() (int, error) { return spawnSleep(t), nil }}
	wd := newWatchdog(t, sup, fa, ModeNormal)

	if err := wd.RunOnce(context.Background()); err != nil {
		t.Fatalf("pass: %v", err)
	}
	if fa.starts != 0 {
		t.Fatal("per-job override ignored")
	}

	out, err := store.ReadOutcome(key)
	if err != nil {
		t.Fatalf("read outcome: %v", err)
	}
	if out.ReasonCode != output.CodeRestartDisabled {
		t.Fatalf("reason = %s, want %s", out.ReasonCode, output.CodeRestartDisabled)
	}
}

func TestWatchdogBlocksOnContractDrift(t *testing.T) {
	sup, store := newSupervisor(t)
	key := artifact.Key{Provider: "ccglm", Task: "t1"}
	seedStalledJob(t, store, key)

	fa := &fakeAdapter{model: "m1", spawn: func() (int, error) { return spawnSleep(t), nil }}
	runtimes := map[provider.Type]Runtime{
		provider.TypeCCGLM: {Adapter: fa, AuthSource: "direct:ROTATED", BaseURL: ""},
	}
	wd := NewWatchdog(sup, runtimes, ModeNormal, time.Minute, WithScopeHash("h1"))

	if err := wd.RunOnce(context.Background()); err != nil {
		t.Fatalf("pass: %v", err)
	}
	if fa.starts != 0 {
		t.Fatal("drifted contract still restarted")
	}

	out, err := store.ReadOutcome(key)
	if err != nil {
		t.Fatalf("read outcome: %v", err)
	}
	if out.ReasonCode != output.CodeContractDrift {
		t.Fatalf("reason = %s, want %s", out.ReasonCode, output.CodeContractDrift)
	}
}

func TestParseMode(t *testing.T) {
	for _, m := range []Mode{ModeNormal, ModeObserve, ModeNoAutoRestart} {
		got, err := ParseMode(string(m))
		if err != nil || got != m {
			t.Fatalf("ParseMode(%s) = %s, %v", m, got, err)
		}
	}
	if got, err := ParseMode(""); err != nil || got != ModeNormal {
		t.Fatalf("empty mode = %s, %v", got, err)
	}
	if _, err := ParseMode("aggressive"); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}
