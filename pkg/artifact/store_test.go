package artifact

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func testKey() Key {
	return Key{Provider: "ccglm", Task: "gt-100"}
}

func TestWriteOutcomeIsWriteOnce(t *testing.T) {
	s := NewStore(t.TempDir())
	key := testKey()

	first := &Outcome{State: "exited_ok", ReasonCode: "", CompletedAt: time.Now().UTC()}
	if err := s.WriteOutcome(key, first); err != nil {
		t.Fatalf("first WriteOutcome: %v", err)
	}

	second := &Outcome{State: "exited_err", CompletedAt: time.Now().UTC()}
	err := s.WriteOutcome(key, second)
	if !errors.Is(err, ErrOutcomeExists) {
		t.Fatalf("second WriteOutcome: got %v, want ErrOutcomeExists", err)
	}

	got, err := s.ReadOutcome(key)
	if err != nil {
		t.Fatalf("ReadOutcome: %v", err)
	}
	if got.State != "exited_ok" {
		t.Fatalf("outcome overwritten: got state=%s", got.State)
	}
}

func TestWriteRCIsWriteOnce(t *testing.T) {
	s := NewStore(t.TempDir())
	key := testKey()

	if err := s.WriteRC(key, 0); err != nil {
		t.Fatalf("first WriteRC: %v", err)
	}
	if err := s.WriteRC(key, 1); !errors.Is(err, ErrRCExists) {
		t.Fatalf("second WriteRC: got %v, want ErrRCExists", err)
	}

	code, ok, err := s.ReadRC(key)
	if err != nil || !ok {
		t.Fatalf("ReadRC: code=%d ok=%v err=%v", code, ok, err)
	}
	if code != 0 {
		t.Fatalf("rc overwritten: got %d, want 0", code)
	}
}

func TestReadRCAbsent(t *testing.T) {
	s := NewStore(t.TempDir())

	_, ok, err := s.ReadRC(testKey())
	if err != nil {
		t.Fatalf("ReadRC: %v", err)
	}
	if ok {
		t.Fatal("expected no rc captured")
	}
}

func TestRotateLogsPreservesHistory(t *testing.T) {
	s := NewStore(t.TempDir())
	key := testKey()

	// Three attempts: write, rotate, write, rotate, write.
	contents := []string{"attempt one\n", "attempt two\n", "attempt three\n"}
	for i, c := range contents {
		if i > 0 {
			rotated, err := s.RotateLogs(key)
			if err != nil {
				t.Fatalf("RotateLogs %d: %v", i, err)
			}
			if filepath.Base(rotated) != "job.log.1" {
				t.Fatalf("newest rotation should be .1, got %s", rotated)
			}
		}
		f, err := s.OpenLog(key)
		if err != nil {
			t.Fatalf("OpenLog %d: %v", i, err)
		}
		if _, err := f.WriteString(c); err != nil {
			t.Fatalf("write log %d: %v", i, err)
		}
		_ = f.Close()
	}

	rotated := s.RotatedLogs(key)
	if len(rotated) != 2 {
		t.Fatalf("rotated logs: got %d, want 2", len(rotated))
	}

	// Newest first: .1 holds attempt two, .2 holds attempt one.
	b1, err := os.ReadFile(rotated[0])
	if err != nil {
		t.Fatalf("read %s: %v", rotated[0], err)
	}
	if string(b1) != "attempt two\n" {
		t.Fatalf("job.log.1 content: got %q", b1)
	}
	b2, err := os.ReadFile(rotated[1])
	if err != nil {
		t.Fatalf("read %s: %v", rotated[1], err)
	}
	if string(b2) != "attempt one\n" {
		t.Fatalf("job.log.2 content: got %q", b2)
	}

	cur, err := os.ReadFile(s.LogPath(key))
	if err != nil {
		t.Fatalf("read current log: %v", err)
	}
	if string(cur) != "attempt three\n" {
		t.Fatalf("current log content: got %q", cur)
	}
}

func TestRotateLogsWithoutCurrentLog(t *testing.T) {
	s := NewStore(t.TempDir())

	rotated, err := s.RotateLogs(testKey())
	if err != nil {
		t.Fatalf("RotateLogs: %v", err)
	}
	if rotated != "" {
		t.Fatalf("expected no rotation, got %s", rotated)
	}
}

func TestMetaRoundTrip(t *testing.T) {
	s := NewStore(t.TempDir())
	key := testKey()

	started := time.Now().UTC().Truncate(time.Second)
	meta := &Meta{
		Task:       key.Task,
		Provider:   key.Provider,
		Workspace:  "/srv/work/gt-100/repo",
		AttemptID:  "a-1",
		RetryCount: 1,
		LaunchMode: "detached",
		Model:      "glm-4.6",
		ModelBasis: "preferred",
		CreatedAt:  started,
		StartedAt:  &started,
	}
	if err := s.WriteMeta(key, meta); err != nil {
		t.Fatalf("WriteMeta: %v", err)
	}

	got, err := s.ReadMeta(key)
	if err != nil {
		t.Fatalf("ReadMeta: %v", err)
	}
	if got.Workspace != meta.Workspace || got.RetryCount != 1 || got.Model != "glm-4.6" {
		t.Fatalf("meta mismatch: %+v", got)
	}
}

func TestPIDRoundTrip(t *testing.T) {
	s := NewStore(t.TempDir())
	key := testKey()

	if _, err := s.ReadPID(key); !errors.Is(err, ErrNotFound) {
		t.Fatalf("ReadPID before write: got %v, want ErrNotFound", err)
	}
	if err := s.WritePID(key, 4242); err != nil {
		t.Fatalf("WritePID: %v", err)
	}
	pid, err := s.ReadPID(key)
	if err != nil {
		t.Fatalf("ReadPID: %v", err)
	}
	if pid != 4242 {
		t.Fatalf("pid: got %d, want 4242", pid)
	}
}

func TestConcurrentIdentitiesNeverCollide(t *testing.T) {
	s := NewStore(t.TempDir())
	a := Key{Provider: "ccglm", Task: "gt-1"}
	b := Key{Provider: "ccglm", Task: "gt-2"}

	if err := s.WritePID(a, 100); err != nil {
		t.Fatalf("WritePID a: %v", err)
	}
	if err := s.WritePID(b, 200); err != nil {
		t.Fatalf("WritePID b: %v", err)
	}
	if err := s.WriteOutcome(a, &Outcome{State: "exited_ok", CompletedAt: time.Now().UTC()}); err != nil {
		t.Fatalf("WriteOutcome a: %v", err)
	}

	// b must remain unfinalized and keep its own pid.
	if _, err := s.ReadOutcome(b); !errors.Is(err, ErrNotFound) {
		t.Fatalf("b outcome should not exist, got %v", err)
	}
	pid, err := s.ReadPID(b)
	if err != nil || pid != 200 {
		t.Fatalf("b pid: got %d err=%v", pid, err)
	}

	keys, err := s.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("List: got %d keys, want 2", len(keys))
	}
	if keys[0].Task != "gt-1" || keys[1].Task != "gt-2" {
		t.Fatalf("List order: %+v", keys)
	}
}

func TestValidateKeyRejectsUnsafeComponents(t *testing.T) {
	s := NewStore(t.TempDir())

	bad := []Key{
		{Provider: "ccglm", Task: "../escape"},
		{Provider: "", Task: "gt-1"},
		{Provider: "a/b", Task: "gt-1"},
		{Provider: "ccglm", Task: ".."},
	}
	for _, key := range bad {
		if err := s.WritePID(key, 1); err == nil {
			t.Fatalf("key %+v should be rejected", key)
		}
	}
}

func TestHeartbeatAndMutationRoundTrip(t *testing.T) {
	s := NewStore(t.TempDir())
	key := testKey()

	hb := &Heartbeat{Source: HeartbeatLaunch, At: time.Now().UTC(), LogBytes: 10, CPUTicks: 5}
	if err := s.TouchHeartbeat(key, hb); err != nil {
		t.Fatalf("TouchHeartbeat: %v", err)
	}
	gotHB, err := s.ReadHeartbeat(key)
	if err != nil {
		t.Fatalf("ReadHeartbeat: %v", err)
	}
	if gotHB.Source != HeartbeatLaunch || gotHB.LogBytes != 10 {
		t.Fatalf("heartbeat mismatch: %+v", gotHB)
	}

	now := time.Now().UTC()
	if err := s.MarkMutation(key, &Mutation{Count: 3, LastChange: &now, ObservedAt: now}); err != nil {
		t.Fatalf("MarkMutation: %v", err)
	}
	gotM, err := s.ReadMutation(key)
	if err != nil {
		t.Fatalf("ReadMutation: %v", err)
	}
	if gotM.Count != 3 {
		t.Fatalf("mutation count: got %d, want 3", gotM.Count)
	}
}

func TestContractRoundTrip(t *testing.T) {
	s := NewStore(t.TempDir())
	key := testKey()

	c := &Contract{AuthSource: "token_file", Model: "glm-4.6", BaseURL: "https://api.z.ai/api/anthropic", ScopeHash: "abc"}
	if err := s.WriteContract(key, c); err != nil {
		t.Fatalf("WriteContract: %v", err)
	}
	got, err := s.ReadContract(key)
	if err != nil {
		t.Fatalf("ReadContract: %v", err)
	}
	if *got != *c {
		t.Fatalf("contract mismatch: %+v", got)
	}
}

func TestRemove(t *testing.T) {
	s := NewStore(t.TempDir())
	key := testKey()

	if err := s.WritePID(key, 1); err != nil {
		t.Fatalf("WritePID: %v", err)
	}
	if !s.Exists(key) {
		t.Fatal("set should exist")
	}
	if err := s.Remove(key); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if s.Exists(key) {
		t.Fatal("set should be gone")
	}
}
