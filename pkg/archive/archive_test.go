package archive

import (
	"context"
	"errors"
	"io"
	"sort"
	"testing"
	"time"

	"github.com/3leaps/dxrunner/pkg/artifact"
)

// recordingUploader captures keys and sizes instead of touching a
// network.
type recordingUploader struct {
	keys  []string
	bytes int64
	fail  error
}

func (u *recordingUploader) Put(ctx context.Context, key string, body io.Reader, contentLength int64) error {
	if u.fail != nil {
		return u.fail
	}
	n, err := io.Copy(io.Discard, body)
	if err != nil {
		return err
	}
	if n != contentLength {
		return errors.New("content length mismatch")
	}
	u.keys = append(u.keys, key)
	u.bytes += n
	return nil
}

func seedArtifacts(t *testing.T, store *artifact.Store, key artifact.Key) {
	t.Helper()
	meta := &artifact.Meta{
		Task:      key.Task,
		Provider:  key.Provider,
		CreatedAt: time.Now().UTC(),
	}
	if err := store.WriteMeta(key, meta); err != nil {
		t.Fatalf("write meta: %v", err)
	}
	if err := store.WritePID(key, 12345); err != nil {
		t.Fatalf("write pid: %v", err)
	}
	f, err := store.OpenLog(key)
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	if _, err := f.WriteString("job output\n"); err != nil {
		t.Fatalf("write log: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close log: %v", err)
	}
}

func TestArchiveJobKeyLayout(t *testing.T) {
	store := artifact.NewStore(t.TempDir())
	key := artifact.Key{Provider: "ccglm", Task: "t1"}
	seedArtifacts(t, store, key)

	up := &recordingUploader{}
	a := NewArchiver(store, up, "runs/2026")

	ja, err := a.ArchiveJob(context.Background(), key)
	if err != nil {
		t.Fatalf("ArchiveJob: %v", err)
	}
	if len(ja.Files) != 3 {
		t.Fatalf("files = %v, want 3 entries", ja.Files)
	}
	if ja.Bytes == 0 {
		t.Fatal("archived zero bytes")
	}

	sort.Strings(up.keys)
	for _, k := range up.keys {
		want := "runs/2026/ccglm/t1/"
		if len(k) <= len(want) || k[:len(want)] != want {
			t.Fatalf("key %q missing prefix %q", k, want)
		}
	}
}

func TestArchiveJobNoPrefix(t *testing.T) {
	store := artifact.NewStore(t.TempDir())
	key := artifact.Key{Provider: "gemini", Task: "t2"}
	seedArtifacts(t, store, key)

	up := &recordingUploader{}
	a := NewArchiver(store, up, "")

	if _, err := a.ArchiveJob(context.Background(), key); err != nil {
		t.Fatalf("ArchiveJob: %v", err)
	}
	want := "gemini/t2/job.pid"
	found := false
	for _, k := range up.keys {
		if k == want {
			found = true
		}
	}
	if !found {
		t.Fatalf("keys = %v, want %q present", up.keys, want)
	}
}

func TestArchiveJobMissing(t *testing.T) {
	store := artifact.NewStore(t.TempDir())
	a := NewArchiver(store, &recordingUploader{}, "")

	if _, err := a.ArchiveJob(context.Background(), artifact.Key{Provider: "ccglm", Task: "absent"}); err == nil {
		t.Fatal("expected error for missing artifact set")
	}
}

func TestArchiveJobUploadFailureAborts(t *testing.T) {
	store := artifact.NewStore(t.TempDir())
	key := artifact.Key{Provider: "ccglm", Task: "t1"}
	seedArtifacts(t, store, key)

	up := &recordingUploader{fail: errors.New("boom")}
	a := NewArchiver(store, up, "")

	if _, err := a.ArchiveJob(context.Background(), key); err == nil {
		t.Fatal("expected upload failure to surface")
	}
}

func TestArchiveAll(t *testing.T) {
	store := artifact.NewStore(t.TempDir())
	k1 := artifact.Key{Provider: "ccglm", Task: "a"}
	k2 := artifact.Key{Provider: "opencode", Task: "b"}
	seedArtifacts(t, store, k1)
	seedArtifacts(t, store, k2)

	up := &recordingUploader{}
	a := NewArchiver(store, up, "archive")

	archives, err := a.ArchiveAll(context.Background())
	if err != nil {
		t.Fatalf("ArchiveAll: %v", err)
	}
	if len(archives) != 2 {
		t.Fatalf("archives = %d, want 2", len(archives))
	}
	if len(up.keys) != 6 {
		t.Fatalf("uploaded keys = %d, want 6", len(up.keys))
	}
}

func TestRateLimitHonorsContext(t *testing.T) {
	store := artifact.NewStore(t.TempDir())
	key := artifact.Key{Provider: "ccglm", Task: "t1"}
	seedArtifacts(t, store, key)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	a := NewArchiver(store, &recordingUploader{}, "", WithRateLimit(0.001))
	if _, err := a.ArchiveJob(ctx, key); err == nil {
		t.Fatal("expected cancelled context to abort a rate-limited upload")
	}
}
