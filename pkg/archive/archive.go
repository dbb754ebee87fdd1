package archive

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/3leaps/dxrunner/pkg/artifact"
)

// Uploader puts one object into the destination store. The S3 client
// satisfies it in production; tests substitute a recorder.
type Uploader interface {
	Put(ctx context.Context, key string, body io.Reader, contentLength int64) error
}

// JobArchive summarizes one exported artifact set.
type JobArchive struct {
	Key   artifact.Key `json:"key"`
	Files []string     `json:"files"`
	Bytes int64        `json:"bytes"`
}

// Archiver exports artifact sets to object storage. Every file of a
// job's artifact directory is uploaded under
// <prefix>/<provider>/<task>/<filename>, so a restored set is
// byte-identical to the local one.
type Archiver struct {
	store    *artifact.Store
	uploader Uploader
	prefix   string
	limiter  *rate.Limiter
	logger   *zap.Logger
}

// Option configures an Archiver.
type Option func(*Archiver)

// WithLogger attaches a structured logger.
func WithLogger(l *zap.Logger) Option {
	return func(a *Archiver) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithRateLimit caps uploads per second. Zero or negative disables
// limiting.
func WithRateLimit(perSecond float64) Option {
	return func(a *Archiver) {
		if perSecond > 0 {
			a.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
		}
	}
}

// NewArchiver builds an archiver over a local store and an uploader.
func NewArchiver(store *artifact.Store, uploader Uploader, prefix string, opts ...Option) *Archiver {
	a := &Archiver{
		store:    store,
		uploader: uploader,
		prefix:   prefix,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// ArchiveJob uploads every file of one job's artifact set.
func (a *Archiver) ArchiveJob(ctx context.Context, key artifact.Key) (*JobArchive, error) {
	dir := a.store.Dir(key)
	if _, err := os.Stat(dir); err != nil {
		return nil, fmt.Errorf("archive %s/%s: %w", key.Provider, key.Task, err)
	}

	result := &JobArchive{Key: key}
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		n, err := a.uploadFile(ctx, key, rel, p)
		if err != nil {
			return err
		}
		result.Files = append(result.Files, rel)
		result.Bytes += n
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(result.Files)
	a.logger.Info("archived job artifacts",
		zap.String("provider", key.Provider),
		zap.String("task", key.Task),
		zap.Int("files", len(result.Files)),
		zap.Int64("bytes", result.Bytes))
	return result, nil
}

// ArchiveAll uploads every job's artifact set. Per-job failures abort
// the run; already-uploaded sets stay uploaded.
func (a *Archiver) ArchiveAll(ctx context.Context) ([]JobArchive, error) {
	keys, err := a.store.List()
	if err != nil {
		return nil, err
	}

	archives := make([]JobArchive, 0, len(keys))
	for _, key := range keys {
		ja, err := a.ArchiveJob(ctx, key)
		if err != nil {
			return archives, err
		}
		archives = append(archives, *ja)
	}
	return archives, nil
}

// ObjectKey returns the destination key for one artifact file.
func (a *Archiver) ObjectKey(key artifact.Key, filename string) string {
	parts := []string{key.Provider, key.Task, filename}
	if a.prefix != "" {
		parts = append([]string{a.prefix}, parts...)
	}
	return path.Join(parts...)
}

func (a *Archiver) uploadFile(ctx context.Context, key artifact.Key, rel, local string) (int64, error) {
	if a.limiter != nil {
		if err := a.limiter.Wait(ctx); err != nil {
			return 0, err
		}
	}

	f, err := os.Open(local)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, err
	}

	objectKey := a.ObjectKey(key, rel)
	if err := a.uploader.Put(ctx, objectKey, f, info.Size()); err != nil {
		return 0, fmt.Errorf("upload %s: %w", objectKey, err)
	}
	return info.Size(), nil
}
