// Package artifact persists the durable record of every dispatched job.
//
// One directory per (provider, task) holds the pid record, the current
// and rotated logs, metadata, the terminal outcome, the raw captured
// exit code, the runtime contract, and the mutation/heartbeat markers.
// A job has no existence beyond this set: the supervisor reconstructs
// state purely from these files on every poll, so supervision survives
// restarts of the orchestrator itself.
//
// Directory layout:
//
//	<root>/<provider>/<task>/job.pid
//	<root>/<provider>/<task>/job.log[.N]
//	<root>/<provider>/<task>/meta.json
//	<root>/<provider>/<task>/outcome.json
//	<root>/<provider>/<task>/rc
//	<root>/<provider>/<task>/contract.json
//	<root>/<provider>/<task>/mutation.json
//	<root>/<provider>/<task>/heartbeat.json
//
// Artifacts are never deleted automatically; Remove backs the explicit
// prune command only.
package artifact

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// Artifact file names within a set directory.
const (
	pidFile       = "job.pid"
	logFile       = "job.log"
	metaFile      = "meta.json"
	outcomeFile   = "outcome.json"
	rcFile        = "rc"
	contractFile  = "contract.json"
	mutationFile  = "mutation.json"
	heartbeatFile = "heartbeat.json"
)

// Sentinel errors.
var (
	// ErrOutcomeExists is returned when a terminal outcome is already
	// recorded. Outcomes are written exactly once.
	ErrOutcomeExists = errors.New("outcome already recorded")

	// ErrRCExists is returned when a raw exit code is already captured.
	ErrRCExists = errors.New("exit code already captured")

	// ErrNotFound is returned when a requested artifact does not exist.
	ErrNotFound = errors.New("artifact not found")
)

// Store reads and writes artifact sets under one root directory.
type Store struct {
	root string
}

// NewStore returns a store rooted at the given directory.
func NewStore(root string) *Store {
	return &Store{root: strings.TrimSpace(root)}
}

// Root returns the store's root directory.
func (s *Store) Root() string {
	return s.root
}

// Dir returns the artifact directory for a job identity.
func (s *Store) Dir(key Key) string {
	return filepath.Join(s.root, key.Provider, key.Task)
}

// Exists reports whether an artifact set exists for the identity.
func (s *Store) Exists(key Key) bool {
	_, err := os.Stat(s.Dir(key))
	return err == nil
}

func (s *Store) ensureDir(key Key) error {
	if s.root == "" {
		return fmt.Errorf("artifact store root is empty")
	}
	if err := validateKey(key); err != nil {
		return err
	}
	return os.MkdirAll(s.Dir(key), 0755)
}

// validateKey rejects identities that would escape the store layout.
func validateKey(key Key) error {
	for _, part := range []string{key.Provider, key.Task} {
		if strings.TrimSpace(part) == "" {
			return fmt.Errorf("artifact key has an empty component")
		}
		if strings.ContainsAny(part, "/\\") || part == "." || part == ".." {
			return fmt.Errorf("artifact key component %q is not path-safe", part)
		}
	}
	return nil
}

// WritePID records the tracked process id.
func (s *Store) WritePID(key Key, pid int) error {
	if err := s.ensureDir(key); err != nil {
		return err
	}
	return s.writeAtomic(key, pidFile, []byte(strconv.Itoa(pid)+"\n"))
}

// ReadPID returns the tracked process id. ErrNotFound when no pid has
// been recorded.
func (s *Store) ReadPID(key Key) (int, error) {
	b, err := os.ReadFile(filepath.Join(s.Dir(key), pidFile))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, ErrNotFound
		}
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil {
		return 0, fmt.Errorf("parse pid record: %w", err)
	}
	return pid, nil
}

// LogPath returns the current log path for a job identity.
func (s *Store) LogPath(key Key) string {
	return filepath.Join(s.Dir(key), logFile)
}

// RCPath returns the raw exit code path for a job identity.
func (s *Store) RCPath(key Key) string {
	return filepath.Join(s.Dir(key), rcFile)
}

// OpenLog opens the current log for appending, creating it if absent.
// The log is never opened with truncation.
func (s *Store) OpenLog(key Key) (*os.File, error) {
	if err := s.ensureDir(key); err != nil {
		return nil, err
	}
	return os.OpenFile(s.LogPath(key), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
}

// LogSize returns the current log size in bytes, zero when absent.
func (s *Store) LogSize(key Key) (int64, error) {
	info, err := os.Stat(s.LogPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	return info.Size(), nil
}

// RotateLogs shifts the current log to job.log.1 after renumbering
// prior rotations upward, so the newest rotation is always .1 and N
// restarts leave N rotated logs plus one current log. Rotation is the
// only path that moves a log; nothing ever truncates one.
//
// Returns the path the current log was rotated to, or empty when there
// was no current log.
func (s *Store) RotateLogs(key Key) (string, error) {
	dir := s.Dir(key)
	current := s.LogPath(key)
	if _, err := os.Stat(current); err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}

	rotated := s.RotatedLogs(key)
	// Shift highest-numbered first so renames never collide.
	for i := len(rotated); i >= 1; i-- {
		from := filepath.Join(dir, fmt.Sprintf("%s.%d", logFile, i))
		to := filepath.Join(dir, fmt.Sprintf("%s.%d", logFile, i+1))
		if err := os.Rename(from, to); err != nil {
			return "", fmt.Errorf("shift rotated log %d: %w", i, err)
		}
	}

	dest := filepath.Join(dir, logFile+".1")
	if err := os.Rename(current, dest); err != nil {
		return "", fmt.Errorf("rotate current log: %w", err)
	}
	return dest, nil
}

// RotatedLogs returns the rotated log paths, newest (.1) first.
func (s *Store) RotatedLogs(key Key) []string {
	dir := s.Dir(key)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}

	type numbered struct {
		n    int
		path string
	}
	var logs []numbered
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, logFile+".") {
			continue
		}
		n, err := strconv.Atoi(strings.TrimPrefix(name, logFile+"."))
		if err != nil || n < 1 {
			continue
		}
		logs = append(logs, numbered{n: n, path: filepath.Join(dir, name)})
	}
	sort.Slice(logs, func(i, j int) bool { return logs[i].n < logs[j].n })

	out := make([]string, len(logs))
	for i, l := range logs {
		out[i] = l.path
	}
	return out
}

// WriteMeta persists job metadata.
func (s *Store) WriteMeta(key Key, meta *Meta) error {
	if meta == nil {
		return fmt.Errorf("meta is nil")
	}
	if err := s.ensureDir(key); err != nil {
		return err
	}
	return s.writeJSON(key, metaFile, meta)
}

// ReadMeta loads job metadata. ErrNotFound when the set has no meta.
func (s *Store) ReadMeta(key Key) (*Meta, error) {
	var meta Meta
	if err := s.readJSON(key, metaFile, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

// WriteOutcome records the terminal outcome exactly once. A second
// write for the same job identity returns ErrOutcomeExists; the first
// recorded outcome stays authoritative.
func (s *Store) WriteOutcome(key Key, out *Outcome) error {
	if out == nil {
		return fmt.Errorf("outcome is nil")
	}
	if err := s.ensureDir(key); err != nil {
		return err
	}
	if _, err := os.Stat(filepath.Join(s.Dir(key), outcomeFile)); err == nil {
		return ErrOutcomeExists
	}
	return s.writeJSON(key, outcomeFile, out)
}

// ReadOutcome loads the terminal outcome. ErrNotFound when the job has
// not finalized.
func (s *Store) ReadOutcome(key Key) (*Outcome, error) {
	var out Outcome
	if err := s.readJSON(key, outcomeFile, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ClearOutcome removes a terminal outcome as part of an explicit
// operator restart. Routine polling never calls this.
func (s *Store) ClearOutcome(key Key) error {
	err := os.Remove(filepath.Join(s.Dir(key), outcomeFile))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// WriteRC captures the raw exit code. The file is created exclusively:
// the launch shim writes it exactly once at child exit and a second
// write returns ErrRCExists.
func (s *Store) WriteRC(key Key, code int) error {
	if err := s.ensureDir(key); err != nil {
		return err
	}
	f, err := os.OpenFile(s.RCPath(key), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		if os.IsExist(err) {
			return ErrRCExists
		}
		return err
	}
	_, werr := f.WriteString(strconv.Itoa(code) + "\n")
	if cerr := f.Close(); werr == nil {
		werr = cerr
	}
	return werr
}

// ReadRC returns the captured raw exit code. The boolean reports
// whether a code was captured at all.
func (s *Store) ReadRC(key Key) (int, bool, error) {
	b, err := os.ReadFile(s.RCPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, false, nil
		}
		return 0, false, err
	}
	code, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil {
		return 0, false, fmt.Errorf("parse rc record: %w", err)
	}
	return code, true, nil
}

// ClearRC removes a captured exit code as part of an explicit restart.
func (s *Store) ClearRC(key Key) error {
	err := os.Remove(s.RCPath(key))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// WriteContract pins the runtime contract at launch time.
func (s *Store) WriteContract(key Key, c *Contract) error {
	if c == nil {
		return fmt.Errorf("contract is nil")
	}
	if err := s.ensureDir(key); err != nil {
		return err
	}
	return s.writeJSON(key, contractFile, c)
}

// ReadContract loads the pinned runtime contract.
func (s *Store) ReadContract(key Key) (*Contract, error) {
	var c Contract
	if err := s.readJSON(key, contractFile, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// MarkMutation records the observed workspace mutation count.
func (s *Store) MarkMutation(key Key, m *Mutation) error {
	if m == nil {
		return fmt.Errorf("mutation is nil")
	}
	if err := s.ensureDir(key); err != nil {
		return err
	}
	return s.writeJSON(key, mutationFile, m)
}

// ReadMutation loads the mutation marker. ErrNotFound when no mutation
// has been observed yet.
func (s *Store) ReadMutation(key Key) (*Mutation, error) {
	var m Mutation
	if err := s.readJSON(key, mutationFile, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// TouchHeartbeat records the last observed sign of life.
func (s *Store) TouchHeartbeat(key Key, hb *Heartbeat) error {
	if hb == nil {
		return fmt.Errorf("heartbeat is nil")
	}
	if err := s.ensureDir(key); err != nil {
		return err
	}
	return s.writeJSON(key, heartbeatFile, hb)
}

// ReadHeartbeat loads the heartbeat marker.
func (s *Store) ReadHeartbeat(key Key) (*Heartbeat, error) {
	var hb Heartbeat
	if err := s.readJSON(key, heartbeatFile, &hb); err != nil {
		return nil, err
	}
	return &hb, nil
}

// List returns every job identity with an artifact set, sorted by
// provider then task.
func (s *Store) List() ([]Key, error) {
	providers, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read artifact root: %w", err)
	}

	var keys []Key
	for _, p := range providers {
		if !p.IsDir() {
			continue
		}
		tasks, err := os.ReadDir(filepath.Join(s.root, p.Name()))
		if err != nil {
			continue
		}
		for _, t := range tasks {
			if !t.IsDir() {
				continue
			}
			keys = append(keys, Key{Provider: p.Name(), Task: t.Name()})
		}
	}

	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Provider != keys[j].Provider {
			return keys[i].Provider < keys[j].Provider
		}
		return keys[i].Task < keys[j].Task
	})
	return keys, nil
}

// Remove deletes an artifact set. This backs the explicit prune
// command only; nothing in the runner removes artifacts implicitly.
func (s *Store) Remove(key Key) error {
	if err := validateKey(key); err != nil {
		return err
	}
	return os.RemoveAll(s.Dir(key))
}

// writeJSON writes a JSON record atomically (temp file + rename) so a
// concurrent reader never observes a partial record.
func (s *Store) writeJSON(key Key, name string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", name, err)
	}
	return s.writeAtomic(key, name, append(b, '\n'))
}

func (s *Store) writeAtomic(key Key, name string, data []byte) error {
	dir := s.Dir(key)
	tmp, err := os.CreateTemp(dir, name+".tmp.*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", name, err)
	}
	if err := os.Rename(tmpName, filepath.Join(dir, name)); err != nil {
		return fmt.Errorf("rename %s: %w", name, err)
	}
	return nil
}

func (s *Store) readJSON(key Key, name string, v any) error {
	b, err := os.ReadFile(filepath.Join(s.Dir(key), name))
	if err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return err
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("parse %s: %w", name, err)
	}
	return nil
}
