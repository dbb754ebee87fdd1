package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/3leaps/dxrunner/pkg/artifact"
	"github.com/3leaps/dxrunner/pkg/logscan"
	"github.com/3leaps/dxrunner/pkg/output"
	"github.com/3leaps/dxrunner/pkg/provider"
)

// tailBytes is how much of the log tail outcome enrichment scans.
const tailBytes = 64 * 1024

// Sentinel errors for supervisor operations.
var (
	// ErrJobNotFound indicates no artifact set for the job identity.
	ErrJobNotFound = errors.New("job not found")

	// ErrJobActive indicates a live subprocess already exists for the
	// identity. At most one live subprocess per (provider, task).
	ErrJobActive = errors.New("job already has a live subprocess")

	// ErrJobExists indicates artifacts exist for the identity; a fresh
	// dispatch needs restart or prune first.
	ErrJobExists = errors.New("job artifacts already exist")

	// ErrAlreadyTerminal indicates a recorded outcome already ends the job.
	ErrAlreadyTerminal = errors.New("job already has a terminal outcome")

	// ErrContractDrift indicates the runtime contract changed since
	// launch; restart is refused rather than silently relaunched.
	ErrContractDrift = errors.New("runtime contract drifted since launch")
)

// Config holds the supervision knobs.
type Config struct {
	// StallThreshold is how long a job may stay silent after its first
	// signal before it classifies as stalled.
	StallThreshold time.Duration

	// StartupGrace is how long a job may produce nothing after launch
	// before it classifies as slow_start.
	StartupGrace time.Duration

	// StopGrace is how long Stop waits after SIGTERM before SIGKILL.
	StopGrace time.Duration

	// MaxRetries caps automatic restarts per job identity.
	MaxRetries int
}

func (c Config) withDefaults() Config {
	if c.StallThreshold <= 0 {
		c.StallThreshold = DefaultStallThreshold
	}
	if c.StartupGrace <= 0 {
		c.StartupGrace = DefaultStartupGrace
	}
	if c.StopGrace <= 0 {
		c.StopGrace = provider.DefaultStopGrace
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	return c
}

// Supervisor reconstructs and advances job state from artifact sets.
type Supervisor struct {
	store   *artifact.Store
	cfg     Config
	scanner *logscan.Classifier
	logger  *zap.Logger
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithLogger attaches a structured logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Supervisor) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClassifier attaches a log signature classifier used to enrich
// exited_err outcomes.
func WithClassifier(c *logscan.Classifier) Option {
	return func(s *Supervisor) { s.scanner = c }
}

// New returns a Supervisor over the given artifact store.
func New(store *artifact.Store, cfg Config, opts ...Option) *Supervisor {
	s := &Supervisor{
		store:  store,
		cfg:    cfg.withDefaults(),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Store exposes the underlying artifact store.
func (s *Supervisor) Store() *artifact.Store { return s.store }

// Status is one job's reconstructed state.
type Status struct {
	Key   artifact.Key
	State State

	// PID is the tracked process id, zero before launch completes.
	PID int

	// Alive reports process-table liveness at observation time. A
	// recorded outcome wins over liveness: a terminal job reports its
	// terminal state even if the pid was reused by an unrelated process.
	Alive bool

	Meta      *artifact.Meta
	Outcome   *artifact.Outcome
	Heartbeat *artifact.Heartbeat

	// MutationCount is the workspace mutation count: observed this poll
	// for live jobs, read back from the persisted marker for terminal
	// ones so post-hoc audits see what the job actually touched.
	MutationCount int
}

// DispatchRequest describes one fresh job launch. Governance gates run
// before Dispatch is called; a failing gate means Dispatch never runs
// and no artifact is created.
type DispatchRequest struct {
	Key artifact.Key

	Workspace string

	// PromptPath is the prompt file fed to the provider CLI. It is
	// recorded as the prompt source so restarts replay the same prompt.
	PromptPath string

	// Model is the requested model, empty for the canonical default.
	Model string

	// NoAutoRestart blocks this job on first stall regardless of
	// watchdog mode.
	NoAutoRestart bool

	// Governance inputs carried forward for the post-hoc gates.
	BaselineRef  string
	TargetBranch string
	EvidencePath string

	// Contract pins the runtime environment (auth source name, base
	// URL, scope hash). The resolved model is filled in at launch.
	Contract artifact.Contract
}

// Dispatch launches a fresh job. The identity must be unused: a live
// subprocess refuses with ErrJobActive, leftover artifacts with
// ErrJobExists (restart or prune first).
func (s *Supervisor) Dispatch(ctx context.Context, adapter provider.Adapter, req DispatchRequest) (*Status, error) {
	if _, err := s.store.ReadMeta(req.Key); err == nil {
		if pid, err := s.store.ReadPID(req.Key); err == nil && provider.IsAlive(pid) {
			if _, err := s.store.ReadOutcome(req.Key); errors.Is(err, artifact.ErrNotFound) {
				return nil, fmt.Errorf("%w: %s/%s pid %d", ErrJobActive, req.Key.Provider, req.Key.Task, pid)
			}
		}
		return nil, fmt.Errorf("%w: %s/%s", ErrJobExists, req.Key.Provider, req.Key.Task)
	}

	now := time.Now().UTC()
	meta := &artifact.Meta{
		Task:          req.Key.Task,
		Provider:      req.Key.Provider,
		Workspace:     req.Workspace,
		PromptSource:  req.PromptPath,
		AttemptID:     uuid.NewString(),
		NoAutoRestart: req.NoAutoRestart,
		BaselineRef:   req.BaselineRef,
		TargetBranch:  req.TargetBranch,
		EvidencePath:  req.EvidencePath,
		CreatedAt:     now,
	}
	if err := s.store.WriteMeta(req.Key, meta); err != nil {
		return nil, fmt.Errorf("write meta: %w", err)
	}

	res, err := adapter.Start(ctx, provider.StartRequest{
		Task:       req.Key.Task,
		PromptPath: req.PromptPath,
		Workspace:  req.Workspace,
		LogPath:    s.store.LogPath(req.Key),
		RCPath:     s.store.RCPath(req.Key),
		Model:      req.Model,
	})
	if err != nil {
		// Reported, not retried: the failure is recorded so status and
		// the watchdog see a blocked job instead of a phantom.
		out := &artifact.Outcome{
			State:       string(StateBlocked),
			ReasonCode:  startFailureCode(err),
			Detail:      err.Error(),
			CompletedAt: time.Now().UTC(),
		}
		if werr := s.store.WriteOutcome(req.Key, out); werr != nil && !errors.Is(werr, artifact.ErrOutcomeExists) {
			s.logger.Warn("record start failure", zap.Error(werr))
		}
		return nil, err
	}

	if err := s.store.WritePID(req.Key, res.PID); err != nil {
		return nil, fmt.Errorf("write pid: %w", err)
	}

	started := time.Now().UTC()
	meta.StartedAt = &started
	meta.LaunchMode = string(res.LaunchMode)
	meta.Model = res.Model
	meta.ModelBasis = string(res.Basis)
	meta.FallbackReason = res.FallbackReason
	if err := s.store.WriteMeta(req.Key, meta); err != nil {
		return nil, fmt.Errorf("update meta: %w", err)
	}

	contract := req.Contract
	contract.Model = res.Model
	if err := s.store.WriteContract(req.Key, &contract); err != nil {
		return nil, fmt.Errorf("write contract: %w", err)
	}

	hb := &artifact.Heartbeat{Source: artifact.HeartbeatLaunch, At: started}
	if err := s.store.TouchHeartbeat(req.Key, hb); err != nil {
		return nil, fmt.Errorf("write heartbeat: %w", err)
	}

	s.logger.Info("job dispatched",
		zap.String("provider", req.Key.Provider),
		zap.String("task", req.Key.Task),
		zap.Int("pid", res.PID),
		zap.String("model", res.Model),
		zap.String("model_basis", string(res.Basis)),
	)

	return &Status{
		Key:       req.Key,
		State:     StateWaitingFirstOutput,
		PID:       res.PID,
		Alive:     true,
		Meta:      meta,
		Heartbeat: hb,
	}, nil
}

// startFailureCode maps adapter start failures onto stable reason codes.
func startFailureCode(err error) string {
	switch {
	case provider.IsBinaryMissing(err):
		return output.CodeBinaryMissing
	case provider.IsAuthUnresolved(err):
		return output.CodeAuthUnresolved
	case provider.IsModelUnavailable(err):
		return output.CodeModelDrift
	default:
		return output.CodeStartFailed
	}
}

// Check reconstructs one job's state from its artifacts and the process
// table, finalizing an outcome when the process is gone. A recorded
// outcome is authoritative: it is returned as-is without consulting the
// process table.
func (s *Supervisor) Check(ctx context.Context, key artifact.Key) (*Status, error) {
	meta, err := s.store.ReadMeta(key)
	if err != nil {
		if errors.Is(err, artifact.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s/%s", ErrJobNotFound, key.Provider, key.Task)
		}
		return nil, err
	}

	if out, err := s.store.ReadOutcome(key); err == nil {
		pid, _ := s.store.ReadPID(key)
		return &Status{
			Key:           key,
			State:         State(out.State),
			PID:           pid,
			Meta:          meta,
			Outcome:       out,
			MutationCount: s.persistedMutations(key),
		}, nil
	} else if !errors.Is(err, artifact.ErrNotFound) {
		return nil, err
	}

	pid, err := s.store.ReadPID(key)
	if err != nil {
		if errors.Is(err, artifact.ErrNotFound) {
			// Dispatch began but never recorded a pid.
			return &Status{Key: key, State: StateLaunching, Meta: meta}, nil
		}
		return nil, err
	}

	rc, rcPresent, err := s.store.ReadRC(key)
	if err != nil {
		return nil, err
	}
	alive := provider.IsAlive(pid)

	if rcPresent || !alive {
		out, err := s.finalize(key, meta, rc, rcPresent)
		if err != nil {
			return nil, err
		}
		return &Status{
			Key:           key,
			State:         State(out.State),
			PID:           pid,
			Meta:          meta,
			Outcome:       out,
			MutationCount: s.persistedMutations(key),
		}, nil
	}

	return s.observe(key, meta, pid)
}

// persistedMutations reads back the mutation marker recorded during
// live polls, zero when the job never mutated its workspace.
func (s *Supervisor) persistedMutations(key artifact.Key) int {
	m, err := s.store.ReadMutation(key)
	if err != nil {
		return 0
	}
	return m.Count
}

// observe classifies a live process from this poll's signals.
func (s *Supervisor) observe(key artifact.Key, meta *artifact.Meta, pid int) (*Status, error) {
	hb, err := s.store.ReadHeartbeat(key)
	if err != nil {
		if !errors.Is(err, artifact.ErrNotFound) {
			return nil, err
		}
		hb = &artifact.Heartbeat{Source: artifact.HeartbeatLaunch, At: meta.CreatedAt}
	}

	sig := Signals{Now: time.Now().UTC()}
	if size, err := s.store.LogSize(key); err == nil {
		sig.LogBytes = size
	}
	if ticks, err := provider.GroupCPUTicks(pid); err == nil {
		sig.CPUTicks = ticks
		sig.CPUTicksOK = true
	}

	since := meta.CreatedAt
	if meta.StartedAt != nil {
		since = *meta.StartedAt
	}
	mutations, lastChange, merr := CountMutationsSince(meta.Workspace, since)
	if merr == nil {
		sig.MutationCount = mutations
	}

	assessment := Classify(hb, sig, s.cfg.StartupGrace, s.cfg.StallThreshold)

	if assessment.Progress {
		hb = &artifact.Heartbeat{
			Source:        assessment.Source,
			At:            sig.Now,
			LogBytes:      sig.LogBytes,
			CPUTicks:      sig.CPUTicks,
			MutationCount: sig.MutationCount,
		}
		if err := s.store.TouchHeartbeat(key, hb); err != nil {
			return nil, fmt.Errorf("update heartbeat: %w", err)
		}
	}

	if merr == nil && mutations > 0 {
		m := &artifact.Mutation{Count: mutations, ObservedAt: sig.Now}
		if !lastChange.IsZero() {
			m.LastChange = &lastChange
		}
		if err := s.store.MarkMutation(key, m); err != nil {
			return nil, fmt.Errorf("record mutation: %w", err)
		}
	}

	return &Status{
		Key:           key,
		State:         assessment.State,
		PID:           pid,
		Alive:         true,
		Meta:          meta,
		Heartbeat:     hb,
		MutationCount: sig.MutationCount,
	}, nil
}

// finalize writes the terminal outcome for a process that is gone (or
// has a recorded exit code). Write-once: a concurrent finalization
// losing the race adopts the recorded outcome.
func (s *Supervisor) finalize(key artifact.Key, meta *artifact.Meta, rc int, rcPresent bool) (*artifact.Outcome, error) {
	out := &artifact.Outcome{CompletedAt: time.Now().UTC()}

	switch {
	case rcPresent && rc == 0:
		if s.isNoOp(key, meta) {
			out.State = string(StateNoOpSuccess)
			out.ReasonCode = output.CodeNoOp
			out.Detail = "clean exit with zero observed effect"
		} else {
			out.State = string(StateExitedOK)
		}
		out.ExitCode = &rc

	case rcPresent:
		out.State = string(StateExitedErr)
		out.ExitCode = &rc
		if match, ok := s.scanLogTail(key, meta.Provider); ok {
			out.ReasonCode = match.Code
			out.Detail = match.Line
		}

	default:
		// Process gone without a recorded exit code: the shim died
		// before its child, or the artifact set was tampered with.
		out.State = string(StateExitedErr)
		out.Detail = "process exited without a recorded exit code"
	}

	if err := s.store.WriteOutcome(key, out); err != nil {
		if errors.Is(err, artifact.ErrOutcomeExists) {
			return s.store.ReadOutcome(key)
		}
		return nil, fmt.Errorf("write outcome: %w", err)
	}

	s.logger.Info("job finalized",
		zap.String("provider", key.Provider),
		zap.String("task", key.Task),
		zap.String("state", out.State),
		zap.String("reason", out.ReasonCode),
	)
	return out, nil
}

// isNoOp reports whether a clean exit produced zero observed effect:
// no heartbeat beyond launch and no workspace mutation since start.
func (s *Supervisor) isNoOp(key artifact.Key, meta *artifact.Meta) bool {
	hb, err := s.store.ReadHeartbeat(key)
	if err == nil && hb.Source != artifact.HeartbeatLaunch {
		return false
	}

	since := meta.CreatedAt
	if meta.StartedAt != nil {
		since = *meta.StartedAt
	}
	mutations, _, err := CountMutationsSince(meta.Workspace, since)
	if err != nil {
		// Workspace unreadable: cannot claim "zero effect".
		return false
	}
	return mutations == 0
}

// scanLogTail classifies the tail of the job log against the provider's
// signature table.
func (s *Supervisor) scanLogTail(key artifact.Key, providerName string) (logscan.Match, bool) {
	if s.scanner == nil {
		return logscan.Match{}, false
	}

	f, err := os.Open(s.store.LogPath(key))
	if err != nil {
		return logscan.Match{}, false
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return logscan.Match{}, false
	}
	offset := info.Size() - tailBytes
	if offset < 0 {
		offset = 0
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return logscan.Match{}, false
	}
	tail, err := io.ReadAll(io.LimitReader(f, tailBytes))
	if err != nil {
		return logscan.Match{}, false
	}

	return s.scanner.ScanTail(providerName, tail)
}

// Stop terminates a live job's process group and records the stopped
// outcome. A job with a recorded outcome refuses with
// ErrAlreadyTerminal.
func (s *Supervisor) Stop(ctx context.Context, key artifact.Key) (*Status, error) {
	meta, err := s.store.ReadMeta(key)
	if err != nil {
		if errors.Is(err, artifact.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s/%s", ErrJobNotFound, key.Provider, key.Task)
		}
		return nil, err
	}

	if out, err := s.store.ReadOutcome(key); err == nil {
		return &Status{Key: key, State: State(out.State), Meta: meta, Outcome: out}, ErrAlreadyTerminal
	} else if !errors.Is(err, artifact.ErrNotFound) {
		return nil, err
	}

	pid, err := s.store.ReadPID(key)
	if err != nil && !errors.Is(err, artifact.ErrNotFound) {
		return nil, err
	}
	if pid > 0 && provider.IsAlive(pid) {
		forced, err := provider.StopGroup(ctx, pid, s.cfg.StopGrace)
		if err != nil {
			return nil, fmt.Errorf("stop process group %d: %w", pid, err)
		}
		if forced {
			s.logger.Warn("stop escalated to SIGKILL",
				zap.String("provider", key.Provider),
				zap.String("task", key.Task),
				zap.Int("pid", pid),
			)
		}
	}

	out := &artifact.Outcome{
		State:       string(StateStopped),
		ReasonCode:  output.CodeOperatorStop,
		CompletedAt: time.Now().UTC(),
	}
	if err := s.store.WriteOutcome(key, out); err != nil {
		if errors.Is(err, artifact.ErrOutcomeExists) {
			recorded, rerr := s.store.ReadOutcome(key)
			if rerr != nil {
				return nil, rerr
			}
			return &Status{Key: key, State: State(recorded.State), PID: pid, Meta: meta, Outcome: recorded}, nil
		}
		return nil, fmt.Errorf("write outcome: %w", err)
	}

	return &Status{Key: key, State: StateStopped, PID: pid, Meta: meta, Outcome: out}, nil
}

// Restart launches a new attempt for a finished or stalled job: rotated
// log, cleared rc and outcome, new attempt id, retry count + 1. The
// expected contract, when given, must match the one pinned at launch;
// drift refuses with ErrContractDrift.
//
// A stalled job still has a live process; it is stopped before the new
// attempt so the one-live-subprocess invariant holds.
func (s *Supervisor) Restart(ctx context.Context, adapter provider.Adapter, key artifact.Key, expected *artifact.Contract) (*Status, string, error) {
	meta, err := s.store.ReadMeta(key)
	if err != nil {
		if errors.Is(err, artifact.ErrNotFound) {
			return nil, "", fmt.Errorf("%w: %s/%s", ErrJobNotFound, key.Provider, key.Task)
		}
		return nil, "", err
	}

	stored, err := s.store.ReadContract(key)
	if err != nil && !errors.Is(err, artifact.ErrNotFound) {
		return nil, "", err
	}
	if expected != nil && stored != nil && *expected != *stored {
		return nil, "", fmt.Errorf("%w: launched %+v, now %+v", ErrContractDrift, *stored, *expected)
	}

	if pid, err := s.store.ReadPID(key); err == nil && provider.IsAlive(pid) {
		if _, err := provider.StopGroup(ctx, pid, s.cfg.StopGrace); err != nil {
			return nil, "", fmt.Errorf("stop prior attempt: %w", err)
		}
	}

	rotated, err := s.store.RotateLogs(key)
	if err != nil {
		return nil, "", fmt.Errorf("rotate logs: %w", err)
	}
	if err := s.store.ClearRC(key); err != nil {
		return nil, "", fmt.Errorf("clear rc: %w", err)
	}
	if err := s.store.ClearOutcome(key); err != nil {
		return nil, "", fmt.Errorf("clear outcome: %w", err)
	}

	res, err := adapter.Start(ctx, provider.StartRequest{
		Task:       key.Task,
		PromptPath: meta.PromptSource,
		Workspace:  meta.Workspace,
		LogPath:    s.store.LogPath(key),
		RCPath:     s.store.RCPath(key),
		Model:      meta.Model,
	})
	if err != nil {
		out := &artifact.Outcome{
			State:       string(StateBlocked),
			ReasonCode:  startFailureCode(err),
			Detail:      err.Error(),
			CompletedAt: time.Now().UTC(),
		}
		if werr := s.store.WriteOutcome(key, out); werr != nil && !errors.Is(werr, artifact.ErrOutcomeExists) {
			s.logger.Warn("record restart failure", zap.Error(werr))
		}
		return nil, rotated, err
	}

	if err := s.store.WritePID(key, res.PID); err != nil {
		return nil, rotated, fmt.Errorf("write pid: %w", err)
	}

	started := time.Now().UTC()
	meta.StartedAt = &started
	meta.AttemptID = uuid.NewString()
	meta.RetryCount++
	meta.Model = res.Model
	meta.ModelBasis = string(res.Basis)
	meta.FallbackReason = res.FallbackReason
	meta.LaunchMode = string(res.LaunchMode)
	if err := s.store.WriteMeta(key, meta); err != nil {
		return nil, rotated, fmt.Errorf("update meta: %w", err)
	}

	hb := &artifact.Heartbeat{Source: artifact.HeartbeatLaunch, At: started}
	if err := s.store.TouchHeartbeat(key, hb); err != nil {
		return nil, rotated, fmt.Errorf("write heartbeat: %w", err)
	}

	s.logger.Info("job restarted",
		zap.String("provider", key.Provider),
		zap.String("task", key.Task),
		zap.Int("pid", res.PID),
		zap.Int("retry_count", meta.RetryCount),
		zap.String("rotated_log", rotated),
	)

	return &Status{
		Key:       key,
		State:     StateWaitingFirstOutput,
		PID:       res.PID,
		Alive:     true,
		Meta:      meta,
		Heartbeat: hb,
	}, rotated, nil
}

// Block records a blocked outcome for a job, stopping its process first
// when one is still alive. Blocked never auto-clears.
func (s *Supervisor) Block(ctx context.Context, key artifact.Key, reasonCode, detail string) (*Status, error) {
	meta, err := s.store.ReadMeta(key)
	if err != nil {
		if errors.Is(err, artifact.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s/%s", ErrJobNotFound, key.Provider, key.Task)
		}
		return nil, err
	}

	pid, _ := s.store.ReadPID(key)
	if pid > 0 && provider.IsAlive(pid) {
		if _, err := provider.StopGroup(ctx, pid, s.cfg.StopGrace); err != nil {
			return nil, fmt.Errorf("stop process group %d: %w", pid, err)
		}
	}

	out := &artifact.Outcome{
		State:       string(StateBlocked),
		ReasonCode:  reasonCode,
		Detail:      detail,
		CompletedAt: time.Now().UTC(),
	}
	if err := s.store.WriteOutcome(key, out); err != nil {
		if errors.Is(err, artifact.ErrOutcomeExists) {
			recorded, rerr := s.store.ReadOutcome(key)
			if rerr != nil {
				return nil, rerr
			}
			return &Status{Key: key, State: State(recorded.State), PID: pid, Meta: meta, Outcome: recorded}, nil
		}
		return nil, fmt.Errorf("write outcome: %w", err)
	}

	return &Status{Key: key, State: StateBlocked, PID: pid, Meta: meta, Outcome: out}, nil
}

// List returns the status of every job in the store.
func (s *Supervisor) List(ctx context.Context) ([]*Status, error) {
	keys, err := s.store.List()
	if err != nil {
		return nil, err
	}

	statuses := make([]*Status, 0, len(keys))
	for _, key := range keys {
		st, err := s.Check(ctx, key)
		if err != nil {
			// One corrupt job must not hide the rest.
			s.logger.Warn("check failed",
				zap.String("provider", key.Provider),
				zap.String("task", key.Task),
				zap.Error(err),
			)
			continue
		}
		statuses = append(statuses, st)
	}
	return statuses, nil
}
