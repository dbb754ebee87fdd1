package supervisor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/3leaps/dxrunner/internal/observability"
	"github.com/3leaps/dxrunner/pkg/artifact"
	"github.com/3leaps/dxrunner/pkg/output"
	"github.com/3leaps/dxrunner/pkg/provider"
)

// Mode is the watchdog restart policy.
type Mode string

const (
	// ModeNormal restarts a stalled job while retry budget remains,
	// else marks it blocked.
	ModeNormal Mode = "normal"

	// ModeObserve reports classifications and never restarts.
	ModeObserve Mode = "observe"

	// ModeNoAutoRestart blocks on first stall.
	ModeNoAutoRestart Mode = "no-auto-restart"
)

// ParseMode validates a watchdog mode name.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeNormal, ModeObserve, ModeNoAutoRestart:
		return Mode(s), nil
	case "":
		return ModeNormal, nil
	default:
		return "", fmt.Errorf("unknown watchdog mode %q", s)
	}
}

// DefaultWatchdogInterval is the poll interval when none is configured.
const DefaultWatchdogInterval = 60 * time.Second

// Runtime binds a provider adapter to the contract inputs recomputed
// from the current configuration. The watchdog compares them against
// each job's pinned contract before restarting.
type Runtime struct {
	Adapter    provider.Adapter
	AuthSource string
	BaseURL    string
}

// Watchdog polls all non-terminal jobs and applies the restart policy.
type Watchdog struct {
	sup      *Supervisor
	runtimes map[provider.Type]Runtime
	mode     Mode
	interval time.Duration

	// scopeHash is the current compiled scope's hash, part of the
	// recomputed contract.
	scopeHash string

	writer  output.Writer
	metrics *observability.Metrics
	logger  *zap.Logger
}

// WatchdogOption configures a Watchdog.
type WatchdogOption func(*Watchdog)

// WithWriter attaches a JSONL record writer for watchdog events.
func WithWriter(w output.Writer) WatchdogOption {
	return func(wd *Watchdog) { wd.writer = w }
}

// WithMetrics attaches the prometheus instrument set.
func WithMetrics(m *observability.Metrics) WatchdogOption {
	return func(wd *Watchdog) { wd.metrics = m }
}

// WithWatchdogLogger attaches a structured logger.
func WithWatchdogLogger(l *zap.Logger) WatchdogOption {
	return func(wd *Watchdog) {
		if l != nil {
			wd.logger = l
		}
	}
}

// WithScopeHash sets the current scope hash for contract recomputation.
func WithScopeHash(hash string) WatchdogOption {
	return func(wd *Watchdog) { wd.scopeHash = hash }
}

// NewWatchdog returns a watchdog over the supervisor's store.
func NewWatchdog(sup *Supervisor, runtimes map[provider.Type]Runtime, mode Mode, interval time.Duration, opts ...WatchdogOption) *Watchdog {
	if interval <= 0 {
		interval = DefaultWatchdogInterval
	}
	if mode == "" {
		mode = ModeNormal
	}
	wd := &Watchdog{
		sup:      sup,
		runtimes: runtimes,
		mode:     mode,
		interval: interval,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(wd)
	}
	return wd
}

// Run polls until the context is canceled. The first pass runs
// immediately.
func (w *Watchdog) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		if err := w.RunOnce(ctx); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce performs one watchdog pass over every job in the store. Per-job
// failures are emitted as error records and do not abort the pass.
func (w *Watchdog) RunOnce(ctx context.Context) error {
	keys, err := w.sup.Store().List()
	if err != nil {
		return fmt.Errorf("list jobs: %w", err)
	}

	tally := make(map[gaugeKey]int)
	for _, key := range keys {
		st, err := w.sup.Check(ctx, key)
		if err != nil {
			w.emitError(ctx, key, err)
			continue
		}
		tally[gaugeKey{provider: key.Provider, state: string(st.State)}]++

		if st.State.Terminal() {
			continue
		}
		if st.State == StateStalled {
			w.handleStall(ctx, key, st)
		}
	}

	w.updateGauges(tally)
	return nil
}

type gaugeKey struct {
	provider string
	state    string
}

// handleStall applies the restart policy to one stalled job.
func (w *Watchdog) handleStall(ctx context.Context, key artifact.Key, st *Status) {
	logger := w.logger.With(
		zap.String("provider", key.Provider),
		zap.String("task", key.Task),
	)

	switch {
	case st.Meta != nil && st.Meta.NoAutoRestart:
		logger.Info("stalled job blocked by per-job override")
		w.block(ctx, key, output.CodeRestartDisabled, "per-job no-auto-restart override")

	case w.mode == ModeNoAutoRestart:
		logger.Info("stalled job blocked by watchdog mode")
		w.block(ctx, key, output.CodeRestartDisabled, "watchdog running in no-auto-restart mode")

	case w.mode == ModeObserve:
		logger.Info("stalled job observed, restart suppressed")
		w.emitTransition(ctx, key, st.State, StateStalled, output.CodeStalled)

	case st.Meta != nil && st.Meta.RetryCount >= w.sup.cfg.MaxRetries:
		logger.Info("stalled job out of retry budget",
			zap.Int("retry_count", st.Meta.RetryCount),
			zap.Int("max_retries", w.sup.cfg.MaxRetries),
		)
		w.block(ctx, key, output.CodeRetryBudgetExhausted,
			fmt.Sprintf("%d of %d automatic restarts used", st.Meta.RetryCount, w.sup.cfg.MaxRetries))

	default:
		w.restart(ctx, key, st)
	}
}

// restart relaunches one stalled job after recomputing its contract.
func (w *Watchdog) restart(ctx context.Context, key artifact.Key, st *Status) {
	typ, err := provider.ParseType(key.Provider)
	if err != nil {
		w.emitError(ctx, key, err)
		return
	}
	rt, ok := w.runtimes[typ]
	if !ok {
		w.emitError(ctx, key, fmt.Errorf("no runtime configured for provider %s", key.Provider))
		return
	}

	expected := &artifact.Contract{
		AuthSource: rt.AuthSource,
		BaseURL:    rt.BaseURL,
		ScopeHash:  w.scopeHash,
	}
	if st.Meta != nil {
		expected.Model = st.Meta.Model
	}

	newSt, rotated, err := w.sup.Restart(ctx, rt.Adapter, key, expected)
	if err != nil {
		if errors.Is(err, ErrContractDrift) {
			w.logger.Warn("restart refused on contract drift",
				zap.String("provider", key.Provider),
				zap.String("task", key.Task),
			)
			w.block(ctx, key, output.CodeContractDrift, err.Error())
			return
		}
		// Start failures are reported, not retried.
		w.emitError(ctx, key, err)
		return
	}

	if w.metrics != nil {
		w.metrics.RestartsTotal.WithLabelValues(key.Provider).Inc()
	}
	if w.writer != nil {
		_ = w.writer.WriteRestart(ctx, &output.RestartRecord{
			RetryCount: newSt.Meta.RetryCount,
			RotatedLog: rotated,
			Mode:       string(w.mode),
		})
	}
}

// block marks one job blocked and emits the outcome.
func (w *Watchdog) block(ctx context.Context, key artifact.Key, code, detail string) {
	st, err := w.sup.Block(ctx, key, code, detail)
	if err != nil {
		w.emitError(ctx, key, err)
		return
	}

	if w.metrics != nil {
		w.metrics.OutcomesTotal.WithLabelValues(key.Provider, string(st.State)).Inc()
	}
	if w.writer != nil && st.Outcome != nil {
		_ = w.writer.WriteOutcome(ctx, &output.OutcomeRecord{
			State:      st.Outcome.State,
			ExitCode:   st.Outcome.ExitCode,
			ReasonCode: st.Outcome.ReasonCode,
			Detail:     st.Outcome.Detail,
		})
	}
}

func (w *Watchdog) emitTransition(ctx context.Context, key artifact.Key, from, to State, reason string) {
	if w.writer == nil {
		return
	}
	_ = w.writer.WriteTransition(ctx, &output.TransitionRecord{
		From:   string(from),
		To:     string(to),
		Reason: reason,
	})
}

func (w *Watchdog) emitError(ctx context.Context, key artifact.Key, err error) {
	w.logger.Warn("watchdog pass error",
		zap.String("provider", key.Provider),
		zap.String("task", key.Task),
		zap.Error(err),
	)
	if w.writer == nil {
		return
	}
	_ = w.writer.WriteError(ctx, &output.ErrorRecord{
		Code:    "watchdog_error",
		Message: err.Error(),
		Details: map[string]string{"provider": key.Provider, "task": key.Task},
	})
}

func (w *Watchdog) updateGauges(tally map[gaugeKey]int) {
	if w.metrics == nil {
		return
	}
	w.metrics.JobsByState.Reset()
	for k, n := range tally {
		w.metrics.JobsByState.WithLabelValues(k.provider, k.state).Set(float64(n))
	}
}
