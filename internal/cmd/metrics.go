package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/3leaps/dxrunner/internal/observability"
	"github.com/3leaps/dxrunner/pkg/gate"
	"github.com/3leaps/dxrunner/pkg/supervisor"
)

// cliMetrics is the process-wide instrument set. The long-running
// commands (serve, watchdog) expose it over /metrics; gate runs feed
// the failure counter no matter which command triggered them.
var cliMetrics = observability.NewMetrics()

// recordGateFailures counts error-severity gate failures by gate name.
func recordGateFailures(report gate.Report) {
	for _, res := range report.Results {
		if !res.Passed && res.Severity == gate.SeverityError {
			cliMetrics.GateFailuresTotal.WithLabelValues(res.Gate).Inc()
		}
	}
}

// refreshJobGauges performs one jobs-by-state snapshot into the gauge.
func refreshJobGauges(ctx context.Context, sup *supervisor.Supervisor, m *observability.Metrics) error {
	statuses, err := sup.List(ctx)
	if err != nil {
		return err
	}

	type gaugeKey struct{ provider, state string }
	tally := make(map[gaugeKey]int)
	for _, st := range statuses {
		tally[gaugeKey{provider: st.Key.Provider, state: string(st.State)}]++
	}

	m.JobsByState.Reset()
	for k, n := range tally {
		m.JobsByState.WithLabelValues(k.provider, k.state).Set(float64(n))
	}
	return nil
}

// pollJobGauges refreshes the jobs-by-state gauge until the context
// ends, so /metrics reflects the store even when no request touches
// the jobs API.
func pollJobGauges(ctx context.Context, sup *supervisor.Supervisor, m *observability.Metrics, interval time.Duration, logger *zap.Logger) {
	if interval <= 0 {
		interval = supervisor.DefaultWatchdogInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := refreshJobGauges(ctx, sup, m); err != nil {
			logger.Warn("job gauge refresh failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// serveMetricsEndpoint exposes /metrics over the shared registry for
// long-running commands that are not the status server.
func serveMetricsEndpoint(ctx context.Context, port int, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(cliMetrics.Registry, promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("metrics endpoint listening", zap.Int("port", port))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Warn("metrics endpoint failed", zap.Error(err))
	}
}
