package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the prometheus instruments exported by the status server.
//
// Instruments are registered on a private registry so tests can construct
// multiple instances without duplicate-registration panics.
type Metrics struct {
	Registry *prometheus.Registry

	// JobsByState tracks the number of tracked jobs per health state,
	// labeled by provider and state. Updated on each snapshot pass.
	JobsByState *prometheus.GaugeVec

	// RestartsTotal counts automatic watchdog restarts, labeled by provider.
	RestartsTotal *prometheus.CounterVec

	// OutcomesTotal counts finalized outcomes, labeled by provider and
	// terminal state.
	OutcomesTotal *prometheus.CounterVec

	// GateFailuresTotal counts failing error-severity gate results,
	// labeled by gate name.
	GateFailuresTotal *prometheus.CounterVec
}

// NewMetrics constructs and registers the dxrunner instrument set.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		JobsByState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "dxrunner",
			Name:      "jobs_by_state",
			Help:      "Tracked jobs per health state.",
		}, []string{"provider", "state"}),
		RestartsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dxrunner",
			Name:      "restarts_total",
			Help:      "Automatic restarts performed by the watchdog.",
		}, []string{"provider"}),
		OutcomesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dxrunner",
			Name:      "outcomes_total",
			Help:      "Finalized job outcomes per terminal state.",
		}, []string{"provider", "state"}),
		GateFailuresTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dxrunner",
			Name:      "gate_failures_total",
			Help:      "Error-severity governance gate failures.",
		}, []string{"gate"}),
	}
}
