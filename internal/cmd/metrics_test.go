package cmd

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/dxrunner/internal/observability"
	"github.com/3leaps/dxrunner/pkg/artifact"
	"github.com/3leaps/dxrunner/pkg/gate"
	"github.com/3leaps/dxrunner/pkg/supervisor"
)

func TestRecordGateFailuresCountsErrorSeverityOnly(t *testing.T) {
	before := testutil.ToFloat64(cliMetrics.GateFailuresTotal.WithLabelValues("baseline"))

	recordGateFailures(gate.Report{Results: []gate.Result{
		{Gate: "baseline", Passed: false, Severity: gate.SeverityError},
		{Gate: "baseline", Passed: true, Severity: gate.SeverityError},
		{Gate: "baseline", Passed: false, Severity: gate.SeverityWarning},
	}})

	after := testutil.ToFloat64(cliMetrics.GateFailuresTotal.WithLabelValues("baseline"))
	assert.Equal(t, before+1, after)
}

func TestRefreshJobGauges(t *testing.T) {
	store := artifact.NewStore(t.TempDir())
	sup := supervisor.New(store, supervisor.Config{})
	seedFinishedJob(t, store, artifact.Key{Provider: "gemini", Task: "gt-2"}, 0)
	seedFinishedJob(t, store, artifact.Key{Provider: "gemini", Task: "gt-3"}, 0)

	m := observability.NewMetrics()
	require.NoError(t, refreshJobGauges(context.Background(), sup, m))

	got := testutil.ToFloat64(m.JobsByState.WithLabelValues("gemini", "exited_ok"))
	assert.Equal(t, 2.0, got)
}
