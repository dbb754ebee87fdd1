package cmd

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/dxrunner/pkg/artifact"
	"github.com/3leaps/dxrunner/pkg/gate"
	"github.com/3leaps/dxrunner/pkg/output"
	"github.com/3leaps/dxrunner/pkg/scope"
	"github.com/3leaps/dxrunner/pkg/supervisor"
)

// seedFinishedJob writes the artifact set of a job that exited cleanly
// after recording the given mutation count during its live polls.
func seedFinishedJob(t *testing.T, store *artifact.Store, key artifact.Key, mutations int) {
	t.Helper()
	now := time.Now().UTC()
	require.NoError(t, store.WriteMeta(key, &artifact.Meta{
		Task:      key.Task,
		Provider:  key.Provider,
		Workspace: "/srv/work/" + key.Task,
		CreatedAt: now,
	}))
	if mutations > 0 {
		require.NoError(t, store.MarkMutation(key, &artifact.Mutation{
			Count:      mutations,
			ObservedAt: now,
		}))
	}
	rc := 0
	require.NoError(t, store.WriteOutcome(key, &artifact.Outcome{
		State:       "exited_ok",
		ExitCode:    &rc,
		CompletedAt: now,
	}))
}

func TestPostHocBudgetAuditUsesPersistedMutations(t *testing.T) {
	store := artifact.NewStore(t.TempDir())
	sup := supervisor.New(store, supervisor.Config{})
	key := artifact.Key{Provider: "ccglm", Task: "gt-9"}
	seedFinishedJob(t, store, key, 7)

	st, err := sup.Check(context.Background(), key)
	require.NoError(t, err)
	// The marker written while the job was alive must surface on the
	// terminal status the audit reads.
	require.Equal(t, 7, st.MutationCount)

	compiled, err := scope.Compile(scope.Config{
		AllowedPaths:   []string{"/srv/work/**"},
		MutationBudget: 5,
	})
	require.NoError(t, err)

	in := postHocInput(st, "", compiled)
	report := gate.NewEngine(&gate.MutationGate{}).Run(context.Background(), "report", gate.KindPostHoc, in)

	fail, failed := report.FirstFailure()
	require.True(t, failed, "7 recorded mutations must fail a budget of 5")
	assert.Equal(t, output.CodeMutationBudgetExceeded, fail.Code)
}

func TestPostHocBudgetAuditPassesWithinBudget(t *testing.T) {
	store := artifact.NewStore(t.TempDir())
	sup := supervisor.New(store, supervisor.Config{})
	key := artifact.Key{Provider: "ccglm", Task: "gt-10"}
	seedFinishedJob(t, store, key, 3)

	st, err := sup.Check(context.Background(), key)
	require.NoError(t, err)

	compiled, err := scope.Compile(scope.Config{
		AllowedPaths:   []string{"/srv/work/**"},
		MutationBudget: 5,
	})
	require.NoError(t, err)

	in := postHocInput(st, "", compiled)
	report := gate.NewEngine(&gate.MutationGate{}).Run(context.Background(), "report", gate.KindPostHoc, in)

	_, failed := report.FirstFailure()
	assert.False(t, failed)
}
