package scope

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompile(t *testing.T) {
	s, err := Compile(Config{
		AllowedPaths:   []string{"/srv/work/**"},
		DeniedPaths:    []string{"**/prod/**"},
		MutationBudget: 200,
	})
	require.NoError(t, err)

	assert.True(t, s.AllowsWorkspace("/srv/work/gt-1042/repo"))
	assert.False(t, s.AllowsWorkspace("/home/dev/repo"))
	assert.False(t, s.AllowsWorkspace("/srv/work/prod/db"))

	assert.Equal(t, 200, s.MutationBudget())
	assert.True(t, s.WithinBudget(200))
	assert.False(t, s.WithinBudget(201))
	assert.NotEmpty(t, s.Hash())
}

func TestCompile_UnlimitedBudget(t *testing.T) {
	s, err := Compile(Config{AllowedPaths: []string{"/srv/work/**"}})
	require.NoError(t, err)

	assert.True(t, s.WithinBudget(0))
	assert.True(t, s.WithinBudget(1<<20))
}

func TestCompile_Rejects(t *testing.T) {
	_, err := Compile(Config{})
	require.ErrorIs(t, err, ErrNoAllowedPaths)

	_, err = Compile(Config{AllowedPaths: []string{"/srv/**"}, MutationBudget: -5})
	require.ErrorIs(t, err, ErrNegativeMutation)

	_, err = Compile(Config{AllowedPaths: []string{"[invalid"}})
	require.Error(t, err)
}

func TestCompile_HashMatchesStandalone(t *testing.T) {
	cfg := Config{
		AllowedPaths:   []string{"/srv/work/**"},
		MutationBudget: 50,
	}

	s, err := Compile(cfg)
	require.NoError(t, err)

	h, err := Hash(cfg)
	require.NoError(t, err)
	require.Equal(t, h, s.Hash())
}
