package router

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/demiarch/orchestrator/pkg/config"
	"github.com/demiarch/orchestrator/pkg/store"
)

func newTestRouter(t *testing.T) (*Router, func() *Router, func()) {
	t.Helper()
	cfg := config.DatabaseConfig{Driver: "sqlite", Database: ":memory:"}
	cfg.SetDefaults()
	db, err := store.Open(cfg)
	require.NoError(t, err)

	r, err := New(context.Background(), db, "sqlite", 1.0, 5, nil)
	require.NoError(t, err)

	reopen := func() *Router {
		r2, err := New(context.Background(), db, "sqlite", 1.0, 5, nil)
		require.NoError(t, err)
		return r2
	}
	cleanup := func() { db.Close() }
	return r, reopen, cleanup
}

func TestRouter_SelectPersistsArms(t *testing.T) {
	r, reopen, cleanup := newTestRouter(t)
	defer cleanup()
	ctx := context.Background()

	candidates := []ModelCandidate{{ID: "model-a", QualityTier: 3}, {ID: "model-b", QualityTier: 3}}
	sel, err := r.Select(ctx, "coder:medium", candidates, PreferenceBalanced)
	require.NoError(t, err)
	assert.NotEmpty(t, sel.Model)

	r2 := reopen()
	stats := r2.StatsForKey("coder:medium")
	assert.Len(t, stats, 2, "selection should have persisted an arm for every candidate considered")
}

func TestRouter_UpdateSurvivesRestart(t *testing.T) {
	r, reopen, cleanup := newTestRouter(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, r.Update(ctx, "coder:medium", "model-a", 1.0))

	r2 := reopen()
	ev := r2.ExpectedValues("coder:medium")
	require.Contains(t, ev, "model-a")
	assert.Greater(t, ev["model-a"], 0.5)
}

func TestRouter_SelectNoCandidates(t *testing.T) {
	r, _, cleanup := newTestRouter(t)
	defer cleanup()

	_, err := r.Select(context.Background(), "coder:medium", nil, PreferenceBalanced)
	assert.Error(t, err)
}

func TestRoutingKey(t *testing.T) {
	assert.Equal(t, "coder:medium", RoutingKey("coder", "medium"))
}
