package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/demiarch/orchestrator/pkg/config"
	"github.com/demiarch/orchestrator/pkg/store"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	cfg := config.DatabaseConfig{Driver: "sqlite", Database: ":memory:"}
	cfg.SetDefaults()
	db, err := store.Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewManager(db, "sqlite", nil)
}

func TestManager_CreatePausesExisting(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	first, err := m.Create(ctx, "first")
	require.NoError(t, err)
	assert.Equal(t, StatusActive, first.Status)

	second, err := m.Create(ctx, "second")
	require.NoError(t, err)
	assert.Equal(t, StatusActive, second.Status)

	reloaded, err := m.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPaused, reloaded.Status)
}

func TestManager_GetOrCreate(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	created, err := m.GetOrCreate(ctx, "fresh")
	require.NoError(t, err)
	assert.Equal(t, StatusActive, created.Status)

	again, err := m.GetOrCreate(ctx, "fresh")
	require.NoError(t, err)
	assert.Equal(t, created.ID, again.ID, "should return the still-active session, not create a new one")

	_, err = m.Pause(ctx, created.ID)
	require.NoError(t, err)

	resumed, err := m.GetOrCreate(ctx, "fresh")
	require.NoError(t, err)
	assert.Equal(t, created.ID, resumed.ID, "should resume the paused session rather than create a new one")
	assert.Equal(t, StatusActive, resumed.Status)
}

func TestManager_PauseAndResume(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	s, err := m.Create(ctx, "work")
	require.NoError(t, err)

	paused, err := m.Pause(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPaused, paused.Status)

	resumed, err := m.Resume(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, resumed.Status)
}

func TestManager_ResumePausesOtherActive(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	a, err := m.Create(ctx, "a")
	require.NoError(t, err)
	_, err = m.Pause(ctx, a.ID)
	require.NoError(t, err)

	b, err := m.Create(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, StatusActive, b.Status)

	_, err = m.Resume(ctx, a.ID)
	require.NoError(t, err)

	reloadedB, err := m.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPaused, reloadedB.Status, "resuming a should pause b")
}

func TestManager_CompleteSession(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	s, err := m.Create(ctx, "work")
	require.NoError(t, err)

	completed, err := m.Complete(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, completed.Status)
	assert.True(t, completed.Status.HasEnded())
}

func TestManager_CannotModifyEndedSession(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	s, err := m.Create(ctx, "work")
	require.NoError(t, err)
	_, err = m.Complete(ctx, s.ID)
	require.NoError(t, err)

	_, err = m.Pause(ctx, s.ID)
	assert.Error(t, err)

	_, err = m.SetPhase(ctx, s.ID, PhaseBuilding)
	assert.Error(t, err)

	// Completing an already-completed session is tolerated, not an error.
	again, err := m.Complete(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, again.Status)
}

func TestManager_SwitchProjectClearsFeature(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	s, err := m.Create(ctx, "work")
	require.NoError(t, err)

	s, err = m.SwitchProject(ctx, s.ID, "proj-1")
	require.NoError(t, err)
	s, err = m.SwitchFeature(ctx, s.ID, "feat-1")
	require.NoError(t, err)
	assert.Equal(t, "feat-1", s.CurrentFeatureID)

	s, err = m.SwitchProject(ctx, s.ID, "proj-2")
	require.NoError(t, err)
	assert.Equal(t, "proj-2", s.CurrentProjectID)
	assert.Empty(t, s.CurrentFeatureID, "switching project clears the current feature")
}

func TestManager_SetPhase(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	s, err := m.Create(ctx, "work")
	require.NoError(t, err)
	assert.Equal(t, PhaseUnknown, s.Phase)

	s, err = m.SetPhase(ctx, s.ID, PhasePlanning)
	require.NoError(t, err)
	assert.Equal(t, PhasePlanning, s.Phase)
}

func TestManager_SessionStats(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	a, err := m.Create(ctx, "a")
	require.NoError(t, err)
	_, err = m.Complete(ctx, a.ID)
	require.NoError(t, err)

	b, err := m.Create(ctx, "b")
	require.NoError(t, err)
	_, err = m.Pause(ctx, b.ID)
	require.NoError(t, err)

	_, err = m.Create(ctx, "c")
	require.NoError(t, err)

	stats, err := m.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Completed)
	assert.Equal(t, int64(1), stats.Paused)
	assert.Equal(t, int64(1), stats.Active)
	assert.Equal(t, int64(3), stats.Total)
}

func TestManager_SessionEventsRecorded(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	s, err := m.Create(ctx, "work")
	require.NoError(t, err)
	_, err = m.Pause(ctx, s.ID)
	require.NoError(t, err)
	_, err = m.Resume(ctx, s.ID)
	require.NoError(t, err)
	_, err = m.Complete(ctx, s.ID)
	require.NoError(t, err)

	events, err := m.GetEvents(ctx, s.ID)
	require.NoError(t, err)
	require.Len(t, events, 4)
	assert.Equal(t, EventStarted, events[0].Kind)
	assert.Equal(t, EventPaused, events[1].Kind)
	assert.Equal(t, EventResumed, events[2].Kind)
	assert.Equal(t, EventCompleted, events[3].Kind)
	for i, ev := range events {
		assert.Equal(t, int64(i+1), ev.Seq)
	}
}

func TestManager_RecentEventsNewestFirst(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	s, err := m.Create(ctx, "work")
	require.NoError(t, err)
	_, err = m.SetPhase(ctx, s.ID, PhasePlanning)
	require.NoError(t, err)
	_, err = m.SetPhase(ctx, s.ID, PhaseBuilding)
	require.NoError(t, err)

	recent, err := m.RecentEvents(ctx, s.ID, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, EventPhaseChanged, recent[0].Kind)
	assert.Equal(t, "building", recent[0].Payload["phase"])
	assert.Equal(t, "planning", recent[1].Payload["phase"])
	assert.Greater(t, recent[0].Seq, recent[1].Seq)
}

func TestManager_CleanupOldSessions(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	s, err := m.Create(ctx, "old")
	require.NoError(t, err)
	_, err = m.Abandon(ctx, s.ID)
	require.NoError(t, err)

	deleted, err := m.CleanupOldSessions(ctx, -time.Hour) // everything is "older" than now+1h
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	_, err = m.Get(ctx, s.ID)
	assert.Error(t, err)
}

func TestRecoveryInfo_UncleanShutdown(t *testing.T) {
	s := Session{ID: "s1", Status: StatusActive, LastActivity: time.Now().UTC().Add(-2 * time.Hour)}
	info := newRecoveryInfo(s)
	assert.True(t, info.WasUncleanShutdown)
	assert.False(t, info.HasCheckpoint)
	assert.GreaterOrEqual(t, info.IdleDuration, time.Hour)
}

func TestRecoveryInfo_CleanPause(t *testing.T) {
	s := Session{ID: "s1", Status: StatusPaused, LastCheckpointID: "cp-1", LastActivity: time.Now().UTC()}
	info := newRecoveryInfo(s)
	assert.False(t, info.WasUncleanShutdown)
	assert.True(t, info.HasCheckpoint)
}
