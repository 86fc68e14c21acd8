package checkpoint

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

	signer, err := GenerateSigner()
	require.NoError(t, err)

	return NewManager(db, "sqlite", signer, DefaultConfig(), nil)
}

func seedProject(t *testing.T, m *Manager, projectID string) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()
	_, err := m.db.ExecContext(ctx, `INSERT INTO projects (id, name, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		projectID, "proj", now, now)
	require.NoError(t, err)
	_, err = m.db.ExecContext(ctx, `INSERT INTO phases (id, project_id, name, status, order_index, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`, "phase-1", projectID, "Discovery", "active", 0, now, now)
	require.NoError(t, err)
	_, err = m.db.ExecContext(ctx, `INSERT INTO features (id, project_id, phase_id, title, status, priority, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`, "feat-1", projectID, "phase-1", "Login", "planning", 1, now, now)
	require.NoError(t, err)
	_, err = m.db.ExecContext(ctx, `INSERT INTO conversations (id, project_id, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		"conv-1", projectID, now, now)
	require.NoError(t, err)
	_, err = m.db.ExecContext(ctx, `INSERT INTO messages (id, conversation_id, role, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		"msg-1", "conv-1", "user", "Build login", now)
	require.NoError(t, err)
}

func TestManager_CaptureAndVerify(t *testing.T) {
	m := newTestManager(t)
	seedProject(t, m, "proj-1")
	ctx := context.Background()

	cp, err := m.Capture(ctx, "proj-1", "", "first checkpoint")
	require.NoError(t, err)
	require.Len(t, cp.Snapshot.Phases, 1)
	require.Len(t, cp.Snapshot.Features, 1)
	require.Len(t, cp.Snapshot.Messages, 1)

	assert.NoError(t, m.Verify(cp))
}

func TestManager_VerifyFailsOnSingleByteEdit(t *testing.T) {
	m := newTestManager(t)
	seedProject(t, m, "proj-1")
	ctx := context.Background()

	cp, err := m.Capture(ctx, "proj-1", "", "first checkpoint")
	require.NoError(t, err)

	cp.Snapshot.Messages[0].Content = "tampered"
	assert.Error(t, m.Verify(cp), "verification must fail after any edit to the snapshot")
}

func TestManager_ListAndGet(t *testing.T) {
	m := newTestManager(t)
	seedProject(t, m, "proj-1")
	ctx := context.Background()

	first, err := m.Capture(ctx, "proj-1", "", "one")
	require.NoError(t, err)
	_, err = m.Capture(ctx, "proj-1", "", "two")
	require.NoError(t, err)

	infos, err := m.List(ctx, "proj-1")
	require.NoError(t, err)
	require.Len(t, infos, 2)

	fetched, err := m.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, fetched.ID)
}

func TestManager_RetentionTrimsOldestPastMax(t *testing.T) {
	m := newTestManager(t)
	seedProject(t, m, "proj-1")
	m.config.MaxPerProject = 2
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, err := m.Capture(ctx, "proj-1", "", "checkpoint")
		require.NoError(t, err)
	}

	infos, err := m.List(ctx, "proj-1")
	require.NoError(t, err)
	assert.LessOrEqual(t, len(infos), 2)
}

func TestManager_RestoreIsAtomic(t *testing.T) {
	m := newTestManager(t)
	seedProject(t, m, "proj-1")
	ctx := context.Background()

	cp, err := m.Capture(ctx, "proj-1", "", "baseline")
	require.NoError(t, err)

	_, err = m.db.ExecContext(ctx, `UPDATE features SET title = ? WHERE id = ?`, "Logout", "feat-1")
	require.NoError(t, err)

	result, err := m.Restore(ctx, cp.ID, "")
	require.NoError(t, err)
	assert.Equal(t, 1, result.PhasesRestored)
	assert.Equal(t, 1, result.FeaturesRestored)
	assert.NotEmpty(t, result.SafetyBackupID)

	var title string
	err = m.db.QueryRowContext(ctx, `SELECT title FROM features WHERE id = ?`, "feat-1").Scan(&title)
	require.NoError(t, err)
	assert.Equal(t, "Login", title, "restore must roll state back to the checkpointed value")

	backups, err := m.List(ctx, "proj-1")
	require.NoError(t, err)
	found := false
	for _, b := range backups {
		if b.ID == result.SafetyBackupID {
			found = true
		}
	}
	assert.True(t, found, "the safety backup taken before restore must remain listed")
}

func TestManager_RestoreAbortsOnBadSignature(t *testing.T) {
	m := newTestManager(t)
	seedProject(t, m, "proj-1")
	ctx := context.Background()

	cp, err := m.Capture(ctx, "proj-1", "", "baseline")
	require.NoError(t, err)

	// Corrupt the persisted checkpoint's signature directly in storage, as
	// if a single byte had flipped on disk.
	_, err = m.db.ExecContext(ctx, `UPDATE checkpoints SET signature = ? WHERE id = ?`, "not-a-valid-signature", cp.ID)
	require.NoError(t, err)

	_, err = m.Restore(ctx, cp.ID, "")
	assert.Error(t, err, "restore must abort when the checkpoint signature fails verification")

	var title string
	err = m.db.QueryRowContext(ctx, `SELECT title FROM features WHERE id = ?`, "feat-1").Scan(&title)
	require.NoError(t, err)
	assert.Equal(t, "Login", title, "project state must be untouched when restore aborts before the transaction")
}
