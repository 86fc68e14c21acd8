package lock

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/demiarch/orchestrator/pkg/errs"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	dir := t.TempDir()
	cfg := DefaultLockConfig()
	cfg.Dir = dir
	cfg.DefaultTimeout = 200 * time.Millisecond
	cfg.RetryInterval = 10 * time.Millisecond
	reg, err := New(cfg, nil)
	require.NoError(t, err)
	return reg
}

func TestRegistry_AcquireRelease(t *testing.T) {
	reg := newTestRegistry(t)

	g, err := reg.Acquire(context.Background(), ResourceProject, "proj-1", "test", 0)
	require.NoError(t, err)
	assert.Equal(t, StatusHeldBySelf, reg.Status(ResourceProject, "proj-1"))

	require.NoError(t, g.Release())
	assert.Equal(t, StatusAvailable, reg.Status(ResourceProject, "proj-1"))
}

func TestRegistry_ContentionTimesOut(t *testing.T) {
	reg := newTestRegistry(t)

	g, err := reg.Acquire(context.Background(), ResourceFeature, "feat-1", "holder-a", 0)
	require.NoError(t, err)
	defer g.Release()

	_, err = reg.Acquire(context.Background(), ResourceFeature, "feat-1", "holder-b", 50*time.Millisecond)
	require.Error(t, err)
	assert.True(t, errs.IsCode(err, errs.CodeLockTimeout))
}

func TestRegistry_ReclaimsStaleLockFromDeadPID(t *testing.T) {
	reg := newTestRegistry(t)

	g, err := reg.Acquire(context.Background(), ResourceFile, "f.go", "holder-a", 0)
	require.NoError(t, err)

	// Simulate the holder process having died: rewrite the lock file with
	// a PID that cannot be alive.
	g.info.HolderPID = 999999
	require.NoError(t, reg.overwrite(g.path, g.info))

	g2, err := reg.Acquire(context.Background(), ResourceFile, "f.go", "holder-b", 500*time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, g2.Release())
}

func TestRegistry_SweepStaleRemovesExpired(t *testing.T) {
	reg := newTestRegistry(t)

	g, err := reg.Acquire(context.Background(), ResourceSession, "sess-1", "holder", 0)
	require.NoError(t, err)
	past := time.Now().Add(-time.Hour)
	g.info.ExpiresAt = &past
	require.NoError(t, reg.overwrite(g.path, g.info))

	n, err := reg.SweepStale(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, statErr := os.Stat(g.path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestRegistry_AcquireOrderedLocksByPriority(t *testing.T) {
	reg := newTestRegistry(t)

	guards, err := reg.AcquireOrdered(context.Background(), "test",
		Request{Type: ResourceFile, ID: "a.go"},
		Request{Type: ResourceProject, ID: "proj-1"},
		Request{Type: ResourceWorkspace, ID: "root"},
	)
	require.NoError(t, err)
	require.Len(t, guards, 3)

	assert.Equal(t, ResourceWorkspace, guards[0].info.ResourceType)
	assert.Equal(t, ResourceProject, guards[1].info.ResourceType)
	assert.Equal(t, ResourceFile, guards[2].info.ResourceType)

	require.NoError(t, ReleaseAll(guards))
}

func TestGuard_AcquireNestedEnforcesHierarchy(t *testing.T) {
	reg := newTestRegistry(t)

	project, err := reg.Acquire(context.Background(), ResourceProject, "proj-1", "test", 0)
	require.NoError(t, err)
	defer project.Release()

	// Descending the hierarchy (project -> feature) is fine.
	feature, err := project.AcquireNested(context.Background(), ResourceFeature, "feat-1", "test", 0)
	require.NoError(t, err)
	require.NoError(t, feature.Release())

	// Going back up (project -> workspace) is a deadlock in the making.
	_, err = project.AcquireNested(context.Background(), ResourceWorkspace, "root", "test", 0)
	require.Error(t, err)
	assert.True(t, errs.IsCode(err, errs.CodeLockDeadlock))
	assert.Equal(t, StatusAvailable, reg.Status(ResourceWorkspace, "root"))
}

func TestRegistry_AcquireOrderedRollsBackOnFailure(t *testing.T) {
	reg := newTestRegistry(t)

	blocker, err := reg.Acquire(context.Background(), ResourceFile, "locked.go", "blocker", 0)
	require.NoError(t, err)
	defer blocker.Release()

	reg.cfg.DefaultTimeout = 30 * time.Millisecond
	_, err = reg.AcquireOrdered(context.Background(), "test",
		Request{Type: ResourceProject, ID: "proj-1"},
		Request{Type: ResourceFile, ID: "locked.go"},
	)
	require.Error(t, err)

	// The project lock acquired before the failing file lock must have
	// been rolled back.
	assert.Equal(t, StatusAvailable, reg.Status(ResourceProject, "proj-1"))
}
