// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package session

import (
	"context"
	"time"

	"github.com/demiarch/orchestrator/pkg/errs"
	"github.com/demiarch/orchestrator/pkg/lock"
)

// LockedManager wraps Manager with the file-based advisory locks that
// make the single-active-session invariant hold across processes.
// Read-only operations and RecordError take no lock. Create,
// GetOrCreate, and CleanupOldSessions take the workspace lock, since
// they may touch any session. Resume takes the workspace lock first
// (it may need to pause another active session) and then the target
// session's lock. Every other mutation takes only the target session's
// lock.
type LockedManager struct {
	inner       *Manager
	locks       *lock.Registry
	lockTimeout time.Duration
}

// NewLockedManager wraps inner with locking through locks.
func NewLockedManager(inner *Manager, locks *lock.Registry, lockTimeout time.Duration) *LockedManager {
	if lockTimeout == 0 {
		lockTimeout = 30 * time.Second
	}
	return &LockedManager{inner: inner, locks: locks, lockTimeout: lockTimeout}
}

func (l *LockedManager) withWorkspaceLock(ctx context.Context, resourceID, description string, fn func() (Session, error)) (Session, error) {
	guards, err := l.locks.AcquireOrdered(ctx, description, lock.Request{Type: lock.ResourceWorkspace, ID: resourceID})
	if err != nil {
		return Session{}, err
	}
	defer lock.ReleaseAll(guards)
	return fn()
}

func (l *LockedManager) withSessionLock(ctx context.Context, sessionID, description string, fn func() (Session, error)) (Session, error) {
	guards, err := l.locks.AcquireOrdered(ctx, description, lock.Request{Type: lock.ResourceSession, ID: sessionID})
	if err != nil {
		return Session{}, err
	}
	defer lock.ReleaseAll(guards)
	return fn()
}

// Create acquires the workspace lock for the duration of session creation.
func (l *LockedManager) Create(ctx context.Context, description string) (Session, error) {
	return l.withWorkspaceLock(ctx, "session-create", "session.create", func() (Session, error) {
		return l.inner.Create(ctx, description)
	})
}

// GetOrCreate acquires the workspace lock, since it may create or
// resume a session affecting the global active-session slot.
func (l *LockedManager) GetOrCreate(ctx context.Context, description string) (Session, error) {
	return l.withWorkspaceLock(ctx, "session-create", "session.get_or_create", func() (Session, error) {
		return l.inner.GetOrCreate(ctx, description)
	})
}

// Get is read-only; it takes no lock.
func (l *LockedManager) Get(ctx context.Context, id string) (Session, error) {
	return l.inner.Get(ctx, id)
}

// GetActive is read-only; it takes no lock.
func (l *LockedManager) GetActive(ctx context.Context) (Session, error) {
	return l.inner.GetActive(ctx)
}

// Pause acquires the target session's lock.
func (l *LockedManager) Pause(ctx context.Context, id string) (Session, error) {
	return l.withSessionLock(ctx, id, "session.pause", func() (Session, error) {
		return l.inner.Pause(ctx, id)
	})
}

// Resume acquires the workspace lock first (it may pause another
// active session), then the target session's lock, in that priority
// order so it can never deadlock against a concurrent Create/Pause.
func (l *LockedManager) Resume(ctx context.Context, id string) (Session, error) {
	guards, err := l.locks.AcquireOrdered(ctx, "session.resume",
		lock.Request{Type: lock.ResourceWorkspace, ID: "session-create"},
		lock.Request{Type: lock.ResourceSession, ID: id})
	if err != nil {
		return Session{}, err
	}
	defer lock.ReleaseAll(guards)
	return l.inner.Resume(ctx, id)
}

// Complete acquires the target session's lock.
func (l *LockedManager) Complete(ctx context.Context, id string) (Session, error) {
	return l.withSessionLock(ctx, id, "session.complete", func() (Session, error) {
		return l.inner.Complete(ctx, id)
	})
}

// Abandon acquires the target session's lock.
func (l *LockedManager) Abandon(ctx context.Context, id string) (Session, error) {
	return l.withSessionLock(ctx, id, "session.abandon", func() (Session, error) {
		return l.inner.Abandon(ctx, id)
	})
}

// SwitchProject acquires the target session's lock.
func (l *LockedManager) SwitchProject(ctx context.Context, id, projectID string) (Session, error) {
	return l.withSessionLock(ctx, id, "session.switch_project", func() (Session, error) {
		return l.inner.SwitchProject(ctx, id, projectID)
	})
}

// SwitchFeature acquires the target session's lock.
func (l *LockedManager) SwitchFeature(ctx context.Context, id, featureID string) (Session, error) {
	return l.withSessionLock(ctx, id, "session.switch_feature", func() (Session, error) {
		return l.inner.SwitchFeature(ctx, id, featureID)
	})
}

// SetPhase acquires the target session's lock.
func (l *LockedManager) SetPhase(ctx context.Context, id string, phase Phase) (Session, error) {
	return l.withSessionLock(ctx, id, "session.set_phase", func() (Session, error) {
		return l.inner.SetPhase(ctx, id, phase)
	})
}

// RecordCheckpoint acquires the target session's lock.
func (l *LockedManager) RecordCheckpoint(ctx context.Context, id, checkpointID string) (Session, error) {
	return l.withSessionLock(ctx, id, "session.record_checkpoint", func() (Session, error) {
		return l.inner.RecordCheckpoint(ctx, id, checkpointID)
	})
}

// RecordError takes no lock; the event journal is append-only.
func (l *LockedManager) RecordError(ctx context.Context, id, message string) error {
	return l.inner.RecordError(ctx, id, message)
}

// Touch acquires the target session's lock.
func (l *LockedManager) Touch(ctx context.Context, id string) (Session, error) {
	return l.withSessionLock(ctx, id, "session.touch", func() (Session, error) {
		return l.inner.Touch(ctx, id)
	})
}

// Delete acquires the target session's lock.
func (l *LockedManager) Delete(ctx context.Context, id string) error {
	_, err := l.withSessionLock(ctx, id, "session.delete", func() (Session, error) {
		return Session{}, l.inner.Delete(ctx, id)
	})
	return err
}

// CleanupOldSessions acquires the workspace lock for the sweep.
func (l *LockedManager) CleanupOldSessions(ctx context.Context, olderThan time.Duration) (int64, error) {
	guards, err := l.locks.AcquireOrdered(ctx, "session.cleanup", lock.Request{Type: lock.ResourceWorkspace, ID: "session-cleanup"})
	if err != nil {
		return 0, err
	}
	defer lock.ReleaseAll(guards)
	return l.inner.CleanupOldSessions(ctx, olderThan)
}

// List, ListByStatus, ListByProject, GetEvents, and Stats are read-only
// and take no lock.
func (l *LockedManager) List(ctx context.Context) ([]Info, error) { return l.inner.List(ctx) }

func (l *LockedManager) ListByStatus(ctx context.Context, status Status) ([]Info, error) {
	return l.inner.ListByStatus(ctx, status)
}

func (l *LockedManager) ListByProject(ctx context.Context, projectID string) ([]Info, error) {
	return l.inner.ListByProject(ctx, projectID)
}

func (l *LockedManager) GetEvents(ctx context.Context, id string) ([]Event, error) {
	return l.inner.GetEvents(ctx, id)
}

func (l *LockedManager) RecentEvents(ctx context.Context, id string, limit int) ([]Event, error) {
	return l.inner.RecentEvents(ctx, id, limit)
}

func (l *LockedManager) Stats(ctx context.Context) (Stats, error) { return l.inner.Stats(ctx) }

// Recover inspects the most recently active/paused session at process
// startup (an active one is preferred) and reports whether one was found;
// RecoveryInfo.WasUncleanShutdown tells whether it was still active, i.e.
// left behind by an unclean shutdown, rather than cleanly paused.
// Returns (RecoveryInfo{}, false, nil) if there is nothing to recover.
func (l *LockedManager) Recover(ctx context.Context) (RecoveryInfo, bool, error) {
	if active, err := l.inner.repo.getActive(ctx); err == nil {
		return newRecoveryInfo(active), true, nil
	} else if !errs.IsCode(err, errs.CodeSessionNotFound) {
		return RecoveryInfo{}, false, err
	}
	if paused, err := l.inner.repo.getMostRecentPaused(ctx); err == nil {
		return newRecoveryInfo(paused), true, nil
	} else if !errs.IsCode(err, errs.CodeSessionNotFound) {
		return RecoveryInfo{}, false, err
	}
	return RecoveryInfo{}, false, nil
}
