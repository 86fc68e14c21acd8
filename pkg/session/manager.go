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
	"database/sql"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/demiarch/orchestrator/pkg/errs"
	"github.com/demiarch/orchestrator/pkg/observability"
)

// Manager implements the session lifecycle: at most one session is
// active at a time, mutation is blocked once a session reaches a
// terminal status, and every transition is journaled. Manager itself
// takes no locks; LockedManager wraps it with the workspace/session
// locking the multi-process invariant requires.
type Manager struct {
	repo    *repository
	metrics *observability.Metrics
}

// NewManager builds a Manager backed by db.
func NewManager(db *sql.DB, dialect string, metrics *observability.Metrics) *Manager {
	return &Manager{repo: newRepository(db, dialect), metrics: metrics}
}

func errEnded(id string) *errs.Error {
	return errs.New(errs.CodeInvalidInput, errs.CategoryValidation, "session "+id+" has already ended")
}

// Create starts a new active session, pausing any existing active
// session first so the single-active invariant holds.
func (m *Manager) Create(ctx context.Context, description string) (Session, error) {
	if existing, err := m.repo.getActive(ctx); err == nil {
		if _, err := m.pauseSession(ctx, existing); err != nil {
			return Session{}, err
		}
	} else if !errs.IsCode(err, errs.CodeSessionNotFound) {
		return Session{}, err
	}

	now := time.Now().UTC()
	s := Session{
		ID:           uuid.NewString(),
		CreatedAt:    now,
		UpdatedAt:    now,
		LastActivity: now,
		Status:       StatusActive,
		Phase:        PhaseUnknown,
		Description:  description,
		Metadata:     map[string]any{},
		OwnerPID:     os.Getpid(),
	}
	if err := m.repo.insert(ctx, s); err != nil {
		return Session{}, err
	}
	if err := m.emit(ctx, s.ID, EventStarted, nil); err != nil {
		slog.Warn("failed to record session started event", "session_id", s.ID, "error", err)
	}
	if m.metrics != nil {
		m.metrics.RecordSessionCreated("create")
		m.metrics.SetSessionActive(true)
	}
	slog.Info("session created", "session_id", s.ID)
	return s, nil
}

// Get retrieves a session by ID.
func (m *Manager) Get(ctx context.Context, id string) (Session, error) {
	return m.repo.get(ctx, id)
}

// GetActive returns the current active session, if any.
func (m *Manager) GetActive(ctx context.Context) (Session, error) {
	return m.repo.getActive(ctx)
}

// GetOrCreate returns the active session, or resumes the most recently
// paused one, or creates a new one if neither exists.
func (m *Manager) GetOrCreate(ctx context.Context, description string) (Session, error) {
	if active, err := m.repo.getActive(ctx); err == nil {
		return active, nil
	} else if !errs.IsCode(err, errs.CodeSessionNotFound) {
		return Session{}, err
	}

	if paused, err := m.repo.getMostRecentPaused(ctx); err == nil {
		return m.resumeSession(ctx, paused)
	} else if !errs.IsCode(err, errs.CodeSessionNotFound) {
		return Session{}, err
	}

	return m.Create(ctx, description)
}

// Pause pauses an ongoing session.
func (m *Manager) Pause(ctx context.Context, id string) (Session, error) {
	s, err := m.repo.get(ctx, id)
	if err != nil {
		return Session{}, err
	}
	return m.pauseSession(ctx, s)
}

func (m *Manager) pauseSession(ctx context.Context, s Session) (Session, error) {
	if s.Status.HasEnded() {
		return Session{}, errEnded(s.ID)
	}
	s.Status = StatusPaused
	s.touch()
	if err := m.repo.update(ctx, s); err != nil {
		return Session{}, err
	}
	if err := m.emit(ctx, s.ID, EventPaused, nil); err != nil {
		slog.Warn("failed to record session paused event", "session_id", s.ID, "error", err)
	}
	if m.metrics != nil {
		m.metrics.SetSessionActive(false)
	}
	return s, nil
}

// Resume resumes a paused session, pausing any OTHER currently active
// session first.
func (m *Manager) Resume(ctx context.Context, id string) (Session, error) {
	s, err := m.repo.get(ctx, id)
	if err != nil {
		return Session{}, err
	}
	return m.resumeSession(ctx, s)
}

func (m *Manager) resumeSession(ctx context.Context, s Session) (Session, error) {
	if s.Status.HasEnded() {
		return Session{}, errEnded(s.ID)
	}
	if active, err := m.repo.getActive(ctx); err == nil && active.ID != s.ID {
		if _, err := m.pauseSession(ctx, active); err != nil {
			return Session{}, err
		}
	} else if err != nil && !errs.IsCode(err, errs.CodeSessionNotFound) {
		return Session{}, err
	}

	s.Status = StatusActive
	s.touch()
	if err := m.repo.update(ctx, s); err != nil {
		return Session{}, err
	}
	if err := m.emit(ctx, s.ID, EventResumed, nil); err != nil {
		slog.Warn("failed to record session resumed event", "session_id", s.ID, "error", err)
	}
	if m.metrics != nil {
		m.metrics.SetSessionActive(true)
	}
	return s, nil
}

// Complete marks a session completed. If the session already ended,
// the existing session is returned (not an error) with a warning log;
// double-completing is harmless and common during shutdown races.
func (m *Manager) Complete(ctx context.Context, id string) (Session, error) {
	s, err := m.repo.get(ctx, id)
	if err != nil {
		return Session{}, err
	}
	if s.Status.HasEnded() {
		slog.Warn("complete called on already-ended session", "session_id", id, "status", s.Status)
		return s, nil
	}
	s.Status = StatusCompleted
	s.touch()
	if err := m.repo.update(ctx, s); err != nil {
		return Session{}, err
	}
	if err := m.emit(ctx, s.ID, EventCompleted, nil); err != nil {
		slog.Warn("failed to record session completed event", "session_id", s.ID, "error", err)
	}
	if m.metrics != nil {
		m.metrics.SetSessionActive(false)
	}
	return s, nil
}

// Abandon marks a session abandoned, tolerant of already-ended sessions
// the same way Complete is.
func (m *Manager) Abandon(ctx context.Context, id string) (Session, error) {
	s, err := m.repo.get(ctx, id)
	if err != nil {
		return Session{}, err
	}
	if s.Status.HasEnded() {
		slog.Warn("abandon called on already-ended session", "session_id", id, "status", s.Status)
		return s, nil
	}
	s.Status = StatusAbandoned
	s.touch()
	if err := m.repo.update(ctx, s); err != nil {
		return Session{}, err
	}
	if err := m.emit(ctx, s.ID, EventAbandoned, nil); err != nil {
		slog.Warn("failed to record session abandoned event", "session_id", s.ID, "error", err)
	}
	if m.metrics != nil {
		m.metrics.SetSessionActive(false)
	}
	return s, nil
}

// SwitchProject changes the current project, clearing the current
// feature (a feature belongs to exactly one project).
func (m *Manager) SwitchProject(ctx context.Context, id, projectID string) (Session, error) {
	s, err := m.repo.get(ctx, id)
	if err != nil {
		return Session{}, err
	}
	if s.Status.HasEnded() {
		return Session{}, errEnded(id)
	}
	s.CurrentProjectID = projectID
	s.CurrentFeatureID = ""
	s.touch()
	if err := m.repo.update(ctx, s); err != nil {
		return Session{}, err
	}
	if err := m.emit(ctx, s.ID, EventProjectSwitched, map[string]any{"project_id": projectID}); err != nil {
		slog.Warn("failed to record project switch event", "session_id", s.ID, "error", err)
	}
	return s, nil
}

// SwitchFeature changes the current feature within the current project.
func (m *Manager) SwitchFeature(ctx context.Context, id, featureID string) (Session, error) {
	s, err := m.repo.get(ctx, id)
	if err != nil {
		return Session{}, err
	}
	if s.Status.HasEnded() {
		return Session{}, errEnded(id)
	}
	s.CurrentFeatureID = featureID
	s.touch()
	if err := m.repo.update(ctx, s); err != nil {
		return Session{}, err
	}
	if err := m.emit(ctx, s.ID, EventFeatureSwitched, map[string]any{"feature_id": featureID}); err != nil {
		slog.Warn("failed to record feature switch event", "session_id", s.ID, "error", err)
	}
	return s, nil
}

// SetPhase records the workflow phase a session is now in.
func (m *Manager) SetPhase(ctx context.Context, id string, phase Phase) (Session, error) {
	s, err := m.repo.get(ctx, id)
	if err != nil {
		return Session{}, err
	}
	if s.Status.HasEnded() {
		return Session{}, errEnded(id)
	}
	s.Phase = phase
	s.touch()
	if err := m.repo.update(ctx, s); err != nil {
		return Session{}, err
	}
	if err := m.emit(ctx, s.ID, EventPhaseChanged, map[string]any{"phase": string(phase)}); err != nil {
		slog.Warn("failed to record phase change event", "session_id", s.ID, "error", err)
	}
	return s, nil
}

// RecordCheckpoint attaches the ID of the most recent checkpoint to the
// session. Unlike other mutations, this is not blocked by has_ended: a
// checkpoint can legitimately be taken right before a session completes.
func (m *Manager) RecordCheckpoint(ctx context.Context, id, checkpointID string) (Session, error) {
	s, err := m.repo.get(ctx, id)
	if err != nil {
		return Session{}, err
	}
	s.LastCheckpointID = checkpointID
	s.touch()
	if err := m.repo.update(ctx, s); err != nil {
		return Session{}, err
	}
	if err := m.emit(ctx, s.ID, EventCheckpointCreated, map[string]any{"checkpoint_id": checkpointID}); err != nil {
		slog.Warn("failed to record checkpoint event", "session_id", s.ID, "error", err)
	}
	return s, nil
}

// RecordError journals an error against the session without touching
// its status; this is append-only and never blocked.
func (m *Manager) RecordError(ctx context.Context, id, message string) error {
	return m.emit(ctx, id, EventError, map[string]any{"message": message})
}

// Touch refreshes a session's last-activity timestamp.
func (m *Manager) Touch(ctx context.Context, id string) (Session, error) {
	s, err := m.repo.get(ctx, id)
	if err != nil {
		return Session{}, err
	}
	s.touch()
	if err := m.repo.update(ctx, s); err != nil {
		return Session{}, err
	}
	return s, nil
}

// List returns every session, most recently active first.
func (m *Manager) List(ctx context.Context) ([]Info, error) {
	return m.repo.list(ctx)
}

// ListByStatus filters the listing to one status.
func (m *Manager) ListByStatus(ctx context.Context, status Status) ([]Info, error) {
	return m.repo.listByStatus(ctx, status)
}

// ListByProject filters the listing to one project.
func (m *Manager) ListByProject(ctx context.Context, projectID string) ([]Info, error) {
	return m.repo.listByProject(ctx, projectID)
}

// GetEvents returns the full event journal for a session, in order.
func (m *Manager) GetEvents(ctx context.Context, id string) ([]Event, error) {
	return m.repo.getEvents(ctx, id)
}

// RecentEvents streams the journal newest-first, bounded by limit.
func (m *Manager) RecentEvents(ctx context.Context, id string, limit int) ([]Event, error) {
	return m.repo.getRecentEvents(ctx, id, limit)
}

// Delete permanently removes a session record.
func (m *Manager) Delete(ctx context.Context, id string) error {
	return m.repo.delete(ctx, id)
}

// CleanupOldSessions deletes completed/abandoned sessions whose last
// activity predates the retention window.
func (m *Manager) CleanupOldSessions(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	return m.repo.deleteOlderThan(ctx, cutoff)
}

// Stats summarizes session counts by status.
func (m *Manager) Stats(ctx context.Context) (Stats, error) {
	return m.repo.stats(ctx)
}

func (m *Manager) emit(ctx context.Context, sessionID string, kind EventKind, payload map[string]any) error {
	ev := Event{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Kind:      kind,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
	if err := m.repo.appendEvent(ctx, ev); err != nil {
		return err
	}
	if m.metrics != nil {
		m.metrics.RecordSessionEvent(string(kind))
	}
	return nil
}

func (s *Session) touch() {
	now := time.Now().UTC()
	s.UpdatedAt = now
	s.LastActivity = now
}
