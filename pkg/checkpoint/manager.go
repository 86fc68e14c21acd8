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

package checkpoint

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/demiarch/orchestrator/pkg/observability"
	"github.com/demiarch/orchestrator/pkg/store"
)

const (
	// DefaultRetentionDays is how long a checkpoint is kept before the
	// retention sweep deletes it, absent config override.
	DefaultRetentionDays = 30
	// DefaultMaxPerProject caps how many checkpoints one project keeps,
	// absent config override.
	DefaultMaxPerProject = 50
	// recentMessageLimit bounds how many of the most recent messages are
	// captured into a snapshot, to keep checkpoint size bounded.
	recentMessageLimit = 100
)

// Config tunes checkpoint retention.
type Config struct {
	RetentionDays int
	MaxPerProject int
}

// DefaultConfig returns the default retention policy.
func DefaultConfig() Config {
	return Config{RetentionDays: DefaultRetentionDays, MaxPerProject: DefaultMaxPerProject}
}

// Manager orchestrates checkpoint creation, listing, verification, and
// restoration for one project database.
type Manager struct {
	db      *sql.DB
	dialect string
	repo    *repository
	signer  *Signer
	config  Config
	metrics *observability.Metrics
}

// NewManager creates a Manager backed by db, signing checkpoints with signer.
func NewManager(db *sql.DB, dialect string, signer *Signer, config Config, metrics *observability.Metrics) *Manager {
	if config.RetentionDays == 0 {
		config.RetentionDays = DefaultRetentionDays
	}
	if config.MaxPerProject == 0 {
		config.MaxPerProject = DefaultMaxPerProject
	}
	return &Manager{
		db:      db,
		dialect: dialect,
		repo:    newRepository(db, dialect),
		signer:  signer,
		config:  config,
		metrics: metrics,
	}
}

// CreateBeforeGeneration captures and signs a checkpoint labeled for the
// feature about to be generated.
func (m *Manager) CreateBeforeGeneration(ctx context.Context, projectID, featureID, featureName string) (Checkpoint, error) {
	return m.Capture(ctx, projectID, featureID, "before generating "+featureName)
}

// Capture snapshots the current project state, signs it, persists it, and
// enforces the retention policy for the project.
func (m *Manager) Capture(ctx context.Context, projectID, featureID, label string) (Checkpoint, error) {
	snapshot, err := m.captureProjectState(ctx, projectID)
	if err != nil {
		return Checkpoint{}, err
	}
	return m.captureFromSnapshot(ctx, projectID, featureID, label, snapshot)
}

func (m *Manager) captureFromSnapshot(ctx context.Context, projectID, featureID, label string, snapshot Snapshot) (Checkpoint, error) {
	canonical, err := canonicalize(snapshot)
	if err != nil {
		return Checkpoint{}, err
	}

	cp := Checkpoint{
		ID:          uuid.NewString(),
		ProjectID:   projectID,
		FeatureID:   featureID,
		Label:       label,
		Snapshot:    snapshot,
		ContentHash: contentHash(canonical),
		Signature:   m.signer.Sign(canonical),
		SizeBytes:   len(canonical),
		CreatedAt:   time.Now().UTC(),
	}

	if err := m.repo.save(ctx, cp); err != nil {
		return Checkpoint{}, err
	}
	if m.metrics != nil {
		m.metrics.RecordCheckpointCreated(projectID, cp.SizeBytes)
	}
	slog.Debug("checkpoint created", "checkpoint_id", cp.ID, "project_id", projectID, "size_bytes", cp.SizeBytes)

	if err := m.enforceRetention(ctx, projectID); err != nil {
		slog.Warn("failed to enforce checkpoint retention", "project_id", projectID, "error", err)
	}

	return cp, nil
}

// List returns checkpoint metadata for a project, newest first.
func (m *Manager) List(ctx context.Context, projectID string) ([]Info, error) {
	return m.repo.listByProject(ctx, projectID)
}

// Get retrieves a full checkpoint (including its snapshot) by ID.
func (m *Manager) Get(ctx context.Context, checkpointID string) (Checkpoint, error) {
	return m.repo.get(ctx, checkpointID)
}

// Verify re-derives the content hash and signature of cp's snapshot and
// confirms they match what was persisted.
func (m *Manager) Verify(cp Checkpoint) error {
	canonical, err := canonicalize(cp.Snapshot)
	if err != nil {
		return err
	}
	if contentHash(canonical) != cp.ContentHash {
		return errCheckpointTampered(cp.ID)
	}
	return m.signer.Verify(canonical, cp.Signature)
}

// Delete permanently removes a checkpoint.
func (m *Manager) Delete(ctx context.Context, checkpointID string) (bool, error) {
	return m.repo.delete(ctx, checkpointID)
}

// DeleteAllForProject removes every checkpoint belonging to a project.
func (m *Manager) DeleteAllForProject(ctx context.Context, projectID string) error {
	infos, err := m.repo.listByProject(ctx, projectID)
	if err != nil {
		return err
	}
	for _, info := range infos {
		if _, err := m.repo.delete(ctx, info.ID); err != nil {
			return err
		}
	}
	return nil
}

// Stats summarizes the checkpoints kept for a project.
func (m *Manager) Stats(ctx context.Context, projectID string) (Stats, error) {
	infos, err := m.repo.listByProject(ctx, projectID)
	if err != nil {
		return Stats{}, err
	}
	stats := Stats{TotalCount: len(infos)}
	for _, info := range infos {
		stats.TotalBytes += info.SizeBytes
	}
	if len(infos) > 0 {
		newest := infos[0].CreatedAt
		oldest := infos[len(infos)-1].CreatedAt
		stats.Newest = &newest
		stats.Oldest = &oldest
	}
	return stats, nil
}

// enforceRetention deletes checkpoints older than the configured retention
// window, then trims any remainder down to MaxPerProject, oldest first.
func (m *Manager) enforceRetention(ctx context.Context, projectID string) error {
	cutoff := time.Now().UTC().Add(-time.Duration(m.config.RetentionDays) * 24 * time.Hour)
	deleted, err := m.repo.deleteOlderThan(ctx, projectID, cutoff)
	if err != nil {
		return err
	}
	if deleted > 0 {
		slog.Debug("deleted checkpoints past retention window", "project_id", projectID, "deleted", deleted)
	}

	infos, err := m.repo.listByProject(ctx, projectID)
	if err != nil {
		return err
	}
	if len(infos) <= m.config.MaxPerProject {
		return nil
	}
	toDelete := infos[m.config.MaxPerProject:] // listByProject orders newest-first
	for _, info := range toDelete {
		if _, err := m.repo.delete(ctx, info.ID); err != nil {
			return err
		}
		slog.Debug("deleted checkpoint past max-per-project limit", "checkpoint_id", info.ID)
	}
	return nil
}

// SweepRetention enforces the retention policy for every project that has
// checkpoints, independent of any capture. Driven by a periodic cron job
// (see cmd/orchestrator); capture-time enforcement still runs regardless.
func (m *Manager) SweepRetention(ctx context.Context) error {
	projects, err := m.repo.listProjects(ctx)
	if err != nil {
		return err
	}
	for _, projectID := range projects {
		if err := m.enforceRetention(ctx, projectID); err != nil {
			slog.Warn("retention sweep failed for project", "project_id", projectID, "error", err)
		}
	}
	return nil
}

// captureProjectState reads phases, features, and recent messages for a
// project into a Snapshot. Generated code files are not captured here;
// callers that want them included should use CaptureWithFiles.
func (m *Manager) captureProjectState(ctx context.Context, projectID string) (Snapshot, error) {
	phases, err := m.queryPhases(ctx, projectID)
	if err != nil {
		return Snapshot{}, err
	}
	features, err := m.queryFeatures(ctx, projectID)
	if err != nil {
		return Snapshot{}, err
	}
	messages, err := m.queryRecentMessages(ctx, projectID, recentMessageLimit)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{Phases: phases, Features: features, Messages: messages}, nil
}

// CaptureWithFiles behaves like Capture but also embeds the given generated
// files in the snapshot, as the caller is responsible for gathering them
// from the filesystem.
func (m *Manager) CaptureWithFiles(ctx context.Context, projectID, featureID, label string, files []SnapshotFile) (Checkpoint, error) {
	snapshot, err := m.captureProjectState(ctx, projectID)
	if err != nil {
		return Checkpoint{}, err
	}
	snapshot.Files = files
	return m.captureFromSnapshot(ctx, projectID, featureID, label, snapshot)
}

func (m *Manager) queryPhases(ctx context.Context, projectID string) ([]PhaseSnapshot, error) {
	query := store.Rebind(m.dialect, `
SELECT id, name, description, status, order_index FROM phases WHERE project_id = ? ORDER BY order_index ASC`)
	rows, err := m.db.QueryContext(ctx, query, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PhaseSnapshot
	for rows.Next() {
		var p PhaseSnapshot
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.Status, &p.OrderIndex); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (m *Manager) queryFeatures(ctx context.Context, projectID string) ([]FeatureSnapshot, error) {
	query := store.Rebind(m.dialect, `
SELECT id, title, description, status, phase_id, priority, criteria, labels
FROM features WHERE project_id = ? ORDER BY priority ASC, created_at ASC`)
	rows, err := m.db.QueryContext(ctx, query, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []FeatureSnapshot
	for rows.Next() {
		var f FeatureSnapshot
		var phaseID sql.NullString
		if err := rows.Scan(&f.ID, &f.Title, &f.Description, &f.Status, &phaseID, &f.Priority, &f.Criteria, &f.Labels); err != nil {
			return nil, err
		}
		f.PhaseID = phaseID.String
		out = append(out, f)
	}
	return out, rows.Err()
}

func (m *Manager) queryRecentMessages(ctx context.Context, projectID string, limit int) ([]MessageSnapshot, error) {
	query := store.Rebind(m.dialect, `
SELECT msg.id, msg.conversation_id, msg.role, msg.content, msg.model
FROM messages msg
JOIN conversations c ON msg.conversation_id = c.id
WHERE c.project_id = ?
ORDER BY msg.created_at DESC
LIMIT ?`)
	rows, err := m.db.QueryContext(ctx, query, projectID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []MessageSnapshot
	for rows.Next() {
		var msg MessageSnapshot
		var model sql.NullString
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.Role, &msg.Content, &model); err != nil {
			return nil, err
		}
		msg.Model = model.String
		out = append(out, msg)
	}
	return out, rows.Err()
}
