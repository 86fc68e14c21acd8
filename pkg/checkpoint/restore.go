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
	"os"
	"path/filepath"
	"time"

	"github.com/demiarch/orchestrator/pkg/errs"
	"github.com/demiarch/orchestrator/pkg/store"
)

// restoreSlowThreshold is the performance target past which Restore logs
// a warning instead of failing.
const restoreSlowThreshold = 5 * time.Second

// Restore replaces a project's phases, features, and messages with the
// state captured in checkpointID, atomically. It always takes a safety
// backup of the project's current state first, regardless of whether
// the restore itself succeeds, so a bad restore is always recoverable.
// filesDir is the root generated-code files are restored under; pass ""
// to skip file restoration entirely.
func (m *Manager) Restore(ctx context.Context, checkpointID, filesDir string) (RestoreResult, error) {
	start := time.Now()

	cp, err := m.repo.get(ctx, checkpointID)
	if err != nil {
		return RestoreResult{}, err
	}
	if err := m.Verify(cp); err != nil {
		return RestoreResult{}, err
	}

	backup, err := m.Capture(ctx, cp.ProjectID, cp.FeatureID, "safety backup before restoring "+checkpointID)
	if err != nil {
		return RestoreResult{}, errs.Wrap(errs.CodeStorageIO, errs.CategoryStorage, "failed to create safety backup before restore", err)
	}

	if err := m.restoreInTx(ctx, cp); err != nil {
		if m.metrics != nil {
			m.metrics.ObserveRestore(time.Since(start), true)
		}
		return RestoreResult{}, errs.Wrap(errs.CodeStorageIO, errs.CategoryStorage,
			"restore failed and was rolled back; safety backup "+backup.ID+" is available", err)
	}

	result := RestoreResult{
		CheckpointID:        cp.ID,
		CheckpointTimestamp: cp.CreatedAt,
		CheckpointLabel:     cp.Label,
		SafetyBackupID:      backup.ID,
		PhasesRestored:      len(cp.Snapshot.Phases),
		FeaturesRestored:    len(cp.Snapshot.Features),
		MessagesRestored:    len(cp.Snapshot.Messages),
	}

	if filesDir != "" && len(cp.Snapshot.Files) > 0 {
		restored, ferr := restoreFiles(filesDir, cp.Snapshot.Files)
		result.FilesRestored = restored
		if ferr != nil {
			if m.metrics != nil {
				m.metrics.ObserveRestore(time.Since(start), false)
			}
			return result, errs.Wrap(errs.CodeStorageIO, errs.CategoryStorage,
				"database restored successfully but generated files failed to restore", ferr)
		}
	}

	elapsed := time.Since(start)
	if m.metrics != nil {
		m.metrics.ObserveRestore(elapsed, false)
	}
	if elapsed > restoreSlowThreshold {
		slog.Warn("checkpoint restore exceeded performance target", "checkpoint_id", cp.ID, "elapsed", elapsed)
	}
	slog.Info("checkpoint restored", "checkpoint_id", cp.ID, "project_id", cp.ProjectID, "safety_backup_id", backup.ID)

	return result, nil
}

func (m *Manager) restoreInTx(ctx context.Context, cp Checkpoint) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck // no-op once committed

	projectID := cp.ProjectID

	if _, err := tx.ExecContext(ctx, store.Rebind(m.dialect,
		`DELETE FROM messages WHERE conversation_id IN (SELECT id FROM conversations WHERE project_id = ?)`), projectID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, store.Rebind(m.dialect, `DELETE FROM features WHERE project_id = ?`), projectID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, store.Rebind(m.dialect, `DELETE FROM phases WHERE project_id = ?`), projectID); err != nil {
		return err
	}

	now := time.Now().UTC()

	for _, p := range cp.Snapshot.Phases {
		_, err := tx.ExecContext(ctx, store.Rebind(m.dialect, `
INSERT INTO phases (id, project_id, name, description, status, order_index, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
			p.ID, projectID, p.Name, p.Description, p.Status, p.OrderIndex, now, now)
		if err != nil {
			return err
		}
	}

	for _, f := range cp.Snapshot.Features {
		var phaseID any
		if f.PhaseID != "" {
			phaseID = f.PhaseID
		}
		_, err := tx.ExecContext(ctx, store.Rebind(m.dialect, `
INSERT INTO features (id, project_id, phase_id, title, description, status, priority, criteria, labels, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
			f.ID, projectID, phaseID, f.Title, f.Description, f.Status, f.Priority, f.Criteria, f.Labels, now, now)
		if err != nil {
			return err
		}
	}

	seenConversations := make(map[string]bool)
	for _, msg := range cp.Snapshot.Messages {
		if !seenConversations[msg.ConversationID] {
			exists, err := conversationExists(ctx, tx, m.dialect, msg.ConversationID)
			if err != nil {
				return err
			}
			if !exists {
				if _, err := tx.ExecContext(ctx, store.Rebind(m.dialect, `
INSERT INTO conversations (id, project_id, created_at, updated_at) VALUES (?, ?, ?, ?)`),
					msg.ConversationID, projectID, now, now); err != nil {
					return err
				}
			}
			seenConversations[msg.ConversationID] = true
		}

		var model any
		if msg.Model != "" {
			model = msg.Model
		}
		_, err := tx.ExecContext(ctx, store.Rebind(m.dialect, `
INSERT INTO messages (id, conversation_id, role, content, model, created_at) VALUES (?, ?, ?, ?, ?, ?)`),
			msg.ID, msg.ConversationID, msg.Role, msg.Content, model, now)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

func conversationExists(ctx context.Context, tx *sql.Tx, dialect, id string) (bool, error) {
	var count int
	err := tx.QueryRowContext(ctx, store.Rebind(dialect, `SELECT COUNT(*) FROM conversations WHERE id = ?`), id).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// restoreFiles writes every snapshot file under root, creating parent
// directories as needed, and returns how many were written before any
// failure.
func restoreFiles(root string, files []SnapshotFile) (int, error) {
	written := 0
	for _, f := range files {
		path := filepath.Join(root, filepath.Clean("/"+f.Path))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return written, err
		}
		if err := os.WriteFile(path, []byte(f.Content), 0o644); err != nil {
			return written, err
		}
		written++
	}
	return written, nil
}
