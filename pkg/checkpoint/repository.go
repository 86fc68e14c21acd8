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
	"encoding/json"
	"time"

	"github.com/demiarch/orchestrator/pkg/errs"
	"github.com/demiarch/orchestrator/pkg/store"
)

// repository persists Checkpoint rows to the checkpoints table.
type repository struct {
	db      *sql.DB
	dialect string
}

func newRepository(db *sql.DB, dialect string) *repository {
	return &repository{db: db, dialect: dialect}
}

func (r *repository) save(ctx context.Context, cp Checkpoint) error {
	snapshotJSON, err := json.Marshal(cp.Snapshot)
	if err != nil {
		return errs.Wrap(errs.CodeStorageSerialize, errs.CategoryStorage, "failed to serialize snapshot", err)
	}

	query := store.Rebind(r.dialect, `
INSERT INTO checkpoints (id, project_id, feature_id, label, content_hash, signature, snapshot_json, size_bytes, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	var featureID any
	if cp.FeatureID != "" {
		featureID = cp.FeatureID
	}
	_, err = r.db.ExecContext(ctx, query, cp.ID, cp.ProjectID, featureID, cp.Label, cp.ContentHash, cp.Signature, string(snapshotJSON), cp.SizeBytes, cp.CreatedAt)
	if err != nil {
		return errs.Wrap(errs.CodeStorageIO, errs.CategoryStorage, "failed to save checkpoint", err)
	}
	return nil
}

func (r *repository) get(ctx context.Context, id string) (Checkpoint, error) {
	query := store.Rebind(r.dialect, `
SELECT id, project_id, feature_id, label, content_hash, signature, snapshot_json, size_bytes, created_at
FROM checkpoints WHERE id = ?`)
	row := r.db.QueryRowContext(ctx, query, id)
	return r.scan(row, id)
}

func (r *repository) scan(row *sql.Row, lookup string) (Checkpoint, error) {
	var cp Checkpoint
	var featureID sql.NullString
	var snapshotJSON string
	if err := row.Scan(&cp.ID, &cp.ProjectID, &featureID, &cp.Label, &cp.ContentHash, &cp.Signature, &snapshotJSON, &cp.SizeBytes, &cp.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return Checkpoint{}, errs.NotFound(errs.CodeCheckpointNotFound, "checkpoint", lookup)
		}
		return Checkpoint{}, errs.Wrap(errs.CodeStorageIO, errs.CategoryStorage, "failed to read checkpoint", err)
	}
	cp.FeatureID = featureID.String
	if err := json.Unmarshal([]byte(snapshotJSON), &cp.Snapshot); err != nil {
		return Checkpoint{}, errs.Wrap(errs.CodeStorageSerialize, errs.CategoryStorage, "failed to deserialize snapshot", err)
	}
	return cp, nil
}

func (r *repository) listByProject(ctx context.Context, projectID string) ([]Info, error) {
	query := store.Rebind(r.dialect, `
SELECT id, project_id, feature_id, label, size_bytes, created_at
FROM checkpoints WHERE project_id = ? ORDER BY created_at DESC`)
	rows, err := r.db.QueryContext(ctx, query, projectID)
	if err != nil {
		return nil, errs.Wrap(errs.CodeStorageIO, errs.CategoryStorage, "failed to list checkpoints", err)
	}
	defer rows.Close()

	var out []Info
	for rows.Next() {
		var info Info
		var featureID sql.NullString
		if err := rows.Scan(&info.ID, &info.ProjectID, &featureID, &info.Label, &info.SizeBytes, &info.CreatedAt); err != nil {
			return nil, err
		}
		info.FeatureID = featureID.String
		out = append(out, info)
	}
	return out, rows.Err()
}

func (r *repository) delete(ctx context.Context, id string) (bool, error) {
	query := store.Rebind(r.dialect, `DELETE FROM checkpoints WHERE id = ?`)
	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return false, errs.Wrap(errs.CodeStorageIO, errs.CategoryStorage, "failed to delete checkpoint", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errs.Wrap(errs.CodeStorageIO, errs.CategoryStorage, "failed to read rows affected", err)
	}
	return n > 0, nil
}

// listProjects returns every project id that has at least one checkpoint,
// used by the periodic retention sweep.
func (r *repository) listProjects(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT DISTINCT project_id FROM checkpoints`)
	if err != nil {
		return nil, errs.Wrap(errs.CodeStorageIO, errs.CategoryStorage, "failed to list checkpoint projects", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (r *repository) deleteOlderThan(ctx context.Context, projectID string, cutoff time.Time) (int64, error) {
	query := store.Rebind(r.dialect, `DELETE FROM checkpoints WHERE project_id = ? AND created_at < ?`)
	res, err := r.db.ExecContext(ctx, query, projectID, cutoff)
	if err != nil {
		return 0, errs.Wrap(errs.CodeStorageIO, errs.CategoryStorage, "failed to delete old checkpoints", err)
	}
	return res.RowsAffected()
}
