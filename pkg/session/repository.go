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
	"encoding/json"
	"time"

	"github.com/demiarch/orchestrator/pkg/errs"
	"github.com/demiarch/orchestrator/pkg/store"
)

// repository persists Session rows and their event journal.
type repository struct {
	db      *sql.DB
	dialect string
}

func newRepository(db *sql.DB, dialect string) *repository {
	return &repository{db: db, dialect: dialect}
}

func (r *repository) insert(ctx context.Context, s Session) error {
	metaJSON, err := json.Marshal(s.Metadata)
	if err != nil {
		return errs.Wrap(errs.CodeStorageSerialize, errs.CategoryStorage, "failed to serialize session metadata", err)
	}

	query := store.Rebind(r.dialect, `
INSERT INTO sessions (id, project_id, feature_id, status, phase, description, last_checkpoint_id, metadata_json, created_at, updated_at, last_activity_at, owner_pid)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	_, err = r.db.ExecContext(ctx, query,
		s.ID, nullIfEmpty(s.CurrentProjectID), nullIfEmpty(s.CurrentFeatureID), string(s.Status), string(s.Phase),
		nullIfEmpty(s.Description), nullIfEmpty(s.LastCheckpointID), string(metaJSON),
		s.CreatedAt, s.UpdatedAt, s.LastActivity, s.OwnerPID)
	if err != nil {
		return errs.Wrap(errs.CodeStorageIO, errs.CategoryStorage, "failed to insert session", err)
	}
	return nil
}

// update rewrites every mutable column of an existing session row.
func (r *repository) update(ctx context.Context, s Session) error {
	metaJSON, err := json.Marshal(s.Metadata)
	if err != nil {
		return errs.Wrap(errs.CodeStorageSerialize, errs.CategoryStorage, "failed to serialize session metadata", err)
	}

	query := store.Rebind(r.dialect, `
UPDATE sessions SET
  project_id = ?, feature_id = ?, status = ?, phase = ?, description = ?,
  last_checkpoint_id = ?, metadata_json = ?, updated_at = ?, last_activity_at = ?, owner_pid = ?
WHERE id = ?`)

	_, err = r.db.ExecContext(ctx, query,
		nullIfEmpty(s.CurrentProjectID), nullIfEmpty(s.CurrentFeatureID), string(s.Status), string(s.Phase),
		nullIfEmpty(s.Description), nullIfEmpty(s.LastCheckpointID), string(metaJSON),
		s.UpdatedAt, s.LastActivity, s.OwnerPID, s.ID)
	if err != nil {
		return errs.Wrap(errs.CodeStorageIO, errs.CategoryStorage, "failed to update session", err)
	}
	return nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func (r *repository) get(ctx context.Context, id string) (Session, error) {
	query := store.Rebind(r.dialect, `
SELECT id, project_id, feature_id, status, phase, description, last_checkpoint_id, metadata_json, created_at, updated_at, last_activity_at, owner_pid
FROM sessions WHERE id = ?`)
	row := r.db.QueryRowContext(ctx, query, id)
	return r.scan(row, id)
}

func (r *repository) scan(row *sql.Row, lookup string) (Session, error) {
	var s Session
	var projectID, featureID, description, lastCheckpointID sql.NullString
	var status, phase, metaJSON string
	if err := row.Scan(&s.ID, &projectID, &featureID, &status, &phase, &description, &lastCheckpointID, &metaJSON,
		&s.CreatedAt, &s.UpdatedAt, &s.LastActivity, &s.OwnerPID); err != nil {
		if err == sql.ErrNoRows {
			return Session{}, errs.NotFound(errs.CodeSessionNotFound, "session", lookup)
		}
		return Session{}, errs.Wrap(errs.CodeStorageIO, errs.CategoryStorage, "failed to read session", err)
	}
	s.CurrentProjectID = projectID.String
	s.CurrentFeatureID = featureID.String
	s.Status = Status(status)
	s.Phase = Phase(phase)
	s.Description = description.String
	s.LastCheckpointID = lastCheckpointID.String
	if metaJSON != "" {
		if err := json.Unmarshal([]byte(metaJSON), &s.Metadata); err != nil {
			return Session{}, errs.Wrap(errs.CodeStorageSerialize, errs.CategoryStorage, "failed to deserialize session metadata", err)
		}
	}
	return s, nil
}

func (r *repository) getActive(ctx context.Context) (Session, error) {
	query := store.Rebind(r.dialect, `
SELECT id, project_id, feature_id, status, phase, description, last_checkpoint_id, metadata_json, created_at, updated_at, last_activity_at, owner_pid
FROM sessions WHERE status = ? ORDER BY last_activity_at DESC LIMIT 1`)
	row := r.db.QueryRowContext(ctx, query, string(StatusActive))
	return r.scan(row, "<active>")
}

// getMostRecentPaused returns the single most-recently-touched paused
// session, used by get_or_create's resume fallback.
func (r *repository) getMostRecentPaused(ctx context.Context) (Session, error) {
	query := store.Rebind(r.dialect, `
SELECT id, project_id, feature_id, status, phase, description, last_checkpoint_id, metadata_json, created_at, updated_at, last_activity_at, owner_pid
FROM sessions WHERE status = ? ORDER BY last_activity_at DESC LIMIT 1`)
	row := r.db.QueryRowContext(ctx, query, string(StatusPaused))
	return r.scan(row, "<paused>")
}

func (r *repository) list(ctx context.Context) ([]Info, error) {
	return r.listWhere(ctx, "", nil)
}

func (r *repository) listByStatus(ctx context.Context, status Status) ([]Info, error) {
	return r.listWhere(ctx, "WHERE status = ?", []any{string(status)})
}

func (r *repository) listByProject(ctx context.Context, projectID string) ([]Info, error) {
	return r.listWhere(ctx, "WHERE project_id = ?", []any{projectID})
}

func (r *repository) listWhere(ctx context.Context, clause string, args []any) ([]Info, error) {
	query := store.Rebind(r.dialect, `
SELECT id, status, phase, project_id, description, created_at, last_activity_at
FROM sessions `+clause+` ORDER BY last_activity_at DESC`)
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errs.Wrap(errs.CodeStorageIO, errs.CategoryStorage, "failed to list sessions", err)
	}
	defer rows.Close()

	var out []Info
	for rows.Next() {
		var info Info
		var projectID, description sql.NullString
		var status, phase string
		if err := rows.Scan(&info.ID, &status, &phase, &projectID, &description, &info.CreatedAt, &info.LastActivity); err != nil {
			return nil, err
		}
		info.Status = Status(status)
		info.Phase = Phase(phase)
		info.CurrentProjectID = projectID.String
		info.Description = description.String
		out = append(out, info)
	}
	return out, rows.Err()
}

func (r *repository) delete(ctx context.Context, id string) error {
	query := store.Rebind(r.dialect, `DELETE FROM sessions WHERE id = ?`)
	_, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return errs.Wrap(errs.CodeStorageIO, errs.CategoryStorage, "failed to delete session", err)
	}
	return nil
}

func (r *repository) deleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	query := store.Rebind(r.dialect, `DELETE FROM sessions WHERE status IN (?, ?) AND last_activity_at < ?`)
	res, err := r.db.ExecContext(ctx, query, string(StatusCompleted), string(StatusAbandoned), cutoff)
	if err != nil {
		return 0, errs.Wrap(errs.CodeStorageIO, errs.CategoryStorage, "failed to delete old sessions", err)
	}
	return res.RowsAffected()
}

func (r *repository) stats(ctx context.Context) (Stats, error) {
	query := store.Rebind(r.dialect, `SELECT status, COUNT(*) FROM sessions GROUP BY status`)
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return Stats{}, errs.Wrap(errs.CodeStorageIO, errs.CategoryStorage, "failed to compute session stats", err)
	}
	defer rows.Close()

	var stats Stats
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return Stats{}, err
		}
		switch Status(status) {
		case StatusActive:
			stats.Active = count
		case StatusPaused:
			stats.Paused = count
		case StatusCompleted:
			stats.Completed = count
		case StatusAbandoned:
			stats.Abandoned = count
		}
		stats.Total += count
	}
	return stats, rows.Err()
}

// appendEvent inserts one journal row, assigning it the next sequence
// number for its session.
func (r *repository) appendEvent(ctx context.Context, ev Event) error {
	payloadJSON, err := json.Marshal(ev.Payload)
	if err != nil {
		return errs.Wrap(errs.CodeStorageSerialize, errs.CategoryStorage, "failed to serialize event payload", err)
	}

	seqQuery := store.Rebind(r.dialect, `SELECT COALESCE(MAX(seq), 0) + 1 FROM session_events WHERE session_id = ?`)
	var seq int64
	if err := r.db.QueryRowContext(ctx, seqQuery, ev.SessionID).Scan(&seq); err != nil {
		return errs.Wrap(errs.CodeStorageIO, errs.CategoryStorage, "failed to assign event sequence", err)
	}

	insert := store.Rebind(r.dialect, `
INSERT INTO session_events (id, session_id, seq, kind, payload_json, created_at) VALUES (?, ?, ?, ?, ?, ?)`)
	_, err = r.db.ExecContext(ctx, insert, ev.ID, ev.SessionID, seq, string(ev.Kind), string(payloadJSON), ev.CreatedAt)
	if err != nil {
		return errs.Wrap(errs.CodeStorageIO, errs.CategoryStorage, "failed to append session event", err)
	}
	return nil
}

func (r *repository) getEvents(ctx context.Context, sessionID string) ([]Event, error) {
	query := store.Rebind(r.dialect, `
SELECT id, session_id, seq, kind, payload_json, created_at FROM session_events WHERE session_id = ? ORDER BY seq ASC`)
	return r.queryEvents(ctx, query, sessionID)
}

// getRecentEvents streams the journal newest-first with a caller-supplied
// limit; a limit <= 0 falls back to 50.
func (r *repository) getRecentEvents(ctx context.Context, sessionID string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}
	query := store.Rebind(r.dialect, `
SELECT id, session_id, seq, kind, payload_json, created_at FROM session_events WHERE session_id = ? ORDER BY seq DESC LIMIT ?`)
	return r.queryEvents(ctx, query, sessionID, limit)
}

func (r *repository) queryEvents(ctx context.Context, query string, args ...any) ([]Event, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errs.Wrap(errs.CodeStorageIO, errs.CategoryStorage, "failed to read session events", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var ev Event
		var kind, payloadJSON string
		if err := rows.Scan(&ev.ID, &ev.SessionID, &ev.Seq, &kind, &payloadJSON, &ev.CreatedAt); err != nil {
			return nil, err
		}
		ev.Kind = EventKind(kind)
		if payloadJSON != "" {
			if err := json.Unmarshal([]byte(payloadJSON), &ev.Payload); err != nil {
				return nil, err
			}
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
