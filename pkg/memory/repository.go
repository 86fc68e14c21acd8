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

package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/demiarch/orchestrator/pkg/errs"
	"github.com/demiarch/orchestrator/pkg/store"
)

// repository persists Entry rows to the context_entries table and
// reloads them for in-memory similarity search: the store on disk backs
// a transient in-memory index, never the other way around.
type repository struct {
	db      *sql.DB
	dialect string
}

func newRepository(db *sql.DB, dialect string) *repository {
	return &repository{db: db, dialect: dialect}
}

func (r *repository) upsert(ctx context.Context, e Entry) error {
	highlightsJSON, err := json.Marshal(e.Highlights)
	if err != nil {
		return errs.Wrap(errs.CodeStorageSerialize, errs.CategoryStorage, "failed to serialize highlights", err)
	}
	embeddingJSON, err := json.Marshal(e.Embedding)
	if err != nil {
		return errs.Wrap(errs.CodeStorageSerialize, errs.CategoryStorage, "failed to serialize embedding", err)
	}

	var conversationID any
	if e.ConversationID != "" {
		conversationID = e.ConversationID
	}

	query := store.Rebind(r.dialect, `
INSERT INTO context_entries (
    id, project_id, conversation_id, index_summary, timeline_summary,
    highlights, full_context, embedding_model, embedding_json, created_at, updated_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err = r.db.ExecContext(ctx, query,
		e.ID, e.ProjectID, conversationID, e.IndexSummary, e.TimelineSummary,
		string(highlightsJSON), e.FullContext, e.EmbeddingModel, string(embeddingJSON), e.CreatedAt, e.UpdatedAt)
	if err != nil {
		return errs.Wrap(errs.CodeStorageIO, errs.CategoryStorage, "failed to insert context entry", err)
	}
	return nil
}

// listByProject returns a project's entries, most recent first, capped
// at 500 rows so an unbounded project can't blow up the similarity scan.
func (r *repository) listByProject(ctx context.Context, projectID string) ([]Entry, error) {
	query := store.Rebind(r.dialect, `
SELECT id, project_id, conversation_id, index_summary, timeline_summary,
       highlights, full_context, embedding_model, embedding_json, created_at, updated_at
FROM context_entries WHERE project_id = ? ORDER BY created_at DESC LIMIT 500`)
	rows, err := r.db.QueryContext(ctx, query, projectID)
	if err != nil {
		return nil, errs.Wrap(errs.CodeStorageIO, errs.CategoryStorage, "failed to list context entries", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	var out []Entry
	for rows.Next() {
		var e Entry
		var conversationID sql.NullString
		var highlightsJSON, embeddingJSON string
		if err := rows.Scan(&e.ID, &e.ProjectID, &conversationID, &e.IndexSummary, &e.TimelineSummary,
			&highlightsJSON, &e.FullContext, &e.EmbeddingModel, &embeddingJSON, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, errs.Wrap(errs.CodeStorageIO, errs.CategoryStorage, "failed to scan context entry", err)
		}
		e.ConversationID = conversationID.String
		if err := json.Unmarshal([]byte(highlightsJSON), &e.Highlights); err != nil {
			return nil, errs.Wrap(errs.CodeStorageSerialize, errs.CategoryStorage, "failed to parse highlights", err)
		}
		if err := json.Unmarshal([]byte(embeddingJSON), &e.Embedding); err != nil {
			return nil, errs.Wrap(errs.CodeStorageSerialize, errs.CategoryStorage, "failed to parse embedding", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// deleteOlderThan removes entries created before cutoff, scoped to a
// project when one is given. It reports how many rows were removed.
func (r *repository) deleteOlderThan(ctx context.Context, projectID string, cutoff time.Time) (int64, error) {
	var (
		query string
		args  []any
	)
	if projectID != "" {
		query = store.Rebind(r.dialect, `DELETE FROM context_entries WHERE project_id = ? AND created_at < ?`)
		args = []any{projectID, cutoff}
	} else {
		query = store.Rebind(r.dialect, `DELETE FROM context_entries WHERE created_at < ?`)
		args = []any{cutoff}
	}
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, errs.Wrap(errs.CodeStorageIO, errs.CategoryStorage, "failed to prune context entries", err)
	}
	return res.RowsAffected()
}
