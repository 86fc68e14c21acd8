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
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/demiarch/orchestrator/pkg/errs"
)

const defaultEmbeddingModel = "context-hash-embedder"

// Store is the context memory service (C8): it ingests raw content
// into summarized, embedded Entry records and recalls the most
// relevant ones for a project by cosine similarity. Records are
// written through to context_entries and reloaded for the similarity
// scan, so the disk copy is authoritative and the index is transient.
type Store struct {
	repo     *repository
	embedder Embedder
	model    string
}

// New creates a Store using the deterministic HashEmbedder. Use
// WithEmbedder to inject a different one (a real model client in
// production, a custom stub in tests).
func New(db *sql.DB, dialect string) *Store {
	return &Store{repo: newRepository(db, dialect), embedder: NewHashEmbedder(), model: defaultEmbeddingModel}
}

// WithEmbedder swaps in a custom embedder and the model name it
// should be recorded under.
func (s *Store) WithEmbedder(embedder Embedder, model string) *Store {
	s.embedder = embedder
	s.model = model
	return s
}

// Ingest computes the progressive-disclosure summaries and embedding
// for content and persists the resulting Entry.
func (s *Store) Ingest(ctx context.Context, projectID, conversationID, content string) (Entry, error) {
	if projectID == "" {
		return Entry{}, errs.New(errs.CodeInvalidInput, errs.CategoryValidation, "project id is required")
	}
	index, timeline, highlights := deriveSummaries(content)
	embedding, err := s.embedder.Embed(content)
	if err != nil {
		return Entry{}, errs.Wrap(errs.CodeStorageIO, errs.CategoryStorage, "failed to compute embedding", err)
	}

	now := time.Now().UTC()
	entry := Entry{
		ID:              uuid.NewString(),
		ProjectID:       projectID,
		ConversationID:  conversationID,
		IndexSummary:    index,
		TimelineSummary: timeline,
		Highlights:      highlights,
		FullContext:     content,
		EmbeddingModel:  s.model,
		Embedding:       embedding,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.repo.upsert(ctx, entry); err != nil {
		return Entry{}, err
	}
	return entry, nil
}

// Recall ranks stored entries for a project by cosine similarity
// against the query text's embedding, applying the caller's top-K and
// minimum-score knobs. Results are sorted by descending
// score; ties break by most-recent first for determinism.
func (s *Store) Recall(ctx context.Context, projectID string, query RecallQuery) ([]Scored, error) {
	entries, err := s.repo.listByProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	queryVec, err := s.embedder.Embed(query.Text)
	if err != nil {
		return nil, errs.Wrap(errs.CodeStorageIO, errs.CategoryStorage, "failed to embed recall query", err)
	}

	topK := query.TopK
	if topK <= 0 {
		topK = 5
	}

	scored := make([]Scored, 0, len(entries))
	for _, e := range entries {
		score := CosineSimilarity(queryVec, e.Embedding)
		if score < query.MinScore {
			continue
		}
		scored = append(scored, Scored{Entry: e, Score: score})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].Entry.CreatedAt.After(scored[j].Entry.CreatedAt)
	})
	if len(scored) > topK {
		scored = scored[:topK]
	}
	return scored, nil
}

// Prune deletes entries older than cutoff, scoped to a project when
// one is given, and reports how many were removed.
func (s *Store) Prune(ctx context.Context, projectID string, cutoff time.Time) (int64, error) {
	return s.repo.deleteOlderThan(ctx, projectID, cutoff)
}
