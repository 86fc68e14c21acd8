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

// Package memory is the progressive-disclosure context store: it ingests
// raw text into a summarized, embedded record and recalls the most
// relevant records for a project by cosine similarity.
package memory

import "time"

// Entry is one ingested unit of context: a short index summary for
// listings, a longer timeline summary, highlight lines, the full raw
// context, and the embedding recall ranks by.
type Entry struct {
	ID              string
	ProjectID       string
	ConversationID  string
	IndexSummary    string
	TimelineSummary string
	Highlights      []string
	FullContext     string
	EmbeddingModel  string
	Embedding       []float64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Scored pairs a recalled Entry with the similarity score that ranked it.
type Scored struct {
	Entry Entry
	Score float64
}

// RecallQuery is the caller-facing knob set for retrieval: the query
// text plus top-K and minimum-score, nothing else.
type RecallQuery struct {
	Text     string
	TopK     int
	MinScore float64
}

// Embedder is the external collaborator contract: embed text into a
// fixed-dimension vector. A deterministic local implementation must be
// available for tests; see HashEmbedder.
type Embedder interface {
	Embed(text string) ([]float64, error)
}
