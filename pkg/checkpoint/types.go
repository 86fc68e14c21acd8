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

// Package checkpoint captures, signs, lists, verifies, and restores
// point-in-time snapshots of a project's phases, features, and recent
// conversation (C4).
package checkpoint

import (
	"strconv"
	"time"
)

// PhaseSnapshot is a captured phase row.
type PhaseSnapshot struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Status      string `json:"status"`
	OrderIndex  int    `json:"order_index"`
}

// FeatureSnapshot is a captured feature row.
type FeatureSnapshot struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Status      string `json:"status"`
	PhaseID     string `json:"phase_id"`
	Priority    int    `json:"priority"`
	Criteria    string `json:"criteria"`
	Labels      string `json:"labels"`
}

// MessageSnapshot is a captured conversation message.
type MessageSnapshot struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id"`
	Role           string `json:"role"`
	Content        string `json:"content"`
	Model          string `json:"model"`
}

// SnapshotFile is a piece of generated code captured alongside the
// database snapshot. The checkpoint package never walks the filesystem
// itself; callers that want files captured supply them to
// CaptureWithFiles (Capture records none).
type SnapshotFile struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// Snapshot is the full captured project state signed inside a Checkpoint.
// Field order here is also the canonical encoding order (see canonical.go).
type Snapshot struct {
	Phases   []PhaseSnapshot   `json:"phases"`
	Features []FeatureSnapshot `json:"features"`
	Messages []MessageSnapshot `json:"chat_messages"`
	Files    []SnapshotFile    `json:"generated_code"`
}

// Checkpoint is a signed, persisted snapshot of one project at one instant.
type Checkpoint struct {
	ID           string
	ProjectID    string
	FeatureID    string // empty when not scoped to a feature
	Label        string
	Snapshot     Snapshot
	ContentHash  string
	Signature    string
	SizeBytes    int
	CreatedAt    time.Time
}

// Info is the metadata-only view returned by listings; it omits the full
// snapshot body to keep listing calls cheap.
type Info struct {
	ID        string
	ProjectID string
	FeatureID string
	Label     string
	SizeBytes int
	CreatedAt time.Time
}

// Stats summarizes the checkpoints kept for one project.
type Stats struct {
	TotalCount int
	TotalBytes int
	Oldest     *time.Time
	Newest     *time.Time
}

// RestoreResult reports what a restore operation actually did.
type RestoreResult struct {
	CheckpointID        string
	CheckpointTimestamp time.Time
	CheckpointLabel     string
	SafetyBackupID      string
	PhasesRestored      int
	FeaturesRestored    int
	MessagesRestored    int
	FilesRestored       int
}

// Summary returns a user-friendly one-line description of a restore.
func (r RestoreResult) Summary() string {
	backupPrefix := r.SafetyBackupID
	if len(backupPrefix) > 8 {
		backupPrefix = backupPrefix[:8]
	}
	return "project restored to state from " + r.CheckpointTimestamp.Format("2006-01-02 15:04:05") +
		". restored " + strconv.Itoa(r.PhasesRestored) + " phases, " + strconv.Itoa(r.FeaturesRestored) + " features, " +
		strconv.Itoa(r.MessagesRestored) + " messages. safety backup: " + backupPrefix
}
