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

import "time"

// EventKind identifies what happened to a session.
type EventKind string

const (
	EventStarted         EventKind = "started"
	EventPaused          EventKind = "paused"
	EventResumed         EventKind = "resumed"
	EventCompleted        EventKind = "completed"
	EventAbandoned        EventKind = "abandoned"
	EventProjectSwitched  EventKind = "project_switched"
	EventFeatureSwitched  EventKind = "feature_switched"
	EventPhaseChanged     EventKind = "phase_changed"
	EventCheckpointCreated EventKind = "checkpoint_created"
	EventError            EventKind = "error"
)

// Event is one append-only journal entry for a session.
type Event struct {
	ID        string
	SessionID string
	Seq       int64
	Kind      EventKind
	Payload   map[string]any
	CreatedAt time.Time
}
