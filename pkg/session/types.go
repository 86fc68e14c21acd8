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

// Package session implements the single-active-session state machine
// (C5): creation/pause/resume/complete/abandon transitions, an
// append-only event journal, and unclean-shutdown recovery, serialized
// through the lock registry (pkg/lock) so the "at most one active
// session" invariant holds across processes.
package session

import "time"

// Status is the lifecycle state of a Session.
type Status string

const (
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusAbandoned Status = "abandoned"
)

// HasEnded reports whether the status is terminal.
func (s Status) HasEnded() bool {
	return s == StatusCompleted || s == StatusAbandoned
}

// IsOngoing reports whether the status is active or paused.
func (s Status) IsOngoing() bool {
	return s == StatusActive || s == StatusPaused
}

// Phase is the workflow phase a session is currently in.
type Phase string

const (
	PhaseDiscovery Phase = "discovery"
	PhasePlanning  Phase = "planning"
	PhaseBuilding  Phase = "building"
	PhaseTesting   Phase = "testing"
	PhaseReview    Phase = "review"
	PhaseUnknown   Phase = "unknown"
)

// Session is a global record tracking work across multiple projects.
type Session struct {
	ID               string
	CreatedAt        time.Time
	UpdatedAt        time.Time
	LastActivity     time.Time
	CurrentProjectID string // empty when unset
	CurrentFeatureID string // empty when unset
	Status           Status
	Phase            Phase
	Description      string
	LastCheckpointID string // empty when unset
	Metadata         map[string]any
	OwnerPID         int
}

// IsActive reports whether the session's status is active.
func (s *Session) IsActive() bool { return s.Status == StatusActive }

// IsPaused reports whether the session's status is paused.
func (s *Session) IsPaused() bool { return s.Status == StatusPaused }

// Duration returns how long the session has been (or was) running.
func (s *Session) Duration() time.Duration {
	end := time.Now().UTC()
	if s.Status.HasEnded() {
		end = s.UpdatedAt
	}
	return end.Sub(s.CreatedAt)
}

// Info is the lightweight listing view of a Session.
type Info struct {
	ID               string
	Status           Status
	Phase            Phase
	CurrentProjectID string
	Description      string
	CreatedAt        time.Time
	LastActivity     time.Time
}

func toInfo(s Session) Info {
	return Info{
		ID:               s.ID,
		Status:           s.Status,
		Phase:            s.Phase,
		CurrentProjectID: s.CurrentProjectID,
		Description:      s.Description,
		CreatedAt:        s.CreatedAt,
		LastActivity:     s.LastActivity,
	}
}

// RecoveryInfo describes the state of a session recovered at process
// startup, distinguishing a clean pause from an unclean shutdown.
type RecoveryInfo struct {
	Session             Session
	PreviousStatus      Status
	WasUncleanShutdown  bool
	IdleDuration        time.Duration
	HasCheckpoint       bool
}

func newRecoveryInfo(s Session) RecoveryInfo {
	return RecoveryInfo{
		Session:            s,
		PreviousStatus:     s.Status,
		WasUncleanShutdown: s.Status == StatusActive,
		IdleDuration:       time.Now().UTC().Sub(s.LastActivity),
		HasCheckpoint:      s.LastCheckpointID != "",
	}
}

// Summary renders a human-readable one-line recovery description,
// suitable for a startup log line.
func (r RecoveryInfo) Summary() string {
	shutdown := "clean shutdown"
	if r.WasUncleanShutdown {
		shutdown = "unclean shutdown (crash or force quit)"
	}
	hours := int(r.IdleDuration.Hours())
	mins := int(r.IdleDuration.Minutes()) % 60
	idle := ""
	if hours > 0 {
		idle = itoa(hours) + "h " + itoa(mins) + "m"
	} else {
		idle = itoa(mins) + "m"
	}
	return "recovered session " + r.Session.ID + " after " + shutdown + " (idle for " + idle + ")"
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// Stats summarizes sessions across all statuses.
type Stats struct {
	Active    int64
	Paused    int64
	Completed int64
	Abandoned int64
	Total     int64
}
