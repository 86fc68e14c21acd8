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

// Package lock provides a hierarchical, file-based advisory lock registry
// that prevents concurrent-access conflicts across projects, sessions, and
// files in a multi-project workspace, with stale-holder reclaim via PID
// liveness checks.
package lock

import (
	"fmt"
	"os"
	"time"

	"github.com/demiarch/orchestrator/pkg/errs"
)

// ResourceType identifies what kind of resource a lock guards. Locks must
// be acquired in ascending priority order (lowest number first) to prevent
// deadlock between concurrently-running agents.
type ResourceType int

const (
	ResourceWorkspace ResourceType = iota
	ResourceDatabase
	ResourceConfig
	ResourceProject
	ResourceSession
	ResourceFeature
	ResourceFile
)

// Priority returns the acquisition order for this resource type; lower
// acquires first.
func (r ResourceType) Priority() uint8 {
	switch r {
	case ResourceWorkspace:
		return 0
	case ResourceDatabase:
		return 1
	case ResourceConfig:
		return 2
	case ResourceProject:
		return 3
	case ResourceSession:
		return 4
	case ResourceFeature:
		return 5
	case ResourceFile:
		return 6
	default:
		return 255
	}
}

func (r ResourceType) String() string {
	switch r {
	case ResourceWorkspace:
		return "workspace"
	case ResourceDatabase:
		return "database"
	case ResourceConfig:
		return "config"
	case ResourceProject:
		return "project"
	case ResourceSession:
		return "session"
	case ResourceFeature:
		return "feature"
	case ResourceFile:
		return "file"
	default:
		return "unknown"
	}
}

// LockStatus is the observed state of a resource at query time.
type LockStatus string

const (
	StatusAvailable   LockStatus = "available"
	StatusHeldBySelf  LockStatus = "held_by_self"
	StatusHeldByOther LockStatus = "held_by_other"
	StatusStale       LockStatus = "stale"
)

// LockInfo describes a held (or previously held) lock.
type LockInfo struct {
	ID                 string       `json:"id"`
	ResourceType       ResourceType `json:"resource_type"`
	ResourceID         string       `json:"resource_id"`
	Status             LockStatus   `json:"status"`
	HolderPID          int          `json:"holder_pid"`
	HolderHost         string       `json:"holder_host"`
	HolderDescription  string       `json:"holder_description"`
	AcquiredAt         time.Time    `json:"acquired_at"`
	ExpiresAt          *time.Time   `json:"expires_at,omitempty"`
	RenewalCount       uint32       `json:"renewal_count"`
}

// IsExpired reports whether the lock's TTL has elapsed.
func (l *LockInfo) IsExpired() bool {
	return l.ExpiresAt != nil && time.Now().After(*l.ExpiresAt)
}

// IsHeldBySelf reports whether this process is the lock holder.
func (l *LockInfo) IsHeldBySelf() bool {
	return l.HolderPID == os.Getpid()
}

// Key is the stable identifier used for the lock's on-disk filename.
func (l *LockInfo) Key() string {
	return fmt.Sprintf("%s:%s", l.ResourceType, l.ResourceID)
}

// LockConfig tunes the registry's behavior.
type LockConfig struct {
	Dir              string
	DefaultTimeout   time.Duration
	DefaultTTL       time.Duration
	StaleThreshold   time.Duration
	SweepInterval    time.Duration
	AutoCleanupStale bool
	RetryInterval    time.Duration
}

// DefaultLockConfig returns the registry's baseline tuning.
func DefaultLockConfig() LockConfig {
	return LockConfig{
		Dir:              ".orchestrator/locks",
		DefaultTimeout:   30 * time.Second,
		DefaultTTL:       5 * time.Minute,
		StaleThreshold:   10 * time.Minute,
		SweepInterval:    time.Minute,
		AutoCleanupStale: true,
		RetryInterval:    100 * time.Millisecond,
	}
}

// lockErr builds an errs.Error for a lock failure mode.
func lockErr(code string, resourceKey string, detail string) *errs.Error {
	return errs.New(code, errs.CategoryLock, fmt.Sprintf("%s: %s", resourceKey, detail))
}
