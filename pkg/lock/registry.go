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

package lock

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/demiarch/orchestrator/pkg/errs"
	"github.com/demiarch/orchestrator/pkg/observability"
)

// Registry coordinates advisory locks across processes using one JSON
// lock-info file per resource under cfg.Dir. Acquisition is atomic via
// O_CREATE|O_EXCL; a held lock is reclaimed once its holder is observed
// dead or its TTL has expired.
type Registry struct {
	cfg     LockConfig
	metrics *observability.Metrics

	mu   sync.Mutex
	held map[string]*LockInfo // resource key -> lock this process holds

	hostname string
}

// New creates a Registry rooted at cfg.Dir, creating the directory if needed.
func New(cfg LockConfig, metrics *observability.Metrics) (*Registry, error) {
	if cfg.Dir == "" {
		cfg = DefaultLockConfig()
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}
	hostname, _ := os.Hostname()
	return &Registry{
		cfg:      cfg,
		metrics:  metrics,
		held:     make(map[string]*LockInfo),
		hostname: hostname,
	}, nil
}

func (r *Registry) path(info *LockInfo) string {
	return filepath.Join(r.cfg.Dir, info.Key()+".lock")
}

// Acquire blocks (respecting ctx and timeout) until the named resource is
// locked by this process, or returns a lock error. Locks of a lower
// priority (database, config, ...) must already be released before a
// higher-priority one (file, feature, ...) is requested out of hierarchy
// order within the SAME call chain; callers track their own held set via
// Guard, so Acquire itself only enforces the on-disk mutual exclusion.
func (r *Registry) Acquire(ctx context.Context, resourceType ResourceType, resourceID, holderDescription string, timeout time.Duration) (*Guard, error) {
	if timeout == 0 {
		timeout = r.cfg.DefaultTimeout
	}
	info := &LockInfo{
		ID:                uuid.NewString(),
		ResourceType:       resourceType,
		ResourceID:         resourceID,
		Status:             StatusHeldBySelf,
		HolderPID:          os.Getpid(),
		HolderHost:         r.hostname,
		HolderDescription:  holderDescription,
		AcquiredAt:         time.Now(),
	}
	if r.cfg.DefaultTTL > 0 {
		exp := info.AcquiredAt.Add(r.cfg.DefaultTTL)
		info.ExpiresAt = &exp
	}

	deadline := time.Now().Add(timeout)
	waitStart := time.Now()
	path := r.path(info)

	for {
		if err := r.tryCreate(path, info); err == nil {
			break
		} else if !os.IsExist(err) {
			return nil, errs.Wrap(errs.CodeLockIO, errs.CategoryLock, "lock file I/O failure", err)
		}

		reclaimed, err := r.reclaimIfStale(path, resourceType, resourceID)
		if err != nil {
			return nil, err
		}
		if reclaimed {
			continue
		}

		if ctx.Err() != nil {
			return nil, lockErr(errs.CodeUserCancelled, info.Key(), "cancelled while waiting")
		}
		if time.Now().After(deadline) {
			if r.metrics != nil {
				r.metrics.RecordLockTimeout(resourceType.String())
			}
			holder := r.describeHolder(path)
			return nil, lockErr(errs.CodeLockTimeout, info.Key(), fmt.Sprintf("held by %s", holder))
		}

		select {
		case <-ctx.Done():
			return nil, lockErr(errs.CodeUserCancelled, info.Key(), "context done while waiting")
		case <-time.After(r.cfg.RetryInterval):
		}
	}

	r.mu.Lock()
	r.held[info.Key()] = info
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.SetLocksHeld(resourceType.String(), 1)
		r.metrics.ObserveLockWait(resourceType.String(), time.Since(waitStart))
	}

	return &Guard{registry: r, info: info, path: path}, nil
}

func (r *Registry) tryCreate(path string, info *LockInfo) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	return enc.Encode(info)
}

// overwrite rewrites an already-held lock's file in place, used by Renew.
func (r *Registry) overwrite(path string, info *LockInfo) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	return enc.Encode(info)
}

func (r *Registry) describeHolder(path string) string {
	info, err := readLockFile(path)
	if err != nil {
		return "unknown"
	}
	return fmt.Sprintf("pid=%d (%s)", info.HolderPID, info.HolderDescription)
}

// reclaimIfStale removes the on-disk lock file if its holder process is no
// longer alive or its TTL has expired, returning true if it reclaimed.
func (r *Registry) reclaimIfStale(path string, resourceType ResourceType, resourceID string) (bool, error) {
	info, err := readLockFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return true, nil // lock vanished between our attempts; retry create
		}
		return false, errs.Wrap(errs.CodeLockCorrupted, errs.CategoryLock, "lock file unreadable", err)
	}

	stale := info.IsExpired() || !pidAlive(info.HolderPID)
	if !stale || !r.cfg.AutoCleanupStale {
		return false, nil
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return false, errs.Wrap(errs.CodeLockIO, errs.CategoryLock, "failed to remove stale lock", err)
	}
	if r.metrics != nil {
		r.metrics.RecordLockStaleReclaim(resourceType.String())
	}
	slog.Info("reclaimed stale lock", "resource", fmt.Sprintf("%s:%s", resourceType, resourceID), "holder_pid", info.HolderPID)
	return true, nil
}

func readLockFile(path string) (*LockInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var info LockInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// pidAlive reports whether pid refers to a live process on this host.
func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

// release removes the on-disk lock file and the in-memory bookkeeping for
// a held lock. Called by Guard.Release.
func (r *Registry) release(g *Guard) error {
	r.mu.Lock()
	delete(r.held, g.info.Key())
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.SetLocksHeld(g.info.ResourceType.String(), -1)
	}

	if err := os.Remove(g.path); err != nil && !os.IsNotExist(err) {
		return errs.Wrap(errs.CodeLockIO, errs.CategoryLock, "failed to release lock", err)
	}
	return nil
}

// Status reports the observed status of a resource without acquiring it.
func (r *Registry) Status(resourceType ResourceType, resourceID string) LockStatus {
	info := &LockInfo{ResourceType: resourceType, ResourceID: resourceID}
	path := r.path(info)

	held, err := readLockFile(path)
	if err != nil {
		return StatusAvailable
	}
	if held.IsHeldBySelf() {
		return StatusHeldBySelf
	}
	if held.IsExpired() || !pidAlive(held.HolderPID) {
		return StatusStale
	}
	return StatusHeldByOther
}

// SweepStale scans the lock directory and reclaims every stale lock found,
// independent of any in-flight Acquire call. Intended to be driven by a
// periodic cron job (see cmd/orchestrator).
func (r *Registry) SweepStale(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(r.cfg.Dir)
	if err != nil {
		return 0, fmt.Errorf("read lock dir: %w", err)
	}

	reclaimed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(r.cfg.Dir, entry.Name())
		info, err := readLockFile(path)
		if err != nil {
			continue
		}
		if info.IsExpired() || !pidAlive(info.HolderPID) {
			if err := os.Remove(path); err == nil {
				reclaimed++
				if r.metrics != nil {
					r.metrics.RecordLockStaleReclaim(info.ResourceType.String())
				}
			}
		}
	}
	return reclaimed, nil
}

// Guard is an RAII-style handle for a held lock; release it to unlock.
type Guard struct {
	registry *Registry
	info     *LockInfo
	path     string
}

// Release unlocks the resource. Safe to call once; a second call is a no-op
// that returns nil.
func (g *Guard) Release() error {
	if g == nil || g.registry == nil {
		return nil
	}
	err := g.registry.release(g)
	g.registry = nil
	return err
}

// Info returns the lock metadata held by this guard.
func (g *Guard) Info() LockInfo { return *g.info }

// Renew extends the lock's TTL, incrementing its renewal count.
func (g *Guard) Renew(ttl time.Duration) error {
	exp := time.Now().Add(ttl)
	g.info.ExpiresAt = &exp
	g.info.RenewalCount++
	return g.registry.overwrite(g.path, g.info)
}

// AcquireNested acquires another resource while this guard is held,
// enforcing the lock hierarchy: the nested resource must not sort before
// the held one in the priority order (workspace < database < config <
// project < session < feature < file). Requesting one that does is a
// deadlock in the making and fails immediately without touching disk.
func (g *Guard) AcquireNested(ctx context.Context, resourceType ResourceType, resourceID, holderDescription string, timeout time.Duration) (*Guard, error) {
	if g == nil || g.registry == nil {
		return nil, lockErr(errs.CodeLockInvalidState, "", "nested acquire on a released guard")
	}
	if resourceType.Priority() < g.info.ResourceType.Priority() {
		return nil, lockErr(errs.CodeLockDeadlock,
			fmt.Sprintf("%s:%s", resourceType, resourceID),
			fmt.Sprintf("acquiring %s while holding %s", resourceType, g.info.ResourceType))
	}
	return g.registry.Acquire(ctx, resourceType, resourceID, holderDescription, timeout)
}
