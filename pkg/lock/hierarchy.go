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
	"fmt"
	"sort"
)

// Request describes one resource an agent wants to lock as part of a
// multi-resource operation (e.g. a feature lock plus the file locks for
// the files it touches).
type Request struct {
	Type ResourceType
	ID   string
}

// AcquireOrdered locks every request, always in ascending ResourceType
// priority order regardless of the order requests were supplied in. This
// is what prevents deadlock between two callers that need the same two
// resource types: both always acquire workspace before project before
// session before feature before file, so neither can hold the
// lower-priority lock while waiting on the higher-priority one the other
// holds. If any acquisition fails, every lock already taken in this call
// is released before the error is returned.
func (r *Registry) AcquireOrdered(ctx context.Context, holderDescription string, requests ...Request) ([]*Guard, error) {
	ordered := make([]Request, len(requests))
	copy(ordered, requests)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Type.Priority() < ordered[j].Type.Priority()
	})

	guards := make([]*Guard, 0, len(ordered))
	for _, req := range ordered {
		g, err := r.Acquire(ctx, req.Type, req.ID, holderDescription, r.cfg.DefaultTimeout)
		if err != nil {
			for i := len(guards) - 1; i >= 0; i-- {
				_ = guards[i].Release()
			}
			return nil, fmt.Errorf("acquire %s:%s: %w", req.Type, req.ID, err)
		}
		guards = append(guards, g)
	}
	return guards, nil
}

// ReleaseAll releases guards in reverse acquisition order, collecting the
// first error encountered (if any) while still attempting every release.
func ReleaseAll(guards []*Guard) error {
	var firstErr error
	for i := len(guards) - 1; i >= 0; i-- {
		if err := guards[i].Release(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
