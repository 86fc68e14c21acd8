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

package router

import (
	"context"
	"database/sql"

	"github.com/demiarch/orchestrator/pkg/errs"
	"github.com/demiarch/orchestrator/pkg/store"
)

// repository persists bandit arms to the routing_stats table so learned
// routing preferences survive a restart.
type repository struct {
	db      *sql.DB
	dialect string
}

func newRepository(db *sql.DB, dialect string) *repository {
	return &repository{db: db, dialect: dialect}
}

func (r *repository) loadAll(ctx context.Context) ([]ModelStats, error) {
	query := store.Rebind(r.dialect, `
SELECT routing_key, model, alpha, beta, total_uses, successes, failures, reward_sum, reward_sum_sq, avg_cost_usd, avg_latency_ms, updated_at
FROM routing_stats`)
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, errs.Wrap(errs.CodeStorageIO, errs.CategoryStorage, "failed to load routing stats", err)
	}
	defer rows.Close()

	var out []ModelStats
	for rows.Next() {
		var s ModelStats
		if err := rows.Scan(&s.RoutingKey, &s.Model, &s.Alpha, &s.Beta, &s.TotalUses, &s.Successes, &s.Failures,
			&s.RewardSum, &s.RewardSumSq, &s.AvgCostUSD, &s.AvgLatencyMS, &s.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// save writes one arm's current state, inserting it if this is the
// first time it has been persisted and updating it otherwise.
func (r *repository) save(ctx context.Context, s ModelStats) error {
	var exists int
	err := r.db.QueryRowContext(ctx, store.Rebind(r.dialect,
		`SELECT COUNT(*) FROM routing_stats WHERE routing_key = ? AND model = ?`), s.RoutingKey, s.Model).Scan(&exists)
	if err != nil {
		return errs.Wrap(errs.CodeStorageIO, errs.CategoryStorage, "failed to check routing stats row", err)
	}

	if exists == 0 {
		_, err = r.db.ExecContext(ctx, store.Rebind(r.dialect, `
INSERT INTO routing_stats (routing_key, model, alpha, beta, total_uses, successes, failures, reward_sum, reward_sum_sq, avg_cost_usd, avg_latency_ms, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
			s.RoutingKey, s.Model, s.Alpha, s.Beta, s.TotalUses, s.Successes, s.Failures, s.RewardSum, s.RewardSumSq, s.AvgCostUSD, s.AvgLatencyMS, s.UpdatedAt)
	} else {
		_, err = r.db.ExecContext(ctx, store.Rebind(r.dialect, `
UPDATE routing_stats SET alpha = ?, beta = ?, total_uses = ?, successes = ?, failures = ?, reward_sum = ?, reward_sum_sq = ?, avg_cost_usd = ?, avg_latency_ms = ?, updated_at = ?
WHERE routing_key = ? AND model = ?`),
			s.Alpha, s.Beta, s.TotalUses, s.Successes, s.Failures, s.RewardSum, s.RewardSumSq, s.AvgCostUSD, s.AvgLatencyMS, s.UpdatedAt, s.RoutingKey, s.Model)
	}
	if err != nil {
		return errs.Wrap(errs.CodeStorageIO, errs.CategoryStorage, "failed to persist routing stats", err)
	}
	return nil
}
