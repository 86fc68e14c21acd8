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
	"errors"
	"log/slog"

	"github.com/demiarch/orchestrator/pkg/errs"
	"github.com/demiarch/orchestrator/pkg/observability"
)

// ErrNoCandidates is returned by Select if the bandit yields no selection.
// An empty candidate list is rejected before that with an E010
// invalid-input error.
var ErrNoCandidates = errors.New("router: no candidate models provided")

// Router wraps a Bandit with persistence and metrics, so selection
// immediately benefits from the arm state observed across past
// processes and every selection/reward is recorded for observability.
type Router struct {
	bandit  *Bandit
	repo    *repository
	metrics *observability.Metrics
}

// New builds a Router backed by db, loading previously observed arm
// state so learning survives a restart.
func New(ctx context.Context, db *sql.DB, dialect string, explorationFactor float64, minSamples int, metrics *observability.Metrics) (*Router, error) {
	bandit := NewBandit().WithExplorationFactor(explorationFactor).WithMinSamples(minSamples)
	repo := newRepository(db, dialect)

	rows, err := repo.loadAll(ctx)
	if err != nil {
		return nil, err
	}
	bandit.ImportStats(rows)

	return &Router{bandit: bandit, repo: repo, metrics: metrics}, nil
}

// Select runs one Thompson Sampling routing decision and persists the
// (possibly newly-seeded) arm state for every candidate considered.
func (r *Router) Select(ctx context.Context, routingKey string, candidates []ModelCandidate, preference Preference) (Selection, error) {
	if len(candidates) == 0 {
		return Selection{}, errs.New(errs.CodeInvalidInput, errs.CategoryValidation, "no candidate models provided for routing")
	}

	selection := r.bandit.Select(routingKey, candidates, preference)
	if selection == nil {
		return Selection{}, ErrNoCandidates
	}

	for _, c := range candidates {
		arm, ok := r.bandit.GetStats(routingKey, c.ID)
		if !ok {
			// A lone candidate is selected without sampling, so no arm
			// was seeded for it and there is nothing to persist.
			continue
		}
		if err := r.repo.save(ctx, arm); err != nil {
			slog.Warn("failed to persist routing arm after selection", "routing_key", routingKey, "model", c.ID, "error", err)
		}
	}

	if r.metrics != nil {
		r.metrics.RecordRouterSelection(routingKey, selection.Model, selection.IsExploration)
	}

	return *selection, nil
}

// Update folds an observed reward into the arm for (routingKey, model)
// and persists the result.
func (r *Router) Update(ctx context.Context, routingKey, model string, reward float64) error {
	arm := r.bandit.Update(routingKey, model, reward)
	if r.metrics != nil {
		r.metrics.ObserveRouterReward(routingKey, model, reward)
	}
	return r.repo.save(ctx, arm)
}

// ExpectedValues exposes each candidate's current expected value for a
// routing key, useful for debugging/inspection endpoints.
func (r *Router) ExpectedValues(routingKey string) map[string]float64 {
	return r.bandit.ExpectedValues(routingKey)
}

// UCB exposes the bandit's UCB analytics metric for one arm.
func (r *Router) UCB(routingKey, model string, totalSelections int64) float64 {
	return r.bandit.UCB(routingKey, model, totalSelections)
}

// StatsForKey exposes every arm tracked under one routing key.
func (r *Router) StatsForKey(routingKey string) []ModelStats {
	return r.bandit.StatsForKey(routingKey)
}

// RoutingKey derives the bandit's routing key from a caller role and a
// task complexity tier (e.g. "coder", "medium" -> "coder:medium").
func RoutingKey(role, complexity string) string {
	return role + ":" + complexity
}
