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

package costledger

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/demiarch/orchestrator/pkg/observability"
	"github.com/demiarch/orchestrator/pkg/store"
)

// Ledger records LLM call costs and enforces a daily USD budget. Records
// and daily summaries are cached in memory, most recent first, and
// persisted to the cost_entries table for durability across restarts.
type Ledger struct {
	mu             sync.RWMutex
	pricing        map[string]ModelPricing
	records        []LlmCost
	dailySummaries map[string]*DailyCostSummary

	dailyLimitUSD  float64
	alertThreshold float64

	db      *sql.DB
	dialect string
	metrics *observability.Metrics
}

// New creates a Ledger backed by db, preloading today's summary so a
// restart doesn't reset the budget window.
func New(db *sql.DB, dialect string, dailyLimitUSD, alertThreshold float64, metrics *observability.Metrics) (*Ledger, error) {
	l := &Ledger{
		pricing:        DefaultPricingTable(),
		dailySummaries: make(map[string]*DailyCostSummary),
		dailyLimitUSD:  dailyLimitUSD,
		alertThreshold: alertThreshold,
		db:             db,
		dialect:        dialect,
		metrics:        metrics,
	}
	if db != nil {
		if err := l.preload(context.Background()); err != nil {
			return nil, fmt.Errorf("preload cost ledger: %w", err)
		}
	}
	return l, nil
}

func (l *Ledger) preload(ctx context.Context) error {
	today := time.Now().UTC().Format("2006-01-02")
	query := store.Rebind(l.dialect, `
SELECT id, model, input_tokens, output_tokens, usd, created_at
FROM cost_entries WHERE day = ? ORDER BY created_at DESC`)
	rows, err := l.db.QueryContext(ctx, query, today)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var c LlmCost
		var usd float64
		if err := rows.Scan(&c.ID, &c.Model, &c.Tokens.InputTokens, &c.Tokens.OutputTokens, &usd, &c.Timestamp); err != nil {
			return err
		}
		if p, ok := l.pricing[c.Model]; ok {
			c.InputCostUSD, c.OutputCostUSD = p.CalculateCost(c.Tokens)
		} else {
			c.InputCostUSD = usd
		}
		l.records = append(l.records, c)
		l.summaryFor(today).add(c)
	}
	return rows.Err()
}

// AddPricing registers or overwrites pricing for a model.
func (l *Ledger) AddPricing(p ModelPricing) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pricing[p.Model] = p
}

// GetPricing returns the pricing for a model, if known.
func (l *Ledger) GetPricing(model string) (ModelPricing, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.pricing[model]
	return p, ok
}

// Record logs a completed LLM call's token usage and returns its cost
// breakdown. Unknown models are recorded at zero cost rather than
// rejecting the call.
func (l *Ledger) Record(ctx context.Context, model string, tokens TokenUsage, callContext string) (LlmCost, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	inputCost, outputCost := 0.0, 0.0
	if p, ok := l.pricing[model]; ok {
		inputCost, outputCost = p.CalculateCost(tokens)
	}

	cost := LlmCost{
		ID:            uuid.NewString(),
		Model:         model,
		Tokens:        tokens,
		InputCostUSD:  inputCost,
		OutputCostUSD: outputCost,
		Timestamp:     time.Now().UTC(),
		Context:       callContext,
	}

	l.records = append([]LlmCost{cost}, l.records...)
	day := cost.Timestamp.Format("2006-01-02")
	l.summaryFor(day).add(cost)

	if l.db != nil {
		query := store.Rebind(l.dialect, `
INSERT INTO cost_entries (id, model, day, input_tokens, output_tokens, usd, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`)
		if _, err := l.db.ExecContext(ctx, query, cost.ID, cost.Model, day,
			cost.Tokens.InputTokens, cost.Tokens.OutputTokens, cost.TotalCostUSD(), cost.Timestamp); err != nil {
			return cost, fmt.Errorf("persist cost entry: %w", err)
		}
	}

	if l.metrics != nil {
		l.metrics.RecordCost(model, cost.TotalCostUSD(), tokens.InputTokens, tokens.OutputTokens, l.isApproachingLimitLocked())
	}

	return cost, nil
}

func (l *Ledger) summaryFor(day string) *DailyCostSummary {
	s, ok := l.dailySummaries[day]
	if !ok {
		s = newDailyCostSummary(day)
		l.dailySummaries[day] = s
	}
	return s
}

// TodayTotal returns today's cumulative USD cost.
func (l *Ledger) TodayTotal() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.todayTotalLocked()
}

func (l *Ledger) todayTotalLocked() float64 {
	today := time.Now().UTC().Format("2006-01-02")
	if s, ok := l.dailySummaries[today]; ok {
		return s.TotalCostUSD
	}
	return 0
}

// TodaySummary returns today's aggregate summary, if any spend has occurred.
func (l *Ledger) TodaySummary() (*DailyCostSummary, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	today := time.Now().UTC().Format("2006-01-02")
	s, ok := l.dailySummaries[today]
	return s, ok
}

// IsApproachingLimit reports whether today's spend has crossed the alert
// threshold fraction of the daily limit.
func (l *Ledger) IsApproachingLimit() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.isApproachingLimitLocked()
}

func (l *Ledger) isApproachingLimitLocked() bool {
	return l.todayTotalLocked() >= l.dailyLimitUSD*l.alertThreshold
}

// IsOverLimit reports whether today's spend has reached the daily limit.
func (l *Ledger) IsOverLimit() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.todayTotalLocked() >= l.dailyLimitUSD
}

// RemainingBudget returns the USD remaining in today's budget, never negative.
func (l *Ledger) RemainingBudget() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	remaining := l.dailyLimitUSD - l.todayTotalLocked()
	if remaining < 0 {
		return 0
	}
	return remaining
}

// DailyLimit returns the configured daily USD budget.
func (l *Ledger) DailyLimit() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.dailyLimitUSD
}

// Records returns all cached records, most recent first.
func (l *Ledger) Records() []LlmCost {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]LlmCost, len(l.records))
	copy(out, l.records)
	return out
}

// RecordsForDate returns cached records for the given YYYY-MM-DD date.
func (l *Ledger) RecordsForDate(date string) []LlmCost {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []LlmCost
	for _, r := range l.records {
		if r.Timestamp.Format("2006-01-02") == date {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

// SummaryForDate returns the cached summary for the given date, if present.
func (l *Ledger) SummaryForDate(date string) (*DailyCostSummary, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s, ok := l.dailySummaries[date]
	return s, ok
}

// Clear drops all in-memory records and summaries. It does not touch
// persisted rows; it exists for test isolation.
func (l *Ledger) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = nil
	l.dailySummaries = make(map[string]*DailyCostSummary)
}
