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

// Package costledger tracks per-call token usage and USD cost against a
// daily budget, the way a billing sidecar would for any LLM-backed system.
package costledger

import "time"

// TokenUsage is the input/output token count for a single LLM call.
type TokenUsage struct {
	InputTokens  int
	OutputTokens int
}

// Total returns the sum of input and output tokens.
func (t TokenUsage) Total() int { return t.InputTokens + t.OutputTokens }

// ModelPricing gives per-million-token USD pricing for a model.
type ModelPricing struct {
	Model                  string
	InputPricePerMillion   float64
	OutputPricePerMillion  float64
}

// CalculateCost returns the (inputCostUSD, outputCostUSD) for the given usage.
func (p ModelPricing) CalculateCost(tokens TokenUsage) (float64, float64) {
	inputCost := (float64(tokens.InputTokens) / 1_000_000.0) * p.InputPricePerMillion
	outputCost := (float64(tokens.OutputTokens) / 1_000_000.0) * p.OutputPricePerMillion
	return inputCost, outputCost
}

// LlmCost is one recorded LLM call's cost breakdown.
type LlmCost struct {
	ID            string
	Model         string
	Tokens        TokenUsage
	InputCostUSD  float64
	OutputCostUSD float64
	Timestamp     time.Time
	Context       string
}

// TotalCostUSD returns the sum of input and output cost.
func (c LlmCost) TotalCostUSD() float64 { return c.InputCostUSD + c.OutputCostUSD }

// ModelCostSummary aggregates cost for a single model within a day.
type ModelCostSummary struct {
	Model             string
	TotalCostUSD      float64
	TotalInputTokens  uint64
	TotalOutputTokens uint64
	CallCount         uint32
}

func (s *ModelCostSummary) add(c LlmCost) {
	s.TotalCostUSD += c.TotalCostUSD()
	s.TotalInputTokens += uint64(c.Tokens.InputTokens)
	s.TotalOutputTokens += uint64(c.Tokens.OutputTokens)
	s.CallCount++
}

// DailyCostSummary aggregates cost across all models for one calendar day.
type DailyCostSummary struct {
	Date              string // YYYY-MM-DD
	TotalCostUSD      float64
	TotalInputTokens  uint64
	TotalOutputTokens uint64
	CallCount         uint32
	ByModel           map[string]*ModelCostSummary
}

func newDailyCostSummary(date string) *DailyCostSummary {
	return &DailyCostSummary{Date: date, ByModel: make(map[string]*ModelCostSummary)}
}

func (d *DailyCostSummary) add(c LlmCost) {
	d.TotalCostUSD += c.TotalCostUSD()
	d.TotalInputTokens += uint64(c.Tokens.InputTokens)
	d.TotalOutputTokens += uint64(c.Tokens.OutputTokens)
	d.CallCount++

	ms, ok := d.ByModel[c.Model]
	if !ok {
		ms = &ModelCostSummary{Model: c.Model}
		d.ByModel[c.Model] = ms
	}
	ms.add(c)
}

// DefaultPricingTable returns the built-in per-million-token pricing for
// the models this system routes to. Callers with newer prices inject
// them via AddPricing.
func DefaultPricingTable() map[string]ModelPricing {
	table := map[string]ModelPricing{}
	add := func(model string, in, out float64) {
		table[model] = ModelPricing{Model: model, InputPricePerMillion: in, OutputPricePerMillion: out}
	}
	add("anthropic/claude-sonnet-4-20250514", 3.0, 15.0)
	add("anthropic/claude-3-5-haiku-latest", 0.80, 4.0)
	add("anthropic/claude-opus-4-20250514", 15.0, 75.0)
	add("openai/gpt-4o", 2.50, 10.0)
	add("openai/gpt-4o-mini", 0.15, 0.60)
	return table
}
