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
	"math"
	"math/rand"
	"sync"
	"time"
)

const (
	defaultExplorationFactor = 1.0
	minExplorationFactor     = 0.1
	defaultMinSamplesForTrust = 5
	highUncertaintyThreshold = 0.15
	preferenceWeight         = 0.4
)

// Bandit is a Thompson Sampling multi-armed bandit keyed by routing key,
// with one Beta(alpha, beta) arm per (routing key, model) pair.
type Bandit struct {
	mu    sync.Mutex
	stats map[string]map[string]ModelStats // routingKey -> model -> stats
	rng   *rand.Rand

	explorationFactor float64
	minSamples        int
}

// NewBandit creates a Bandit with default tuning.
func NewBandit() *Bandit {
	return &Bandit{
		stats:             make(map[string]map[string]ModelStats),
		rng:               rand.New(rand.NewSource(time.Now().UnixNano())),
		explorationFactor: defaultExplorationFactor,
		minSamples:        defaultMinSamplesForTrust,
	}
}

// WithSeed fixes the bandit's randomness source, for deterministic tests.
func (b *Bandit) WithSeed(seed int64) *Bandit {
	b.rng = rand.New(rand.NewSource(seed))
	return b
}

// WithExplorationFactor scales how aggressively the bandit explores;
// clamped to a minimum of 0.1 so it can never fully disable exploration.
func (b *Bandit) WithExplorationFactor(factor float64) *Bandit {
	if factor < minExplorationFactor {
		factor = minExplorationFactor
	}
	b.explorationFactor = factor
	return b
}

// WithMinSamples sets how many observations an arm needs before it's
// no longer treated as under-explored.
func (b *Bandit) WithMinSamples(n int) *Bandit {
	if n > 0 {
		b.minSamples = n
	}
	return b
}

// getOrCreateStats returns the arm for (routingKey, model), seeding a
// fresh prior from the candidate's quality tier if this is the first
// observation.
func (b *Bandit) getOrCreateStats(routingKey string, candidate ModelCandidate) ModelStats {
	b.mu.Lock()
	defer b.mu.Unlock()

	arms, ok := b.stats[routingKey]
	if !ok {
		arms = make(map[string]ModelStats)
		b.stats[routingKey] = arms
	}
	if s, ok := arms[candidate.ID]; ok {
		return s
	}
	qualityPrior := candidate.QualityTier / 5.0
	s := newModelStats(routingKey, candidate.ID, qualityPrior)
	arms[candidate.ID] = s
	return s
}

// GetStats returns the arm for (routingKey, model) if it has been observed.
func (b *Bandit) GetStats(routingKey, model string) (ModelStats, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	arms, ok := b.stats[routingKey]
	if !ok {
		return ModelStats{}, false
	}
	s, ok := arms[model]
	return s, ok
}

// sampleBeta draws one sample from Beta(alpha, beta) via two Gamma
// draws (Marsaglia-Tsang), falling back to 0.5 for degenerate
// parameters so a bad prior can never crash selection.
func (b *Bandit) sampleBeta(alpha, beta float64) float64 {
	if alpha <= 0 || beta <= 0 {
		return 0.5
	}
	x := b.sampleGamma(alpha)
	y := b.sampleGamma(beta)
	if x+y == 0 {
		return 0.5
	}
	return x / (x + y)
}

// sampleGamma draws one sample from Gamma(shape, 1) using the
// Marsaglia-Tsang method, boosting shapes below 1 the standard way
// (sample Gamma(shape+1) then correct with a uniform draw).
func (b *Bandit) sampleGamma(shape float64) float64 {
	if shape < 1 {
		u := b.rng.Float64()
		return b.sampleGamma(shape+1) * math.Pow(u, 1/shape)
	}
	d := shape - 1.0/3.0
	c := 1.0 / math.Sqrt(9*d)
	for {
		x := b.rng.NormFloat64()
		v := 1 + c*x
		if v <= 0 {
			continue
		}
		v = v * v * v
		u := b.rng.Float64()
		if u < 1-0.0331*x*x*x*x {
			return d * v
		}
		if math.Log(u) < 0.5*x*x+d*(1-v+math.Log(v)) {
			return d * v
		}
	}
}

// Select picks one candidate under routingKey, returning nil if
// candidates is empty. A single candidate is always selected outright
// with no sampling.
func (b *Bandit) Select(routingKey string, candidates []ModelCandidate, preference Preference) *Selection {
	if len(candidates) == 0 {
		return nil
	}
	if len(candidates) == 1 {
		return &Selection{Model: candidates[0].ID, Score: 1.0, IsExploration: false}
	}

	var best *Selection
	var bestSample float64
	var bestHighUncertainty bool

	for _, candidate := range candidates {
		arm := b.getOrCreateStats(routingKey, candidate)

		adjustedAlpha := arm.Alpha * b.explorationFactor
		adjustedBeta := arm.Beta * b.explorationFactor
		sample := b.sampleBeta(adjustedAlpha, adjustedBeta)
		sample = applyPreferenceAdjustment(sample, candidate, preference)

		uncertainty := math.Sqrt((arm.Alpha * arm.Beta) / (math.Pow(arm.Alpha+arm.Beta, 2) * (arm.Alpha + arm.Beta + 1)))
		highUncertainty := uncertainty > highUncertaintyThreshold || arm.TotalUses < int64(b.minSamples)

		if best == nil || sample > bestSample {
			bestSample = sample
			bestHighUncertainty = highUncertainty
			best = &Selection{Model: candidate.ID, Score: sample}
		}
	}

	best.IsExploration = bestHighUncertainty
	return best
}

// applyPreferenceAdjustment nudges a sampled score toward the caller's
// stated preference. The adjustment is additive in the raw sample
// space and intentionally unclamped: an extreme preference plus a high
// sample can push the result above 1.0. This mirrors the scoring
// behavior exactly rather than normalizing it away.
func applyPreferenceAdjustment(sample float64, candidate ModelCandidate, preference Preference) float64 {
	switch preference {
	case PreferenceFast:
		bonus := math.Pow(candidate.SpeedTier/5.0, 2) * preferenceWeight
		return sample + bonus
	case PreferenceQuality:
		bonus := math.Pow(candidate.QualityTier/5.0, 2) * preferenceWeight
		return sample + bonus
	case PreferenceCost:
		bonus := (1.0 / (1.0 + candidate.InputCostPerMillion/5.0)) * preferenceWeight
		return sample + bonus
	default:
		return sample
	}
}

// Update folds an observed reward (clamped to [0,1]) into an arm's
// posterior: alpha grows by the reward, beta by its complement.
func (b *Bandit) Update(routingKey, model string, reward float64) ModelStats {
	if reward < 0 {
		reward = 0
	} else if reward > 1 {
		reward = 1
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	arms, ok := b.stats[routingKey]
	if !ok {
		arms = make(map[string]ModelStats)
		b.stats[routingKey] = arms
	}
	s, ok := arms[model]
	if !ok {
		s = newModelStats(routingKey, model, 0.5)
	}

	s.Alpha += reward
	s.Beta += 1 - reward
	s.TotalUses++
	if reward > 0.5 {
		s.Successes++
	} else {
		s.Failures++
	}
	s.RewardSum += reward
	s.RewardSumSq += reward * reward
	s.UpdatedAt = time.Now().UTC()

	arms[model] = s
	return s
}

// ExpectedValues returns every observed model's expected value
// (alpha/(alpha+beta)) under routingKey.
func (b *Bandit) ExpectedValues(routingKey string) map[string]float64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make(map[string]float64)
	for model, s := range b.stats[routingKey] {
		out[model] = s.ExpectedValue()
	}
	return out
}

// UCB computes the Upper Confidence Bound score for (routingKey, model)
// given totalSelections observed so far under that routing key, used
// only as an analytics metric alongside Thompson Sampling selection.
// Unexplored or unknown arms return +Inf so they sort first.
func (b *Bandit) UCB(routingKey, model string, totalSelections int64) float64 {
	s, ok := b.GetStats(routingKey, model)
	if !ok || s.TotalUses == 0 {
		return math.Inf(1)
	}
	c := math.Sqrt2
	mean := s.RewardSum / float64(s.TotalUses)
	return mean + c*math.Sqrt(math.Log(float64(totalSelections))/float64(s.TotalUses))
}

// AllStats returns every tracked arm across every routing key.
func (b *Bandit) AllStats() []ModelStats {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []ModelStats
	for _, arms := range b.stats {
		for _, s := range arms {
			out = append(out, s)
		}
	}
	return out
}

// StatsForKey returns every arm tracked under one routing key.
func (b *Bandit) StatsForKey(routingKey string) []ModelStats {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []ModelStats
	for _, s := range b.stats[routingKey] {
		out = append(out, s)
	}
	return out
}

// ImportStats seeds the bandit's in-memory state from persisted rows,
// used at startup to restore learning across restarts.
func (b *Bandit) ImportStats(rows []ModelStats) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range rows {
		arms, ok := b.stats[s.RoutingKey]
		if !ok {
			arms = make(map[string]ModelStats)
			b.stats[s.RoutingKey] = arms
		}
		arms[s.Model] = s
	}
}

// Reset clears all learned state.
func (b *Bandit) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stats = make(map[string]map[string]ModelStats)
}
