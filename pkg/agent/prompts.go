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

package agent

import (
	"strings"

	"github.com/demiarch/orchestrator/pkg/router"
)

// systemPrompt returns the fixed system prompt for a kind. The wording is
// deliberately plain: what matters is that it is stable, so identical
// inputs always assemble byte-identical message sequences.
func systemPrompt(kind Kind) string {
	switch kind {
	case KindOrchestrator:
		return "You are the orchestrator. Decide whether this request needs planning and delegation, and if so, describe the work."
	case KindPlanner:
		return "You are the planner. Decompose the task into coder, reviewer, and tester tasks using TASK: lines."
	case KindCoder:
		return "You are the coder. Produce the code artifact for the assigned task."
	case KindReviewer:
		return "You are the reviewer. Review the code artifacts in context and report findings."
	case KindTester:
		return "You are the tester. Write tests for the code artifacts in context."
	default:
		return "You are an agent in a software delivery pipeline."
	}
}

// complexityOf derives a routing-key complexity tier from the task text
// alone (e.g. "coder:simple", "planner:complex"). The thresholds are a
// heuristic; all that matters is stability for identical input.
func complexityOf(task string) string {
	words := len(strings.Fields(task))
	switch {
	case words < 12:
		return "simple"
	case words > 60:
		return "complex"
	default:
		return "medium"
	}
}

// DefaultModelCandidates returns the stock candidate set agents route
// across absent an injected list, mirroring costledger's default pricing
// table so every candidate has a known price.
func DefaultModelCandidates() []router.ModelCandidate {
	return []router.ModelCandidate{
		{ID: "anthropic/claude-opus-4-20250514", QualityTier: 5, SpeedTier: 2, InputCostPerMillion: 15.0},
		{ID: "anthropic/claude-sonnet-4-20250514", QualityTier: 4, SpeedTier: 3, InputCostPerMillion: 3.0},
		{ID: "anthropic/claude-3-5-haiku-latest", QualityTier: 3, SpeedTier: 5, InputCostPerMillion: 0.80},
		{ID: "openai/gpt-4o", QualityTier: 4, SpeedTier: 3, InputCostPerMillion: 2.50},
		{ID: "openai/gpt-4o-mini", QualityTier: 2, SpeedTier: 5, InputCostPerMillion: 0.15},
	}
}
