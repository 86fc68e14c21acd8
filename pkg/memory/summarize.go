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

package memory

import (
	"regexp"
	"strings"
)

var enumerationPattern = regexp.MustCompile(`^\s*(?:[-*•]|\d+[.)])\s+(.+)$`)

const (
	indexSummaryWords    = 12
	timelineSummaryWords = 40
	maxHighlights        = 5
)

// deriveSummaries builds the progressive-disclosure views over raw
// content: a short index summary, a longer timeline summary, and a
// handful of highlight lines. Exact wording is not part of any contract;
// the heuristic only needs to be stable for identical input.
func deriveSummaries(content string) (index, timeline string, highlights []string) {
	words := strings.Fields(content)
	index = strings.Join(firstN(words, indexSummaryWords), " ")
	timeline = strings.Join(firstN(words, timelineSummaryWords), " ")
	highlights = extractHighlights(content)
	return index, timeline, highlights
}

func firstN(words []string, n int) []string {
	if len(words) <= n {
		return words
	}
	return words[:n]
}

// extractHighlights pulls enumerated lines (bullets or numbered items)
// out of content, falling back to the first few non-empty lines when
// there is no enumeration. Capped at maxHighlights entries.
func extractHighlights(content string) []string {
	var enumerated []string
	var plain []string
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if enumerationPattern.MatchString(line) {
			if m := enumerationPattern.FindStringSubmatch(line); len(m) == 2 {
				enumerated = append(enumerated, strings.TrimSpace(m[1]))
				continue
			}
		}
		plain = append(plain, trimmed)
	}
	if len(enumerated) > 0 {
		return capAt(enumerated, maxHighlights)
	}
	return capAt(plain, maxHighlights)
}

func capAt(items []string, n int) []string {
	if len(items) <= n {
		return items
	}
	return items[:n]
}
