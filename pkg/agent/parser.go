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
	"regexp"
	"strings"
)

// ParseResponse turns one LLM response into (a) an artifact set and (b)
// any derived plan. Leaf agents never derive a plan; composite agents
// (Orchestrator, Planner) look first for the structured "TASK:"
// convention this system's own prompts ask the model to follow, and fall
// back to a deterministic heuristic when that structure is absent or
// malformed: parsing the model's literal prose for imperative verbs and
// enumeration cues. The "TASK:" line is an internal convention between
// this system's prompts and parser, not a provider wire protocol.
func ParseResponse(kind Kind, taskDescription, text string) ([]Artifact, *Plan) {
	if kind.IsLeaf() {
		return []Artifact{artifactForLeaf(kind, taskDescription, text)}, nil
	}

	if tasks, ok := parseStructuredTasks(text); ok {
		return nil, &Plan{Tasks: tasks}
	}
	return nil, heuristicPlan(text)
}

// artifactForLeaf maps a leaf kind's raw response to the artifact kind it
// is responsible for producing.
func artifactForLeaf(kind Kind, name, content string) Artifact {
	var ak ArtifactKind
	switch kind {
	case KindCoder:
		ak = ArtifactCode
	case KindReviewer:
		ak = ArtifactReview
	case KindTester:
		ak = ArtifactTest
	default:
		ak = ArtifactOther
	}
	return Artifact{Kind: ak, Name: name, Content: content}
}

// taskLinePattern matches this system's "TASK: <kind> <description>"
// convention, one per line, e.g. "TASK: coder implement the login form".
var taskLinePattern = regexp.MustCompile(`(?i)^TASK:\s*(coder|reviewer|tester)\s+(.+)$`)

func parseStructuredTasks(text string) ([]Task, bool) {
	var tasks []Task
	for _, line := range strings.Split(text, "\n") {
		m := taskLinePattern.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}
		tasks = append(tasks, Task{Kind: Kind(strings.ToLower(m[1])), Description: strings.TrimSpace(m[2])})
	}
	return tasks, len(tasks) > 0
}

// imperativeVerbs are the first cue the heuristic fallback looks for:
// verbs that indicate the response is describing work to be done rather
// than reporting a finished result.
var imperativeVerbs = []string{
	"implement", "build", "create", "add", "fix", "write", "refactor",
	"update", "remove", "design", "generate", "wire", "integrate",
}

// enumerationPattern matches a bulleted or numbered list line, the
// second cue used to detect decomposition.
var enumerationPattern = regexp.MustCompile(`(?m)^\s*(?:[-*•]|\d+[.)])\s+(.+)$`)

// heuristicPlan decides, from imperative-verb and enumeration cues alone,
// whether the response calls for decomposition into child tasks, and if
// so builds a best-effort Plan by classifying each enumerated line with
// keyword matching (a line mentioning "test" goes to the tester, "review"
// to the reviewer, everything else to the coder).
func heuristicPlan(text string) *Plan {
	lower := strings.ToLower(text)
	hasVerb := false
	for _, v := range imperativeVerbs {
		if strings.Contains(lower, v) {
			hasVerb = true
			break
		}
	}

	items := enumerationPattern.FindAllStringSubmatch(text, -1)
	if len(items) == 0 {
		if !hasVerb {
			return nil
		}
		// A single imperative sentence with no enumeration still
		// implies one coding task.
		return &Plan{Tasks: []Task{{Kind: KindCoder, Description: strings.TrimSpace(text)}}}
	}

	var tasks []Task
	for _, m := range items {
		desc := strings.TrimSpace(m[1])
		tasks = append(tasks, Task{Kind: classifyTask(desc), Description: desc})
	}
	return &Plan{Tasks: tasks}
}

func classifyTask(desc string) Kind {
	lower := strings.ToLower(desc)
	switch {
	case strings.Contains(lower, "test"):
		return KindTester
	case strings.Contains(lower, "review"):
		return KindReviewer
	default:
		return KindCoder
	}
}
