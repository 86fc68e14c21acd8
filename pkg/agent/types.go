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

// Package agent implements the hierarchical agent runtime (C7): a bounded
// tree of cooperating agents (Orchestrator -> Planner -> {Coder, Reviewer,
// Tester}) whose spawning is gated by a hierarchy rule, whose execution is
// cooperatively cancellable, and whose results aggregate bottom-up with
// token accounting.
package agent

import "time"

// Capability is one thing an agent is allowed to do.
type Capability string

const (
	CapabilityCodeGeneration Capability = "code-generation"
	CapabilityCodeReview     Capability = "code-review"
	CapabilityTestGeneration Capability = "test-generation"
	CapabilityPlanning       Capability = "planning"
	CapabilityOrchestration  Capability = "orchestration"
	CapabilityFileRead       Capability = "file-read"
	CapabilityFileWrite      Capability = "file-write"
	CapabilityCommandExec    Capability = "command-exec"
	CapabilityCodebaseSearch Capability = "codebase-search"
)

// Status is the lifecycle state of one agent node's execution.
type Status string

const (
	StatusReady             Status = "ready"
	StatusRunning           Status = "running"
	StatusWaitingForChildren Status = "waiting-for-children"
	StatusCompleted         Status = "completed"
	StatusFailed            Status = "failed"
	StatusCancelled         Status = "cancelled"
)

// Kind identifies an agent's position in the fixed hierarchy.
type Kind string

const (
	KindOrchestrator Kind = "orchestrator"
	KindPlanner      Kind = "planner"
	KindCoder        Kind = "coder"
	KindReviewer     Kind = "reviewer"
	KindTester       Kind = "tester"
)

// Level returns the agent kind's depth in the fixed hierarchy.
// Orchestrator is level 1, Planner level 2, the leaves level 3.
func (k Kind) Level() int {
	switch k {
	case KindOrchestrator:
		return 1
	case KindPlanner:
		return 2
	case KindCoder, KindReviewer, KindTester:
		return 3
	default:
		return 0
	}
}

// IsLeaf reports whether a Kind cannot spawn children.
func (k Kind) IsLeaf() bool {
	return k == KindCoder || k == KindReviewer || k == KindTester
}

// DefaultCapabilities returns the capability set this system grants a
// given agent kind.
func (k Kind) DefaultCapabilities() []Capability {
	switch k {
	case KindOrchestrator:
		return []Capability{CapabilityOrchestration, CapabilityPlanning}
	case KindPlanner:
		return []Capability{CapabilityPlanning, CapabilityCodebaseSearch}
	case KindCoder:
		return []Capability{CapabilityCodeGeneration, CapabilityFileWrite, CapabilityFileRead}
	case KindReviewer:
		return []Capability{CapabilityCodeReview, CapabilityFileRead, CapabilityCodebaseSearch}
	case KindTester:
		return []Capability{CapabilityTestGeneration, CapabilityCommandExec, CapabilityFileRead}
	default:
		return nil
	}
}

// Role tags one message in a conversational context.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one role-tagged entry in a conversational context.
type Message struct {
	Role    Role
	Content string
}

// ArtifactKind classifies the output an agent produced.
type ArtifactKind string

const (
	ArtifactCode          ArtifactKind = "code"
	ArtifactFile          ArtifactKind = "file"
	ArtifactReview        ArtifactKind = "review"
	ArtifactTest          ArtifactKind = "test"
	ArtifactPlan          ArtifactKind = "plan"
	ArtifactDocumentation ArtifactKind = "documentation"
	ArtifactOther         ArtifactKind = "other"
)

// Artifact is one concrete piece of work an agent produced.
type Artifact struct {
	Kind     ArtifactKind
	Name     string
	Content  string
	Metadata map[string]string
}

// Task is one unit of work a composite agent's plan assigns to a child.
type Task struct {
	Kind        Kind
	Description string
	// DependsOnCode marks a task as consuming the code artifacts produced
	// by earlier tasks in the same plan. runStages does not read it: every
	// child it spawns receives the code artifacts of all earlier stages as
	// extra context, whether or not the flag is set.
	DependsOnCode bool
}

// Plan is the ordered decomposition a composite agent derives from its
// LLM response, grouping tasks by kind so coder tasks run, complete, and
// publish their artifacts before reviewer tasks start, which in turn
// complete before tester tasks start.
type Plan struct {
	Tasks []Task
}

// OrderedByStage groups p's tasks into stages that must run one after
// another: coder tasks, then reviewer tasks, then tester tasks. Tasks of
// kinds other than those three are appended as their own trailing stage
// in encounter order, preserving determinism without assuming a fixed
// downstream kind.
func (p *Plan) OrderedByStage() [][]Task {
	if p == nil {
		return nil
	}
	stageOrder := []Kind{KindCoder, KindReviewer, KindTester}
	staged := make(map[Kind][]Task, len(stageOrder))
	var other []Task
	for _, t := range p.Tasks {
		switch t.Kind {
		case KindCoder, KindReviewer, KindTester:
			staged[t.Kind] = append(staged[t.Kind], t)
		default:
			other = append(other, t)
		}
	}
	var stages [][]Task
	for _, k := range stageOrder {
		if tasks := staged[k]; len(tasks) > 0 {
			stages = append(stages, tasks)
		}
	}
	if len(other) > 0 {
		stages = append(stages, other)
	}
	return stages
}

// AgentResult is the outcome of one node's execute(), aggregated
// bottom-up from its children.
type AgentResult struct {
	Success     bool
	Output      string
	Artifacts   []Artifact
	TokensUsed  int
	Children    []AgentResult
	FailureReason string
}

// TotalTokens sums this node's own tokens with every descendant's, so a
// subtree's total is always its own usage plus its children's totals.
func (r AgentResult) TotalTokens() int {
	total := r.TokensUsed
	for _, c := range r.Children {
		total += c.TotalTokens()
	}
	return total
}

// AllSucceeded is the conjunction of success over the whole subtree.
func (r AgentResult) AllSucceeded() bool {
	if !r.Success {
		return false
	}
	for _, c := range r.Children {
		if !c.AllSucceeded() {
			return false
		}
	}
	return true
}

// ArtifactsOfKind returns every artifact of the given kind found anywhere
// in r's subtree, in subtree-traversal order. Used to derive the "code
// context" propagated to downstream reviewer/tester tasks.
func (r AgentResult) ArtifactsOfKind(kind ArtifactKind) []Artifact {
	var out []Artifact
	for _, a := range r.Artifacts {
		if a.Kind == kind {
			out = append(out, a)
		}
	}
	for _, c := range r.Children {
		out = append(out, c.ArtifactsOfKind(kind)...)
	}
	return out
}

// Failure builds a failed AgentResult carrying a human-readable reason.
func Failure(reason string) AgentResult {
	return AgentResult{Success: false, FailureReason: reason, Output: reason}
}

// AgentContext is the per-invocation value bundle passed into execute. It
// is never copied across a spawn boundary except to derive a child's own
// context (new ID/path/depth); the Runtime handle within it is shared by
// reference across the whole tree.
type AgentContext struct {
	ID          string
	Path        string
	Depth       int
	Kind        Kind
	History     []Message
	// InputContext is this specific invocation's extra context: for a
	// reviewer or tester task, the code artifacts earlier siblings in
	// the same plan produced.
	InputContext []Message
	ProjectID    string
	FeatureID    string
	Runtime      *Runtime
	StartedAt    time.Time
}

// Cancelled reports whether the shared runtime's cancellation signal has
// fired.
func (c AgentContext) Cancelled() bool {
	return c.Runtime.Cancelled()
}

// child derives a new AgentContext for a spawned node one level deeper.
func (c AgentContext) child(id string, kind Kind) AgentContext {
	path := c.Path + "/" + string(kind)
	// InputContext is deliberately left empty here; callers that derive
	// a "code context" set it explicitly on the returned value.
	return AgentContext{
		ID:        id,
		Path:      path,
		Depth:     c.Depth + 1,
		Kind:      kind,
		History:   c.History,
		ProjectID: c.ProjectID,
		FeatureID: c.FeatureID,
		Runtime:   c.Runtime,
		StartedAt: time.Now().UTC(),
	}
}
