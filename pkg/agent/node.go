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
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/demiarch/orchestrator/pkg/costledger"
	"github.com/demiarch/orchestrator/pkg/errs"
	"github.com/demiarch/orchestrator/pkg/llmclient"
	"github.com/demiarch/orchestrator/pkg/router"
)

// Node is one live agent instance within a tree: the mutable Status
// alongside the immutable-per-invocation AgentContext value bundle.
type Node struct {
	Context      AgentContext
	Status       Status
	Capabilities []Capability
}

// NewRoot builds the root node of a tree. kind is almost always
// KindOrchestrator; tests exercise other kinds directly in isolation.
func NewRoot(kind Kind, rt *Runtime, projectID, featureID string, history []Message) *Node {
	return &Node{
		Context: AgentContext{
			ID:        uuid.NewString(),
			Path:      string(kind),
			Depth:     kind.Level(),
			Kind:      kind,
			History:   history,
			ProjectID: projectID,
			FeatureID: featureID,
			Runtime:   rt,
			StartedAt: time.Now().UTC(),
		},
		Status:       StatusReady,
		Capabilities: kind.DefaultCapabilities(),
	}
}

// spawnChild builds a child Node, enforcing the hierarchy rule: a
// violation fails without mutating any state (no Node is created,
// nothing is registered).
func (n *Node) spawnChild(kind Kind, inputContext []Message) (*Node, error) {
	if !CanSpawn(n.Context.Kind, kind) {
		if n.Context.Runtime.Metrics != nil {
			n.Context.Runtime.Metrics.RecordHierarchyViolation(string(n.Context.Kind), string(kind))
		}
		return nil, errs.New(errs.CodeInvalidHierarchy, errs.CategoryHierarchy,
			fmt.Sprintf("agent kind %q cannot spawn %q", n.Context.Kind, kind)).
			WithRemediation("fix the plan decomposition to only target allowed child kinds")
	}
	childCtx := n.Context.child(uuid.NewString(), kind)
	childCtx.InputContext = inputContext
	return &Node{Context: childCtx, Status: StatusReady, Capabilities: kind.DefaultCapabilities()}, nil
}

// Execute runs the node's execution contract end to end: cancellation
// check, registration, the ready->running transition, deterministic
// message assembly, the routed LLM call, response parsing, and, for
// composite kinds, child fan-out with bottom-up result aggregation.
func (n *Node) Execute(ctx context.Context, task string, preference router.Preference) AgentResult {
	start := time.Now()
	tokensUsed := 0
	defer func() {
		if n.Context.Runtime.Metrics != nil {
			n.Context.Runtime.Metrics.ObserveAgentExecution(string(n.Context.Kind), string(n.Status), time.Since(start), tokensUsed)
		}
	}()

	// Cancellation is checked at entry.
	if n.Context.Cancelled() || ctx.Err() != nil {
		n.Status = StatusCancelled
		return Failure("cancelled")
	}

	// Register with shared runtime state for observability.
	n.Context.Runtime.register(n)
	defer n.Context.Runtime.unregister(n)

	// ready -> running.
	n.Status = StatusRunning

	// Deterministic message assembly.
	messages := n.buildMessages(task)

	// Invoke the LLM through the model router.
	resp, tokens, err := n.invokeLLM(ctx, messages, preference)
	if err != nil {
		n.Status = StatusFailed
		return Failure(fmt.Sprintf("llm call failed: %v", err))
	}

	// Parse the response into artifacts and/or a plan.
	tokensUsed = tokens
	artifacts, plan := ParseResponse(n.Context.Kind, task, resp.Content)
	result := AgentResult{Success: true, Output: resp.Content, Artifacts: artifacts, TokensUsed: tokens}

	// Composite agents spawn children when the plan calls for it.
	needsChildren := plan != nil && len(plan.Tasks) > 0
	if !n.Context.Kind.IsLeaf() && needsChildren {
		n.Status = StatusWaitingForChildren
		result.Children = n.spawnPerHierarchy(ctx, plan, task, resp.Content, preference)
	}

	n.Status = StatusCompleted
	return result
}

// spawnPerHierarchy dispatches to the kind-specific spawn strategy the
// fixed hierarchy requires: an Orchestrator always delegates whole-task
// to a single Planner child; a Planner fans its plan's tasks out to
// Coder/Reviewer/Tester leaves in dependency-ordered stages.
func (n *Node) spawnPerHierarchy(ctx context.Context, plan *Plan, task, ownOutput string, preference router.Preference) []AgentResult {
	switch n.Context.Kind {
	case KindOrchestrator:
		child, err := n.spawnChild(KindPlanner, nil)
		if err != nil {
			return []AgentResult{Failure(err.Error())}
		}
		if n.Context.Cancelled() || ctx.Err() != nil {
			return []AgentResult{Failure("cancelled")}
		}
		child.Context.History = append(append([]Message{}, n.Context.History...), Message{Role: RoleAssistant, Content: ownOutput})
		return []AgentResult{child.Execute(ctx, task, preference)}
	case KindPlanner:
		return n.runStages(ctx, plan, preference)
	default:
		return nil
	}
}

// runStages runs a Planner's plan in dependency-ordered stages: every
// coder task completes before any reviewer task starts, and every
// reviewer task completes before any tester task starts. Tasks within
// one stage run concurrently via errgroup, cancellation is checked
// before each spawn, and each stage's coder artifacts become the next
// stages' code context.
func (n *Node) runStages(ctx context.Context, plan *Plan, preference router.Preference) []AgentResult {
	var allResults []AgentResult
	var codeContext []Message

	for _, stage := range plan.OrderedByStage() {
		if n.Context.Cancelled() || ctx.Err() != nil {
			for range stage {
				allResults = append(allResults, Failure("cancelled"))
			}
			continue
		}

		results := make([]AgentResult, len(stage))
		g, gctx := errgroup.WithContext(ctx)
		for i, t := range stage {
			i, t := i, t
			if n.Context.Cancelled() || gctx.Err() != nil {
				results[i] = Failure("cancelled")
				continue
			}
			child, err := n.spawnChild(t.Kind, codeContext)
			if err != nil {
				results[i] = Failure(err.Error())
				continue
			}
			g.Go(func() error {
				results[i] = child.Execute(gctx, t.Description, preference)
				return nil
			})
		}
		_ = g.Wait()

		allResults = append(allResults, results...)
		for _, r := range results {
			for _, a := range r.ArtifactsOfKind(ArtifactCode) {
				codeContext = append(codeContext, Message{Role: RoleAssistant, Content: a.Content})
			}
		}
	}
	return allResults
}

// buildMessages assembles [system prompt] + inherited context + input
// context + [user(task)]. Given identical inputs this is byte-identical
// across calls, which is what makes cache lookups and replay tests work.
func (n *Node) buildMessages(task string) []llmclient.Message {
	messages := []llmclient.Message{{Role: llmclient.RoleSystem, Content: systemPrompt(n.Context.Kind)}}
	for _, m := range n.Context.History {
		messages = append(messages, llmclient.Message{Role: llmclient.Role(m.Role), Content: m.Content})
	}
	for _, m := range n.Context.InputContext {
		messages = append(messages, llmclient.Message{Role: llmclient.Role(m.Role), Content: m.Content})
	}
	messages = append(messages, llmclient.Message{Role: llmclient.RoleUser, Content: task})
	return messages
}

// invokeLLM enforces the budget gate before any network call, routes
// through the bandit when one is configured, and records the observed
// cost and reward.
func (n *Node) invokeLLM(ctx context.Context, messages []llmclient.Message, preference router.Preference) (llmclient.Response, int, error) {
	rt := n.Context.Runtime

	if rt.Ledger != nil && rt.Ledger.IsOverLimit() {
		return llmclient.Response{}, 0, errs.New(errs.CodeBudgetExceeded, errs.CategoryBudget, "daily cost budget exceeded").
			WithRemediation("raise cost.daily_budget_usd or wait for the next UTC day")
	}

	routingKey := router.RoutingKey(string(n.Context.Kind), complexityOf(lastUserContent(messages)))
	model := ""
	if rt.Router != nil {
		selection, err := rt.Router.Select(ctx, routingKey, DefaultModelCandidates(), preference)
		if err == nil {
			model = selection.Model
		}
	}
	if model == "" {
		model = DefaultModelCandidates()[1].ID // sonnet: the balanced default
	}

	resp, err := rt.LLM.Complete(ctx, messages, model)

	if rt.Router != nil {
		reward := 0.0
		if err == nil {
			reward = 1.0
		}
		_ = rt.Router.Update(ctx, routingKey, model, reward)
	}
	if err != nil {
		return llmclient.Response{}, 0, err
	}

	if rt.Ledger != nil {
		if _, lerr := rt.Ledger.Record(ctx, model, costledger.TokenUsage{InputTokens: resp.InputTokens, OutputTokens: resp.OutputTokens}, routingKey); lerr != nil {
			return llmclient.Response{}, 0, lerr
		}
	}
	return resp, resp.TokensUsed, nil
}

func lastUserContent(messages []llmclient.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == llmclient.RoleUser {
			return messages[i].Content
		}
	}
	return ""
}
