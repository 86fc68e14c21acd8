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

package main

import (
	"context"
	"fmt"

	"github.com/demiarch/orchestrator/pkg/agent"
	"github.com/demiarch/orchestrator/pkg/memory"
	"github.com/demiarch/orchestrator/pkg/router"
)

// runFeature drives one feature request end to end through the
// orchestrated agent tree: it recovers any crashed session, opens (or
// resumes) a session for the project, captures a pre-generation
// checkpoint, recalls relevant context memory, runs the orchestrator
// root node, and records the resulting checkpoint and memory entry.
func runFeature(ctx context.Context, app *App, projectID, featureID, task string) (agent.AgentResult, error) {
	if _, _, err := app.Sessions.Recover(ctx); err != nil {
		return agent.AgentResult{}, fmt.Errorf("recover sessions: %w", err)
	}

	sess, err := app.Sessions.GetOrCreate(ctx, "feature: "+featureID)
	if err != nil {
		return agent.AgentResult{}, fmt.Errorf("open session: %w", err)
	}
	if _, err := app.Sessions.SwitchProject(ctx, sess.ID, projectID); err != nil {
		return agent.AgentResult{}, fmt.Errorf("switch project: %w", err)
	}
	if _, err := app.Sessions.SwitchFeature(ctx, sess.ID, featureID); err != nil {
		return agent.AgentResult{}, fmt.Errorf("switch feature: %w", err)
	}

	if _, err := app.Checkpoint.CreateBeforeGeneration(ctx, projectID, featureID, featureID); err != nil {
		return agent.AgentResult{}, fmt.Errorf("pre-generation checkpoint: %w", err)
	}

	recalled, err := app.Memory.Recall(ctx, projectID, memory.RecallQuery{
		Text:     task,
		TopK:     app.Config.Memory.TopK,
		MinScore: app.Config.Memory.MinScore,
	})
	if err != nil {
		return agent.AgentResult{}, fmt.Errorf("recall context memory: %w", err)
	}

	history := make([]agent.Message, 0, len(recalled))
	for _, r := range recalled {
		history = append(history, agent.Message{Role: agent.RoleSystem, Content: r.Entry.IndexSummary})
	}

	root := agent.NewRoot(agent.KindOrchestrator, app.Runtime, projectID, featureID, history)
	result := root.Execute(ctx, task, router.PreferenceBalanced)

	cp, err := app.Checkpoint.Capture(ctx, projectID, featureID, "post-generation")
	if err != nil {
		return result, fmt.Errorf("post-generation checkpoint: %w", err)
	}
	if _, err := app.Sessions.RecordCheckpoint(ctx, sess.ID, cp.ID); err != nil {
		return result, fmt.Errorf("record session checkpoint: %w", err)
	}
	if _, err := app.Memory.Ingest(ctx, projectID, sess.ID, result.Output); err != nil {
		return result, fmt.Errorf("ingest result into memory: %w", err)
	}

	if !result.Success {
		if _, err := app.Sessions.Complete(ctx, sess.ID); err != nil {
			return result, fmt.Errorf("complete session: %w", err)
		}
		return result, fmt.Errorf("feature run failed: %s", result.FailureReason)
	}
	if _, err := app.Sessions.Complete(ctx, sess.ID); err != nil {
		return result, fmt.Errorf("complete session: %w", err)
	}
	return result, nil
}
