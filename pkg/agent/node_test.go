package agent

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/demiarch/orchestrator/pkg/config"
	"github.com/demiarch/orchestrator/pkg/costledger"
	"github.com/demiarch/orchestrator/pkg/errs"
	"github.com/demiarch/orchestrator/pkg/llmclient"
	"github.com/demiarch/orchestrator/pkg/router"
	"github.com/demiarch/orchestrator/pkg/store"
)

func newTestRuntime(t *testing.T, responder llmclient.ResponseFunc) *Runtime {
	t.Helper()
	cfg := config.DatabaseConfig{Driver: "sqlite", Database: ":memory:"}
	cfg.SetDefaults()
	db, err := store.Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	r, err := router.New(context.Background(), db, "sqlite", 1.0, 5, nil)
	require.NoError(t, err)

	ledger, err := costledger.New(db, "sqlite", 50.0, 0.8, nil)
	require.NoError(t, err)

	return NewRuntime(r, ledger, nil, llmclient.NewStubClient(responder), nil)
}

// buildLoginResponder scripts a full Orchestrator -> Planner -> Coder run
// for a "Build login" request.
func buildLoginResponder(messages []llmclient.Message, model string) (llmclient.Response, error) {
	sys := messages[0].Content
	var content string
	switch {
	case strings.Contains(sys, "orchestrator"):
		content = "We should implement this feature now."
	case strings.Contains(sys, "planner"):
		content = "TASK: coder implement login backend"
	case strings.Contains(sys, "coder"):
		content = "func Login() {}"
	default:
		content = "ok"
	}
	words := len(strings.Fields(content))
	return llmclient.Response{
		Content: content, Model: model,
		TokensUsed: words * 2, InputTokens: words, OutputTokens: words,
		FinishReason: llmclient.FinishStop,
	}, nil
}

func TestExecute_BuildLoginEndToEnd(t *testing.T) {
	rt := newTestRuntime(t, buildLoginResponder)
	root := NewRoot(KindOrchestrator, rt, "proj-1", "feat-1", nil)

	result := root.Execute(context.Background(), "Build login", router.PreferenceBalanced)

	require.True(t, result.Success)
	require.True(t, result.AllSucceeded(), "every node in the subtree must have succeeded")
	require.Len(t, result.Children, 1, "orchestrator must spawn exactly one planner")

	planner := result.Children[0]
	require.True(t, planner.Success)
	require.NotEmpty(t, planner.Children, "planner must spawn at least one coder child")

	coder := planner.Children[0]
	require.True(t, coder.Success)
	codeArtifacts := coder.ArtifactsOfKind(ArtifactCode)
	require.Len(t, codeArtifacts, 1)

	require.Equal(t, result.TokensUsed+childTotal(result.Children), result.TotalTokens(), "token totals must be conserved across the tree")
	require.GreaterOrEqual(t, result.TotalTokens(), childTotal(result.Children))
}

func childTotal(children []AgentResult) int {
	total := 0
	for _, c := range children {
		total += c.TotalTokens()
	}
	return total
}

func TestExecute_CancelledAtEntry(t *testing.T) {
	rt := newTestRuntime(t, buildLoginResponder)
	rt.Cancel()
	root := NewRoot(KindCoder, rt, "proj-1", "feat-1", nil)

	result := root.Execute(context.Background(), "write code", router.PreferenceBalanced)

	require.False(t, result.Success)
	require.Equal(t, "cancelled", result.FailureReason)
	require.Equal(t, StatusCancelled, root.Status)
}

func TestExecute_LLMFailurePropagatesAsFailureResult(t *testing.T) {
	rt := newTestRuntime(t, func(messages []llmclient.Message, model string) (llmclient.Response, error) {
		return llmclient.Response{}, errs.New("E999", errs.CategoryLLM, "boom")
	})
	root := NewRoot(KindCoder, rt, "proj-1", "feat-1", nil)

	result := root.Execute(context.Background(), "write code", router.PreferenceBalanced)

	require.False(t, result.Success)
	require.Equal(t, StatusFailed, root.Status)
	require.Contains(t, result.FailureReason, "boom")
}

func TestExecute_BudgetGateAbortsBeforeLLMCall(t *testing.T) {
	stub := llmclient.NewStubClient(nil)
	cfg := config.DatabaseConfig{Driver: "sqlite", Database: ":memory:"}
	cfg.SetDefaults()
	db, err := store.Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	ledger, err := costledger.New(db, "sqlite", 0.000001, 0.8, nil)
	require.NoError(t, err)
	_, err = ledger.Record(context.Background(), "anthropic/claude-sonnet-4-20250514", costledger.TokenUsage{InputTokens: 1000, OutputTokens: 0}, "seed")
	require.NoError(t, err)
	require.True(t, ledger.IsOverLimit())

	rt := NewRuntime(nil, ledger, nil, stub, nil)
	root := NewRoot(KindCoder, rt, "proj-1", "feat-1", nil)

	result := root.Execute(context.Background(), "write code", router.PreferenceBalanced)

	require.False(t, result.Success)
	require.Empty(t, stub.Calls, "budget gate must abort before invoking the LLM")
}

func TestSpawnChild_HierarchyViolationDoesNotMutateState(t *testing.T) {
	rt := newTestRuntime(t, buildLoginResponder)
	coder := NewRoot(KindCoder, rt, "proj-1", "feat-1", nil)

	_, err := coder.spawnChild(KindReviewer, nil)
	require.Error(t, err)
	require.True(t, errs.IsCode(err, errs.CodeInvalidHierarchy))
	require.Equal(t, 0, rt.Live.Count(), "a rejected spawn must not register any node")
}

func TestRunStages_CancelledMidFlightFailsWithoutCallingLLM(t *testing.T) {
	rt := newTestRuntime(t, buildLoginResponder)
	planner := NewRoot(KindPlanner, rt, "proj-1", "feat-1", nil)
	plan := &Plan{Tasks: []Task{{Kind: KindCoder, Description: "c1"}}}

	rt.Cancel()
	results := planner.runStages(context.Background(), plan, router.PreferenceBalanced)

	require.Len(t, results, 1)
	require.False(t, results[0].Success)
	require.Equal(t, "cancelled", results[0].FailureReason)
	require.Empty(t, rt.LLM.(*llmclient.StubClient).Calls, "a cancelled run must not call the LLM")
}

func TestMessageAssemblyIsDeterministic(t *testing.T) {
	rt := newTestRuntime(t, buildLoginResponder)
	n1 := NewRoot(KindCoder, rt, "p", "f", []Message{{Role: RoleUser, Content: "prior context"}})
	n2 := NewRoot(KindCoder, rt, "p", "f", []Message{{Role: RoleUser, Content: "prior context"}})

	m1 := n1.buildMessages("implement the thing")
	m2 := n2.buildMessages("implement the thing")
	require.Equal(t, m1, m2)
}
