package agent

import "testing"

func TestParseResponseLeafProducesArtifact(t *testing.T) {
	artifacts, plan := ParseResponse(KindCoder, "login.go", "func Login() {}")
	if plan != nil {
		t.Fatalf("leaf agent should never derive a plan, got %+v", plan)
	}
	if len(artifacts) != 1 || artifacts[0].Kind != ArtifactCode {
		t.Fatalf("expected one code artifact, got %+v", artifacts)
	}
}

func TestParseResponseStructuredTasks(t *testing.T) {
	text := "Plan:\nTASK: coder implement the login form\nTASK: tester write login tests\n"
	_, plan := ParseResponse(KindPlanner, "build login", text)
	if plan == nil || len(plan.Tasks) != 2 {
		t.Fatalf("expected 2 structured tasks, got %+v", plan)
	}
	if plan.Tasks[0].Kind != KindCoder || plan.Tasks[1].Kind != KindTester {
		t.Fatalf("unexpected task kinds: %+v", plan.Tasks)
	}
}

func TestParseResponseHeuristicFallback(t *testing.T) {
	text := "We should implement this feature:\n- build the login form\n- write tests for login\n"
	_, plan := ParseResponse(KindPlanner, "build login", text)
	if plan == nil || len(plan.Tasks) != 2 {
		t.Fatalf("expected heuristic decomposition into 2 tasks, got %+v", plan)
	}
	if plan.Tasks[1].Kind != KindTester {
		t.Fatalf("expected second enumerated item classified as tester, got %s", plan.Tasks[1].Kind)
	}
}

func TestParseResponseNoDecompositionNeeded(t *testing.T) {
	_, plan := ParseResponse(KindPlanner, "status check", "Everything already looks fine, no action needed.")
	if plan != nil {
		t.Fatalf("expected nil plan for non-actionable response, got %+v", plan)
	}
}

func TestPlanOrderedByStage(t *testing.T) {
	plan := &Plan{Tasks: []Task{
		{Kind: KindTester, Description: "t1"},
		{Kind: KindCoder, Description: "c1"},
		{Kind: KindReviewer, Description: "r1"},
		{Kind: KindCoder, Description: "c2"},
	}}
	stages := plan.OrderedByStage()
	if len(stages) != 3 {
		t.Fatalf("expected 3 stages (coder, reviewer, tester), got %d", len(stages))
	}
	if len(stages[0]) != 2 || stages[0][0].Kind != KindCoder {
		t.Fatalf("expected first stage to hold both coder tasks, got %+v", stages[0])
	}
	if stages[1][0].Kind != KindReviewer {
		t.Fatalf("expected second stage to be reviewer, got %+v", stages[1])
	}
	if stages[2][0].Kind != KindTester {
		t.Fatalf("expected third stage to be tester, got %+v", stages[2])
	}
}

func TestPlanOrderedByStageNil(t *testing.T) {
	var p *Plan
	if stages := p.OrderedByStage(); stages != nil {
		t.Fatalf("nil plan should yield nil stages, got %+v", stages)
	}
}
