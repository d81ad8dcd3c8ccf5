package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/haasonsaas/mama/pkg/types"
)

var errBoom = errors.New("boom")

func TestExtractJSONFencedBlock(t *testing.T) {
	text := "Here is the plan:\n```json\n{\"goal\":\"test\",\"steps\":[]}\n```\nLet me know."
	obj, ok := extractJSON(text)
	if !ok {
		t.Fatal("expected to extract JSON")
	}
	if obj != `{"goal":"test","steps":[]}` {
		t.Fatalf("obj = %q", obj)
	}
}

func TestExtractJSONRawBraces(t *testing.T) {
	text := `prefix {"goal":"g","steps":[{"description":"has a \"quoted\" brace }"}]} suffix`
	obj, ok := extractJSON(text)
	if !ok {
		t.Fatal("expected to extract JSON")
	}
	if obj == "" {
		t.Fatal("expected non-empty object")
	}
	// The brace inside the string literal must not have closed the object early.
	if obj[len(obj)-1] != '}' || !matchesBalanced(obj) {
		t.Fatalf("unbalanced extraction: %q", obj)
	}
}

func matchesBalanced(s string) bool {
	depth := 0
	inString := false
	escaped := false
	for _, c := range s {
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
		}
	}
	return depth == 0
}

func TestExtractJSONNoObject(t *testing.T) {
	if _, ok := extractJSON("no json here"); ok {
		t.Fatal("expected no extraction")
	}
}

func TestNormalizeStepID(t *testing.T) {
	cases := []struct {
		in   any
		pos  int
		want string
	}{
		{"step-a", 0, "step-a"},
		{float64(3), 0, "3"},
		{"", 2, "3"},
		{nil, 4, "5"},
	}
	for _, c := range cases {
		if got := normalizeStepID(c.in, c.pos); got != c.want {
			t.Errorf("normalizeStepID(%v, %d) = %q, want %q", c.in, c.pos, got, c.want)
		}
	}
}

func TestNormalizeDependsOn(t *testing.T) {
	got := normalizeDependsOn([]any{"a", float64(2), 5.0})
	want := []string{"a", "2", "5"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestNormalizePlanSortsByIDAndCapsSteps(t *testing.T) {
	raw := rawPlan{
		Goal: "many steps",
		Steps: []rawPlanStep{
			{ID: float64(3), Tool: "read_file"},
			{ID: float64(1), Tool: "read_file"},
			{ID: float64(2), Tool: "write_file"},
		},
	}
	plan := normalizePlan(raw)
	if len(plan.Steps) != 3 {
		t.Fatalf("expected 3 steps, got %d", len(plan.Steps))
	}
	if plan.Steps[0].ID != "1" || plan.Steps[1].ID != "2" || plan.Steps[2].ID != "3" {
		t.Fatalf("steps not sorted by ID: %+v", plan.Steps)
	}
	if !plan.HasSideEffects {
		t.Fatal("expected hasSideEffects to be set by the write_file step")
	}
}

func TestNormalizePlanCapsAtMaxSteps(t *testing.T) {
	raw := rawPlan{Goal: "long plan"}
	for i := 0; i < maxPlanSteps+5; i++ {
		raw.Steps = append(raw.Steps, rawPlanStep{ID: float64(i + 1), Tool: "read_file"})
	}
	plan := normalizePlan(raw)
	if len(plan.Steps) != maxPlanSteps {
		t.Fatalf("expected %d steps, got %d", maxPlanSteps, len(plan.Steps))
	}
}

func TestParseFallback(t *testing.T) {
	name, params, err := parseFallback(`read_file {"path":"a.txt"}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if name != "read_file" || string(params) != `{"path":"a.txt"}` {
		t.Fatalf("got name=%q params=%q", name, params)
	}

	name, params, err = parseFallback("noop")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if name != "noop" || string(params) != "{}" {
		t.Fatalf("got name=%q params=%q", name, params)
	}

	if _, _, err := parseFallback("  "); err == nil {
		t.Fatal("expected error for empty fallback")
	}
}

func TestDependenciesMet(t *testing.T) {
	completed := map[string]bool{"1": true}
	if !dependenciesMet([]string{"1"}, completed) {
		t.Fatal("expected dependency to be satisfied")
	}
	if dependenciesMet([]string{"1", "2"}, completed) {
		t.Fatal("expected unmet dependency to fail")
	}
	if !dependenciesMet(nil, completed) {
		t.Fatal("expected no dependencies to always pass")
	}
}

func TestPercentComplete(t *testing.T) {
	if got := percentComplete(0, 4); got != 25 {
		t.Fatalf("got %d, want 25", got)
	}
	if got := percentComplete(3, 4); got != 100 {
		t.Fatalf("got %d, want 100", got)
	}
	if got := percentComplete(0, 0); got != 100 {
		t.Fatalf("got %d, want 100", got)
	}
}

func TestExecutePlanStopsOnCriticalFailure(t *testing.T) {
	reg := NewToolRegistry()
	reg.Register(&stubTool{name: "ok", result: &ToolResult{Content: "done"}})
	reg.Register(&stubTool{name: "fails", err: errBoom})

	l := New(Config{Registry: reg}, types.ChannelTerminal, "session-1")
	plan := types.Plan{
		Steps: []types.PlanStep{
			{ID: "1", Tool: "ok"},
			{ID: "2", Tool: "fails", CanFail: false},
			{ID: "3", Tool: "ok"},
		},
	}

	exec := l.executePlan(context.Background(), plan, "tester")
	if !exec.Aborted {
		t.Fatal("expected execution to abort on critical failure")
	}
	if exec.CompletedSteps != 1 {
		t.Fatalf("expected 1 completed step, got %d", exec.CompletedSteps)
	}
	if len(exec.Results) != 2 {
		t.Fatalf("expected 2 results (step 3 never runs), got %d", len(exec.Results))
	}
}

func TestExecutePlanSkipsUnmetDependencies(t *testing.T) {
	reg := NewToolRegistry()
	reg.Register(&stubTool{name: "ok", result: &ToolResult{Content: "done"}})

	l := New(Config{Registry: reg}, types.ChannelTerminal, "session-1")
	plan := types.Plan{
		Steps: []types.PlanStep{
			{ID: "1", Tool: "ok", DependsOn: []string{"missing"}},
		},
	}

	exec := l.executePlan(context.Background(), plan, "tester")
	if exec.Aborted {
		t.Fatal("a skipped step should not abort the plan")
	}
	if exec.Results[0].Status != types.StepSkipped {
		t.Fatalf("expected skipped status, got %s", exec.Results[0].Status)
	}
}

func TestExecutePlanUsesFallbackOnFailure(t *testing.T) {
	reg := NewToolRegistry()
	reg.Register(&stubTool{name: "primary", err: errBoom})
	reg.Register(&stubTool{name: "backup", result: &ToolResult{Content: "fallback ran"}})

	l := New(Config{Registry: reg}, types.ChannelTerminal, "session-1")
	plan := types.Plan{
		Steps: []types.PlanStep{
			{ID: "1", Tool: "primary", Fallback: "backup"},
		},
	}

	exec := l.executePlan(context.Background(), plan, "tester")
	if exec.Results[0].Status != types.StepFallback {
		t.Fatalf("expected fallback status, got %s", exec.Results[0].Status)
	}
	if exec.Results[0].Output != "fallback ran" {
		t.Fatalf("Output = %q", exec.Results[0].Output)
	}
}
