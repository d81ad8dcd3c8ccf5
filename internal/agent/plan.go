package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/haasonsaas/mama/internal/llm"
	"github.com/haasonsaas/mama/pkg/types"
)

// sideEffectingTools gates whether a plan is treated as side-effecting, per
// spec.md §4.3 step 3c.
var sideEffectingTools = map[string]bool{
	"write_file":      true,
	"move_file":       true,
	"execute_command": true,
	"http_request":    true,
}

const maxPlanSteps = 8

// rawPlanStep is the planner's wire shape before normalization; Id is typed
// as any because the model may emit either a string or a number.
type rawPlanStep struct {
	ID          any            `json:"id"`
	Description string         `json:"description"`
	Tool        string         `json:"tool"`
	Params      map[string]any `json:"params"`
	DependsOn   []any          `json:"dependsOn"`
	CanFail     bool           `json:"canFail"`
	Fallback    string         `json:"fallback"`
}

type rawPlan struct {
	Goal              string        `json:"goal"`
	Steps             []rawPlanStep `json:"steps"`
	HasSideEffects    bool          `json:"hasSideEffects"`
	EstimatedDuration string        `json:"estimatedDuration"`
	Risks             []string      `json:"risks"`
}

// buildPlanPrompt enumerates available tools and demands a strict JSON plan,
// per spec.md §4.3 step 3a.
func buildPlanPrompt(input string, tools []llm.ToolDefinition) string {
	var b strings.Builder
	b.WriteString("The user asked for something that looks like it needs multiple steps:\n\n")
	b.WriteString(input)
	b.WriteString("\n\nAvailable tools:\n")
	for _, t := range tools {
		fmt.Fprintf(&b, "- %s: %s\n", t.Name, t.Description)
	}
	b.WriteString("\nRespond with ONLY a JSON object of this exact shape, no prose, no markdown:\n")
	b.WriteString(`{"goal":"...","steps":[{"id":1,"description":"...","tool":"...","params":{},"dependsOn":[],"canFail":false,"fallback":""}],"hasSideEffects":false,"estimatedDuration":"...","risks":[]}`)
	return b.String()
}

// extractJSON pulls the first balanced JSON object out of text, preferring a
// fenced code block if present, per spec.md §4.4.
func extractJSON(text string) (string, bool) {
	if fenced, ok := extractFencedJSON(text); ok {
		if obj, ok := braceWalk(fenced); ok {
			return obj, true
		}
	}
	return braceWalk(text)
}

func extractFencedJSON(text string) (string, bool) {
	const fence = "```"
	start := strings.Index(text, fence)
	if start == -1 {
		return "", false
	}
	rest := text[start+len(fence):]
	rest = strings.TrimPrefix(rest, "json")
	rest = strings.TrimPrefix(rest, "JSON")
	end := strings.Index(rest, fence)
	if end == -1 {
		return "", false
	}
	return rest[:end], true
}

// braceWalk finds the first top-level balanced {...} object, tracking string
// and escape state so braces inside string literals are ignored.
func braceWalk(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	if start == -1 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
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
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}
	return "", false
}

// normalizePlan applies spec.md §4.3 step 3c's normalization rules.
func normalizePlan(raw rawPlan) types.Plan {
	steps := make([]types.PlanStep, 0, len(raw.Steps))
	hasSideEffects := raw.HasSideEffects

	for i, rs := range raw.Steps {
		id := normalizeStepID(rs.ID, i)
		step := types.PlanStep{
			ID:          id,
			Description: rs.Description,
			Tool:        rs.Tool,
			Params:      rs.Params,
			DependsOn:   normalizeDependsOn(rs.DependsOn),
			CanFail:     rs.CanFail,
			Fallback:    rs.Fallback,
		}
		if sideEffectingTools[step.Tool] {
			hasSideEffects = true
		}
		steps = append(steps, step)
	}

	sort.SliceStable(steps, func(i, j int) bool {
		return stepIDLess(steps[i].ID, steps[j].ID)
	})

	if len(steps) > maxPlanSteps {
		steps = steps[:maxPlanSteps]
	}

	return types.Plan{
		Goal:              raw.Goal,
		Steps:             steps,
		HasSideEffects:    hasSideEffects,
		EstimatedDuration: raw.EstimatedDuration,
		Risks:             raw.Risks,
	}
}

func normalizeStepID(raw any, position int) string {
	switch v := raw.(type) {
	case string:
		if strings.TrimSpace(v) != "" {
			return v
		}
	case float64:
		return strconv.Itoa(int(v))
	}
	return strconv.Itoa(position + 1)
}

func normalizeDependsOn(raw []any) []string {
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		switch d := v.(type) {
		case string:
			out = append(out, d)
		case float64:
			out = append(out, strconv.Itoa(int(d)))
		}
	}
	return out
}

func stepIDLess(a, b string) bool {
	ai, aerr := strconv.Atoi(a)
	bi, berr := strconv.Atoi(b)
	if aerr == nil && berr == nil {
		return ai < bi
	}
	return a < b
}

// runPlanPath implements spec.md §4.3 step 3: the planning gate. It returns
// handled=false when the plan failed to parse, signalling the caller to fall
// through to the reactive path.
func (l *Loop) runPlanPath(ctx context.Context, input string, memoryInjection []string) (Response, bool, error) {
	var toolDefs []llm.ToolDefinition
	if l.cfg.Registry != nil {
		toolDefs = l.cfg.Registry.Definitions()
	}

	completion, err := l.cfg.Router.Complete(ctx, llm.CompletionRequest{
		Messages:     []types.Message{{Role: types.RoleUser, Content: buildPlanPrompt(input, toolDefs)}},
		SystemPrompt: l.systemPrompt(memoryInjection),
		TaskType:     llm.TaskComplexReasoning,
		Temperature:  0,
		MaxTokens:    4096,
	})
	if err != nil {
		l.cfg.Logger.Warn("plan request failed, falling back to reactive path", "error", err)
		return Response{}, false, nil
	}

	obj, ok := extractJSON(completion.Content)
	if !ok {
		return Response{}, false, nil
	}
	var raw rawPlan
	if err := json.Unmarshal([]byte(obj), &raw); err != nil {
		return Response{}, false, nil
	}

	plan := normalizePlan(raw)
	l.cfg.emit("plan_created", map[string]any{"goal": plan.Goal, "steps": len(plan.Steps)})

	if plan.HasSideEffects {
		l.cfg.emit("plan_approval_requested", map[string]any{"goal": plan.Goal})
		approved := l.cfg.OnPlanApproval == nil || l.cfg.OnPlanApproval(ctx, plan)
		if !approved {
			l.recordEpisode(ctx, types.RoleSystem, "plan_cancelled: "+plan.Goal)
			summary := "I won't proceed with that plan since it wasn't approved."
			l.cfg.Memory.AddMessage(types.Message{Role: types.RoleAssistant, Content: summary})
			l.recordEpisode(ctx, types.RoleAssistant, summary)
			return Response{Content: summary}, true, nil
		}
	}

	execution := l.executePlan(ctx, plan, uuid.NewString())
	summary := summarizePlanExecution(plan, execution)
	l.cfg.Memory.AddMessage(types.Message{Role: types.RoleAssistant, Content: summary})
	l.recordEpisode(ctx, types.RoleAssistant, "plan_executed: "+summary)

	return Response{
		Content:           summary,
		Model:             completion.Model,
		Provider:          completion.Provider,
		TokenUsage:        TokenUsage{Input: completion.InputTokens, Output: completion.OutputTokens},
		Iterations:        1,
		ToolCallsExecuted: execution.CompletedSteps,
		PlanExecution:     &execution,
	}, true, nil
}

func summarizePlanExecution(plan types.Plan, exec types.PlanExecution) string {
	var b strings.Builder
	if exec.Aborted {
		fmt.Fprintf(&b, "I started on \"%s\" but had to stop after %d/%d steps:\n", plan.Goal, exec.CompletedSteps, exec.TotalSteps)
	} else {
		fmt.Fprintf(&b, "I finished \"%s\" (%d/%d steps):\n", plan.Goal, exec.CompletedSteps, exec.TotalSteps)
	}
	for _, r := range exec.Results {
		fmt.Fprintf(&b, "- step %s: %s", r.StepID, r.Status)
		if r.Error != "" {
			fmt.Fprintf(&b, " (%s)", r.Error)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// maxStepRetries is spec.md §4.4 step 3's "maxRetries+1" default of 2 total
// attempts, i.e. one retry.
const maxStepRetries = 1

// executePlan implements spec.md §4.4's per-step executor contract.
func (l *Loop) executePlan(ctx context.Context, plan types.Plan, requestedBy string) types.PlanExecution {
	completed := make(map[string]bool, len(plan.Steps))
	results := make([]types.StepResult, 0, len(plan.Steps))
	total := len(plan.Steps)

	for i, step := range plan.Steps {
		if !dependenciesMet(step.DependsOn, completed) {
			results = append(results, types.StepResult{
				StepID: step.ID, Status: types.StepSkipped, Error: "Dependencies not met",
				PercentComplete: percentComplete(i, total),
			})
			continue
		}

		l.cfg.emit("plan_step_started", map[string]any{"stepId": step.ID, "tool": step.Tool})

		output, err := l.invokeStep(ctx, step)
		status := types.StepSuccess
		errMsg := ""
		if err != nil {
			errMsg = err.Error()
			status = types.StepFailedAcceptable
			if !step.CanFail {
				status = types.StepFailedCritical
			}
			if step.Fallback != "" {
				fbOutput, fbErr := l.invokeFallback(ctx, step.Fallback)
				if fbErr == nil {
					status = types.StepFallback
					output = fbOutput
					errMsg = ""
				} else {
					errMsg = fbErr.Error()
				}
			}
		}

		result := types.StepResult{
			StepID: step.ID, Status: status, Output: output, Error: errMsg,
			PercentComplete: percentComplete(i, total),
		}
		results = append(results, result)
		l.cfg.emit("plan_step_finished", map[string]any{"stepId": step.ID, "status": string(status), "percentComplete": result.PercentComplete})

		switch status {
		case types.StepSuccess, types.StepFallback, types.StepFailedAcceptable:
			completed[step.ID] = true
		case types.StepFailedCritical:
			return types.PlanExecution{Aborted: true, CompletedSteps: len(completed), TotalSteps: total, Results: results}
		}
	}

	return types.PlanExecution{Aborted: false, CompletedSteps: len(completed), TotalSteps: total, Results: results}
}

func dependenciesMet(dependsOn []string, completed map[string]bool) bool {
	for _, dep := range dependsOn {
		if !completed[dep] {
			return false
		}
	}
	return true
}

func percentComplete(index, total int) int {
	if total == 0 {
		return 100
	}
	return int(float64(index+1) / float64(total) * 100.0)
}

func (l *Loop) invokeStep(ctx context.Context, step types.PlanStep) (string, error) {
	params, err := json.Marshal(step.Params)
	if err != nil {
		return "", fmt.Errorf("encode step params: %w", err)
	}
	var lastErr error
	for attempt := 0; attempt <= maxStepRetries; attempt++ {
		res, err := l.cfg.Registry.Execute(ctx, step.Tool, params)
		if err != nil {
			lastErr = err
			continue
		}
		if res.IsError {
			lastErr = fmt.Errorf("%s", res.Content)
			continue
		}
		return res.Content, nil
	}
	return "", lastErr
}

// invokeFallback parses a fallback of the form `tool_name[ {json}]` and
// invokes it once, per spec.md §4.4 step 5.
func (l *Loop) invokeFallback(ctx context.Context, fallback string) (string, error) {
	name, params, err := parseFallback(fallback)
	if err != nil {
		return "", err
	}
	res, err := l.cfg.Registry.Execute(ctx, name, params)
	if err != nil {
		return "", err
	}
	if res.IsError {
		return "", fmt.Errorf("%s", res.Content)
	}
	return res.Content, nil
}

func parseFallback(fallback string) (string, json.RawMessage, error) {
	fallback = strings.TrimSpace(fallback)
	if fallback == "" {
		return "", nil, fmt.Errorf("empty fallback")
	}
	idx := strings.IndexByte(fallback, ' ')
	if idx == -1 {
		return fallback, json.RawMessage("{}"), nil
	}
	name := fallback[:idx]
	params := strings.TrimSpace(fallback[idx+1:])
	if params == "" {
		params = "{}"
	}
	return name, json.RawMessage(params), nil
}
