package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/haasonsaas/mama/internal/llm"
	"github.com/haasonsaas/mama/internal/memory/retrieval"
	"github.com/haasonsaas/mama/internal/sandbox"
	"github.com/haasonsaas/mama/internal/workingmemory"
	"github.com/haasonsaas/mama/pkg/types"
)

// EpisodeRecorder persists raw interaction events, per spec.md §4.7.2. The
// episodic store satisfies this directly.
type EpisodeRecorder interface {
	StoreEpisode(ctx context.Context, in types.NewEpisode) (*types.Episode, error)
}

// RetrievalPipeline surfaces relevant memories for a query under a token
// budget, per spec.md §4.7.5. The retrieval package's Pipeline satisfies this
// directly.
type RetrievalPipeline interface {
	Retrieve(ctx context.Context, query string, tokenBudget int) (retrieval.Result, error)
}

// EventFunc reports lifecycle events (plan_created, tool_call_started, ...)
// to the caller, per spec.md §4.3/§4.4.
type EventFunc func(eventType string, data map[string]any)

// PlanApprovalFunc asks the caller to approve a side-effecting plan before
// execution, per spec.md §4.3 step 3d.
type PlanApprovalFunc func(ctx context.Context, plan types.Plan) bool

// Config wires the loop's collaborators. Only Router, Registry, and Memory
// are required; the rest degrade gracefully when nil.
type Config struct {
	Router    *llm.Router
	Registry  *ToolRegistry
	Memory    *workingmemory.Buffer
	Episodes  EpisodeRecorder
	Retrieval RetrievalPipeline
	Sandbox   *sandbox.Sandbox
	Executor  *Executor

	SoulText string

	MaxIterations        int
	RetrievalTokenBudget int

	OnEvent        EventFunc
	OnPlanApproval PlanApprovalFunc

	Logger *slog.Logger
	Now    func() time.Time
}

func (c *Config) withDefaults() {
	if c.MaxIterations <= 0 {
		c.MaxIterations = 10
	}
	if c.RetrievalTokenBudget <= 0 {
		c.RetrievalTokenBudget = 1200
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Executor == nil && c.Registry != nil {
		c.Executor = NewExecutor(c.Registry, DefaultExecutorConfig())
	}
}

func (c *Config) emit(eventType string, data map[string]any) {
	if c.OnEvent != nil {
		c.OnEvent(eventType, data)
	}
}

// TokenUsage is the input/output token count of a Response.
type TokenUsage struct {
	Input  int
	Output int
}

// Response is the agent loop's per-message outcome, per spec.md §4.3.
type Response struct {
	Content           string
	Model             string
	Provider          string
	TokenUsage        TokenUsage
	Iterations        int
	ToolCallsExecuted int
	PlanExecution     *types.PlanExecution
}

// Loop is the spec.md §4.3 agent execution loop: one instance handles one
// channel/session's working memory and orchestrates the LLM router, tool
// registry, optional planner, and memory writes for each incoming message.
type Loop struct {
	cfg     Config
	channel types.Channel
	session string
}

// New constructs a Loop bound to one channel/session against cfg's
// collaborators.
func New(cfg Config, channel types.Channel, sessionKey string) *Loop {
	cfg.withDefaults()
	return &Loop{cfg: cfg, channel: channel, session: sessionKey}
}

var planHeuristics = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bthen\b`),
	regexp.MustCompile(`(?i)\band then\b`),
	regexp.MustCompile(`(?i)\bafter that\b`),
	regexp.MustCompile(`(?i)\bfirst\b.*\bthen\b`),
	regexp.MustCompile(`(?i)\bcreate\b.*\b(write|list|read|move|run)\b`),
	regexp.MustCompile(`(?i)\bmulti[- ]step\b`),
}

func matchesPlanHeuristic(input string) bool {
	for _, re := range planHeuristics {
		if re.MatchString(input) {
			return true
		}
	}
	return false
}

const guidelinesBlock = `## Guidelines
Be concise. When taking a side-effecting action, briefly say what you are about to do and why. Admit uncertainty rather than guessing. Respect the user's time: answer directly before elaborating.`

// systemPrompt assembles soul text, an optional relevant-memories section,
// and the fixed guidelines block, per spec.md §4.3.
func (l *Loop) systemPrompt(memoryInjection []string) string {
	var b strings.Builder
	if l.cfg.SoulText != "" {
		b.WriteString(l.cfg.SoulText)
		b.WriteString("\n\n")
	}
	if len(memoryInjection) > 0 {
		b.WriteString("## Relevant Memories\n")
		for _, entry := range memoryInjection {
			b.WriteString("- ")
			b.WriteString(entry)
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	b.WriteString(guidelinesBlock)
	return b.String()
}

// Run turns one inbound message into a final assistant Response, per the
// spec.md §4.3 per-message algorithm.
func (l *Loop) Run(ctx context.Context, input string) (Response, error) {
	l.cfg.Memory.AddMessage(types.Message{Role: types.RoleUser, Content: input})
	l.recordEpisode(ctx, types.RoleUser, input)

	memoryInjection := l.retrieve(ctx, input)
	l.cfg.Memory.SetSystemInjection(memoryInjection)

	if l.cfg.Sandbox != nil && matchesPlanHeuristic(input) {
		resp, handled, err := l.runPlanPath(ctx, input, memoryInjection)
		if handled {
			return resp, err
		}
		// Fall through to the reactive path on plan parse failure.
	}

	return l.runReactivePath(ctx, memoryInjection)
}

func (l *Loop) retrieve(ctx context.Context, query string) []string {
	if l.cfg.Retrieval == nil {
		return nil
	}
	result, err := l.cfg.Retrieval.Retrieve(ctx, query, l.cfg.RetrievalTokenBudget)
	if err != nil {
		l.cfg.Logger.Warn("retrieval failed, continuing without memory injection", "error", err)
		return nil
	}
	if result.Formatted == "" {
		return nil
	}
	return strings.Split(strings.TrimRight(result.Formatted, "\n"), "\n")
}

func (l *Loop) recordEpisode(ctx context.Context, role types.Role, content string) {
	if l.cfg.Episodes == nil {
		return
	}
	_, err := l.cfg.Episodes.StoreEpisode(ctx, types.NewEpisode{
		Channel:    l.channel,
		SessionKey: l.session,
		Role:       role,
		Content:    content,
	})
	if err != nil {
		l.cfg.Logger.Warn("failed to record episode", "error", err)
	}
}

// runReactivePath implements spec.md §4.3 step 4: the bounded tool-calling
// loop.
func (l *Loop) runReactivePath(ctx context.Context, memoryInjection []string) (Response, error) {
	sys := l.systemPrompt(memoryInjection)
	var toolDefs []llm.ToolDefinition
	if l.cfg.Sandbox != nil && l.cfg.Registry != nil {
		toolDefs = l.cfg.Registry.Definitions()
	}

	resp := Response{}
	for iter := 0; iter < l.cfg.MaxIterations; iter++ {
		resp.Iterations = iter + 1

		completion, err := l.cfg.Router.Complete(ctx, llm.CompletionRequest{
			Messages:     l.cfg.Memory.Messages(),
			SystemPrompt: sys,
			TaskType:     llm.TaskGeneral,
			MaxTokens:    4096,
			Tools:        toolDefs,
		})
		if err != nil {
			return Response{}, fmt.Errorf("agent: router completion: %w", err)
		}
		resp.Model = completion.Model
		resp.Provider = completion.Provider
		resp.TokenUsage.Input += completion.InputTokens
		resp.TokenUsage.Output += completion.OutputTokens

		if len(completion.ToolCalls) == 0 {
			l.cfg.Memory.AddMessage(types.Message{Role: types.RoleAssistant, Content: completion.Content})
			l.recordEpisode(ctx, types.RoleAssistant, completion.Content)
			resp.Content = completion.Content
			return resp, nil
		}

		if l.cfg.Sandbox == nil {
			explanation := "I can see steps that would need tool access, but no sandbox is configured for this session."
			l.cfg.Memory.AddMessage(types.Message{Role: types.RoleAssistant, Content: explanation})
			l.recordEpisode(ctx, types.RoleAssistant, explanation)
			resp.Content = explanation
			return resp, nil
		}

		l.cfg.Memory.AddMessage(types.Message{
			Role:      types.RoleAssistant,
			Content:   completion.Content,
			ToolCalls: completion.ToolCalls,
		})
		if completion.Content != "" {
			l.recordEpisode(ctx, types.RoleAssistant, completion.Content)
		}

		for _, tc := range completion.ToolCalls {
			l.cfg.emit("tool_call_started", map[string]any{"id": tc.ID, "name": tc.Name})
		}
		execResults := l.cfg.Executor.ExecuteAll(ctx, completion.ToolCalls)
		for _, er := range execResults {
			l.cfg.emit("tool_call_finished", map[string]any{"id": er.ToolCallID, "name": er.ToolName, "error": er.Error != nil})
		}
		resp.ToolCallsExecuted += len(execResults)

		toolResults := ResultsToMessages(execResults)
		for _, tr := range toolResults {
			payload, _ := json.Marshal(map[string]any{
				"success": !tr.IsError,
				"output":  tr.Content,
				"error":   errString(tr.IsError, tr.Content),
			})
			l.cfg.Memory.AddMessage(types.Message{
				Role:         types.RoleTool,
				Content:      string(payload),
				ToolResultID: tr.ToolCallID,
			})
			l.recordEpisode(ctx, types.RoleTool, string(payload))
		}
	}

	capped := "I've hit the maximum number of steps I can take on this request. Here is where things stand; let me know if you'd like me to continue."
	l.cfg.Memory.AddMessage(types.Message{Role: types.RoleAssistant, Content: capped})
	l.recordEpisode(ctx, types.RoleAssistant, capped)
	resp.Content = capped
	return resp, nil
}

func errString(isError bool, content string) string {
	if !isError {
		return ""
	}
	return content
}
