// Package llm is the router described in spec.md §4.6: a task-type-keyed
// routing table over a primary/fallback pair of LLM providers, with usage
// recorded through internal/llm/cost. Grounded on internal/agent/failover.go's
// primary/fallback orchestration, generalized from N-provider circuit
// breaking down to the spec's simpler two-provider policy, and on
// internal/agent/providers/base.go's retry-with-backoff texture.
package llm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/haasonsaas/mama/internal/llm/cost"
	"github.com/haasonsaas/mama/pkg/types"
)

// TaskType selects a routing-table entry; see spec.md §4.6.
type TaskType string

const (
	TaskComplexReasoning     TaskType = "complex_reasoning"
	TaskCodeGeneration       TaskType = "code_generation"
	TaskSimpleTasks          TaskType = "simple_tasks"
	TaskEmbeddings           TaskType = "embeddings"
	TaskMemoryConsolidation  TaskType = "memory_consolidation"
	TaskPrivateContent       TaskType = "private_content"
	TaskGeneral              TaskType = "general"
)

// CompletionRequest is the router's public request shape.
type CompletionRequest struct {
	Messages     []types.Message
	SystemPrompt string
	TaskType     TaskType
	Model        string
	Temperature  float64
	MaxTokens    int
	Tools        []ToolDefinition
}

// ToolDefinition is a tool's router-facing shape (name/description/schema),
// exported from the tool registry per spec.md §4.5.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  []byte // JSON schema
}

// CompletionResponse is the router's public, synchronous response shape.
type CompletionResponse struct {
	Content      string
	ToolCalls    []types.ToolCall
	InputTokens  int
	OutputTokens int
	Model        string
	Provider     string
	FinishReason string
}

// Provider is the opaque contract every LLM backend implements.
type Provider interface {
	Name() string
	IsAvailable(ctx context.Context) bool
	Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error)
}

// Embedder is implemented by providers that can compute embeddings.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// ModelSelection names the model a local provider should use for a class of
// task, per spec.md §4.6's smartModel/fastModel/embeddingModel split.
type ModelSelection struct {
	SmartModel     string
	FastModel      string
	EmbeddingModel string
	DefaultModel   string
}

// ModelFor resolves which model name a local provider should use for a task
// type, per spec.md §4.6.
func (m ModelSelection) ModelFor(taskType TaskType) string {
	switch taskType {
	case TaskComplexReasoning, TaskCodeGeneration, TaskMemoryConsolidation:
		if m.SmartModel != "" {
			return m.SmartModel
		}
	case TaskSimpleTasks, TaskPrivateContent:
		if m.FastModel != "" {
			return m.FastModel
		}
	case TaskEmbeddings:
		if m.EmbeddingModel != "" {
			return m.EmbeddingModel
		}
	}
	return m.DefaultModel
}

// Router dispatches each task type to a configured provider, falling back to
// the other registered provider on a failure whose reason warrants failover
// (see FailoverReason.ShouldFailover), and records every completed call's
// usage.
type Router struct {
	providers map[string]Provider
	routes    map[TaskType]string
	primary   string
	fallback  string
	tracker   *cost.Tracker
	logger    *slog.Logger
}

// Option configures a Router at construction time.
type Option func(*Router)

// WithLogger overrides the router's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Router) { r.logger = logger }
}

// New constructs a Router. routes maps task types to provider names;
// primary/fallback name the two providers the execution policy alternates
// between.
func New(providers map[string]Provider, routes map[TaskType]string, primary, fallback string, tracker *cost.Tracker, opts ...Option) *Router {
	r := &Router{
		providers: providers,
		routes:    routes,
		primary:   primary,
		fallback:  fallback,
		tracker:   tracker,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RouteDecision is the provider and reason chosen for a task type. Route
// leaves Model empty; the chosen provider picks the model itself.
type RouteDecision struct {
	Provider string
	Model    string
	Reason   string
}

// Route resolves which provider a task type maps to, per the configured
// routing table, falling back to the router's primary provider.
func (r *Router) Route(taskType TaskType) RouteDecision {
	if name, ok := r.routes[taskType]; ok {
		return RouteDecision{Provider: name, Reason: "configured route for " + string(taskType)}
	}
	return RouteDecision{Provider: r.primary, Reason: "default primary provider"}
}

// GetCostTracker returns the router's usage/cost tracker.
func (r *Router) GetCostTracker() *cost.Tracker {
	return r.tracker
}

// Complete executes the spec.md §4.6 execution policy: call the routed
// provider; on a failure whose reason warrants failover, attempt the other
// configured provider; on both failing, return an aggregated error. An
// invalid-request or content-filter failure is returned without trying the
// other provider.
func (r *Router) Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
	decision := r.Route(req.TaskType)
	primaryName := decision.Provider
	fallbackName := r.fallback
	if primaryName == fallbackName {
		fallbackName = ""
	}

	primaryProvider, havePrimary := r.providers[primaryName]
	if !havePrimary {
		if fallbackName == "" {
			return CompletionResponse{}, fmt.Errorf("no LLM providers available")
		}
		primaryName, primaryProvider, havePrimary = fallbackName, r.providers[fallbackName], true
		fallbackName = ""
	}
	if !havePrimary {
		return CompletionResponse{}, fmt.Errorf("no LLM providers available")
	}

	start := time.Now()
	resp, err := primaryProvider.Complete(ctx, req)
	if err == nil {
		r.record(ctx, primaryName, resp, req.TaskType, time.Since(start))
		return resp, nil
	}
	if !shouldFailover(err) {
		return CompletionResponse{}, fmt.Errorf("provider %s failed: %w", primaryName, err)
	}
	r.logger.Warn("llm provider failed, attempting fallback", "provider", primaryName, "error", err)

	if fallbackName == "" {
		return CompletionResponse{}, fmt.Errorf("provider %s failed: %w", primaryName, err)
	}
	fallbackProvider, ok := r.providers[fallbackName]
	if !ok {
		return CompletionResponse{}, fmt.Errorf("provider %s failed: %w", primaryName, err)
	}

	start = time.Now()
	resp, fallbackErr := fallbackProvider.Complete(ctx, req)
	if fallbackErr != nil {
		return CompletionResponse{}, fmt.Errorf("all providers failed: primary %s: %v; fallback %s: %w", primaryName, err, fallbackName, fallbackErr)
	}
	r.record(ctx, fallbackName, resp, req.TaskType, time.Since(start))
	return resp, nil
}

func (r *Router) record(ctx context.Context, provider string, resp CompletionResponse, taskType TaskType, elapsed time.Duration) {
	if r.tracker == nil {
		return
	}
	_ = r.tracker.Record(ctx, cost.Usage{
		Provider:     provider,
		Model:        resp.Model,
		InputTokens:  resp.InputTokens,
		OutputTokens: resp.OutputTokens,
		TaskType:     string(taskType),
		LatencyMs:    elapsed.Milliseconds(),
	})
}
