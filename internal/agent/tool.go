// Package agent is the execution loop described in spec.md §4.3/4.4: it
// turns one user message into a final assistant response, orchestrating LLM
// calls through internal/llm, tool execution through a static ToolRegistry,
// optional multi-step planning, and memory writes through
// internal/memory/episodic and internal/workingmemory.
//
// Grounded on the teacher's internal/agent/tool_registry.go for the
// registry's Register/Get/AsLLMTools shape and internal/agent/executor.go
// for the semaphore-bounded parallel executor with per-tool retry/backoff;
// generalized away from the teacher's much larger Runtime (approval chains,
// trace recording, context compaction, steering) which spec.md does not
// call for.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/haasonsaas/mama/internal/llm"
)

func bytesReader(raw json.RawMessage) io.Reader {
	return bytes.NewReader(raw)
}

// ToolResult is the outcome of executing a Tool, per spec.md §4.5.
type ToolResult struct {
	Content string
	IsError bool
}

// Tool is a single registry entry: a name, description, JSON-schema'd
// parameters, and an execute function. Concrete tools (internal/tools/files,
// internal/tools/exec, internal/tools/websearch, internal/tools/jobs) each
// implement this against the capability or store they wrap.
type Tool interface {
	Name() string
	Description() string
	Schema() json.RawMessage
	Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error)
}

// ToolRegistry holds the static set of tools available to the agent loop for
// one process, per spec.md §4.5.
type ToolRegistry struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	schemas map[string]*jsonschema.Schema
}

// NewToolRegistry creates an empty registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{
		tools:   make(map[string]Tool),
		schemas: make(map[string]*jsonschema.Schema),
	}
}

// Register adds a tool, replacing any existing tool with the same name, and
// compiles its parameter schema once up front so Execute never pays
// compilation cost per call. A tool whose Schema() fails to compile is still
// registered (Execute calls it unvalidated) with a warning logged, since an
// unvalidatable schema is a tool-authoring bug, not a reason to refuse
// otherwise-working functionality.
func (r *ToolRegistry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := tool.Name()
	r.tools[name] = tool
	schema, err := compileSchema(name, tool.Schema())
	if err != nil {
		slog.Default().Warn("tool schema failed to compile, skipping parameter validation", "tool", name, "error", err)
		delete(r.schemas, name)
		return
	}
	r.schemas[name] = schema
}

func compileSchema(name string, raw json.RawMessage) (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	url := "mem://tools/" + name + ".json"
	if err := compiler.AddResource(url, bytesReader(raw)); err != nil {
		return nil, err
	}
	return compiler.Compile(url)
}

// Get returns a tool by name.
func (r *ToolRegistry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Execute runs a tool by name, returning an error-shaped ToolResult for an
// unknown tool or invalid parameters rather than an error, per spec.md
// §4.5's validation contract: parameters are checked against the tool's
// JSON schema before Execute is ever called.
func (r *ToolRegistry) Execute(ctx context.Context, name string, params json.RawMessage) (*ToolResult, error) {
	tool, ok := r.Get(name)
	if !ok {
		return &ToolResult{Content: "tool not found: " + name, IsError: true}, nil
	}

	r.mu.RLock()
	schema := r.schemas[name]
	r.mu.RUnlock()
	if schema != nil {
		var doc interface{}
		if err := json.Unmarshal(params, &doc); err != nil {
			return &ToolResult{Content: fmt.Sprintf("Invalid tool parameters: %v", err), IsError: true}, nil
		}
		if err := schema.Validate(doc); err != nil {
			return &ToolResult{Content: fmt.Sprintf("Invalid tool parameters: %v", err), IsError: true}, nil
		}
	}

	return tool.Execute(ctx, params)
}

// Definitions exports every registered tool in the router's ToolDefinition
// shape, per spec.md §4.5.
func (r *ToolRegistry) Definitions() []llm.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]llm.ToolDefinition, 0, len(r.tools))
	for _, t := range r.tools {
		defs = append(defs, llm.ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Schema(),
		})
	}
	return defs
}

// Names returns every registered tool name, sorted by registration order is
// not guaranteed; callers that need determinism should sort the result.
func (r *ToolRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	return names
}

// ErrToolNotFound is returned by callers that need a typed not-found check;
// Execute itself reports a missing tool as an error-shaped ToolResult.
var ErrToolNotFound = fmt.Errorf("agent: tool not found")
