package agent

import (
	"context"
	"encoding/json"
	"testing"
)

type stubTool struct {
	name   string
	result *ToolResult
	err    error
}

func (s *stubTool) Name() string               { return s.name }
func (s *stubTool) Description() string        { return "stub tool " + s.name }
func (s *stubTool) Schema() json.RawMessage     { return json.RawMessage(`{"type":"object"}`) }
func (s *stubTool) Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
	return s.result, s.err
}

func TestToolRegistryRegisterAndGet(t *testing.T) {
	reg := NewToolRegistry()
	tool := &stubTool{name: "read_file", result: &ToolResult{Content: "ok"}}
	reg.Register(tool)

	got, ok := reg.Get("read_file")
	if !ok || got.Name() != "read_file" {
		t.Fatalf("expected to find registered tool, got %v, %v", got, ok)
	}

	if _, ok := reg.Get("missing"); ok {
		t.Fatal("expected missing tool to not be found")
	}
}

func TestToolRegistryExecuteUnknownTool(t *testing.T) {
	reg := NewToolRegistry()
	result, err := reg.Execute(context.Background(), "nope", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected an error-shaped result for an unknown tool")
	}
}

func TestToolRegistryExecuteDelegates(t *testing.T) {
	reg := NewToolRegistry()
	reg.Register(&stubTool{name: "echo", result: &ToolResult{Content: "hi"}})

	result, err := reg.Execute(context.Background(), "echo", json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Content != "hi" {
		t.Fatalf("Content = %q, want %q", result.Content, "hi")
	}
}

type schemaTool struct {
	stubTool
	schema json.RawMessage
}

func (s *schemaTool) Schema() json.RawMessage { return s.schema }

func TestToolRegistryExecuteRejectsInvalidParameters(t *testing.T) {
	reg := NewToolRegistry()
	tool := &schemaTool{
		stubTool: stubTool{name: "write_file", result: &ToolResult{Content: "written"}},
		schema:   json.RawMessage(`{"type":"object","properties":{"path":{"type":"string"}},"required":["path"]}`),
	}
	reg.Register(tool)

	result, err := reg.Execute(context.Background(), "write_file", json.RawMessage(`{"content":"x"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected missing required parameter to be rejected")
	}
}

func TestToolRegistryExecuteAcceptsValidParameters(t *testing.T) {
	reg := NewToolRegistry()
	tool := &schemaTool{
		stubTool: stubTool{name: "write_file", result: &ToolResult{Content: "written"}},
		schema:   json.RawMessage(`{"type":"object","properties":{"path":{"type":"string"}},"required":["path"]}`),
	}
	reg.Register(tool)

	result, err := reg.Execute(context.Background(), "write_file", json.RawMessage(`{"path":"a.txt"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError || result.Content != "written" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestToolRegistryDefinitions(t *testing.T) {
	reg := NewToolRegistry()
	reg.Register(&stubTool{name: "a"})
	reg.Register(&stubTool{name: "b"})

	defs := reg.Definitions()
	if len(defs) != 2 {
		t.Fatalf("expected 2 definitions, got %d", len(defs))
	}
	names := map[string]bool{}
	for _, d := range defs {
		names[d.Name] = true
	}
	if !names["a"] || !names["b"] {
		t.Fatalf("expected both tool names, got %+v", defs)
	}
}
