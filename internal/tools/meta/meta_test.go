package meta

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func TestAskUserToolBuildsEnvelope(t *testing.T) {
	tool := NewAskUserTool()
	params, _ := json.Marshal(map[string]any{"question": "Which file?", "options": []string{"a.go", "b.go"}})

	result, err := tool.Execute(context.Background(), params)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error result: %+v", result)
	}
	if !strings.Contains(result.Content, "Which file?") {
		t.Fatalf("expected question in envelope, got %q", result.Content)
	}
}

func TestAskUserToolRequiresQuestion(t *testing.T) {
	tool := NewAskUserTool()
	result, err := tool.Execute(context.Background(), json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected missing question to be rejected")
	}
}

func TestReportProgressToolBuildsEnvelope(t *testing.T) {
	tool := NewReportProgressTool()
	params, _ := json.Marshal(map[string]any{"message": "halfway done", "percent_complete": 50})

	result, err := tool.Execute(context.Background(), params)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error result: %+v", result)
	}
	if !strings.Contains(result.Content, "halfway done") {
		t.Fatalf("expected message in envelope, got %q", result.Content)
	}
}

func TestReportProgressToolRequiresMessage(t *testing.T) {
	tool := NewReportProgressTool()
	result, err := tool.Execute(context.Background(), json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected missing message to be rejected")
	}
}
