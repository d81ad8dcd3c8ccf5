// Package meta implements spec.md §4.5's meta tools: ask_user and
// report_progress. Neither has a side effect on the sandbox; each simply
// returns a structured envelope that the agent loop's caller (the daemon's
// UI/transport layer) is expected to surface to the user.
package meta

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/haasonsaas/mama/internal/agent"
)

// AskUserTool implements ask_user: the model requests clarification or a
// decision from the user instead of guessing. Its output is a structured
// envelope the executor surfaces verbatim; it performs no side effect.
type AskUserTool struct{}

// NewAskUserTool creates the ask_user tool.
func NewAskUserTool() *AskUserTool { return &AskUserTool{} }

func (t *AskUserTool) Name() string { return "ask_user" }

func (t *AskUserTool) Description() string {
	return "Ask the user a clarifying question before continuing."
}

func (t *AskUserTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"question": {"type": "string", "description": "The question to ask the user."},
			"options": {"type": "array", "items": {"type": "string"}, "description": "Optional suggested answers."}
		},
		"required": ["question"]
	}`)
}

func (t *AskUserTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		Question string   `json:"question"`
		Options  []string `json:"options"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("Invalid parameters: %v", err), IsError: true}, nil
	}
	if input.Question == "" {
		return &agent.ToolResult{Content: "question is required", IsError: true}, nil
	}

	envelope, err := json.Marshal(map[string]any{
		"type":     "ask_user",
		"question": input.Question,
		"options":  input.Options,
	})
	if err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("failed to encode envelope: %v", err), IsError: true}, nil
	}
	return &agent.ToolResult{Content: string(envelope)}, nil
}

// ReportProgressTool implements report_progress: the model surfaces an
// interim status update on a long-running task. No side effect.
type ReportProgressTool struct{}

// NewReportProgressTool creates the report_progress tool.
func NewReportProgressTool() *ReportProgressTool { return &ReportProgressTool{} }

func (t *ReportProgressTool) Name() string { return "report_progress" }

func (t *ReportProgressTool) Description() string {
	return "Report interim progress on a long-running task."
}

func (t *ReportProgressTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"message": {"type": "string", "description": "Human-readable progress update."},
			"percent_complete": {"type": "number", "minimum": 0, "maximum": 100}
		},
		"required": ["message"]
	}`)
}

func (t *ReportProgressTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		Message         string  `json:"message"`
		PercentComplete float64 `json:"percent_complete"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("Invalid parameters: %v", err), IsError: true}, nil
	}
	if input.Message == "" {
		return &agent.ToolResult{Content: "message is required", IsError: true}, nil
	}

	envelope, err := json.Marshal(map[string]any{
		"type":             "report_progress",
		"message":          input.Message,
		"percent_complete": input.PercentComplete,
	})
	if err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("failed to encode envelope: %v", err), IsError: true}, nil
	}
	return &agent.ToolResult{Content: string(envelope)}, nil
}
