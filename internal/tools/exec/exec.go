// Package exec implements spec.md §4.5's execute_command tool as a thin
// agent.Tool adapter over internal/sandbox/capshell: every shell invocation
// is routed through sandbox.Sandbox.Execute rather than calling
// os/exec directly, so the permission and audit pipeline in spec.md §4.2
// sees every command a tool runs.
package exec

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/haasonsaas/mama/internal/agent"
	"github.com/haasonsaas/mama/internal/sandbox"
)

// ExecuteCommandTool implements execute_command.
type ExecuteCommandTool struct {
	sandbox     *sandbox.Sandbox
	requestedBy string
}

// NewExecuteCommandTool creates the execute_command tool over sb.
func NewExecuteCommandTool(sb *sandbox.Sandbox) *ExecuteCommandTool {
	return &ExecuteCommandTool{sandbox: sb, requestedBy: "tool:execute_command"}
}

func (t *ExecuteCommandTool) Name() string { return "execute_command" }

func (t *ExecuteCommandTool) Description() string {
	return "Run a shell command in the workspace and return its stdout/stderr/exit status."
}

func (t *ExecuteCommandTool) Schema() json.RawMessage {
	schema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"command": map[string]interface{}{
				"type":        "string",
				"description": "Shell command to execute.",
			},
			"working_directory": map[string]interface{}{
				"type":        "string",
				"description": "Working directory, relative to the workspace.",
			},
			"timeout_seconds": map[string]interface{}{
				"type":        "number",
				"description": "Timeout in seconds (capped by capability policy).",
				"minimum":     0,
			},
		},
		"required": []string{"command"},
	}
	payload, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}

func (t *ExecuteCommandTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		Command           string  `json:"command"`
		WorkingDirectory  string  `json:"working_directory"`
		TimeoutSeconds    float64 `json:"timeout_seconds"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("Invalid parameters: %v", err), IsError: true}, nil
	}
	if strings.TrimSpace(input.Command) == "" {
		return &agent.ToolResult{Content: "command is required", IsError: true}, nil
	}

	capParams := map[string]any{"command": input.Command}
	if input.WorkingDirectory != "" {
		capParams["workingDirectory"] = input.WorkingDirectory
	}
	if input.TimeoutSeconds > 0 {
		capParams["timeoutSeconds"] = input.TimeoutSeconds
	}

	result := t.sandbox.Execute(ctx, "shell", "execute", capParams, t.requestedBy)
	if !result.Success {
		return &agent.ToolResult{Content: result.Error, IsError: true}, nil
	}
	return &agent.ToolResult{Content: result.Output}, nil
}
