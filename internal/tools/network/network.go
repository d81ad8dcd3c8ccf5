// Package network implements spec.md §4.5's http_request tool as a thin
// agent.Tool adapter over internal/sandbox/capnet: every outbound request
// is routed through sandbox.Sandbox.Execute rather than calling net/http
// directly, so the domain allow/ask/rate-limit policy in spec.md §4.2.3
// sees every request a tool makes.
package network

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/haasonsaas/mama/internal/agent"
	"github.com/haasonsaas/mama/internal/sandbox"
)

// HTTPRequestTool implements http_request.
type HTTPRequestTool struct {
	sandbox     *sandbox.Sandbox
	requestedBy string
}

// NewHTTPRequestTool creates the http_request tool over sb.
func NewHTTPRequestTool(sb *sandbox.Sandbox) *HTTPRequestTool {
	return &HTTPRequestTool{sandbox: sb, requestedBy: "tool:http_request"}
}

func (t *HTTPRequestTool) Name() string { return "http_request" }

func (t *HTTPRequestTool) Description() string {
	return "Make an outbound HTTP request to an allowed domain."
}

func (t *HTTPRequestTool) Schema() json.RawMessage {
	schema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"url": map[string]interface{}{
				"type":        "string",
				"description": "URL to request.",
			},
			"method": map[string]interface{}{
				"type":        "string",
				"description": "HTTP method (default GET).",
			},
			"body": map[string]interface{}{
				"type":        "string",
				"description": "Request body for non-GET/HEAD methods.",
			},
		},
		"required": []string{"url"},
	}
	payload, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}

func (t *HTTPRequestTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		URL    string `json:"url"`
		Method string `json:"method"`
		Body   string `json:"body"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("Invalid parameters: %v", err), IsError: true}, nil
	}
	if input.URL == "" {
		return &agent.ToolResult{Content: "url is required", IsError: true}, nil
	}

	capParams := map[string]any{"url": input.URL}
	if input.Method != "" {
		capParams["method"] = input.Method
	}
	if input.Body != "" {
		capParams["body"] = input.Body
	}

	result := t.sandbox.Execute(ctx, "network", "request", capParams, t.requestedBy)
	if !result.Success {
		return &agent.ToolResult{Content: result.Error, IsError: true}, nil
	}
	return &agent.ToolResult{Content: result.Output}, nil
}
