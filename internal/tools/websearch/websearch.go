// Package websearch implements spec.md §4.5's web_search tool. It composes
// the network capability's "request" action against a configured SearXNG
// instance rather than calling net/http directly, so a search still passes
// through the domain allow/ask/rate-limit policy in spec.md §4.2.3 that
// every other network-touching tool is subject to.
package websearch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/haasonsaas/mama/internal/agent"
	"github.com/haasonsaas/mama/internal/sandbox"
)

// Config configures the web_search tool's backend.
type Config struct {
	// SearchURL is the base URL of a SearXNG instance, e.g.
	// "https://searx.example.com/search". Results are requested as JSON.
	SearchURL string

	// DefaultResultCount caps how many results are returned when the
	// caller doesn't specify result_count.
	DefaultResultCount int
}

// searxResult is the subset of a SearXNG JSON response this tool reads.
type searxResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Content string `json:"content"`
}

type searxResponse struct {
	Results []searxResult `json:"results"`
}

// WebSearchTool implements web_search.
type WebSearchTool struct {
	config      Config
	sandbox     *sandbox.Sandbox
	requestedBy string
}

// NewWebSearchTool creates the web_search tool over sb, querying the
// configured SearXNG instance through the network capability.
func NewWebSearchTool(sb *sandbox.Sandbox, config Config) *WebSearchTool {
	if config.DefaultResultCount <= 0 {
		config.DefaultResultCount = 5
	}
	return &WebSearchTool{config: config, sandbox: sb, requestedBy: "tool:web_search"}
}

func (t *WebSearchTool) Name() string { return "web_search" }

func (t *WebSearchTool) Description() string {
	return "Search the web for information and return a short list of matching pages."
}

func (t *WebSearchTool) Schema() json.RawMessage {
	schema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{
				"type":        "string",
				"description": "The search query.",
			},
			"result_count": map[string]interface{}{
				"type":        "integer",
				"description": "Number of results to return (default 5, max 20).",
				"minimum":     1,
				"maximum":     20,
			},
		},
		"required": []string{"query"},
	}
	payload, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}

func (t *WebSearchTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		Query       string `json:"query"`
		ResultCount int    `json:"result_count"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("Invalid parameters: %v", err), IsError: true}, nil
	}
	if strings.TrimSpace(input.Query) == "" {
		return &agent.ToolResult{Content: "query is required", IsError: true}, nil
	}
	if t.config.SearchURL == "" {
		return &agent.ToolResult{Content: "web search is not configured", IsError: true}, nil
	}

	count := input.ResultCount
	if count <= 0 {
		count = t.config.DefaultResultCount
	}
	if count > 20 {
		count = 20
	}

	query := url.Values{}
	query.Set("q", input.Query)
	query.Set("format", "json")
	requestURL := t.config.SearchURL + "?" + query.Encode()

	result := t.sandbox.Execute(ctx, "network", "request", map[string]any{"url": requestURL}, t.requestedBy)
	if !result.Success {
		return &agent.ToolResult{Content: result.Error, IsError: true}, nil
	}

	var parsed searxResponse
	if err := json.Unmarshal([]byte(result.Output), &parsed); err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("failed to parse search response: %v", err), IsError: true}, nil
	}
	if len(parsed.Results) > count {
		parsed.Results = parsed.Results[:count]
	}
	if len(parsed.Results) == 0 {
		return &agent.ToolResult{Content: "no results found"}, nil
	}

	var b strings.Builder
	for i, r := range parsed.Results {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "%s\n%s\n%s", r.Title, r.URL, r.Content)
	}
	return &agent.ToolResult{Content: b.String()}, nil
}
