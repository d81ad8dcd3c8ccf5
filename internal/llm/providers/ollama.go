package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/haasonsaas/mama/internal/llm"
	"github.com/haasonsaas/mama/pkg/types"
)

// OllamaConfig configures the local provider.
type OllamaConfig struct {
	BaseURL    string
	Models     llm.ModelSelection
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
}

// Ollama is the local LLM backend, talking to a locally-running Ollama
// daemon over its /api/chat endpoint. Unlike internal/agent/providers/ollama.go,
// it issues a non-streaming request (stream:false) since the router's
// contract is a single synchronous response, not a channel of chunks.
type Ollama struct {
	BaseProvider
	client  *http.Client
	baseURL string
	models  llm.ModelSelection
}

// NewOllama constructs a local Ollama provider.
func NewOllama(cfg OllamaConfig) *Ollama {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Ollama{
		BaseProvider: NewBaseProvider("ollama", cfg.MaxRetries, cfg.RetryDelay),
		client:       &http.Client{Timeout: timeout},
		baseURL:      baseURL,
		models:       cfg.Models,
	}
}

func (p *Ollama) Name() string { return "ollama" }

// IsAvailable pings the daemon's /api/tags endpoint.
func (p *Ollama) IsAvailable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode < 400
}

func (p *Ollama) model(req llm.CompletionRequest) string {
	if req.Model != "" {
		return req.Model
	}
	return p.models.ModelFor(llm.TaskType(req.TaskType))
}

func (p *Ollama) Complete(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
	model := p.model(req)
	if model == "" {
		return llm.CompletionResponse{}, llm.NewProviderError("ollama", "", errors.New("model is required"))
	}

	payload := ollamaChatRequest{
		Model:    model,
		Stream:   false,
		Messages: ollamaMessages(req),
		Tools:    ollamaTools(req.Tools),
	}
	if req.MaxTokens > 0 {
		payload.Options = map[string]any{"num_predict": req.MaxTokens}
	}

	var chatResp ollamaChatResponse
	retryErr := p.Retry(ctx, llm.IsRetryable, func() error {
		resp, err := p.do(ctx, payload, model)
		if err != nil {
			return err
		}
		chatResp = resp
		return nil
	})
	if retryErr != nil {
		return llm.CompletionResponse{}, retryErr
	}

	return ollamaToResponse(chatResp, model), nil
}

func (p *Ollama) do(ctx context.Context, payload ollamaChatRequest, model string) (ollamaChatResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return ollamaChatResponse{}, llm.NewProviderError("ollama", model, fmt.Errorf("marshal request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return ollamaChatResponse{}, llm.NewProviderError("ollama", model, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return ollamaChatResponse{}, llm.NewProviderError("ollama", model, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
		return ollamaChatResponse{}, llm.NewProviderError("ollama", model,
			fmt.Errorf("ollama status %d: %s", resp.StatusCode, strings.TrimSpace(string(errBody)))).WithStatus(resp.StatusCode)
	}

	var chatResp ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return ollamaChatResponse{}, llm.NewProviderError("ollama", model, fmt.Errorf("decode response: %w", err))
	}
	if chatResp.Error != "" {
		return ollamaChatResponse{}, llm.NewProviderError("ollama", model, errors.New(chatResp.Error))
	}
	return chatResp, nil
}

type ollamaChatRequest struct {
	Model    string              `json:"model"`
	Messages []ollamaChatMessage `json:"messages"`
	Tools    []ollamaTool        `json:"tools,omitempty"`
	Stream   bool                `json:"stream"`
	Options  map[string]any      `json:"options,omitempty"`
}

type ollamaChatMessage struct {
	Role      string           `json:"role"`
	Content   string           `json:"content,omitempty"`
	ToolCalls []ollamaToolCall `json:"tool_calls,omitempty"`
	ToolName  string           `json:"tool_name,omitempty"`
}

type ollamaChatResponse struct {
	Message         ollamaChatMessage `json:"message"`
	Done            bool              `json:"done"`
	Error           string            `json:"error"`
	EvalCount       int               `json:"eval_count"`
	PromptEvalCount int               `json:"prompt_eval_count"`
}

type ollamaToolCall struct {
	ID       string             `json:"id,omitempty"`
	Type     string             `json:"type,omitempty"`
	Function ollamaToolFunction `json:"function"`
}

type ollamaToolFunction struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

type ollamaTool struct {
	Type     string             `json:"type"`
	Function ollamaToolFunction `json:"function"`
}

func ollamaTools(tools []llm.ToolDefinition) []ollamaTool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]ollamaTool, 0, len(tools))
	for _, t := range tools {
		out = append(out, ollamaTool{
			Type: "function",
			Function: ollamaToolFunction{
				Name:      t.Name,
				Arguments: t.Parameters,
			},
		})
	}
	return out
}

func ollamaMessages(req llm.CompletionRequest) []ollamaChatMessage {
	toolNames := map[string]string{}
	for _, msg := range req.Messages {
		for _, tc := range msg.ToolCalls {
			if tc.ID != "" && tc.Name != "" {
				toolNames[tc.ID] = tc.Name
			}
		}
	}

	messages := make([]ollamaChatMessage, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		messages = append(messages, ollamaChatMessage{Role: "system", Content: req.SystemPrompt})
	}
	for _, msg := range req.Messages {
		switch msg.Role {
		case types.RoleAssistant:
			out := ollamaChatMessage{Role: "assistant", Content: msg.Content}
			for _, tc := range msg.ToolCalls {
				args := tc.Input
				if len(args) == 0 {
					args = json.RawMessage(`{}`)
				}
				out.ToolCalls = append(out.ToolCalls, ollamaToolCall{
					ID:       tc.ID,
					Type:     "function",
					Function: ollamaToolFunction{Name: tc.Name, Arguments: args},
				})
			}
			messages = append(messages, out)
		case types.RoleTool:
			for _, tr := range msg.ToolResults {
				messages = append(messages, ollamaChatMessage{
					Role:     "tool",
					Content:  tr.Content,
					ToolName: toolNames[tr.ToolCallID],
				})
			}
		default:
			messages = append(messages, ollamaChatMessage{Role: "user", Content: msg.Content})
		}
	}
	return messages
}

func ollamaToResponse(resp ollamaChatResponse, model string) llm.CompletionResponse {
	out := llm.CompletionResponse{
		Content:      resp.Message.Content,
		Model:        model,
		Provider:     "ollama",
		InputTokens:  resp.PromptEvalCount,
		OutputTokens: resp.EvalCount,
	}
	if resp.Done {
		out.FinishReason = "stop"
	}
	for _, tc := range resp.Message.ToolCalls {
		args := tc.Function.Arguments
		if len(args) == 0 {
			args = json.RawMessage(`{}`)
		}
		out.ToolCalls = append(out.ToolCalls, types.ToolCall{
			ID:    tc.ID,
			Name:  tc.Function.Name,
			Input: args,
		})
	}
	return out
}
