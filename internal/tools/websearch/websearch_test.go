package websearch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/haasonsaas/mama/internal/sandbox"
	"github.com/haasonsaas/mama/internal/sandbox/capnet"
)

func newTestSandbox(t *testing.T, allowedDomain string) *sandbox.Sandbox {
	t.Helper()
	net := capnet.New(capnet.Policy{AllowedDomains: []string{allowedDomain}})
	sb := sandbox.New(nil)
	sb.Register(net)
	return sb
}

func TestWebSearchToolReturnsResults(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"results":[{"title":"Example","url":"https://example.com","content":"a page"}]}`))
	}))
	defer server.Close()

	u, err := url.Parse(server.URL)
	if err != nil {
		t.Fatalf("parse test server url: %v", err)
	}

	sb := newTestSandbox(t, u.Hostname())
	tool := NewWebSearchTool(sb, Config{SearchURL: server.URL})

	params, _ := json.Marshal(map[string]string{"query": "golang"})
	result, err := tool.Execute(context.Background(), params)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error result: %+v", result)
	}
	if result.Content == "" {
		t.Fatal("expected non-empty result content")
	}
}

func TestWebSearchToolRequiresQuery(t *testing.T) {
	sb := newTestSandbox(t, "example.com")
	tool := NewWebSearchTool(sb, Config{SearchURL: "https://example.com/search"})

	result, err := tool.Execute(context.Background(), json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected missing query to be rejected")
	}
}

func TestWebSearchToolRequiresConfiguration(t *testing.T) {
	sb := newTestSandbox(t, "example.com")
	tool := NewWebSearchTool(sb, Config{})

	params, _ := json.Marshal(map[string]string{"query": "golang"})
	result, err := tool.Execute(context.Background(), params)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected an unconfigured search backend to be rejected")
	}
}
