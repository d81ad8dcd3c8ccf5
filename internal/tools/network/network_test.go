package network

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

func TestHTTPRequestToolFetchesAllowedDomain(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	u, err := url.Parse(server.URL)
	if err != nil {
		t.Fatalf("parse test server url: %v", err)
	}

	sb := newTestSandbox(t, u.Hostname())
	tool := NewHTTPRequestTool(sb)

	params, _ := json.Marshal(map[string]string{"url": server.URL})
	result, err := tool.Execute(context.Background(), params)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError || result.Content != "ok" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestHTTPRequestToolDeniesDisallowedDomain(t *testing.T) {
	sb := newTestSandbox(t, "example.com")
	tool := NewHTTPRequestTool(sb)

	params, _ := json.Marshal(map[string]string{"url": "http://not-allowed.test/"})
	result, err := tool.Execute(context.Background(), params)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected a disallowed domain to be denied")
	}
}

func TestHTTPRequestToolRequiresURL(t *testing.T) {
	sb := newTestSandbox(t, "example.com")
	tool := NewHTTPRequestTool(sb)

	result, err := tool.Execute(context.Background(), json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected missing url to be rejected")
	}
}
