// Package capnet implements the network capability described in
// spec.md §4.2.3: domain allow/ask decisions plus a sliding-window rate
// limiter on outbound requests.
package capnet

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/haasonsaas/mama/internal/sandbox"
)

const maxResponseChars = 10000

var allowedMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "PATCH": true,
	"DELETE": true, "HEAD": true, "OPTIONS": true,
}

// Policy configures the network capability.
type Policy struct {
	AllowedDomains     []string
	AskDomains         bool
	RateLimitPerMinute int
	LogAllRequests     bool
}

// Capability implements the sandbox.Capability interface for outbound HTTP.
type Capability struct {
	policy Policy
	client *http.Client

	mu             sync.Mutex
	sessionApproved map[string]bool
	requestTimes    []time.Time
}

// New constructs a network Capability.
func New(policy Policy) *Capability {
	return &Capability{
		policy:          policy,
		client:          &http.Client{Timeout: 30 * time.Second},
		sessionApproved: make(map[string]bool),
	}
}

func (c *Capability) Name() string { return "network" }

func hostOf(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid URL: missing host")
	}
	return u.Hostname(), nil
}

func (c *Capability) isAllowed(host string) bool {
	for _, d := range c.policy.AllowedDomains {
		if strings.EqualFold(d, host) {
			return true
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionApproved[strings.ToLower(host)]
}

func (c *Capability) CheckPermission(_ context.Context, _ string, resource string) sandbox.PermissionDecision {
	host, err := hostOf(resource)
	if err != nil {
		return sandbox.PermissionDecision{Level: sandbox.LevelDenied, Reason: err.Error(), Resource: resource}
	}
	if c.isAllowed(host) {
		return sandbox.PermissionDecision{Level: sandbox.LevelAuto, Resource: resource}
	}
	if c.policy.AskDomains {
		return sandbox.PermissionDecision{Level: sandbox.LevelAsk, Resource: resource}
	}
	return sandbox.PermissionDecision{Level: sandbox.LevelDenied, Reason: "domain not allowed", Resource: resource}
}

// checkRateLimit enforces a sliding 60s window. Only attempts that pass are
// recorded; a denied attempt does not count against the limit.
func (c *Capability) checkRateLimit(now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := now.Add(-60 * time.Second)
	kept := c.requestTimes[:0]
	for _, t := range c.requestTimes {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	c.requestTimes = kept

	if c.policy.RateLimitPerMinute > 0 && len(c.requestTimes) >= c.policy.RateLimitPerMinute {
		return false
	}
	c.requestTimes = append(c.requestTimes, now)
	return true
}

func (c *Capability) Execute(ctx context.Context, action string, params map[string]any) sandbox.CapabilityResult {
	if action != "request" {
		return sandbox.CapabilityResult{Success: false, Error: "unsupported action"}
	}
	rawURL, _ := params["url"].(string)
	method, _ := params["method"].(string)
	if method == "" {
		method = "GET"
	}
	method = strings.ToUpper(method)
	if !allowedMethods[method] {
		return sandbox.CapabilityResult{Success: false, Error: fmt.Sprintf("unsupported method %q", method)}
	}

	if !c.checkRateLimit(time.Now()) {
		return sandbox.CapabilityResult{Success: false, Error: "rate limit exceeded"}
	}

	var body io.Reader
	if method != "GET" && method != "HEAD" {
		if b, ok := params["body"].(string); ok && b != "" {
			body = strings.NewReader(b)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return sandbox.CapabilityResult{Success: false, Error: err.Error()}
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return sandbox.CapabilityResult{Success: false, Error: err.Error()}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseChars+1))
	if err != nil {
		return sandbox.CapabilityResult{Success: false, Error: err.Error()}
	}
	truncated := false
	text := string(data)
	if len(text) > maxResponseChars {
		text = text[:maxResponseChars]
		truncated = true
	}

	if host, err := hostOf(rawURL); err == nil && resp.StatusCode < 400 {
		c.mu.Lock()
		c.sessionApproved[strings.ToLower(host)] = true
		c.mu.Unlock()
	}

	out := text
	if truncated {
		out += "\n[response truncated]"
	}
	success := resp.StatusCode < 400
	result := sandbox.CapabilityResult{Success: success, Output: out}
	if !success {
		result.Error = fmt.Sprintf("http status %d", resp.StatusCode)
	}
	return result
}
