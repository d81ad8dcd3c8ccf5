// Package sandbox is the sole path from tool invocation to side effect. It
// composes named capabilities and an audit store behind a single permission
// pipeline.
package sandbox

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/haasonsaas/mama/pkg/types"
)

// DecisionLevel is the level a capability assigns a prospective action before
// the sandbox decides whether to run it.
type DecisionLevel string

const (
	LevelAuto   DecisionLevel = "auto"
	LevelAsk    DecisionLevel = "ask"
	LevelDenied DecisionLevel = "denied"
)

// PermissionDecision is the result of a pure decision query, independent of
// whether the action is ever executed.
type PermissionDecision struct {
	Level    DecisionLevel
	Reason   string
	Resource string
}

// CapabilityResult is what a capability's execute returns; the sandbox wraps
// it into a full audit entry regardless of outcome.
type CapabilityResult struct {
	Success bool
	Output  string
	Error   string
}

// Capability is a named side-effecting surface (filesystem, shell, network,
// ...) that the sandbox mediates access to.
type Capability interface {
	Name() string
	CheckPermission(ctx context.Context, action, resource string) PermissionDecision
	Execute(ctx context.Context, action string, params map[string]any) CapabilityResult
}

// ApprovalHandler is invoked when a decision requires interactive user
// confirmation before the action runs.
type ApprovalHandler func(ctx context.Context, capName, action, resource string) bool

// AuditStore is the append-only sink every capability call is logged to,
// regardless of decision or outcome.
type AuditStore interface {
	Append(ctx context.Context, entry types.AuditEntry) error
}

// Sandbox registers capabilities and runs every invocation through the
// permission pipeline described in spec.md §4.2.
type Sandbox struct {
	mu           sync.RWMutex
	capabilities map[string]Capability
	audit        AuditStore
	approval     ApprovalHandler
	now          func() time.Time
}

// Option configures a Sandbox at construction time.
type Option func(*Sandbox)

// WithNow overrides the clock used for audit timestamps and durations; tests
// use this to get deterministic output.
func WithNow(now func() time.Time) Option {
	return func(s *Sandbox) { s.now = now }
}

// New constructs a Sandbox backed by the given audit store.
func New(audit AuditStore, opts ...Option) *Sandbox {
	s := &Sandbox{
		capabilities: make(map[string]Capability),
		audit:        audit,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register adds a capability, replacing any existing capability of the same
// name. Idempotent by name.
func (s *Sandbox) Register(cap Capability) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.capabilities[cap.Name()] = cap
}

// SetApprovalHandler installs the callback used when a decision requires
// user confirmation.
func (s *Sandbox) SetApprovalHandler(fn ApprovalHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.approval = fn
}

func (s *Sandbox) capability(name string) (Capability, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.capabilities[name]
	return c, ok
}

// Check runs the permission query for an action without executing it.
func (s *Sandbox) Check(ctx context.Context, capName, action, resource string) PermissionDecision {
	cap, ok := s.capability(capName)
	if !ok {
		return PermissionDecision{Level: LevelDenied, Reason: "Unknown capability", Resource: resource}
	}
	return cap.CheckPermission(ctx, action, resource)
}

// resourceFromParams derives the audit resource string from well-known param
// keys, in priority order.
func resourceFromParams(params map[string]any) string {
	for _, key := range []string{"path", "command", "url"} {
		if v, ok := params[key]; ok {
			if s, ok := v.(string); ok {
				return s
			}
		}
	}
	return ""
}

// Execute runs the full permission pipeline for an action and, on allow,
// invokes the capability. Every call produces exactly one audit entry.
func (s *Sandbox) Execute(ctx context.Context, capName, action string, params map[string]any, requestedBy string) CapabilityResult {
	start := s.now()
	resource := resourceFromParams(params)

	cap, ok := s.capability(capName)
	if !ok {
		s.writeAudit(ctx, capName, action, resource, params, types.DecisionRuleDenied, types.ResultDenied, "", "Unknown capability", start, requestedBy)
		return CapabilityResult{Success: false, Error: "Unknown capability"}
	}

	decision := cap.CheckPermission(ctx, action, resource)
	if decision.Level == LevelDenied {
		reason := decision.Reason
		if reason == "" {
			reason = "denied by capability policy"
		}
		s.writeAudit(ctx, capName, action, resource, params, types.DecisionRuleDenied, types.ResultDenied, "", reason, start, requestedBy)
		return CapabilityResult{Success: false, Error: reason}
	}

	if decision.Level == LevelAsk {
		s.mu.RLock()
		handler := s.approval
		s.mu.RUnlock()
		if handler != nil {
			if !handler(ctx, capName, action, resource) {
				s.writeAudit(ctx, capName, action, resource, params, types.DecisionUserDenied, types.ResultDenied, "", "User denied the action", start, requestedBy)
				return CapabilityResult{Success: false, Error: "User denied the action"}
			}
			if params == nil {
				params = map[string]any{}
			}
			params["__approvedByUser"] = true
		}
	}

	result := cap.Execute(ctx, action, params)

	decisionLabel := types.DecisionAutoApproved
	if decision.Level == LevelAsk {
		decisionLabel = types.DecisionUserApproved
	}
	outcome := types.ResultSuccess
	if !result.Success {
		outcome = types.ResultError
	}
	s.writeAudit(ctx, capName, action, resource, params, decisionLabel, outcome, result.Output, result.Error, start, requestedBy)

	return result
}

const auditOutputCap = 1024

func truncate(s string) string {
	if len(s) <= auditOutputCap {
		return s
	}
	// Truncate on a rune boundary so the result stays valid UTF-8.
	b := []byte(s)[:auditOutputCap]
	for len(b) > 0 && !isRuneStart(b[len(b)-1]) {
		b = b[:len(b)-1]
	}
	return string(b)
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}

func (s *Sandbox) writeAudit(ctx context.Context, capName, action, resource string, params map[string]any, decision types.Decision, result types.Result, output, errMsg string, start time.Time, requestedBy string) {
	if s.audit == nil {
		return
	}
	entry := types.AuditEntry{
		Timestamp:   s.now(),
		Capability:  capName,
		Action:      action,
		Resource:    truncate(resource),
		Params:      truncate(fmt.Sprintf("%v", redactedParams(params))),
		Decision:    decision,
		Result:      result,
		Output:      truncate(output),
		Error:       errMsg,
		DurationMs:  s.now().Sub(start).Milliseconds(),
		RequestedBy: requestedBy,
	}
	_ = s.audit.Append(ctx, entry)
}

// redactedParams drops the internal approval token and any content payload
// so write bodies never get logged verbatim (replaced with their length).
func redactedParams(params map[string]any) map[string]any {
	if params == nil {
		return nil
	}
	out := make(map[string]any, len(params))
	for k, v := range params {
		switch k {
		case "__approvedByUser":
			continue
		case "content", "body":
			if s, ok := v.(string); ok {
				out["contentLength"] = len(s)
				continue
			}
		}
		out[k] = v
	}
	return out
}
