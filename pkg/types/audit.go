package types

import "time"

// Decision is the outcome of the sandbox permission pipeline.
type Decision string

const (
	DecisionAutoApproved Decision = "auto-approved"
	DecisionUserApproved Decision = "user-approved"
	DecisionRuleDenied   Decision = "rule-denied"
	DecisionUserDenied   Decision = "user-denied"
	DecisionError        Decision = "error"
)

// Result is the final status of a capability call.
type Result string

const (
	ResultSuccess Result = "success"
	ResultDenied  Result = "denied"
	ResultError   Result = "error"
)

// AuditEntry is an immutable record of a capability invocation.
type AuditEntry struct {
	ID          string    `json:"id"`
	Timestamp   time.Time `json:"timestamp"`
	Capability  string    `json:"capability"`
	Action      string    `json:"action"`
	Resource    string    `json:"resource,omitempty"`
	Params      string    `json:"params,omitempty"`
	Decision    Decision  `json:"decision"`
	Result      Result    `json:"result"`
	Output      string    `json:"output,omitempty"`
	Error       string    `json:"error,omitempty"`
	DurationMs  int64     `json:"durationMs"`
	RequestedBy string    `json:"requestedBy,omitempty"`
	TraceID     string    `json:"traceId,omitempty"`
}

// AuditFilter narrows a Query call over the audit store.
type AuditFilter struct {
	Capability  string
	Action      string
	Result      Result
	RequestedBy string
	Since       *time.Time
	Until       *time.Time
	Limit       int
}
