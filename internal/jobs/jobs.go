// Package jobs tracks asynchronous tool executions: long-running tool calls
// that the agent loop hands off rather than blocking on, so a session can
// poll or cancel them later via internal/tools/jobs. Schema and layering are
// grounded on internal/audit's append-and-query Store/MemoryStore/SQLStore
// split, generalized from an append-only log to mutable job records since a
// job's status changes over its lifetime.
package jobs

import (
	"context"
	"time"
)

// Status is a job's lifecycle state.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Result is the outcome of a finished job. It mirrors internal/agent.ToolResult
// without importing that package, avoiding an import cycle (internal/agent's
// tool implementations import internal/jobs, not the reverse).
type Result struct {
	Content string `json:"content,omitempty"`
	IsError bool   `json:"isError,omitempty"`
}

// Job is one tracked asynchronous tool execution.
type Job struct {
	ID         string     `json:"id"`
	ToolCallID string     `json:"toolCallId,omitempty"`
	ToolName   string     `json:"toolName"`
	Status     Status     `json:"status"`
	Params     string     `json:"params,omitempty"`
	Result     *Result    `json:"result,omitempty"`
	Error      string     `json:"error,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	StartedAt  *time.Time `json:"startedAt,omitempty"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
}

// Store is the job tracker's public contract.
type Store interface {
	Create(ctx context.Context, job *Job) error
	Update(ctx context.Context, job *Job) error
	Get(ctx context.Context, id string) (*Job, error)
	List(ctx context.Context, limit, offset int) ([]*Job, error)
	Cancel(ctx context.Context, id string) error
	Prune(ctx context.Context, olderThan time.Duration) (int64, error)
}
