package agent

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/haasonsaas/mama/pkg/types"
)

// ExecutorConfig bounds the parallel tool executor's concurrency, timeouts,
// and retries. Grounded on the teacher's internal/agent/executor.go.
type ExecutorConfig struct {
	MaxConcurrency  int
	DefaultTimeout  time.Duration
	DefaultRetries  int
	RetryBackoff    time.Duration
	MaxRetryBackoff time.Duration
}

// DefaultExecutorConfig returns sane defaults.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		MaxConcurrency:  5,
		DefaultTimeout:  30 * time.Second,
		DefaultRetries:  1,
		RetryBackoff:    100 * time.Millisecond,
		MaxRetryBackoff: 5 * time.Second,
	}
}

// ExecutionResult is one tool call's outcome, including timing and retries.
type ExecutionResult struct {
	ToolCallID string
	ToolName   string
	Result     *ToolResult
	Error      error
	Duration   time.Duration
	Attempts   int
}

// Executor runs tool calls with a concurrency semaphore, a per-call timeout,
// and exponential-backoff retries on any failed attempt (a returned error, a
// timeout, or a recovered panic).
type Executor struct {
	registry *ToolRegistry
	config   ExecutorConfig
	sem      chan struct{}
}

// NewExecutor creates an Executor bound to registry.
func NewExecutor(registry *ToolRegistry, config ExecutorConfig) *Executor {
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = DefaultExecutorConfig().MaxConcurrency
	}
	return &Executor{
		registry: registry,
		config:   config,
		sem:      make(chan struct{}, config.MaxConcurrency),
	}
}

// ExecuteAll runs every call in parallel, bounded by the executor's
// concurrency limit, and returns results in the same order as calls.
func (e *Executor) ExecuteAll(ctx context.Context, calls []types.ToolCall) []*ExecutionResult {
	if len(calls) == 0 {
		return nil
	}
	results := make([]*ExecutionResult, len(calls))
	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(idx int, tc types.ToolCall) {
			defer wg.Done()
			results[idx] = e.Execute(ctx, tc)
		}(i, call)
	}
	wg.Wait()
	return results
}

// Execute runs one tool call with retry and timeout handling.
func (e *Executor) Execute(ctx context.Context, call types.ToolCall) *ExecutionResult {
	start := time.Now()
	result := &ExecutionResult{ToolCallID: call.ID, ToolName: call.Name}

	select {
	case e.sem <- struct{}{}:
		defer func() { <-e.sem }()
	case <-ctx.Done():
		result.Error = fmt.Errorf("tool %s: %w", call.Name, ctx.Err())
		result.Duration = time.Since(start)
		return result
	}

	timeout := e.config.DefaultTimeout
	maxRetries := e.config.DefaultRetries
	backoff := e.config.RetryBackoff

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		result.Attempts = attempt + 1
		res, err := e.executeWithTimeout(ctx, call, timeout)
		if err == nil {
			result.Result = res
			result.Duration = time.Since(start)
			return result
		}
		lastErr = err
		if ctx.Err() != nil || attempt >= maxRetries {
			break
		}
		sleep := backoff * time.Duration(1<<uint(attempt))
		if sleep > e.config.MaxRetryBackoff {
			sleep = e.config.MaxRetryBackoff
		}
		select {
		case <-time.After(sleep):
		case <-ctx.Done():
			lastErr = ctx.Err()
		}
	}

	result.Error = lastErr
	result.Duration = time.Since(start)
	return result
}

func (e *Executor) executeWithTimeout(ctx context.Context, call types.ToolCall, timeout time.Duration) (res *ToolResult, err error) {
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		res *ToolResult
		err error
	}
	ch := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- outcome{err: fmt.Errorf("tool %s panicked: %v\n%s", call.Name, r, debug.Stack())}
			}
		}()
		r, err := e.registry.Execute(execCtx, call.Name, call.Input)
		ch <- outcome{res: r, err: err}
	}()

	select {
	case o := <-ch:
		return o.res, o.err
	case <-execCtx.Done():
		if ctx.Err() != nil {
			return nil, fmt.Errorf("tool %s: %w", call.Name, ctx.Err())
		}
		return nil, fmt.Errorf("tool %s: execution timed out after %s", call.Name, timeout)
	}
}

// ResultsToMessages converts execution results into tool-result messages
// suitable for appending to conversation history.
func ResultsToMessages(results []*ExecutionResult) []types.ToolResult {
	out := make([]types.ToolResult, len(results))
	for i, r := range results {
		switch {
		case r.Error != nil:
			out[i] = types.ToolResult{ToolCallID: r.ToolCallID, Content: r.Error.Error(), IsError: true}
		case r.Result != nil:
			out[i] = types.ToolResult{ToolCallID: r.ToolCallID, Content: r.Result.Content, IsError: r.Result.IsError}
		}
	}
	return out
}
