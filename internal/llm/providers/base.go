// Package providers implements the concrete LLM backends the router
// dispatches to; see anthropic.go for the package doc.
package providers

import (
	"context"
	"time"

	"github.com/haasonsaas/mama/internal/llm"
)

// BaseProvider holds the shared linear-backoff retry loop every provider in
// this package embeds, so a rate-limited or momentarily-down upstream
// doesn't immediately surface to Router.Complete as a failed provider.
type BaseProvider struct {
	name       string
	maxRetries int
	retryDelay time.Duration
}

// NewBaseProvider creates a base provider with sane defaults.
func NewBaseProvider(name string, maxRetries int, retryDelay time.Duration) BaseProvider {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelay <= 0 {
		retryDelay = time.Second
	}
	return BaseProvider{
		name:       name,
		maxRetries: maxRetries,
		retryDelay: retryDelay,
	}
}

// Retry executes op with linear backoff while isRetryable(err) holds. A nil
// isRetryable falls back to llm.IsRetryable's text/status classification,
// so a provider only needs to supply a custom check when it has a richer
// native error type to inspect.
func (b *BaseProvider) Retry(ctx context.Context, isRetryable func(error) bool, op func() error) error {
	if op == nil {
		return nil
	}
	if isRetryable == nil {
		isRetryable = llm.IsRetryable
	}
	var lastErr error
	for attempt := 1; attempt <= b.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err := op()
		if err == nil {
			return nil
		}
		lastErr = err
		if !isRetryable(err) {
			return err
		}
		if attempt >= b.maxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(b.retryDelay * time.Duration(attempt)):
		}
	}
	return lastErr
}
