// Package workingmemory implements the token-budget message buffer
// described in spec.md §4.12: appends messages up to a token budget, and
// compresses the oldest span via an injected summarizer once the buffer
// crosses a configurable fraction of that budget.
package workingmemory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/haasonsaas/mama/pkg/types"
)

// Summarizer condenses a span of messages into a single summary string.
type Summarizer func(ctx context.Context, messages []types.Message) (string, error)

// Config tunes a Buffer.
type Config struct {
	MaxTokens          int
	CompressThreshold  float64
}

// DefaultConfig returns the spec's default 0.75 compress threshold.
func DefaultConfig(maxTokens int) Config {
	return Config{MaxTokens: maxTokens, CompressThreshold: 0.75}
}

// Buffer is a token-budgeted message buffer with compression.
type Buffer struct {
	cfg Config

	mu       sync.Mutex
	messages []types.Message
	tokens   int

	systemInjection []string
}

// New constructs a Buffer.
func New(cfg Config) *Buffer {
	if cfg.CompressThreshold <= 0 {
		cfg.CompressThreshold = 0.75
	}
	return &Buffer{cfg: cfg}
}

// AddMessage appends msg and updates the running token cost.
func (b *Buffer) AddMessage(msg types.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages = append(b.messages, msg)
	b.tokens += messageTokenCost(msg)
}

// Messages returns a snapshot of the buffered messages.
func (b *Buffer) Messages() []types.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]types.Message, len(b.messages))
	copy(out, b.messages)
	return out
}

// TokenCount returns the buffer's current estimated token usage.
func (b *Buffer) TokenCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tokens
}

// ShouldCompress reports whether the buffer has crossed
// CompressThreshold*MaxTokens.
func (b *Buffer) ShouldCompress() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.shouldCompressLocked()
}

func (b *Buffer) shouldCompressLocked() bool {
	if b.cfg.MaxTokens <= 0 {
		return false
	}
	return float64(b.tokens) > b.cfg.CompressThreshold*float64(b.cfg.MaxTokens)
}

// Compress summarizes all but the last 4 messages via summarizer and
// replaces that span with a single system summary message, per
// spec.md §4.12.
func (b *Buffer) Compress(ctx context.Context, summarizer Summarizer) error {
	b.mu.Lock()
	if !b.shouldCompressLocked() || len(b.messages) <= 4 {
		b.mu.Unlock()
		return nil
	}
	span := append([]types.Message(nil), b.messages[:len(b.messages)-4]...)
	tail := append([]types.Message(nil), b.messages[len(b.messages)-4:]...)
	b.mu.Unlock()

	summary, err := summarizer(ctx, span)
	if err != nil {
		return fmt.Errorf("workingmemory: summarize: %w", err)
	}

	summaryMsg := types.Message{
		Role:    types.RoleSystem,
		Content: "[Previous conversation summary]: " + summary,
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages = append([]types.Message{summaryMsg}, tail...)
	b.tokens = 0
	for _, m := range b.messages {
		b.tokens += messageTokenCost(m)
	}
	return nil
}

// SetSystemInjection replaces the retrieval-sourced system injection entries.
func (b *Buffer) SetSystemInjection(entries []string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.systemInjection = append([]string(nil), entries...)
}

// GetSystemInjection returns the current retrieval-sourced system
// injection entries.
func (b *Buffer) GetSystemInjection() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.systemInjection...)
}

// messageTokenCost estimates a message's token cost as ceil(len/4)+4 plus
// the JSON length of any tool-call payloads, per spec.md §4.12.
func messageTokenCost(msg types.Message) int {
	cost := ceilDiv4(len(msg.Content)) + 4
	for _, tc := range msg.ToolCalls {
		if b, err := json.Marshal(tc); err == nil {
			cost += len(b)
		}
	}
	for _, tr := range msg.ToolResults {
		if b, err := json.Marshal(tr); err == nil {
			cost += len(b)
		}
	}
	return cost
}

func ceilDiv4(n int) int {
	return (n + 3) / 4
}
