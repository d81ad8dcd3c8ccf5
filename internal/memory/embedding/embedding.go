// Package embedding wraps an embeddings.Provider with the process-local,
// unbounded cache described in spec.md §4.7 (embedding module). Grounded
// on the teacher's memory.Manager embeddingCache (bounded LRU over query
// embeddings), generalized here to an unbounded map since spec.md calls
// for a process-local cache without an eviction policy.
package embedding

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/haasonsaas/mama/internal/memory/embeddings"
	"github.com/haasonsaas/mama/internal/memory/embeddings/ollama"
	"github.com/haasonsaas/mama/internal/memory/embeddings/openai"
)

// Provider generates embeddings and caches them by input text.
type Provider struct {
	inner embeddings.Provider

	mu    sync.RWMutex
	cache map[string][]float32
}

// Config selects and configures the underlying embedding provider.
type Config struct {
	Provider string // openai, ollama
	APIKey   string
	BaseURL  string
	Model    string
}

// New constructs a cached Provider over the configured backend.
func New(cfg Config) (*Provider, error) {
	var inner embeddings.Provider
	var err error
	switch cfg.Provider {
	case "", "openai":
		inner, err = openai.New(openai.Config{APIKey: cfg.APIKey, BaseURL: cfg.BaseURL, Model: cfg.Model})
	case "ollama":
		inner, err = ollama.New(ollama.Config{BaseURL: cfg.BaseURL, Model: cfg.Model})
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("embedding: %w", err)
	}
	return &Provider{inner: inner, cache: make(map[string][]float32)}, nil
}

// NewFromProvider wraps an already-constructed embeddings.Provider, mainly
// for tests that supply a fake.
func NewFromProvider(inner embeddings.Provider) *Provider {
	return &Provider{inner: inner, cache: make(map[string][]float32)}
}

// Name returns the underlying provider's name.
func (p *Provider) Name() string { return p.inner.Name() }

// Dimension returns the underlying provider's embedding dimension.
func (p *Provider) Dimension() int { return p.inner.Dimension() }

// Embed returns the cached embedding for text, computing and storing it on
// a cache miss.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	p.mu.RLock()
	if v, ok := p.cache[text]; ok {
		p.mu.RUnlock()
		return v, nil
	}
	p.mu.RUnlock()

	v, err := p.inner.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}

	p.mu.Lock()
	p.cache[text] = v
	p.mu.Unlock()
	return v, nil
}

// Cosine computes cosine similarity between two embeddings of equal length.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
