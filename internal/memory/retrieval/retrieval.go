// Package retrieval implements the hybrid retrieval pipeline described in
// spec.md §4.7.5: gather consolidated memories, recent episodes and active
// jobs, score each, then greedily fill a token budget. Grounded on
// episodic.Store/consolidated.Store for candidate streams and on the
// ceil(len/4)+4 token estimate used throughout the memory engine.
package retrieval

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/haasonsaas/mama/internal/memory/consolidated"
	"github.com/haasonsaas/mama/internal/memory/episodic"
	"github.com/haasonsaas/mama/pkg/types"
)

// Config tunes the retrieval pipeline.
type Config struct {
	RecentWindowHours int
	MinConfidence     float64
	TopNMemories      int
}

// DefaultConfig returns the spec's default windows.
func DefaultConfig() Config {
	return Config{RecentWindowHours: 24, MinConfidence: 0.3, TopNMemories: 10}
}

// JobLister supplies the active-jobs candidate stream without introducing a
// dependency from memory on the scheduler package.
type JobLister func(ctx context.Context) ([]types.Job, error)

// Entry is one scored, token-costed candidate surfaced to the caller.
type Entry struct {
	Kind       string // memory, episode, goal
	Text       string
	Score      float64
	TokenCost  int
}

// Stats summarizes one retrieval pass.
type Stats struct {
	MemoryCandidates int
	EpisodeCandidates int
	GoalCandidates   int
	Selected         int
}

// Result is the retrieval pipeline's output.
type Result struct {
	Entries   []Entry
	Formatted string
	TokenCount int
	Stats     Stats
}

// Pipeline gathers and scores candidates for a query under a token budget.
type Pipeline struct {
	memories *consolidated.Store
	episodes *episodic.Store
	jobs     JobLister
	cfg      Config
	now      func() time.Time
}

// New constructs a retrieval Pipeline.
func New(memories *consolidated.Store, episodes *episodic.Store, jobs JobLister, cfg Config) *Pipeline {
	cfg = withDefaults(cfg)
	return &Pipeline{memories: memories, episodes: episodes, jobs: jobs, cfg: cfg, now: time.Now}
}

func withDefaults(cfg Config) Config {
	d := DefaultConfig()
	if cfg.RecentWindowHours > 0 {
		d.RecentWindowHours = cfg.RecentWindowHours
	}
	if cfg.MinConfidence > 0 {
		d.MinConfidence = cfg.MinConfidence
	}
	if cfg.TopNMemories > 0 {
		d.TopNMemories = cfg.TopNMemories
	}
	return d
}

// Retrieve gathers candidates, scores them, and greedily fills tokenBudget.
func (p *Pipeline) Retrieve(ctx context.Context, query string, tokenBudget int) (Result, error) {
	now := p.now()
	queryLower := strings.ToLower(query)

	var candidates []Entry
	var stats Stats

	if p.memories != nil {
		mems, err := p.memories.Search(ctx, query, consolidated.SearchOptions{TopK: p.cfg.TopNMemories, MinConfidence: p.cfg.MinConfidence})
		if err != nil {
			return Result{}, fmt.Errorf("retrieval: search memories: %w", err)
		}
		stats.MemoryCandidates = len(mems)
		for _, m := range mems {
			lexical := lexicalOverlap(queryLower, strings.ToLower(m.Content))
			freshness := freshnessScore(now.Sub(m.UpdatedAt), 14*24*time.Hour)
			score := 0.5*lexical + 0.35*m.Confidence + 0.15*freshness
			candidates = append(candidates, newEntry("memory", m.Content, score))
		}
	}

	if p.episodes != nil {
		start := now.Add(-time.Duration(p.cfg.RecentWindowHours) * time.Hour)
		episodes, err := p.episodes.SearchTemporal(ctx, start, now)
		if err != nil {
			return Result{}, fmt.Errorf("retrieval: search episodes: %w", err)
		}
		stats.EpisodeCandidates = len(episodes)
		for _, ep := range episodes {
			lexical := lexicalOverlap(queryLower, strings.ToLower(ep.Content))
			recency := freshnessScore(now.Sub(ep.Timestamp), time.Duration(p.cfg.RecentWindowHours)*time.Hour)
			importanceBoost := 0.0
			if ep.Metadata.Importance == types.ImportanceHigh {
				importanceBoost = 1
			}
			score := 0.55*lexical + 0.45*recency + 0.15*importanceBoost
			candidates = append(candidates, newEntry("episode", ep.Content, score))
		}
	}

	if p.jobs != nil {
		jobs, err := p.jobs(ctx)
		if err != nil {
			return Result{}, fmt.Errorf("retrieval: list jobs: %w", err)
		}
		stats.GoalCandidates = len(jobs)
		for _, job := range jobs {
			lexical := lexicalOverlap(queryLower, strings.ToLower(job.Task))
			urgency := urgencyScore(job.NextRun, now)
			score := 0.6*lexical + 0.4*urgency
			text := fmt.Sprintf("[job %s] %s (next run %s)", job.Name, job.Task, nextRunLabel(job.NextRun))
			candidates = append(candidates, newEntry("goal", text, score))
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return candidates[i].TokenCost < candidates[j].TokenCost
	})

	var selected []Entry
	used := 0
	for _, c := range candidates {
		if used+c.TokenCost > tokenBudget {
			continue
		}
		selected = append(selected, c)
		used += c.TokenCost
	}
	stats.Selected = len(selected)

	lines := make([]string, 0, len(selected))
	for _, e := range selected {
		lines = append(lines, e.Text)
	}

	return Result{
		Entries:    selected,
		Formatted:  strings.Join(lines, "\n"),
		TokenCount: used,
		Stats:      stats,
	}, nil
}

func newEntry(kind, text string, score float64) Entry {
	return Entry{Kind: kind, Text: text, Score: score, TokenCost: estimateTokens(text)}
}

// estimateTokens uses the ceil(len/4) + 4 estimate shared across the memory
// engine and working memory.
func estimateTokens(text string) int {
	return (len(text)+3)/4 + 4
}

func lexicalOverlap(query, content string) float64 {
	words := strings.Fields(query)
	if len(words) == 0 {
		return 0
	}
	hits := 0
	for _, w := range words {
		if strings.Contains(content, w) {
			hits++
		}
	}
	return float64(hits) / float64(len(words))
}

// freshnessScore decays linearly from 1 (age=0) to 0 at age=window.
func freshnessScore(age, window time.Duration) float64 {
	if age <= 0 {
		return 1
	}
	if age >= window {
		return 0
	}
	return 1 - float64(age)/float64(window)
}

// urgencyScore is 1 if nextRun is past due, else decays linearly toward 0
// at +24h out.
func urgencyScore(nextRun *time.Time, now time.Time) float64 {
	if nextRun == nil {
		return 0
	}
	until := nextRun.Sub(now)
	if until <= 0 {
		return 1
	}
	window := 24 * time.Hour
	if until >= window {
		return 0
	}
	return 1 - float64(until)/float64(window)
}

func nextRunLabel(nextRun *time.Time) string {
	if nextRun == nil {
		return "unscheduled"
	}
	return nextRun.Format(time.RFC3339)
}
