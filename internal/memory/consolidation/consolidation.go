// Package consolidation implements the consolidation engine described in
// spec.md §4.7.6: folds pending episodes into consolidated memories via an
// LLM call whose strict-JSON response is parsed and applied one operation
// at a time. The operations do not share a transaction: a failed operation
// is recorded in the Report and skipped, and the others still apply.
// Grounded on the llm.Router contract and on the fenced-JSON-block
// extraction idiom used throughout the agent's planning gate.
package consolidation

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/haasonsaas/mama/internal/llm"
	"github.com/haasonsaas/mama/internal/memory/consolidated"
	"github.com/haasonsaas/mama/internal/memory/decay"
	"github.com/haasonsaas/mama/internal/memory/episodic"
	"github.com/haasonsaas/mama/internal/memory/soul"
	"github.com/haasonsaas/mama/pkg/types"
)

// Options configure one consolidation run.
type Options struct {
	Force                   bool
	MinEpisodesToConsolidate int
	RunDecay                bool
	RegenerateSoul          bool
}

// Report summarizes one consolidation run.
type Report struct {
	Skipped       bool
	SkipReason    string
	NewCount      int
	ReinforceCount int
	UpdateCount   int
	ContradictCount int
	DecayCount    int
	ConnectCount  int
	Errors        []string
	Decay         *decay.Report
}

// Engine runs consolidation passes over pending episodes.
type Engine struct {
	episodes    *episodic.Store
	memories    *consolidated.Store
	router      *llm.Router
	soulPath    string
	batchSize   int
	maxExisting int

	mu      sync.Mutex
	running bool
	now     func() time.Time
}

// New constructs a consolidation Engine.
func New(episodes *episodic.Store, memories *consolidated.Store, router *llm.Router, soulPath string) *Engine {
	return &Engine{
		episodes:    episodes,
		memories:    memories,
		router:      router,
		soulPath:    soulPath,
		batchSize:   100,
		maxExisting: 300,
		now:         time.Now,
	}
}

// IsIdle reports whether a consolidation run is not currently in progress.
func (e *Engine) IsIdle() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.running
}

// consolidationResult is the strict-JSON schema the LLM is asked to produce.
type consolidationResult struct {
	New []struct {
		Category         string   `json:"category"`
		Content          string   `json:"content"`
		SourceEpisodeIDs []string `json:"sourceEpisodeIds"`
	} `json:"new"`
	Reinforce []string `json:"reinforce"`
	Update    []struct {
		ID      string `json:"id"`
		Content string `json:"content"`
	} `json:"update"`
	Contradict []struct {
		ID                string `json:"id"`
		ContradictsID     string `json:"contradictsId"`
	} `json:"contradict"`
	Decay   []string `json:"decay"`
	Connect []struct {
		ID        string `json:"id"`
		RelatedID string `json:"relatedId"`
	} `json:"connect"`
}

// Run executes one consolidation pass. At most one run is in flight at a
// time; a call made while another run is in progress returns a Skipped
// Report.
func (e *Engine) Run(ctx context.Context, opts Options, minEpisodesDefault int) (Report, error) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return Report{Skipped: true, SkipReason: "consolidation already running"}, nil
	}
	e.running = true
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
	}()

	threshold := opts.MinEpisodesToConsolidate
	if threshold <= 0 {
		threshold = minEpisodesDefault
	}
	if threshold <= 0 {
		threshold = 5
	}

	pending, err := e.episodes.PendingCount(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("consolidation: pending count: %w", err)
	}
	if pending < threshold && !opts.Force {
		return Report{Skipped: true, SkipReason: fmt.Sprintf("pending episodes %d below threshold %d", pending, threshold)}, nil
	}

	batch, err := e.episodes.GetRecent(ctx, e.batchSize)
	if err != nil {
		return Report{}, fmt.Errorf("consolidation: load pending episodes: %w", err)
	}
	batch = oldestFirst(batch)

	existing, err := e.memories.GetActive(ctx, 0)
	if err != nil {
		return Report{}, fmt.Errorf("consolidation: load active memories: %w", err)
	}
	if len(existing) > e.maxExisting {
		existing = existing[:e.maxExisting]
	}

	prompt := buildPrompt(batch, existing)
	resp, err := e.router.Complete(ctx, llm.CompletionRequest{
		Messages:     []types.Message{{Role: types.RoleUser, Content: prompt}},
		TaskType:     llm.TaskMemoryConsolidation,
		Temperature:  0.1,
		MaxTokens:    4096,
	})
	if err != nil {
		return Report{}, fmt.Errorf("consolidation: llm call: %w", err)
	}

	result, parseErr := parseResult(resp.Content)
	var report Report
	if parseErr != nil {
		report.Errors = append(report.Errors, parseErr.Error())
		result = consolidationResult{}
	}

	if err := e.apply(ctx, result, &report); err != nil {
		return report, fmt.Errorf("consolidation: apply: %w", err)
	}

	if err := e.episodes.MarkConsolidated(ctx, episodeIDs(batch)); err != nil {
		return report, fmt.Errorf("consolidation: mark consolidated: %w", err)
	}

	if opts.RunDecay {
		decayReport, err := decay.Run(ctx, e.memories, decay.DefaultConfig(), e.now())
		if err != nil {
			report.Errors = append(report.Errors, err.Error())
		} else {
			report.Decay = &decayReport
			report.DecayCount = decayReport.Decayed
		}
	}

	if opts.RegenerateSoul && e.soulPath != "" {
		active, err := e.memories.GetActive(ctx, 0)
		if err != nil {
			report.Errors = append(report.Errors, err.Error())
		} else if err := soul.RegenerateFromMemories(e.soulPath, active); err != nil {
			report.Errors = append(report.Errors, err.Error())
		}
	}

	return report, nil
}

func (e *Engine) apply(ctx context.Context, result consolidationResult, report *Report) error {
	for _, n := range result.New {
		if _, err := e.memories.Create(ctx, types.NewConsolidatedMemory{
			Category:         types.MemoryCategory(n.Category),
			Content:          n.Content,
			Confidence:       0.75,
			SourceEpisodeIDs: n.SourceEpisodeIDs,
		}); err != nil {
			report.Errors = append(report.Errors, err.Error())
			continue
		}
		report.NewCount++
	}

	for _, id := range result.Reinforce {
		if _, err := e.memories.Reinforce(ctx, id); err != nil {
			report.Errors = append(report.Errors, err.Error())
			continue
		}
		report.ReinforceCount++
	}

	for _, u := range result.Update {
		content := u.Content
		if _, err := e.memories.Update(ctx, u.ID, &content, nil, nil); err != nil {
			report.Errors = append(report.Errors, err.Error())
			continue
		}
		report.UpdateCount++
	}

	for _, c := range result.Contradict {
		target, err := e.memories.Get(ctx, c.ContradictsID)
		if err != nil {
			report.Errors = append(report.Errors, err.Error())
			continue
		}
		lowered := lowerConfidence(target.Confidence, 0.2, 0.1)
		if _, err := e.memories.Update(ctx, c.ContradictsID, nil, &lowered, nil); err != nil {
			report.Errors = append(report.Errors, err.Error())
			continue
		}
		report.ContradictCount++
	}

	for range result.Connect {
		report.ConnectCount++
	}

	return nil
}

func lowerConfidence(confidence, delta, floor float64) float64 {
	v := confidence - delta
	if v < floor {
		return floor
	}
	return v
}

func oldestFirst(episodes []*types.Episode) []*types.Episode {
	reversed := make([]*types.Episode, len(episodes))
	for i, ep := range episodes {
		reversed[len(episodes)-1-i] = ep
	}
	return reversed
}

func episodeIDs(episodes []*types.Episode) []string {
	ids := make([]string, len(episodes))
	for i, ep := range episodes {
		ids[i] = ep.ID
	}
	return ids
}

var fencedJSON = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")

// parseResult extracts the strict-JSON consolidation payload, preferring a
// fenced code block, then falling back to the first-brace-to-last-brace
// span of the raw response.
func parseResult(content string) (consolidationResult, error) {
	var result consolidationResult

	if m := fencedJSON.FindStringSubmatch(content); m != nil {
		if err := json.Unmarshal([]byte(m[1]), &result); err == nil {
			return result, nil
		}
	}

	start := strings.IndexByte(content, '{')
	end := strings.LastIndexByte(content, '}')
	if start < 0 || end < start {
		return result, fmt.Errorf("consolidation: no JSON object found in response")
	}
	if err := json.Unmarshal([]byte(content[start:end+1]), &result); err != nil {
		return result, fmt.Errorf("consolidation: parse response: %w", err)
	}
	return result, nil
}

func buildPrompt(episodes []*types.Episode, existing []*types.ConsolidatedMemory) string {
	var sb strings.Builder
	sb.WriteString("You consolidate raw interaction episodes into durable long-term memories.\n")
	sb.WriteString("Respond with strict JSON only, matching this schema: ")
	sb.WriteString(`{"new":[{"category":"...","content":"...","sourceEpisodeIds":["..."]}],"reinforce":["id"],"update":[{"id":"...","content":"..."}],"contradict":[{"id":"...","contradictsId":"..."}],"decay":["id"],"connect":[{"id":"...","relatedId":"..."}]}`)
	sb.WriteString("\n\nPending episodes (oldest first):\n")
	for _, ep := range episodes {
		fmt.Fprintf(&sb, "- [%s] (%s) %s\n", ep.ID, ep.Role, ep.Content)
	}
	sb.WriteString("\nExisting active memories (strongest first):\n")
	for _, m := range existing {
		fmt.Fprintf(&sb, "- [%s] (%s, confidence %.2f) %s\n", m.ID, m.Category, m.Confidence, m.Content)
	}
	return sb.String()
}
