package consolidation

import (
	"context"
	"testing"
	"time"

	"github.com/haasonsaas/mama/internal/llm"
	"github.com/haasonsaas/mama/internal/llm/cost"
	"github.com/haasonsaas/mama/internal/memory/consolidated"
	"github.com/haasonsaas/mama/internal/memory/episodic"
	"github.com/haasonsaas/mama/internal/store"
	"github.com/haasonsaas/mama/pkg/types"
)

type stubProvider struct {
	content string
}

func (s *stubProvider) Name() string                                 { return "stub" }
func (s *stubProvider) IsAvailable(ctx context.Context) bool         { return true }
func (s *stubProvider) Complete(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
	return llm.CompletionResponse{Content: s.content, Model: "stub-model", Provider: "stub"}, nil
}

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	db, err := store.Open(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestRunSkipsBelowThreshold(t *testing.T) {
	ctx := context.Background()
	db := openTestStore(t)
	epStore := episodic.New(db, nil)
	memStore := consolidated.New(db, nil)

	if _, err := epStore.StoreEpisode(ctx, types.NewEpisode{Channel: types.ChannelTerminal, Role: types.RoleUser, Content: "hi"}); err != nil {
		t.Fatalf("StoreEpisode() error = %v", err)
	}

	provider := &stubProvider{content: `{"new":[],"reinforce":[],"update":[],"contradict":[],"decay":[],"connect":[]}`}
	router := llm.New(map[string]llm.Provider{"stub": provider}, map[llm.TaskType]string{llm.TaskMemoryConsolidation: "stub"}, "stub", "stub", cost.New(db, nil))

	engine := New(epStore, memStore, router, "")
	report, err := engine.Run(ctx, Options{}, 5)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !report.Skipped {
		t.Fatalf("expected skip below threshold, got %+v", report)
	}
}

func TestRunAppliesNewMemoriesAndMarksConsolidated(t *testing.T) {
	ctx := context.Background()
	db := openTestStore(t)
	epStore := episodic.New(db, nil)
	memStore := consolidated.New(db, nil)

	for i := 0; i < 3; i++ {
		if _, err := epStore.StoreEpisode(ctx, types.NewEpisode{Channel: types.ChannelTerminal, Role: types.RoleUser, Content: "some note"}); err != nil {
			t.Fatalf("StoreEpisode() error = %v", err)
		}
	}

	provider := &stubProvider{content: "```json\n" + `{"new":[{"category":"fact","content":"likes tea","sourceEpisodeIds":[]}],"reinforce":[],"update":[],"contradict":[],"decay":[],"connect":[]}` + "\n```"}
	router := llm.New(map[string]llm.Provider{"stub": provider}, map[llm.TaskType]string{llm.TaskMemoryConsolidation: "stub"}, "stub", "stub", cost.New(db, nil))

	engine := New(epStore, memStore, router, "")
	report, err := engine.Run(ctx, Options{Force: true}, 5)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if report.Skipped {
		t.Fatalf("expected run to proceed when forced")
	}
	if report.NewCount != 1 {
		t.Fatalf("expected 1 new memory, got %d", report.NewCount)
	}

	pending, err := epStore.PendingCount(ctx)
	if err != nil {
		t.Fatalf("PendingCount() error = %v", err)
	}
	if pending != 0 {
		t.Fatalf("expected all processed episodes marked consolidated, got %d pending", pending)
	}
}

func TestParseResultFallsBackToBraceSpan(t *testing.T) {
	content := "Here is the result: {\"new\":[],\"reinforce\":[\"abc\"],\"update\":[],\"contradict\":[],\"decay\":[],\"connect\":[]} -- done"
	result, err := parseResult(content)
	if err != nil {
		t.Fatalf("parseResult() error = %v", err)
	}
	if len(result.Reinforce) != 1 || result.Reinforce[0] != "abc" {
		t.Fatalf("unexpected parsed result: %+v", result)
	}
}

func TestSchedulerSkipsWhenNotIdle(t *testing.T) {
	ctx := context.Background()
	db := openTestStore(t)
	epStore := episodic.New(db, nil)
	memStore := consolidated.New(db, nil)
	provider := &stubProvider{content: `{"new":[],"reinforce":[],"update":[],"contradict":[],"decay":[],"connect":[]}`}
	router := llm.New(map[string]llm.Provider{"stub": provider}, map[llm.TaskType]string{llm.TaskMemoryConsolidation: "stub"}, "stub", "stub", cost.New(db, nil))
	engine := New(epStore, memStore, router, "")

	engine.mu.Lock()
	engine.running = true
	engine.mu.Unlock()

	sched := NewScheduler(engine, SchedulerConfig{IntervalHours: 1}, nil)
	sched.tick(ctx) // should be a no-op; verified by not panicking and engine remaining "running"
	if !engine.running {
		t.Fatalf("expected engine.running to remain true (tick must not touch it)")
	}
	_ = time.Now
}
