package retrieval

import (
	"context"
	"testing"
	"time"

	"github.com/haasonsaas/mama/internal/memory/consolidated"
	"github.com/haasonsaas/mama/internal/memory/episodic"
	"github.com/haasonsaas/mama/internal/store"
	"github.com/haasonsaas/mama/pkg/types"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	db, err := store.Open(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestRetrieveFillsTokenBudgetGreedily(t *testing.T) {
	ctx := context.Background()
	db := openTestStore(t)
	memStore := consolidated.New(db, nil)
	epStore := episodic.New(db, nil)

	if _, err := memStore.Create(ctx, types.NewConsolidatedMemory{Category: types.CategoryPreference, Content: "prefers concise answers about coffee", Confidence: 0.9}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, err := epStore.StoreEpisode(ctx, types.NewEpisode{Channel: types.ChannelTerminal, Role: types.RoleUser, Content: "asked about coffee brewing methods"}); err != nil {
		t.Fatalf("StoreEpisode() error = %v", err)
	}

	now := time.Now()
	jobLister := func(ctx context.Context) ([]types.Job, error) {
		next := now.Add(-time.Minute)
		return []types.Job{{ID: "j1", Name: "coffee-reminder", Task: "remind about coffee order", NextRun: &next}}, nil
	}

	pipeline := New(memStore, epStore, jobLister, DefaultConfig())
	result, err := pipeline.Retrieve(ctx, "coffee", 10000)
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if result.Stats.MemoryCandidates != 1 || result.Stats.EpisodeCandidates != 1 || result.Stats.GoalCandidates != 1 {
		t.Fatalf("unexpected candidate counts: %+v", result.Stats)
	}
	if result.Stats.Selected == 0 {
		t.Fatalf("expected at least one selected entry")
	}
	if result.TokenCount == 0 {
		t.Fatalf("expected non-zero token count")
	}
}

func TestRetrieveHonorsTightTokenBudget(t *testing.T) {
	ctx := context.Background()
	db := openTestStore(t)
	memStore := consolidated.New(db, nil)

	if _, err := memStore.Create(ctx, types.NewConsolidatedMemory{Category: types.CategoryFact, Content: "a fact worth remembering about the weather", Confidence: 0.9}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	pipeline := New(memStore, nil, nil, DefaultConfig())
	result, err := pipeline.Retrieve(ctx, "weather", 1)
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if result.Stats.Selected != 0 {
		t.Fatalf("expected nothing to fit a 1-token budget, got %d selected", result.Stats.Selected)
	}
}

func TestUrgencyScorePastDueIsOne(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Hour)
	if got := urgencyScore(&past, now); got != 1 {
		t.Fatalf("expected urgency 1 for past-due job, got %v", got)
	}
}

func TestUrgencyScoreNilIsZero(t *testing.T) {
	if got := urgencyScore(nil, time.Now()); got != 0 {
		t.Fatalf("expected urgency 0 for unscheduled job, got %v", got)
	}
}
