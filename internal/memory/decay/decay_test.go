package decay

import (
	"context"
	"testing"
	"time"

	"github.com/haasonsaas/mama/internal/memory/consolidated"
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

func TestRunDecaysStaleMemories(t *testing.T) {
	ctx := context.Background()
	cs := consolidated.New(openTestStore(t), nil)
	m, err := cs.Create(ctx, types.NewConsolidatedMemory{Category: types.CategoryFact, Content: "x", Confidence: 0.5})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	future := m.LastReinforcedAt.Add(40 * 24 * time.Hour)
	report, err := Run(ctx, cs, DefaultConfig(), future)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if report.Checked != 1 || report.Decayed != 1 {
		t.Fatalf("unexpected report: %+v", report)
	}

	updated, err := cs.Get(ctx, m.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if updated.Confidence >= 0.5 {
		t.Fatalf("expected confidence to decay below 0.5, got %v", updated.Confidence)
	}
}

func TestRunDeactivatesBelowThreshold(t *testing.T) {
	ctx := context.Background()
	cs := consolidated.New(openTestStore(t), nil)
	m, err := cs.Create(ctx, types.NewConsolidatedMemory{Category: types.CategoryFact, Content: "x", Confidence: 0.11})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	future := m.LastReinforcedAt.Add(40 * 24 * time.Hour)
	report, err := Run(ctx, cs, DefaultConfig(), future)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if report.Deactivated != 1 {
		t.Fatalf("expected 1 deactivation, got %d", report.Deactivated)
	}

	active, err := cs.GetActive(ctx, 0)
	if err != nil {
		t.Fatalf("GetActive() error = %v", err)
	}
	for _, a := range active {
		if a.ID == m.ID {
			t.Fatalf("expected memory to be deactivated")
		}
	}
}

func TestRunSkipsFreshMemories(t *testing.T) {
	ctx := context.Background()
	cs := consolidated.New(openTestStore(t), nil)
	m, err := cs.Create(ctx, types.NewConsolidatedMemory{Category: types.CategoryFact, Content: "x", Confidence: 0.5})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	report, err := Run(ctx, cs, DefaultConfig(), m.LastReinforcedAt.Add(time.Hour))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if report.Decayed != 0 {
		t.Fatalf("expected no decay for fresh memory, got %+v", report)
	}
}
