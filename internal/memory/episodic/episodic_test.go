package episodic

import (
	"context"
	"testing"
	"time"

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

func TestStoreEpisodeEnrichesMetadata(t *testing.T) {
	db := openTestStore(t)
	s := New(db, nil)

	ep, err := s.StoreEpisode(context.Background(), types.NewEpisode{
		Channel: types.ChannelTerminal,
		Role:    types.RoleUser,
		Content: "This is an urgent request about Database migrations and Kubernetes clusters, please help urgently",
	})
	if err != nil {
		t.Fatalf("StoreEpisode() error = %v", err)
	}
	if ep.Metadata.Importance != types.ImportanceHigh {
		t.Fatalf("expected high importance, got %s", ep.Metadata.Importance)
	}
	if len(ep.Metadata.Entities) == 0 {
		t.Fatalf("expected at least one entity")
	}
}

func TestGetRecentOrdersNewestFirst(t *testing.T) {
	db := openTestStore(t)
	s := New(db, nil)
	ctx := context.Background()

	if _, err := s.StoreEpisode(ctx, types.NewEpisode{Channel: types.ChannelTerminal, Role: types.RoleUser, Content: "first message"}); err != nil {
		t.Fatalf("StoreEpisode() error = %v", err)
	}
	time.Sleep(2 * time.Millisecond)
	if _, err := s.StoreEpisode(ctx, types.NewEpisode{Channel: types.ChannelTerminal, Role: types.RoleUser, Content: "second message"}); err != nil {
		t.Fatalf("StoreEpisode() error = %v", err)
	}

	recent, err := s.GetRecent(ctx, 10)
	if err != nil {
		t.Fatalf("GetRecent() error = %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("expected 2 episodes, got %d", len(recent))
	}
	if recent[0].Content != "second message" {
		t.Fatalf("expected newest first, got %q", recent[0].Content)
	}
}

func TestMarkConsolidatedAndPendingCount(t *testing.T) {
	db := openTestStore(t)
	s := New(db, nil)
	ctx := context.Background()

	ep, err := s.StoreEpisode(ctx, types.NewEpisode{Channel: types.ChannelTerminal, Role: types.RoleUser, Content: "hi"})
	if err != nil {
		t.Fatalf("StoreEpisode() error = %v", err)
	}

	pending, err := s.PendingCount(ctx)
	if err != nil {
		t.Fatalf("PendingCount() error = %v", err)
	}
	if pending != 1 {
		t.Fatalf("expected 1 pending episode, got %d", pending)
	}

	if err := s.MarkConsolidated(ctx, []string{ep.ID}); err != nil {
		t.Fatalf("MarkConsolidated() error = %v", err)
	}

	pending, err = s.PendingCount(ctx)
	if err != nil {
		t.Fatalf("PendingCount() error = %v", err)
	}
	if pending != 0 {
		t.Fatalf("expected 0 pending episodes after consolidation, got %d", pending)
	}
}
