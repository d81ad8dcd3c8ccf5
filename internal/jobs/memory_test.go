package jobs

import (
	"context"
	"testing"
	"time"
)

func TestMemoryStoreCreateGet(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	job := &Job{ToolName: "web_search", Status: StatusQueued}
	if err := store.Create(ctx, job); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if job.ID == "" {
		t.Fatal("Create should assign an ID")
	}

	got, err := store.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got == nil || got.ToolName != "web_search" {
		t.Fatalf("Get returned %+v", got)
	}
}

func TestMemoryStoreGetMissing(t *testing.T) {
	store := NewMemoryStore()
	got, err := store.Get(context.Background(), "nope")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil, got %+v", got)
	}
}

func TestMemoryStoreUpdate(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	job := &Job{ToolName: "exec", Status: StatusQueued}
	_ = store.Create(ctx, job)

	job.Status = StatusSucceeded
	job.Result = &Result{Content: "done"}
	if err := store.Update(ctx, job); err != nil {
		t.Fatalf("Update: %v", err)
	}

	got, _ := store.Get(ctx, job.ID)
	if got.Status != StatusSucceeded || got.Result == nil || got.Result.Content != "done" {
		t.Fatalf("Update did not persist: %+v", got)
	}
}

func TestMemoryStoreUpdateMissing(t *testing.T) {
	store := NewMemoryStore()
	err := store.Update(context.Background(), &Job{ID: "missing"})
	if err == nil {
		t.Fatal("expected error updating a job that does not exist")
	}
}

func TestMemoryStoreListOrderAndLimit(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	base := time.Now().UTC()
	for i := 0; i < 5; i++ {
		job := &Job{ID: string(rune('a' + i)), ToolName: "t", Status: StatusQueued, CreatedAt: base.Add(time.Duration(i) * time.Second)}
		if err := store.Create(ctx, job); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	all, err := store.List(ctx, 0, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 5 {
		t.Fatalf("expected 5 jobs, got %d", len(all))
	}
	if all[0].ID != "e" {
		t.Fatalf("expected newest-first order, got %q first", all[0].ID)
	}

	limited, err := store.List(ctx, 2, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(limited) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(limited))
	}
}

func TestMemoryStoreCancel(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	running := &Job{ToolName: "t", Status: StatusRunning}
	_ = store.Create(ctx, running)
	if err := store.Cancel(ctx, running.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	got, _ := store.Get(ctx, running.ID)
	if got.Status != StatusFailed || got.FinishedAt == nil {
		t.Fatalf("Cancel did not update job: %+v", got)
	}

	done := &Job{ToolName: "t", Status: StatusSucceeded}
	_ = store.Create(ctx, done)
	if err := store.Cancel(ctx, done.ID); err == nil {
		t.Fatal("expected error cancelling a completed job")
	}
}

func TestMemoryStorePrune(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	old := time.Now().UTC().Add(-2 * time.Hour)
	job := &Job{ToolName: "t", Status: StatusSucceeded, FinishedAt: &old}
	_ = store.Create(ctx, job)
	job.FinishedAt = &old // Create copies before assigning defaults; keep the old timestamp.
	_ = store.Update(ctx, job)

	recent := &Job{ToolName: "t", Status: StatusSucceeded}
	now := time.Now().UTC()
	recent.FinishedAt = &now
	_ = store.Create(ctx, recent)

	pruned, err := store.Prune(ctx, time.Hour)
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if pruned != 1 {
		t.Fatalf("expected 1 pruned job, got %d", pruned)
	}
	if got, _ := store.Get(ctx, recent.ID); got == nil {
		t.Fatal("recent job should survive prune")
	}
}
