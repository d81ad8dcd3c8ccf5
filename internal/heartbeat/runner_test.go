package heartbeat

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/haasonsaas/mama/internal/audit"
)

func TestRunnerTickInvokesRunTaskAndAudits(t *testing.T) {
	dir := t.TempDir()
	checklist := filepath.Join(dir, "checklist.md")
	if err := os.WriteFile(checklist, []byte("- check inbox\n"), 0o644); err != nil {
		t.Fatalf("write checklist: %v", err)
	}

	var receivedPrompt string
	runTask := func(ctx context.Context, prompt string) (string, error) {
		receivedPrompt = prompt
		return "all clear", nil
	}

	store := audit.NewMemoryStore(0)
	runner := New(Config{IntervalMinutes: 30, ChecklistPath: checklist}, runTask, store)

	report := runner.Tick(context.Background())
	if !report.Success {
		t.Fatalf("expected successful tick, got error %q", report.Error)
	}
	if report.Output != "all clear" {
		t.Fatalf("expected output %q, got %q", "all clear", report.Output)
	}
	if receivedPrompt == "" {
		t.Fatalf("expected non-empty prompt")
	}

	entries, err := store.GetRecent(context.Background(), 10)
	if err != nil {
		t.Fatalf("GetRecent() error = %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 audit entry, got %d", len(entries))
	}
	if entries[0].Capability != "heartbeat" || entries[0].Action != "tick" {
		t.Fatalf("unexpected audit entry: %+v", entries[0])
	}
}

func TestRunnerTickToleratesMissingChecklist(t *testing.T) {
	runTask := func(ctx context.Context, prompt string) (string, error) {
		return "ok", nil
	}
	runner := New(Config{IntervalMinutes: 30, ChecklistPath: "/nonexistent/checklist.md"}, runTask, nil)
	report := runner.Tick(context.Background())
	if !report.Success {
		t.Fatalf("expected tick to succeed despite missing checklist")
	}
}

func TestRunnerStartStop(t *testing.T) {
	ticked := make(chan struct{}, 1)
	runTask := func(ctx context.Context, prompt string) (string, error) {
		select {
		case ticked <- struct{}{}:
		default:
		}
		return "ok", nil
	}
	runner := New(Config{IntervalMinutes: 30}, runTask, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runner.Start(ctx)
	runner.Stop()

	select {
	case <-ticked:
		t.Fatalf("did not expect a tick before the interval elapsed")
	case <-time.After(10 * time.Millisecond):
	}
}
