package filewatch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/haasonsaas/mama/internal/audit"
)

func TestWatcherFiresOnWrite(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "note.txt")
	if err := os.WriteFile(target, []byte("hello"), 0o644); err != nil {
		t.Fatalf("write target: %v", err)
	}

	fired := make(chan string, 4)
	runTask := func(ctx context.Context, prompt string) error {
		fired <- prompt
		return nil
	}

	store := audit.NewMemoryStore(0)
	w, err := New(runTask, store)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer w.Stop()

	if err := w.Add(Trigger{
		ID:       "note-change",
		Path:     target,
		Events:   map[Event]struct{}{EventChange: {}},
		Template: "{filename} was {event} at {path}",
	}); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	w.Start(context.Background())

	if err := os.WriteFile(target, []byte("updated"), 0o644); err != nil {
		t.Fatalf("rewrite target: %v", err)
	}

	select {
	case prompt := <-fired:
		if prompt != "note.txt was change at "+target {
			t.Fatalf("unexpected prompt: %q", prompt)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for trigger to fire")
	}
}

func TestTriggerMatchesAllEventsWhenUnset(t *testing.T) {
	tr := Trigger{ID: "any"}
	for _, ev := range []Event{EventAdd, EventChange, EventUnlink, EventRename} {
		if !tr.matches(ev) {
			t.Fatalf("expected trigger with no Events filter to match %s", ev)
		}
	}
}

func TestNormalizedEventsExpandsRename(t *testing.T) {
	got := normalizedEvents(fsnotify.Rename)
	want := map[Event]bool{EventAdd: true, EventUnlink: true, EventRename: true}
	if len(got) != len(want) {
		t.Fatalf("expected %d normalized events, got %d (%v)", len(want), len(got), got)
	}
	for _, ev := range got {
		if !want[ev] {
			t.Fatalf("unexpected normalized event %s", ev)
		}
	}
}

func TestTriggerRenderExpandsPlaceholders(t *testing.T) {
	tr := Trigger{Template: "{event} on {filename} ({path})"}
	got := tr.render(EventAdd, "/tmp/foo/bar.txt")
	want := "add on bar.txt (/tmp/foo/bar.txt)"
	if got != want {
		t.Fatalf("render() = %q, want %q", got, want)
	}
}
