package webhook

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/haasonsaas/mama/internal/audit"
)

func TestHandleFiresRunTaskAndReturns202(t *testing.T) {
	fired := make(chan string, 1)
	runTask := func(ctx context.Context, prompt string) error {
		fired <- prompt
		return nil
	}

	store := audit.NewMemoryStore(0)
	s := New(runTask, store)
	s.AddHook(Hook{ID: "deploy", Token: "secret", Template: "deploy event: {payload}"})

	req := httptest.NewRequest(http.MethodPost, "/hooks/deploy", bytes.NewBufferString(`{"ref":"main"}`))
	req.Header.Set("Authorization", "Bearer secret")
	rec := httptest.NewRecorder()

	s.handle(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}

	select {
	case prompt := <-fired:
		if prompt != `deploy event: {"ref":"main"}` {
			t.Fatalf("unexpected prompt: %q", prompt)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for runTask")
	}

	time.Sleep(10 * time.Millisecond)
	entries, err := store.GetRecent(context.Background(), 10)
	if err != nil {
		t.Fatalf("GetRecent() error = %v", err)
	}
	if len(entries) != 1 || entries[0].Capability != "triggers.webhook" {
		t.Fatalf("unexpected audit entries: %+v", entries)
	}
}

func TestHandleRejectsWrongToken(t *testing.T) {
	runTask := func(ctx context.Context, prompt string) error { return nil }
	s := New(runTask, nil)
	s.AddHook(Hook{ID: "deploy", Token: "secret", Template: "{payload}"})

	req := httptest.NewRequest(http.MethodPost, "/hooks/deploy", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec := httptest.NewRecorder()

	s.handle(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestHandleUnknownHookReturns404(t *testing.T) {
	runTask := func(ctx context.Context, prompt string) error { return nil }
	s := New(runTask, nil)

	req := httptest.NewRequest(http.MethodPost, "/hooks/unknown", nil)
	rec := httptest.NewRecorder()

	s.handle(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestHandleRejectsNonPost(t *testing.T) {
	runTask := func(ctx context.Context, prompt string) error { return nil }
	s := New(runTask, nil)
	s.AddHook(Hook{ID: "deploy", Token: "secret", Template: "{payload}"})

	req := httptest.NewRequest(http.MethodGet, "/hooks/deploy", nil)
	rec := httptest.NewRecorder()

	s.handle(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for non-POST, got %d", rec.Code)
	}
}
