package soul

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/haasonsaas/mama/pkg/types"
)

func TestLoadMissingFileScaffolds(t *testing.T) {
	doc, err := Load(filepath.Join(t.TempDir(), "missing.md"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(doc.Order) != len(canonicalSections) {
		t.Fatalf("expected scaffolded canonical sections, got %d", len(doc.Order))
	}
}

func TestRegenerateFromMemoriesPreservesOtherSections(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "soul.md")
	initial := "## Identity\nI am mama.\n\n## Personality\nWarm and direct.\n\n## Boundaries\nNever share secrets.\n"
	if err := os.WriteFile(path, []byte(initial), 0o644); err != nil {
		t.Fatalf("write initial soul: %v", err)
	}

	memories := []*types.ConsolidatedMemory{
		{ID: "1", Category: types.CategoryFact, Content: "lives in Seattle", Active: true, Confidence: 0.9},
		{ID: "2", Category: types.CategoryGoal, Content: "ship the Q3 report", Active: true, Confidence: 0.8},
		{ID: "3", Category: types.CategoryPreference, Content: "prefers dark mode", Active: true, Confidence: 0.7},
		{ID: "4", Category: types.CategoryFact, Content: "inactive fact", Active: false, Confidence: 0.9},
	}

	if err := RegenerateFromMemories(path, memories); err != nil {
		t.Fatalf("RegenerateFromMemories() error = %v", err)
	}

	out, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read regenerated soul: %v", err)
	}
	content := string(out)

	if !strings.Contains(content, "I am mama.") {
		t.Fatalf("expected Identity section preserved, got:\n%s", content)
	}
	if !strings.Contains(content, "Never share secrets.") {
		t.Fatalf("expected Boundaries section preserved, got:\n%s", content)
	}
	if !strings.Contains(content, "lives in Seattle") {
		t.Fatalf("expected Knowledge section to include fact, got:\n%s", content)
	}
	if !strings.Contains(content, "ship the Q3 report") {
		t.Fatalf("expected Active Goals section to include goal, got:\n%s", content)
	}
	if strings.Contains(content, "inactive fact") {
		t.Fatalf("expected inactive memory to be excluded, got:\n%s", content)
	}
}
