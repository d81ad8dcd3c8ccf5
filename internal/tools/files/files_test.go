package files

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/haasonsaas/mama/internal/sandbox"
	"github.com/haasonsaas/mama/internal/sandbox/capfs"
)

func newTestSandbox(t *testing.T) (*sandbox.Sandbox, string) {
	t.Helper()
	root := t.TempDir()
	fs, err := capfs.New(capfs.Policy{WorkspaceRoot: root})
	if err != nil {
		t.Fatalf("capfs.New: %v", err)
	}
	sb := sandbox.New(nil)
	sb.Register(fs)
	return sb, root
}

func TestReadFileToolReadsWorkspaceFile(t *testing.T) {
	sb, root := newTestSandbox(t)
	if err := os.WriteFile(filepath.Join(root, "hello.txt"), []byte("hi there"), 0o644); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	tool := NewReadFileTool(sb)
	result, err := tool.Execute(context.Background(), json.RawMessage(`{"path":"hello.txt"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError || result.Content != "hi there" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestReadFileToolDeniesEscape(t *testing.T) {
	sb, _ := newTestSandbox(t)
	tool := NewReadFileTool(sb)
	result, err := tool.Execute(context.Background(), json.RawMessage(`{"path":"../../etc/passwd"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected a path escape to be denied")
	}
}

func TestWriteFileToolCreatesFile(t *testing.T) {
	sb, root := newTestSandbox(t)
	tool := NewWriteFileTool(sb)
	result, err := tool.Execute(context.Background(), json.RawMessage(`{"path":"out.txt","content":"written"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error result: %+v", result)
	}
	data, err := os.ReadFile(filepath.Join(root, "out.txt"))
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(data) != "written" {
		t.Fatalf("content = %q", data)
	}
}

func TestListDirectoryToolListsEntries(t *testing.T) {
	sb, root := newTestSandbox(t)
	for _, name := range []string{"a.txt", "b.txt"} {
		if err := os.WriteFile(filepath.Join(root, name), []byte("x"), 0o644); err != nil {
			t.Fatalf("seed file: %v", err)
		}
	}

	tool := NewListDirectoryTool(sb)
	result, err := tool.Execute(context.Background(), json.RawMessage(`{"path":"."}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error result: %+v", result)
	}
	if result.Content != "a.txt\nb.txt" {
		t.Fatalf("Content = %q", result.Content)
	}
}

func TestSearchFilesToolMatchesPattern(t *testing.T) {
	sb, root := newTestSandbox(t)
	if err := os.WriteFile(filepath.Join(root, "main.go"), []byte("x"), 0o644); err != nil {
		t.Fatalf("seed file: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "README.md"), []byte("x"), 0o644); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	tool := NewSearchFilesTool(sb)
	result, err := tool.Execute(context.Background(), json.RawMessage(`{"path":".","pattern":"*.go"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error result: %+v", result)
	}
	if filepath.Base(result.Content) != "main.go" {
		t.Fatalf("Content = %q", result.Content)
	}
}

func TestMoveFileToolRelocatesFile(t *testing.T) {
	sb, root := newTestSandbox(t)
	if err := os.WriteFile(filepath.Join(root, "from.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	tool := NewMoveFileTool(sb)
	result, err := tool.Execute(context.Background(), json.RawMessage(`{"source":"from.txt","destination":"to.txt"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error result: %+v", result)
	}
	if _, err := os.Stat(filepath.Join(root, "to.txt")); err != nil {
		t.Fatalf("expected moved file to exist: %v", err)
	}
}

func TestEditFileToolReplacesText(t *testing.T) {
	sb, root := newTestSandbox(t)
	if err := os.WriteFile(filepath.Join(root, "note.txt"), []byte("hello world"), 0o644); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	tool := NewEditFileTool(sb)
	params := json.RawMessage(`{"path":"note.txt","edits":[{"old_text":"world","new_text":"mama"}]}`)
	result, err := tool.Execute(context.Background(), params)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error result: %+v", result)
	}
	data, err := os.ReadFile(filepath.Join(root, "note.txt"))
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(data) != "hello mama" {
		t.Fatalf("content = %q", data)
	}
}

func TestEditFileToolErrorsWhenTextMissing(t *testing.T) {
	sb, root := newTestSandbox(t)
	if err := os.WriteFile(filepath.Join(root, "note.txt"), []byte("hello world"), 0o644); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	tool := NewEditFileTool(sb)
	params := json.RawMessage(`{"path":"note.txt","edits":[{"old_text":"nope","new_text":"mama"}]}`)
	result, err := tool.Execute(context.Background(), params)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected an error when old_text is not found")
	}
}
