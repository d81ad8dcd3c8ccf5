package exec

import (
	"context"
	"encoding/json"
	"runtime"
	"testing"

	"github.com/haasonsaas/mama/internal/sandbox"
	"github.com/haasonsaas/mama/internal/sandbox/capshell"
)

func newTestSandbox(t *testing.T) *sandbox.Sandbox {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell capability tests assume a POSIX shell")
	}
	sh := capshell.New(capshell.Policy{})
	sb := sandbox.New(nil)
	sb.Register(sh)
	return sb
}

func TestExecuteCommandToolRunsCommand(t *testing.T) {
	sb := newTestSandbox(t)
	tool := NewExecuteCommandTool(sb)

	result, err := tool.Execute(context.Background(), json.RawMessage(`{"command":"echo hi"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error result: %+v", result)
	}
}

func TestExecuteCommandToolRequiresCommand(t *testing.T) {
	sb := newTestSandbox(t)
	tool := NewExecuteCommandTool(sb)

	result, err := tool.Execute(context.Background(), json.RawMessage(`{"command":""}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected an empty command to be rejected")
	}
}

func TestExecuteCommandToolInvalidParameters(t *testing.T) {
	sb := newTestSandbox(t)
	tool := NewExecuteCommandTool(sb)

	result, err := tool.Execute(context.Background(), json.RawMessage(`not json`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected invalid JSON to be rejected")
	}
}
