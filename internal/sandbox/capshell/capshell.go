package capshell

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/haasonsaas/mama/internal/redact"
	"github.com/haasonsaas/mama/internal/sandbox"
)

const (
	defaultTimeout = 30 * time.Second
	maxTimeout     = 300 * time.Second
	outputCap      = 1 << 20 // 1 MiB
)

// Capability implements the shell capability described in spec.md §4.2.2.
type Capability struct {
	policy Policy
}

// New constructs a shell Capability from the given safe/ask/denied policy.
func New(policy Policy) *Capability {
	return &Capability{policy: policy}
}

func (c *Capability) Name() string { return "shell" }

func (c *Capability) CheckPermission(_ context.Context, action, resource string) sandbox.PermissionDecision {
	if action != "execute" {
		return sandbox.PermissionDecision{Level: sandbox.LevelDenied, Reason: "unsupported action", Resource: resource}
	}
	level, reason := Classify(resource, c.policy)
	switch level {
	case "denied":
		return sandbox.PermissionDecision{Level: sandbox.LevelDenied, Reason: reason, Resource: resource}
	case "user-approved":
		return sandbox.PermissionDecision{Level: sandbox.LevelAsk, Reason: reason, Resource: resource}
	default:
		return sandbox.PermissionDecision{Level: sandbox.LevelAuto, Resource: resource}
	}
}

func (c *Capability) Execute(ctx context.Context, action string, params map[string]any) sandbox.CapabilityResult {
	if action != "execute" {
		return sandbox.CapabilityResult{Success: false, Error: "unsupported action"}
	}
	command, _ := params["command"].(string)
	if command == "" {
		return sandbox.CapabilityResult{Success: false, Error: "command is required"}
	}

	timeout := defaultTimeout
	if secs, ok := params["timeoutSeconds"].(float64); ok && secs > 0 {
		timeout = time.Duration(secs) * time.Second
	}
	if timeout > maxTimeout {
		timeout = maxTimeout
	}

	var dir string
	if d, ok := params["workingDirectory"].(string); ok && d != "" {
		resolved, err := filepath.EvalSymlinks(d)
		if err != nil {
			return sandbox.CapabilityResult{Success: false, Error: fmt.Sprintf("working directory does not exist: %v", err)}
		}
		dir = resolved
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "/bin/sh", "-c", command)
	if dir != "" {
		cmd.Dir = dir
	}

	var stdout, stderr capBuffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	out := redact.String(stdout.String())
	errOut := redact.String(stderr.String())

	if runCtx.Err() == context.DeadlineExceeded {
		return sandbox.CapabilityResult{Success: false, Output: out, Error: "command timed out"}
	}
	if err != nil {
		combined := errOut
		if combined == "" {
			combined = err.Error()
		}
		return sandbox.CapabilityResult{Success: false, Output: out, Error: combined}
	}
	return sandbox.CapabilityResult{Success: true, Output: out}
}

// capBuffer is a bytes.Buffer that silently stops accepting writes once it
// reaches outputCap, so a runaway command can't exhaust memory.
type capBuffer struct {
	bytes.Buffer
}

func (b *capBuffer) Write(p []byte) (int, error) {
	remaining := outputCap - b.Len()
	if remaining <= 0 {
		return len(p), nil
	}
	if len(p) > remaining {
		p = p[:remaining]
	}
	return b.Buffer.Write(p)
}
