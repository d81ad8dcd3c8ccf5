// Package capfs implements the filesystem capability described in
// spec.md §4.2.1. Path resolution and traversal checks are grounded on
// internal/tools/files.Resolver, generalized to the full allow/deny rule
// set and per-action decision levels the spec requires.
package capfs

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/haasonsaas/mama/internal/sandbox"
)

// Action is one of the filesystem capability's supported operations.
type Action string

const (
	ActionRead   Action = "read"
	ActionWrite  Action = "write"
	ActionList   Action = "list"
	ActionDelete Action = "delete"
	ActionSearch Action = "search"
	ActionMove   Action = "move"
)

// AllowRule grants a decision level to a set of actions on paths matching a
// glob, relative to the workspace root.
type AllowRule struct {
	Glob    string
	Actions []Action
	Level   sandbox.DecisionLevel
}

// Policy configures a Capability's workspace root and path rules.
type Policy struct {
	WorkspaceRoot string
	AllowRules    []AllowRule
	DeniedGlobs   []string
}

const (
	maxReadBytes    = 256 * 1024
	maxSearchResult = 5000
)

// Capability implements the sandbox.Capability interface for filesystem
// access.
type Capability struct {
	policy Policy
	root   string
}

// New constructs a filesystem Capability, resolving the workspace root to an
// absolute path immediately so later checks are cheap.
func New(policy Policy) (*Capability, error) {
	root, err := filepath.Abs(expandHome(policy.WorkspaceRoot))
	if err != nil {
		return nil, fmt.Errorf("resolve workspace root: %w", err)
	}
	return &Capability{policy: policy, root: root}, nil
}

func (c *Capability) Name() string { return "filesystem" }

func expandHome(path string) string {
	if path == "~" {
		home, err := os.UserHomeDir()
		if err == nil {
			return home
		}
		return path
	}
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}

// resolve implements spec.md §4.2.1 steps 1-3: home expansion, absolute
// resolution, symlink resolution (tolerating a non-existent leaf by
// resolving its parent), traversal and NUL-byte detection.
func (c *Capability) resolve(raw string) (string, error) {
	if strings.ContainsRune(raw, 0) {
		return "", fmt.Errorf("path contains NUL byte")
	}

	expanded := expandHome(raw)
	abs := expanded
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(c.root, abs)
	}
	abs = filepath.Clean(abs)

	if strings.Contains(raw, "..") {
		prefixEnd := strings.Index(raw, "..")
		lexicalParent := filepath.Clean(filepath.Join(c.root, raw[:prefixEnd]))
		if !strings.HasPrefix(abs, lexicalParent) {
			return "", fmt.Errorf("path traversal detected")
		}
	}

	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		if os.IsNotExist(err) {
			parent, resolveErr := filepath.EvalSymlinks(filepath.Dir(abs))
			if resolveErr != nil {
				return "", fmt.Errorf("resolve parent: %w", resolveErr)
			}
			return filepath.Join(parent, filepath.Base(abs)), nil
		}
		return "", fmt.Errorf("resolve path: %w", err)
	}
	return resolved, nil
}

func (c *Capability) decide(action Action, resolved string) sandbox.PermissionDecision {
	rel, err := filepath.Rel(c.root, resolved)
	if err != nil {
		return sandbox.PermissionDecision{Level: sandbox.LevelDenied, Reason: "unresolvable path"}
	}
	relSlash := filepath.ToSlash(rel)

	for _, glob := range c.policy.DeniedGlobs {
		if matched, _ := filepath.Match(glob, relSlash); matched {
			return sandbox.PermissionDecision{Level: sandbox.LevelDenied, Reason: "path matches a denied rule"}
		}
	}

	if !strings.HasPrefix(rel, "..") {
		isWorkspace := rel == "." || !strings.HasPrefix(relSlash, "../")
		if isWorkspace {
			return sandbox.PermissionDecision{Level: sandbox.LevelAuto}
		}
	}

	for _, rule := range c.policy.AllowRules {
		if !actionAllowed(rule.Actions, action) {
			continue
		}
		if matched, _ := filepath.Match(rule.Glob, relSlash); matched {
			switch rule.Level {
			case sandbox.LevelAuto:
				return sandbox.PermissionDecision{Level: sandbox.LevelAuto}
			case sandbox.LevelAsk:
				return sandbox.PermissionDecision{Level: sandbox.LevelAsk}
			default:
				return sandbox.PermissionDecision{Level: sandbox.LevelDenied, Reason: "path matches a deny rule"}
			}
		}
	}

	return sandbox.PermissionDecision{Level: sandbox.LevelDenied, Reason: "no matching allow rule"}
}

func actionAllowed(actions []Action, action Action) bool {
	for _, a := range actions {
		if a == action {
			return true
		}
	}
	return false
}

func (c *Capability) CheckPermission(_ context.Context, action, resource string) sandbox.PermissionDecision {
	resolved, err := c.resolve(resource)
	if err != nil {
		return sandbox.PermissionDecision{Level: sandbox.LevelDenied, Reason: err.Error(), Resource: resource}
	}
	d := c.decide(Action(action), resolved)
	d.Resource = resource
	return d
}

func (c *Capability) Execute(_ context.Context, action string, params map[string]any) sandbox.CapabilityResult {
	switch Action(action) {
	case ActionRead:
		return c.execRead(params)
	case ActionWrite:
		return c.execWrite(params)
	case ActionList:
		return c.execList(params)
	case ActionDelete:
		return c.execDelete(params)
	case ActionSearch:
		return c.execSearch(params)
	case ActionMove:
		return c.execMove(params)
	default:
		return sandbox.CapabilityResult{Success: false, Error: "unsupported action"}
	}
}

func (c *Capability) execRead(params map[string]any) sandbox.CapabilityResult {
	path, _ := params["path"].(string)
	resolved, err := c.resolve(path)
	if err != nil {
		return sandbox.CapabilityResult{Success: false, Error: err.Error()}
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return sandbox.CapabilityResult{Success: false, Error: err.Error()}
	}
	if info.Size() > maxReadBytes {
		return sandbox.CapabilityResult{Success: false, Error: "file exceeds maximum read size of 256 KiB"}
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return sandbox.CapabilityResult{Success: false, Error: err.Error()}
	}
	return sandbox.CapabilityResult{Success: true, Output: string(data)}
}

func (c *Capability) execWrite(params map[string]any) sandbox.CapabilityResult {
	path, _ := params["path"].(string)
	content, _ := params["content"].(string)
	resolved, err := c.resolve(path)
	if err != nil {
		return sandbox.CapabilityResult{Success: false, Error: err.Error()}
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return sandbox.CapabilityResult{Success: false, Error: err.Error()}
	}
	if err := os.WriteFile(resolved, []byte(content), 0o644); err != nil {
		return sandbox.CapabilityResult{Success: false, Error: err.Error()}
	}
	return sandbox.CapabilityResult{Success: true, Output: fmt.Sprintf("wrote %d bytes", len(content))}
}

func (c *Capability) execList(params map[string]any) sandbox.CapabilityResult {
	path, _ := params["path"].(string)
	resolved, err := c.resolve(path)
	if err != nil {
		return sandbox.CapabilityResult{Success: false, Error: err.Error()}
	}
	entries, err := os.ReadDir(resolved)
	if err != nil {
		return sandbox.CapabilityResult{Success: false, Error: err.Error()}
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return sandbox.CapabilityResult{Success: true, Output: strings.Join(names, "\n")}
}

func (c *Capability) execDelete(params map[string]any) sandbox.CapabilityResult {
	path, _ := params["path"].(string)
	resolved, err := c.resolve(path)
	if err != nil {
		return sandbox.CapabilityResult{Success: false, Error: err.Error()}
	}
	if err := os.Remove(resolved); err != nil {
		return sandbox.CapabilityResult{Success: false, Error: err.Error()}
	}
	return sandbox.CapabilityResult{Success: true}
}

func (c *Capability) execSearch(params map[string]any) sandbox.CapabilityResult {
	path, _ := params["path"].(string)
	pattern, _ := params["pattern"].(string)
	root, err := c.resolve(path)
	if err != nil {
		return sandbox.CapabilityResult{Success: false, Error: err.Error()}
	}

	var results []string
	truncated := false
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.Type()&fs.ModeSymlink != 0 {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if matched, _ := filepath.Match(pattern, d.Name()); matched {
			if len(results) >= maxSearchResult {
				truncated = true
				return filepath.SkipAll
			}
			results = append(results, p)
		}
		return nil
	})
	if err != nil && err != filepath.SkipAll {
		return sandbox.CapabilityResult{Success: false, Error: err.Error()}
	}
	out := strings.Join(results, "\n")
	if truncated {
		out += "\n[results truncated]"
	}
	return sandbox.CapabilityResult{Success: true, Output: out}
}

func (c *Capability) execMove(params map[string]any) sandbox.CapabilityResult {
	src, _ := params["source"].(string)
	dst, _ := params["destination"].(string)
	srcResolved, err := c.resolve(src)
	if err != nil {
		return sandbox.CapabilityResult{Success: false, Error: err.Error()}
	}
	dstResolved, err := c.resolve(dst)
	if err != nil {
		return sandbox.CapabilityResult{Success: false, Error: err.Error()}
	}
	if err := os.MkdirAll(filepath.Dir(dstResolved), 0o755); err != nil {
		return sandbox.CapabilityResult{Success: false, Error: err.Error()}
	}
	if err := os.Rename(srcResolved, dstResolved); err != nil {
		return sandbox.CapabilityResult{Success: false, Error: err.Error()}
	}
	return sandbox.CapabilityResult{Success: true}
}
