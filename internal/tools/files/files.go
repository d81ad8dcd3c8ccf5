// Package files implements spec.md §4.5's filesystem tools
// (read_file/write_file/list_directory/search_files/move_file/edit_file) as
// thin agent.Tool adapters over the internal/sandbox/capfs capability: every
// call is routed through sandbox.Sandbox.Execute rather than touching
// os.Open/os.Create directly, so the permission and audit pipeline in
// spec.md §4.2 sees every file operation a tool performs.
package files

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/haasonsaas/mama/internal/agent"
	"github.com/haasonsaas/mama/internal/sandbox"
)

const capName = "filesystem"

func toolError(message string) *agent.ToolResult {
	return &agent.ToolResult{Content: message, IsError: true}
}

func fromResult(result sandbox.CapabilityResult) *agent.ToolResult {
	if !result.Success {
		return toolError(result.Error)
	}
	return &agent.ToolResult{Content: result.Output}
}

func schemaOf(required []string, props map[string]interface{}) json.RawMessage {
	schema := map[string]interface{}{
		"type":       "object",
		"properties": props,
		"required":   required,
	}
	payload, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}

func stringProp(desc string) map[string]interface{} {
	return map[string]interface{}{"type": "string", "description": desc}
}

// ReadFileTool implements read_file: read a file's content through the
// filesystem capability.
type ReadFileTool struct {
	sandbox     *sandbox.Sandbox
	requestedBy string
}

// NewReadFileTool creates the read_file tool over sb.
func NewReadFileTool(sb *sandbox.Sandbox) *ReadFileTool {
	return &ReadFileTool{sandbox: sb, requestedBy: "tool:read_file"}
}

func (t *ReadFileTool) Name() string        { return "read_file" }
func (t *ReadFileTool) Description() string { return "Read the contents of a file in the workspace." }
func (t *ReadFileTool) Schema() json.RawMessage {
	return schemaOf([]string{"path"}, map[string]interface{}{
		"path": stringProp("Path to the file, relative to the workspace."),
	})
}

func (t *ReadFileTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("Invalid parameters: %v", err)), nil
	}
	result := t.sandbox.Execute(ctx, capName, "read", map[string]any{"path": input.Path}, t.requestedBy)
	return fromResult(result), nil
}

// WriteFileTool implements write_file: overwrite a file's content through
// the filesystem capability.
type WriteFileTool struct {
	sandbox     *sandbox.Sandbox
	requestedBy string
}

// NewWriteFileTool creates the write_file tool over sb.
func NewWriteFileTool(sb *sandbox.Sandbox) *WriteFileTool {
	return &WriteFileTool{sandbox: sb, requestedBy: "tool:write_file"}
}

func (t *WriteFileTool) Name() string { return "write_file" }
func (t *WriteFileTool) Description() string {
	return "Write content to a file in the workspace, creating or overwriting it."
}
func (t *WriteFileTool) Schema() json.RawMessage {
	return schemaOf([]string{"path", "content"}, map[string]interface{}{
		"path":    stringProp("Path to write, relative to the workspace."),
		"content": stringProp("File contents to write."),
	})
}

func (t *WriteFileTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		Path    string `json:"path"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("Invalid parameters: %v", err)), nil
	}
	result := t.sandbox.Execute(ctx, capName, "write", map[string]any{"path": input.Path, "content": input.Content}, t.requestedBy)
	return fromResult(result), nil
}

// ListDirectoryTool implements list_directory: list a directory's entries
// through the filesystem capability.
type ListDirectoryTool struct {
	sandbox     *sandbox.Sandbox
	requestedBy string
}

// NewListDirectoryTool creates the list_directory tool over sb.
func NewListDirectoryTool(sb *sandbox.Sandbox) *ListDirectoryTool {
	return &ListDirectoryTool{sandbox: sb, requestedBy: "tool:list_directory"}
}

func (t *ListDirectoryTool) Name() string        { return "list_directory" }
func (t *ListDirectoryTool) Description() string { return "List the entries of a directory in the workspace." }
func (t *ListDirectoryTool) Schema() json.RawMessage {
	return schemaOf([]string{"path"}, map[string]interface{}{
		"path": stringProp("Directory to list, relative to the workspace."),
	})
}

func (t *ListDirectoryTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("Invalid parameters: %v", err)), nil
	}
	result := t.sandbox.Execute(ctx, capName, "list", map[string]any{"path": input.Path}, t.requestedBy)
	return fromResult(result), nil
}

// SearchFilesTool implements search_files: glob-match filenames under a
// directory through the filesystem capability.
type SearchFilesTool struct {
	sandbox     *sandbox.Sandbox
	requestedBy string
}

// NewSearchFilesTool creates the search_files tool over sb.
func NewSearchFilesTool(sb *sandbox.Sandbox) *SearchFilesTool {
	return &SearchFilesTool{sandbox: sb, requestedBy: "tool:search_files"}
}

func (t *SearchFilesTool) Name() string { return "search_files" }
func (t *SearchFilesTool) Description() string {
	return "Search for files under a directory whose name matches a glob pattern."
}
func (t *SearchFilesTool) Schema() json.RawMessage {
	return schemaOf([]string{"path", "pattern"}, map[string]interface{}{
		"path":    stringProp("Directory to search, relative to the workspace."),
		"pattern": stringProp("Glob pattern to match file names against, e.g. \"*.go\"."),
	})
}

func (t *SearchFilesTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		Path    string `json:"path"`
		Pattern string `json:"pattern"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("Invalid parameters: %v", err)), nil
	}
	result := t.sandbox.Execute(ctx, capName, "search", map[string]any{"path": input.Path, "pattern": input.Pattern}, t.requestedBy)
	return fromResult(result), nil
}

// MoveFileTool implements move_file: rename or relocate a file within the
// workspace through the filesystem capability.
type MoveFileTool struct {
	sandbox     *sandbox.Sandbox
	requestedBy string
}

// NewMoveFileTool creates the move_file tool over sb.
func NewMoveFileTool(sb *sandbox.Sandbox) *MoveFileTool {
	return &MoveFileTool{sandbox: sb, requestedBy: "tool:move_file"}
}

func (t *MoveFileTool) Name() string        { return "move_file" }
func (t *MoveFileTool) Description() string { return "Move or rename a file within the workspace." }
func (t *MoveFileTool) Schema() json.RawMessage {
	return schemaOf([]string{"source", "destination"}, map[string]interface{}{
		"source":      stringProp("Current path, relative to the workspace."),
		"destination": stringProp("Target path, relative to the workspace."),
	})
}

func (t *MoveFileTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		Source      string `json:"source"`
		Destination string `json:"destination"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("Invalid parameters: %v", err)), nil
	}
	result := t.sandbox.Execute(ctx, capName, "move", map[string]any{"source": input.Source, "destination": input.Destination}, t.requestedBy)
	return fromResult(result), nil
}

// EditFileTool implements SPEC_FULL.md's edit_file expansion: one or more
// find/replace edits applied to a file. It composes the filesystem
// capability's read and write actions rather than adding a new capability
// action, so every edit still passes through the same permission checks as
// an equivalent manual read_file + write_file pair.
type EditFileTool struct {
	sandbox     *sandbox.Sandbox
	requestedBy string
}

// NewEditFileTool creates the edit_file tool over sb.
func NewEditFileTool(sb *sandbox.Sandbox) *EditFileTool {
	return &EditFileTool{sandbox: sb, requestedBy: "tool:edit_file"}
}

func (t *EditFileTool) Name() string { return "edit_file" }
func (t *EditFileTool) Description() string {
	return "Apply one or more find/replace edits to a file in the workspace."
}
func (t *EditFileTool) Schema() json.RawMessage {
	return schemaOf([]string{"path", "edits"}, map[string]interface{}{
		"path": stringProp("Path to edit, relative to the workspace."),
		"edits": map[string]interface{}{
			"type": "array",
			"items": map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"old_text":    stringProp("Text to replace."),
					"new_text":    stringProp("Replacement text."),
					"replace_all": map[string]interface{}{"type": "boolean", "description": "Replace all occurrences (default: false)."},
				},
				"required": []string{"old_text", "new_text"},
			},
		},
	})
}

func (t *EditFileTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		Path  string `json:"path"`
		Edits []struct {
			OldText    string `json:"old_text"`
			NewText    string `json:"new_text"`
			ReplaceAll bool   `json:"replace_all"`
		} `json:"edits"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("Invalid parameters: %v", err)), nil
	}
	if len(input.Edits) == 0 {
		return toolError("edits are required"), nil
	}

	readResult := t.sandbox.Execute(ctx, capName, "read", map[string]any{"path": input.Path}, t.requestedBy)
	if !readResult.Success {
		return toolError(readResult.Error), nil
	}

	content := readResult.Output
	replacements := 0
	for _, edit := range input.Edits {
		if edit.OldText == "" {
			return toolError("old_text is required"), nil
		}
		if !strings.Contains(content, edit.OldText) {
			return toolError("old_text not found"), nil
		}
		if edit.ReplaceAll {
			replacements += strings.Count(content, edit.OldText)
			content = strings.ReplaceAll(content, edit.OldText, edit.NewText)
		} else {
			content = strings.Replace(content, edit.OldText, edit.NewText, 1)
			replacements++
		}
	}

	writeResult := t.sandbox.Execute(ctx, capName, "write", map[string]any{"path": input.Path, "content": content}, t.requestedBy)
	if !writeResult.Success {
		return toolError(writeResult.Error), nil
	}
	return &agent.ToolResult{Content: fmt.Sprintf("applied %d replacement(s) to %s", replacements, input.Path)}, nil
}
