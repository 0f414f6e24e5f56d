package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
)

// WriteFileTool creates or overwrites a file in the workspace.
type WriteFileTool struct {
	workspaceRoot string
	writes        atomic.Int64
}

// NewWriteFileTool creates a new write_file tool.
func NewWriteFileTool(workspaceRoot string) *WriteFileTool {
	return &WriteFileTool{workspaceRoot: workspaceRoot}
}

// Name returns the tool name.
func (t *WriteFileTool) Name() string {
	return ToolWriteFile
}

// Writes returns how many successful writes this tool has performed.
func (t *WriteFileTool) Writes() int {
	return int(t.writes.Load())
}

// PromptDocumentation returns formatted tool documentation for prompts.
func (t *WriteFileTool) PromptDocumentation() string {
	return `- **write_file** - Create or overwrite a file with the given content
  - Parameters:
    - path (string, REQUIRED): path relative to the repository root
    - content (string, REQUIRED): complete new file content
  - Parent directories are created as needed`
}

// Definition returns the tool definition for LLM.
func (t *WriteFileTool) Definition() ToolDefinition {
	return ToolDefinition{
		Name:        ToolWriteFile,
		Description: "Create or overwrite a file in the repository with the complete new content.",
		InputSchema: InputSchema{
			Type: "object",
			Properties: map[string]Property{
				"path": {
					Type:        "string",
					Description: "Path relative to the repository root",
				},
				"content": {
					Type:        "string",
					Description: "Complete file content to write",
				},
			},
			Required: []string{"path", "content"},
		},
	}
}

// Exec executes the tool with the given arguments.
func (t *WriteFileTool) Exec(_ context.Context, args map[string]any) (*ExecResult, error) {
	path, ok := stringArg(args, "path")
	if !ok || path == "" {
		return errorResult("path is required and must be a string")
	}
	content, ok := stringArg(args, "content")
	if !ok {
		return errorResult("content is required and must be a string")
	}

	full, err := resolveInWorkspace(t.workspaceRoot, path)
	if err != nil {
		return errorResult(err.Error())
	}

	mode := os.FileMode(0o644)
	if info, statErr := os.Stat(full); statErr == nil {
		if info.IsDir() {
			return errorResult(fmt.Sprintf("%s is a directory", path))
		}
		mode = info.Mode().Perm()
	}

	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return errorResult(fmt.Sprintf("failed to create parent directory: %v", err))
	}
	if err := os.WriteFile(full, []byte(content), mode); err != nil {
		return errorResult(fmt.Sprintf("failed to write %s: %v", path, err))
	}
	t.writes.Add(1)

	return jsonResult(map[string]any{
		"success":       true,
		"path":          path,
		"bytes_written": len(content),
	})
}
