package tools

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
)

const (
	defaultReadLines   = 2000
	maxLineLength      = 2000
	defaultStartOffset = 1 // 1-based line numbering
)

// ReadFileTool reads files from the agent's workspace.
type ReadFileTool struct {
	workspaceRoot string
	maxSizeBytes  int
}

// NewReadFileTool creates a new read_file tool. maxSizeBytes caps the returned content.
func NewReadFileTool(workspaceRoot string, maxSizeBytes int) *ReadFileTool {
	if maxSizeBytes <= 0 {
		maxSizeBytes = 32768
	}
	return &ReadFileTool{workspaceRoot: workspaceRoot, maxSizeBytes: maxSizeBytes}
}

// Name returns the tool name.
func (t *ReadFileTool) Name() string {
	return ToolReadFile
}

// PromptDocumentation returns formatted tool documentation for prompts.
func (t *ReadFileTool) PromptDocumentation() string {
	return `- **read_file** - Read contents of a file from the repository
  - Parameters:
    - path (string, REQUIRED): path relative to the repository root
    - offset (integer, optional): line number to start from (1-based, default: 1)
    - limit (integer, optional): number of lines to read (default: 2000)
  - Output uses numbered lines (cat -n format)`
}

// Definition returns the tool definition for LLM.
func (t *ReadFileTool) Definition() ToolDefinition {
	return ToolDefinition{
		Name:        ToolReadFile,
		Description: "Read a file from the repository. Output uses numbered lines. For large files, use offset and limit.",
		InputSchema: InputSchema{
			Type: "object",
			Properties: map[string]Property{
				"path": {
					Type:        "string",
					Description: "Path relative to the repository root",
				},
				"offset": {
					Type:        "integer",
					Description: "Line number to start reading from (1-based). Defaults to 1.",
				},
				"limit": {
					Type:        "integer",
					Description: "Number of lines to read. Defaults to 2000.",
				},
			},
			Required: []string{"path"},
		},
	}
}

// Exec executes the tool with the given arguments.
func (t *ReadFileTool) Exec(_ context.Context, args map[string]any) (*ExecResult, error) {
	path, ok := stringArg(args, "path")
	if !ok || path == "" {
		return errorResult("path is required and must be a string")
	}
	offset := intArgOrDefault(args, "offset", defaultStartOffset)
	limit := intArgOrDefault(args, "limit", defaultReadLines)

	full, err := resolveInWorkspace(t.workspaceRoot, path)
	if err != nil {
		return errorResult(err.Error())
	}

	f, err := os.Open(full)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return errorResult(fmt.Sprintf("file not found: %s", path))
		}
		return errorResult(fmt.Sprintf("file not readable: %s (%v)", path, err))
	}
	defer func() { _ = f.Close() }()

	if info, statErr := f.Stat(); statErr == nil && info.IsDir() {
		return errorResult(fmt.Sprintf("%s is a directory; use run_bash with ls to list it", path))
	}

	var (
		out        strings.Builder
		totalLines int
		truncated  bool
	)
	endLine := offset + limit - 1

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		totalLines++
		if totalLines < offset || totalLines > endLine || truncated {
			continue
		}
		line := scanner.Text()
		if len(line) > maxLineLength {
			line = line[:maxLineLength]
		}
		entry := fmt.Sprintf("%6d\t%s\n", totalLines, line)
		if out.Len()+len(entry) > t.maxSizeBytes {
			truncated = true
			continue
		}
		out.WriteString(entry)
	}
	if err := scanner.Err(); err != nil {
		return errorResult(fmt.Sprintf("failed reading %s: %v", path, err))
	}
	if totalLines > endLine {
		truncated = true
	}

	return jsonResult(map[string]any{
		"success":     true,
		"content":     out.String(),
		"path":        path,
		"truncated":   truncated,
		"offset":      offset,
		"limit":       limit,
		"total_lines": totalLines,
	})
}
