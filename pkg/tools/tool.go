// Package tools defines the tools the coding agent can call and their schemas.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
)

// Tool names exposed to the model.
const (
	ToolReadFile  = "read_file"
	ToolWriteFile = "write_file"
	ToolRunBash   = "run_bash"
	ToolDone      = "done"
)

// SignalDone is carried by a ProcessEffect when the model declares the work finished.
const SignalDone = "DONE"

// Property describes one JSON schema property of a tool input.
type Property struct {
	Type        string               `json:"type"`
	Description string               `json:"description,omitempty"`
	Enum        []string             `json:"enum,omitempty"`
	Items       *Property            `json:"items,omitempty"`
	Properties  map[string]*Property `json:"properties,omitempty"`
}

// InputSchema is the JSON schema of a tool's arguments.
type InputSchema struct {
	Type       string              `json:"type"`
	Properties map[string]Property `json:"properties"`
	Required   []string            `json:"required,omitempty"`
}

// ToolDefinition is what providers receive to advertise a tool to the model.
type ToolDefinition struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	InputSchema InputSchema `json:"input_schema"`
}

// ProcessEffect tells the tool loop to stop and hand Data to the caller.
type ProcessEffect struct {
	Signal string
	Data   map[string]any
}

// ExecResult is the outcome of a tool call. Content is fed back to the model verbatim.
type ExecResult struct {
	Content       string
	ProcessEffect *ProcessEffect
}

// Tool is a callable exposed to the model.
type Tool interface {
	Name() string
	Definition() ToolDefinition
	Exec(ctx context.Context, args map[string]any) (*ExecResult, error)
	PromptDocumentation() string
}

func jsonResult(payload map[string]any) (*ExecResult, error) {
	content, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}
	return &ExecResult{Content: string(content)}, nil
}

// errorResult reports a tool-level failure to the model as data.
func errorResult(msg string) (*ExecResult, error) {
	return jsonResult(map[string]any{
		"success": false,
		"error":   msg,
	})
}

func stringArg(args map[string]any, key string) (string, bool) {
	v, ok := args[key].(string)
	return v, ok
}

// intArgOrDefault extracts an integer argument, handling float64 from JSON as well as int types.
func intArgOrDefault(args map[string]any, key string, defaultVal int) int {
	v, exists := args[key]
	if !exists {
		return defaultVal
	}
	var n int
	switch val := v.(type) {
	case float64:
		n = int(val)
	case int:
		n = val
	case int64:
		n = int(val)
	default:
		return defaultVal
	}
	if n < 1 {
		return defaultVal
	}
	return n
}
