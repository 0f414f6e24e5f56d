package tools

import (
	"context"
	"strings"
)

// DoneTool lets the model declare the plan implemented.
type DoneTool struct{}

// NewDoneTool creates a new done tool.
func NewDoneTool() *DoneTool {
	return &DoneTool{}
}

// Name returns the tool name.
func (t *DoneTool) Name() string {
	return ToolDone
}

// PromptDocumentation returns formatted tool documentation for prompts.
func (t *DoneTool) PromptDocumentation() string {
	return `- **done** - Signal that the plan is fully implemented
  - Parameters:
    - summary (string, REQUIRED): one paragraph describing what changed, used in the pull request`
}

// Definition returns the tool definition for LLM.
func (t *DoneTool) Definition() ToolDefinition {
	return ToolDefinition{
		Name:        ToolDone,
		Description: "Call when every step of the plan is implemented. Do not call before making changes.",
		InputSchema: InputSchema{
			Type: "object",
			Properties: map[string]Property{
				"summary": {
					Type:        "string",
					Description: "Short description of the changes made",
				},
			},
			Required: []string{"summary"},
		},
	}
}

// Exec returns a DONE effect carrying the summary.
func (t *DoneTool) Exec(_ context.Context, args map[string]any) (*ExecResult, error) {
	summary, _ := stringArg(args, "summary")
	summary = strings.TrimSpace(summary)
	if summary == "" {
		summary = "Implemented the approved plan."
	}
	return &ExecResult{
		Content: `{"success":true,"message":"work submitted"}`,
		ProcessEffect: &ProcessEffect{
			Signal: SignalDone,
			Data:   map[string]any{"summary": summary},
		},
	}, nil
}
