// Package anthropic provides the Anthropic Claude implementation of llm.LLMClient.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"ticketsmith/pkg/agent/llm"
	"ticketsmith/pkg/agent/llmerrors"
	"ticketsmith/pkg/tools"
)

// ClaudeClient wraps the Anthropic API client to implement llm.LLMClient.
//
//nolint:govet // Simple client struct, logical grouping preferred
type ClaudeClient struct {
	client anthropic.Client
	model  anthropic.Model
}

// NewClaudeClientWithModel creates a raw Claude client. Middleware is applied by the factory.
func NewClaudeClientWithModel(apiKey, model string, opts ...option.RequestOption) llm.LLMClient {
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &ClaudeClient{
		client: anthropic.NewClient(opts...),
		model:  anthropic.Model(model),
	}
}

// ensureAlternation prepares messages for the Messages API:
//  1. system messages move to the top-level system parameter
//  2. consecutive messages of the same role are merged
//  3. the sequence must start and end with a user message
func ensureAlternation(messages []llm.CompletionMessage) (systemPrompt string, alternating []llm.CompletionMessage, err error) {
	if len(messages) == 0 {
		return "", nil, fmt.Errorf("message list cannot be empty")
	}

	var systemParts []string
	for i := range messages {
		msg := &messages[i]
		if msg.Role == llm.RoleSystem {
			systemParts = append(systemParts, msg.Content)
			continue
		}
		role := msg.Role
		if role != llm.RoleAssistant {
			role = llm.RoleUser
		}
		if n := len(alternating); n > 0 && alternating[n-1].Role == role {
			alternating[n-1].Content += "\n\n" + msg.Content
			continue
		}
		alternating = append(alternating, llm.CompletionMessage{Role: role, Content: msg.Content})
	}
	systemPrompt = strings.Join(systemParts, "\n\n")

	if len(alternating) == 0 {
		return "", nil, fmt.Errorf("must have at least one non-system message")
	}
	if alternating[0].Role != llm.RoleUser {
		return "", nil, fmt.Errorf("first message must be user role, got: %s", alternating[0].Role)
	}
	if last := alternating[len(alternating)-1]; last.Role != llm.RoleUser {
		return "", nil, fmt.Errorf("last message must be user role, got: %s", last.Role)
	}
	return systemPrompt, alternating, nil
}

// convertTools maps tool definitions to Anthropic tool params.
func convertTools(defs []tools.ToolDefinition) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(defs))
	for i := range defs {
		tool := &defs[i]
		props := make(map[string]any, len(tool.InputSchema.Properties))
		for name := range tool.InputSchema.Properties {
			prop := tool.InputSchema.Properties[name]
			propMap := map[string]any{"type": prop.Type}
			if prop.Description != "" {
				propMap["description"] = prop.Description
			}
			if len(prop.Enum) > 0 {
				propMap["enum"] = prop.Enum
			}
			props[name] = propMap
		}
		schema := anthropic.ToolInputSchemaParam{Properties: props, Required: tool.InputSchema.Required}
		union := anthropic.ToolUnionParamOfTool(schema, tool.Name)
		if union.OfTool != nil && tool.Description != "" {
			union.OfTool.Description = anthropic.String(tool.Description)
		}
		out = append(out, union)
	}
	return out
}

func toolChoice(choice string) anthropic.ToolChoiceUnionParam {
	if choice == llm.ToolChoiceAny {
		return anthropic.ToolChoiceUnionParam{OfAny: &anthropic.ToolChoiceAnyParam{}}
	}
	return anthropic.ToolChoiceUnionParam{OfAuto: &anthropic.ToolChoiceAutoParam{}}
}

// Complete implements llm.LLMClient.
//
//nolint:gocritic // CompletionRequest passed by value to match the interface
func (c *ClaudeClient) Complete(ctx context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
	systemPrompt, alternating, err := ensureAlternation(in.Messages)
	if err != nil {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeBadPrompt, fmt.Sprintf("message alternation error: %v", err))
	}

	messages := make([]anthropic.MessageParam, 0, len(alternating))
	for i := range alternating {
		block := anthropic.NewTextBlock(alternating[i].Content)
		if alternating[i].Role == llm.RoleAssistant {
			messages = append(messages, anthropic.NewAssistantMessage(block))
		} else {
			messages = append(messages, anthropic.NewUserMessage(block))
		}
	}

	params := anthropic.MessageNewParams{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   int64(in.MaxTokens),
		Temperature: anthropic.Float(float64(in.Temperature)),
	}
	if systemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: systemPrompt}}
	}
	if len(in.Tools) > 0 {
		params.Tools = convertTools(in.Tools)
		params.ToolChoice = toolChoice(in.ToolChoice)
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return llm.CompletionResponse{}, classifyError(err)
	}
	if resp == nil || len(resp.Content) == 0 {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse, "received empty response from Claude API")
	}

	var (
		text      strings.Builder
		toolCalls []llm.ToolCall
	)
	for i := range resp.Content {
		block := &resp.Content[i]
		switch block.Type {
		case "text":
			text.WriteString(block.AsText().Text)
		case "tool_use":
			use := block.AsToolUse()
			var params map[string]any
			if len(use.Input) > 0 {
				if err := json.Unmarshal(use.Input, &params); err != nil {
					return llm.CompletionResponse{}, llmerrors.NewErrorWithCause(llmerrors.ErrorTypeEmptyResponse, err, "unparseable tool input")
				}
			}
			toolCalls = append(toolCalls, llm.ToolCall{ID: use.ID, Name: use.Name, Parameters: params})
		}
	}

	return llm.CompletionResponse{
		Content:    text.String(),
		ToolCalls:  toolCalls,
		StopReason: string(resp.StopReason),
		Usage: llm.Usage{
			InputTokens:  int(resp.Usage.InputTokens),
			OutputTokens: int(resp.Usage.OutputTokens),
		},
	}, nil
}

// GetModelName returns the model name for this client.
func (c *ClaudeClient) GetModelName() string {
	return string(c.model)
}

// classifyError maps SDK errors to llmerrors types. API errors carry their status code.
func classifyError(err error) *llmerrors.Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeTransient, err, "request timeout")
	}
	if errors.Is(err, context.Canceled) {
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeTransient, err, "request canceled")
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		classified := llmerrors.NewErrorWithCause(llmerrors.ClassifyStatus(apiErr.StatusCode), err, fmt.Sprintf("Claude API returned %d", apiErr.StatusCode))
		classified.StatusCode = apiErr.StatusCode
		return classified
	}

	lower := strings.ToLower(err.Error())
	for _, pattern := range []string{"timeout", "connection", "network", "temporary", "eof", "reset"} {
		if strings.Contains(lower, pattern) {
			return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeTransient, err, "network or connection error")
		}
	}
	return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeUnknown, err, "unclassified error")
}
