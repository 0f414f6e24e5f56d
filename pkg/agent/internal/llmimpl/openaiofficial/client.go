// Package openaiofficial provides the OpenAI implementation of llm.LLMClient using the
// official Go SDK and the Responses API.
package openaiofficial

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"

	"ticketsmith/pkg/agent/llm"
	"ticketsmith/pkg/agent/llmerrors"
	"ticketsmith/pkg/config"
	"ticketsmith/pkg/tools"
)

// OfficialClient wraps the official OpenAI Go client.
//
//nolint:govet // Simple struct, logical grouping preferred
type OfficialClient struct {
	client openai.Client
	model  string
}

// NewOfficialClientWithModel creates a raw OpenAI client. Middleware is applied by the factory.
func NewOfficialClientWithModel(apiKey, model string, opts ...option.RequestOption) llm.LLMClient {
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &OfficialClient{
		client: openai.NewClient(opts...),
		model:  model,
	}
}

// convertPropertyToSchema recursively converts a Property to JSON schema.
func convertPropertyToSchema(prop *tools.Property) map[string]any {
	schema := map[string]any{"type": prop.Type}
	if prop.Description != "" {
		schema["description"] = prop.Description
	}
	if len(prop.Enum) > 0 {
		schema["enum"] = prop.Enum
	}
	if prop.Type == "array" && prop.Items != nil {
		schema["items"] = convertPropertyToSchema(prop.Items)
	}
	if prop.Type == "object" && prop.Properties != nil {
		properties := make(map[string]any, len(prop.Properties))
		for name, child := range prop.Properties {
			if child != nil {
				properties[name] = convertPropertyToSchema(child)
			}
		}
		schema["properties"] = properties
	}
	return schema
}

// buildInput flattens the conversation for the Responses API. System messages become
// instructions; the rest are rendered as a role-tagged transcript.
func buildInput(messages []llm.CompletionMessage) (instructions, input string) {
	var sys, body []string
	for i := range messages {
		msg := &messages[i]
		switch msg.Role {
		case llm.RoleSystem:
			sys = append(sys, msg.Content)
		case llm.RoleAssistant:
			body = append(body, "Assistant: "+msg.Content)
		default:
			body = append(body, msg.Content)
		}
	}
	return strings.Join(sys, "\n\n"), strings.Join(body, "\n\n")
}

// supportsTemperature reports whether the model accepts a sampling temperature.
// Reasoning models reject it.
func supportsTemperature(model string) bool {
	for _, prefix := range []string{"gpt-5", "o1", "o3", "o4"} {
		if strings.HasPrefix(model, prefix) {
			return false
		}
	}
	return true
}

// Complete implements llm.LLMClient.
//
//nolint:gocritic // CompletionRequest passed by value to match the interface
func (o *OfficialClient) Complete(ctx context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
	if len(in.Messages) == 0 {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeBadPrompt, "message list cannot be empty")
	}
	instructions, input := buildInput(in.Messages)

	// Cap MaxTokens to the model's limit to prevent API errors.
	maxTokens := in.MaxTokens
	if info, ok := config.KnownModels[o.model]; ok && info.MaxOutputTokens > 0 && maxTokens > info.MaxOutputTokens {
		maxTokens = info.MaxOutputTokens
	}

	params := responses.ResponseNewParams{
		Model:           o.model,
		MaxOutputTokens: openai.Int(int64(maxTokens)),
		Input:           responses.ResponseNewParamsInputUnion{OfString: openai.String(input)},
	}
	if instructions != "" {
		params.Instructions = openai.String(instructions)
	}
	if supportsTemperature(o.model) {
		params.Temperature = openai.Float(float64(in.Temperature))
	}

	if len(in.Tools) > 0 {
		toolParams := make([]responses.ToolUnionParam, len(in.Tools))
		for i := range in.Tools {
			tool := &in.Tools[i]
			properties := make(map[string]any, len(tool.InputSchema.Properties))
			for name := range tool.InputSchema.Properties {
				prop := tool.InputSchema.Properties[name]
				properties[name] = convertPropertyToSchema(&prop)
			}
			toolParams[i] = responses.ToolUnionParam{
				OfFunction: &responses.FunctionToolParam{
					Name:        tool.Name,
					Description: openai.String(tool.Description),
					Parameters: openai.FunctionParameters(map[string]any{
						"type":       "object",
						"properties": properties,
						"required":   tool.InputSchema.Required,
					}),
				},
			}
		}
		params.Tools = toolParams
	}

	resp, err := o.client.Responses.New(ctx, params)
	if err != nil {
		return llm.CompletionResponse{}, classifyError(err)
	}
	if resp == nil {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse, "empty response from OpenAI Responses API")
	}

	var toolCalls []llm.ToolCall
	for i := range resp.Output {
		item := &resp.Output[i]
		if item.Type != "function_call" {
			// Reasoning and message items are covered by OutputText.
			continue
		}
		call := item.AsFunctionCall()
		var parameters map[string]any
		if call.Arguments != "" {
			if err := json.Unmarshal([]byte(call.Arguments), &parameters); err != nil {
				return llm.CompletionResponse{}, llmerrors.NewErrorWithCause(llmerrors.ErrorTypeEmptyResponse, err, "unparseable function arguments")
			}
		}
		id := call.CallID
		if id == "" {
			id = call.ID
		}
		toolCalls = append(toolCalls, llm.ToolCall{ID: id, Name: call.Name, Parameters: parameters})
	}

	content := resp.OutputText()
	if content == "" && len(toolCalls) == 0 {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse, "OpenAI response has no text and no tool calls")
	}

	stop := "end_turn"
	if len(toolCalls) > 0 {
		stop = "tool_use"
	} else if resp.Status == "incomplete" {
		stop = "max_tokens"
	}

	return llm.CompletionResponse{
		Content:    content,
		ToolCalls:  toolCalls,
		StopReason: stop,
		Usage: llm.Usage{
			InputTokens:  int(resp.Usage.InputTokens),
			OutputTokens: int(resp.Usage.OutputTokens),
		},
	}, nil
}

// GetModelName returns the model name for this client.
func (o *OfficialClient) GetModelName() string {
	return o.model
}

func classifyError(err error) *llmerrors.Error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeTransient, err, "request interrupted")
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		classified := llmerrors.NewErrorWithCause(llmerrors.ClassifyStatus(apiErr.StatusCode), err, fmt.Sprintf("OpenAI API returned %d", apiErr.StatusCode))
		classified.StatusCode = apiErr.StatusCode
		return classified
	}
	return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeTransient, err, "OpenAI Responses API failed")
}
