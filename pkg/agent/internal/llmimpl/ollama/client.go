// Package ollama provides the local Ollama implementation of llm.LLMClient.
package ollama

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"

	"ticketsmith/pkg/agent/llm"
	"ticketsmith/pkg/agent/llmerrors"
	"ticketsmith/pkg/tools"
)

const defaultHost = "http://localhost:11434"

// Client implements llm.LLMClient against an Ollama server.
type Client struct {
	client *api.Client
	model  string
}

// NewOllamaClientWithModel creates a raw Ollama client. An unparseable host falls back to
// the local default. A leading "ollama:" model prefix is stripped.
func NewOllamaClientWithModel(hostURL, model string) llm.LLMClient {
	parsed, err := url.Parse(hostURL)
	if err != nil || parsed.Host == "" {
		parsed, _ = url.Parse(defaultHost)
	}
	return &Client{
		client: api.NewClient(parsed, http.DefaultClient),
		model:  strings.TrimPrefix(model, "ollama:"),
	}
}

// Complete implements llm.LLMClient.
//
//nolint:gocritic // CompletionRequest passed by value to match the interface
func (o *Client) Complete(ctx context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
	if len(in.Messages) == 0 {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeBadPrompt, "message list cannot be empty")
	}

	messages := make([]api.Message, 0, len(in.Messages))
	for i := range in.Messages {
		messages = append(messages, api.Message{Role: string(in.Messages[i].Role), Content: in.Messages[i].Content})
	}

	stream := false
	req := &api.ChatRequest{
		Model:    o.model,
		Messages: messages,
		Stream:   &stream,
		Options: map[string]any{
			"temperature": in.Temperature,
			"num_predict": in.MaxTokens,
		},
	}
	if len(in.Tools) > 0 {
		req.Tools = convertToolsToOllama(in.Tools)
	}

	var response api.ChatResponse
	err := o.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		response = resp
		return nil
	})
	if err != nil {
		return llm.CompletionResponse{}, classifyError(err)
	}

	result := llm.CompletionResponse{
		Content:    response.Message.Content,
		StopReason: stopReason(&response),
		Usage: llm.Usage{
			InputTokens:  response.PromptEvalCount,
			OutputTokens: response.EvalCount,
		},
	}
	if len(response.Message.ToolCalls) > 0 {
		result.ToolCalls = convertToolCallsFromOllama(response.Message.ToolCalls)
		result.StopReason = "tool_use"
	}
	if result.Content == "" && len(result.ToolCalls) == 0 {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse, "empty response from Ollama")
	}
	return result, nil
}

// GetModelName returns the model name for this client.
func (o *Client) GetModelName() string {
	return o.model
}

func convertToolsToOllama(defs []tools.ToolDefinition) api.Tools {
	out := make(api.Tools, len(defs))
	for i := range defs {
		td := &defs[i]
		properties := make(map[string]api.ToolProperty, len(td.InputSchema.Properties))
		for name := range td.InputSchema.Properties {
			prop := td.InputSchema.Properties[name]
			properties[name] = convertPropertyToOllama(&prop)
		}
		schemaType := td.InputSchema.Type
		if schemaType == "" {
			schemaType = "object"
		}
		out[i] = api.Tool{
			Type: "function",
			Function: api.ToolFunction{
				Name:        td.Name,
				Description: td.Description,
				Parameters: api.ToolFunctionParameters{
					Type:       schemaType,
					Properties: properties,
					Required:   td.InputSchema.Required,
				},
			},
		}
	}
	return out
}

func convertPropertyToOllama(prop *tools.Property) api.ToolProperty {
	out := api.ToolProperty{
		Type:        api.PropertyType{prop.Type},
		Description: prop.Description,
	}
	if len(prop.Enum) > 0 {
		values := make([]any, len(prop.Enum))
		for i, v := range prop.Enum {
			values[i] = v
		}
		out.Enum = values
	}
	if prop.Items != nil {
		out.Items = convertPropertyToOllama(prop.Items)
	}
	return out
}

func convertToolCallsFromOllama(calls []api.ToolCall) []llm.ToolCall {
	out := make([]llm.ToolCall, len(calls))
	for i := range calls {
		call := &calls[i]
		id := call.ID
		if id == "" {
			id = fmt.Sprintf("call_%d", i)
		}
		out[i] = llm.ToolCall{
			ID:         id,
			Name:       call.Function.Name,
			Parameters: map[string]any(call.Function.Arguments),
		}
	}
	return out
}

func stopReason(resp *api.ChatResponse) string {
	if !resp.Done {
		return "incomplete"
	}
	switch resp.DoneReason {
	case "stop", "":
		return "end_turn"
	case "length":
		return "max_tokens"
	default:
		return resp.DoneReason
	}
}

func classifyError(err error) error {
	var status api.StatusError
	if errors.As(err, &status) {
		classified := llmerrors.NewErrorWithCause(llmerrors.ClassifyStatus(status.StatusCode), err, "Ollama API error")
		classified.StatusCode = status.StatusCode
		return classified
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "connection refused"):
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeTransient, err, "Ollama server not reachable")
	case strings.Contains(msg, "model") && strings.Contains(msg, "not found"):
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeBadPrompt, err, "Ollama model not found")
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "context canceled"):
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeTransient, err, "request interrupted")
	default:
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeUnknown, err, "Ollama API error")
	}
}
