package metrics

import (
	"context"
	"strings"
	"time"

	"ticketsmith/pkg/agent/llm"
	"ticketsmith/pkg/agent/llmerrors"
	"ticketsmith/pkg/config"
	"ticketsmith/pkg/logx"
	"ticketsmith/pkg/utils"
)

const (
	statusSuccess = "success"
	statusError   = "error"
)

// UsageExtractor extracts token usage from a request and response.
type UsageExtractor func(req llm.CompletionRequest, resp llm.CompletionResponse) (promptTokens, completionTokens int)

// DefaultUsageExtractor prefers provider-reported usage and falls back to tiktoken counts.
func DefaultUsageExtractor(req llm.CompletionRequest, resp llm.CompletionResponse) (promptTokens, completionTokens int) {
	if resp.Usage.InputTokens > 0 || resp.Usage.OutputTokens > 0 {
		return resp.Usage.InputTokens, resp.Usage.OutputTokens
	}

	var promptText strings.Builder
	for i := range req.Messages {
		promptText.WriteString(req.Messages[i].Content)
		promptText.WriteString("\n")
	}
	promptTokens = utils.CountTokensSimple(promptText.String())

	completionTokens = utils.CountTokensSimple(resp.Content)
	for i := range resp.ToolCalls {
		completionTokens += utils.CountTokensSimple(resp.ToolCalls[i].Name)
	}
	return promptTokens, completionTokens
}

// Middleware records latency, token usage, cost, and error type for every call.
// role names the caller (feedback, planner, utility, coder); the project id is read from ctx.
func Middleware(recorder Recorder, usageExtractor UsageExtractor, role string, logger *logx.Logger) llm.Middleware {
	if usageExtractor == nil {
		usageExtractor = DefaultUsageExtractor
	}
	if recorder == nil {
		recorder = Nop()
	}

	return func(next llm.LLMClient) llm.LLMClient {
		return llm.WrapClient(
			func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
				start := time.Now()
				model := next.GetModelName()

				resp, err := next.Complete(ctx, req)
				duration := time.Since(start)

				var promptTokens, completionTokens int
				errorType := ""
				if err == nil {
					promptTokens, completionTokens = usageExtractor(req, resp)
				} else {
					errorType = llmerrors.TypeOf(err).String()
				}

				projectID := ProjectFrom(ctx)
				recorder.ObserveRequest(Request{
					Model:            model,
					ProjectID:        projectID,
					Role:             role,
					PromptTokens:     promptTokens,
					CompletionTokens: completionTokens,
					Cost:             config.CalculateCost(model, promptTokens, completionTokens),
					Success:          err == nil,
					ErrorType:        errorType,
					Duration:         duration,
				})

				if logger != nil {
					status := statusSuccess
					if err != nil {
						status = statusError
					}
					logger.Info("🎯 LLM Request: model=%s role=%s project=%s tokens=%d+%d=%d status=%s duration=%dms",
						model, role, projectID, promptTokens, completionTokens, promptTokens+completionTokens, status, duration.Milliseconds())
				}

				return resp, err //nolint:wrapcheck // Middleware should pass through errors unchanged
			},
			next.GetModelName,
		)
	}
}
