// Package logging provides logging middleware for LLM clients.
package logging

import (
	"context"
	"strings"

	"ticketsmith/pkg/agent/llm"
	"ticketsmith/pkg/agent/llmerrors"
	"ticketsmith/pkg/logx"
)

// maxLoggedChars truncates message bodies in logs.
const maxLoggedChars = 10000

// EmptyResponseMiddleware dumps the request when the provider returned nothing usable,
// then passes the error through unchanged.
func EmptyResponseMiddleware(logger *logx.Logger) llm.Middleware {
	return func(next llm.LLMClient) llm.LLMClient {
		return llm.WrapClient(
			func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
				resp, err := next.Complete(ctx, req)
				if err != nil && llmerrors.Is(err, llmerrors.ErrorTypeEmptyResponse) {
					logger.Error("🚨 Empty response from %s", next.GetModelName())
					logRequest(logger.Error, req)
				}
				return resp, err //nolint:wrapcheck // Middleware intentionally passes through errors unchanged
			},
			next.GetModelName,
		)
	}
}

// MessageMiddleware logs every request and response at debug level under the "llm"
// domain. It is installed only when debug.llm_messages is set.
func MessageMiddleware() llm.Middleware {
	return func(next llm.LLMClient) llm.LLMClient {
		return llm.WrapClient(
			func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
				debugf := func(format string, args ...any) { logx.Debug(ctx, "llm", format, args...) }
				debugf("→ %s request", next.GetModelName())
				logRequest(debugf, req)

				resp, err := next.Complete(ctx, req)
				if err != nil {
					debugf("← %s error: %v", next.GetModelName(), err)
				} else {
					debugf("← %s stop=%s tool_calls=%d content=%s", next.GetModelName(), resp.StopReason, len(resp.ToolCalls), truncate(resp.Content))
				}
				return resp, err //nolint:wrapcheck // Middleware intentionally passes through errors unchanged
			},
			next.GetModelName,
		)
	}
}

//nolint:gocritic // CompletionRequest passed by value to match the middleware shape
func logRequest(logf func(string, ...any), req llm.CompletionRequest) {
	for i := range req.Messages {
		logf("  [%d] %s: %s", i, req.Messages[i].Role, truncate(req.Messages[i].Content))
	}
	names := make([]string, 0, len(req.Tools))
	for i := range req.Tools {
		names = append(names, req.Tools[i].Name)
	}
	logf("  temperature=%v max_tokens=%d tools=[%s]", req.Temperature, req.MaxTokens, strings.Join(names, ", "))
}

func truncate(s string) string {
	if len(s) <= maxLoggedChars {
		return s
	}
	return s[:maxLoggedChars] + "\n[... truncated ...]"
}
