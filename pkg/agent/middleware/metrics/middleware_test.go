package metrics

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ticketsmith/pkg/agent/llm"
	"ticketsmith/pkg/agent/llmerrors"
)

type stubClient struct {
	resp llm.CompletionResponse
	err  error
}

func (s *stubClient) Complete(_ context.Context, _ llm.CompletionRequest) (llm.CompletionResponse, error) {
	return s.resp, s.err
}

func (s *stubClient) GetModelName() string { return "claude-sonnet-4-20250514" }

type captureRecorder struct {
	requests []Request
}

func (c *captureRecorder) ObserveRequest(r Request) { c.requests = append(c.requests, r) }

func TestMiddlewareRecordsProviderUsage(t *testing.T) {
	rec := &captureRecorder{}
	base := &stubClient{resp: llm.CompletionResponse{Content: "hi", Usage: llm.Usage{InputTokens: 120, OutputTokens: 30}}}
	client := llm.Chain(base, Middleware(rec, nil, "coder", nil))

	ctx := WithProject(context.Background(), "proj-1")
	_, err := client.Complete(ctx, llm.NewCompletionRequest([]llm.CompletionMessage{llm.NewUserMessage("hello")}))
	require.NoError(t, err)

	require.Len(t, rec.requests, 1)
	got := rec.requests[0]
	assert.Equal(t, "claude-sonnet-4-20250514", got.Model)
	assert.Equal(t, "proj-1", got.ProjectID)
	assert.Equal(t, "coder", got.Role)
	assert.Equal(t, 120, got.PromptTokens)
	assert.Equal(t, 30, got.CompletionTokens)
	assert.True(t, got.Success)
	assert.Greater(t, got.Cost, 0.0)
}

func TestMiddlewareRecordsErrorType(t *testing.T) {
	rec := &captureRecorder{}
	base := &stubClient{err: llmerrors.NewError(llmerrors.ErrorTypeRateLimit, "429")}
	client := llm.Chain(base, Middleware(rec, nil, "feedback", nil))

	_, err := client.Complete(context.Background(), llm.CompletionRequest{})
	require.Error(t, err)
	require.Len(t, rec.requests, 1)
	assert.False(t, rec.requests[0].Success)
	assert.Equal(t, "rate_limit", rec.requests[0].ErrorType)
	assert.Empty(t, rec.requests[0].ProjectID)
}

func TestDefaultUsageExtractorFallsBackToTokenizer(t *testing.T) {
	req := llm.CompletionRequest{Messages: []llm.CompletionMessage{llm.NewUserMessage("Hello world")}}
	prompt, completion := DefaultUsageExtractor(req, llm.CompletionResponse{Content: "Hello world"})
	assert.Positive(t, prompt)
	assert.Positive(t, completion)
}

func TestPrometheusRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec := NewPrometheusRecorder(reg)

	rec.ObserveRequest(Request{Model: "gpt-5-mini", ProjectID: "p1", Role: "planner", PromptTokens: 10, CompletionTokens: 5, Cost: 0.01, Success: true})
	rec.ObserveRequest(Request{Model: "gpt-5-mini", ProjectID: "p1", Role: "planner", Success: false, ErrorType: "transient"})

	assert.InDelta(t, 1, testutil.ToFloat64(rec.requestsTotal.WithLabelValues("gpt-5-mini", "p1", "planner", "success", "")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(rec.requestsTotal.WithLabelValues("gpt-5-mini", "p1", "planner", "error", "transient")), 0)
	assert.InDelta(t, 10, testutil.ToFloat64(rec.tokensTotal.WithLabelValues("gpt-5-mini", "p1", "planner", "prompt")), 0)
	assert.InDelta(t, 5, testutil.ToFloat64(rec.tokensTotal.WithLabelValues("gpt-5-mini", "p1", "planner", "completion")), 0)
	assert.InDelta(t, 0.01, testutil.ToFloat64(rec.costsTotal.WithLabelValues("gpt-5-mini", "p1", "planner")), 1e-9)
}

func TestNopRecorder(t *testing.T) {
	client := llm.Chain(&stubClient{err: errors.New("x")}, Middleware(nil, nil, "utility", nil))
	_, err := client.Complete(context.Background(), llm.CompletionRequest{})
	assert.Error(t, err)
	Nop().ObserveRequest(Request{})
}
