package toolloop

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ticketsmith/pkg/agent/llm"
	"ticketsmith/pkg/tools"
)

// scriptedClient replays responses in order; the last response repeats.
type scriptedClient struct {
	mu        sync.Mutex
	responses []llm.CompletionResponse
	err       error
	requests  []llm.CompletionRequest
}

func (c *scriptedClient) Complete(_ context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests = append(c.requests, req)
	if c.err != nil {
		return llm.CompletionResponse{}, c.err
	}
	idx := len(c.requests) - 1
	if idx >= len(c.responses) {
		idx = len(c.responses) - 1
	}
	return c.responses[idx], nil
}

func (c *scriptedClient) GetModelName() string { return "scripted" }

// echoTool returns its "text" argument, padded by "pad" repetitions of x.
type echoTool struct{ calls int }

func (e *echoTool) Name() string                { return "echo" }
func (e *echoTool) PromptDocumentation() string { return "- **echo**" }
func (e *echoTool) Definition() tools.ToolDefinition {
	return tools.ToolDefinition{Name: "echo", InputSchema: tools.InputSchema{Type: "object"}}
}
func (e *echoTool) Exec(_ context.Context, args map[string]any) (*tools.ExecResult, error) {
	e.calls++
	text, _ := args["text"].(string)
	if pad, ok := args["pad"].(float64); ok {
		text += strings.Repeat("x ", int(pad))
	}
	return &tools.ExecResult{Content: text}, nil
}

func echoCall(text string) llm.CompletionResponse {
	return llm.CompletionResponse{ToolCalls: []llm.ToolCall{{ID: "1", Name: "echo", Parameters: map[string]any{"text": text}}}}
}

func doneCall(summary string) llm.CompletionResponse {
	return llm.CompletionResponse{ToolCalls: []llm.ToolCall{{ID: "d", Name: tools.ToolDone, Parameters: map[string]any{"summary": summary}}}}
}

func newConfig(echo *echoTool, maxRounds int) *Config {
	return &Config{
		SystemPrompt:  "system",
		InitialPrompt: "implement the plan",
		ToolProvider:  tools.NewProvider(echo, tools.NewDoneTool()),
		MaxRounds:     maxRounds,
	}
}

func TestRun_DoneAfterOneTool(t *testing.T) {
	client := &scriptedClient{responses: []llm.CompletionResponse{echoCall("hello"), doneCall("appended a comment")}}
	echo := &echoTool{}
	var steps []Step
	cfg := newConfig(echo, 5)
	cfg.OnStep = func(s Step) { steps = append(steps, s) }

	out := New(client, nil).Run(context.Background(), cfg)

	require.Equal(t, OutcomeSuccess, out.Kind, "err: %v", out.Err)
	assert.Equal(t, "appended a comment", out.Summary())
	assert.Equal(t, 2, out.Rounds)
	assert.Equal(t, 2, out.ToolCalls)
	assert.Equal(t, 1, echo.calls)
	require.Len(t, steps, 2)
	assert.Equal(t, StepContinue, steps[0].Kind)
	assert.Equal(t, StepDone, steps[1].Kind)

	// Second request carries the rendered call and its result as plain messages.
	second := client.requests[1].Messages
	require.Len(t, second, 4)
	assert.Equal(t, llm.RoleSystem, second[0].Role)
	assert.Equal(t, llm.RoleAssistant, second[2].Role)
	assert.Contains(t, second[2].Content, `[tool call] echo {"text":"hello"}`)
	assert.Equal(t, llm.RoleUser, second[3].Role)
	assert.Equal(t, "[tool result] echo\nhello", second[3].Content)
	assert.Equal(t, llm.ToolChoiceAny, client.requests[0].ToolChoice)
}

func TestRun_ExhaustsAtExactlyMaxRounds(t *testing.T) {
	for _, maxRounds := range []int{1, 3, 7} {
		client := &scriptedClient{responses: []llm.CompletionResponse{echoCall("again")}}
		echo := &echoTool{}

		out := New(client, nil).Run(context.Background(), newConfig(echo, maxRounds))

		assert.Equal(t, OutcomeIterationLimit, out.Kind)
		assert.ErrorIs(t, out.Err, ErrIterationLimit)
		assert.Len(t, client.requests, maxRounds)
		assert.Equal(t, maxRounds, out.Rounds)
		assert.Equal(t, maxRounds, echo.calls)
	}
}

func TestRun_NoToolReplyCountsAsRound(t *testing.T) {
	client := &scriptedClient{responses: []llm.CompletionResponse{
		{Content: "I think I'm finished"},
		doneCall("ok"),
	}}
	out := New(client, nil).Run(context.Background(), newConfig(&echoTool{}, 5))

	require.Equal(t, OutcomeSuccess, out.Kind)
	assert.Equal(t, 2, out.Rounds)
	last := client.requests[1].Messages
	assert.Equal(t, NudgeNoTool, last[len(last)-1].Content)
}

func TestRun_OnlyFirstToolCallExecuted(t *testing.T) {
	resp := llm.CompletionResponse{ToolCalls: []llm.ToolCall{
		{Name: "echo", Parameters: map[string]any{"text": "a"}},
		{Name: "echo", Parameters: map[string]any{"text": "b"}},
	}}
	echo := &echoTool{}
	client := &scriptedClient{responses: []llm.CompletionResponse{resp, doneCall("ok")}}

	out := New(client, nil).Run(context.Background(), newConfig(echo, 5))
	require.Equal(t, OutcomeSuccess, out.Kind)
	assert.Equal(t, 1, echo.calls)
}

func TestRun_UnknownToolIsData(t *testing.T) {
	client := &scriptedClient{responses: []llm.CompletionResponse{
		{ToolCalls: []llm.ToolCall{{Name: "teleport"}}},
		doneCall("ok"),
	}}
	out := New(client, nil).Run(context.Background(), newConfig(&echoTool{}, 5))

	require.Equal(t, OutcomeSuccess, out.Kind)
	result := client.requests[1].Messages[3].Content
	assert.Contains(t, result, "tool teleport not found")
}

func TestRun_LLMError(t *testing.T) {
	client := &scriptedClient{err: errors.New("boom")}
	out := New(client, nil).Run(context.Background(), newConfig(&echoTool{}, 5))
	assert.Equal(t, OutcomeLLMError, out.Kind)
	assert.ErrorContains(t, out.Err, "boom")
}

func TestRun_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	client := &scriptedClient{responses: []llm.CompletionResponse{echoCall("x")}}
	out := New(client, nil).Run(ctx, newConfig(&echoTool{}, 5))
	assert.Equal(t, OutcomeCancelled, out.Kind)
	assert.ErrorIs(t, out.Err, ErrGracefulShutdown)
	assert.Empty(t, client.requests)
}

func TestTranscriptCompaction(t *testing.T) {
	tr := newTranscript("system", "prompt")
	big := strings.Repeat("lorem ipsum dolor sit amet ", 200)
	for i := 0; i < 5; i++ {
		tr.addAssistant("", &llm.ToolCall{Name: "read_file", Parameters: map[string]any{"path": "f.go"}})
		tr.addResult("read_file", big)
	}
	before := tr.total()

	n := tr.compact(before / 2)
	assert.Positive(t, n)
	assert.LessOrEqual(t, n, 5-keepRecentResults)
	assert.Less(t, tr.total(), before)

	msgs := tr.snapshot()
	assert.Contains(t, msgs[tr.results[0]].Content, "[output elided")
	assert.True(t, strings.HasPrefix(msgs[tr.results[0]].Content, "[tool result] read_file\n"))
	// The newest results are never compacted.
	for _, idx := range tr.results[len(tr.results)-keepRecentResults:] {
		assert.NotContains(t, msgs[idx].Content, "elided")
	}

	// A second pass with a tiny budget cannot touch the protected tail.
	tr.compact(1)
	for _, idx := range tr.results[len(tr.results)-keepRecentResults:] {
		assert.NotContains(t, tr.messages[idx].Content, "elided")
	}
	assert.Equal(t, 0, tr.compact(0))
}

func TestStepKindString(t *testing.T) {
	assert.Equal(t, "Continue", StepContinue.String())
	assert.Equal(t, "Done", StepDone.String())
	assert.Equal(t, "Exhausted", StepExhausted.String())
	assert.Equal(t, "IterationLimit", OutcomeIterationLimit.String())
}
