package ollama

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ollama/ollama/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ticketsmith/pkg/agent/llm"
	"ticketsmith/pkg/agent/llmerrors"
	"ticketsmith/pkg/tools"
)

func TestNewOllamaClientWithModel(t *testing.T) {
	tests := []struct {
		name      string
		hostURL   string
		model     string
		wantModel string
	}{
		{name: "plain model", hostURL: "http://localhost:11434", model: "qwen3:8b", wantModel: "qwen3:8b"},
		{name: "prefixed model", hostURL: "http://10.0.0.5:11434", model: "ollama:llama3.1", wantModel: "llama3.1"},
		{name: "bad host falls back", hostURL: "::not a url", model: "mistral", wantModel: "mistral"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := NewOllamaClientWithModel(tt.hostURL, tt.model)
			assert.Equal(t, tt.wantModel, client.GetModelName())
		})
	}
}

func TestConvertToolsToOllama(t *testing.T) {
	converted := convertToolsToOllama([]tools.ToolDefinition{{
		Name:        "run_bash",
		Description: "Run a shell command",
		InputSchema: tools.InputSchema{
			Properties: map[string]tools.Property{
				"command": {Type: "string", Description: "command line"},
				"mode":    {Type: "string", Enum: []string{"fast", "full"}},
			},
			Required: []string{"command"},
		},
	}})
	require.Len(t, converted, 1)
	fn := converted[0].Function
	assert.Equal(t, "function", converted[0].Type)
	assert.Equal(t, "run_bash", fn.Name)
	assert.Equal(t, "object", fn.Parameters.Type)
	assert.Equal(t, []string{"command"}, fn.Parameters.Required)
}

func TestConvertPropertyToOllama(t *testing.T) {
	prop := convertPropertyToOllama(&tools.Property{
		Type:  "array",
		Items: &tools.Property{Type: "string"},
	})
	assert.Equal(t, api.PropertyType{"array"}, prop.Type)
	items, ok := prop.Items.(api.ToolProperty)
	require.True(t, ok)
	assert.Equal(t, api.PropertyType{"string"}, items.Type)
}

func TestStopReason(t *testing.T) {
	tests := []struct {
		resp api.ChatResponse
		want string
	}{
		{resp: api.ChatResponse{Done: false}, want: "incomplete"},
		{resp: api.ChatResponse{Done: true, DoneReason: "stop"}, want: "end_turn"},
		{resp: api.ChatResponse{Done: true}, want: "end_turn"},
		{resp: api.ChatResponse{Done: true, DoneReason: "length"}, want: "max_tokens"},
		{resp: api.ChatResponse{Done: true, DoneReason: "load"}, want: "load"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, stopReason(&tt.resp))
	}
}

func TestClassifyErrorPatterns(t *testing.T) {
	assert.Equal(t, llmerrors.ErrorTypeTransient, llmerrors.TypeOf(classifyError(fmt.Errorf("dial tcp: connection refused"))))
	assert.Equal(t, llmerrors.ErrorTypeBadPrompt, llmerrors.TypeOf(classifyError(fmt.Errorf("model 'x' not found"))))
	assert.Equal(t, llmerrors.ErrorTypeUnknown, llmerrors.TypeOf(classifyError(fmt.Errorf("weird"))))
	assert.Equal(t, llmerrors.ErrorTypeRateLimit, llmerrors.TypeOf(classifyError(api.StatusError{StatusCode: http.StatusTooManyRequests})))
}

func TestCompleteAgainstStub(t *testing.T) {
	var sent api.ChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		_ = json.NewDecoder(r.Body).Decode(&sent)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"model":"qwen3","created_at":"2026-01-01T00:00:00Z","message":{"role":"assistant","content":"FEEDBACK_SUMMARY: faster search"},"done":true,"done_reason":"stop","prompt_eval_count":7,"eval_count":3}`)
	}))
	defer srv.Close()

	client := NewOllamaClientWithModel(srv.URL, "qwen3")
	req := llm.NewCompletionRequest([]llm.CompletionMessage{llm.NewSystemMessage("be brief"), llm.NewUserMessage("search is slow")})
	resp, err := client.Complete(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "FEEDBACK_SUMMARY: faster search", resp.Content)
	assert.Equal(t, "end_turn", resp.StopReason)
	assert.Equal(t, 7, resp.Usage.InputTokens)
	assert.Equal(t, 3, resp.Usage.OutputTokens)

	require.Len(t, sent.Messages, 2)
	assert.Equal(t, "system", sent.Messages[0].Role)
	require.NotNil(t, sent.Stream)
	assert.False(t, *sent.Stream)
}

func TestCompleteRejectsEmptyMessages(t *testing.T) {
	client := NewOllamaClientWithModel("http://localhost:11434", "qwen3")
	_, err := client.Complete(context.Background(), llm.CompletionRequest{})
	assert.Equal(t, llmerrors.ErrorTypeBadPrompt, llmerrors.TypeOf(err))
}
