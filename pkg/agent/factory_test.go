package agent

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ticketsmith/pkg/agent/llm"
	"ticketsmith/pkg/agent/llmerrors"
	"ticketsmith/pkg/agent/middleware/metrics"
	"ticketsmith/pkg/config"
)

type captureRecorder struct {
	mu       sync.Mutex
	requests []metrics.Request
}

func (c *captureRecorder) ObserveRequest(r metrics.Request) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests = append(c.requests, r)
}

func testConfig() config.Config {
	cfg := *config.DefaultConfig()
	cfg.Retry.InitialDelay = time.Millisecond
	cfg.Retry.MaxDelay = 2 * time.Millisecond
	return cfg
}

func TestModelForRoles(t *testing.T) {
	cfg := testConfig()
	factory := NewLLMClientFactory(cfg, nil)

	for role, want := range map[Role]string{
		RoleFeedback: cfg.Models.Feedback,
		RolePlanner:  cfg.Models.Planner,
		RoleUtility:  cfg.Models.Utility,
		RoleCoder:    cfg.Models.Coder,
	} {
		got, err := factory.ModelFor(role)
		require.NoError(t, err)
		assert.Equal(t, want, got, role)
	}

	_, err := factory.ModelFor(Role("architect"))
	assert.Error(t, err)
}

func TestCreateClientForModel(t *testing.T) {
	factory := NewLLMClientFactory(testConfig(), nil)

	t.Run("unknown model", func(t *testing.T) {
		_, err := factory.CreateClientForModel("mystery-model", RoleCoder)
		assert.ErrorContains(t, err, "failed to determine provider")
	})

	t.Run("missing key", func(t *testing.T) {
		t.Setenv(config.EnvOpenAIAPIKey, "")
		_, err := factory.CreateClientForModel("gpt-5-mini", RolePlanner)
		assert.ErrorContains(t, err, "failed to get API key")
	})

	t.Run("anthropic with key", func(t *testing.T) {
		t.Setenv(config.EnvAnthropicAPIKey, "sk-test")
		client, err := factory.CreateClientForModel("claude-sonnet-4-20250514", RoleCoder)
		require.NoError(t, err)
		assert.Equal(t, "claude-sonnet-4-20250514", client.GetModelName())
	})

	t.Run("ollama needs no key", func(t *testing.T) {
		t.Setenv(config.EnvOllamaHost, "")
		client, err := factory.CreateClientForModel("ollama:qwen3", RoleUtility)
		require.NoError(t, err)
		assert.Equal(t, "qwen3", client.GetModelName())
	})
}

func TestNewRawClientProviders(t *testing.T) {
	for _, provider := range []string{config.ProviderAnthropic, config.ProviderOpenAI, config.ProviderGoogle, config.ProviderOllama} {
		client, err := newRawClient(provider, "key", "some-model")
		require.NoError(t, err, provider)
		assert.NotNil(t, client)
	}
	_, err := newRawClient("azure", "key", "some-model")
	assert.Error(t, err)
}

func TestWrapRetriesTransientAndRecordsOnce(t *testing.T) {
	recorder := &captureRecorder{}
	factory := NewLLMClientFactory(testConfig(), recorder)

	calls := 0
	raw := llm.WrapClient(func(_ context.Context, _ llm.CompletionRequest) (llm.CompletionResponse, error) {
		calls++
		if calls < 2 {
			return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeRateLimit, "slow down")
		}
		return llm.CompletionResponse{Content: "ok", Usage: llm.Usage{InputTokens: 10, OutputTokens: 2}}, nil
	}, func() string { return "claude-3-5-haiku-20241022" })

	client := factory.wrap(raw, RoleFeedback)
	resp, err := client.Complete(context.Background(), llm.NewCompletionRequest([]llm.CompletionMessage{llm.NewUserMessage("hi")}))
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
	assert.Equal(t, 2, calls)

	require.Len(t, recorder.requests, 1)
	assert.True(t, recorder.requests[0].Success)
	assert.Equal(t, "feedback", recorder.requests[0].Role)
	assert.Equal(t, 10, recorder.requests[0].PromptTokens)
}

func TestWrapDoesNotRetryAuth(t *testing.T) {
	factory := NewLLMClientFactory(testConfig(), nil)

	calls := 0
	raw := llm.WrapClient(func(_ context.Context, _ llm.CompletionRequest) (llm.CompletionResponse, error) {
		calls++
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeAuth, "bad key")
	}, func() string { return "gpt-5-mini" })

	_, err := factory.wrap(raw, RolePlanner).Complete(context.Background(),
		llm.NewCompletionRequest([]llm.CompletionMessage{llm.NewUserMessage("hi")}))
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, llmerrors.ErrorTypeAuth, llmerrors.TypeOf(err))
}
