// Package agent builds LLM clients for each ticketsmith role and wraps them in the
// middleware chain.
package agent

import (
	"fmt"

	"ticketsmith/pkg/agent/internal/llmimpl/anthropic"
	"ticketsmith/pkg/agent/internal/llmimpl/google"
	"ticketsmith/pkg/agent/internal/llmimpl/ollama"
	"ticketsmith/pkg/agent/internal/llmimpl/openaiofficial"
	"ticketsmith/pkg/agent/llm"
	"ticketsmith/pkg/agent/middleware/logging"
	"ticketsmith/pkg/agent/middleware/metrics"
	"ticketsmith/pkg/agent/middleware/resilience/retry"
	"ticketsmith/pkg/config"
	"ticketsmith/pkg/logx"
)

// Role identifies which configured model a client serves.
type Role string

// Model roles.
const (
	RoleFeedback Role = "feedback"
	RolePlanner  Role = "planner"
	RoleUtility  Role = "utility"
	RoleCoder    Role = "coder"
)

// String returns the role name.
func (r Role) String() string {
	return string(r)
}

// LLMClientFactory creates LLM clients with properly configured middleware chains.
type LLMClientFactory struct {
	config          config.Config
	metricsRecorder metrics.Recorder
	logger          *logx.Logger
}

// NewLLMClientFactory creates a factory. A nil recorder disables metrics.
func NewLLMClientFactory(cfg config.Config, recorder metrics.Recorder) *LLMClientFactory {
	if recorder == nil {
		recorder = metrics.Nop()
	}
	return &LLMClientFactory{
		config:          cfg,
		metricsRecorder: recorder,
		logger:          logx.NewLogger("llm"),
	}
}

// ModelFor returns the configured model name for a role.
func (f *LLMClientFactory) ModelFor(role Role) (string, error) {
	switch role {
	case RoleFeedback:
		return f.config.Models.Feedback, nil
	case RolePlanner:
		return f.config.Models.Planner, nil
	case RoleUtility:
		return f.config.Models.Utility, nil
	case RoleCoder:
		return f.config.Models.Coder, nil
	default:
		return "", fmt.Errorf("unsupported role: %s", role)
	}
}

// CreateClient creates the client for a role. The API key is looked up from the secrets
// store or the environment based on the model's provider.
func (f *LLMClientFactory) CreateClient(role Role) (llm.LLMClient, error) {
	modelName, err := f.ModelFor(role)
	if err != nil {
		return nil, err
	}
	return f.CreateClientForModel(modelName, role)
}

// CreateClientForModel creates a client for an explicit model, recorded under role.
func (f *LLMClientFactory) CreateClientForModel(modelName string, role Role) (llm.LLMClient, error) {
	provider, err := config.GetModelProvider(modelName)
	if err != nil {
		return nil, fmt.Errorf("failed to determine provider for model %s: %w", modelName, err)
	}
	apiKey, err := config.GetAPIKey(provider)
	if err != nil {
		return nil, fmt.Errorf("failed to get API key for provider %s: %w", provider, err)
	}
	rawClient, err := newRawClient(provider, apiKey, modelName)
	if err != nil {
		return nil, err
	}
	return f.wrap(rawClient, role), nil
}

// wrap builds the chain Metrics -> Retry -> RawClient. Metrics sits outermost so one
// observation covers all retry attempts.
func (f *LLMClientFactory) wrap(rawClient llm.LLMClient, role Role) llm.LLMClient {
	retryPolicy := retry.NewPolicy(retry.Config{
		MaxAttempts:   f.config.Retry.MaxAttempts,
		InitialDelay:  f.config.Retry.InitialDelay,
		MaxDelay:      f.config.Retry.MaxDelay,
		BackoffFactor: f.config.Retry.BackoffFactor,
		Jitter:        f.config.Retry.Jitter,
	}, nil)

	middlewares := []llm.Middleware{
		metrics.Middleware(f.metricsRecorder, nil, role.String(), f.logger),
		retry.Middleware(retryPolicy, f.logger),
		logging.EmptyResponseMiddleware(f.logger),
	}
	if f.config.Debug.LLMMessages {
		middlewares = append(middlewares, logging.MessageMiddleware())
	}
	return llm.Chain(rawClient, middlewares...)
}

func newRawClient(provider, apiKey, modelName string) (llm.LLMClient, error) {
	switch provider {
	case config.ProviderAnthropic:
		return anthropic.NewClaudeClientWithModel(apiKey, modelName), nil
	case config.ProviderOpenAI:
		return openaiofficial.NewOfficialClientWithModel(apiKey, modelName), nil
	case config.ProviderGoogle:
		return google.NewGeminiClientWithModel(apiKey, modelName), nil
	case config.ProviderOllama:
		return ollama.NewOllamaClientWithModel(apiKey, modelName), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", provider)
	}
}
