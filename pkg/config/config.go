// Package config provides configuration loading, validation, and secret lookup for ticketsmith.
//
// A single Config is held in memory behind a mutex. It is loaded once at startup from a JSON or
// YAML file, then read BY VALUE through GetConfig so callers cannot mutate shared state.
//
//	cfg, err := config.Load(path)      // file -> ${ENV} substitution -> TICKETSMITH_* overrides -> defaults -> validate
//	cfg, err := config.GetConfig()     // copy of the loaded config
//	key, err := config.GetAPIKey(config.ProviderAnthropic)
package config

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"ticketsmith/pkg/logx"
)

//nolint:gochecknoglobals // Intentional singleton pattern for config management
var (
	config *Config
	logger *logx.Logger
	mu     sync.RWMutex
)

func getLogger() *logx.Logger {
	if logger == nil {
		logger = logx.NewLogger("config")
	}
	return logger
}

// LogInfo logs an info message using the config logger.
func LogInfo(format string, args ...any) {
	getLogger().Info(format, args...)
}

// API providers.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderGoogle    = "google"
	ProviderOllama    = "ollama"
)

// Secret names.
const (
	EnvAnthropicAPIKey = "ANTHROPIC_API_KEY"
	EnvOpenAIAPIKey    = "OPENAI_API_KEY"
	EnvGoogleAPIKey    = "GOOGLE_GENAI_API_KEY"
	EnvOllamaHost      = "OLLAMA_HOST"
	EnvGitHubToken     = "GITHUB_TOKEN"
	EnvNotifyAPIKey    = "POKE_API_KEY"
)

// Conversation store backends.
const (
	ConversationBackendMemory = "memory"
	ConversationBackendSQLite = "sqlite"
)

// Default values applied when the config file leaves a field empty.
const (
	DefaultHost              = "127.0.0.1"
	DefaultPort              = 8000
	DefaultDatabasePath      = "ticketsmith.db"
	DefaultFeedbackModel     = "claude-3-5-haiku-20241022"
	DefaultPlannerModel      = "gpt-5-mini"
	DefaultUtilityModel      = "claude-3-5-haiku-20241022"
	DefaultCoderModel        = "claude-sonnet-4-20250514"
	DefaultMaxRounds         = 25
	DefaultBashOutputBytes   = 8192
	DefaultReadFileBytes     = 32768
	DefaultTranscriptTokens  = 60000
	DefaultCommandTimeout    = 2 * time.Minute
	DefaultCloneTimeout      = 5 * time.Minute
	DefaultLeaseTTL          = 2 * time.Minute
	DefaultNotifyURL         = "https://poke.com/api/v1/inbound-sms/webhook"
	DefaultNotifyTimeout     = 10 * time.Second
	DefaultGitUserName       = "ticketsmith"
	DefaultGitUserEmail      = "ticketsmith@users.noreply.github.com"
	DefaultFeedbackMaxTokens = 350
	DefaultPlanMaxTokens     = 4096
	DefaultCoderMaxTokens    = 8192
)

// ModelInfo contains static information about a known LLM model.
type ModelInfo struct {
	Provider         string
	InputCPM         float64 // USD per million input tokens
	OutputCPM        float64 // USD per million output tokens
	MaxContextTokens int
	MaxOutputTokens  int
}

// KnownModels holds pricing and provider information for the models ticketsmith ships defaults for.
//
//nolint:gochecknoglobals // static model registry
var KnownModels = map[string]ModelInfo{
	"claude-3-5-haiku-20241022": {Provider: ProviderAnthropic, InputCPM: 0.8, OutputCPM: 4.0, MaxContextTokens: 200000, MaxOutputTokens: 8192},
	"claude-sonnet-4-20250514":  {Provider: ProviderAnthropic, InputCPM: 3.0, OutputCPM: 15.0, MaxContextTokens: 200000, MaxOutputTokens: 64000},
	"gpt-5-mini":                {Provider: ProviderOpenAI, InputCPM: 0.25, OutputCPM: 2.0, MaxContextTokens: 400000, MaxOutputTokens: 128000},
	"gpt-4.1-nano":              {Provider: ProviderOpenAI, InputCPM: 0.1, OutputCPM: 0.4, MaxContextTokens: 1000000, MaxOutputTokens: 32768},
	"gemini-2.5-flash":          {Provider: ProviderGoogle, InputCPM: 0.3, OutputCPM: 2.5, MaxContextTokens: 1000000, MaxOutputTokens: 65536},
}

// ProviderPattern infers a provider from a model name prefix.
type ProviderPattern struct {
	Prefix   string
	Provider string
}

//nolint:gochecknoglobals // inference rules
var ProviderPatterns = []ProviderPattern{
	{"claude", ProviderAnthropic},
	{"gpt", ProviderOpenAI},
	{"o1", ProviderOpenAI},
	{"o3", ProviderOpenAI},
	{"o4", ProviderOpenAI},
	{"gemini", ProviderGoogle},
	{"llama", ProviderOllama},
	{"qwen", ProviderOllama},
	{"mistral", ProviderOllama},
	{"deepseek", ProviderOllama},
	{"ollama:", ProviderOllama},
}

// GetModelProvider returns the API provider for a given model.
func GetModelProvider(modelName string) (string, error) {
	if info, exists := KnownModels[modelName]; exists {
		return info.Provider, nil
	}
	for i := range ProviderPatterns {
		if strings.HasPrefix(modelName, ProviderPatterns[i].Prefix) {
			return ProviderPatterns[i].Provider, nil
		}
	}
	return "", fmt.Errorf("unknown model '%s': no known provider mapping or pattern match", modelName)
}

// CalculateCost returns the USD cost of a call, or 0 for models without pricing data.
func CalculateCost(modelName string, promptTokens, completionTokens int) float64 {
	info, ok := KnownModels[modelName]
	if !ok {
		return 0
	}
	return (float64(promptTokens)*info.InputCPM + float64(completionTokens)*info.OutputCPM) / 1_000_000
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Host string `json:"host" yaml:"host"`
	Port int    `json:"port" yaml:"port"`
}

// DatabaseConfig points at the sqlite file.
type DatabaseConfig struct {
	Path string `json:"path" yaml:"path"`
}

// ModelsConfig selects a model per role. Providers are inferred from the model name.
type ModelsConfig struct {
	Feedback    string  `json:"feedback" yaml:"feedback"`
	Planner     string  `json:"planner" yaml:"planner"`
	Utility     string  `json:"utility" yaml:"utility"`
	Coder       string  `json:"coder" yaml:"coder"`
	Temperature float64 `json:"temperature" yaml:"temperature"`
}

// ConversationConfig selects the conversation store backend.
type ConversationConfig struct {
	Backend  string        `json:"backend" yaml:"backend"`     // "memory" or "sqlite"
	LeaseTTL time.Duration `json:"lease_ttl" yaml:"lease_ttl"` // sqlite backend only
}

// CoderConfig bounds the coding agent.
type CoderConfig struct {
	MaxRounds        int           `json:"max_rounds" yaml:"max_rounds"`
	BashOutputBytes  int           `json:"bash_output_bytes" yaml:"bash_output_bytes"`
	ReadFileBytes    int           `json:"read_file_bytes" yaml:"read_file_bytes"`
	TranscriptTokens int           `json:"transcript_tokens" yaml:"transcript_tokens"`
	CommandTimeout   time.Duration `json:"command_timeout" yaml:"command_timeout"`
	CloneTimeout     time.Duration `json:"clone_timeout" yaml:"clone_timeout"`
	WorkDir          string        `json:"work_dir" yaml:"work_dir"`
	GitUserName      string        `json:"git_user_name" yaml:"git_user_name"`
	GitUserEmail     string        `json:"git_user_email" yaml:"git_user_email"`
}

// RetryConfig defines configuration for retry behavior on model calls.
type RetryConfig struct {
	MaxAttempts   int           `json:"max_attempts" yaml:"max_attempts"`
	InitialDelay  time.Duration `json:"initial_delay" yaml:"initial_delay"`
	MaxDelay      time.Duration `json:"max_delay" yaml:"max_delay"`
	BackoffFactor float64       `json:"backoff_factor" yaml:"backoff_factor"`
	Jitter        bool          `json:"jitter" yaml:"jitter"`
}

// MetricsConfig defines configuration for metrics collection and querying.
type MetricsConfig struct {
	Enabled       bool   `json:"enabled" yaml:"enabled"`
	PrometheusURL string `json:"prometheus_url" yaml:"prometheus_url"` // Prometheus server for token usage queries
}

// NotifyConfig configures the outbound notifier.
type NotifyConfig struct {
	Enabled bool          `json:"enabled" yaml:"enabled"`
	URL     string        `json:"url" yaml:"url"`
	Timeout time.Duration `json:"timeout" yaml:"timeout"`
}

// DebugConfig defines configuration for debug logging.
type DebugConfig struct {
	LLMMessages bool `json:"llm_messages" yaml:"llm_messages"`
}

// Config is the complete ticketsmith configuration.
type Config struct {
	Server       ServerConfig       `json:"server" yaml:"server"`
	Database     DatabaseConfig     `json:"database" yaml:"database"`
	Models       ModelsConfig       `json:"models" yaml:"models"`
	Conversation ConversationConfig `json:"conversation" yaml:"conversation"`
	Coder        CoderConfig        `json:"coder" yaml:"coder"`
	Retry        RetryConfig        `json:"retry" yaml:"retry"`
	Metrics      MetricsConfig      `json:"metrics" yaml:"metrics"`
	Notify       NotifyConfig       `json:"notify" yaml:"notify"`
	Debug        DebugConfig        `json:"debug" yaml:"debug"`
}

// GetConfig returns the current global config BY VALUE.
func GetConfig() (Config, error) {
	mu.RLock()
	defer mu.RUnlock()
	if config == nil {
		return Config{}, fmt.Errorf("config not initialized - call LoadConfig first")
	}
	return *config, nil
}

// SetConfigForTesting sets the global config. Pass nil to reset.
func SetConfigForTesting(cfg *Config) {
	mu.Lock()
	defer mu.Unlock()
	config = cfg
}

// LoadConfig loads path into the global singleton. An empty path loads defaults only.
func LoadConfig(path string) error {
	var (
		loaded *Config
		err    error
	)
	if path == "" {
		getLogger().Info("📝 No config file given, using defaults")
		loaded = DefaultConfig()
	} else {
		getLogger().Info("📝 Loading config from %s", path)
		loaded, err = Load(path)
		if err != nil {
			return err
		}
	}

	mu.Lock()
	config = loaded
	mu.Unlock()

	getLogger().Info("✅ Config loaded and validated successfully")
	return nil
}

// DefaultConfig returns a validated config with every default applied.
func DefaultConfig() *Config {
	cfg := &Config{}
	applyEnvOverrides(cfg)
	applyDefaults(cfg)
	return cfg
}

// GetAPIKey returns the API key for a given provider. For Ollama it returns the host URL.
func GetAPIKey(provider string) (string, error) {
	var envVar string
	switch provider {
	case ProviderAnthropic:
		envVar = EnvAnthropicAPIKey
	case ProviderOpenAI:
		envVar = EnvOpenAIAPIKey
	case ProviderGoogle:
		envVar = EnvGoogleAPIKey
	case ProviderOllama:
		host := os.Getenv(EnvOllamaHost)
		if host == "" {
			host = "http://localhost:11434"
		}
		return host, nil
	default:
		return "", fmt.Errorf("unknown provider: %s", provider)
	}

	key, err := GetSecret(envVar)
	if err == nil && key != "" {
		return key, nil
	}
	return "", fmt.Errorf("API key not found: %s not found in secrets file or environment variables", envVar)
}

// GetGitHubToken returns the GitHub token, or "" when none is configured.
func GetGitHubToken() string {
	token, err := GetSecret(EnvGitHubToken)
	if err == nil {
		return token
	}
	return ""
}
