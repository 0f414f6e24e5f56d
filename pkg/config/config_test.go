package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadJSONWithEnvSubstitution(t *testing.T) {
	t.Setenv("TS_TEST_DB", "/var/lib/ticketsmith.db")
	path := writeFile(t, "config.json", `{
		"server": {"port": 9090},
		"database": {"path": "${TS_TEST_DB}"},
		"models": {"coder": "gpt-4.1-nano"}
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "/var/lib/ticketsmith.db", cfg.Database.Path)
	assert.Equal(t, "gpt-4.1-nano", cfg.Models.Coder)
	assert.Equal(t, DefaultFeedbackModel, cfg.Models.Feedback)
	assert.Equal(t, DefaultMaxRounds, cfg.Coder.MaxRounds)
	assert.Equal(t, ConversationBackendMemory, cfg.Conversation.Backend)
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "config.yaml", `
server:
  host: 0.0.0.0
conversation:
  backend: sqlite
  lease_ttl: 45s
coder:
  max_rounds: 12
  command_timeout: 30s
notify:
  enabled: true
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, ConversationBackendSQLite, cfg.Conversation.Backend)
	assert.Equal(t, 45*time.Second, cfg.Conversation.LeaseTTL)
	assert.Equal(t, 12, cfg.Coder.MaxRounds)
	assert.Equal(t, 30*time.Second, cfg.Coder.CommandTimeout)
	assert.True(t, cfg.Notify.Enabled)
	assert.Equal(t, DefaultNotifyURL, cfg.Notify.URL)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("TICKETSMITH_CODER_MAX_ROUNDS", "7")
	t.Setenv("TICKETSMITH_METRICS_ENABLED", "true")
	t.Setenv("TICKETSMITH_RETRY_INITIAL_DELAY", "250ms")
	t.Setenv("TICKETSMITH_MODELS_TEMPERATURE", "0.4")

	cfg := DefaultConfig()
	assert.Equal(t, 7, cfg.Coder.MaxRounds)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, 250*time.Millisecond, cfg.Retry.InitialDelay)
	assert.InDelta(t, 0.4, cfg.Models.Temperature, 0.0001)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"unknown model", `{"models": {"coder": "mystery-model"}}`},
		{"bad backend", `{"conversation": {"backend": "redis"}}`},
		{"bad port", `{"server": {"port": 70000}}`},
		{"tiny bash budget", `{"coder": {"bash_output_bytes": 10}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, "config.json", tt.content))
			assert.Error(t, err)
		})
	}
}

func TestLoadConfigSingleton(t *testing.T) {
	defer SetConfigForTesting(nil)

	SetConfigForTesting(nil)
	_, err := GetConfig()
	require.Error(t, err)

	require.NoError(t, LoadConfig(""))
	cfg, err := GetConfig()
	require.NoError(t, err)
	assert.Equal(t, DefaultPort, cfg.Server.Port)

	cfg.Server.Port = 1
	again, _ := GetConfig()
	assert.Equal(t, DefaultPort, again.Server.Port, "GetConfig must return a copy")
}

func TestGetModelProvider(t *testing.T) {
	provider, err := GetModelProvider("claude-opus-x")
	require.NoError(t, err)
	assert.Equal(t, ProviderAnthropic, provider)

	provider, err = GetModelProvider("gemini-2.5-flash")
	require.NoError(t, err)
	assert.Equal(t, ProviderGoogle, provider)

	_, err = GetModelProvider("nope")
	assert.Error(t, err)
}

func TestGetAPIKey(t *testing.T) {
	SetDecryptedSecrets(nil)
	t.Setenv(EnvOpenAIAPIKey, "sk-openai")
	t.Setenv(EnvOllamaHost, "")

	key, err := GetAPIKey(ProviderOpenAI)
	require.NoError(t, err)
	assert.Equal(t, "sk-openai", key)

	host, err := GetAPIKey(ProviderOllama)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:11434", host)

	_, err = GetAPIKey("acme")
	assert.Error(t, err)
}

func TestCalculateCost(t *testing.T) {
	assert.InDelta(t, 18.0, CalculateCost("claude-sonnet-4-20250514", 1_000_000, 1_000_000), 0.0001)
	assert.Zero(t, CalculateCost("unknown", 10, 10))
}
