package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix namespaces environment overrides, e.g. TICKETSMITH_CODER_MAX_ROUNDS.
const EnvPrefix = "TICKETSMITH_"

var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

// Load reads a JSON or YAML config file with environment variable substitution.
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Replace environment variable placeholders.
	dataStr := envVarRegex.ReplaceAllStringFunc(string(data), func(match string) string {
		envVar := match[2 : len(match)-1]
		if value := os.Getenv(envVar); value != "" {
			return value
		}
		return match
	})

	var cfg Config
	switch strings.ToLower(filepath.Ext(configPath)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal([]byte(dataStr), &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	default:
		if err := json.Unmarshal([]byte(dataStr), &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config JSON: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	v := reflect.ValueOf(cfg).Elem()
	applyEnvOverridesRecursive(v, v.Type(), EnvPrefix)
}

func applyEnvOverridesRecursive(v reflect.Value, t reflect.Type, prefix string) {
	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		jsonTag := fieldType.Tag.Get("json")
		if jsonTag == "" || jsonTag == "-" {
			continue
		}

		fieldName := strings.Split(jsonTag, ",")[0]
		envKey := strings.ToUpper(prefix + fieldName)

		if field.Kind() == reflect.Struct {
			applyEnvOverridesRecursive(field, field.Type(), envKey+"_")
			continue
		}

		if envValue := os.Getenv(envKey); envValue != "" {
			setFieldFromEnv(field, envValue)
		}
	}
}

func setFieldFromEnv(field reflect.Value, envValue string) {
	if !field.CanSet() {
		return
	}

	// time.Duration is an int64 underneath; accept "30s" style values.
	if field.Type() == reflect.TypeOf(time.Duration(0)) {
		if d, err := time.ParseDuration(envValue); err == nil {
			field.SetInt(int64(d))
		}
		return
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(envValue)
	case reflect.Int, reflect.Int64:
		if val, err := strconv.ParseInt(envValue, 10, 64); err == nil {
			field.SetInt(val)
		}
	case reflect.Float64:
		if val, err := strconv.ParseFloat(envValue, 64); err == nil {
			field.SetFloat(val)
		}
	case reflect.Bool:
		if val, err := strconv.ParseBool(envValue); err == nil {
			field.SetBool(val)
		}
	}
}

// applyDefaults sets default values for missing configuration.
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = DefaultHost
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = DefaultPort
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = DefaultDatabasePath
	}

	if cfg.Models.Feedback == "" {
		cfg.Models.Feedback = DefaultFeedbackModel
	}
	if cfg.Models.Planner == "" {
		cfg.Models.Planner = DefaultPlannerModel
	}
	if cfg.Models.Utility == "" {
		cfg.Models.Utility = DefaultUtilityModel
	}
	if cfg.Models.Coder == "" {
		cfg.Models.Coder = DefaultCoderModel
	}

	if cfg.Conversation.Backend == "" {
		cfg.Conversation.Backend = ConversationBackendMemory
	}
	if cfg.Conversation.LeaseTTL == 0 {
		cfg.Conversation.LeaseTTL = DefaultLeaseTTL
	}

	if cfg.Coder.MaxRounds == 0 {
		cfg.Coder.MaxRounds = DefaultMaxRounds
	}
	if cfg.Coder.BashOutputBytes == 0 {
		cfg.Coder.BashOutputBytes = DefaultBashOutputBytes
	}
	if cfg.Coder.ReadFileBytes == 0 {
		cfg.Coder.ReadFileBytes = DefaultReadFileBytes
	}
	if cfg.Coder.TranscriptTokens == 0 {
		cfg.Coder.TranscriptTokens = DefaultTranscriptTokens
	}
	if cfg.Coder.CommandTimeout == 0 {
		cfg.Coder.CommandTimeout = DefaultCommandTimeout
	}
	if cfg.Coder.CloneTimeout == 0 {
		cfg.Coder.CloneTimeout = DefaultCloneTimeout
	}
	if cfg.Coder.WorkDir == "" {
		cfg.Coder.WorkDir = os.TempDir()
	}
	if cfg.Coder.GitUserName == "" {
		cfg.Coder.GitUserName = DefaultGitUserName
	}
	if cfg.Coder.GitUserEmail == "" {
		cfg.Coder.GitUserEmail = DefaultGitUserEmail
	}

	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry.MaxAttempts = 3
	}
	if cfg.Retry.InitialDelay == 0 {
		cfg.Retry.InitialDelay = 100 * time.Millisecond
	}
	if cfg.Retry.MaxDelay == 0 {
		cfg.Retry.MaxDelay = 10 * time.Second
	}
	if cfg.Retry.BackoffFactor == 0 {
		cfg.Retry.BackoffFactor = 2.0
	}

	if cfg.Notify.URL == "" {
		cfg.Notify.URL = DefaultNotifyURL
	}
	if cfg.Notify.Timeout == 0 {
		cfg.Notify.Timeout = DefaultNotifyTimeout
	}
}

func validateConfig(cfg *Config) error {
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", cfg.Server.Port)
	}

	for role, model := range map[string]string{
		"feedback": cfg.Models.Feedback,
		"planner":  cfg.Models.Planner,
		"utility":  cfg.Models.Utility,
		"coder":    cfg.Models.Coder,
	} {
		if _, err := GetModelProvider(model); err != nil {
			return fmt.Errorf("models.%s: %w", role, err)
		}
	}
	if cfg.Models.Temperature < 0 || cfg.Models.Temperature > 2 {
		return fmt.Errorf("models.temperature %.2f must be between 0 and 2", cfg.Models.Temperature)
	}

	switch cfg.Conversation.Backend {
	case ConversationBackendMemory, ConversationBackendSQLite:
	default:
		return fmt.Errorf("conversation.backend must be %q or %q, got %q",
			ConversationBackendMemory, ConversationBackendSQLite, cfg.Conversation.Backend)
	}

	if cfg.Coder.MaxRounds < 1 {
		return fmt.Errorf("coder.max_rounds must be positive")
	}
	if cfg.Coder.BashOutputBytes < 256 {
		return fmt.Errorf("coder.bash_output_bytes must be at least 256")
	}
	if cfg.Coder.ReadFileBytes < 256 {
		return fmt.Errorf("coder.read_file_bytes must be at least 256")
	}

	if cfg.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be at least 1")
	}
	if cfg.Retry.BackoffFactor < 1 {
		return fmt.Errorf("retry.backoff_factor must be >= 1")
	}
	return nil
}
