package main

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ticketsmith/pkg/config"
	"ticketsmith/pkg/persistence"
)

// scriptedPrompter answers prompts in order.
type scriptedPrompter struct {
	answers []string
	labels  []string
}

func (s *scriptedPrompter) ReadSecret(label string) (string, error) {
	s.labels = append(s.labels, label)
	if len(s.answers) == 0 {
		return "", errors.New("no scripted answer")
	}
	answer := s.answers[0]
	s.answers = s.answers[1:]
	return answer, nil
}

func resetSecrets(t *testing.T) {
	t.Helper()
	config.SetDecryptedSecrets(nil)
	t.Cleanup(func() { config.SetDecryptedSecrets(nil) })
}

func TestLoadEnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("TICKETSMITH_TEST_VALUE=from-file\n"), 0o600))
	t.Setenv("TICKETSMITH_TEST_VALUE", "")
	require.NoError(t, os.Unsetenv("TICKETSMITH_TEST_VALUE"))

	require.NoError(t, loadEnvFile(path))
	assert.Equal(t, "from-file", os.Getenv("TICKETSMITH_TEST_VALUE"))

	assert.NoError(t, loadEnvFile(filepath.Join(dir, "missing.env")))
	assert.NoError(t, loadEnvFile(""))
}

func TestResolvePassword(t *testing.T) {
	t.Setenv(EnvPassword, "from-env")
	password, err := resolvePassword(false, true, &scriptedPrompter{})
	require.NoError(t, err)
	assert.Equal(t, "from-env", password)

	p := &scriptedPrompter{answers: []string{"typed"}}
	password, err = resolvePassword(true, false, p)
	require.NoError(t, err)
	assert.Equal(t, "typed", password)

	_, err = resolvePassword(true, true, &scriptedPrompter{answers: []string{"a", "b"}})
	assert.ErrorContains(t, err, "do not match")

	_, err = resolvePassword(true, false, &scriptedPrompter{answers: []string{""}})
	assert.Error(t, err)
}

func TestUnlockSecretsWithoutFileIsNoop(t *testing.T) {
	resetSecrets(t)
	p := &scriptedPrompter{}
	require.NoError(t, unlockSecrets(t.TempDir(), true, p))
	assert.Empty(t, p.labels)
}

func TestSecretsSetThenUnlock(t *testing.T) {
	resetSecrets(t)
	t.Setenv(EnvPassword, "")
	dir := t.TempDir()

	create := &scriptedPrompter{answers: []string{"hunter2", "hunter2", "sk-ant-123"}}
	require.NoError(t, runSecretsCommand([]string{"secrets", "set", "ANTHROPIC_API_KEY"}, dir, false, create))
	assert.True(t, config.SecretsFileExists(dir))
	assert.Equal(t, []string{"Secrets password: ", "Confirm password: ", "Value for ANTHROPIC_API_KEY: "}, create.labels)

	// A second secret reuses the existing file without confirmation.
	config.SetDecryptedSecrets(nil)
	add := &scriptedPrompter{answers: []string{"hunter2", "ghp_abc"}}
	require.NoError(t, runSecretsCommand([]string{"secrets", "set", "GITHUB_TOKEN"}, dir, false, add))

	config.SetDecryptedSecrets(nil)
	require.NoError(t, unlockSecrets(dir, false, &scriptedPrompter{answers: []string{"hunter2"}}))
	assert.Equal(t, []string{"ANTHROPIC_API_KEY", "GITHUB_TOKEN"}, config.GetDecryptedSecretNames())
	value, err := config.GetSecret("GITHUB_TOKEN")
	require.NoError(t, err)
	assert.Equal(t, "ghp_abc", value)

	err = unlockSecrets(dir, false, &scriptedPrompter{answers: []string{"wrong"}})
	assert.ErrorContains(t, err, "failed to unlock secrets")
}

func TestRunSecretsCommandUsage(t *testing.T) {
	for _, args := range [][]string{
		{"serve"},
		{"secrets"},
		{"secrets", "set"},
		{"secrets", "rotate"},
	} {
		assert.Error(t, runSecretsCommand(args, t.TempDir(), true, &scriptedPrompter{}), "%v", args)
	}
}

func TestWireBuildsApplication(t *testing.T) {
	resetSecrets(t)
	t.Setenv(config.EnvAnthropicAPIKey, "sk-ant-test")
	t.Setenv(config.EnvOpenAIAPIKey, "sk-test")

	db, err := persistence.OpenDatabase(filepath.Join(t.TempDir(), "ticketsmith.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	cfg := config.DefaultConfig()
	cfg.Metrics.Enabled = true
	cfg.Conversation.Backend = config.ConversationBackendSQLite
	cfg.Notify.Enabled = false

	app, err := wire(cfg, persistence.NewDatabaseOperations(db))
	require.NoError(t, err)
	assert.NotNil(t, app.engine)
	assert.NotNil(t, app.controller)

	families, err := app.registry.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}
