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
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaults(t *testing.T) {
	t.Setenv(EnvConfigPath, "")
	t.Setenv(EnvOllamaBaseURL, "")
	t.Setenv(EnvOllamaModel, "")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Address)
	assert.Equal(t, "ollama", cfg.LLM.Provider)
	assert.Equal(t, "http://localhost:11434", cfg.LLM.BaseURL)
	assert.Equal(t, "deepseek-r1:8b", cfg.LLM.Model)
	assert.Equal(t, "rod", cfg.Browser.Driver)
	assert.True(t, cfg.Browser.IsHeadless())
	assert.Equal(t, 500, cfg.Browser.PreviewChars)
	assert.Equal(t, 0, cfg.Pipeline.StageRetries)
	assert.Equal(t, "memory", cfg.Storage.Reports.Driver)
	assert.Equal(t, "memory", cfg.TaskQueue.Driver)
	assert.Equal(t, 1, cfg.TaskQueue.Workers)
	assert.Equal(t, filepath.Join(".", "data"), cfg.Runtime.DataDir)
}

func TestLoadYAML(t *testing.T) {
	t.Setenv(EnvOllamaBaseURL, "")
	t.Setenv(EnvOllamaModel, "")
	path := writeFile(t, "deepresearch.yaml", `
server:
  address: ":9090"
llm:
  provider: openai
  model: gpt-4o-mini
  timeout: 90s
browser:
  driver: http
  headless: false
pipeline:
  stage_retries: 2
  retry_backoff: 500ms
storage:
  reports:
    driver: mysql
    mysql:
      dsn: "user:pass@tcp(localhost:3306)/research"
      conn_max_lifetime: 10m
task_queue:
  driver: redis
  workers: 4
runtime:
  data_dir: state
log:
  level: debug
  audit:
    enabled: true
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	dir := filepath.Dir(path)
	assert.Equal(t, ":9090", cfg.Server.Address)
	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, "https://api.openai.com/v1", cfg.LLM.BaseURL)
	assert.Equal(t, 90*time.Second, cfg.LLM.Timeout)
	assert.Equal(t, "http", cfg.Browser.Driver)
	assert.False(t, cfg.Browser.IsHeadless())
	assert.Equal(t, 2, cfg.Pipeline.StageRetries)
	assert.Equal(t, 500*time.Millisecond, cfg.Pipeline.RetryBackoff)
	assert.Equal(t, 10*time.Minute, cfg.Storage.Reports.MySQL.ConnMaxLifetime)
	assert.Equal(t, 4, cfg.TaskQueue.Workers)
	assert.Equal(t, 4, cfg.TaskQueue.RabbitMQ.Prefetch)
	assert.Equal(t, filepath.Join(dir, "state"), cfg.Runtime.DataDir)
	assert.Equal(t, filepath.Join(dir, "state", "audit.log"), cfg.Log.Audit.Path)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadJSON(t *testing.T) {
	path := writeFile(t, "config.json", `{"server": {"address": ":7000"}, "task_queue": {"driver": "memory"}}`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":7000", cfg.Server.Address)
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv(EnvOllamaBaseURL, "http://gpu-box:11434")
	t.Setenv(EnvOllamaModel, "llama3.1:8b")
	path := writeFile(t, "c.yaml", "llm:\n  model: ignored\n")
	t.Setenv(EnvConfigPath, path)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "http://gpu-box:11434", cfg.LLM.BaseURL)
	assert.Equal(t, "llama3.1:8b", cfg.LLM.Model)
}

func TestMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Address)
}

func TestValidateRejectsUnknownValues(t *testing.T) {
	path := writeFile(t, "bad.yaml", `
llm:
  provider: anthropic
task_queue:
  driver: kafka
storage:
  tasks:
    driver: mysql
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "llm.provider")
	assert.Contains(t, err.Error(), "task_queue.driver")
	assert.Contains(t, err.Error(), "storage.tasks.mysql.dsn is required")
}

func TestParseError(t *testing.T) {
	path := writeFile(t, "broken.yaml", "server: [unterminated")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse config")
}

func TestAPIKeyFromEnvironment(t *testing.T) {
	t.Setenv("TEST_DEEPRESEARCH_KEY", " sk-test ")
	assert.Equal(t, "sk-test", LLMConfig{APIKeyEnv: "TEST_DEEPRESEARCH_KEY"}.APIKey())
	assert.Empty(t, LLMConfig{}.APIKey())
}
