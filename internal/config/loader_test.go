package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"eino_counsel/internal/llm"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"OPENAI_API_KEY", "GROQ_API_KEY", "OPENROUTER_API_KEY", "LLM_PROVIDER",
		"REDIS_URL", "DATABASE_PATH", "METRICS_ADDR", "LOG_LEVEL",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "gpt-4o", cfg.Models.Capable)
	assert.Equal(t, "gpt-4o-mini", cfg.Models.Efficient)
	assert.Equal(t, int64(100000), cfg.Budget.DailyTokens)
	assert.Equal(t, time.Hour, cfg.Cache.TTL)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.Retry.InitialInterval)
	assert.Equal(t, 10*time.Second, cfg.Retry.MaxInterval)
	assert.Equal(t, 5*time.Second, cfg.Timeouts.Classify)
	assert.Equal(t, 15*time.Second, cfg.Timeouts.Generation)
	assert.Equal(t, 300, cfg.Safety.MaxOutputTokens)
	assert.True(t, cfg.BlockDiagnostic())
	assert.Equal(t, llm.ProviderOllama, cfg.Provider.Name)
}

func TestLoadConfig_FileAndEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("GROQ_API_KEY", "gsk-test")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("LOG_LEVEL", "debug")

	path := writeFile(t, `
models:
  capable: gpt-4o
  efficient: gpt-4o-mini
budget:
  daily_tokens: 5000
cache:
  ttl: 30m
safety:
  block_diagnostic_language: false
provider:
  aliases:
    gpt-4o: llama-3.3-70b-versatile
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, llm.ProviderGroq, cfg.Provider.Name)
	assert.Equal(t, "gsk-test", cfg.Provider.APIKey)
	assert.Equal(t, "redis://localhost:6379/0", cfg.Redis.URL)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, int64(5000), cfg.Budget.DailyTokens)
	assert.Equal(t, 30*time.Minute, cfg.Cache.TTL)
	assert.False(t, cfg.BlockDiagnostic())
	assert.Equal(t, "0 0 * * *", cfg.Budget.ResetSchedule)

	provider := cfg.LLMProvider()
	assert.Equal(t, "llama-3.3-70b-versatile", provider.Aliases["gpt-4o"])
}

func TestLoadConfig_ProviderPreference(t *testing.T) {
	clearEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("OPENROUTER_API_KEY", "or-test")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, llm.ProviderOpenAI, cfg.Provider.Name)
	assert.Equal(t, "sk-test", cfg.Provider.APIKey)

	t.Setenv("LLM_PROVIDER", "openrouter")
	cfg, err = LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "or-test", cfg.Provider.APIKey)
}

func TestLoadConfig_Invalid(t *testing.T) {
	clearEnv(t)

	cases := map[string]string{
		"bad yaml":       "models: [",
		"zero budget":    "budget:\n  daily_tokens: 0\n",
		"bad provider":   "provider:\n  name: bedrock\n",
		"inverted retry": "retry:\n  initial_interval: 20s\n  max_interval: 1s\n",
		"too many tries": "retry:\n  max_attempts: 50\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadConfig(writeFile(t, body))
			assert.Error(t, err)
		})
	}
}

func TestRetryPolicy(t *testing.T) {
	cfg := Default()
	assert.Equal(t, llm.DefaultRetryPolicy(), cfg.RetryPolicy())
}
