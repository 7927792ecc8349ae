package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"eino_counsel/internal/llm"
	"eino_counsel/pkg"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Config is the full runtime configuration. Policy knobs come from YAML;
// secrets and deployment values are overlaid from the environment.
type Config struct {
	Log      pkg.LogConfig  `yaml:"log"`
	Provider ProviderConfig `yaml:"provider"`
	Models   ModelsConfig   `yaml:"models"`
	Budget   BudgetConfig   `yaml:"budget"`
	Cache    CacheConfig    `yaml:"cache"`
	Retry    RetryConfig    `yaml:"retry"`
	Timeouts TimeoutConfig  `yaml:"timeouts"`
	Safety   SafetyConfig   `yaml:"safety"`
	Memory   MemoryConfig   `yaml:"memory"`
	Redis    RedisConfig    `yaml:"redis"`
	Storage  StorageConfig  `yaml:"storage"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// ProviderConfig selects the completion backend
type ProviderConfig struct {
	Name    string            `yaml:"name" validate:"omitempty,oneof=openai groq openrouter ollama"`
	BaseURL string            `yaml:"base_url" validate:"omitempty,url"`
	APIKey  string            `yaml:"-"`
	Aliases map[string]string `yaml:"aliases"`
}

// ModelsConfig names the two routed models
type ModelsConfig struct {
	Capable   string `yaml:"capable" validate:"required"`
	Efficient string `yaml:"efficient" validate:"required"`
}

// BudgetConfig bounds daily token spend
type BudgetConfig struct {
	DailyTokens   int64  `yaml:"daily_tokens" validate:"gt=0"`
	ResetSchedule string `yaml:"reset_schedule"`
	// Counter is "memory" or "redis"
	Counter string `yaml:"counter" validate:"omitempty,oneof=memory redis"`
}

// CacheConfig tunes the LOW_RISK response cache
type CacheConfig struct {
	TTL       time.Duration `yaml:"ttl" validate:"gt=0"`
	OpTimeout time.Duration `yaml:"op_timeout" validate:"gt=0"`
}

// RetryConfig bounds backend retries
type RetryConfig struct {
	MaxAttempts     int           `yaml:"max_attempts" validate:"gte=1,lte=10"`
	InitialInterval time.Duration `yaml:"initial_interval" validate:"gt=0"`
	MaxInterval     time.Duration `yaml:"max_interval" validate:"gtefield=InitialInterval"`
}

// TimeoutConfig bounds each blocking stage
type TimeoutConfig struct {
	Classify   time.Duration `yaml:"classify" validate:"gt=0"`
	Generation time.Duration `yaml:"generation" validate:"gt=0"`
	Turn       time.Duration `yaml:"turn" validate:"gt=0"`
}

// SafetyConfig toggles optional gates and generation bounds
type SafetyConfig struct {
	BlockDiagnosticLanguage *bool   `yaml:"block_diagnostic_language"`
	MaxOutputTokens         int     `yaml:"max_output_tokens" validate:"gt=0"`
	Temperature             float32 `yaml:"temperature" validate:"gte=0,lte=2"`
}

// MemoryConfig sizes long-term memory handling
type MemoryConfig struct {
	ContextMaxChars int           `yaml:"context_max_chars" validate:"gt=0"`
	Workers         int           `yaml:"workers" validate:"gt=0"`
	QueueSize       int           `yaml:"queue_size" validate:"gt=0"`
	JobTimeout      time.Duration `yaml:"job_timeout" validate:"gt=0"`
	SessionTTL      time.Duration `yaml:"session_ttl" validate:"gt=0"`
	SessionMessages int           `yaml:"session_messages" validate:"gt=0"`
}

// RedisConfig points at the optional Redis backend. An empty URL selects the
// in-process store.
type RedisConfig struct {
	URL string `yaml:"url"`
}

// StorageConfig locates the SQLite memory database
type StorageConfig struct {
	DatabasePath string `yaml:"database_path" validate:"required"`
}

// MetricsConfig controls the Prometheus listener. An empty address disables it.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// envOverrides are read with envconfig after the YAML file
type envOverrides struct {
	OpenAIAPIKey     string `envconfig:"OPENAI_API_KEY"`
	GroqAPIKey       string `envconfig:"GROQ_API_KEY"`
	OpenRouterAPIKey string `envconfig:"OPENROUTER_API_KEY"`
	Provider         string `envconfig:"LLM_PROVIDER"`
	RedisURL         string `envconfig:"REDIS_URL"`
	DatabasePath     string `envconfig:"DATABASE_PATH"`
	MetricsAddr      string `envconfig:"METRICS_ADDR"`
	Log              pkg.LogConfig
}

// Default returns the configuration used when no file is present
func Default() *Config {
	block := true
	return &Config{
		Log: pkg.LogConfig{
			Level:      "info",
			Format:     "console",
			Output:     "stderr",
			TimeFormat: "rfc3339",
		},
		Models: ModelsConfig{
			Capable:   "gpt-4o",
			Efficient: "gpt-4o-mini",
		},
		Budget: BudgetConfig{
			DailyTokens:   100000,
			ResetSchedule: "0 0 * * *",
			Counter:       "memory",
		},
		Cache: CacheConfig{
			TTL:       time.Hour,
			OpTimeout: 500 * time.Millisecond,
		},
		Retry: RetryConfig{
			MaxAttempts:     3,
			InitialInterval: 2 * time.Second,
			MaxInterval:     10 * time.Second,
		},
		Timeouts: TimeoutConfig{
			Classify:   5 * time.Second,
			Generation: 15 * time.Second,
			Turn:       60 * time.Second,
		},
		Safety: SafetyConfig{
			BlockDiagnosticLanguage: &block,
			MaxOutputTokens:         300,
			Temperature:             0.7,
		},
		Memory: MemoryConfig{
			ContextMaxChars: 2000,
			Workers:         2,
			QueueSize:       64,
			JobTimeout:      30 * time.Second,
			SessionTTL:      40 * time.Minute,
			SessionMessages: 10,
		},
		Storage: StorageConfig{
			DatabasePath: "data/counsel.db",
		},
	}
}

// LoadConfig reads path over the defaults, applies environment overrides and
// validates the result. A missing file is not an error.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("error parsing YAML: %w", err)
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	cfg.fillZeroes()

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	var env envOverrides
	if err := envconfig.Process("", &env); err != nil {
		return fmt.Errorf("error processing environment configuration: %w", err)
	}

	if env.Provider != "" {
		cfg.Provider.Name = env.Provider
	}
	if cfg.Provider.Name == "" {
		cfg.Provider.Name = selectProvider(env)
	}
	switch cfg.Provider.Name {
	case llm.ProviderGroq:
		cfg.Provider.APIKey = env.GroqAPIKey
	case llm.ProviderOpenRouter:
		cfg.Provider.APIKey = env.OpenRouterAPIKey
	case llm.ProviderOpenAI:
		cfg.Provider.APIKey = env.OpenAIAPIKey
	}

	if env.RedisURL != "" {
		cfg.Redis.URL = env.RedisURL
	}
	if env.DatabasePath != "" {
		cfg.Storage.DatabasePath = env.DatabasePath
	}
	if env.MetricsAddr != "" {
		cfg.Metrics.Addr = env.MetricsAddr
	}

	overlay(&cfg.Log.Level, env.Log.Level)
	overlay(&cfg.Log.Format, env.Log.Format)
	overlay(&cfg.Log.Output, env.Log.Output)
	overlay(&cfg.Log.TimeFormat, env.Log.TimeFormat)
	overlay(&cfg.Log.FilePath, env.Log.FilePath)
	return nil
}

// selectProvider picks the first provider with a key, preferring OpenAI
func selectProvider(env envOverrides) string {
	switch {
	case env.OpenAIAPIKey != "":
		return llm.ProviderOpenAI
	case env.GroqAPIKey != "":
		return llm.ProviderGroq
	case env.OpenRouterAPIKey != "":
		return llm.ProviderOpenRouter
	default:
		return llm.ProviderOllama
	}
}

func overlay(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// fillZeroes restores defaults for fields a YAML file set to zero values
func (c *Config) fillZeroes() {
	def := Default()
	if c.Budget.ResetSchedule == "" {
		c.Budget.ResetSchedule = def.Budget.ResetSchedule
	}
	if c.Budget.Counter == "" {
		c.Budget.Counter = def.Budget.Counter
	}
	if c.Safety.BlockDiagnosticLanguage == nil {
		c.Safety.BlockDiagnosticLanguage = def.Safety.BlockDiagnosticLanguage
	}
}

// BlockDiagnostic reports whether clinical labels fail the output gate
func (c *Config) BlockDiagnostic() bool {
	return c.Safety.BlockDiagnosticLanguage == nil || *c.Safety.BlockDiagnosticLanguage
}

// LLMProvider converts the provider section for llm.NewChatModels
func (c *Config) LLMProvider() llm.ProviderConfig {
	return llm.ProviderConfig{
		Name:         c.Provider.Name,
		APIKey:       c.Provider.APIKey,
		BaseURL:      c.Provider.BaseURL,
		DefaultModel: c.Models.Efficient,
		Timeout:      c.Timeouts.Generation,
		Aliases:      c.Provider.Aliases,
	}
}

// RetryPolicy converts the retry section for the llm client
func (c *Config) RetryPolicy() llm.RetryPolicy {
	return llm.RetryPolicy{
		MaxAttempts:     c.Retry.MaxAttempts,
		InitialInterval: c.Retry.InitialInterval,
		MaxInterval:     c.Retry.MaxInterval,
	}
}
