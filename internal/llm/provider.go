package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ollama"
	"github.com/cloudwego/eino-ext/components/model/openai"
	acl "github.com/cloudwego/eino-ext/libs/acl/openai"
	"github.com/cloudwego/eino/components/model"
)

// Supported providers
const (
	ProviderOpenAI     = "openai"
	ProviderGroq       = "groq"
	ProviderOpenRouter = "openrouter"
	ProviderOllama     = "ollama"
)

var defaultBaseURLs = map[string]string{
	ProviderGroq:       "https://api.groq.com/openai/v1",
	ProviderOpenRouter: "https://openrouter.ai/api/v1",
	ProviderOllama:     "http://localhost:11434",
}

// ProviderConfig selects and configures the completion backend
type ProviderConfig struct {
	Name         string
	APIKey       string
	BaseURL      string
	DefaultModel string
	Timeout      time.Duration
	Aliases      map[string]string
}

// ModelMapper turns abstract model names into provider model identifiers
type ModelMapper struct {
	provider string
	aliases  map[string]string
}

// NewModelMapper creates a mapper. Aliases take precedence over the
// provider's built-in rules.
func NewModelMapper(provider string, aliases map[string]string) *ModelMapper {
	return &ModelMapper{provider: provider, aliases: aliases}
}

// Resolve maps name for the configured provider
func (m *ModelMapper) Resolve(name string) string {
	if target, ok := m.aliases[name]; ok {
		return target
	}

	switch m.provider {
	case ProviderGroq:
		if !strings.HasPrefix(name, "gpt-") {
			return name
		}
		if strings.Contains(name, "mini") || strings.Contains(name, "gpt-3.5") {
			return "llama3-8b-8192"
		}
		return "llama3-70b-8192"
	case ProviderOpenRouter:
		if strings.Contains(name, "/") {
			return name
		}
		return "openai/" + name
	default:
		return name
	}
}

// NewChatModels builds the text and JSON-mode chat models for cfg
func NewChatModels(ctx context.Context, cfg ProviderConfig) (text, structured model.BaseChatModel, err error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURLs[cfg.Name]
	}
	mapper := NewModelMapper(cfg.Name, cfg.Aliases)
	defaultModel := mapper.Resolve(cfg.DefaultModel)

	switch cfg.Name {
	case ProviderOpenAI, ProviderGroq, ProviderOpenRouter:
		if cfg.APIKey == "" {
			return nil, nil, fmt.Errorf("API key is required for provider %s", cfg.Name)
		}
		base := openai.ChatModelConfig{
			APIKey:  cfg.APIKey,
			BaseURL: baseURL,
			Model:   defaultModel,
			Timeout: cfg.Timeout,
		}

		textModel, err := openai.NewChatModel(ctx, &base)
		if err != nil {
			return nil, nil, fmt.Errorf("error creating chat model: %w", err)
		}

		jsonCfg := base
		jsonCfg.ResponseFormat = &acl.ChatCompletionResponseFormat{
			Type: acl.ChatCompletionResponseFormatTypeJSONObject,
		}
		jsonModel, err := openai.NewChatModel(ctx, &jsonCfg)
		if err != nil {
			return nil, nil, fmt.Errorf("error creating structured chat model: %w", err)
		}
		return textModel, jsonModel, nil

	case ProviderOllama:
		base := ollama.ChatModelConfig{
			BaseURL: baseURL,
			Model:   defaultModel,
			Timeout: cfg.Timeout,
		}

		textModel, err := ollama.NewChatModel(ctx, &base)
		if err != nil {
			return nil, nil, fmt.Errorf("error creating ollama chat model: %w", err)
		}

		jsonCfg := base
		jsonCfg.Format = json.RawMessage(`"json"`)
		jsonModel, err := ollama.NewChatModel(ctx, &jsonCfg)
		if err != nil {
			return nil, nil, fmt.Errorf("error creating structured ollama chat model: %w", err)
		}
		return textModel, jsonModel, nil
	}

	return nil, nil, fmt.Errorf("unsupported provider %q", cfg.Name)
}
