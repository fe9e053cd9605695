package engine

import (
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

// ProviderConfig describes one selectable LLM provider in the client's API
// settings panel
type ProviderConfig struct {
	Label  string   `json:"label"`
	Models []string `json:"models"`
	EnvKey string   `json:"envKey"`
}

// Providers returns the static catalog of configurable LLM providers
func Providers() map[string]ProviderConfig {
	return map[string]ProviderConfig{
		"openai": {
			Label:  "OpenAI API Key",
			Models: []string{"gpt-4o", "gpt-4o-mini", "gpt-3.5-turbo"},
			EnvKey: "OPENAI_API_KEY",
		},
		"anthropic": {
			Label:  "Claude API Key",
			Models: []string{"claude-3-opus", "claude-3-sonnet", "claude-3-haiku"},
			EnvKey: "ANTHROPIC_API_KEY",
		},
		"ollama": {
			Label:  "Ollama Host",
			Models: []string{"llama3", "mistral", "qwen2"},
			EnvKey: "OLLAMA_HOST",
		},
	}
}

// newModel builds an llms.Model for the given provider and model name,
// reading credentials from the store
func newModel(provider, model string, creds *CredentialStore, ollamaHost string) (llms.Model, error) {
	switch provider {
	case "openai":
		opts := []openai.Option{openai.WithModel(model)}
		if token := creds.Get("OPENAI_API_KEY"); token != "" {
			opts = append(opts, openai.WithToken(token))
		}
		client, err := openai.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("creating openai model %s: %w", model, err)
		}
		return client, nil
	case "anthropic":
		opts := []anthropic.Option{anthropic.WithModel(model)}
		if token := creds.Get("ANTHROPIC_API_KEY"); token != "" {
			opts = append(opts, anthropic.WithToken(token))
		}
		client, err := anthropic.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("creating anthropic model %s: %w", model, err)
		}
		return client, nil
	case "ollama":
		opts := []ollama.Option{ollama.WithModel(model)}
		if ollamaHost != "" {
			opts = append(opts, ollama.WithServerURL(ollamaHost))
		}
		client, err := ollama.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("creating ollama model %s: %w", model, err)
		}
		return client, nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", provider)
	}
}
