package factory

import (
	"github.com/pkg/errors"

	"github.com/go-go-golems/loom/pkg/engine"
	"github.com/go-go-golems/loom/pkg/providers/claude"
	"github.com/go-go-golems/loom/pkg/providers/cohere"
	"github.com/go-go-golems/loom/pkg/providers/gemini"
	"github.com/go-go-golems/loom/pkg/providers/openai"
)

const (
	ProviderOpenAI     = "openai"
	ProviderClaude     = "claude"
	ProviderAnthropic  = "anthropic"
	ProviderGemini     = "gemini"
	ProviderCohere     = "cohere"
	ProviderOpenRouter = "openrouter"
	ProviderOllama     = "ollama"
)

const openRouterBaseURL = "https://openrouter.ai/api/v1"
const ollamaBaseURL = "http://localhost:11434/v1"

// NewEngine builds the engine for a provider name. OpenAI-compatible
// gateways reuse the openai adapter with an overridden base URL.
func NewEngine(provider string, credential engine.Credential, options ...engine.Option) (engine.Engine, error) {
	switch provider {
	case ProviderOpenAI:
		return openai.NewEngine(credential, options...)
	case ProviderClaude, ProviderAnthropic:
		return claude.NewEngine(credential, options...)
	case ProviderGemini:
		return gemini.NewEngine(credential, options...)
	case ProviderCohere:
		return cohere.NewEngine(credential, options...)
	case ProviderOpenRouter:
		if credential.BaseURL == "" {
			credential.BaseURL = openRouterBaseURL
		}
		return openai.NewEngine(credential, options...)
	case ProviderOllama:
		if credential.BaseURL == "" {
			credential.BaseURL = ollamaBaseURL
		}
		return openai.NewEngine(credential, options...)
	default:
		return nil, errors.Errorf("unknown provider: %s", provider)
	}
}

// Providers lists the supported provider names.
func Providers() []string {
	return []string{
		ProviderOpenAI,
		ProviderClaude,
		ProviderGemini,
		ProviderCohere,
		ProviderOpenRouter,
		ProviderOllama,
	}
}
