// Package llm provides text-generation provider clients behind the shared
// types.LLMClient interface. Provider failures (timeout, rate limit,
// transport) are returned as plain errors; callers apply their own fallback
// logic per phase.
package llm

import (
	"fmt"
	"os"
	"time"

	"mcpforge/internal/types"
)

// Client is the provider-neutral interface consumed by every phase.
type Client = types.LLMClient

// Provider identifies a text-generation backend.
type Provider string

const (
	ProviderGemini    Provider = "gemini"
	ProviderGeminiSDK Provider = "gemini-sdk"
	ProviderOpenAI    Provider = "openai"
)

// Config selects and configures a provider.
type Config struct {
	Provider Provider
	APIKey   string
	BaseURL  string
	Model    string
	Timeout  time.Duration
}

// NewFromConfig builds the configured client. The API key falls back to the
// provider's conventional environment variable when unset.
func NewFromConfig(cfg Config) (Client, error) {
	switch cfg.Provider {
	case ProviderGemini, "":
		key := cfg.APIKey
		if key == "" {
			key = os.Getenv("GEMINI_API_KEY")
		}
		if key == "" {
			return nil, fmt.Errorf("gemini provider requires an API key")
		}
		gc := DefaultGeminiConfig(key)
		if cfg.BaseURL != "" {
			gc.BaseURL = cfg.BaseURL
		}
		if cfg.Model != "" {
			gc.Model = cfg.Model
		}
		if cfg.Timeout > 0 {
			gc.Timeout = cfg.Timeout
		}
		return NewGeminiClientWithConfig(gc), nil

	case ProviderGeminiSDK:
		key := cfg.APIKey
		if key == "" {
			key = os.Getenv("GEMINI_API_KEY")
		}
		if key == "" {
			return nil, fmt.Errorf("gemini-sdk provider requires an API key")
		}
		return NewGenAIClient(key, cfg.Model)

	case ProviderOpenAI:
		key := cfg.APIKey
		if key == "" {
			key = os.Getenv("OPENAI_API_KEY")
		}
		if key == "" {
			return nil, fmt.Errorf("openai provider requires an API key")
		}
		oc := DefaultOpenAIConfig(key)
		if cfg.BaseURL != "" {
			oc.BaseURL = cfg.BaseURL
		}
		if cfg.Model != "" {
			oc.Model = cfg.Model
		}
		if cfg.Timeout > 0 {
			oc.Timeout = cfg.Timeout
		}
		return NewOpenAIClientWithConfig(oc), nil

	default:
		return nil, fmt.Errorf("unknown provider: %s", cfg.Provider)
	}
}
