package llm

import "github.com/hazyhaar/whisperprint/internal/config"

// NewFromConfig builds a multi-provider client from the application
// config. Only providers with configured API keys are activated; with no
// keys at all the client has an empty chain and Paraphrase always fails,
// which the engine treats as "use the original text".
func NewFromConfig(cfg config.LLMConfig) *Client {
	var providers []Provider

	if cfg.OpenAIAPIKey != "" {
		providers = append(providers, NewOpenAIProvider(OpenAIConfig{
			Name:         "openai",
			BaseURL:      "https://api.openai.com/v1",
			APIKey:       cfg.OpenAIAPIKey,
			DefaultModel: "gpt-4o-mini",
		}))
	}

	if cfg.AnthropicAPIKey != "" {
		providers = append(providers, NewAnthropicProvider(cfg.AnthropicAPIKey))
	}

	if cfg.GeminiAPIKey != "" {
		providers = append(providers, NewGeminiProvider(cfg.GeminiAPIKey))
	}

	return New(providers)
}
