package llm

import (
	"fmt"

	"memoria/pkg/llm/config"
	"memoria/pkg/llm/providers/gemini"
	"memoria/pkg/llm/providers/openai"
	"memoria/pkg/memoria"
)

// BuildRegistry constructs one provider per configured profile.
//
// It returns memoria.ErrNotConfigured when cfg has no profiles.
func BuildRegistry(cfg config.Config) (*Registry, error) {
	if len(cfg.Providers) == 0 {
		return nil, fmt.Errorf("build llm registry: %w", memoria.ErrNotConfigured)
	}

	providers := make(map[string]memoria.LLMProvider, len(cfg.Providers))
	for _, name := range cfg.ProviderNames() {
		provider, err := BuildProvider(cfg.Providers[name])
		if err != nil {
			return nil, fmt.Errorf("build llm registry provider %s: %w", name, err)
		}
		providers[name] = provider
	}

	return NewRegistry(providers)
}

// BuildProvider constructs one provider from one resolved profile.
func BuildProvider(profile config.ProviderProfile) (memoria.LLMProvider, error) {
	switch profile.Type {
	case config.ProviderTypeOpenAI:
		provider, err := openai.New(OpenAIConfig(profile))
		if err != nil {
			return nil, err
		}
		return provider, nil
	case config.ProviderTypeGemini:
		provider, err := gemini.New(GeminiConfig(profile))
		if err != nil {
			return nil, err
		}
		return provider, nil
	default:
		return nil, fmt.Errorf("unsupported provider type %q", profile.Type)
	}
}

// OpenAIConfig maps one profile onto OpenAI client settings.
func OpenAIConfig(profile config.ProviderProfile) openai.ProviderConfig {
	cfg := openai.ProviderConfig{
		APIKey:  profile.APIKey,
		BaseURL: profile.BaseURL,
		API:     profile.OpenAIAPI(),
	}
	if profile.OpenAI != nil {
		cfg.Organization = profile.OpenAI.Organization
		cfg.Project = profile.OpenAI.Project
		cfg.MaxRetries = profile.OpenAI.MaxRetries
	}

	return cfg
}

// GeminiConfig maps one profile onto Gemini client settings.
func GeminiConfig(profile config.ProviderProfile) gemini.ProviderConfig {
	return gemini.ProviderConfig{
		APIKey:     profile.APIKey,
		BaseURL:    profile.BaseURL,
		APIVersion: profile.GeminiAPIVersion(),
	}
}
