// Package transcription builds the configured speech-to-text provider.
package transcription

import (
	"fmt"

	"memoria/pkg/llm"
	"memoria/pkg/llm/config"
	"memoria/pkg/memoria"
	"memoria/pkg/transcription/providers/gemini"
	"memoria/pkg/transcription/providers/openai"
)

// Build constructs the transcriber selected by cfg.Transcription.
//
// It returns memoria.ErrNotConfigured when no provider is selected.
func Build(cfg config.Config) (memoria.Transcriber, error) {
	task := cfg.Transcription
	if task.Provider == "" {
		return nil, fmt.Errorf("build transcriber: %w", memoria.ErrNotConfigured)
	}
	profile, exists := cfg.Providers[task.Provider]
	if !exists {
		return nil, fmt.Errorf("build transcriber: provider %s is not configured", task.Provider)
	}

	var (
		transcriber memoria.Transcriber
		err         error
	)
	switch profile.Type {
	case config.ProviderTypeOpenAI:
		transcriber, err = openai.New(openai.ProviderConfig{Client: llm.OpenAIConfig(profile), Model: task.Model})
	case config.ProviderTypeGemini:
		transcriber, err = gemini.New(gemini.ProviderConfig{Client: llm.GeminiConfig(profile), Model: task.Model})
	default:
		err = fmt.Errorf("unsupported provider type %q", profile.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("build transcriber %s: %w", task.Provider, err)
	}

	return transcriber, nil
}
