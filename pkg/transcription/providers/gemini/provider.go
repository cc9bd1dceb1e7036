// Package gemini transcribes audio by sending it inline to a Gemini model.
package gemini

import (
	"context"
	"fmt"
	"strings"

	llmgemini "memoria/pkg/llm/providers/gemini"
	"memoria/pkg/memoria"

	"google.golang.org/genai"
)

const defaultMIMEType = "audio/ogg"

// ProviderConfig configures one Gemini transcriber.
type ProviderConfig struct {
	Client llmgemini.ProviderConfig
	Model  string
}

// Provider is a memoria transcriber backed by Gemini multimodal input.
type Provider struct {
	model  string
	models geminiModelsClient
}

type geminiModelsClient interface {
	GenerateContent(
		ctx context.Context,
		model string,
		contents []*genai.Content,
		config *genai.GenerateContentConfig,
	) (*genai.GenerateContentResponse, error)
}

// New builds one Gemini transcriber.
func New(cfg ProviderConfig) (*Provider, error) {
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		return nil, fmt.Errorf("new gemini transcriber: missing model")
	}
	client, err := llmgemini.NewClient(cfg.Client)
	if err != nil {
		return nil, fmt.Errorf("new gemini transcriber: %w", err)
	}

	return &Provider{model: model, models: client.Models}, nil
}

// Transcribe sends the audio inline with a verbatim transcription instruction.
func (p *Provider) Transcribe(ctx context.Context, req memoria.TranscriptionRequest) (memoria.TranscriptionResult, error) {
	if p == nil || p.models == nil {
		return memoria.TranscriptionResult{}, fmt.Errorf("gemini transcribe: nil provider")
	}
	if err := req.Validate(); err != nil {
		return memoria.TranscriptionResult{}, fmt.Errorf("gemini transcribe: %w", err)
	}

	mimeType := strings.TrimSpace(req.MIMEType)
	if mimeType == "" {
		mimeType = defaultMIMEType
	}
	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromBytes(req.Audio, mimeType),
			genai.NewPartFromText(instruction(req.Language)),
		}, genai.RoleUser),
	}
	temperature := float32(0)
	config := &genai.GenerateContentConfig{Temperature: &temperature}

	response, err := p.models.GenerateContent(ctx, p.model, contents, config)
	if err != nil {
		return memoria.TranscriptionResult{}, fmt.Errorf("gemini transcribe %s: %w", p.model, err)
	}
	if response == nil {
		return memoria.TranscriptionResult{}, fmt.Errorf("gemini transcribe %s: nil response", p.model)
	}
	if feedback := response.PromptFeedback; feedback != nil && feedback.BlockReason != "" {
		return memoria.TranscriptionResult{}, fmt.Errorf("gemini transcribe %s: blocked: %s", p.model, feedback.BlockReason)
	}

	return memoria.TranscriptionResult{Text: strings.TrimSpace(response.Text())}, nil
}

func instruction(language string) string {
	language = strings.TrimSpace(language)
	if language == "" {
		return "Transcribe this voice message verbatim. Reply with the spoken words only. " +
			"Reply with nothing if no speech is audible."
	}

	return fmt.Sprintf("Transcribe this voice message verbatim in the language %q. "+
		"Reply with the spoken words only. Reply with nothing if no speech is audible.", language)
}

var _ memoria.Transcriber = (*Provider)(nil)
