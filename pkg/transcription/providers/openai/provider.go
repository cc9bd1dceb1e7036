// Package openai transcribes audio through the OpenAI audio transcription
// endpoint, which Groq also serves for its Whisper models.
package openai

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	llmopenai "memoria/pkg/llm/providers/openai"
	"memoria/pkg/memoria"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// ProviderConfig configures one transcription provider.
type ProviderConfig struct {
	// Client carries credentials, endpoint and retry policy.
	Client llmopenai.ProviderConfig
	// Model is the transcription model, for example whisper-1.
	Model string
}

// Provider is a memoria transcriber backed by OpenAI-compatible audio endpoints.
type Provider struct {
	model          string
	transcriptions transcriptionsClient
}

type transcriptionsClient interface {
	Transcribe(ctx context.Context, body openai.AudioTranscriptionNewParams, opts ...option.RequestOption) (string, error)
}

type transcriptionServiceAdapter struct {
	service openai.AudioTranscriptionService
}

func (a transcriptionServiceAdapter) Transcribe(
	ctx context.Context,
	body openai.AudioTranscriptionNewParams,
	opts ...option.RequestOption,
) (string, error) {
	response, err := a.service.New(ctx, body, opts...)
	if err != nil {
		return "", err
	}
	if response == nil {
		return "", fmt.Errorf("empty response")
	}

	return response.Text, nil
}

// New builds one transcription provider.
func New(cfg ProviderConfig) (*Provider, error) {
	clientConfig, err := llmopenai.NormalizeConfig(cfg.Client)
	if err != nil {
		return nil, fmt.Errorf("new openai transcriber: %w", err)
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		return nil, fmt.Errorf("new openai transcriber: missing model")
	}

	client := openai.NewClient(llmopenai.ClientOptions(clientConfig)...)

	return &Provider{
		model:          model,
		transcriptions: transcriptionServiceAdapter{service: client.Audio.Transcriptions},
	}, nil
}

// Transcribe uploads one audio payload and returns the recognized text.
func (p *Provider) Transcribe(ctx context.Context, req memoria.TranscriptionRequest) (memoria.TranscriptionResult, error) {
	if p == nil || p.transcriptions == nil {
		return memoria.TranscriptionResult{}, fmt.Errorf("openai transcribe: nil provider")
	}
	if err := req.Validate(); err != nil {
		return memoria.TranscriptionResult{}, fmt.Errorf("openai transcribe: %w", err)
	}

	params := openai.AudioTranscriptionNewParams{
		Model:          openai.AudioModel(p.model),
		File:           openai.File(bytes.NewReader(req.Audio), req.FileName, req.MIMEType),
		ResponseFormat: openai.AudioResponseFormatJSON,
	}
	if language := strings.TrimSpace(req.Language); language != "" {
		params.Language = openai.String(language)
	}

	text, err := p.transcriptions.Transcribe(ctx, params)
	if err != nil {
		return memoria.TranscriptionResult{}, fmt.Errorf("openai transcribe %s: %w", p.model, err)
	}

	return memoria.TranscriptionResult{Text: strings.TrimSpace(text)}, nil
}

var _ memoria.Transcriber = (*Provider)(nil)
