// Package transcribe applies the capture policy around a speech provider:
// bounded duration, optional WAV transcoding and a minimum transcript length.
package transcribe

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"memoria/internal/audio"
	"memoria/pkg/memoria"
)

const (
	// DefaultMaxDuration is the longest voice message accepted for transcription.
	DefaultMaxDuration = 300 * time.Second
	// DefaultMinTextLength is the shortest transcript, in characters, that becomes a memory.
	DefaultMinTextLength = 3
	// DefaultLanguage is the language hint sent when a request carries none.
	DefaultLanguage = "de"

	wavFileName = "voice.wav"
)

// Service wraps one provider with the capture policy.
type Service struct {
	provider      memoria.Transcriber
	converter     *audio.Converter
	maxDuration   time.Duration
	minTextLength int
	language      string
	logger        *slog.Logger
}

// Option mutates service construction settings.
type Option func(*Service)

// WithMaxDuration overrides the accepted voice message length.
func WithMaxDuration(maxDuration time.Duration) Option {
	return func(s *Service) {
		if maxDuration > 0 {
			s.maxDuration = maxDuration
		}
	}
}

// WithMinTextLength overrides the minimum transcript length.
func WithMinTextLength(minTextLength int) Option {
	return func(s *Service) {
		if minTextLength > 0 {
			s.minTextLength = minTextLength
		}
	}
}

// WithLanguage overrides the default language hint.
func WithLanguage(language string) Option {
	return func(s *Service) {
		if trimmed := strings.TrimSpace(language); trimmed != "" {
			s.language = trimmed
		}
	}
}

// WithConverter transcodes OGG payloads to WAV before upload.
func WithConverter(converter *audio.Converter) Option {
	return func(s *Service) {
		s.converter = converter
	}
}

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New creates one transcription service around provider.
func New(provider memoria.Transcriber, opts ...Option) (*Service, error) {
	if provider == nil {
		return nil, fmt.Errorf("new transcription service: %w", memoria.ErrNotConfigured)
	}

	service := &Service{
		provider:      provider,
		maxDuration:   DefaultMaxDuration,
		minTextLength: DefaultMinTextLength,
		language:      DefaultLanguage,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(service)
	}

	return service, nil
}

// MaxDuration returns the accepted voice message length.
func (s *Service) MaxDuration() time.Duration {
	return s.maxDuration
}

// CheckDuration rejects voice messages longer than the configured bound.
func (s *Service) CheckDuration(duration time.Duration) error {
	if duration > s.maxDuration {
		return fmt.Errorf("check duration %s > %s: %w", duration, s.maxDuration, memoria.ErrAudioTooLong)
	}

	return nil
}

// Transcribe returns recognized text or memoria.ErrNoSpeech when the provider
// recognized fewer characters than the minimum.
func (s *Service) Transcribe(ctx context.Context, req memoria.TranscriptionRequest) (memoria.TranscriptionResult, error) {
	if err := s.CheckDuration(req.Duration); err != nil {
		return memoria.TranscriptionResult{}, fmt.Errorf("transcribe: %w", err)
	}
	if strings.TrimSpace(req.Language) == "" {
		req.Language = s.language
	}

	if s.converter != nil && bytes.HasPrefix(req.Audio, []byte("OggS")) {
		converted, err := s.converter.OggToWAV(ctx, req.Audio)
		if err != nil {
			return memoria.TranscriptionResult{}, fmt.Errorf("transcribe convert: %w", err)
		}
		s.logger.DebugContext(ctx, "voice message converted",
			"from_bytes", len(req.Audio),
			"to_bytes", len(converted),
		)
		req.Audio = converted
		req.MIMEType = audio.MIMETypeWAV
		req.FileName = wavFileName
	}

	result, err := s.provider.Transcribe(ctx, req)
	if err != nil {
		return memoria.TranscriptionResult{}, fmt.Errorf("transcribe: %w", err)
	}

	text := strings.TrimSpace(result.Text)
	if utf8.RuneCountInString(text) < s.minTextLength {
		return memoria.TranscriptionResult{}, fmt.Errorf("transcribe %q: %w", text, memoria.ErrNoSpeech)
	}

	return memoria.TranscriptionResult{Text: text}, nil
}

var _ memoria.Transcriber = (*Service)(nil)
