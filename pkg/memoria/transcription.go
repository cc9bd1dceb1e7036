package memoria

import (
	"context"
	"fmt"
	"time"
)

// Transcriber converts encoded audio into recognized text.
type Transcriber interface {
	// Transcribe returns recognized text, ErrNoSpeech when nothing usable was
	// recognized, or a wrapped provider error.
	Transcribe(ctx context.Context, req TranscriptionRequest) (TranscriptionResult, error)
}

// TranscriptionRequest carries one audio payload and its language hint.
type TranscriptionRequest struct {
	// Audio is the encoded audio payload.
	Audio []byte
	// MIMEType is the container type of Audio, for example audio/ogg.
	MIMEType string
	// FileName is a provider-facing file name whose extension names the container.
	FileName string
	// Language is a BCP 47 language hint such as "de".
	Language string
	// Duration is the playback length reported by the platform, when known.
	Duration time.Duration
}

// Validate checks one transcription request.
func (r TranscriptionRequest) Validate() error {
	if len(r.Audio) == 0 {
		return fmt.Errorf("validate transcription request: missing audio")
	}
	if r.FileName == "" {
		return fmt.Errorf("validate transcription request: missing file name")
	}

	return nil
}

// TranscriptionResult carries recognized text.
type TranscriptionResult struct {
	Text string
}
