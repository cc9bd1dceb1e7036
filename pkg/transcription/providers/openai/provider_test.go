package openai

import (
	"context"
	"errors"
	"strings"
	"testing"

	llmopenai "memoria/pkg/llm/providers/openai"
	"memoria/pkg/memoria"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

func TestNewValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name             string
		cfg              ProviderConfig
		wantErrSubstring string
	}{
		{
			name: "groq whisper",
			cfg: ProviderConfig{
				Client: llmopenai.ProviderConfig{APIKey: "gsk-test", BaseURL: "https://api.groq.com/openai/v1"},
				Model:  "whisper-large-v3",
			},
		},
		{
			name:             "missing model",
			cfg:              ProviderConfig{Client: llmopenai.ProviderConfig{APIKey: "sk-test"}},
			wantErrSubstring: "missing model",
		},
		{
			name:             "missing key",
			cfg:              ProviderConfig{Model: "whisper-1"},
			wantErrSubstring: "missing api_key",
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			_, err := New(testCase.cfg)
			if testCase.wantErrSubstring == "" {
				if err != nil {
					t.Fatalf("New failed: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), testCase.wantErrSubstring) {
				t.Fatalf("error = %v, want substring %q", err, testCase.wantErrSubstring)
			}
		})
	}
}

// TestTranscribeMapsRequest verifies model, language hint and trimming of the result.
func TestTranscribeMapsRequest(t *testing.T) {
	t.Parallel()

	client := &transcriptionsStub{text: "  Heute hat sie gelacht.\n"}
	provider := &Provider{model: "whisper-1", transcriptions: client}

	result, err := provider.Transcribe(context.Background(), memoria.TranscriptionRequest{
		Audio:    []byte("OggS"),
		MIMEType: "audio/ogg",
		FileName: "voice.ogg",
		Language: "de",
	})
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}
	if result.Text != "Heute hat sie gelacht." {
		t.Fatalf("text = %q, want trimmed transcript", result.Text)
	}
	if len(client.params) != 1 {
		t.Fatalf("request count = %d, want 1", len(client.params))
	}
	got := client.params[0]
	if string(got.Model) != "whisper-1" {
		t.Fatalf("model = %q, want whisper-1", got.Model)
	}
	if !got.Language.Valid() || got.Language.Value != "de" {
		t.Fatalf("language = %+v, want de", got.Language)
	}
	if got.File == nil {
		t.Fatal("expected file payload")
	}
}

func TestTranscribeErrors(t *testing.T) {
	t.Parallel()

	provider := &Provider{model: "whisper-1", transcriptions: &transcriptionsStub{err: errors.New("503 unavailable")}}

	if _, err := provider.Transcribe(context.Background(), memoria.TranscriptionRequest{FileName: "voice.ogg"}); err == nil {
		t.Fatal("expected validation error for empty audio")
	}

	_, err := provider.Transcribe(context.Background(), memoria.TranscriptionRequest{
		Audio:    []byte("OggS"),
		FileName: "voice.ogg",
	})
	if err == nil || !strings.Contains(err.Error(), "503 unavailable") {
		t.Fatalf("error = %v, want wrapped transport error", err)
	}
}

type transcriptionsStub struct {
	params []openai.AudioTranscriptionNewParams
	text   string
	err    error
}

func (s *transcriptionsStub) Transcribe(
	_ context.Context,
	body openai.AudioTranscriptionNewParams,
	_ ...option.RequestOption,
) (string, error) {
	s.params = append(s.params, body)
	if s.err != nil {
		return "", s.err
	}

	return s.text, nil
}
