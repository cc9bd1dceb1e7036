package gemini

import (
	"context"
	"errors"
	"strings"
	"testing"

	llmgemini "memoria/pkg/llm/providers/gemini"
	"memoria/pkg/memoria"

	"google.golang.org/genai"
)

func TestNewValidation(t *testing.T) {
	t.Parallel()

	if _, err := New(ProviderConfig{Client: llmgemini.ProviderConfig{APIKey: "gm-test"}}); err == nil {
		t.Fatal("expected missing model error")
	}
	if _, err := New(ProviderConfig{Model: "gemini-2.0-flash"}); err == nil {
		t.Fatal("expected missing api key error")
	}
	provider, err := New(ProviderConfig{Client: llmgemini.ProviderConfig{APIKey: "gm-test"}, Model: "gemini-2.0-flash"})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if provider == nil {
		t.Fatal("expected provider")
	}
}

// TestTranscribeSendsInlineAudio verifies the audio part, the language hint and text extraction.
func TestTranscribeSendsInlineAudio(t *testing.T) {
	t.Parallel()

	client := &modelsStub{response: &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: genai.NewContentFromText(" Sie hat Mama gesagt. ", genai.RoleModel),
		}},
	}}
	provider := &Provider{model: "gemini-2.0-flash", models: client}

	result, err := provider.Transcribe(context.Background(), memoria.TranscriptionRequest{
		Audio:    []byte("OggS"),
		FileName: "voice.ogg",
		Language: "de",
	})
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}
	if result.Text != "Sie hat Mama gesagt." {
		t.Fatalf("text = %q, want trimmed transcript", result.Text)
	}

	if len(client.contents) != 1 || len(client.contents[0].Parts) != 2 {
		t.Fatalf("contents = %+v, want one content with two parts", client.contents)
	}
	audio := client.contents[0].Parts[0]
	if audio.InlineData == nil || audio.InlineData.MIMEType != defaultMIMEType {
		t.Fatalf("audio part = %+v, want inline %s", audio, defaultMIMEType)
	}
	if !strings.Contains(client.contents[0].Parts[1].Text, `"de"`) {
		t.Fatalf("instruction = %q, want language hint", client.contents[0].Parts[1].Text)
	}
}

func TestTranscribeErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name             string
		stub             *modelsStub
		wantErrSubstring string
	}{
		{name: "transport", stub: &modelsStub{err: errors.New("deadline")}, wantErrSubstring: "deadline"},
		{name: "nil response", stub: &modelsStub{}, wantErrSubstring: "nil response"},
		{
			name: "blocked",
			stub: &modelsStub{response: &genai.GenerateContentResponse{
				PromptFeedback: &genai.GenerateContentResponsePromptFeedback{BlockReason: genai.BlockedReasonOther},
			}},
			wantErrSubstring: "blocked",
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			provider := &Provider{model: "gemini-2.0-flash", models: testCase.stub}
			_, err := provider.Transcribe(context.Background(), memoria.TranscriptionRequest{
				Audio:    []byte("OggS"),
				FileName: "voice.ogg",
			})
			if err == nil || !strings.Contains(err.Error(), testCase.wantErrSubstring) {
				t.Fatalf("error = %v, want substring %q", err, testCase.wantErrSubstring)
			}
		})
	}
}

type modelsStub struct {
	contents []*genai.Content
	response *genai.GenerateContentResponse
	err      error
}

func (s *modelsStub) GenerateContent(
	_ context.Context,
	_ string,
	contents []*genai.Content,
	_ *genai.GenerateContentConfig,
) (*genai.GenerateContentResponse, error) {
	s.contents = contents
	if s.err != nil {
		return nil, s.err
	}

	return s.response, nil
}
