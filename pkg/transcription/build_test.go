package transcription

import (
	"errors"
	"testing"

	"memoria/pkg/llm/config"
	"memoria/pkg/memoria"
	"memoria/pkg/transcription/providers/gemini"
	"memoria/pkg/transcription/providers/openai"
)

func TestBuild(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		env     config.Env
		check   func(memoria.Transcriber) bool
		wantErr error
	}{
		{
			name: "groq preferred over gemini",
			env:  config.Env{GroqAPIKey: "gsk-test", GeminiAPIKey: "gm-test"},
			check: func(transcriber memoria.Transcriber) bool {
				_, ok := transcriber.(*openai.Provider)
				return ok
			},
		},
		{
			name: "gemini only",
			env:  config.Env{GeminiAPIKey: "gm-test"},
			check: func(transcriber memoria.Transcriber) bool {
				_, ok := transcriber.(*gemini.Provider)
				return ok
			},
		},
		{
			name:    "nothing configured",
			wantErr: memoria.ErrNotConfigured,
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			cfg, err := config.Resolve(config.File{}, testCase.env)
			if err != nil {
				t.Fatalf("config.Resolve failed: %v", err)
			}
			transcriber, err := Build(cfg)
			if testCase.wantErr != nil {
				if !errors.Is(err, testCase.wantErr) {
					t.Fatalf("Build error = %v, want %v", err, testCase.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Build failed: %v", err)
			}
			if !testCase.check(transcriber) {
				t.Fatalf("transcriber = %T, unexpected type", transcriber)
			}
		})
	}
}
