package refine

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"memoria/pkg/memoria"
)

func TestStripQuotes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "double", in: `"Heute war schön."`, want: "Heute war schön."},
		{name: "single", in: `'Heute war schön.'`, want: "Heute war schön."},
		{name: "german", in: "„Heute war schön.“", want: "Heute war schön."},
		{name: "surrounding space", in: "  \"Heute\"\n", want: "Heute"},
		{name: "only one layer", in: `""Heute""`, want: `"Heute"`},
		{name: "unquoted", in: "Heute war schön.", want: "Heute war schön."},
		{name: "mismatched", in: `"Heute'`, want: `"Heute'`},
		{name: "single quote char", in: `"`, want: `"`},
		{name: "empty pair", in: `""`, want: ""},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			if got := StripQuotes(testCase.in); got != testCase.want {
				t.Fatalf("StripQuotes(%q) = %q, want %q", testCase.in, got, testCase.want)
			}
		})
	}
}

// TestStripQuotesIdempotentOnUnquoted verifies a second pass leaves unquoted output alone.
func TestStripQuotesIdempotentOnUnquoted(t *testing.T) {
	t.Parallel()

	once := StripQuotes(`"Sie hat gelacht."`)
	if twice := StripQuotes(once); twice != once {
		t.Fatalf("second pass = %q, want %q", twice, once)
	}
}

// TestRefineFailOpen verifies every failure returns the original transcript.
func TestRefineFailOpen(t *testing.T) {
	t.Parallel()

	const original = "Sie hat heute laufen gelernt"
	tests := []struct {
		name     string
		provider memoria.LLMProvider
		want     string
	}{
		{name: "no provider", provider: nil, want: original},
		{name: "provider error", provider: &providerStub{err: errors.New("timeout")}, want: original},
		{name: "stream error", provider: &providerStub{chunks: []string{"Heute "}, recvErr: errors.New("reset")}, want: original},
		{name: "too short", provider: &providerStub{chunks: []string{"Ja."}}, want: original},
		{name: "too short after quotes", provider: &providerStub{chunks: []string{`"123456789"`}}, want: original},
		{
			name:     "rewritten",
			provider: &providerStub{chunks: []string{`"Heute hat sie `, `ihre ersten Schritte gemacht."`}},
			want:     "Heute hat sie ihre ersten Schritte gemacht.",
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			refiner := New(testCase.provider, Settings{Model: "gpt-4o-mini"})
			if got := refiner.Refine(context.Background(), original); got != testCase.want {
				t.Fatalf("Refine = %q, want %q", got, testCase.want)
			}
		})
	}
}

func TestRefineSendsPromptAndSettings(t *testing.T) {
	t.Parallel()

	provider := &providerStub{chunks: []string{"Eine schöne Erinnerung."}}
	refiner := New(provider, Settings{Model: "llama-3.3-70b-versatile", Timeout: time.Minute})
	refiner.Refine(context.Background(), "sie hat mama gesagt")

	if len(provider.requests) != 1 {
		t.Fatalf("requests = %d, want 1", len(provider.requests))
	}
	req := provider.requests[0]
	if req.Model != "llama-3.3-70b-versatile" {
		t.Fatalf("model = %q, want llama-3.3-70b-versatile", req.Model)
	}
	if req.MaxOutputTokens != 800 || req.Temperature != 0.7 {
		t.Fatalf("settings = %d/%v, want 800/0.7", req.MaxOutputTokens, req.Temperature)
	}
	content := req.Messages[0].Content
	if !strings.Contains(content, "ORIGINAL TEXT:\n\"sie hat mama gesagt\"") {
		t.Fatalf("prompt missing quoted transcript: %q", content)
	}
	if !strings.HasSuffix(content, "VERBESSERTE VERSION:") {
		t.Fatalf("prompt suffix = %q, want VERBESSERTE VERSION:", content[len(content)-20:])
	}
}

type providerStub struct {
	chunks   []string
	err      error
	recvErr  error
	requests []memoria.LLMGenerateRequest
}

func (s *providerStub) GenerateStream(_ context.Context, req memoria.LLMGenerateRequest) (memoria.LLMStream, error) {
	s.requests = append(s.requests, req)
	if s.err != nil {
		return nil, s.err
	}

	return &streamStub{chunks: s.chunks, err: s.recvErr}, nil
}

type streamStub struct {
	chunks []string
	err    error
}

func (s *streamStub) Recv(context.Context) (memoria.LLMGenerateChunk, error) {
	if len(s.chunks) > 0 {
		chunk := s.chunks[0]
		s.chunks = s.chunks[1:]
		return memoria.LLMGenerateChunk{Delta: chunk}, nil
	}
	if s.err != nil {
		return memoria.LLMGenerateChunk{}, s.err
	}

	return memoria.LLMGenerateChunk{}, io.EOF
}

func (s *streamStub) Close() error {
	return nil
}
