package memoria

import (
	"context"
	"errors"
	"io"
	"testing"
)

type sliceStream struct {
	chunks []string
	err    error
	closed bool
}

func (s *sliceStream) Recv(context.Context) (LLMGenerateChunk, error) {
	if len(s.chunks) == 0 {
		if s.err != nil {
			return LLMGenerateChunk{}, s.err
		}
		return LLMGenerateChunk{}, io.EOF
	}
	next := s.chunks[0]
	s.chunks = s.chunks[1:]

	return LLMGenerateChunk{Delta: next}, nil
}

func (s *sliceStream) Close() error {
	s.closed = true
	return nil
}

type streamProvider struct {
	stream *sliceStream
	err    error
}

func (p streamProvider) GenerateStream(context.Context, LLMGenerateRequest) (LLMStream, error) {
	if p.err != nil {
		return nil, p.err
	}
	return p.stream, nil
}

// TestGenerateText verifies chunk concatenation and error propagation.
func TestGenerateText(t *testing.T) {
	t.Parallel()

	stream := &sliceStream{chunks: []string{"Hallo ", "Welt"}}
	got, err := GenerateText(context.Background(), streamProvider{stream: stream}, LLMGenerateRequest{})
	if err != nil {
		t.Fatalf("GenerateText() error = %v", err)
	}
	if got != "Hallo Welt" {
		t.Fatalf("GenerateText() = %q, want %q", got, "Hallo Welt")
	}
	if !stream.closed {
		t.Fatal("expected stream to be closed")
	}

	failure := errors.New("boom")
	_, err = GenerateText(context.Background(), streamProvider{stream: &sliceStream{chunks: []string{"x"}, err: failure}}, LLMGenerateRequest{})
	if !errors.Is(err, failure) {
		t.Fatalf("GenerateText() error = %v, want %v", err, failure)
	}
	if _, err := GenerateText(context.Background(), streamProvider{err: failure}, LLMGenerateRequest{}); !errors.Is(err, failure) {
		t.Fatalf("GenerateText() error = %v, want %v", err, failure)
	}
	if _, err := GenerateText(context.Background(), nil, LLMGenerateRequest{}); err == nil {
		t.Fatal("expected error for nil provider")
	}
}

// TestLLMGenerateRequestValidate verifies request contract checks.
func TestLLMGenerateRequestValidate(t *testing.T) {
	t.Parallel()

	valid := LLMGenerateRequest{
		Model:    "gpt-4o-mini",
		Messages: []LLMMessage{{Role: LLMMessageRoleUser, Content: "hi"}},
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	noModel := valid
	noModel.Model = " "
	if err := noModel.Validate(); err == nil {
		t.Fatal("expected missing model error")
	}
	badRole := valid
	badRole.Messages = []LLMMessage{{Role: "tool", Content: "x"}}
	if err := badRole.Validate(); err == nil {
		t.Fatal("expected role error")
	}
	negative := valid
	negative.Temperature = -1
	if err := negative.Validate(); err == nil {
		t.Fatal("expected temperature error")
	}
}
