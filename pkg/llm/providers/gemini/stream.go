package gemini

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"sync"

	"memoria/pkg/memoria"

	"google.golang.org/genai"
)

type geminiStream struct {
	mu sync.Mutex

	next func() (*genai.GenerateContentResponse, error, bool)
	stop func()

	closed   bool
	finished bool
	pending  []memoria.LLMGenerateChunk
}

func newGeminiStream(seq iter.Seq2[*genai.GenerateContentResponse, error]) *geminiStream {
	next, stop := iter.Pull2(seq)
	return &geminiStream{next: next, stop: stop}
}

func (s *geminiStream) Recv(ctx context.Context) (memoria.LLMGenerateChunk, error) {
	if ctx == nil {
		return memoria.LLMGenerateChunk{}, fmt.Errorf("gemini stream recv: nil context")
	}

	for {
		if err := ctx.Err(); err != nil {
			_ = s.Close()
			return memoria.LLMGenerateChunk{}, fmt.Errorf("gemini stream recv context: %w", err)
		}
		if chunk, ok := s.dequeuePending(); ok {
			if chunk.Delta == "" {
				continue
			}
			return chunk, nil
		}

		response, err := s.nextResponse(ctx)
		if err != nil {
			return memoria.LLMGenerateChunk{}, err
		}

		chunks, mapErr := mapGenerateContentResponse(response)
		if mapErr != nil {
			return memoria.LLMGenerateChunk{}, mapErr
		}
		if len(chunks) == 0 {
			continue
		}
		if len(chunks) > 1 {
			s.enqueuePending(chunks[1:])
		}

		if chunks[0].Delta == "" {
			continue
		}
		return chunks[0], nil
	}
}

func (s *geminiStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.finished = true
	stop := s.stop
	s.stop = nil
	s.next = nil
	s.mu.Unlock()

	if stop != nil {
		stop()
	}

	return nil
}

func (s *geminiStream) nextResponse(ctx context.Context) (*genai.GenerateContentResponse, error) {
	s.mu.Lock()
	if s.closed || s.finished {
		s.mu.Unlock()
		return nil, io.EOF
	}
	next := s.next
	if next == nil {
		s.finished = true
		s.mu.Unlock()
		return nil, io.EOF
	}
	s.mu.Unlock()

	response, recvErr, ok := next()
	if !ok {
		s.markFinished()
		return nil, io.EOF
	}
	if recvErr != nil {
		s.markFinished()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("gemini stream context: %w", ctxErr)
		}
		if errors.Is(recvErr, context.Canceled) || errors.Is(recvErr, context.DeadlineExceeded) {
			return nil, fmt.Errorf("gemini stream canceled: %w", recvErr)
		}
		return nil, fmt.Errorf("gemini stream next: %w", recvErr)
	}

	return response, nil
}

func (s *geminiStream) markFinished() {
	s.mu.Lock()
	s.finished = true
	s.mu.Unlock()
}

func (s *geminiStream) dequeuePending() (memoria.LLMGenerateChunk, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.pending) == 0 {
		return memoria.LLMGenerateChunk{}, false
	}

	chunk := s.pending[0]
	s.pending = s.pending[1:]
	return chunk, true
}

func (s *geminiStream) enqueuePending(chunks []memoria.LLMGenerateChunk) {
	if len(chunks) == 0 {
		return
	}

	s.mu.Lock()
	s.pending = append(s.pending, chunks...)
	s.mu.Unlock()
}

func mapGenerateContentResponse(response *genai.GenerateContentResponse) ([]memoria.LLMGenerateChunk, error) {
	if response == nil {
		return nil, fmt.Errorf("gemini stream parse response: nil response")
	}
	if feedback := response.PromptFeedback; feedback != nil && feedback.BlockReason != "" {
		return nil, fmt.Errorf("gemini stream prompt blocked: %s", feedback.BlockReason)
	}
	if len(response.Candidates) == 0 || response.Candidates[0] == nil {
		return nil, nil
	}
	candidate := response.Candidates[0]
	if candidate.FinishReason == genai.FinishReasonSafety {
		return nil, fmt.Errorf("gemini stream response blocked: %s", candidate.FinishReason)
	}
	if candidate.Content == nil {
		return nil, nil
	}

	chunks := make([]memoria.LLMGenerateChunk, 0, len(candidate.Content.Parts))
	for _, part := range candidate.Content.Parts {
		// Thought parts are reasoning traces, not answer text.
		if part == nil || part.Text == "" || part.Thought {
			continue
		}
		chunks = append(chunks, memoria.LLMGenerateChunk{Delta: part.Text})
	}

	return chunks, nil
}

var _ memoria.LLMStream = (*geminiStream)(nil)
