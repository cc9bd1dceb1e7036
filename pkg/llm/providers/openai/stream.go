package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"memoria/pkg/memoria"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/responses"
)

type openAIResponseStream = eventStream[responses.ResponseStreamEventUnion]

// eventStream is the pull iterator shared by Responses and Chat Completions SSE streams.
type eventStream[T any] interface {
	Next() bool
	Current() T
	Err() error
	Close() error
}

// openAIStream adapts one SDK event stream into memoria.LLMStream.
//
// mapEvent returns the text delta of one event and whether the event ends the
// response; events without text are skipped.
type openAIStream[T any] struct {
	mu       sync.Mutex
	stream   eventStream[T]
	mapEvent func(T) (string, bool, error)
	closed   bool
	finished bool
}

func newOpenAIStream(stream openAIResponseStream) *openAIStream[responses.ResponseStreamEventUnion] {
	return &openAIStream[responses.ResponseStreamEventUnion]{stream: stream, mapEvent: mapOpenAIStreamEvent}
}

func (s *openAIStream[T]) Recv(ctx context.Context) (memoria.LLMGenerateChunk, error) {
	if ctx == nil {
		return memoria.LLMGenerateChunk{}, fmt.Errorf("openai stream recv: nil context")
	}

	for {
		if err := ctx.Err(); err != nil {
			_ = s.Close()
			return memoria.LLMGenerateChunk{}, fmt.Errorf("openai stream recv context: %w", err)
		}

		event, err := s.nextEvent(ctx)
		if err != nil {
			return memoria.LLMGenerateChunk{}, err
		}

		delta, done, mapErr := s.mapEvent(event)
		if mapErr != nil {
			return memoria.LLMGenerateChunk{}, mapErr
		}
		if delta != "" {
			if done {
				s.markFinished()
			}
			return memoria.LLMGenerateChunk{Delta: delta}, nil
		}
		if done {
			s.markFinished()
			return memoria.LLMGenerateChunk{}, io.EOF
		}
	}
}

func (s *openAIStream[T]) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.finished = true
	stream := s.stream
	s.stream = nil
	s.mu.Unlock()

	if stream == nil {
		return nil
	}
	if err := stream.Close(); err != nil {
		return fmt.Errorf("openai stream close: %w", err)
	}

	return nil
}

func (s *openAIStream[T]) nextEvent(ctx context.Context) (T, error) {
	var zero T

	s.mu.Lock()
	if s.closed || s.finished {
		s.mu.Unlock()
		return zero, io.EOF
	}
	stream := s.stream
	if stream == nil {
		s.finished = true
		s.mu.Unlock()
		return zero, io.EOF
	}

	if !stream.Next() {
		err := stream.Err()
		if err == nil {
			s.finished = true
			s.mu.Unlock()
			return zero, io.EOF
		}
		s.finished = true
		s.mu.Unlock()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return zero, fmt.Errorf("openai stream context: %w", ctxErr)
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return zero, fmt.Errorf("openai stream canceled: %w", err)
		}

		return zero, fmt.Errorf("openai stream next: %w", err)
	}

	event := stream.Current()
	s.mu.Unlock()
	return event, nil
}

func (s *openAIStream[T]) markFinished() {
	s.mu.Lock()
	s.finished = true
	s.mu.Unlock()
}

func mapOpenAIStreamEvent(event responses.ResponseStreamEventUnion) (string, bool, error) {
	eventType := strings.TrimSpace(event.Type)
	if eventType == "" {
		return "", false, fmt.Errorf("openai stream parse event: missing type")
	}

	switch eventType {
	case openAIEventOutputTextDelta:
		if !event.JSON.Delta.Valid() {
			return "", false, openAIEventParseError(eventType, "missing delta")
		}
		return event.Delta, false, nil
	case openAIEventCompleted:
		if !event.JSON.Response.Valid() {
			return "", false, openAIEventParseError(eventType, "missing response")
		}
		return "", true, nil
	case openAIEventFailed:
		if !event.JSON.Response.Valid() {
			return "", false, openAIEventParseError(eventType, "missing response")
		}
		status := strings.TrimSpace(string(event.Response.Status))
		if status == "" {
			status = "unknown"
		}
		return "", false, fmt.Errorf("openai stream response failed: status=%s", status)
	case openAIEventError:
		if !event.JSON.Message.Valid() {
			return "", false, openAIEventParseError(eventType, "missing message")
		}
		message := strings.TrimSpace(event.Message)
		if message == "" {
			return "", false, openAIEventParseError(eventType, "empty message")
		}
		if code := strings.TrimSpace(event.Code); code != "" {
			return "", false, fmt.Errorf("openai stream error %s: %s", code, message)
		}
		return "", false, fmt.Errorf("openai stream error: %s", message)
	default:
		// Reasoning and lifecycle events carry no output text.
		return "", false, nil
	}
}

func mapChatCompletionChunk(chunk openai.ChatCompletionChunk) (string, bool, error) {
	if len(chunk.Choices) == 0 {
		return "", false, nil
	}
	choice := chunk.Choices[0]
	switch choice.FinishReason {
	case "", "stop", "length":
	case "content_filter":
		return "", false, fmt.Errorf("openai chat stream: response blocked by content filter")
	}

	return choice.Delta.Content, choice.FinishReason != "", nil
}

func openAIEventParseError(eventType, reason string) error {
	return fmt.Errorf("openai stream parse event %s: %s", eventType, reason)
}

var _ memoria.LLMStream = (*openAIStream[responses.ResponseStreamEventUnion])(nil)
var _ memoria.LLMStream = (*openAIStream[openai.ChatCompletionChunk])(nil)
