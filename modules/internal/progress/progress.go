// Package progress keeps one outward status message per request and edits it
// in place as the request advances.
package progress

import (
	"context"
	"fmt"
	"log/slog"

	"memoria/pkg/memoria"
)

// Message is the status message of one request.
//
// Message is not safe for concurrent use; each request owns its own.
type Message struct {
	dispatcher memoria.SinkDispatcher
	target     memoria.OutboundTarget
	replyTo    string
	logger     *slog.Logger

	id string
}

// New creates a status message bound to target, replying to replyTo.
func New(
	dispatcher memoria.SinkDispatcher,
	target memoria.OutboundTarget,
	replyTo string,
	logger *slog.Logger,
) *Message {
	if logger == nil {
		logger = slog.Default()
	}

	return &Message{
		dispatcher: dispatcher,
		target:     target,
		replyTo:    replyTo,
		logger:     logger,
	}
}

// Start sends the initial status text.
func (m *Message) Start(ctx context.Context, text string) error {
	message, err := m.dispatcher.SendMessage(ctx, memoria.SendMessageRequest{
		Target:           m.target,
		Text:             text,
		ReplyToMessageID: m.replyTo,
	})
	if err != nil {
		return fmt.Errorf("send status message: %w", err)
	}
	if message != nil {
		m.id = message.ID
	}

	return nil
}

// Step replaces the status text. A failed edit only degrades the indicator.
func (m *Message) Step(ctx context.Context, text string) {
	if err := m.edit(ctx, Plain(text)); err != nil {
		m.logger.WarnContext(ctx, "status update failed", "error", err)
	}
}

// Report replaces the status text with a terminal report. When the status
// message cannot be edited the report is sent as a new message.
func (m *Message) Report(ctx context.Context, body *memoria.RichText) error {
	editErr := m.edit(ctx, body)
	if editErr == nil {
		return nil
	}
	m.logger.WarnContext(ctx, "report edit failed, sending new message", "error", editErr)

	return m.Follow(ctx, body)
}

// Follow sends body as an additional reply after the status message.
func (m *Message) Follow(ctx context.Context, body *memoria.RichText) error {
	_, err := m.dispatcher.SendMessage(ctx, memoria.SendMessageRequest{
		Target:           m.target,
		Text:             body.String(),
		Entities:         body.Entities(),
		ReplyToMessageID: m.replyTo,
	})
	if err != nil {
		return fmt.Errorf("send report: %w", err)
	}

	return nil
}

func (m *Message) edit(ctx context.Context, body *memoria.RichText) error {
	if m.id == "" {
		return fmt.Errorf("edit status: no status message")
	}
	err := m.dispatcher.EditMessage(ctx, memoria.EditMessageRequest{
		Target:    m.target,
		MessageID: m.id,
		Text:      body.String(),
		Entities:  body.Entities(),
	})
	if err != nil {
		return fmt.Errorf("edit status message %s: %w", m.id, err)
	}

	return nil
}

// Plain wraps unformatted text.
func Plain(text string) *memoria.RichText {
	var body memoria.RichText
	body.Plain(text)

	return &body
}
