package telegram

import (
	"context"
	"fmt"
	"time"

	"memoria/pkg/memoria"

	"github.com/google/uuid"
)

// Decoder converts Telegram update DTOs into memoria events.
type Decoder interface {
	// Decode maps one adapter update into a validated event.
	Decode(ctx context.Context, update Update) (*memoria.Event, error)
}

// DefaultDecoder maps message updates into message.created events.
type DefaultDecoder struct{}

// NewDefaultDecoder creates a default decoder.
func NewDefaultDecoder() DefaultDecoder {
	return DefaultDecoder{}
}

// Decode converts a Telegram update into an event.
func (d DefaultDecoder) Decode(_ context.Context, update Update) (*memoria.Event, error) {
	if update.Message == nil {
		return nil, fmt.Errorf("decode update %s: missing message payload", update.ID)
	}
	if update.Message.ID == "" {
		return nil, fmt.Errorf("decode update %s: missing message id", update.ID)
	}

	id := update.ID
	if id == "" {
		id = uuid.NewString()
	}
	occurredAt := update.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	event := &memoria.Event{
		ID:         id,
		Kind:       memoria.EventKindMessageCreated,
		OccurredAt: occurredAt,
		Platform:   DriverPlatform,
		Conversation: memoria.Conversation{
			ID:    update.Chat.ID,
			Type:  update.Chat.Type,
			Title: update.Chat.Title,
		},
		Actor: memoria.Actor{
			ID:          update.Actor.ID,
			Username:    update.Actor.Username,
			DisplayName: update.Actor.DisplayName,
			IsBot:       update.Actor.IsBot,
		},
		Message: &memoria.Message{
			ID:    update.Message.ID,
			Text:  update.Message.Text,
			Media: decodeMedia(update.Message.Media),
		},
		Metadata: update.Metadata,
	}

	if err := event.Validate(); err != nil {
		return nil, fmt.Errorf("decode update %s: %w", update.ID, err)
	}

	return event, nil
}

func decodeMedia(media []MediaPayload) []memoria.MediaAttachment {
	if len(media) == 0 {
		return nil
	}

	out := make([]memoria.MediaAttachment, 0, len(media))
	for _, item := range media {
		out = append(out, memoria.MediaAttachment{
			ID:        item.ID,
			Type:      item.Type,
			MIMEType:  item.MIMEType,
			FileName:  item.FileName,
			SizeBytes: item.SizeBytes,
			Duration:  item.Duration,
		})
	}

	return out
}
