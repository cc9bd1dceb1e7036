package telegram

import (
	"context"
	"fmt"
	"time"

	"github.com/gotd/td/tg"
)

const defaultGotdUpdateBuffer = 1024

// GotdUpdateChannel is a gotd update handler and raw stream implementation.
type GotdUpdateChannel struct {
	updates chan any
}

// NewGotdUpdateChannel creates a stream bridge between gotd updates and the source.
func NewGotdUpdateChannel(buffer int) (*GotdUpdateChannel, error) {
	if buffer <= 0 {
		buffer = defaultGotdUpdateBuffer
	}

	return &GotdUpdateChannel{updates: make(chan any, buffer)}, nil
}

// Updates returns the active stream channel.
func (s *GotdUpdateChannel) Updates(ctx context.Context) (<-chan any, error) {
	if ctx == nil {
		return nil, fmt.Errorf("gotd update channel: nil context")
	}
	if s.updates == nil {
		return nil, fmt.Errorf("gotd update channel: not initialized")
	}

	return s.updates, nil
}

// Handle flattens gotd update batches and forwards new messages to the stream.
func (s *GotdUpdateChannel) Handle(ctx context.Context, updates tg.UpdatesClass) error {
	batch, err := flattenGotdUpdates(updates)
	if err != nil {
		return fmt.Errorf("handle gotd updates: %w", err)
	}

	for _, item := range batch {
		if err := s.publish(ctx, item); err != nil {
			return fmt.Errorf("handle gotd updates publish: %w", err)
		}
	}

	return nil
}

func (s *GotdUpdateChannel) publish(ctx context.Context, item gotdUpdateEnvelope) error {
	if s.updates == nil {
		return fmt.Errorf("publish gotd update: stream not initialized")
	}

	select {
	case <-ctx.Done():
		return fmt.Errorf("publish gotd update: %w", ctx.Err())
	case s.updates <- item:
		return nil
	}
}

func flattenGotdUpdates(updates tg.UpdatesClass) ([]gotdUpdateEnvelope, error) {
	if updates == nil {
		return nil, fmt.Errorf("flatten gotd updates: nil updates")
	}

	switch typed := updates.(type) {
	case *tg.Updates:
		return flattenGotdBatch(typed.Updates, typed.Date, typed.Users, typed.Chats), nil
	case *tg.UpdatesCombined:
		return flattenGotdBatch(typed.Updates, typed.Date, typed.Users, typed.Chats), nil
	case *tg.UpdateShort:
		return flattenSingleGotdUpdate(typed.Update, intToTimeUTC(typed.Date), nil, nil), nil
	case *tg.UpdateShortMessage:
		return []gotdUpdateEnvelope{shortMessageEnvelope(typed)}, nil
	case *tg.UpdateShortChatMessage:
		return []gotdUpdateEnvelope{shortChatMessageEnvelope(typed)}, nil
	case *tg.UpdatesTooLong, *tg.UpdateShortSentMessage:
		return nil, nil
	default:
		return nil, fmt.Errorf("flatten gotd updates %s: unsupported container", updates.TypeName())
	}
}

func flattenGotdBatch(
	updates []tg.UpdateClass,
	date int,
	users []tg.UserClass,
	chats []tg.ChatClass,
) []gotdUpdateEnvelope {
	occurredAt := intToTimeUTC(date)
	usersByID := indexGotdUsers(users)
	chatsByID := indexGotdChats(chats)

	batch := make([]gotdUpdateEnvelope, 0, len(updates))
	for _, update := range updates {
		batch = append(batch, flattenSingleGotdUpdate(update, occurredAt, usersByID, chatsByID)...)
	}

	return batch
}

// flattenSingleGotdUpdate keeps new private, group and supergroup messages.
func flattenSingleGotdUpdate(
	update tg.UpdateClass,
	occurredAt time.Time,
	usersByID map[int64]*tg.User,
	chatsByID map[int64]gotdChatInfo,
) []gotdUpdateEnvelope {
	switch update.(type) {
	case *tg.UpdateNewMessage, *tg.UpdateNewChannelMessage:
		return []gotdUpdateEnvelope{{
			update:      update,
			occurredAt:  occurredAt,
			usersByID:   usersByID,
			chatsByID:   chatsByID,
			updateClass: update.TypeName(),
		}}
	default:
		return nil
	}
}

func shortMessageEnvelope(update *tg.UpdateShortMessage) gotdUpdateEnvelope {
	message := &tg.Message{
		ID:      update.ID,
		Out:     update.Out,
		PeerID:  &tg.PeerUser{UserID: update.UserID},
		Date:    update.Date,
		Message: update.Message,
	}
	message.SetFromID(&tg.PeerUser{UserID: update.UserID})

	return gotdUpdateEnvelope{
		update:      &tg.UpdateNewMessage{Message: message, Pts: update.Pts, PtsCount: update.PtsCount},
		occurredAt:  intToTimeUTC(update.Date),
		updateClass: update.TypeName(),
	}
}

func shortChatMessageEnvelope(update *tg.UpdateShortChatMessage) gotdUpdateEnvelope {
	message := &tg.Message{
		ID:      update.ID,
		Out:     update.Out,
		PeerID:  &tg.PeerChat{ChatID: update.ChatID},
		Date:    update.Date,
		Message: update.Message,
	}
	message.SetFromID(&tg.PeerUser{UserID: update.FromID})

	return gotdUpdateEnvelope{
		update:      &tg.UpdateNewMessage{Message: message, Pts: update.Pts, PtsCount: update.PtsCount},
		occurredAt:  intToTimeUTC(update.Date),
		updateClass: update.TypeName(),
	}
}
