package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"memoria/pkg/memoria"

	"github.com/gotd/td/tg"
)

const (
	gotdUnknownConversationID = "unknown"
	gotdUnknownActorID        = "unknown"
)

// DefaultGotdUpdateMapper maps gotd new-message updates into adapter DTO updates.
type DefaultGotdUpdateMapper struct {
	peerCache *PeerCache
	documents *DocumentCache
}

// GotdUpdateMapperOption mutates DefaultGotdUpdateMapper behavior.
type GotdUpdateMapperOption func(*DefaultGotdUpdateMapper)

// WithPeerCache records entity-derived peer mappings for outbound dispatch.
func WithPeerCache(cache *PeerCache) GotdUpdateMapperOption {
	return func(mapper *DefaultGotdUpdateMapper) {
		if cache != nil {
			mapper.peerCache = cache
		}
	}
}

// WithDocumentCache records document locations for later media download.
func WithDocumentCache(cache *DocumentCache) GotdUpdateMapperOption {
	return func(mapper *DefaultGotdUpdateMapper) {
		if cache != nil {
			mapper.documents = cache
		}
	}
}

// NewDefaultGotdUpdateMapper creates the default gotd mapper.
func NewDefaultGotdUpdateMapper(options ...GotdUpdateMapperOption) DefaultGotdUpdateMapper {
	mapper := DefaultGotdUpdateMapper{}
	for _, option := range options {
		option(&mapper)
	}

	return mapper
}

// Map converts a gotd raw update value into an adapter update.
func (m DefaultGotdUpdateMapper) Map(ctx context.Context, raw any) (Update, bool, error) {
	select {
	case <-ctx.Done():
		return Update{}, false, fmt.Errorf("map gotd update context: %w", ctx.Err())
	default:
	}

	envelope, err := normalizeGotdRaw(raw)
	if err != nil {
		return Update{}, false, fmt.Errorf("map gotd raw update: %w", err)
	}
	if m.peerCache != nil {
		m.peerCache.RememberEnvelope(envelope)
	}

	var message tg.MessageClass
	switch update := envelope.update.(type) {
	case *tg.UpdateNewMessage:
		message = update.Message
	case *tg.UpdateNewChannelMessage:
		message = update.Message
	default:
		return Update{}, false, nil
	}

	typed, ok := message.(*tg.Message)
	if !ok || typed == nil {
		return Update{}, false, nil
	}
	if typed.Out {
		return Update{}, false, nil
	}

	return m.mapMessage(typed, envelope), true, nil
}

func normalizeGotdRaw(raw any) (gotdUpdateEnvelope, error) {
	switch typed := raw.(type) {
	case gotdUpdateEnvelope:
		return typed, nil
	case *gotdUpdateEnvelope:
		if typed == nil {
			return gotdUpdateEnvelope{}, fmt.Errorf("nil envelope")
		}
		return *typed, nil
	case tg.UpdateClass:
		if typed == nil {
			return gotdUpdateEnvelope{}, fmt.Errorf("nil update class")
		}
		return gotdUpdateEnvelope{
			update:      typed,
			occurredAt:  time.Now().UTC(),
			updateClass: typed.TypeName(),
		}, nil
	default:
		return gotdUpdateEnvelope{}, fmt.Errorf("unsupported raw type %T", raw)
	}
}

func (m DefaultGotdUpdateMapper) mapMessage(message *tg.Message, envelope gotdUpdateEnvelope) Update {
	chat := resolveChatFromPeer(message.PeerID, envelope)
	actor := resolveActorFromPeer(message.FromID, envelope)
	if actor.ID == gotdUnknownActorID {
		actor = resolveActorFromPeer(message.PeerID, envelope)
	}

	payload := &MessagePayload{
		ID:    strconv.Itoa(message.ID),
		Text:  message.Message,
		Media: m.mapMessageMedia(message.Media),
	}

	occurredAt := intToTimeUTC(message.Date)
	if occurredAt.IsZero() {
		occurredAt = envelope.occurredAt
	}
	if m.peerCache != nil {
		m.peerCache.RememberConversation(chat, resolveInputPeerFromPeer(message.PeerID, envelope))
	}

	return Update{
		ID:         composeUpdateID(chat.ID, payload.ID),
		OccurredAt: occurredAt,
		Chat:       chat,
		Actor:      actor,
		Message:    payload,
		Metadata:   newGotdMetadata(envelope),
	}
}

func (m DefaultGotdUpdateMapper) mapMessageMedia(media tg.MessageMediaClass) []MediaPayload {
	switch typed := media.(type) {
	case *tg.MessageMediaPhoto:
		photo, ok := typed.GetPhoto()
		if !ok {
			return nil
		}
		if concrete, ok := photo.(*tg.Photo); ok {
			return []MediaPayload{{ID: strconv.FormatInt(concrete.ID, 10), Type: memoria.MediaTypePhoto}}
		}
		return nil
	case *tg.MessageMediaDocument:
		document, ok := typed.GetDocument()
		if !ok {
			return nil
		}
		concrete, ok := document.(*tg.Document)
		if !ok {
			return nil
		}
		if m.documents != nil {
			m.documents.Remember(concrete)
		}
		return []MediaPayload{mapDocumentMedia(concrete)}
	default:
		return nil
	}
}

func mapDocumentMedia(document *tg.Document) MediaPayload {
	mediaType, duration := mediaTypeFromDocument(document.MimeType, document.Attributes)

	return MediaPayload{
		ID:        strconv.FormatInt(document.ID, 10),
		Type:      mediaType,
		MIMEType:  document.MimeType,
		FileName:  documentFileName(document.Attributes),
		SizeBytes: document.Size,
		Duration:  duration,
	}
}

// mediaTypeFromDocument classifies a document; voice notes carry an audio
// attribute with the voice flag set.
func mediaTypeFromDocument(mimeType string, attributes []tg.DocumentAttributeClass) (memoria.MediaType, time.Duration) {
	for _, attribute := range attributes {
		switch typed := attribute.(type) {
		case *tg.DocumentAttributeAudio:
			duration := time.Duration(typed.Duration) * time.Second
			if typed.Voice {
				return memoria.MediaTypeVoice, duration
			}
			return memoria.MediaTypeAudio, duration
		case *tg.DocumentAttributeVideo:
			return memoria.MediaTypeVideo, 0
		}
	}

	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return memoria.MediaTypePhoto, 0
	case strings.HasPrefix(mimeType, "video/"):
		return memoria.MediaTypeVideo, 0
	case strings.HasPrefix(mimeType, "audio/"):
		return memoria.MediaTypeAudio, 0
	default:
		return memoria.MediaTypeDocument, 0
	}
}

func documentFileName(attributes []tg.DocumentAttributeClass) string {
	for _, attribute := range attributes {
		if typed, ok := attribute.(*tg.DocumentAttributeFilename); ok {
			return typed.FileName
		}
	}

	return ""
}

type gotdUpdateEnvelope struct {
	update      tg.UpdateClass
	occurredAt  time.Time
	usersByID   map[int64]*tg.User
	chatsByID   map[int64]gotdChatInfo
	updateClass string
}

type gotdChatInfo struct {
	title     string
	kind      memoria.ConversationType
	inputPeer tg.InputPeerClass
}

func indexGotdUsers(users []tg.UserClass) map[int64]*tg.User {
	if len(users) == 0 {
		return nil
	}

	out := make(map[int64]*tg.User, len(users))
	for _, user := range users {
		if user == nil {
			continue
		}
		notEmpty, ok := user.AsNotEmpty()
		if !ok || notEmpty == nil {
			continue
		}
		out[notEmpty.ID] = notEmpty
	}

	return out
}

func indexGotdChats(chats []tg.ChatClass) map[int64]gotdChatInfo {
	if len(chats) == 0 {
		return nil
	}

	out := make(map[int64]gotdChatInfo, len(chats))
	for _, chat := range chats {
		switch typed := chat.(type) {
		case *tg.Chat:
			out[typed.ID] = gotdChatInfo{
				title:     typed.Title,
				kind:      memoria.ConversationTypeGroup,
				inputPeer: &tg.InputPeerChat{ChatID: typed.ID},
			}
		case *tg.Channel:
			kind := memoria.ConversationTypeChannel
			if typed.Megagroup {
				kind = memoria.ConversationTypeGroup
			}
			out[typed.ID] = gotdChatInfo{
				title:     typed.Title,
				kind:      kind,
				inputPeer: &tg.InputPeerChannel{ChannelID: typed.ID, AccessHash: typed.AccessHash},
			}
		}
	}

	return out
}

func resolveChatFromPeer(peer tg.PeerClass, envelope gotdUpdateEnvelope) ChatRef {
	switch typed := peer.(type) {
	case *tg.PeerUser:
		actor := resolveActorByUserID(typed.UserID, envelope)
		return ChatRef{ID: actor.ID, Type: memoria.ConversationTypePrivate, Title: actor.DisplayName}
	case *tg.PeerChat:
		return resolveChatByID(typed.ChatID, memoria.ConversationTypeGroup, envelope)
	case *tg.PeerChannel:
		return resolveChatByID(typed.ChannelID, memoria.ConversationTypeChannel, envelope)
	default:
		return ChatRef{ID: gotdUnknownConversationID, Type: memoria.ConversationTypePrivate}
	}
}

func resolveChatByID(id int64, fallback memoria.ConversationType, envelope gotdUpdateEnvelope) ChatRef {
	chat := ChatRef{ID: strconv.FormatInt(id, 10), Type: fallback}
	if info, ok := envelope.chatsByID[id]; ok {
		chat.Title = info.title
		chat.Type = info.kind
	}

	return chat
}

func resolveActorFromPeer(peer tg.PeerClass, envelope gotdUpdateEnvelope) ActorRef {
	switch typed := peer.(type) {
	case *tg.PeerUser:
		return resolveActorByUserID(typed.UserID, envelope)
	case *tg.PeerChat:
		return ActorRef{
			ID:          strconv.FormatInt(typed.ChatID, 10),
			DisplayName: envelope.chatsByID[typed.ChatID].title,
		}
	case *tg.PeerChannel:
		return ActorRef{
			ID:          strconv.FormatInt(typed.ChannelID, 10),
			DisplayName: envelope.chatsByID[typed.ChannelID].title,
		}
	default:
		return ActorRef{ID: gotdUnknownActorID}
	}
}

func resolveActorByUserID(userID int64, envelope gotdUpdateEnvelope) ActorRef {
	if userID == 0 {
		return ActorRef{ID: gotdUnknownActorID}
	}

	id := strconv.FormatInt(userID, 10)
	user, ok := envelope.usersByID[userID]
	if !ok || user == nil {
		return ActorRef{ID: id}
	}

	username, _ := user.GetUsername()
	firstName, _ := user.GetFirstName()
	lastName, _ := user.GetLastName()

	displayName := strings.TrimSpace(firstName + " " + lastName)
	if displayName == "" {
		displayName = username
	}

	return ActorRef{
		ID:          id,
		Username:    username,
		DisplayName: displayName,
		IsBot:       user.Bot,
	}
}

func resolveInputPeerFromPeer(peer tg.PeerClass, envelope gotdUpdateEnvelope) tg.InputPeerClass {
	switch typed := peer.(type) {
	case *tg.PeerUser:
		user, ok := envelope.usersByID[typed.UserID]
		if !ok || user == nil {
			return nil
		}
		return user.AsInputPeer()
	case *tg.PeerChat:
		if typed.ChatID == 0 {
			return nil
		}
		return &tg.InputPeerChat{ChatID: typed.ChatID}
	case *tg.PeerChannel:
		info, ok := envelope.chatsByID[typed.ChannelID]
		if !ok || info.inputPeer == nil {
			return nil
		}
		return cloneInputPeer(info.inputPeer)
	default:
		return nil
	}
}

func intToTimeUTC(value int) time.Time {
	if value <= 0 {
		return time.Time{}
	}

	return time.Unix(int64(value), 0).UTC()
}

func composeUpdateID(chatID string, messageID string) string {
	return strings.Join([]string{"tg", chatID, messageID}, ":")
}

func newGotdMetadata(envelope gotdUpdateEnvelope) map[string]string {
	if envelope.updateClass == "" {
		return nil
	}

	return map[string]string{"gotd_update": envelope.updateClass}
}
