package memoria

import (
	"fmt"
	"strings"
	"time"
)

// EventKind identifies an inbound event type.
type EventKind string

const (
	// EventKindMessageCreated is emitted when a new message is posted.
	EventKindMessageCreated EventKind = "message.created"
)

// Platform identifies an external chat platform source.
type Platform string

const (
	// PlatformTelegram is Telegram.
	PlatformTelegram Platform = "telegram"
)

// ConversationType identifies conversation scope.
type ConversationType string

const (
	// ConversationTypePrivate is a direct/private conversation.
	ConversationTypePrivate ConversationType = "private"
	// ConversationTypeGroup is a group conversation.
	ConversationTypeGroup ConversationType = "group"
	// ConversationTypeChannel is a channel-style conversation.
	ConversationTypeChannel ConversationType = "channel"
)

// Event is the platform-neutral envelope that drivers publish and modules consume.
type Event struct {
	// ID is a stable identifier for this event instance.
	ID string
	// Kind selects which payload branch is expected.
	Kind EventKind
	// OccurredAt is the source-platform timestamp for the event.
	OccurredAt time.Time
	// Platform identifies the upstream platform that produced the event.
	Platform Platform
	// Conversation identifies where the event happened.
	Conversation Conversation
	// Actor identifies who initiated the event when available.
	Actor Actor
	// Message carries message content for message-created events.
	Message *Message
	// Metadata stores optional driver-provided key/value context.
	Metadata map[string]string
}

// Conversation identifies the destination where an event occurred.
type Conversation struct {
	// ID is the stable conversation identifier on the source platform.
	ID string
	// Type describes the conversation scope.
	Type ConversationType
	// Title is a best-effort display label for the conversation.
	Title string
}

// Actor identifies the user/account that initiated an event.
type Actor struct {
	// ID is the stable actor identifier on the source platform.
	ID string
	// Username is the platform handle when available.
	Username string
	// DisplayName is the human-readable actor name.
	DisplayName string
	// IsBot reports whether the actor is an automated account.
	IsBot bool
}

// Name returns the best human-readable label for the actor.
func (a Actor) Name() string {
	if name := strings.TrimSpace(a.DisplayName); name != "" {
		return name
	}

	return strings.TrimSpace(a.Username)
}

// Message holds message content including media.
type Message struct {
	// ID is the message identifier on the source platform.
	ID string
	// Text is the normalized message text body.
	Text string
	// Media contains normalized attachments associated with the message.
	Media []MediaAttachment
}

// MediaType identifies attachment media categories.
type MediaType string

const (
	// MediaTypeVoice identifies a recorded voice note.
	MediaTypeVoice MediaType = "voice"
	// MediaTypeAudio identifies an audio file attachment.
	MediaTypeAudio MediaType = "audio"
	// MediaTypePhoto identifies an image attachment.
	MediaTypePhoto MediaType = "photo"
	// MediaTypeVideo identifies a video attachment.
	MediaTypeVideo MediaType = "video"
	// MediaTypeDocument identifies a generic file attachment.
	MediaTypeDocument MediaType = "document"
)

// MediaAttachment represents media payload metadata.
type MediaAttachment struct {
	// ID is the stable attachment identifier used for downloads.
	ID string
	// Type is the normalized media category.
	Type MediaType
	// MIMEType is the attachment content type when known.
	MIMEType string
	// FileName is the original attachment filename when available.
	FileName string
	// SizeBytes is the attachment size in bytes when available.
	SizeBytes int64
	// Duration is the playback length for time-based media.
	Duration time.Duration
}

// Voice returns the first voice or audio attachment of a message event.
func (e *Event) Voice() (MediaAttachment, bool) {
	if e == nil || e.Message == nil {
		return MediaAttachment{}, false
	}
	for _, media := range e.Message.Media {
		if media.Type == MediaTypeVoice || media.Type == MediaTypeAudio {
			return media, true
		}
	}

	return MediaAttachment{}, false
}

// Validate checks event envelope and payload coherence.
func (e *Event) Validate() error {
	if e == nil {
		return fmt.Errorf("%w: nil event", ErrInvalidEvent)
	}
	if e.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidEvent)
	}
	if e.Kind == "" {
		return fmt.Errorf("%w: missing kind", ErrInvalidEvent)
	}
	if e.OccurredAt.IsZero() {
		return fmt.Errorf("%w: missing occurred_at", ErrInvalidEvent)
	}
	if e.Conversation.ID == "" {
		return fmt.Errorf("%w: missing conversation id", ErrInvalidEvent)
	}

	switch e.Kind {
	case EventKindMessageCreated:
		if e.Message == nil {
			return fmt.Errorf("%w: message.created requires message payload", ErrInvalidEvent)
		}
	default:
		return fmt.Errorf("%w: unsupported kind %q", ErrInvalidEvent, e.Kind)
	}

	return nil
}
