package telegram

import (
	"time"

	"memoria/pkg/memoria"
)

// Update is the adapter-level DTO for one inbound Telegram message.
type Update struct {
	// ID is a stable identifier derived from chat and message ids.
	ID string
	// OccurredAt is the message send time in UTC.
	OccurredAt time.Time
	Chat       ChatRef
	Actor      ActorRef
	Message    *MessagePayload
	// Metadata carries transport details such as the gotd update class.
	Metadata map[string]string
}

// ChatRef identifies the conversation an update was posted in.
type ChatRef struct {
	ID    string
	Title string
	Type  memoria.ConversationType
}

// ActorRef identifies the sender of an update.
type ActorRef struct {
	ID          string
	Username    string
	DisplayName string
	IsBot       bool
}

// MessagePayload is the message body of an update.
type MessagePayload struct {
	ID    string
	Text  string
	Media []MediaPayload
}

// MediaPayload describes one attachment.
type MediaPayload struct {
	ID        string
	Type      memoria.MediaType
	MIMEType  string
	FileName  string
	SizeBytes int64
	// Duration is set for voice notes and audio files.
	Duration time.Duration
}
