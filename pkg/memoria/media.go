package memoria

import "context"

// ServiceMediaDownloader is the service registry key for media downloads.
const ServiceMediaDownloader = "memoria.media_downloader"

// MediaDownloader fetches attachment bytes from the platform that delivered them.
type MediaDownloader interface {
	DownloadMedia(ctx context.Context, req MediaDownloadRequest) ([]byte, error)
}

// MediaDownloadRequest identifies one attachment to download.
type MediaDownloadRequest struct {
	Platform Platform
	// Conversation is where the attachment was posted.
	Conversation Conversation
	// MessageID is the message carrying the attachment.
	MessageID string
	// Media is the attachment metadata from the inbound event.
	Media MediaAttachment
}
