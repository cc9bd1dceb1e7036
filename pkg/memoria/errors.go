package memoria

import "errors"

var (
	// ErrInvalidEvent indicates that an event does not satisfy protocol invariants.
	ErrInvalidEvent = errors.New("memoria: invalid event")
	// ErrInvalidSubscription indicates that a subscription configuration is invalid.
	ErrInvalidSubscription = errors.New("memoria: invalid subscription")
	// ErrSubscriptionClosed indicates that a subscription is no longer active.
	ErrSubscriptionClosed = errors.New("memoria: subscription closed")
	// ErrEventDropped indicates a non-blocking backpressure drop.
	ErrEventDropped = errors.New("memoria: event dropped due to backpressure")
	// ErrServiceAlreadyRegistered indicates duplicate service registration.
	ErrServiceAlreadyRegistered = errors.New("memoria: service already registered")
	// ErrServiceNotFound indicates a service lookup miss.
	ErrServiceNotFound = errors.New("memoria: service not found")
	// ErrModuleAlreadyRegistered indicates duplicate module registration.
	ErrModuleAlreadyRegistered = errors.New("memoria: module already registered")
	// ErrDriverAlreadyRegistered indicates duplicate driver registration.
	ErrDriverAlreadyRegistered = errors.New("memoria: driver already registered")
	// ErrInvalidOutboundRequest indicates an outbound request failed validation.
	ErrInvalidOutboundRequest = errors.New("memoria: invalid outbound request")
	// ErrOutboundUnsupported indicates no sink can serve an outbound request.
	ErrOutboundUnsupported = errors.New("memoria: outbound operation unsupported")
	// ErrMediaUnavailable indicates media bytes could not be located for download.
	ErrMediaUnavailable = errors.New("memoria: media unavailable")

	// ErrNotConfigured indicates required credential material is absent.
	ErrNotConfigured = errors.New("memoria: not configured")
	// ErrNotFound indicates the target collection is missing or inaccessible.
	ErrNotFound = errors.New("memoria: not found")
	// ErrTransient indicates a network or rate-limit failure talking to a collaborator.
	ErrTransient = errors.New("memoria: transient failure")
	// ErrSchemaMismatch indicates the stored header does not match any known schema version.
	ErrSchemaMismatch = errors.New("memoria: schema mismatch")
	// ErrDegraded indicates a collaborator runs without its backing service.
	ErrDegraded = errors.New("memoria: degraded mode")
	// ErrNoSpeech indicates transcription produced no usable text.
	ErrNoSpeech = errors.New("memoria: no speech detected")
	// ErrAudioTooLong indicates a voice message exceeds the accepted duration.
	ErrAudioTooLong = errors.New("memoria: audio too long")
)

// NeedsOperator reports whether err needs operator attention rather than a
// user retry: missing configuration, a missing collection or a schema mismatch.
func NeedsOperator(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrSchemaMismatch) ||
		errors.Is(err, ErrNotConfigured)
}
