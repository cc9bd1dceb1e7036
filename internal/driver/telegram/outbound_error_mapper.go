package telegram

import (
	"errors"
	"fmt"
	"strings"

	"memoria/pkg/memoria"

	"github.com/gotd/td/tgerr"
)

const (
	rpcErrorMessageNotModified   = "MESSAGE_NOT_MODIFIED"
	rpcErrorFileReferenceExpired = "FILE_REFERENCE_EXPIRED"
)

// mapTelegramError wraps rate limits and server-side failures with
// memoria.ErrTransient and stale file references with memoria.ErrMediaUnavailable.
func mapTelegramError(operation string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, memoria.ErrInvalidOutboundRequest) || errors.Is(err, memoria.ErrOutboundUnsupported) {
		return fmt.Errorf("%s: %w", operation, err)
	}

	if retryAfter, ok := tgerr.AsFloodWait(err); ok {
		return fmt.Errorf("%w: %s rate limited, retry after %s: %w", memoria.ErrTransient, operation, retryAfter, err)
	}

	rpcErr, ok := tgerr.As(err)
	if !ok {
		return fmt.Errorf("%s: %w", operation, err)
	}
	if tgerr.Is(err, rpcErrorFileReferenceExpired) {
		return fmt.Errorf("%w: %s: %w", memoria.ErrMediaUnavailable, operation, err)
	}
	if isTemporaryRPCError(rpcErr) {
		return fmt.Errorf("%w: %s: %w", memoria.ErrTransient, operation, err)
	}

	return fmt.Errorf("%s: %w", operation, err)
}

func isTemporaryRPCError(rpcErr *tgerr.Error) bool {
	if rpcErr == nil {
		return false
	}
	errorType := strings.ToUpper(strings.TrimSpace(rpcErr.Type))
	if rpcErr.Code == 420 || rpcErr.Code == 429 || strings.Contains(errorType, "FLOOD") {
		return true
	}

	return rpcErr.Code == 303 || rpcErr.Code >= 500
}
