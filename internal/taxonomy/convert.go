package taxonomy

import (
	"context"
	"errors"
	"net"
	"os"
	"strings"
)

// FromHostError classifies a raw error surfaced by a transport or the
// filesystem into the taxonomy, per the conversion rules transports
// are expected to apply before emitting an `error` event: transport
// cancellation becomes network.cancelled, a timeout becomes
// network.timeout, an unreachable host becomes
// network.connection_failed, a pre-existing destination file becomes
// filesystem.cannot_move, and anything unrecognized becomes
// processor.download_failed so it still surfaces as a terminal
// failure rather than being silently dropped.
func FromHostError(err error) *Error {
	if err == nil {
		return nil
	}

	if te, ok := err.(*Error); ok {
		return te
	}

	if errors.Is(err, context.Canceled) {
		return New(NetworkCancelled, "", err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return New(NetworkTimeout, "", err)
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return New(NetworkTimeout, "", err)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return New(NetworkTimeout, "", err)
	}

	if os.IsExist(err) {
		return New(FilesystemCannotMove, "destination already exists", err)
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return New(NetworkConnectionFailed, opErr.Op, err)
	}

	lower := strings.ToLower(err.Error())
	switch {
	case strings.Contains(lower, "no such host"),
		strings.Contains(lower, "connection refused"),
		strings.Contains(lower, "network is unreachable"),
		strings.Contains(lower, "no route to host"):
		return New(NetworkConnectionFailed, "", err)
	case strings.Contains(lower, "timeout"), strings.Contains(lower, "timed out"):
		return New(NetworkTimeout, "", err)
	case strings.Contains(lower, "context canceled"), strings.Contains(lower, "cancelled"):
		return New(NetworkCancelled, "", err)
	case strings.Contains(lower, "no space left on device"), strings.Contains(lower, "disk full"):
		return New(FilesystemInsufficientSpace, "", err)
	case strings.Contains(lower, "permission denied"):
		return New(CachePermissionDenied, "", err)
	}

	return New(ProcessorDownloadFailed, "", err)
}

// DefaultRetriableStatusCodes is the set FromHTTPStatus falls back to
// when a caller passes a nil retriableCodes, matching
// config.MirrorConfig's own default (§9).
var DefaultRetriableStatusCodes = []int{408, 429, 500, 502, 503, 504}

// FromHTTPStatus classifies a completed HTTP response by status code
// into a network taxonomy error, distinguishing retriable server
// errors from permanent client errors. retriableCodes is the
// configured set of status codes the Mirror Policy should retry
// (§9); a nil slice uses DefaultRetriableStatusCodes.
func FromHTTPStatus(code int, reason string, retriableCodes []int) *Error {
	if code == 0 {
		return New(NetworkNoConnection, reason, nil)
	}

	if retriableCodes == nil {
		retriableCodes = DefaultRetriableStatusCodes
	}
	for _, c := range retriableCodes {
		if c == code {
			return New(NetworkServerError, reason, nil)
		}
	}

	return New(ProcessorDownloadFailed, reason, nil)
}
