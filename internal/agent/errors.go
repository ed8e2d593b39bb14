package agent

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"syscall"

	"github.com/rebekaee1/mgp-v2/pkg/llm"
)

// providerFailure classifies a failed model call by how the loop recovers.
type providerFailure int

const (
	failureOther providerFailure = iota
	failureRateLimited
	failureContextTooLarge
	failureMalformed
	failureTransient
	failureGeoBlocked
)

func (f providerFailure) String() string {
	switch f {
	case failureRateLimited:
		return "rate_limited"
	case failureContextTooLarge:
		return "context_too_large"
	case failureMalformed:
		return "malformed_request"
	case failureTransient:
		return "transient"
	case failureGeoBlocked:
		return "geo_blocked"
	default:
		return "other"
	}
}

// Body fragments providers use when the prompt exceeds the model window.
var contextTooLargeMarkers = []string{
	"context_length_exceeded",
	"maximum context length",
	"context length",
	"too many tokens",
	"token limit",
	"reduce the length",
	"too large",
}

func classifyProviderError(err error) providerFailure {
	if apiErr, ok := llm.AsAPIError(err); ok {
		body := strings.ToLower(apiErr.Body)
		switch {
		case apiErr.StatusCode == 429:
			return failureRateLimited
		case apiErr.StatusCode == 403 || strings.Contains(body, "unsupported_country"):
			return failureGeoBlocked
		case apiErr.StatusCode == 400 && containsAny(body, contextTooLargeMarkers):
			return failureContextTooLarge
		case apiErr.StatusCode == 400:
			return failureMalformed
		}
		return failureOther
	}
	if errors.Is(err, context.Canceled) {
		return failureOther
	}
	var netErr net.Error
	switch {
	case errors.As(err, &netErr) && netErr.Timeout():
		return failureTransient
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, io.ErrUnexpectedEOF):
		return failureTransient
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "connection reset") || strings.Contains(msg, "timeout") {
		return failureTransient
	}
	if strings.Contains(msg, "unsupported_country") {
		return failureGeoBlocked
	}
	return failureOther
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
