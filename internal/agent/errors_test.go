package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"syscall"
	"testing"

	"github.com/rebekaee1/mgp-v2/pkg/llm"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func apiError(status int, body string) error {
	return fmt.Errorf("complete: %w", &llm.APIError{Provider: "openai", StatusCode: status, Body: body})
}

func TestClassifyProviderError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want providerFailure
	}{
		{"rate limited", apiError(429, "slow down"), failureRateLimited},
		{"geo by status", apiError(403, "forbidden"), failureGeoBlocked},
		{"geo by body", apiError(400, `{"error":{"code":"unsupported_country_region_territory"}}`), failureGeoBlocked},
		{"context too large", apiError(400, "This model's maximum context length is 128000 tokens"), failureContextTooLarge},
		{"malformed", apiError(400, "invalid tool_call_id"), failureMalformed},
		{"server error", apiError(500, "oops"), failureOther},
		{"canceled", context.Canceled, failureOther},
		{"net timeout", timeoutErr{}, failureTransient},
		{"deadline", fmt.Errorf("read: %w", context.DeadlineExceeded), failureTransient},
		{"reset", syscall.ECONNRESET, failureTransient},
		{"eof", io.ErrUnexpectedEOF, failureTransient},
		{"reset text", errors.New("write tcp: connection reset by peer"), failureTransient},
		{"other", errors.New("boom"), failureOther},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classifyProviderError(tt.err); got != tt.want {
				t.Fatalf("classifyProviderError() = %s, want %s", got, tt.want)
			}
		})
	}
}
