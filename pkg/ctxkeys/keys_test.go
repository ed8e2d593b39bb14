package ctxkeys

import (
	"context"
	"testing"
)

func TestClientRoundTrip(t *testing.T) {
	ctx := WithRequestID(WithClient(context.Background(), "10.0.0.1", "curl/8"), "req-1")

	if got := GetClientIP(ctx); got != "10.0.0.1" {
		t.Fatalf("GetClientIP = %q", got)
	}
	if got := GetUserAgent(ctx); got != "curl/8" {
		t.Fatalf("GetUserAgent = %q", got)
	}
	if got := GetRequestID(ctx); got != "req-1" {
		t.Fatalf("GetRequestID = %q", got)
	}
}

func TestMissingKeysAreEmpty(t *testing.T) {
	ctx := context.WithValue(context.Background(), KeyClientIP, 42)
	if got := GetClientIP(ctx); got != "" {
		t.Fatalf("non-string value must read as empty, got %q", got)
	}
	if got := GetUserAgent(context.Background()); got != "" {
		t.Fatalf("GetUserAgent = %q", got)
	}
}
