// Package ctxkeys defines typed context keys to avoid SA1029 lint warnings
// and prevent key collisions across packages.
package ctxkeys

import "context"

// Key is a typed context key to prevent collisions.
type Key string

// Request context keys
const (
	KeyRequestID Key = "request_id"
	KeyClientIP  Key = "client_ip"
	KeyUserAgent Key = "user_agent"
)

// WithClient stores the caller's address and user agent.
func WithClient(ctx context.Context, ip, userAgent string) context.Context {
	ctx = context.WithValue(ctx, KeyClientIP, ip)
	return context.WithValue(ctx, KeyUserAgent, userAgent)
}

// WithRequestID stores the request id used for log correlation.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, KeyRequestID, id)
}

// GetRequestID extracts request_id from context.
func GetRequestID(ctx context.Context) string {
	return getString(ctx, KeyRequestID)
}

// GetClientIP extracts client_ip from context.
func GetClientIP(ctx context.Context) string {
	return getString(ctx, KeyClientIP)
}

// GetUserAgent extracts user_agent from context.
func GetUserAgent(ctx context.Context) string {
	return getString(ctx, KeyUserAgent)
}

func getString(ctx context.Context, key Key) string {
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}
