// Package redis connects the shared Redis used for rate limits and the
// dictionary cache.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// KeyPrefix namespaces every key written by the service.
const KeyPrefix = "tourbot"

const (
	defaultDialTimeout   = 3 * time.Second
	defaultSocketTimeout = 2 * time.Second
)

var ErrNoURL = errors.New("redis: url is required")

// Connect parses a redis:// or rediss:// URL, fills in short socket
// timeouts and verifies the server with a ping.
func Connect(ctx context.Context, redisURL string) (goredis.UniversalClient, error) {
	if redisURL == "" {
		return nil, ErrNoURL
	}
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	applyTimeouts(opts)

	client := goredis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, opts.DialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func applyTimeouts(opts *goredis.Options) {
	if opts.DialTimeout == 0 {
		opts.DialTimeout = defaultDialTimeout
	}
	if opts.ReadTimeout == 0 {
		opts.ReadTimeout = defaultSocketTimeout
	}
	if opts.WriteTimeout == 0 {
		opts.WriteTimeout = defaultSocketTimeout
	}
}

// Key joins parts under KeyPrefix with colons, skipping empty parts.
func Key(parts ...string) string {
	var b strings.Builder
	b.WriteString(KeyPrefix)
	for _, p := range parts {
		if p == "" {
			continue
		}
		b.WriteByte(':')
		b.WriteString(p)
	}
	return b.String()
}
