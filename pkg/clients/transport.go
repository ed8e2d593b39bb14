// Package clients holds the outbound HTTP plumbing shared by the inventory
// and model clients: pooled transports, retries and circuit breakers.
package clients

import (
	"net"
	"net/http"
	"time"
)

// TransportConfig caps the connections to one upstream.
type TransportConfig struct {
	MaxConnsPerHost     int
	MaxIdleConnsPerHost int
	DialTimeout         time.Duration
}

// NewTransport returns a pooled transport. A per-host cap keeps an upstream
// outage from piling up goroutines waiting on connections.
func NewTransport(cfg TransportConfig) *http.Transport {
	if cfg.MaxConnsPerHost <= 0 {
		cfg.MaxConnsPerHost = 32
	}
	if cfg.MaxIdleConnsPerHost <= 0 {
		cfg.MaxIdleConnsPerHost = min(cfg.MaxConnsPerHost, 8)
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	dialer := &net.Dialer{Timeout: cfg.DialTimeout, KeepAlive: 30 * time.Second}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		MaxConnsPerHost:       cfg.MaxConnsPerHost,
		MaxIdleConns:          cfg.MaxConnsPerHost,
		MaxIdleConnsPerHost:   cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
		ForceAttemptHTTP2:     true,
	}
}

// NewHTTPClient returns a client on a default NewTransport. A zero timeout
// leaves the deadline to the request context, which streaming model
// responses need.
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{Transport: NewTransport(TransportConfig{}), Timeout: timeout}
}
