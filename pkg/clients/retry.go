package clients

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
)

// RetryFunc decides whether one attempt should be repeated.
type RetryFunc func(resp *http.Response, err error) bool

// DefaultShouldRetry retries transport errors, 429 and the gateway-style
// 5xx codes.
func DefaultShouldRetry(resp *http.Response, err error) bool {
	if err != nil {
		return !errors.Is(err, context.Canceled)
	}
	if resp == nil {
		return true
	}
	switch resp.StatusCode {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// TimeoutOnlyRetry repeats an attempt only when it timed out. Slow
// endpoints that answer deterministically use it.
func TimeoutOnlyRetry(_ *http.Response, err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// ExecutorConfig is the retry schedule of one class of calls.
type ExecutorConfig struct {
	// Name labels the retry counter.
	Name       string
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	// ShouldRetry defaults to DefaultShouldRetry.
	ShouldRetry RetryFunc
	// Breaker, when set, wraps every attempt. Share it between executors
	// that hit the same upstream.
	Breaker circuitbreaker.CircuitBreaker[*http.Response]
}

func (cfg ExecutorConfig) withDefaults() ExecutorConfig {
	if cfg.Name == "" {
		cfg.Name = "upstream"
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 100 * time.Millisecond
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 5 * time.Second
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = cfg.BaseDelay
	}
	if cfg.ShouldRetry == nil {
		cfg.ShouldRetry = DefaultShouldRetry
	}
	return cfg
}

// NewRetryPolicy builds jittered exponential backoff that gives back the
// last response or error once retries run out.
//
//nolint:bodyclose // *http.Response is only a type parameter here
func NewRetryPolicy(cfg ExecutorConfig) retrypolicy.RetryPolicy[*http.Response] {
	cfg = cfg.withDefaults()
	return retrypolicy.NewBuilder[*http.Response]().
		WithBackoff(cfg.BaseDelay, cfg.MaxDelay).
		WithMaxRetries(cfg.MaxRetries).
		WithJitterFactor(0.1).
		HandleIf(func(resp *http.Response, err error) bool {
			return cfg.ShouldRetry(resp, err)
		}).
		OnRetry(func(failsafe.ExecutionEvent[*http.Response]) {
			retriesTotal.WithLabelValues(cfg.Name).Inc()
		}).
		ReturnLastFailure().
		Build()
}

// NewExecutor composes the retry policy outside the optional breaker, so an
// open breaker fails each attempt fast.
//
//nolint:bodyclose // *http.Response is only a type parameter here
func NewExecutor(cfg ExecutorConfig) failsafe.Executor[*http.Response] {
	retry := NewRetryPolicy(cfg)
	if cfg.Breaker != nil {
		return failsafe.With[*http.Response](retry, cfg.Breaker)
	}
	return failsafe.With[*http.Response](retry)
}

// Do runs fn through executor under ctx.
func Do(ctx context.Context, executor failsafe.Executor[*http.Response], fn func() (*http.Response, error)) (*http.Response, error) {
	return executor.WithContext(ctx).Get(fn)
}
