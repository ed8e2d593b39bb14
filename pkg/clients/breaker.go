package clients

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/failsafe-go/failsafe-go/circuitbreaker"

	"github.com/rebekaee1/mgp-v2/pkg/logging"
)

// BreakerState mirrors the failsafe-go states for logs and the state gauge.
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerHalfOpen
	BreakerOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerHalfOpen:
		return "half-open"
	case BreakerOpen:
		return "open"
	default:
		return "unknown"
	}
}

func breakerState(state circuitbreaker.State) BreakerState {
	switch state {
	case circuitbreaker.HalfOpenState:
		return BreakerHalfOpen
	case circuitbreaker.OpenState:
		return BreakerOpen
	default:
		return BreakerClosed
	}
}

// BreakerConfig configures one upstream's breaker. One breaker is shared by
// every executor that calls the same upstream.
type BreakerConfig struct {
	Name string
	// Cooldown is how long the breaker stays open before probing.
	Cooldown time.Duration
	// FailureRatio of the last Window attempts opens the breaker.
	FailureRatio float64
	Window       uint
	// SuccessThreshold half-open probes close it again.
	SuccessThreshold uint
	Logger           logging.Logger
}

func (cfg BreakerConfig) withDefaults() BreakerConfig {
	if cfg.Name == "" {
		cfg.Name = "upstream"
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 15 * time.Second
	}
	if cfg.FailureRatio <= 0 || cfg.FailureRatio > 1 {
		cfg.FailureRatio = 0.5
	}
	if cfg.Window == 0 {
		cfg.Window = 10
	}
	if cfg.SuccessThreshold == 0 {
		cfg.SuccessThreshold = 1
	}
	return cfg
}

// failures is the absolute count FailureRatio stands for, at least one.
func (cfg BreakerConfig) failures() uint {
	if n := uint(float64(cfg.Window) * cfg.FailureRatio); n > 0 {
		return n
	}
	return 1
}

// IsBreakerFailure counts transport errors and 5xx responses. A cancelled
// client request says nothing about the upstream.
func IsBreakerFailure(resp *http.Response, err error) bool {
	if err != nil {
		return !errors.Is(err, context.Canceled)
	}
	return resp != nil && resp.StatusCode >= http.StatusInternalServerError
}

// NewHTTPBreaker builds a breaker over HTTP responses and registers its
// state gauge.
//
//nolint:bodyclose // *http.Response is only a type parameter here
func NewHTTPBreaker(cfg BreakerConfig) circuitbreaker.CircuitBreaker[*http.Response] {
	cfg = cfg.withDefaults()
	setBreakerState(cfg.Name, BreakerClosed)
	return circuitbreaker.NewBuilder[*http.Response]().
		WithFailureThresholdRatio(cfg.failures(), cfg.Window).
		WithDelay(cfg.Cooldown).
		WithSuccessThreshold(cfg.SuccessThreshold).
		HandleIf(IsBreakerFailure).
		OnStateChanged(func(event circuitbreaker.StateChangedEvent) {
			from, to := breakerState(event.OldState), breakerState(event.NewState)
			breakerTransition(cfg.Name, from, to)
			if cfg.Logger != nil {
				cfg.Logger.WithFields(logging.Fields{
					"breaker": cfg.Name,
					"from":    from.String(),
					"to":      to.String(),
				}).Warn("Upstream circuit breaker changed state")
			}
		}).
		Build()
}

// IsBreakerOpen reports whether err means the call was refused by an open
// breaker without reaching the upstream.
func IsBreakerOpen(err error) bool {
	return errors.Is(err, circuitbreaker.ErrOpen)
}
