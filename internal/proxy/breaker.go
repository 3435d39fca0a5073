package proxy

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/signagehub/edge/internal/config"
	"github.com/signagehub/edge/internal/logging"
)

// errUpstreamUnhealthy marks a gateway-class status from the backend as a
// breaker failure while the response itself is still relayed to the client.
var errUpstreamUnhealthy = errors.New("upstream returned an unhealthy status")

// BreakerObserver receives breaker state changes.
// States follow gobreaker: 0 closed, 1 half-open, 2 open.
type BreakerObserver interface {
	SetBreakerState(service string, state int)
}

// BreakerSnapshot is the admin view of one breaker.
type BreakerSnapshot struct {
	State                string `json:"state"`
	Requests             uint32 `json:"requests"`
	TotalFailures        uint32 `json:"total_failures"`
	ConsecutiveFailures  uint32 `json:"consecutive_failures"`
	ConsecutiveSuccesses uint32 `json:"consecutive_successes"`
}

// Breakers holds one circuit breaker per backend service. A nil *Breakers
// passes every call straight through.
type Breakers struct {
	breakers map[string]*gobreaker.CircuitBreaker[*http.Response]
}

// NewBreakers creates breakers for the given services, or nil when disabled.
func NewBreakers(cfg config.CircuitBreakerConfig, services []string, observer BreakerObserver) *Breakers {
	if !cfg.Enabled {
		return nil
	}
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = 5
	}
	openTimeout := cfg.OpenTimeout
	if openTimeout <= 0 {
		openTimeout = 10 * time.Second
	}

	b := &Breakers{breakers: make(map[string]*gobreaker.CircuitBreaker[*http.Response], len(services))}
	for _, name := range services {
		b.breakers[name] = gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
			Name:        name,
			MaxRequests: 1,
			Interval:    cfg.Interval,
			Timeout:     openTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= maxFailures
			},
			OnStateChange: func(service string, from, to gobreaker.State) {
				logging.Warn("circuit breaker state changed",
					zap.String("service", service),
					zap.String("from", from.String()),
					zap.String("to", to.String()),
				)
				if observer != nil {
					observer.SetBreakerState(service, int(to))
				}
			},
			IsSuccessful: func(err error) bool {
				// a client hanging up says nothing about the backend
				return err == nil || errors.Is(err, context.Canceled)
			},
		})
		if observer != nil {
			observer.SetBreakerState(name, int(gobreaker.StateClosed))
		}
	}
	return b
}

// Execute runs fn through the service's breaker. A gateway-class status is
// counted as a failure but its response is returned without an error.
func (b *Breakers) Execute(service string, fn func() (*http.Response, error)) (*http.Response, error) {
	guarded := func() (*http.Response, error) {
		resp, err := fn()
		if err == nil && isUnhealthyStatus(resp.StatusCode) {
			return resp, errUpstreamUnhealthy
		}
		return resp, err
	}

	var cb *gobreaker.CircuitBreaker[*http.Response]
	if b != nil {
		cb = b.breakers[service]
	}
	var resp *http.Response
	var err error
	if cb == nil {
		resp, err = guarded()
	} else {
		resp, err = cb.Execute(guarded)
	}
	if errors.Is(err, errUpstreamUnhealthy) {
		return resp, nil
	}
	return resp, err
}

// IsOpen reports whether err came from a breaker rejecting the call.
func IsOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

// Snapshot returns the state of every breaker.
func (b *Breakers) Snapshot() map[string]BreakerSnapshot {
	out := make(map[string]BreakerSnapshot)
	if b == nil {
		return out
	}
	for name, cb := range b.breakers {
		counts := cb.Counts()
		out[name] = BreakerSnapshot{
			State:                cb.State().String(),
			Requests:             counts.Requests,
			TotalFailures:        counts.TotalFailures,
			ConsecutiveFailures:  counts.ConsecutiveFailures,
			ConsecutiveSuccesses: counts.ConsecutiveSuccesses,
		}
	}
	return out
}

// Services returns the guarded service names.
func (b *Breakers) Services() []string {
	if b == nil {
		return nil
	}
	names := make([]string, 0, len(b.breakers))
	for name := range b.breakers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func isUnhealthyStatus(code int) bool {
	return code == http.StatusBadGateway || code == http.StatusServiceUnavailable || code == http.StatusGatewayTimeout
}
