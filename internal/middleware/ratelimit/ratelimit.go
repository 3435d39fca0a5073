// Package ratelimit limits public API requests per client address.
package ratelimit

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"

	"github.com/signagehub/edge/internal/config"
	"github.com/signagehub/edge/internal/errors"
	"github.com/signagehub/edge/internal/middleware"
	"github.com/signagehub/edge/internal/middleware/realip"
)

// Limiter keeps one token bucket per client IP. Buckets live in a bounded
// LRU that also expires idle clients, so memory stays flat under scans.
type Limiter struct {
	limit          rate.Limit
	burst          int
	burstStr       string
	pathPrefix     string
	exemptPrefixes []string
	trustForwarded bool
	clients        *expirable.LRU[string, *rate.Limiter]

	// OnReject is called for every rejected request, may be nil.
	OnReject func(r *http.Request)
}

// New creates a limiter from config
func New(cfg config.RateLimitConfig) *Limiter {
	period := cfg.Period
	if period <= 0 {
		period = time.Minute
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = cfg.Requests
	}
	maxClients := cfg.MaxClients
	if maxClients <= 0 {
		maxClients = 100000
	}

	return &Limiter{
		limit:          rate.Limit(float64(cfg.Requests) / period.Seconds()),
		burst:          burst,
		burstStr:       strconv.Itoa(burst),
		pathPrefix:     cfg.PathPrefix,
		exemptPrefixes: cfg.ExemptPrefixes,
		trustForwarded: cfg.TrustForwardedFor,
		clients:        expirable.NewLRU[string, *rate.Limiter](maxClients, nil, 2*period),
	}
}

// Allow consumes one token for key and returns the tokens left.
func (l *Limiter) Allow(key string) (bool, int) {
	lim, ok := l.clients.Get(key)
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.clients.Add(key, lim)
	}
	allowed := lim.Allow()
	remaining := int(math.Max(0, math.Floor(lim.Tokens())))
	return allowed, remaining
}

// Clients returns the number of tracked client buckets.
func (l *Limiter) Clients() int {
	return l.clients.Len()
}

func (l *Limiter) applies(path string) bool {
	if l.pathPrefix != "" && !strings.HasPrefix(path, l.pathPrefix) {
		return false
	}
	for _, p := range l.exemptPrefixes {
		if strings.HasPrefix(path, p) {
			return false
		}
	}
	return true
}

// Middleware rejects clients over their budget with 429.
func (l *Limiter) Middleware() middleware.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !l.applies(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			allowed, remaining := l.Allow(realip.ClientIP(r, l.trustForwarded))
			w.Header().Set("X-RateLimit-Limit", l.burstStr)
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))

			if !allowed {
				if l.OnReject != nil {
					l.OnReject(r)
				}
				retry := time.Duration(float64(time.Second) / float64(l.limit))
				w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(retry.Seconds()))))
				errors.ErrTooManyRequests.WriteJSON(w)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
