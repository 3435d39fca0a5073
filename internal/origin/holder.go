package origin

import (
	"fmt"
	"net/http"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/signagehub/edge/internal/config"
	"github.com/signagehub/edge/internal/errors"
	"github.com/signagehub/edge/internal/logging"
	"github.com/signagehub/edge/internal/middleware"
)

// Holder publishes the current Policy. Readers never block; Reload swaps the
// whole policy at once.
type Holder struct {
	current atomic.Pointer[Policy]
}

// NewHolder builds the initial policy.
func NewHolder(cfg config.CORSConfig) (*Holder, error) {
	p, err := New(cfg)
	if err != nil {
		return nil, err
	}
	h := &Holder{}
	h.current.Store(p)
	return h, nil
}

// Load returns the current policy.
func (h *Holder) Load() *Policy {
	return h.current.Load()
}

// Reload replaces the policy. On error the old policy stays in place.
func (h *Holder) Reload(cfg config.CORSConfig) error {
	p, err := New(cfg)
	if err != nil {
		return err
	}
	h.current.Store(p)
	logging.Info("origin policy reloaded",
		zap.Strings("allow_origins", cfg.AllowOrigins),
		zap.Strings("trusted_suffixes", cfg.TrustedSuffixes),
	)
	return nil
}

// IsAllowed checks origin against the current policy.
func (h *Holder) IsAllowed(origin string) bool {
	return h.Load().IsAllowed(origin)
}

// Middleware answers preflights and decorates other responses. Disallowed
// non-preflight requests are served without CORS headers; the browser then
// refuses to expose the response.
func (h *Holder) Middleware() middleware.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p := h.Load()
			if IsPreflight(r) {
				middleware.Info(r).Route = "preflight"
				p.WritePreflight(w, r)
				return
			}
			if origin := r.Header.Get("Origin"); origin != "" {
				p.Apply(w.Header(), origin)
			}
			next.ServeHTTP(w, r)
		})
	}
}

func rejectOrigin(w http.ResponseWriter, origin string) {
	logging.Warn("preflight rejected", zap.String("origin", origin))
	errors.ErrOriginNotAllowed.
		WithDetails(fmt.Sprintf("origin %s is not in the allow-list and is not a local or trusted host", origin)).
		WriteJSON(w)
}
