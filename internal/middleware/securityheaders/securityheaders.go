// Package securityheaders sets the helmet-style response headers browsers of
// the admin app have always received from the edge.
package securityheaders

import (
	"net/http"
	"sort"

	"github.com/signagehub/edge/internal/config"
	"github.com/signagehub/edge/internal/middleware"
)

// fixed are always sent; they have no configuration knob.
var fixed = map[string]string{
	"X-Dns-Prefetch-Control":            "off",
	"X-Download-Options":                "noopen",
	"X-Permitted-Cross-Domain-Policies": "none",
	"Origin-Agent-Cluster":              "?1",
	"X-Xss-Protection":                  "0",
}

// Headers is an immutable header set built from config.
type Headers struct {
	set http.Header
}

// New builds the header set. X-Content-Type-Options falls back to nosniff;
// the other configurable headers are omitted when empty. Custom headers are
// applied last and win over everything else.
func New(cfg config.SecurityHeadersConfig) *Headers {
	set := make(http.Header, len(fixed)+8+len(cfg.CustomHeaders))
	for k, v := range fixed {
		set.Set(k, v)
	}

	nosniff := cfg.XContentTypeOptions
	if nosniff == "" {
		nosniff = "nosniff"
	}
	set.Set("X-Content-Type-Options", nosniff)

	for name, v := range map[string]string{
		"Strict-Transport-Security":    cfg.StrictTransportSecurity,
		"Content-Security-Policy":      cfg.ContentSecurityPolicy,
		"X-Frame-Options":              cfg.XFrameOptions,
		"Referrer-Policy":              cfg.ReferrerPolicy,
		"Cross-Origin-Opener-Policy":   cfg.CrossOriginOpenerPolicy,
		"Cross-Origin-Resource-Policy": cfg.CrossOriginResourcePolicy,
	} {
		if v != "" {
			set.Set(name, v)
		}
	}
	for name, v := range cfg.CustomHeaders {
		set.Set(name, v)
	}
	return &Headers{set: set}
}

// Apply writes the set onto h, replacing existing values.
func (s *Headers) Apply(h http.Header) {
	for k, v := range s.set {
		h[k] = v
	}
}

// Names lists the canonical header names, sorted.
func (s *Headers) Names() []string {
	names := make([]string, 0, len(s.set))
	for k := range s.set {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Middleware applies the set before the handler runs, so the proxy can still
// replace Cross-Origin-Resource-Policy for media responses.
func (s *Headers) Middleware() middleware.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			s.Apply(w.Header())
			next.ServeHTTP(w, r)
		})
	}
}
