// Package origin decides which browser origins may call the edge and
// writes the matching CORS response headers.
package origin

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/signagehub/edge/internal/config"
)

// Policy is an immutable origin allow-list. Build a new one to change it.
type Policy struct {
	allowOrigins        map[string]bool
	wildcardSuffixes    []string // from "*.example.com" entries, stored as ".example.com"
	allowOriginPatterns []*regexp.Regexp
	trustedSuffixes     []string
	allowPrivateNetwork bool
	allowAllOrigins     bool
	allowMethods        string
	allowHeaders        string
	exposeHeaders       string
	maxAge              string
}

// New creates a policy from config
func New(cfg config.CORSConfig) (*Policy, error) {
	p := &Policy{
		allowOrigins:        make(map[string]bool, len(cfg.AllowOrigins)),
		allowPrivateNetwork: cfg.AllowPrivateNetwork,
	}

	for _, o := range cfg.AllowOrigins {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		switch {
		case o == "":
		case o == "*":
			p.allowAllOrigins = true
		case strings.HasPrefix(o, "*."):
			p.wildcardSuffixes = append(p.wildcardSuffixes, strings.ToLower(o[1:]))
		default:
			p.allowOrigins[strings.ToLower(o)] = true
		}
	}

	for _, pattern := range cfg.AllowOriginPatterns {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("origin pattern %q: %w", pattern, err)
		}
		p.allowOriginPatterns = append(p.allowOriginPatterns, re)
	}

	for _, s := range cfg.TrustedSuffixes {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		if !strings.HasPrefix(s, ".") {
			s = "." + s
		}
		p.trustedSuffixes = append(p.trustedSuffixes, s)
	}

	if len(cfg.AllowMethods) > 0 {
		p.allowMethods = strings.Join(cfg.AllowMethods, ", ")
	} else {
		p.allowMethods = "GET, HEAD, PUT, PATCH, POST, DELETE"
	}

	if len(cfg.AllowHeaders) > 0 {
		p.allowHeaders = strings.Join(cfg.AllowHeaders, ", ")
	} else {
		p.allowHeaders = "Content-Type, Authorization"
	}

	if len(cfg.ExposeHeaders) > 0 {
		p.exposeHeaders = strings.Join(cfg.ExposeHeaders, ", ")
	}

	if cfg.MaxAge > 0 {
		p.maxAge = strconv.Itoa(cfg.MaxAge)
	} else {
		p.maxAge = "86400"
	}

	return p, nil
}

// IsAllowed reports whether a request carrying this Origin header may be served
// with CORS headers. An empty origin is a non-browser caller and always allowed.
func (p *Policy) IsAllowed(origin string) bool {
	if origin == "" || p.allowAllOrigins {
		return true
	}

	normalized := strings.ToLower(strings.TrimRight(origin, "/"))
	if p.allowOrigins[normalized] {
		return true
	}

	host := hostOf(normalized)
	if host != "" {
		if p.allowPrivateNetwork && isPrivateHost(host) {
			return true
		}
		for _, suffix := range p.wildcardSuffixes {
			if strings.HasSuffix(host, suffix) {
				return true
			}
		}
		for _, suffix := range p.trustedSuffixes {
			if strings.HasSuffix(host, suffix) {
				return true
			}
		}
	}

	for _, re := range p.allowOriginPatterns {
		if re.MatchString(origin) {
			return true
		}
	}

	return false
}

// IsPreflight returns true for OPTIONS requests that carry an Origin header.
func IsPreflight(r *http.Request) bool {
	return r.Method == http.MethodOptions && r.Header.Get("Origin") != ""
}

// Apply replaces every Access-Control-* header in h with the policy's own set
// for origin. Disallowed or empty origins end up with no CORS headers at all.
func (p *Policy) Apply(h http.Header, origin string) {
	for k := range h {
		if strings.HasPrefix(k, "Access-Control-") {
			delete(h, k)
		}
	}
	if origin == "" || !p.IsAllowed(origin) {
		return
	}

	h.Set("Access-Control-Allow-Origin", origin)
	h.Set("Access-Control-Allow-Credentials", "true")
	if p.exposeHeaders != "" {
		h.Set("Access-Control-Expose-Headers", p.exposeHeaders)
	}
	addVary(h, "Origin")
}

// WritePreflight answers a preflight request: 200 with the echoed method and
// headers for allowed origins, 403 otherwise. It returns whether the origin was allowed.
func (p *Policy) WritePreflight(w http.ResponseWriter, r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if !p.IsAllowed(origin) {
		rejectOrigin(w, origin)
		return false
	}

	h := w.Header()
	p.Apply(h, origin)

	methods := r.Header.Get("Access-Control-Request-Method")
	if methods == "" {
		methods = p.allowMethods
	}
	h.Set("Access-Control-Allow-Methods", methods)

	headers := r.Header.Get("Access-Control-Request-Headers")
	if headers == "" {
		headers = p.allowHeaders
	}
	h.Set("Access-Control-Allow-Headers", headers)

	if p.allowPrivateNetwork && r.Header.Get("Access-Control-Request-Private-Network") == "true" {
		h.Set("Access-Control-Allow-Private-Network", "true")
	}

	h.Set("Access-Control-Max-Age", p.maxAge)
	addVary(h, "Access-Control-Request-Method")
	addVary(h, "Access-Control-Request-Headers")
	h.Set("Content-Length", "0")
	w.WriteHeader(http.StatusOK)
	return true
}

func hostOf(origin string) string {
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return ""
	}
	return u.Hostname()
}

// isPrivateHost matches localhost names, loopback and private-LAN addresses.
func isPrivateHost(host string) bool {
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return true
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	return ip.IsLoopback() || ip.IsPrivate()
}

func addVary(h http.Header, value string) {
	for _, v := range h.Values("Vary") {
		for _, part := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(part), value) {
				return
			}
		}
	}
	h.Add("Vary", value)
}
