// Package proxy forwards public HTTP calls to the backend services selected
// by the route table.
package proxy

import (
	"context"
	stderrors "errors"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/signagehub/edge/internal/errors"
	"github.com/signagehub/edge/internal/events"
	"github.com/signagehub/edge/internal/logging"
	"github.com/signagehub/edge/internal/middleware"
	"github.com/signagehub/edge/internal/middleware/realip"
	"github.com/signagehub/edge/internal/origin"
	"github.com/signagehub/edge/internal/routes"
	"github.com/signagehub/edge/internal/tracing"
)

// Upstream failure reasons reported to the observer.
const (
	ReasonTimeout     = "timeout"
	ReasonCircuitOpen = "circuit_open"
	ReasonTransport   = "transport"
	ReasonCanceled    = "canceled"
)

// UpstreamObserver records failed upstream calls.
type UpstreamObserver interface {
	UpstreamError(service, reason string)
}

// Config holds the router dependencies
type Config struct {
	Table         *routes.Table
	Origin        *origin.Holder
	Transports    *TransportPool
	Breakers      *Breakers // nil disables circuit breaking
	Tracer        *tracing.Tracer
	Events        *events.Bus
	Observer      UpstreamObserver
	Timeout       time.Duration
	MaxBodyBytes  int64
	FlushInterval time.Duration
}

// Router proxies requests to the service owning the longest matching prefix.
type Router struct {
	table         *routes.Table
	origin        *origin.Holder
	transports    *TransportPool
	breakers      *Breakers
	tracer        *tracing.Tracer
	events        *events.Bus
	observer      UpstreamObserver
	timeout       time.Duration
	maxBodyBytes  int64
	flushInterval time.Duration
	now           func() time.Time
}

// New creates a proxy router
func New(cfg Config) *Router {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	transports := cfg.Transports
	if transports == nil {
		transports = NewTransportPoolWith(http.DefaultTransport)
	}
	return &Router{
		table:         cfg.Table,
		origin:        cfg.Origin,
		transports:    transports,
		breakers:      cfg.Breakers,
		tracer:        cfg.Tracer,
		events:        cfg.Events,
		observer:      cfg.Observer,
		timeout:       timeout,
		maxBodyBytes:  cfg.MaxBodyBytes,
		flushInterval: cfg.FlushInterval,
		now:           time.Now,
	}
}

// Breakers returns the circuit breakers, nil when disabled.
func (p *Router) Breakers() *Breakers {
	return p.breakers
}

// Transports returns the transport pool.
func (p *Router) Transports() *TransportPool {
	return p.transports
}

// ServeHTTP implements http.Handler
func (p *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	info := middleware.Info(r)

	entry, ok := p.table.Match(r.URL.Path)
	if !ok {
		errors.ErrNotFound.WithRequestID(info.RequestID).WriteJSON(w)
		return
	}
	info.Route = entry.Name
	info.Service = entry.Service

	if !entry.AllowsMethod(r.Method) {
		w.Header().Set("Allow", strings.Join(entry.AllowedMethods(), ", "))
		errors.ErrMethodNotAllowed.WithRequestID(info.RequestID).WriteJSON(w)
		return
	}

	body, bodyErr := prepareBody(r, p.maxBodyBytes)
	if bodyErr != nil {
		bodyErr.WithRequestID(info.RequestID).WriteJSON(w)
		return
	}

	ctx, watch, cancel := newIdleWatch(r.Context(), p.timeout)
	defer cancel()
	if body.reader != nil && body.reader != http.NoBody {
		body.reader = &idleReader{rc: body.reader, watch: watch}
	}

	var span trace.Span
	if p.tracer != nil {
		ctx, span = p.tracer.StartSpan(ctx, "upstream "+entry.Service,
			trace.WithSpanKind(trace.SpanKindClient),
			trace.WithAttributes(attribute.String("upstream.service", entry.Service)),
		)
		defer span.End()
	}

	proxyReq := p.createProxyRequest(ctx, r, entry, body)
	transport := p.transports.Get(entry.Service)

	start := time.Now()
	resp, err := p.breakers.Execute(entry.Service, func() (*http.Response, error) {
		return transport.RoundTrip(proxyReq)
	})
	if err != nil {
		if span != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		p.handleError(ctx, w, r, entry, err, time.Since(start))
		return
	}
	defer resp.Body.Close()
	watch.touch()

	if span != nil {
		span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
	}

	h := w.Header()
	copyHeaders(h, resp.Header)
	if p.origin != nil {
		p.origin.Load().Apply(h, r.Header.Get("Origin"))
	}
	repairUploadHeaders(h, r.URL.Path)
	if h.Get("Content-Type") == "" {
		// keep net/http from sniffing a type the backend did not send
		h["Content-Type"] = nil
	}

	w.WriteHeader(resp.StatusCode)
	if err := p.copyBody(w, &idleReader{rc: resp.Body, watch: watch}, watch); err != nil {
		log := logging.Warn
		if r.Context().Err() != nil {
			// the client hung up; nothing is wrong upstream
			log = logging.Debug
		}
		log("response body copy interrupted",
			zap.String("path", r.URL.Path),
			zap.String("service", entry.Service),
			zap.String("request_id", info.RequestID),
			zap.Error(err),
			zap.NamedError("cause", context.Cause(ctx)),
		)
	}

	p.emitCommand(r, body, resp.StatusCode, info.RequestID)
}

// createProxyRequest builds the upstream request for entry.
func (p *Router) createProxyRequest(ctx context.Context, r *http.Request, entry *routes.Entry, body *outboundBody) *http.Request {
	targetURL := *entry.Target
	targetURL.Path = singleJoiningSlash(entry.Target.Path, entry.Rewrite(r.URL.Path))
	targetURL.RawPath = ""
	targetURL.RawQuery = r.URL.RawQuery

	proxyReq := (&http.Request{
		Method:        r.Method,
		URL:           &targetURL,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Body:          body.reader,
		ContentLength: body.length,
		Host:          entry.Target.Host,
		Header:        make(http.Header, len(r.Header)+4),
	}).WithContext(ctx)
	if proxyReq.Body == nil || body.length == 0 {
		proxyReq.Body = http.NoBody
		proxyReq.ContentLength = 0
	}

	for k, vv := range r.Header {
		proxyReq.Header[k] = append([]string(nil), vv...)
	}
	removeHopHeaders(proxyReq.Header)
	proxyReq.Header.Del("Host")
	proxyReq.Header.Del("Content-Length")

	if auth := r.Header.Get("Authorization"); auth != "" {
		proxyReq.Header.Set("Authorization", auth)
	}
	if body.contentType != "" {
		proxyReq.Header.Set("Content-Type", body.contentType)
	}

	if clientIP := realip.RemoteIP(r); clientIP != "" {
		if prior := r.Header.Values("X-Forwarded-For"); len(prior) > 0 {
			proxyReq.Header.Set("X-Forwarded-For", strings.Join(prior, ", ")+", "+clientIP)
		} else {
			proxyReq.Header.Set("X-Forwarded-For", clientIP)
		}
	}
	if r.TLS != nil {
		proxyReq.Header.Set("X-Forwarded-Proto", "https")
	} else {
		proxyReq.Header.Set("X-Forwarded-Proto", "http")
	}
	proxyReq.Header.Set("X-Forwarded-Host", r.Host)
	if id := middleware.GetRequestID(r); id != "" {
		proxyReq.Header.Set("X-Request-ID", id)
	}

	tracing.InjectHeaders(r.WithContext(ctx), proxyReq)
	return proxyReq
}

// handleError reports a failed upstream call. The client gets a 500 with the
// generic service-unavailable body; details stay in the log.
func (p *Router) handleError(ctx context.Context, w http.ResponseWriter, r *http.Request, entry *routes.Entry, err error, elapsed time.Duration) {
	reason := ReasonTransport
	switch {
	case IsOpen(err):
		reason = ReasonCircuitOpen
	case stderrors.Is(err, context.DeadlineExceeded), stderrors.Is(context.Cause(ctx), errIdle):
		reason = ReasonTimeout
	case stderrors.Is(err, context.Canceled) && r.Context().Err() != nil:
		reason = ReasonCanceled
	}

	logging.Error("proxy error",
		zap.String("path", r.URL.Path),
		zap.String("service", entry.Service),
		zap.String("route", entry.Name),
		zap.String("reason", reason),
		zap.Duration("elapsed", elapsed),
		zap.String("request_id", middleware.GetRequestID(r)),
		zap.Error(err),
	)
	if p.observer != nil {
		p.observer.UpstreamError(entry.Service, reason)
	}
	if reason == ReasonCanceled {
		return
	}
	errors.ErrServiceUnavailable.WithRequestID(middleware.GetRequestID(r)).WriteJSON(w)
}

// emitCommand publishes CommandIssued for accepted command submissions.
func (p *Router) emitCommand(r *http.Request, body *outboundBody, status int, requestID string) {
	if p.events == nil {
		return
	}
	deviceID, ok := commandTarget(r)
	if !ok {
		return
	}
	ev, ok := commandIssued(deviceID, body.buffered, status, requestID, p.now())
	if !ok {
		return
	}
	p.events.PublishCommand(ev)
}

// copyHeaders copies upstream response headers, minus hop-by-hop ones.
func copyHeaders(dst, src http.Header) {
	for k, vv := range src {
		dst[k] = append(dst[k][:0:0], vv...)
	}
	removeHopHeaders(dst)
}

// copyBody streams the response, flushing periodically when configured.
func (p *Router) copyBody(w http.ResponseWriter, body io.Reader, watch *idleWatch) error {
	dst := &idleWriter{w: w, watch: watch}
	if p.flushInterval > 0 {
		if flusher, ok := w.(http.Flusher); ok {
			fw := &flushWriter{w: dst, flusher: flusher, interval: p.flushInterval}
			_, err := io.Copy(fw, body)
			flusher.Flush()
			return err
		}
	}
	_, err := io.Copy(dst, body)
	return err
}

type flushWriter struct {
	w         io.Writer
	flusher   http.Flusher
	interval  time.Duration
	lastFlush time.Time
}

func (f *flushWriter) Write(b []byte) (int, error) {
	n, err := f.w.Write(b)
	if now := time.Now(); now.Sub(f.lastFlush) >= f.interval {
		f.flusher.Flush()
		f.lastFlush = now
	}
	return n, err
}

// Hop-by-hop headers that should be removed
var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

func removeHopHeaders(header http.Header) {
	for _, v := range header.Values("Connection") {
		for _, name := range strings.Split(v, ",") {
			if name = strings.TrimSpace(name); name != "" {
				header.Del(name)
			}
		}
	}
	for _, h := range hopHeaders {
		header.Del(h)
	}
}

// singleJoiningSlash joins two URL paths with a single slash
func singleJoiningSlash(a, b string) string {
	if a == "" {
		return b
	}
	aslash := strings.HasSuffix(a, "/")
	bslash := strings.HasPrefix(b, "/")
	switch {
	case aslash && bslash:
		return a + b[1:]
	case !aslash && !bslash:
		return a + "/" + b
	}
	return a + b
}
