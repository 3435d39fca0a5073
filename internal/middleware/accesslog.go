package middleware

import (
	"bufio"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/signagehub/edge/internal/logging"
)

var accessRWPool = sync.Pool{
	New: func() any { return &statusRecorder{} },
}

// RequestObserver receives one observation per completed request.
type RequestObserver interface {
	ObserveRequest(route, method string, status int, duration time.Duration)
}

// AccessLogConfig configures the access log middleware
type AccessLogConfig struct {
	// Enabled writes one log line per request; the observer runs regardless.
	Enabled bool
	// SkipPaths are paths that are neither logged nor observed
	SkipPaths []string
	// Observer records request metrics, may be nil
	Observer RequestObserver
}

// AccessLog logs each request as one structured line and reports it to the observer.
func AccessLog(cfg AccessLogConfig) Middleware {
	skipPaths := make(map[string]bool, len(cfg.SkipPaths))
	for _, p := range cfg.SkipPaths {
		skipPaths[p] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if skipPaths[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()

			rec := accessRWPool.Get().(*statusRecorder)
			rec.ResponseWriter = w
			rec.status = http.StatusOK
			rec.bytes = 0
			rec.wroteHeader = false
			rec.hijacked = false

			next.ServeHTTP(rec, r)

			duration := time.Since(start)
			info := Info(r)
			route := info.Route
			if route == "" {
				route = "unmatched"
			}

			if cfg.Observer != nil {
				cfg.Observer.ObserveRequest(route, r.Method, rec.status, duration)
			}

			if cfg.Enabled {
				// Stack-allocated array avoids slice growth allocations.
				var fields [12]zap.Field
				n := 0
				fields[n] = zap.String("request_id", info.RequestID); n++
				fields[n] = zap.String("client_ip", info.ClientIP); n++
				fields[n] = zap.String("method", r.Method); n++
				fields[n] = zap.String("path", r.URL.Path); n++
				fields[n] = zap.Int("status", rec.status); n++
				fields[n] = zap.Int64("body_bytes", rec.bytes); n++
				fields[n] = zap.Duration("response_time", duration); n++
				fields[n] = zap.String("route", route); n++
				if info.Service != "" {
					fields[n] = zap.String("service", info.Service); n++
				}
				if r.URL.RawQuery != "" {
					fields[n] = zap.String("query", r.URL.RawQuery); n++
				}
				if origin := r.Header.Get("Origin"); origin != "" {
					fields[n] = zap.String("origin", origin); n++
				}
				if ua := r.UserAgent(); ua != "" {
					fields[n] = zap.String("user_agent", ua); n++
				}
				logging.Info("HTTP request", fields[:n]...)
			}

			rec.ResponseWriter = nil
			accessRWPool.Put(rec)
		})
	}
}

// statusRecorder wraps http.ResponseWriter to capture status and bytes
type statusRecorder struct {
	http.ResponseWriter
	status      int
	bytes       int64
	wroteHeader bool
	hijacked    bool
}

func (s *statusRecorder) WriteHeader(status int) {
	if !s.wroteHeader {
		s.status = status
		s.wroteHeader = true
	}
	s.ResponseWriter.WriteHeader(status)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	s.wroteHeader = true
	n, err := s.ResponseWriter.Write(b)
	s.bytes += int64(n)
	return n, err
}

// Flush implements http.Flusher
func (s *statusRecorder) Flush() {
	if f, ok := s.ResponseWriter.(http.Flusher); ok {
		s.wroteHeader = true
		f.Flush()
	}
}

// Hijack implements http.Hijacker so WebSocket upgrades pass through.
func (s *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := s.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, http.ErrNotSupported
	}
	conn, rw, err := h.Hijack()
	if err == nil {
		s.hijacked = true
		s.status = http.StatusSwitchingProtocols
	}
	return conn, rw, err
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}
