package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/signagehub/edge/internal/middleware/realip"
)

func init() {
	uuid.EnableRandPool()
}

// RequestIDHeader carries the request id to backends and back to clients.
const RequestIDHeader = "X-Request-ID"

const maxRequestIDLen = 128

// RequestID installs the per-request RequestInfo. A caller-supplied id is
// kept when it looks sane so a trace can span client, edge and backend;
// anything else is replaced with a fresh UUID.
func RequestID() Middleware {
	return requestID(uuid.NewString)
}

func requestID(generate func() string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(RequestIDHeader)
			if !validRequestID(id) {
				id = generate()
			}
			r.Header.Set(RequestIDHeader, id)
			w.Header().Set(RequestIDHeader, id)

			next.ServeHTTP(w, WithInfo(r, &RequestInfo{
				RequestID: id,
				ClientIP:  realip.RemoteIP(r),
			}))
		})
	}
}

// validRequestID accepts short printable ASCII ids; they end up in log lines
// and response headers verbatim.
func validRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLen {
		return false
	}
	for i := 0; i < len(id); i++ {
		if c := id[i]; c <= ' ' || c > '~' {
			return false
		}
	}
	return true
}
