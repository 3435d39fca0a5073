package middleware

import (
	"context"
	"net/http"
)

// RequestInfo is per-request state shared between the outer middlewares and
// the handlers. Handlers fill in Route and Service once the route is known so
// that the access log and metrics can label the request.
type RequestInfo struct {
	RequestID string
	ClientIP  string
	Route     string
	Service   string
}

type requestInfoKey struct{}

// WithInfo attaches a RequestInfo to the request context.
func WithInfo(r *http.Request, info *RequestInfo) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), requestInfoKey{}, info))
}

// Info returns the RequestInfo for the request. A detached value is returned
// when no middleware installed one, so callers never need a nil check.
func Info(r *http.Request) *RequestInfo {
	return InfoFromContext(r.Context())
}

// InfoFromContext extracts the RequestInfo from ctx.
func InfoFromContext(ctx context.Context) *RequestInfo {
	if info, ok := ctx.Value(requestInfoKey{}).(*RequestInfo); ok {
		return info
	}
	return &RequestInfo{}
}

// GetRequestID extracts the request ID from the request context
func GetRequestID(r *http.Request) string {
	return Info(r).RequestID
}
