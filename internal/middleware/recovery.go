package middleware

import (
	"net/http"
	"runtime/debug"

	"go.uber.org/zap"

	"github.com/signagehub/edge/internal/errors"
	"github.com/signagehub/edge/internal/logging"
)

// Recovery turns a handler panic into a 500 JSON response. The panic value
// and stack go to the log only.
func Recovery() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				v := recover()
				if v == nil {
					return
				}
				if v == http.ErrAbortHandler {
					panic(v)
				}

				id := w.Header().Get(RequestIDHeader)
				logging.Error("panic recovered",
					zap.String("request_id", id),
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Any("panic", v),
					zap.ByteString("stack", debug.Stack()),
				)
				errors.ErrInternalServer.WithRequestID(id).WriteJSON(w)
			}()

			next.ServeHTTP(w, r)
		})
	}
}
