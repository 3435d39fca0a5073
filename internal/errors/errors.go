// Package errors defines the JSON error bodies the edge answers with. The
// wire form {"error": "...", "details": "..."} is what the browser app and
// the backend services already parse.
package errors

import (
	"encoding/json"
	"net/http"
)

// EdgeError is an HTTP status plus the JSON body sent with it.
type EdgeError struct {
	Code      int    `json:"-"`
	Message   string `json:"error"`
	Details   string `json:"details,omitempty"`
	RequestID string `json:"request_id,omitempty"`

	// encoded caches the body of the package-level errors.
	encoded []byte
}

func (e *EdgeError) Error() string {
	if e.Details != "" {
		return e.Message + ": " + e.Details
	}
	return e.Message
}

// New creates an error answered with status code.
func New(code int, message string) *EdgeError {
	return &EdgeError{Code: code, Message: message}
}

func base(code int, message string) *EdgeError {
	e := New(code, message)
	e.encoded, _ = json.Marshal(e)
	e.encoded = append(e.encoded, '\n')
	return e
}

// Errors shared by the proxy, the internal API and the WebSocket endpoint.
var (
	ErrNotFound              = base(http.StatusNotFound, "Route not found")
	ErrMethodNotAllowed      = base(http.StatusMethodNotAllowed, "Method not allowed")
	ErrUnauthorized          = base(http.StatusUnauthorized, "Unauthorized")
	ErrForbidden             = base(http.StatusForbidden, "Forbidden")
	ErrOriginNotAllowed      = base(http.StatusForbidden, "Not allowed by CORS")
	ErrTooManyRequests       = base(http.StatusTooManyRequests, "Too many requests from this IP, please try again later.")
	ErrBadRequest            = base(http.StatusBadRequest, "Bad Request")
	ErrInternalServer        = base(http.StatusInternalServerError, "Internal server error")
	ErrRequestEntityTooLarge = base(http.StatusRequestEntityTooLarge, "Request entity too large")

	// ErrServiceUnavailable is sent when a backend call fails. Clients of the
	// edge have always received it with status 500.
	ErrServiceUnavailable = base(http.StatusInternalServerError, "Service unavailable")
)

// WithDetails returns a copy carrying details.
func (e *EdgeError) WithDetails(details string) *EdgeError {
	c := *e
	c.Details = details
	c.encoded = nil
	return &c
}

// WithRequestID returns a copy carrying the request id.
func (e *EdgeError) WithRequestID(requestID string) *EdgeError {
	if requestID == "" {
		return e
	}
	c := *e
	c.RequestID = requestID
	c.encoded = nil
	return &c
}

// WriteJSON sends the status and body.
func (e *EdgeError) WriteJSON(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.Code)
	if e.encoded != nil {
		_, _ = w.Write(e.encoded)
		return
	}
	_ = json.NewEncoder(w).Encode(e)
}
