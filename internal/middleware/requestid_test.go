package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func serveRequestID(t *testing.T, incoming string) (ctxID string, rr *httptest.ResponseRecorder) {
	t.Helper()
	h := requestID(func() string { return "generated" })(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctxID = GetRequestID(r)
		if r.Header.Get(RequestIDHeader) != ctxID {
			t.Error("request header must carry the id for backends")
		}
		if Info(r).ClientIP != "192.0.2.1" {
			t.Errorf("ClientIP = %q", Info(r).ClientIP)
		}
	}))
	req := httptest.NewRequest(http.MethodGet, "/api/devices", nil)
	if incoming != "" {
		req.Header.Set(RequestIDHeader, incoming)
	}
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return ctxID, rr
}

func TestRequestID(t *testing.T) {
	tests := []struct {
		name     string
		incoming string
		want     string
	}{
		{"generated when absent", "", "generated"},
		{"kept when sane", "req-42", "req-42"},
		{"replaced when too long", strings.Repeat("x", maxRequestIDLen+1), "generated"},
		{"replaced when it has spaces", "a b", "generated"},
		{"replaced when it has control bytes", "id\x1b[31m", "generated"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, rr := serveRequestID(t, tt.incoming)
			if got != tt.want {
				t.Errorf("id = %q, want %q", got, tt.want)
			}
			if rr.Header().Get(RequestIDHeader) != tt.want {
				t.Errorf("response header = %q", rr.Header().Get(RequestIDHeader))
			}
		})
	}
}

func TestRequestIDDefaultGenerator(t *testing.T) {
	var id string
	RequestID()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id = GetRequestID(r)
	})).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if len(id) != 36 {
		t.Errorf("id = %q, want a UUID", id)
	}
}

func TestInfoWithoutMiddleware(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	Info(r).Route = "ignored"
	if GetRequestID(r) != "" || Info(r).Route != "" {
		t.Error("detached info must not leak between calls")
	}
}
