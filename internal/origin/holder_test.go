package origin

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/signagehub/edge/internal/config"
)

func TestHolderReload(t *testing.T) {
	h, err := NewHolder(config.CORSConfig{AllowOrigins: []string{"https://a.example"}})
	if err != nil {
		t.Fatal(err)
	}
	if !h.IsAllowed("https://a.example") || h.IsAllowed("https://b.example") {
		t.Fatal("unexpected initial policy")
	}

	if err := h.Reload(config.CORSConfig{AllowOrigins: []string{"https://b.example"}}); err != nil {
		t.Fatal(err)
	}
	if h.IsAllowed("https://a.example") || !h.IsAllowed("https://b.example") {
		t.Error("reload not applied")
	}

	if err := h.Reload(config.CORSConfig{AllowOriginPatterns: []string{"("}}); err == nil {
		t.Fatal("expected error")
	}
	if !h.IsAllowed("https://b.example") {
		t.Error("failed reload must keep the previous policy")
	}
}

func TestHolderMiddleware(t *testing.T) {
	h, _ := NewHolder(config.CORSConfig{AllowOrigins: []string{"https://a.example"}})

	called := 0
	handler := h.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called++
		w.WriteHeader(http.StatusNoContent)
	}))

	// preflight answered without reaching the handler
	req := httptest.NewRequest(http.MethodOptions, "/api/x", nil)
	req.Header.Set("Origin", "https://a.example")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || called != 0 {
		t.Errorf("preflight: code=%d called=%d", rec.Code, called)
	}

	// OPTIONS without Origin is not a preflight
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/api/x", nil))
	if called != 1 {
		t.Error("OPTIONS without Origin should reach the handler")
	}

	// disallowed simple request proceeds without CORS headers
	req = httptest.NewRequest(http.MethodGet, "/api/x", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if called != 2 || rec.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Errorf("disallowed simple request: called=%d acao=%q", called, rec.Header().Get("Access-Control-Allow-Origin"))
	}

	// allowed simple request gets headers
	req = httptest.NewRequest(http.MethodGet, "/api/x", nil)
	req.Header.Set("Origin", "https://a.example")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Header().Get("Access-Control-Allow-Origin") != "https://a.example" {
		t.Error("allowed request should carry CORS headers")
	}
}
