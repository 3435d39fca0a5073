package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/signagehub/edge/internal/logging"
)

func captureLogs(t *testing.T) *observer.ObservedLogs {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	prev := logging.Global()
	logging.SetGlobal(zap.New(core))
	t.Cleanup(func() { logging.SetGlobal(prev) })
	return logs
}

func TestRecoveryHidesPanicValue(t *testing.T) {
	logs := captureLogs(t)
	h := NewChain(Recovery(), RequestID()).Then(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("db password is hunter2")
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/devices", nil)
	req.Header.Set(RequestIDHeader, "req-42")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rr.Code)
	}
	body := rr.Body.String()
	if strings.Contains(body, "hunter2") {
		t.Errorf("panic value leaked to client: %s", body)
	}
	if !strings.Contains(body, `"request_id":"req-42"`) {
		t.Errorf("request id missing: %s", body)
	}

	entries := logs.FilterMessage("panic recovered").All()
	if len(entries) != 1 {
		t.Fatalf("logged %d entries", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["path"] != "/api/devices" || fields["panic"] != "db password is hunter2" {
		t.Errorf("fields = %v", fields)
	}
}

func TestRecoveryAbortHandler(t *testing.T) {
	h := Recovery()(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic(http.ErrAbortHandler)
	}))
	defer func() {
		if recover() != http.ErrAbortHandler {
			t.Error("ErrAbortHandler must propagate")
		}
	}()
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
}

func TestRecoveryNoPanic(t *testing.T) {
	rr := httptest.NewRecorder()
	Recovery()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Code != http.StatusOK || rr.Body.String() != "ok" {
		t.Errorf("got %d %q", rr.Code, rr.Body.String())
	}
}
