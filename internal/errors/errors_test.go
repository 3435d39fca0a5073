package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNew(t *testing.T) {
	e := New(400, "deviceId is required")
	if e.Code != 400 {
		t.Errorf("Code = %d, want 400", e.Code)
	}
	if e.Error() != "deviceId is required" {
		t.Errorf("Error() = %q", e.Error())
	}
}

func TestErrorString(t *testing.T) {
	e := ErrBadRequest.WithDetails("deviceId is required")
	if want := "Bad Request: deviceId is required"; e.Error() != want {
		t.Errorf("Error() = %q, want %q", e.Error(), want)
	}
	var target *EdgeError
	if !errors.As(fmt.Errorf("wrapped: %w", e), &target) || target.Code != http.StatusBadRequest {
		t.Error("errors.As should find the EdgeError")
	}
}

func TestWithEmptyRequestIDKeepsBase(t *testing.T) {
	if ErrNotFound.WithRequestID("") != ErrNotFound {
		t.Error("empty request id should reuse the shared error")
	}
}

func TestWithDetailsDoesNotMutateBase(t *testing.T) {
	e := ErrOriginNotAllowed.WithDetails("origin https://evil.example is not allowed")

	if e.Details == "" {
		t.Fatal("details not set")
	}
	if ErrOriginNotAllowed.Details != "" {
		t.Error("base singleton was mutated")
	}
	if e.Code != http.StatusForbidden {
		t.Errorf("Code = %d, want 403", e.Code)
	}
}

func TestWriteJSONPreSerialized(t *testing.T) {
	rec := httptest.NewRecorder()
	ErrServiceUnavailable.WriteJSON(rec)

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	if got := rec.Body.String(); got != "{\"error\":\"Service unavailable\"}\n" {
		t.Errorf("body = %q", got)
	}
}

func TestWriteJSONWithDetails(t *testing.T) {
	rec := httptest.NewRecorder()
	ErrBadRequest.WithDetails("tenantId is required").WithRequestID("req-1").WriteJSON(rec)

	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if body["error"] != "Bad Request" || body["details"] != "tenantId is required" || body["request_id"] != "req-1" {
		t.Errorf("unexpected body %v", body)
	}
	if _, ok := body["code"]; ok {
		t.Error("code must not be serialized")
	}
}
