package websocket

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/signagehub/edge/internal/config"
	"github.com/signagehub/edge/internal/logfanout"
	"github.com/signagehub/edge/internal/origin"
	"github.com/signagehub/edge/internal/registry"
)

type connCounter struct{ opened, closed chan struct{} }

func (c *connCounter) ConnectionOpened() { c.opened <- struct{}{} }
func (c *connCounter) ConnectionClosed() { c.closed <- struct{}{} }

type harness struct {
	srv  *httptest.Server
	reg  *registry.Registry
	disp *registry.Dispatcher
	obs  *connCounter
	h    *Handler
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	holder, err := origin.NewHolder(config.DefaultConfig().CORS)
	if err != nil {
		t.Fatal(err)
	}
	reg := registry.New()
	disp := registry.NewDispatcher(reg, 0)
	obs := &connCounter{opened: make(chan struct{}, 4), closed: make(chan struct{}, 4)}
	h := NewHandler(config.DefaultConfig().WebSocket, disp, logfanout.New(nil), holder, obs)
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return &harness{srv: srv, reg: reg, disp: disp, obs: obs, h: h}
}

func (h *harness) dial(t *testing.T, header http.Header) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(h.srv.URL, "http")
	ws, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func readJSON(t *testing.T, ws *websocket.Conn) map[string]any {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var m map[string]any
	if err := ws.ReadJSON(&m); err != nil {
		t.Fatalf("read: %v", err)
	}
	return m
}

func waitFor(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func TestEndToEndRegisterAndCommand(t *testing.T) {
	h := newHarness(t)
	ws := h.dial(t, nil)
	waitFor(t, h.obs.opened, "open")

	if err := ws.WriteJSON(map[string]string{"type": "register", "deviceId": "d1"}); err != nil {
		t.Fatal(err)
	}
	if got := readJSON(t, ws); got["type"] != "registered" {
		t.Fatalf("reply = %v", got)
	}

	if !h.disp.SendToDevice("d1", map[string]string{"type": "command", "command": "reboot"}) {
		t.Fatal("device should be reachable")
	}
	if got := readJSON(t, ws); got["command"] != "reboot" {
		t.Errorf("command frame = %v", got)
	}

	ws.WriteMessage(websocket.TextMessage, []byte("{broken"))
	ws.WriteJSON(map[string]string{"type": "heartbeat"})
	if got := readJSON(t, ws); got["type"] != "heartbeat_ack" {
		t.Errorf("socket should survive a bad frame, got %v", got)
	}
}

func TestEndToEndCloseUnregisters(t *testing.T) {
	h := newHarness(t)
	ws := h.dial(t, nil)
	ws.WriteJSON(map[string]string{"type": "register", "deviceId": "d9"})
	readJSON(t, ws)

	ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
	ws.Close()
	waitFor(t, h.obs.closed, "close")

	if _, ok := h.reg.Device("d9"); ok {
		t.Error("closed socket must leave the registry")
	}
	if h.disp.SendToDevice("d9", map[string]string{"type": "ping"}) {
		t.Error("send after close should report false")
	}
}

func TestEndToEndServerSideClose(t *testing.T) {
	h := newHarness(t)
	ws := h.dial(t, nil)
	ws.WriteJSON(map[string]string{"type": "register", "deviceId": "d2"})
	readJSON(t, ws)

	c, _ := h.reg.Device("d2")
	c.Close()

	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := ws.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Errorf("expected a normal close, got %v", err)
	}
	waitFor(t, h.obs.closed, "close")
}

func TestOriginRejected(t *testing.T) {
	h := newHarness(t)
	url := "ws" + strings.TrimPrefix(h.srv.URL, "http")

	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"https://evil.example"}})
	if err == nil {
		t.Fatal("dial should fail")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Errorf("response = %v", resp)
	}

	ws := h.dial(t, http.Header{"Origin": {"http://localhost:5173"}})
	ws.WriteJSON(map[string]string{"type": "heartbeat"})
	if got := readJSON(t, ws); got["type"] != "heartbeat_ack" {
		t.Errorf("reply = %v", got)
	}
}

func TestPlainGetIsRejected(t *testing.T) {
	h := newHarness(t)
	resp, err := http.Get(h.srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d", resp.StatusCode)
	}
	if resp.Header.Get("Content-Type") != "application/json" {
		t.Errorf("Content-Type = %q", resp.Header.Get("Content-Type"))
	}
}

func TestPingPeriod(t *testing.T) {
	h := NewHandler(config.WebSocketConfig{}, registry.NewDispatcher(registry.New(), 0), logfanout.New(nil), nil, nil)
	if h.pingPeriod() != 54*time.Second {
		t.Errorf("ping period = %v", h.pingPeriod())
	}
}

func TestCloseAll(t *testing.T) {
	h := newHarness(t)
	a := h.dial(t, nil)
	b := h.dial(t, nil)
	waitFor(t, h.obs.opened, "open a")
	waitFor(t, h.obs.opened, "open b")

	if n := h.h.Open(); n != 2 {
		t.Fatalf("Open() = %d, want 2", n)
	}
	if n := h.h.CloseAll(); n != 2 {
		t.Fatalf("CloseAll() = %d, want 2", n)
	}

	for _, ws := range []*websocket.Conn{a, b} {
		ws.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, _, err := ws.ReadMessage()
		if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
			t.Errorf("err = %v, want normal closure", err)
		}
	}
	waitFor(t, h.obs.closed, "close a")
	waitFor(t, h.obs.closed, "close b")
	if n := h.h.Open(); n != 0 {
		t.Errorf("Open() after close = %d", n)
	}
}
