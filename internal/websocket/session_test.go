package websocket

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/signagehub/edge/internal/logfanout"
	"github.com/signagehub/edge/internal/registry"
)

func newTestSession() (*session, *registry.Registry, *logfanout.Fanout) {
	reg := registry.New()
	fan := logfanout.New(nil)
	s := &session{
		conn:       registry.NewConn("10.0.0.5", 8),
		dispatcher: registry.NewDispatcher(reg, 0),
		reg:        reg,
		fanout:     fan,
		now:        func() time.Time { return time.UnixMilli(1700000000000) },
	}
	return s, reg, fan
}

func nextFrame(t *testing.T, c *registry.Conn) map[string]any {
	t.Helper()
	select {
	case b := <-c.Queue():
		var m map[string]any
		if err := json.Unmarshal(b, &m); err != nil {
			t.Fatalf("bad frame %s", b)
		}
		return m
	default:
		t.Fatal("expected a queued frame")
		return nil
	}
}

func TestSessionRegister(t *testing.T) {
	s, reg, _ := newTestSession()
	s.handle([]byte(`{"type":"register","deviceId":"d1"}`))

	if got := nextFrame(t, s.conn); got["type"] != "registered" || got["deviceId"] != "d1" {
		t.Errorf("reply = %v", got)
	}
	if c, ok := reg.Device("d1"); !ok || c != s.conn {
		t.Error("device should map to the session connection")
	}
	if s.conn.State() != registry.StateDevice {
		t.Errorf("state = %s", s.conn.State())
	}
}

func TestSessionPlayerThenDevice(t *testing.T) {
	s, reg, _ := newTestSession()
	s.handle([]byte(`{"type":"register_player","playerId":"p1"}`))
	if got := nextFrame(t, s.conn); got["type"] != "player_registered" || got["playerId"] != "p1" {
		t.Errorf("reply = %v", got)
	}

	s.handle([]byte(`{"type":"register","deviceId":"d1"}`))
	nextFrame(t, s.conn)

	d, _ := reg.Device("d1")
	p, _ := reg.Player("p1")
	if d != s.conn || p != s.conn {
		t.Error("both identities should resolve to the same connection")
	}
	if s.conn.State() != registry.StateDual {
		t.Errorf("state = %s", s.conn.State())
	}
}

func TestSessionHeartbeat(t *testing.T) {
	s, _, _ := newTestSession()
	s.handle([]byte(`{"type":"heartbeat"}`))

	got := nextFrame(t, s.conn)
	if got["type"] != "heartbeat_ack" || got["timestamp"] != float64(1700000000000) {
		t.Errorf("reply = %v", got)
	}
}

func TestSessionSubscribeLogs(t *testing.T) {
	s, _, fan := newTestSession()
	s.handle([]byte(`{"type":"subscribe_logs","tenantId":"t1"}`))

	if got := nextFrame(t, s.conn); got["type"] != "logs_subscribed" || got["tenantId"] != "t1" {
		t.Errorf("reply = %v", got)
	}
	if fan.Subscribers("t1") != 1 {
		t.Fatal("connection should be subscribed")
	}

	fan.Broadcast("t1", json.RawMessage(`{"level":"info"}`))
	if got := nextFrame(t, s.conn); got["type"] != "log" {
		t.Errorf("frame = %v", got)
	}
}

func TestSessionRejectsMissingFields(t *testing.T) {
	s, reg, _ := newTestSession()
	for _, frame := range []string{
		`{"type":"register"}`,
		`{"type":"register_player"}`,
		`{"type":"subscribe_logs"}`,
	} {
		s.handle([]byte(frame))
		if got := nextFrame(t, s.conn); got["type"] != "error" {
			t.Errorf("%s: reply = %v", frame, got)
		}
	}
	if d, p := reg.Counts(); d != 0 || p != 0 {
		t.Errorf("counts = %d/%d", d, p)
	}
}

func TestSessionIgnoresNoise(t *testing.T) {
	s, _, _ := newTestSession()
	s.handle([]byte(`not json`))
	s.handle([]byte(`{"type":"mystery"}`))
	s.handle([]byte(`{"type":"proof_of_play","data":{"contentId":"c1"}}`))
	s.handle([]byte(`{"type":"command_ack","command":"reboot"}`))

	if len(s.conn.Queue()) != 0 {
		t.Error("informational frames get no reply")
	}
	if !s.conn.IsOpen() {
		t.Error("bad frames must not close the connection")
	}
}

func TestSessionClose(t *testing.T) {
	s, reg, fan := newTestSession()
	s.handle([]byte(`{"type":"register","deviceId":"d1","playerId":"p1"}`))
	s.handle([]byte(`{"type":"subscribe_logs","tenantId":"t1"}`))

	s.close()

	if _, ok := reg.Device("d1"); ok {
		t.Error("device should be unregistered")
	}
	if _, ok := reg.Player("p1"); ok {
		t.Error("player should be unregistered")
	}
	if fan.Subscribers("t1") != 0 {
		t.Error("subscriber should be removed")
	}
	if s.conn.IsOpen() {
		t.Error("connection should be closed")
	}
}
