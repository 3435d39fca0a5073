package protocol

import (
	"encoding/json"
	"testing"
	"time"
)

func TestNewCommand(t *testing.T) {
	now := time.UnixMilli(1700000000123)
	b, err := Encode(NewCommand(CommandReboot, now))
	if err != nil {
		t.Fatal(err)
	}
	if want := `{"type":"command","command":"reboot","timestamp":1700000000123}`; string(b) != want {
		t.Errorf("got %s, want %s", b, want)
	}
}

func TestDevicePairedOmitsEmptyName(t *testing.T) {
	b, _ := Encode(NewDevicePaired("d1", "", time.UnixMilli(5)))
	if want := `{"type":"device_paired","deviceId":"d1","timestamp":5}`; string(b) != want {
		t.Errorf("got %s", b)
	}
}

func TestLogMessageKeepsRecordVerbatim(t *testing.T) {
	rec := json.RawMessage(`{"level":"warn","msg":"disk low","n":3}`)
	b, _ := Encode(NewLogMessage(rec))
	if want := `{"type":"log","data":{"level":"warn","msg":"disk low","n":3}}`; string(b) != want {
		t.Errorf("got %s", b)
	}
}

func TestEncodePassThrough(t *testing.T) {
	raw := []byte(`{"type":"x"}`)
	b, _ := Encode(raw)
	if string(b) != string(raw) {
		t.Error("[]byte should pass through")
	}
}

func TestInboundDecode(t *testing.T) {
	var in Inbound
	if err := json.Unmarshal([]byte(`{"type":"command_ack","command":"reboot","deviceId":"d9","extra":1}`), &in); err != nil {
		t.Fatal(err)
	}
	if in.Type != TypeCommandAck || in.Command != "reboot" || in.DeviceID != "d9" {
		t.Errorf("decoded %+v", in)
	}
}
