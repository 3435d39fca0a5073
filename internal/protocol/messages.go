// Package protocol defines the JSON frames exchanged with devices and players
// over the WebSocket endpoint.
package protocol

import (
	"encoding/json"
	"time"
)

// Client to edge message types.
const (
	TypeRegister       = "register"
	TypeRegisterPlayer = "register_player"
	TypeHeartbeat      = "heartbeat"
	TypeProofOfPlay    = "proof_of_play"
	TypeSubscribeLogs  = "subscribe_logs"
	TypeCommandAck     = "command_ack"
)

// Edge to client message types.
const (
	TypeRegistered       = "registered"
	TypePlayerRegistered = "player_registered"
	TypeHeartbeatAck     = "heartbeat_ack"
	TypeLogsSubscribed   = "logs_subscribed"
	TypeCommand          = "command"
	TypeDevicePaired     = "device_paired"
	TypeLog              = "log"
	TypeError            = "error"
)

// Known device commands. Backends may send others; the edge passes any
// command string through unchanged.
const (
	CommandReboot        = "reboot"
	CommandScreenOff     = "screen_off"
	CommandScreenOn      = "screen_on"
	CommandClearCache    = "clear_cache"
	CommandResetDeviceID = "reset_device_id"
	CommandRefresh       = "refresh"
)

// Inbound is any frame sent by a client. Fields unused by a type are empty.
type Inbound struct {
	Type     string          `json:"type"`
	DeviceID string          `json:"deviceId,omitempty"`
	PlayerID string          `json:"playerId,omitempty"`
	TenantID string          `json:"tenantId,omitempty"`
	Command  string          `json:"command,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
}

// Command instructs a device to act.
type Command struct {
	Type      string `json:"type"`
	Command   string `json:"command"`
	Timestamp int64  `json:"timestamp"`
}

// NewCommand builds a command frame stamped with now in Unix milliseconds.
func NewCommand(command string, now time.Time) Command {
	return Command{Type: TypeCommand, Command: command, Timestamp: now.UnixMilli()}
}

// DevicePaired tells a pending player which device identity it now holds.
type DevicePaired struct {
	Type       string `json:"type"`
	DeviceID   string `json:"deviceId"`
	DeviceName string `json:"deviceName,omitempty"`
	Timestamp  int64  `json:"timestamp"`
}

// NewDevicePaired builds a device_paired frame.
func NewDevicePaired(deviceID, deviceName string, now time.Time) DevicePaired {
	return DevicePaired{
		Type:       TypeDevicePaired,
		DeviceID:   deviceID,
		DeviceName: deviceName,
		Timestamp:  now.UnixMilli(),
	}
}

// LogMessage carries one log record to a tenant's subscribers.
type LogMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// NewLogMessage wraps a raw log record.
func NewLogMessage(record json.RawMessage) LogMessage {
	return LogMessage{Type: TypeLog, Data: record}
}

// Ack is the reply to register, register_player, heartbeat and subscribe_logs.
type Ack struct {
	Type      string `json:"type"`
	DeviceID  string `json:"deviceId,omitempty"`
	PlayerID  string `json:"playerId,omitempty"`
	TenantID  string `json:"tenantId,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

// Error reports a frame the edge could not act on. The socket stays open.
type Error struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Encode marshals a frame. Pre-encoded frames ([]byte, json.RawMessage) pass through.
func Encode(msg any) ([]byte, error) {
	switch m := msg.(type) {
	case []byte:
		return m, nil
	case json.RawMessage:
		return m, nil
	default:
		return json.Marshal(msg)
	}
}
