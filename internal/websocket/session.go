package websocket

import (
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/signagehub/edge/internal/logfanout"
	"github.com/signagehub/edge/internal/logging"
	"github.com/signagehub/edge/internal/protocol"
	"github.com/signagehub/edge/internal/registry"
)

// session applies client frames to the registry and fan-out for one socket.
type session struct {
	conn       *registry.Conn
	dispatcher *registry.Dispatcher
	reg        *registry.Registry
	fanout     *logfanout.Fanout
	now        func() time.Time
}

// handle processes one frame. Malformed frames are logged and the socket
// stays open.
func (s *session) handle(data []byte) {
	var msg protocol.Inbound
	if err := json.Unmarshal(data, &msg); err != nil {
		logging.Warn("invalid websocket frame",
			zap.String("conn_id", s.conn.ID()),
			zap.Int("size", len(data)),
			zap.Error(err),
		)
		return
	}

	switch msg.Type {
	case protocol.TypeRegister:
		if msg.DeviceID == "" {
			s.reject("register requires deviceId")
			return
		}
		if msg.PlayerID != "" {
			s.reg.Register(s.conn, registry.Identity{DeviceID: msg.DeviceID, PlayerID: msg.PlayerID})
		} else {
			s.reg.RegisterDevice(s.conn, msg.DeviceID)
		}
		logging.Info("device registered",
			zap.String("device_id", msg.DeviceID),
			zap.String("conn_id", s.conn.ID()),
			zap.String("state", string(s.conn.State())),
		)
		s.dispatcher.Reply(s.conn, protocol.Ack{Type: protocol.TypeRegistered, DeviceID: msg.DeviceID})

	case protocol.TypeRegisterPlayer:
		if msg.PlayerID == "" {
			s.reject("register_player requires playerId")
			return
		}
		if msg.DeviceID != "" {
			s.reg.Register(s.conn, registry.Identity{DeviceID: msg.DeviceID, PlayerID: msg.PlayerID})
		} else {
			s.reg.RegisterPlayer(s.conn, msg.PlayerID)
		}
		logging.Info("player registered",
			zap.String("player_id", msg.PlayerID),
			zap.String("conn_id", s.conn.ID()),
			zap.String("state", string(s.conn.State())),
		)
		s.dispatcher.Reply(s.conn, protocol.Ack{
			Type:     protocol.TypePlayerRegistered,
			PlayerID: msg.PlayerID,
			DeviceID: s.conn.DeviceID(),
		})

	case protocol.TypeHeartbeat:
		s.dispatcher.Reply(s.conn, protocol.Ack{Type: protocol.TypeHeartbeatAck, Timestamp: s.now().UnixMilli()})

	case protocol.TypeProofOfPlay:
		logging.Info("proof of play received",
			zap.String("device_id", s.conn.DeviceID()),
			zap.Int("size", len(msg.Data)),
		)

	case protocol.TypeSubscribeLogs:
		if msg.TenantID == "" {
			s.reject("subscribe_logs requires tenantId")
			return
		}
		s.fanout.Subscribe(msg.TenantID, s.conn)
		logging.Info("log subscriber added",
			zap.String("tenant_id", msg.TenantID),
			zap.String("conn_id", s.conn.ID()),
		)
		s.dispatcher.Reply(s.conn, protocol.Ack{Type: protocol.TypeLogsSubscribed, TenantID: msg.TenantID})

	case protocol.TypeCommandAck:
		deviceID := msg.DeviceID
		if deviceID == "" {
			deviceID = s.conn.DeviceID()
		}
		logging.Info("command acknowledged",
			zap.String("device_id", deviceID),
			zap.String("command", msg.Command),
		)

	default:
		logging.Debug("unknown websocket message type",
			zap.String("type", msg.Type),
			zap.String("conn_id", s.conn.ID()),
		)
	}
}

func (s *session) reject(message string) {
	logging.Debug("websocket frame rejected", zap.String("conn_id", s.conn.ID()), zap.String("reason", message))
	s.dispatcher.Reply(s.conn, protocol.Error{Type: protocol.TypeError, Message: message})
}

// close removes every trace of the connection.
func (s *session) close() {
	s.reg.Unregister(s.conn)
	s.fanout.Unsubscribe(s.conn)
	s.conn.Close()
}
