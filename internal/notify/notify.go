// Package notify serves the backend-only endpoints that push pairing
// notices, log records and device commands to live connections.
package notify

import (
	"bytes"
	"crypto/subtle"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"

	"github.com/signagehub/edge/internal/config"
	"github.com/signagehub/edge/internal/errors"
	"github.com/signagehub/edge/internal/logfanout"
	"github.com/signagehub/edge/internal/logging"
	"github.com/signagehub/edge/internal/middleware"
	"github.com/signagehub/edge/internal/middleware/realip"
	"github.com/signagehub/edge/internal/protocol"
	"github.com/signagehub/edge/internal/registry"
)

// Endpoint paths.
const (
	PathNotifyPlayer      = "/api/internal/notify-player"
	PathBroadcastLog      = "/api/internal/broadcast-log"
	PathSendDeviceCommand = "/api/internal/send-device-command"
)

// TokenHeader carries the optional shared secret.
const TokenHeader = "X-Internal-Token"

const maxRequestBytes = 1 << 20

// LogPublisher hands log records to other edge replicas.
type LogPublisher interface {
	PublishLog(tenantID string, record json.RawMessage)
}

// Handler serves the internal endpoints.
type Handler struct {
	dispatcher *registry.Dispatcher
	fanout     *logfanout.Fanout
	trusted    realip.Networks
	token      []byte
	logs       LogPublisher
	now        func() time.Time
}

// Option configures a Handler
type Option func(*Handler)

// WithLogPublisher also publishes every broadcast log record.
func WithLogPublisher(p LogPublisher) Option {
	return func(h *Handler) { h.logs = p }
}

// New creates the handler. An empty trusted list falls back to loopback and
// private ranges.
func New(cfg config.InternalConfig, dispatcher *registry.Dispatcher, fanout *logfanout.Fanout, opts ...Option) (*Handler, error) {
	cidrs := cfg.TrustedNetworks
	if len(cidrs) == 0 {
		cidrs = config.DefaultPrivateNetworks
	}
	trusted, err := realip.ParseNetworks(cidrs)
	if err != nil {
		return nil, err
	}
	h := &Handler{
		dispatcher: dispatcher,
		fanout:     fanout,
		trusted:    trusted,
		now:        time.Now,
	}
	if cfg.Token != "" {
		h.token = []byte(cfg.Token)
	} else {
		logging.Warn("internal endpoints have no token; set INTERNAL_TOKEN when the edge sits behind a load balancer",
			zap.Strings("trusted_networks", cidrs),
		)
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// SetLogPublisher installs the log publisher after construction.
func (h *Handler) SetLogPublisher(p LogPublisher) {
	h.logs = p
}

// Mount registers the endpoints on router.
func (h *Handler) Mount(router *httprouter.Router) {
	router.Handler(http.MethodPost, PathNotifyPlayer, h.Guard(http.HandlerFunc(h.NotifyPlayer)))
	router.Handler(http.MethodPost, PathBroadcastLog, h.Guard(http.HandlerFunc(h.BroadcastLog)))
	router.Handler(http.MethodPost, PathSendDeviceCommand, h.Guard(http.HandlerFunc(h.SendDeviceCommand)))
}

// Guard admits callers from trusted networks that present the token, when
// one is configured. The peer address is used, never forwarded headers.
// Without a token a request that crossed a proxy is refused, since the peer
// is then the proxy and not the caller.
func (h *Handler) Guard(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		info := middleware.Info(r)
		info.Route = "internal"

		peer := realip.RemoteIP(r)
		if !h.trusted.Contains(peer) {
			logging.Warn("internal endpoint called from untrusted network",
				zap.String("remote_ip", peer),
				zap.String("path", r.URL.Path),
			)
			errors.ErrForbidden.WithRequestID(info.RequestID).WriteJSON(w)
			return
		}
		if h.token == nil && forwarded(r) {
			logging.Warn("internal endpoint reached through a proxy without a token configured",
				zap.String("remote_ip", peer),
				zap.String("path", r.URL.Path),
				zap.String("forwarded_for", r.Header.Get("X-Forwarded-For")),
			)
			errors.ErrForbidden.WithDetails("forwarded requests need an internal token").
				WithRequestID(info.RequestID).WriteJSON(w)
			return
		}
		if h.token != nil && subtle.ConstantTimeCompare([]byte(r.Header.Get(TokenHeader)), h.token) != 1 {
			logging.Warn("internal endpoint called without a valid token",
				zap.String("remote_ip", peer),
				zap.String("path", r.URL.Path),
			)
			errors.ErrUnauthorized.WithRequestID(info.RequestID).WriteJSON(w)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func forwarded(r *http.Request) bool {
	for _, k := range []string{"X-Forwarded-For", "X-Real-IP", "Forwarded"} {
		if r.Header.Get(k) != "" {
			return true
		}
	}
	return false
}

type notifyPlayerRequest struct {
	PlayerID   string `json:"playerId"`
	DeviceID   string `json:"deviceId"`
	DeviceName string `json:"deviceName"`
}

// NotifyPlayer tells a pending player which device it was paired as and,
// when the player is connected here, links the device id to its socket.
func (h *Handler) NotifyPlayer(w http.ResponseWriter, r *http.Request) {
	var req notifyPlayerRequest
	if !decode(w, r, &req) {
		return
	}
	if req.PlayerID == "" || req.DeviceID == "" {
		badRequest(w, r, "playerId and deviceId are required")
		return
	}

	delivered := h.dispatcher.SendToPlayer(req.PlayerID, protocol.NewDevicePaired(req.DeviceID, req.DeviceName, h.now()))
	if delivered {
		h.dispatcher.Registry().Link(req.PlayerID, req.DeviceID)
	}
	logging.Info("player notified of pairing",
		zap.String("player_id", req.PlayerID),
		zap.String("device_id", req.DeviceID),
		zap.Bool("delivered", delivered),
	)
	writeJSON(w, map[string]any{"success": delivered})
}

// broadcastLogRequest accepts the record as "log" or, as the backends'
// audit loggers send it, "logEntry".
type broadcastLogRequest struct {
	TenantID string          `json:"tenantId"`
	Log      json.RawMessage `json:"log"`
	LogEntry json.RawMessage `json:"logEntry"`
}

func (b *broadcastLogRequest) record() json.RawMessage {
	if present(b.Log) {
		return b.Log
	}
	if present(b.LogEntry) {
		return b.LogEntry
	}
	return nil
}

// BroadcastLog fans a record out to the tenant's subscribers.
func (h *Handler) BroadcastLog(w http.ResponseWriter, r *http.Request) {
	var req broadcastLogRequest
	if !decode(w, r, &req) {
		return
	}
	record := req.record()
	if req.TenantID == "" || record == nil {
		badRequest(w, r, "tenantId and log are required")
		return
	}

	delivered := h.fanout.Broadcast(req.TenantID, record)
	if h.logs != nil {
		h.logs.PublishLog(req.TenantID, record)
	}
	logging.Debug("log broadcast",
		zap.String("tenant_id", req.TenantID),
		zap.Int("delivered", delivered),
	)
	writeJSON(w, map[string]any{"success": true, "delivered": delivered})
}

type sendDeviceCommandRequest struct {
	DeviceID string `json:"deviceId"`
	Command  string `json:"command"`
}

// SendDeviceCommand pushes a command frame to a device. success reports
// whether this replica handed it to a live socket.
func (h *Handler) SendDeviceCommand(w http.ResponseWriter, r *http.Request) {
	var req sendDeviceCommandRequest
	if !decode(w, r, &req) {
		return
	}
	if req.DeviceID == "" || req.Command == "" {
		badRequest(w, r, "deviceId and command are required")
		return
	}

	delivered := h.dispatcher.SendToDevice(req.DeviceID, protocol.NewCommand(req.Command, h.now()))
	logging.Info("device command sent",
		zap.String("device_id", req.DeviceID),
		zap.String("command", req.Command),
		zap.Bool("delivered", delivered),
	)
	writeJSON(w, map[string]any{"success": delivered})
}

func present(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null"))
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes))
	if err != nil {
		badRequest(w, r, "failed to read request body")
		return false
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return true
	}
	if err := json.Unmarshal(body, v); err != nil {
		badRequest(w, r, "request body is not valid JSON")
		return false
	}
	return true
}

func badRequest(w http.ResponseWriter, r *http.Request, details string) {
	errors.ErrBadRequest.WithDetails(details).WithRequestID(middleware.GetRequestID(r)).WriteJSON(w)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(v)
}
