// Package websocket serves the /ws endpoint used by devices, players and
// log viewers.
package websocket

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/signagehub/edge/internal/config"
	"github.com/signagehub/edge/internal/errors"
	"github.com/signagehub/edge/internal/logfanout"
	"github.com/signagehub/edge/internal/logging"
	"github.com/signagehub/edge/internal/middleware"
	"github.com/signagehub/edge/internal/middleware/realip"
	"github.com/signagehub/edge/internal/origin"
	"github.com/signagehub/edge/internal/registry"
)

// ConnObserver tracks open sockets, may be nil.
type ConnObserver interface {
	ConnectionOpened()
	ConnectionClosed()
}

// Handler upgrades requests and runs one session per socket.
type Handler struct {
	cfg        config.WebSocketConfig
	upgrader   websocket.Upgrader
	dispatcher *registry.Dispatcher
	fanout     *logfanout.Fanout
	observer   ConnObserver
	now        func() time.Time

	mu    sync.Mutex
	conns map[*registry.Conn]struct{}
}

// NewHandler creates the WebSocket handler. Origins are checked against the
// current policy of holder; a nil holder accepts any origin.
func NewHandler(cfg config.WebSocketConfig, dispatcher *registry.Dispatcher, fanout *logfanout.Fanout, holder *origin.Holder, observer ConnObserver) *Handler {
	cfg = withDefaults(cfg)
	h := &Handler{
		cfg:        cfg,
		dispatcher: dispatcher,
		fanout:     fanout,
		observer:   observer,
		now:        time.Now,
		conns:      make(map[*registry.Conn]struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:    cfg.ReadBufferSize,
		WriteBufferSize:   cfg.WriteBufferSize,
		EnableCompression: cfg.EnableCompression,
		CheckOrigin: func(r *http.Request) bool {
			o := r.Header.Get("Origin")
			return o == "" || holder == nil || holder.IsAllowed(o)
		},
		Error: func(w http.ResponseWriter, r *http.Request, status int, reason error) {
			if status == http.StatusForbidden {
				logging.Warn("websocket origin rejected", zap.String("origin", r.Header.Get("Origin")))
				errors.ErrOriginNotAllowed.WithRequestID(middleware.GetRequestID(r)).WriteJSON(w)
				return
			}
			errors.New(status, http.StatusText(status)).
				WithDetails(reason.Error()).
				WithRequestID(middleware.GetRequestID(r)).
				WriteJSON(w)
		},
	}
	return h
}

func withDefaults(cfg config.WebSocketConfig) config.WebSocketConfig {
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = 512 * 1024
	}
	if cfg.ReadBufferSize <= 0 {
		cfg.ReadBufferSize = 4096
	}
	if cfg.WriteBufferSize <= 0 {
		cfg.WriteBufferSize = 4096
	}
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = 10 * time.Second
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = 60 * time.Second
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 64
	}
	return cfg
}

// pingPeriod must stay below the pong deadline.
func (h *Handler) pingPeriod() time.Duration {
	return h.cfg.PongWait * 9 / 10
}

// ServeHTTP upgrades the request and blocks until the socket closes.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	middleware.Info(r).Route = "websocket"

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	c := registry.NewConn(realip.RemoteIP(r), h.cfg.SendBuffer)
	h.track(c)
	if h.observer != nil {
		h.observer.ConnectionOpened()
	}
	logging.Info("websocket connected",
		zap.String("conn_id", c.ID()),
		zap.String("remote_addr", c.RemoteAddr()),
		zap.String("request_id", middleware.GetRequestID(r)),
	)

	s := &session{
		conn:       c,
		dispatcher: h.dispatcher,
		reg:        h.dispatcher.Registry(),
		fanout:     h.fanout,
		now:        h.now,
	}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		h.writePump(ws, c)
	}()

	h.readPump(ws, s)

	s.close()
	<-writerDone
	h.untrack(c)
	if h.observer != nil {
		h.observer.ConnectionClosed()
	}
	logging.Info("websocket disconnected",
		zap.String("conn_id", c.ID()),
		zap.String("device_id", c.DeviceID()),
		zap.String("player_id", c.PlayerID()),
	)
}

func (h *Handler) track(c *registry.Conn) {
	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Handler) untrack(c *registry.Conn) {
	h.mu.Lock()
	delete(h.conns, c)
	h.mu.Unlock()
}

// Open returns the number of live sockets.
func (h *Handler) Open() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// CloseAll closes every live socket with a normal close frame. Hijacked
// connections are invisible to http.Server.Shutdown, so the server calls
// this when it stops.
func (h *Handler) CloseAll() int {
	h.mu.Lock()
	conns := make([]*registry.Conn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
	return len(conns)
}

// readPump is the only reader of ws. It returns when the peer goes away,
// the pong deadline passes or the connection is closed locally.
func (h *Handler) readPump(ws *websocket.Conn, s *session) {
	ws.SetReadLimit(h.cfg.ReadLimit)
	_ = ws.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				logging.Debug("websocket read error", zap.String("conn_id", s.conn.ID()), zap.Error(err))
			}
			return
		}
		if len(data) > 0 {
			s.handle(data)
		}
	}
}

// writePump is the only writer of ws. It drains the connection queue and
// pings the peer; it closes the socket on exit, which also stops readPump.
func (h *Handler) writePump(ws *websocket.Conn, c *registry.Conn) {
	ticker := time.NewTicker(h.pingPeriod())
	defer func() {
		ticker.Stop()
		c.Close()
		_ = ws.Close()
	}()

	for {
		select {
		case frame := <-c.Queue():
			_ = ws.SetWriteDeadline(time.Now().Add(h.cfg.WriteWait))
			if err := ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				logging.Debug("websocket write failed", zap.String("conn_id", c.ID()), zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(h.cfg.WriteWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.Done():
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(h.cfg.WriteWait))
			return
		}
	}
}
