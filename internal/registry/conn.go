// Package registry keeps the live directory of device and player connections
// and dispatches addressed messages to them.
package registry

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// State is the lifecycle state of a connection.
type State string

const (
	StateUnregistered  State = "unregistered"
	StateDevice        State = "device"
	StatePlayer        State = "player"
	StateDual          State = "dual"
	StateLogSubscriber State = "log-subscriber"
	StateClosed        State = "closed"
)

// Conn is one live client socket as seen by the registry. Outbound frames go
// through a bounded queue drained by the socket's single writer, so Send
// never blocks the caller.
type Conn struct {
	id          string
	remoteAddr  string
	connectedAt time.Time

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	mu       sync.RWMutex
	deviceID string
	playerID string
	tenantID string
}

// NewConn creates a connection with an outbound queue of the given size.
func NewConn(remoteAddr string, queueSize int) *Conn {
	if queueSize <= 0 {
		queueSize = 1
	}
	return &Conn{
		id:          uuid.NewString(),
		remoteAddr:  remoteAddr,
		connectedAt: time.Now(),
		send:        make(chan []byte, queueSize),
		done:        make(chan struct{}),
	}
}

// ID returns the connection id.
func (c *Conn) ID() string { return c.id }

// RemoteAddr returns the peer address.
func (c *Conn) RemoteAddr() string { return c.remoteAddr }

// Send queues a frame. It returns false when the connection is closed or its
// queue is full; the frame is dropped in both cases.
func (c *Conn) Send(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- frame:
		return true
	case <-c.done:
		return false
	default:
		return false
	}
}

// Queue is drained by the connection's writer.
func (c *Conn) Queue() <-chan []byte { return c.send }

// Done is closed when the connection closes.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Close marks the connection closed. Safe to call more than once.
func (c *Conn) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// IsOpen reports whether Close has not been called.
func (c *Conn) IsOpen() bool {
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

// DeviceID returns the device identity, if any.
func (c *Conn) DeviceID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.deviceID
}

// PlayerID returns the player identity, if any.
func (c *Conn) PlayerID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.playerID
}

// TenantID returns the tenant whose logs this connection follows, if any.
func (c *Conn) TenantID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tenantID
}

// SetTenantID records the followed tenant. Used by the log fan-out.
func (c *Conn) SetTenantID(tenantID string) {
	c.mu.Lock()
	c.tenantID = tenantID
	c.mu.Unlock()
}

func (c *Conn) setDeviceID(id string) {
	c.mu.Lock()
	c.deviceID = id
	c.mu.Unlock()
}

func (c *Conn) setPlayerID(id string) {
	c.mu.Lock()
	c.playerID = id
	c.mu.Unlock()
}

// State derives the lifecycle state from the connection's identities.
func (c *Conn) State() State {
	if !c.IsOpen() {
		return StateClosed
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	switch {
	case c.deviceID != "" && c.playerID != "":
		return StateDual
	case c.deviceID != "":
		return StateDevice
	case c.playerID != "":
		return StatePlayer
	case c.tenantID != "":
		return StateLogSubscriber
	default:
		return StateUnregistered
	}
}

// Info is a point-in-time description of a connection.
type Info struct {
	ID          string    `json:"id"`
	RemoteAddr  string    `json:"remote_addr"`
	DeviceID    string    `json:"device_id,omitempty"`
	PlayerID    string    `json:"player_id,omitempty"`
	TenantID    string    `json:"tenant_id,omitempty"`
	State       State     `json:"state"`
	ConnectedAt time.Time `json:"connected_at"`
	Queued      int       `json:"queued"`
}

// Info returns a snapshot of the connection.
func (c *Conn) Info() Info {
	state := c.State()
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Info{
		ID:          c.id,
		RemoteAddr:  c.remoteAddr,
		DeviceID:    c.deviceID,
		PlayerID:    c.playerID,
		TenantID:    c.tenantID,
		State:       state,
		ConnectedAt: c.connectedAt,
		Queued:      len(c.send),
	}
}
