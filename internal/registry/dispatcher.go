package registry

import (
	"time"

	"go.uber.org/zap"

	"github.com/signagehub/edge/internal/events"
	"github.com/signagehub/edge/internal/logging"
	"github.com/signagehub/edge/internal/protocol"
)

// Forwarder hands frames for identities not connected here to other edge
// replicas. Implementations must not block.
type Forwarder interface {
	ForwardToDevice(deviceID string, frame []byte)
	ForwardToPlayer(playerID string, frame []byte)
}

// DeliveryObserver records the outcome of each addressed delivery.
type DeliveryObserver interface {
	ObserveDelivery(target string, delivered bool)
}

// Delivery targets reported to the observer.
const (
	TargetDevice    = "device"
	TargetPlayer    = "player"
	TargetBroadcast = "broadcast"
	TargetReply     = "reply"
	TargetCommand   = "command"
)

// Dispatcher sends frames to registered connections. Every send is best
// effort: false means "not reachable right now" and is never an error.
type Dispatcher struct {
	reg       *Registry
	pushDelay time.Duration
	forwarder Forwarder
	observer  DeliveryObserver
	after     func(time.Duration, func())
	now       func() time.Time
}

// DispatcherOption configures a Dispatcher
type DispatcherOption func(*Dispatcher)

// WithForwarder relays local misses to other replicas.
func WithForwarder(f Forwarder) DispatcherOption {
	return func(d *Dispatcher) { d.forwarder = f }
}

// WithObserver records delivery outcomes.
func WithObserver(o DeliveryObserver) DispatcherOption {
	return func(d *Dispatcher) { d.observer = o }
}

// NewDispatcher creates a dispatcher. pushDelay is how long a proxied
// command waits before it is pushed, so the HTTP response reaches the
// caller first.
func NewDispatcher(reg *Registry, pushDelay time.Duration, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		reg:       reg,
		pushDelay: pushDelay,
		after:     func(delay time.Duration, fn func()) { time.AfterFunc(delay, fn) },
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// SetForwarder installs the forwarder after construction. The relay needs
// the dispatcher for inbound delivery, so it is created second.
func (d *Dispatcher) SetForwarder(f Forwarder) {
	d.forwarder = f
}

// Registry returns the underlying registry.
func (d *Dispatcher) Registry() *Registry {
	return d.reg
}

// SendToDevice delivers msg to the device connection. On a local miss the
// frame is forwarded to other replicas when a forwarder is installed; the
// result still reflects local delivery only.
func (d *Dispatcher) SendToDevice(deviceID string, msg any) bool {
	frame, ok := d.encode(msg)
	if !ok {
		return false
	}
	delivered := d.DeliverToDevice(deviceID, frame)
	if !delivered && d.forwarder != nil {
		d.forwarder.ForwardToDevice(deviceID, frame)
	}
	return delivered
}

// SendToPlayer delivers msg to the player connection, forwarding on a miss.
func (d *Dispatcher) SendToPlayer(playerID string, msg any) bool {
	frame, ok := d.encode(msg)
	if !ok {
		return false
	}
	delivered := d.DeliverToPlayer(playerID, frame)
	if !delivered && d.forwarder != nil {
		d.forwarder.ForwardToPlayer(playerID, frame)
	}
	return delivered
}

// DeliverToDevice sends a pre-encoded frame to a locally connected device only.
func (d *Dispatcher) DeliverToDevice(deviceID string, frame []byte) bool {
	c, ok := d.reg.Device(deviceID)
	delivered := ok && c.Send(frame)
	d.observe(TargetDevice, delivered)
	if !delivered {
		logging.Info("device not reachable",
			zap.String("device_id", deviceID),
			zap.Bool("registered", ok),
		)
	}
	return delivered
}

// DeliverToPlayer sends a pre-encoded frame to a locally connected player only.
func (d *Dispatcher) DeliverToPlayer(playerID string, frame []byte) bool {
	c, ok := d.reg.Player(playerID)
	delivered := ok && c.Send(frame)
	d.observe(TargetPlayer, delivered)
	if !delivered {
		logging.Info("player not reachable",
			zap.String("player_id", playerID),
			zap.Bool("registered", ok),
		)
	}
	return delivered
}

// BroadcastToAll sends msg to every registered connection once and returns
// how many accepted it.
func (d *Dispatcher) BroadcastToAll(msg any) int {
	frame, ok := d.encode(msg)
	if !ok {
		return 0
	}
	n := 0
	for _, c := range d.reg.Connections() {
		if c.Send(frame) {
			n++
		}
	}
	d.observe(TargetBroadcast, n > 0)
	return n
}

// Reply answers a client on its own connection.
func (d *Dispatcher) Reply(c *Conn, msg any) bool {
	frame, ok := d.encode(msg)
	if !ok {
		return false
	}
	delivered := c.Send(frame)
	if !delivered {
		logging.Debug("reply dropped", zap.String("conn_id", c.ID()))
	}
	return delivered
}

// OnCommandIssued pushes a command accepted by the device backend to the
// device after the configured delay. There is no retry.
func (d *Dispatcher) OnCommandIssued(ev events.CommandIssued) {
	d.after(d.pushDelay, func() {
		delivered := d.SendToDevice(ev.DeviceID, protocol.NewCommand(ev.Command, d.now()))
		d.observe(TargetCommand, delivered)
		logging.Info("command push",
			zap.String("device_id", ev.DeviceID),
			zap.String("command", ev.Command),
			zap.String("request_id", ev.RequestID),
			zap.Bool("delivered", delivered),
		)
	})
}

func (d *Dispatcher) encode(msg any) ([]byte, bool) {
	frame, err := protocol.Encode(msg)
	if err != nil {
		logging.Error("failed to encode frame", zap.Error(err))
		return nil, false
	}
	return frame, true
}

func (d *Dispatcher) observe(target string, delivered bool) {
	if d.observer != nil {
		d.observer.ObserveDelivery(target, delivered)
	}
}
