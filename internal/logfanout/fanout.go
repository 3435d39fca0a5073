// Package logfanout delivers tenant log records to subscribed connections.
package logfanout

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/signagehub/edge/internal/logging"
	"github.com/signagehub/edge/internal/protocol"
	"github.com/signagehub/edge/internal/registry"
)

// Observer records fan-out outcomes, may be nil.
type Observer interface {
	ObserveLogFanout(delivered, pruned int)
}

// Fanout holds one subscriber set per tenant. A connection follows at most
// one tenant; empty sets are deleted.
type Fanout struct {
	mu       sync.Mutex
	tenants  map[string]map[*registry.Conn]struct{}
	observer Observer
}

// New creates an empty fan-out
func New(observer Observer) *Fanout {
	return &Fanout{
		tenants:  make(map[string]map[*registry.Conn]struct{}),
		observer: observer,
	}
}

// Subscribe adds c to tenantID's set, leaving any tenant it followed before.
func (f *Fanout) Subscribe(tenantID string, c *registry.Conn) {
	if tenantID == "" {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	if prev := c.TenantID(); prev != "" && prev != tenantID {
		f.removeLocked(prev, c)
	}
	set, ok := f.tenants[tenantID]
	if !ok {
		set = make(map[*registry.Conn]struct{})
		f.tenants[tenantID] = set
	}
	set[c] = struct{}{}
	c.SetTenantID(tenantID)
}

// Unsubscribe removes c from its tenant set.
func (f *Fanout) Unsubscribe(c *registry.Conn) {
	tenantID := c.TenantID()
	if tenantID == "" {
		return
	}
	f.mu.Lock()
	f.removeLocked(tenantID, c)
	f.mu.Unlock()
}

func (f *Fanout) removeLocked(tenantID string, c *registry.Conn) {
	set, ok := f.tenants[tenantID]
	if !ok {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(f.tenants, tenantID)
	}
}

// Broadcast sends record to every subscriber of tenantID and returns how many
// accepted it. Closed or saturated subscribers are collected during the pass
// and removed after it.
func (f *Fanout) Broadcast(tenantID string, record json.RawMessage) int {
	frame, err := protocol.Encode(protocol.NewLogMessage(record))
	if err != nil {
		logging.Error("failed to encode log record", zap.String("tenant_id", tenantID), zap.Error(err))
		return 0
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	set, ok := f.tenants[tenantID]
	if !ok {
		return 0
	}

	delivered := 0
	var dead []*registry.Conn
	for c := range set {
		if c.Send(frame) {
			delivered++
		} else {
			dead = append(dead, c)
		}
	}
	for _, c := range dead {
		delete(set, c)
	}
	if len(set) == 0 {
		delete(f.tenants, tenantID)
	}

	if len(dead) > 0 {
		logging.Debug("pruned log subscribers",
			zap.String("tenant_id", tenantID),
			zap.Int("pruned", len(dead)),
		)
	}
	if f.observer != nil {
		f.observer.ObserveLogFanout(delivered, len(dead))
	}
	return delivered
}

// Subscribers returns the number of subscribers for tenantID.
func (f *Fanout) Subscribers(tenantID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tenants[tenantID])
}

// Tenants returns subscriber counts per tenant.
func (f *Fanout) Tenants() map[string]int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]int, len(f.tenants))
	for t, set := range f.tenants {
		out[t] = len(set)
	}
	return out
}
