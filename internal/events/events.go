// Package events carries in-process notifications between the HTTP proxy
// and the live-connection side of the edge.
package events

import (
	"sync"
	"time"
)

// CommandIssued is emitted after a backend accepted a device command.
type CommandIssued struct {
	DeviceID  string
	Command   string
	RequestID string
	IssuedAt  time.Time
}

// Bus delivers events synchronously to every subscriber, in subscription order.
// Subscribers must not block; long work belongs in a goroutine or timer.
type Bus struct {
	mu       sync.RWMutex
	commands []func(CommandIssued)
}

// NewBus creates an empty bus
func NewBus() *Bus {
	return &Bus{}
}

// SubscribeCommands registers fn for CommandIssued events.
func (b *Bus) SubscribeCommands(fn func(CommandIssued)) {
	b.mu.Lock()
	b.commands = append(b.commands, fn)
	b.mu.Unlock()
}

// PublishCommand delivers ev to all subscribers.
func (b *Bus) PublishCommand(ev CommandIssued) {
	b.mu.RLock()
	subs := b.commands
	b.mu.RUnlock()

	for _, fn := range subs {
		fn(ev)
	}
}
