package realtime

import (
	"sync"
)

// Sender delivers an event to one connection without blocking. It reports
// whether the event was queued.
type Sender interface {
	Send(connID string, ev Event) bool
}

// Connections owns the outbound queue of every attached connection.
type Connections struct {
	mu     sync.RWMutex
	chans  map[string]chan Event
	buffer int
}

func NewConnections(buffer int) *Connections {
	if buffer < 1 {
		buffer = 1
	}
	return &Connections{chans: make(map[string]chan Event), buffer: buffer}
}

// Attach creates the queue for connID. Attaching an id twice replaces and
// closes the earlier queue.
func (c *Connections) Attach(connID string) <-chan Event {
	ch := make(chan Event, c.buffer)
	c.mu.Lock()
	if old, ok := c.chans[connID]; ok {
		close(old)
	}
	c.chans[connID] = ch
	c.mu.Unlock()
	return ch
}

// Detach closes and forgets the queue for connID.
func (c *Connections) Detach(connID string) {
	c.mu.Lock()
	if ch, ok := c.chans[connID]; ok {
		close(ch)
		delete(c.chans, connID)
	}
	c.mu.Unlock()
}

// Send drops the event when the queue is full or the connection is gone.
func (c *Connections) Send(connID string, ev Event) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ch, ok := c.chans[connID]
	if !ok {
		return false
	}
	select {
	case ch <- ev:
		return true
	default:
		return false
	}
}

// Hub ties the group registry to the outbound queues so a stream handler
// registers and unregisters in one call.
type Hub struct {
	registry *Registry
	conns    *Connections
}

func NewHub(registry *Registry, buffer int) *Hub {
	return &Hub{registry: registry, conns: NewConnections(buffer)}
}

// Connect attaches the queue before group registration so no fan-out can
// target a connection without a queue.
func (h *Hub) Connect(connID, userID string) <-chan Event {
	ch := h.conns.Attach(connID)
	h.registry.OnConnect(connID, userID)
	return ch
}

func (h *Hub) Disconnect(connID string) {
	h.registry.OnDisconnect(connID)
	h.conns.Detach(connID)
}

func (h *Hub) Send(connID string, ev Event) bool { return h.conns.Send(connID, ev) }

func (h *Hub) Registry() *Registry { return h.registry }
