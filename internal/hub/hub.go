// Package hub tracks the set of live subscriber connections and fans
// a status payload out to each of them. Failures are isolated per
// connection: one bad subscriber never blocks delivery to the rest.
package hub

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"presenceboard/internal/metrics"
)

// Hub owns every subscriber connection for its lifetime
type Hub struct {
	logger *slog.Logger

	mu    sync.RWMutex
	conns map[string]*Conn
}

// NewHub creates an empty hub
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger: logger,
		conns:  make(map[string]*Conn),
	}
}

// Register transitions a connection into the Open state, adds it to
// the live set, and starts its write pump.
func (h *Hub) Register(c *Conn) {
	h.mu.Lock()
	c.state = StateOpen
	h.conns[c.id] = c
	count := len(h.conns)
	h.mu.Unlock()

	go c.writePump(h, h.logger)

	metrics.SetLiveConnections(count)
	h.logger.Info("subscriber registered", "conn", c.id, "total", count)
}

// Unregister removes a connection from the live set and closes it.
// Unregistering an already-removed connection is a no-op.
func (h *Hub) Unregister(id string) {
	h.mu.Lock()
	c, ok := h.conns[id]
	if ok {
		delete(h.conns, id)
		c.state = StateClosed
	}
	count := len(h.conns)
	h.mu.Unlock()

	if !ok {
		return
	}
	// Closing the queue stops the write pump, which closes the transport
	close(c.send)

	metrics.SetLiveConnections(count)
	h.logger.Info("subscriber unregistered", "conn", c.id, "total", count)
}

// Broadcast serializes the payload once and queues it to every Open
// connection. A connection whose queue is full is treated as failed:
// it is closed and removed, and delivery to the others continues.
func (h *Hub) Broadcast(payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling broadcast payload: %w", err)
	}

	// Snapshot the targets so removals during the fan-out cannot skip
	// or double-notify a live connection
	h.mu.RLock()
	targets := make([]*Conn, 0, len(h.conns))
	for _, c := range h.conns {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	var failed []*Conn
	for _, c := range targets {
		if !h.queue(c, data) {
			failed = append(failed, c)
		}
	}

	for _, c := range failed {
		h.logger.Warn("dropping stalled subscriber", "conn", c.id)
		metrics.IncSendFailures()
		h.Unregister(c.id)
	}

	metrics.IncBroadcasts()
	h.logger.Debug("broadcast delivered", "targets", len(targets)-len(failed), "dropped", len(failed))
	return nil
}

// Send queues a payload to a single connection, serializing it for
// just that target. Used to push the current state to a subscriber
// that has just joined.
func (h *Hub) Send(c *Conn, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling payload: %w", err)
	}
	if !h.queue(c, data) {
		h.Unregister(c.id)
		return fmt.Errorf("connection %s not accepting writes", c.id)
	}
	return nil
}

// queue attempts a non-blocking enqueue onto an Open connection
func (h *Hub) queue(c *Conn, data []byte) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if _, live := h.conns[c.id]; !live || c.state != StateOpen {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// Count returns the number of live connections
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Close unregisters every connection
func (h *Hub) Close() {
	h.mu.RLock()
	ids := make([]string, 0, len(h.conns))
	for id := range h.conns {
		ids = append(ids, id)
	}
	h.mu.RUnlock()

	for _, id := range ids {
		h.Unregister(id)
	}
}
