package hub

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Transport is the slice of a websocket connection the hub needs.
// *websocket.Conn satisfies it; tests substitute fakes.
type Transport interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Message type constants mirroring gorilla/websocket, so the hub does
// not force the transport package onto every test.
const (
	TextMessage  = 1
	CloseMessage = 8
	PingMessage  = 9
)

// ConnState tracks the per-connection lifecycle
type ConnState int32

const (
	StateConnecting ConnState = iota
	StateOpen
	StateClosed
)

const (
	sendQueueSize = 256
	writeWait     = 10 * time.Second
	pingPeriod    = 54 * time.Second
)

// Conn represents a single subscriber connection owned by the hub
type Conn struct {
	id          string
	transport   Transport
	send        chan []byte
	connectedAt time.Time
	state       ConnState
}

// NewConn wraps a transport into a hub connection in the Connecting
// state. The connection does nothing until it is registered.
func NewConn(t Transport) *Conn {
	return &Conn{
		id:          uuid.NewString(),
		transport:   t,
		send:        make(chan []byte, sendQueueSize),
		connectedAt: time.Now(),
		state:       StateConnecting,
	}
}

// ID returns the connection's unique identifier
func (c *Conn) ID() string { return c.id }

// ConnectedAt returns when the connection was accepted
func (c *Conn) ConnectedAt() time.Time { return c.connectedAt }

// writePump drains the send queue onto the transport, pinging idly to
// keep the connection alive. It runs until the queue is closed by the
// hub or a write fails; either way the transport ends up closed.
func (c *Conn) writePump(h *Hub, logger *slog.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.transport.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			if err := c.transport.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				logger.Debug("setting write deadline", "conn", c.id, "error", err)
				h.Unregister(c.id)
				return
			}
			if !ok {
				// Hub closed the queue; say goodbye
				c.transport.WriteMessage(CloseMessage, []byte{})
				return
			}
			if err := c.transport.WriteMessage(TextMessage, message); err != nil {
				logger.Debug("write failed", "conn", c.id, "error", err)
				h.Unregister(c.id)
				return
			}
		case <-ticker.C:
			if err := c.transport.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				h.Unregister(c.id)
				return
			}
			if err := c.transport.WriteMessage(PingMessage, nil); err != nil {
				h.Unregister(c.id)
				return
			}
		}
	}
}
