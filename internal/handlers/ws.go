package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"presenceboard/internal/hub"
)

const (
	readLimit = 512
	pongWait  = 60 * time.Second
)

// WSHandler upgrades viewer connections and hands them to the hub.
// The handler is constructed once at router setup; connections only
// ever register with the one process-wide hub.
type WSHandler struct {
	hub      *hub.Hub
	service  StatusService
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// NewWSHandler creates a new WebSocket subscribe handler
func NewWSHandler(h *hub.Hub, svc StatusService, logger *slog.Logger) *WSHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WSHandler{
		hub:     h,
		service: svc,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Status pages are public; viewers connect from anywhere
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Subscribe handles GET /ws?user={username}. The new connection is
// registered for all future broadcasts and immediately receives the
// current payload for the requested user; past broadcasts are not
// replayed.
func (h *WSHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	conn := hub.NewConn(ws)
	h.hub.Register(conn)

	if username := r.URL.Query().Get("user"); username != "" {
		payload, err := h.service.BuildStatus(r.Context(), username)
		if err != nil {
			h.logger.Warn("initial status unavailable", "user", username, "error", err)
		} else if err := h.hub.Send(conn, payload); err != nil {
			h.logger.Warn("initial status send failed", "conn", conn.ID(), "error", err)
		}
	}

	go h.readPump(ws, conn.ID())
}

// readPump consumes (and discards) inbound frames so pings/pongs and
// close frames are processed, unregistering the connection when the
// peer goes away.
func (h *WSHandler) readPump(ws *websocket.Conn, connID string) {
	defer func() {
		h.hub.Unregister(connID)
		ws.Close()
	}()

	ws.SetReadLimit(readLimit)
	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure) {
				h.logger.Debug("websocket read error", "conn", connID, "error", err)
			}
			return
		}
	}
}
