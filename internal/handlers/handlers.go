package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"presenceboard/internal/hub"
	"presenceboard/internal/models"
	"presenceboard/internal/service"
	"presenceboard/internal/store"
)

// StatusService defines the service operations the HTTP layer needs
type StatusService interface {
	Authenticate(ctx context.Context, username, secret string) (models.UserRecord, service.AuthOutcome, error)
	SetDevice(ctx context.Context, ownerID, deviceID, showName, appStatus string) (models.DeviceRecord, error)
	BuildStatus(ctx context.Context, username string) (models.StatusPayload, error)
}

// Broadcaster is the slice of the hub the handlers use
type Broadcaster interface {
	Broadcast(payload any) error
}

// PresenceHandler handles HTTP requests for presence operations
type PresenceHandler struct {
	service StatusService
	hub     Broadcaster
	logger  *slog.Logger
}

// NewPresenceHandler creates a new PresenceHandler
func NewPresenceHandler(svc StatusService, b Broadcaster, logger *slog.Logger) *PresenceHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &PresenceHandler{service: svc, hub: b, logger: logger}
}

// SetDevice handles GET /{username}/device/set.
// It authenticates (creating the user on first contact), upserts the
// device row, rebuilds the user's status and fans it out to every
// connected viewer.
func (h *PresenceHandler) SetDevice(w http.ResponseWriter, r *http.Request) {
	username := mux.Vars(r)["username"]
	q := r.URL.Query()
	secret := q.Get("secret")
	deviceID := q.Get("id")
	showName := q.Get("show_name")
	appName := q.Get("app_name")

	if username == "" || secret == "" || deviceID == "" || showName == "" || appName == "" {
		h.writeErrorResponse(w, http.StatusBadRequest, "missing parameters")
		return
	}

	user, outcome, err := h.service.Authenticate(r.Context(), username, secret)
	if err != nil {
		// One generic rejection for unknown user, wrong secret and bad
		// input alike; details go to the log only
		if errors.Is(err, service.ErrRejected) || errors.Is(err, store.ErrValidation) {
			h.logger.Warn("device set rejected", "user", username)
			h.writeErrorResponse(w, http.StatusBadRequest, "authentication failed")
			return
		}
		h.logger.Error("device set failed", "user", username, "error", err)
		h.writeErrorResponse(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if _, err := h.service.SetDevice(r.Context(), user.ID, deviceID, showName, appName); err != nil {
		if errors.Is(err, store.ErrValidation) {
			h.writeErrorResponse(w, http.StatusBadRequest, "invalid device parameters")
			return
		}
		h.logger.Error("device upsert failed", "user", username, "device", deviceID, "error", err)
		h.writeErrorResponse(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.broadcastStatus(r.Context(), username)

	message := "device updated"
	if outcome == service.OutcomeCreated {
		message = "user created and device registered"
	}
	h.writeJSONResponse(w, http.StatusOK, map[string]any{
		"success": true,
		"message": message,
	})
}

// GetStatus handles GET /api/v1/status/{username}
func (h *PresenceHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	username := mux.Vars(r)["username"]
	if username == "" {
		h.writeErrorResponse(w, http.StatusBadRequest, "username is required")
		return
	}

	payload, err := h.service.BuildStatus(r.Context(), username)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			h.writeErrorResponse(w, http.StatusNotFound, "user not found")
			return
		}
		h.logger.Error("status build failed", "user", username, "error", err)
		h.writeErrorResponse(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.writeJSONResponse(w, http.StatusOK, models.StatusResponse{
		Success: true,
		Data:    &payload,
	})
}

// broadcastStatus rebuilds a user's payload and fans it out. Broadcast
// problems never fail the originating request.
func (h *PresenceHandler) broadcastStatus(ctx context.Context, username string) {
	payload, err := h.service.BuildStatus(ctx, username)
	if err != nil {
		h.logger.Error("skipping broadcast, status build failed", "user", username, "error", err)
		return
	}
	if err := h.hub.Broadcast(payload); err != nil {
		h.logger.Error("broadcast failed", "user", username, "error", err)
	}
}

// writeJSONResponse writes a JSON response
func (h *PresenceHandler) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// writeErrorResponse writes an error response
func (h *PresenceHandler) writeErrorResponse(w http.ResponseWriter, statusCode int, message string) {
	h.writeJSONResponse(w, statusCode, models.StatusResponse{
		Success: false,
		Error:   message,
	})
}

// ensure the concrete hub satisfies the handler-side contract
var _ Broadcaster = (*hub.Hub)(nil)
