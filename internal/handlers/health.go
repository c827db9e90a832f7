package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// ReadinessChecker reports whether the backing store is reachable
type ReadinessChecker interface {
	Ready(ctx context.Context) error
}

// HealthHandler serves liveness and readiness probes. Liveness only
// says the process is up; readiness additionally proves a store
// round-trip.
type HealthHandler struct {
	checker   ReadinessChecker
	startedAt time.Time
}

func NewHealthHandler(checker ReadinessChecker) *HealthHandler {
	return &HealthHandler{checker: checker, startedAt: time.Now()}
}

func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status": "ok",
		"uptime": time.Since(h.startedAt).Round(time.Second).String(),
	})
}

func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if h.checker != nil {
		if err := h.checker.Ready(ctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"status": "unready",
				"store":  err.Error(),
			})
			return
		}
	}
	_ = json.NewEncoder(w).Encode(map[string]any{"status": "ready"})
}
