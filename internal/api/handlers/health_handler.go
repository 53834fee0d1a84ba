package handlers

import (
	"context"
	"net/http"
	"time"
)

// HealthChecker проверка зависимостей
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// HealthHandler GET /health
type HealthHandler struct {
	store   HealthChecker
	started time.Time
}

// NewHealthHandler создает handler
func NewHealthHandler(store HealthChecker) *HealthHandler {
	return &HealthHandler{store: store, started: time.Now()}
}

type healthResponse struct {
	Status string `json:"status"`
	Store  string `json:"store"`
	Uptime string `json:"uptime"`
}

// Health 200 если хранилище доступно, иначе 503
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := healthResponse{Status: "ok", Store: "ok", Uptime: time.Since(h.started).Truncate(time.Second).String()}
	status := http.StatusOK
	if err := h.store.Ping(ctx); err != nil {
		resp.Status = "degraded"
		resp.Store = err.Error()
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}
