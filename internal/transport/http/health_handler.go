package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/render"
)

// Pinger checks a dependency's connectivity. The MySQL store satisfies
// it; a nil pinger reports the dependency as untracked.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler serves liveness and readiness probes.
type HealthHandler struct {
	warehouse Pinger
	logger    *slog.Logger
	started   time.Time
}

// NewHealthHandler creates the health handler.
func NewHealthHandler(warehouse Pinger, logger *slog.Logger) *HealthHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &HealthHandler{
		warehouse: warehouse,
		logger:    logger.With(slog.String("handler", "health")),
		started:   time.Now().UTC(),
	}
}

// HealthStatus is the probe response body.
type HealthStatus struct {
	Status    string            `json:"status"`
	Uptime    string            `json:"uptime"`
	Checks    map[string]string `json:"checks,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// Liveness handles GET /healthz.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, HealthStatus{
		Status:    "ok",
		Uptime:    time.Since(h.started).Round(time.Second).String(),
		Timestamp: time.Now().UTC(),
	})
}

// Readiness handles GET /healthz/ready: the service is ready when the
// warehouse answers a ping.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := HealthStatus{
		Status:    "ok",
		Uptime:    time.Since(h.started).Round(time.Second).String(),
		Checks:    map[string]string{"warehouse": "ok"},
		Timestamp: time.Now().UTC(),
	}

	if h.warehouse == nil {
		status.Checks["warehouse"] = "untracked"
	} else if err := h.warehouse.Ping(ctx); err != nil {
		h.logger.WarnContext(ctx, "readiness_check_failed", slog.String("error", err.Error()))
		status.Status = "degraded"
		status.Checks["warehouse"] = err.Error()
		render.Status(r, http.StatusServiceUnavailable)
	}

	render.JSON(w, r, status)
}
