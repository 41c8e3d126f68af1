package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/gorilla/websocket"

	"circflow/internal/config"
	apierrors "circflow/internal/errors"
	"circflow/internal/infrastructure"
	custommw "circflow/internal/middleware"
	ws "circflow/internal/websocket"
)

// RouterDeps carries everything the HTTP surface is built from.
type RouterDeps struct {
	Config    *config.Config
	Logger    *slog.Logger
	Metrics   *infrastructure.Metrics
	Service   PassService
	Scorer    EquilibriumScorer
	Warehouse Pinger
	Hub       *ws.Hub
}

// NewRouter assembles the full middleware chain and route tree.
func NewRouter(deps RouterDeps) chi.Router {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(custommw.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(custommw.Recoverer(logger))
	r.Use(render.SetContentType(render.ContentTypeJSON))

	health := NewHealthHandler(deps.Warehouse, logger)
	r.Get("/healthz", health.Liveness)
	r.Get("/healthz/ready", health.Readiness)

	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())
	}

	if deps.Hub != nil {
		r.Get("/ws", serveWebSocket(deps.Hub, deps.Config, logger))
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(custommw.StructuredLogger(logger))
		if deps.Metrics != nil {
			r.Use(custommw.Metrics(deps.Metrics))
		}
		if deps.Config != nil && deps.Config.Security.RateLimitRPS > 0 {
			limiter := custommw.NewRateLimiter(
				deps.Config.Security.RateLimitRPS,
				deps.Config.Security.RateLimitBurst,
				logger)
			r.Use(limiter.Handler)
		}

		r.Mount("/operations", NewOperationsHandler(deps.Service, logger).Routes())
		r.Mount("/reports", NewReportsHandler(deps.Scorer, deps.Service, logger).Routes())
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.ErrNotFound))
	})

	return r
}

// serveWebSocket upgrades dashboard connections and hands them to the
// hub.
func serveWebSocket(hub *ws.Hub, cfg *config.Config, logger *slog.Logger) http.HandlerFunc {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		// Progress snapshots are not sensitive; dashboards connect
		// cross-origin in development.
		CheckOrigin: func(*http.Request) bool { return true },
	}
	var ping, pong time.Duration
	if cfg != nil {
		if cfg.WebSocket.ReadBufferSize > 0 {
			upgrader.ReadBufferSize = cfg.WebSocket.ReadBufferSize
		}
		if cfg.WebSocket.WriteBufferSize > 0 {
			upgrader.WriteBufferSize = cfg.WebSocket.WriteBufferSize
		}
		ping = cfg.WebSocket.PingPeriod
		pong = cfg.WebSocket.PongWait
	}

	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.WarnContext(r.Context(), "websocket_upgrade_failed",
				slog.String("remote_addr", r.RemoteAddr),
				slog.String("error", err.Error()))
			return
		}
		ws.ServeWSTimed(hub, conn, ping, pong)
	}
}
