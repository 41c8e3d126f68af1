package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	apierrors "circflow/internal/errors"
	"circflow/internal/reconcile"
)

// EquilibriumScorer produces a balance report from the current state of
// the fact store. The equilibrium validator satisfies it; the scorer
// only reads, so serving reports never interferes with a running pass.
type EquilibriumScorer interface {
	Run(ctx context.Context) reconcile.StageReport
}

// ReportsHandler serves equilibrium quality reports for dashboards.
type ReportsHandler struct {
	scorer  EquilibriumScorer
	service PassService
	logger  *slog.Logger
}

// NewReportsHandler creates the reports handler.
func NewReportsHandler(scorer EquilibriumScorer, service PassService, logger *slog.Logger) *ReportsHandler {
	if scorer == nil {
		panic("scorer cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ReportsHandler{
		scorer:  scorer,
		service: service,
		logger:  logger.With(slog.String("handler", "reports")),
	}
}

// Routes mounts the report endpoints.
func (h *ReportsHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.List)
	r.Get("/latest", h.Latest)
	return r
}

// EquilibriumReport is one equilibrium scoring, either snapshotted from
// a pass or computed live against the store.
type EquilibriumReport struct {
	PassID      string                       `json:"pass_id,omitempty"`
	GeneratedAt time.Time                    `json:"generated_at"`
	Source      string                       `json:"source"`
	Findings    []reconcile.Finding          `json:"findings,omitempty"`
	Metrics     reconcile.EquilibriumMetrics `json:"metrics"`
}

const (
	reportSourcePass = "pass"
	reportSourceLive = "live"
)

// Latest handles GET /api/reports/latest. Prefers the newest pass that
// ran the equilibrium stage; with no pass history it scores the store
// directly so dashboards work right after a restart.
func (h *ReportsHandler) Latest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if report, ok := h.latestFromHistory(); ok {
		render.JSON(w, r, report)
		return
	}

	report, err := h.scoreLive(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "live_report_failed", slog.String("error", err.Error()))
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.FromError(err)))
		return
	}
	render.JSON(w, r, report)
}

// List handles GET /api/reports: every equilibrium report in pass
// history, newest first.
func (h *ReportsHandler) List(w http.ResponseWriter, r *http.Request) {
	reports := make([]EquilibriumReport, 0)
	if h.service != nil {
		for _, pass := range h.service.Passes() {
			if report, ok := equilibriumReport(pass.ID, pass.Stages); ok {
				reports = append(reports, report)
			}
		}
	}
	render.JSON(w, r, reports)
}

func (h *ReportsHandler) latestFromHistory() (EquilibriumReport, bool) {
	if h.service == nil {
		return EquilibriumReport{}, false
	}
	for _, pass := range h.service.Passes() {
		if report, ok := equilibriumReport(pass.ID, pass.Stages); ok {
			return report, true
		}
	}
	return EquilibriumReport{}, false
}

func (h *ReportsHandler) scoreLive(ctx context.Context) (EquilibriumReport, error) {
	stage := h.scorer.Run(ctx)
	if stage.Status == reconcile.StatusFailed {
		return EquilibriumReport{}, apierrors.NewWithDetails(
			http.StatusServiceUnavailable, "REPORT_UNAVAILABLE",
			"Equilibrium report could not be computed", stage.Error)
	}
	metrics, ok := stage.Metrics.(reconcile.EquilibriumMetrics)
	if !ok {
		return EquilibriumReport{}, apierrors.ErrInternalServer
	}
	return EquilibriumReport{
		GeneratedAt: metrics.GeneratedAt,
		Source:      reportSourceLive,
		Findings:    stage.Findings,
		Metrics:     metrics,
	}, nil
}

func equilibriumReport(passID string, stages []reconcile.StageReport) (EquilibriumReport, bool) {
	for _, stage := range stages {
		if stage.StageID != reconcile.StageIDEquilibrium {
			continue
		}
		metrics, ok := stage.Metrics.(reconcile.EquilibriumMetrics)
		if !ok {
			return EquilibriumReport{}, false
		}
		return EquilibriumReport{
			PassID:      passID,
			GeneratedAt: metrics.GeneratedAt,
			Source:      reportSourcePass,
			Findings:    stage.Findings,
			Metrics:     metrics,
		}, true
	}
	return EquilibriumReport{}, false
}
