package http

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	apierrors "circflow/internal/errors"
	"circflow/internal/operations"
)

// PassService is the slice of the operations manager the HTTP surface
// needs.
type PassService interface {
	Start(ctx context.Context, req operations.PassRequest) (string, error)
	Pass(id string) (*operations.PassResponse, error)
	Passes() []*operations.PassResponse
	Cancel(id string) error
}

// OperationsHandler serves the pass lifecycle endpoints.
type OperationsHandler struct {
	service PassService
	logger  *slog.Logger
}

// NewOperationsHandler creates the operations handler.
func NewOperationsHandler(service PassService, logger *slog.Logger) *OperationsHandler {
	if service == nil {
		panic("service cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OperationsHandler{
		service: service,
		logger:  logger.With(slog.String("handler", "operations")),
	}
}

// Routes mounts the pass endpoints.
func (h *OperationsHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.Create)
	r.Get("/", h.List)
	r.Get("/{id}", h.Get)
	r.Post("/{id}/cancel", h.CancelPass)
	return r
}

// CreatePassRequest is the body of POST /api/operations. An empty or
// absent stage list runs the full pipeline.
type CreatePassRequest struct {
	Stages []string `json:"stages,omitempty"`
}

// Bind implements render.Binder.
func (r *CreatePassRequest) Bind(*http.Request) error {
	for _, id := range r.Stages {
		if id == "" {
			return apierrors.ErrValidation("stages", "stage IDs must be non-empty")
		}
	}
	return nil
}

// CreatePassResponse acknowledges an accepted pass.
type CreatePassResponse struct {
	ID     string                `json:"id"`
	Status operations.PassStatus `json:"status"`
}

// Create handles POST /api/operations. The pass runs in the background;
// progress streams over the websocket and the response carries the pass
// ID for polling.
func (h *OperationsHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	req := &CreatePassRequest{}
	if r.Body != nil && r.ContentLength != 0 {
		if err := render.Bind(r, req); err != nil {
			if _, ok := err.(*apierrors.APIError); !ok {
				err = apierrors.InvalidRequestWithError(err)
			}
			h.renderError(w, r, err)
			return
		}
	}

	id, err := h.service.Start(ctx, operations.PassRequest{Stages: req.Stages})
	if err != nil {
		h.renderError(w, r, err)
		return
	}

	h.logger.InfoContext(ctx, "pass_accepted",
		slog.String("pass_id", id),
		slog.Any("stages", req.Stages))

	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, CreatePassResponse{ID: id, Status: operations.PassStatusRunning})
}

// List handles GET /api/operations, newest pass first.
func (h *OperationsHandler) List(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, h.service.Passes())
}

// Get handles GET /api/operations/{id}.
func (h *OperationsHandler) Get(w http.ResponseWriter, r *http.Request) {
	resp, err := h.service.Pass(chi.URLParam(r, "id"))
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	render.JSON(w, r, resp)
}

// CancelPass handles POST /api/operations/{id}/cancel. Cancellation
// takes effect at the next stage boundary.
func (h *OperationsHandler) CancelPass(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.service.Cancel(id); err != nil {
		h.renderError(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "pass_cancel_requested", slog.String("pass_id", id))
	render.JSON(w, r, map[string]string{"id": id, "status": "cancelling"})
}

func (h *OperationsHandler) renderError(w http.ResponseWriter, r *http.Request, err error) {
	apiErr := apierrors.FromError(err)
	if apiErr.StatusCode >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "request_failed",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()))
	}
	render.Render(w, r, apierrors.NewErrorResponse(apiErr))
}
