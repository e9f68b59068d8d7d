package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/afyalink/triage-router/internal/middleware"
	"github.com/afyalink/triage-router/internal/service"
	"github.com/afyalink/triage-router/pkg/logger"
)

// AssessmentHandler handles assessment history endpoints.
type AssessmentHandler struct {
	service *service.AssessmentService
	logger  *logger.Logger
}

// NewAssessmentHandler creates a new assessment handler.
func NewAssessmentHandler(svc *service.AssessmentService, log *logger.Logger) *AssessmentHandler {
	return &AssessmentHandler{
		service: svc,
		logger:  log,
	}
}

// List handles GET /api/v1/assessments
func (h *AssessmentHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	limit := queryInt(r, "limit", service.MaxAssessmentList)

	resp, err := h.service.List(ctx, middleware.GetUserID(ctx), limit)
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to list assessments")
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// Get handles GET /api/v1/assessments/{assessmentID}
func (h *AssessmentHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "assessmentID")

	if err := middleware.ValidateAssessmentID(id); err != nil {
		writeServiceError(w, h.logger, err, "")
		return
	}

	a, err := h.service.Get(ctx, middleware.GetUserID(ctx), id)
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to get assessment")
		return
	}

	writeJSON(w, http.StatusOK, a)
}

// Turns handles GET /api/v1/assessments/{assessmentID}/turns
func (h *AssessmentHandler) Turns(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "assessmentID")

	if err := middleware.ValidateAssessmentID(id); err != nil {
		writeServiceError(w, h.logger, err, "")
		return
	}

	turns, err := h.service.Turns(ctx, middleware.GetUserID(ctx), id)
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to get turns")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"turns": turns,
	})
}
