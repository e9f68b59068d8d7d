// Package handler provides HTTP handlers for the API.
package handler

import (
	"net/http"

	"github.com/afyalink/triage-router/internal/middleware"
	"github.com/afyalink/triage-router/internal/model"
	"github.com/afyalink/triage-router/internal/service"
	"github.com/afyalink/triage-router/pkg/logger"
)

// TriageHandler handles the conversational and quick-form triage endpoints.
type TriageHandler struct {
	triage    *service.TriageService
	quickForm *service.QuickFormService
	logger    *logger.Logger
}

// NewTriageHandler creates a new triage handler.
func NewTriageHandler(triage *service.TriageService, quickForm *service.QuickFormService, log *logger.Logger) *TriageHandler {
	return &TriageHandler{
		triage:    triage,
		quickForm: quickForm,
		logger:    log,
	}
}

// Chat handles POST /api/v1/assessment/chat
func (h *TriageHandler) Chat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	var req model.TurnRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeServiceError(w, h.logger, err, "")
		return
	}
	if err := middleware.ValidateTurnRequest(&req); err != nil {
		writeServiceError(w, h.logger, err, "")
		return
	}

	res, err := h.triage.SubmitTurn(ctx, userID, &req)
	if err != nil {
		writeServiceError(w, h.logger, err, "chat failed")
		return
	}

	writeJSON(w, http.StatusOK, res)
}

// QuickForm handles POST /api/v1/triage
func (h *TriageHandler) QuickForm(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	var req model.QuickFormRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeServiceError(w, h.logger, err, "")
		return
	}

	res, err := h.quickForm.Assess(ctx, userID, &req)
	if err != nil {
		writeServiceError(w, h.logger, err, "assessment failed")
		return
	}

	writeJSON(w, http.StatusOK, res)
}
