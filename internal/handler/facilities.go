package handler

import (
	"net/http"

	"github.com/afyalink/triage-router/internal/middleware"
	"github.com/afyalink/triage-router/internal/model"
	"github.com/afyalink/triage-router/internal/service"
	"github.com/afyalink/triage-router/pkg/logger"
)

// FacilityHandler handles facility lookup endpoints.
type FacilityHandler struct {
	service *service.FacilityService
	logger  *logger.Logger
}

// NewFacilityHandler creates a new facility handler.
func NewFacilityHandler(svc *service.FacilityService, log *logger.Logger) *FacilityHandler {
	return &FacilityHandler{
		service: svc,
		logger:  log,
	}
}

func (h *FacilityHandler) location(r *http.Request) (float64, float64, error) {
	lat, err := queryFloat(r, "lat")
	if err != nil {
		return 0, 0, err
	}
	lng, err := queryFloat(r, "lng")
	if err != nil {
		return 0, 0, err
	}
	if err := middleware.ValidateCoordinates(lat, lng); err != nil {
		return 0, 0, err
	}
	return lat, lng, nil
}

// NearbyClinics handles GET /api/v1/clinics/nearby
func (h *FacilityHandler) NearbyClinics(w http.ResponseWriter, r *http.Request) {
	lat, lng, err := h.location(r)
	if err != nil {
		writeServiceError(w, h.logger, err, "")
		return
	}

	q := service.NearestQuery{
		Latitude:     lat,
		Longitude:    lng,
		Limit:        queryInt(r, "limit", service.MaxFacilityLimit),
		SkipExternal: true,
	}
	if t := r.URL.Query().Get("type"); t != "" {
		kind, err := model.ParseFacilityKind(t)
		if err != nil {
			writeServiceError(w, h.logger, err, "")
			return
		}
		q.Kinds = []model.FacilityKind{kind}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"clinics": h.service.FindNearest(r.Context(), q),
	})
}

// NearbyHospitals handles GET /api/v1/hospitals/nearby
func (h *FacilityHandler) NearbyHospitals(w http.ResponseWriter, r *http.Request) {
	lat, lng, err := h.location(r)
	if err != nil {
		writeServiceError(w, h.logger, err, "")
		return
	}

	hospitals := h.service.FindNearest(r.Context(), service.NearestQuery{
		Latitude:     lat,
		Longitude:    lng,
		Kinds:        []model.FacilityKind{model.KindHospital, model.KindHealthCenter},
		Limit:        queryInt(r, "limit", service.DefaultFacilityLimit),
		SkipExternal: r.URL.Query().Get("places") == "false",
	})

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"hospitals": hospitals,
	})
}

// MatchRequest is the body of a facility match request.
type MatchRequest struct {
	RiskLevel string `json:"risk_level"`
}

// Match handles POST /api/v1/clinics/match
func (h *FacilityHandler) Match(w http.ResponseWriter, r *http.Request) {
	var req MatchRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			writeServiceError(w, h.logger, err, "")
			return
		}
	}

	var risk model.RiskLevel
	if req.RiskLevel != "" {
		parsed, err := model.ParseRiskLevel(req.RiskLevel)
		if err != nil {
			writeServiceError(w, h.logger, err, "")
			return
		}
		risk = parsed
	}

	res, err := h.service.MatchForRisk(r.Context(), risk)
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to match facilities")
		return
	}

	writeJSON(w, http.StatusOK, res)
}
