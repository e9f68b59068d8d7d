package service

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/afyalink/triage-router/internal/geo"
	"github.com/afyalink/triage-router/internal/model"
	"github.com/afyalink/triage-router/internal/places"
	"github.com/afyalink/triage-router/internal/store"
	"github.com/afyalink/triage-router/pkg/logger"
	"github.com/afyalink/triage-router/pkg/metrics"
)

const (
	DefaultFacilityLimit = 10
	MaxFacilityLimit     = 20

	internalCandidateLimit = 50
	matchCandidateLimit    = 20
	dedupAddressRunes      = 30
	defaultSearchRadiusKm  = 25
)

var tracer = otel.Tracer("github.com/afyalink/triage-router/internal/service")

// NearestQuery describes a nearest-facility lookup.
type NearestQuery struct {
	Latitude  float64
	Longitude float64

	// Kinds restricts results. Empty means any kind.
	Kinds []model.FacilityKind
	Limit int

	// SkipExternal leaves the external provider out of the lookup.
	SkipExternal bool
}

// FacilityService finds and ranks facilities from the internal directory and
// an optional external provider.
type FacilityService struct {
	store    store.FacilityStore
	places   places.Provider
	radiusKm float64
	logger   *logger.Logger
}

// NewFacilityService creates a facility service. provider may be nil.
func NewFacilityService(facilities store.FacilityStore, provider places.Provider, log *logger.Logger) *FacilityService {
	return &FacilityService{
		store:    facilities,
		places:   provider,
		radiusKm: defaultSearchRadiusKm,
		logger:   log,
	}
}

// SetSearchRadius overrides the external search radius.
func (s *FacilityService) SetSearchRadius(km float64) {
	if km > 0 {
		s.radiusKm = km
	}
}

// FindNearest merges both sources and returns the closest matching
// facilities. Source failures are logged and absorbed, so an empty result is
// never an error.
func (s *FacilityService) FindNearest(ctx context.Context, q NearestQuery) []model.RankedFacility {
	ctx, span := tracer.Start(ctx, "FacilityService.FindNearest", trace.WithAttributes(
		attribute.Int("limit", q.Limit),
		attribute.Bool("skip_external", q.SkipExternal),
	))
	defer span.End()

	limit := q.Limit
	if limit <= 0 {
		limit = DefaultFacilityLimit
	}
	if limit > MaxFacilityLimit {
		limit = MaxFacilityLimit
	}

	var (
		internal []model.FacilityRecord
		external []model.FacilityRecord
		g        errgroup.Group
	)

	if s.store != nil {
		g.Go(func() error {
			recs, err := s.store.ListActiveGeolocated(ctx, internalCandidateLimit)
			if err != nil {
				s.logger.Warn("internal facility lookup failed", zap.Error(err))
				metrics.FacilitySourceErrors.WithLabelValues(string(model.SourceInternal)).Inc()
				return nil
			}
			internal = recs
			return nil
		})
	}
	if s.places != nil && !q.SkipExternal {
		kind := externalKind(q.Kinds)
		g.Go(func() error {
			recs, err := s.places.SearchNearby(ctx, q.Latitude, q.Longitude, s.radiusKm, kind, limit)
			if err != nil {
				s.logger.Warn("external facility lookup failed", zap.Error(err))
				metrics.FacilitySourceErrors.WithLabelValues(string(model.SourceExternal)).Inc()
				return nil
			}
			external = recs
			return nil
		})
	}
	_ = g.Wait()

	ranked := rankByDistance(q.Latitude, q.Longitude, mergeFacilities(internal, external), q.Kinds)
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}

	span.SetAttributes(
		attribute.Int("internal_candidates", len(internal)),
		attribute.Int("external_candidates", len(external)),
		attribute.Int("results", len(ranked)),
	)
	metrics.FacilitiesReturned.Observe(float64(len(ranked)))
	return ranked
}

// externalKind picks the single category the external provider is asked for.
func externalKind(kinds []model.FacilityKind) model.FacilityKind {
	if len(kinds) == 0 {
		return model.KindHospital
	}
	for _, k := range kinds {
		if k != model.KindClinic {
			return model.KindHospital
		}
	}
	return model.KindClinic
}

// mergeFacilities concatenates sources in order and keeps the first record
// for each name/address key.
func mergeFacilities(sources ...[]model.FacilityRecord) []model.FacilityRecord {
	seen := make(map[string]struct{})
	var out []model.FacilityRecord
	for _, recs := range sources {
		for _, f := range recs {
			key := dedupKey(f)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, f)
		}
	}
	return out
}

func dedupKey(f model.FacilityRecord) string {
	addr := []rune(strings.ToLower(f.Address))
	if len(addr) > dedupAddressRunes {
		addr = addr[:dedupAddressRunes]
	}
	return strings.ToLower(f.Name) + "-" + string(addr)
}

func rankByDistance(lat, lng float64, recs []model.FacilityRecord, kinds []model.FacilityKind) []model.RankedFacility {
	ranked := make([]model.RankedFacility, 0, len(recs))
	for _, f := range recs {
		if !f.Located() || !f.Active {
			continue
		}
		if len(kinds) > 0 && !containsKind(kinds, f.Kind) {
			continue
		}
		km := geo.DistanceKm(lat, lng, *f.Latitude, *f.Longitude)
		ranked = append(ranked, model.RankedFacility{
			FacilityRecord: f,
			DistanceKm:     geo.RoundKm(km),
			DistanceText:   geo.FormatDistance(km),
		})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].DistanceKm < ranked[j].DistanceKm
	})
	return ranked
}

func containsKind(kinds []model.FacilityKind, k model.FacilityKind) bool {
	for _, want := range kinds {
		if want == k {
			return true
		}
	}
	return false
}

// suitability scores a facility kind for a risk tier. Higher is better.
func suitability(risk model.RiskLevel, kind model.FacilityKind) int {
	switch risk {
	case model.RiskEmergency, model.RiskHigh:
		switch kind {
		case model.KindHospital:
			return 3
		case model.KindHealthCenter:
			return 2
		default:
			return 1
		}
	case model.RiskMedium:
		switch kind {
		case model.KindHealthCenter:
			return 3
		case model.KindClinic:
			return 2
		default:
			return 1
		}
	default:
		if kind == model.KindClinic {
			return 3
		}
		return 2
	}
}

// RankForRisk orders candidates by how well their kind suits the risk tier.
// Ties keep their input order. The input slice is not modified.
func RankForRisk(risk model.RiskLevel, candidates []model.FacilityRecord) []model.FacilityRecord {
	out := append([]model.FacilityRecord(nil), candidates...)
	sort.SliceStable(out, func(i, j int) bool {
		return suitability(risk, out[i].Kind) > suitability(risk, out[j].Kind)
	})
	return out
}

var matchHints = map[model.RiskLevel]string{
	model.RiskEmergency: "We recommend hospitals or health centers for your risk level.",
	model.RiskHigh:      "We recommend hospitals or health centers for your risk level.",
	model.RiskMedium:    "Health centers or clinics are a good fit.",
	model.RiskLow:       "A nearby clinic can help if symptoms persist.",
}

// demoFacilities stands in when the directory has nothing to offer.
var demoFacilities = []model.FacilityRecord{
	{ID: "demo-1", Name: "Rural Health Center - Mtwara", Address: "Mtwara District, Tanzania", Phone: strPtr("+255 23 123 4567"), Kind: model.KindHealthCenter, Active: true, Source: model.SourceInternal},
	{ID: "demo-2", Name: "Kilimanjaro Community Clinic", Address: "Moshi, Kilimanjaro Region", Phone: strPtr("+255 27 275 1234"), Kind: model.KindClinic, Active: true, Source: model.SourceInternal},
	{ID: "demo-3", Name: "Kisumu District Hospital", Address: "Kisumu, Kenya", Phone: strPtr("+254 57 202 3456"), Kind: model.KindHospital, Active: true, Source: model.SourceInternal},
}

// MatchForRisk ranks active directory facilities for a risk tier. When the
// directory is empty or unreachable a fixed demo list is ranked instead.
func (s *FacilityService) MatchForRisk(ctx context.Context, risk model.RiskLevel) (*model.MatchResult, error) {
	if risk == "" {
		risk = model.RiskLow
	}
	if !risk.Valid() {
		return nil, fmt.Errorf("%w: unknown risk level %q", model.ErrInvalidInput, risk)
	}

	var candidates []model.FacilityRecord
	if s.store != nil {
		recs, err := s.store.ListActive(ctx, matchCandidateLimit)
		if err != nil {
			s.logger.Warn("facility directory unavailable, using demo list", zap.Error(err))
			metrics.FacilitySourceErrors.WithLabelValues(string(model.SourceInternal)).Inc()
		}
		candidates = recs
	}
	if len(candidates) == 0 {
		candidates = demoFacilities
	}

	return &model.MatchResult{
		Facilities: RankForRisk(risk, candidates),
		MatchHint:  matchHints[risk],
	}, nil
}

func strPtr(s string) *string {
	return &s
}
