// Package places provides the external nearby-facility provider.
package places

import (
	"context"

	"github.com/afyalink/triage-router/internal/model"
)

// Provider searches an external directory for facilities near a point.
type Provider interface {
	SearchNearby(ctx context.Context, lat, lng, radiusKm float64, kind model.FacilityKind, limit int) ([]model.FacilityRecord, error)
}
