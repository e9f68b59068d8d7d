// Package store provides persistence for assessments, turns and facilities.
package store

import (
	"context"

	"github.com/afyalink/triage-router/internal/model"
)

// AssessmentStore persists triage sessions.
type AssessmentStore interface {
	Create(ctx context.Context, a *model.Assessment) error
	Get(ctx context.Context, id string) (*model.Assessment, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]model.Assessment, error)

	// SetVerdict closes an open assessment. It reports false when the
	// assessment already had a verdict, leaving the stored one untouched.
	SetVerdict(ctx context.Context, id string, v model.Verdict, summary string) (bool, error)
}

// TurnStore is the append-only conversation log.
type TurnStore interface {
	Append(ctx context.Context, turn *model.Turn) error

	// List returns turns in insertion order.
	List(ctx context.Context, assessmentID string) ([]model.Turn, error)
}

// FacilityStore is read-only access to the facility directory.
type FacilityStore interface {
	ListActiveGeolocated(ctx context.Context, limit int) ([]model.FacilityRecord, error)
	ListActive(ctx context.Context, limit int) ([]model.FacilityRecord, error)
}
