package model

import "fmt"

// FacilityKind is the category of a healthcare facility.
type FacilityKind string

const (
	KindClinic       FacilityKind = "clinic"
	KindHealthCenter FacilityKind = "health_center"
	KindHospital     FacilityKind = "hospital"
)

// ParseFacilityKind validates a facility kind.
func ParseFacilityKind(s string) (FacilityKind, error) {
	switch k := FacilityKind(s); k {
	case KindClinic, KindHealthCenter, KindHospital:
		return k, nil
	}
	return "", fmt.Errorf("%w: unknown facility type %q", ErrInvalidInput, s)
}

// FacilitySource records where a facility record came from.
type FacilitySource string

const (
	SourceInternal FacilitySource = "internal"
	SourceExternal FacilitySource = "external"
)

// FacilityRecord is a clinic, health center or hospital.
type FacilityRecord struct {
	ID        string         `json:"id,omitempty"`
	Name      string         `json:"name"`
	Address   string         `json:"address"`
	Phone     *string        `json:"phone"`
	Latitude  *float64       `json:"latitude,omitempty"`
	Longitude *float64       `json:"longitude,omitempty"`
	Kind      FacilityKind   `json:"type"`
	Active    bool           `json:"active"`
	Source    FacilitySource `json:"source,omitempty"`
}

// Located reports whether the record has both coordinates.
func (f *FacilityRecord) Located() bool {
	return f.Latitude != nil && f.Longitude != nil
}

// RankedFacility is a facility with its computed distance from the user.
type RankedFacility struct {
	FacilityRecord
	DistanceKm   float64 `json:"distance_km"`
	DistanceText string  `json:"distance_text"`
}

// MatchResult is the response for risk-appropriate facility matching.
type MatchResult struct {
	Facilities []FacilityRecord `json:"clinics"`
	MatchHint  string           `json:"match_hint"`
}
