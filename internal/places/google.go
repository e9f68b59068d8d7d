package places

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/afyalink/triage-router/internal/model"
)

const (
	defaultPlacesURL = "https://places.googleapis.com/v1/places:searchNearby"
	fieldMask        = "places.displayName,places.formattedAddress,places.location,places.nationalPhoneNumber"
	maxResultCount   = 20
)

// GoogleClient queries the Google Places "searchNearby" endpoint.
type GoogleClient struct {
	apiKey     string
	endpoint   string
	httpClient *http.Client
}

var _ Provider = (*GoogleClient)(nil)

// NewGoogleClient creates a Places client with a per-request timeout.
func NewGoogleClient(apiKey string, timeout time.Duration) *GoogleClient {
	return &GoogleClient{
		apiKey:     apiKey,
		endpoint:   defaultPlacesURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type latLng struct {
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
}

type nearbyRequest struct {
	IncludedTypes       []string `json:"includedTypes"`
	MaxResultCount      int      `json:"maxResultCount"`
	LocationRestriction struct {
		Circle struct {
			Center latLng  `json:"center"`
			Radius float64 `json:"radius"`
		} `json:"circle"`
	} `json:"locationRestriction"`
}

type nearbyResponse struct {
	Places []struct {
		DisplayName *struct {
			Text string `json:"text"`
		} `json:"displayName"`
		FormattedAddress    string  `json:"formattedAddress"`
		Location            *latLng `json:"location"`
		NationalPhoneNumber string  `json:"nationalPhoneNumber"`
	} `json:"places"`
}

// placeType maps a facility kind onto a Places type. Places has no health
// center type, so those searches use hospital.
func placeType(kind model.FacilityKind) (string, model.FacilityKind) {
	if kind == model.KindClinic {
		return "doctor", model.KindClinic
	}
	return "hospital", model.KindHospital
}

// SearchNearby returns places of the given kind within radiusKm of the point.
func (c *GoogleClient) SearchNearby(ctx context.Context, lat, lng, radiusKm float64, kind model.FacilityKind, limit int) ([]model.FacilityRecord, error) {
	if limit <= 0 || limit > maxResultCount {
		limit = maxResultCount
	}
	includedType, recordKind := placeType(kind)

	var body nearbyRequest
	body.IncludedTypes = []string{includedType}
	body.MaxResultCount = limit
	body.LocationRestriction.Circle.Center = latLng{Latitude: &lat, Longitude: &lng}
	body.LocationRestriction.Circle.Radius = radiusKm * 1000

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal places request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build places request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Goog-Api-Key", c.apiKey)
	req.Header.Set("X-Goog-FieldMask", fieldMask)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: places: %v", model.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: places returned %d: %s", model.ErrUpstream, resp.StatusCode, snippet)
	}

	var parsed nearbyResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("%w: places response: %v", model.ErrUpstream, err)
	}

	out := make([]model.FacilityRecord, 0, len(parsed.Places))
	for _, p := range parsed.Places {
		name := p.FormattedAddress
		if p.DisplayName != nil && p.DisplayName.Text != "" {
			name = p.DisplayName.Text
		}
		if name == "" {
			name = "Hospital"
		}

		rec := model.FacilityRecord{
			Name:    name,
			Address: p.FormattedAddress,
			Kind:    recordKind,
			Active:  true,
			Source:  model.SourceExternal,
		}
		if p.NationalPhoneNumber != "" {
			phone := p.NationalPhoneNumber
			rec.Phone = &phone
		}
		if p.Location != nil && p.Location.Latitude != nil && p.Location.Longitude != nil {
			rec.Latitude, rec.Longitude = p.Location.Latitude, p.Location.Longitude
		}
		out = append(out, rec)
	}

	return out, nil
}
