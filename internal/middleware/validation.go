package middleware

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/afyalink/triage-router/internal/geo"
	"github.com/afyalink/triage-router/internal/model"
)

const (
	MaxMessageLength    = 4000
	MaxBodyRegions      = 20
	MaxBodyRegionLength = 64
	MaxHistoryTurns     = 100
)

// ValidateMessage validates a user message.
func ValidateMessage(content string) error {
	if strings.TrimSpace(content) == "" {
		return fmt.Errorf("%w: message cannot be empty", model.ErrInvalidInput)
	}
	if utf8.RuneCountInString(content) > MaxMessageLength {
		return fmt.Errorf("%w: message exceeds maximum length", model.ErrInvalidInput)
	}
	if !utf8.ValidString(content) {
		return fmt.Errorf("%w: message must be valid UTF-8", model.ErrInvalidInput)
	}
	return nil
}

// ValidateAssessmentID validates an assessment ID.
func ValidateAssessmentID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("%w: invalid assessment ID format", model.ErrInvalidInput)
	}
	return nil
}

// ValidateCoordinates validates a latitude/longitude pair.
func ValidateCoordinates(lat, lng float64) error {
	if !geo.ValidCoordinates(lat, lng) {
		return fmt.Errorf("%w: coordinates out of range", model.ErrInvalidInput)
	}
	return nil
}

// ValidateBodyRegions validates body-region hints.
func ValidateBodyRegions(regions []string) error {
	if len(regions) > MaxBodyRegions {
		return fmt.Errorf("%w: too many body regions", model.ErrInvalidInput)
	}
	for _, r := range regions {
		if len(r) > MaxBodyRegionLength {
			return fmt.Errorf("%w: body region exceeds maximum length", model.ErrInvalidInput)
		}
	}
	return nil
}

// ValidateTurnRequest validates a chat turn request.
func ValidateTurnRequest(req *model.TurnRequest) error {
	if err := ValidateMessage(req.Message); err != nil {
		return err
	}
	if req.AssessmentID != "" {
		if err := ValidateAssessmentID(req.AssessmentID); err != nil {
			return err
		}
	}
	if len(req.History) > MaxHistoryTurns {
		return fmt.Errorf("%w: history too long", model.ErrInvalidInput)
	}
	if err := ValidateBodyRegions(req.BodyRegions); err != nil {
		return err
	}
	if (req.Latitude == nil) != (req.Longitude == nil) {
		return fmt.Errorf("%w: both user_lat and user_lng are required", model.ErrInvalidInput)
	}
	if req.HasLocation() {
		return ValidateCoordinates(*req.Latitude, *req.Longitude)
	}
	return nil
}
