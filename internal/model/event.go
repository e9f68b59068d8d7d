package model

import (
	"time"
)

// AlertStatus is the lifecycle state of an emergency alert.
type AlertStatus string

// AlertPending is the state of a newly raised alert. Downstream responders
// own every later state.
const AlertPending AlertStatus = "pending"

// EmergencyAlert is raised when a triage conversation closes as an emergency.
type EmergencyAlert struct {
	ID           string           `json:"id"`
	UserID       string           `json:"user_id"`
	AssessmentID string           `json:"assessment_id"`
	Message      string           `json:"message"`
	Status       AlertStatus      `json:"status"`
	Facilities   []RankedFacility `json:"facilities,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
}
