package model

import (
	"time"
)

// Role represents the author of a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Assessment identifies one triage session.
type Assessment struct {
	ID                  string     `json:"id"`
	UserID              string     `json:"user_id"`
	Symptoms            string     `json:"symptoms"`
	BodyRegions         []string   `json:"body_regions,omitempty"`
	RiskLevel           RiskLevel  `json:"risk_level"`
	Recommendations     []string   `json:"recommendations"`
	ConversationSummary string     `json:"conversation_summary,omitempty"`
	Closed              bool       `json:"closed"`
	CreatedAt           time.Time  `json:"created_at"`
	VerdictAt           *time.Time `json:"verdict_at,omitempty"`
}

// Verdict returns the stored verdict, or nil while the assessment is open.
func (a *Assessment) Verdict() *Verdict {
	if !a.Closed {
		return nil
	}
	return &Verdict{RiskLevel: a.RiskLevel, Recommendations: a.Recommendations}
}

// Turn is one message in a triage conversation. Turns are append-only.
type Turn struct {
	ID           string         `json:"id"`
	AssessmentID string         `json:"assessment_id"`
	Role         Role           `json:"role"`
	Content      string         `json:"content"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`

	// Sequence is populated on read by stores that provide one.
	Sequence uint64 `json:"sequence,omitempty"`
}

// ChatTurn is the role/content shape shared by caller history and prompts.
type ChatTurn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// TurnRequest is the request to submit one user message.
type TurnRequest struct {
	AssessmentID string     `json:"assessment_id,omitempty"`
	Message      string     `json:"message"`
	History      []ChatTurn `json:"history,omitempty"`
	BodyRegions  []string   `json:"body_regions,omitempty"`
	Latitude     *float64   `json:"user_lat,omitempty"`
	Longitude    *float64   `json:"user_lng,omitempty"`
}

// HasLocation reports whether the request carries a usable location hint.
func (r *TurnRequest) HasLocation() bool {
	return r.Latitude != nil && r.Longitude != nil
}

// TurnResult is the outcome of one submitted turn.
type TurnResult struct {
	Reply             string           `json:"reply"`
	AssessmentID      string           `json:"assessment_id"`
	Closed            bool             `json:"complete"`
	RiskLevel         RiskLevel        `json:"risk_level,omitempty"`
	Recommendations   []string         `json:"recommendations,omitempty"`
	NearestFacilities []RankedFacility `json:"emergency_hospitals,omitempty"`
}

// QuickFormRequest is a structured, non-conversational intake.
type QuickFormRequest struct {
	Symptoms []string `json:"symptoms"`
	Severity string   `json:"severity"`
	Duration string   `json:"duration"`
	Details  string   `json:"details"`
}

// QuickFormResult is the outcome of a quick-form assessment.
type QuickFormResult struct {
	AssessmentID    string    `json:"assessment_id"`
	RiskLevel       RiskLevel `json:"risk_level"`
	Recommendations []string  `json:"recommendations"`
}

// AssessmentSummary is a list entry for a user's assessment history.
type AssessmentSummary struct {
	ID        string    `json:"id"`
	RiskLevel RiskLevel `json:"risk_level"`
	Symptoms  string    `json:"symptoms"`
	Closed    bool      `json:"closed"`
	CreatedAt time.Time `json:"created_at"`
}

// ListAssessmentsResponse is the response for listing assessments.
type ListAssessmentsResponse struct {
	Assessments []AssessmentSummary `json:"assessments"`
}
