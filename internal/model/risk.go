// Package model defines data structures for the triage platform.
package model

import (
	"fmt"
	"strings"
)

// RiskLevel is the urgency tier produced by triage.
type RiskLevel string

const (
	RiskLow       RiskLevel = "low"
	RiskMedium    RiskLevel = "medium"
	RiskHigh      RiskLevel = "high"
	RiskEmergency RiskLevel = "emergency"
)

// RiskLevels lists every valid tier, least urgent first.
var RiskLevels = []RiskLevel{RiskLow, RiskMedium, RiskHigh, RiskEmergency}

// ParseRiskLevel converts a tier word to a RiskLevel, ignoring case and
// surrounding whitespace.
func ParseRiskLevel(s string) (RiskLevel, error) {
	switch RiskLevel(strings.ToLower(strings.TrimSpace(s))) {
	case RiskLow:
		return RiskLow, nil
	case RiskMedium:
		return RiskMedium, nil
	case RiskHigh:
		return RiskHigh, nil
	case RiskEmergency:
		return RiskEmergency, nil
	}
	return "", fmt.Errorf("%w: unknown risk level %q", ErrInvalidInput, s)
}

// Valid reports whether r belongs to the closed set of tiers.
func (r RiskLevel) Valid() bool {
	_, err := ParseRiskLevel(string(r))
	return err == nil
}

// MaxRecommendations bounds the recommendations stored with a verdict.
const MaxRecommendations = 4

// Verdict is the risk tier and recommendations extracted from a triage.
type Verdict struct {
	RiskLevel       RiskLevel `json:"risk_level"`
	Recommendations []string  `json:"recommendations"`
}

// Severity is the self-reported severity on the quick form.
type Severity string

const (
	SeverityMild     Severity = "mild"
	SeverityModerate Severity = "moderate"
	SeveritySevere   Severity = "severe"
	SeverityCritical Severity = "critical"
)

// ParseSeverity accepts an empty string (not reported) or one of the four
// severities, ignoring case.
func ParseSeverity(s string) (Severity, error) {
	sev := Severity(strings.ToLower(strings.TrimSpace(s)))
	switch sev {
	case "", SeverityMild, SeverityModerate, SeveritySevere, SeverityCritical:
		return sev, nil
	}
	return "", fmt.Errorf("%w: unknown severity %q", ErrInvalidInput, s)
}
