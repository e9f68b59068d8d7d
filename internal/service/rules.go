package service

import (
	"strings"

	"github.com/afyalink/triage-router/internal/model"
)

var (
	emergencySymptoms = []string{"shortness of breath", "chest pain"}
	emergencyPhrases  = []string{"unconscious", "severe bleeding", "can't breathe"}
	highSymptoms      = []string{"fever", "vomiting", "diarrhea", "dizziness"}
	mediumSymptoms    = []string{"cough", "headache", "body aches"}
)

var tierRecommendations = map[model.RiskLevel][]string{
	model.RiskEmergency: {
		"Seek emergency care immediately.",
		"Call local emergency services if available.",
		"Do not delay - this may be life-threatening.",
	},
	model.RiskHigh: {
		"Visit a clinic or hospital within 24-48 hours.",
		"Rest and stay hydrated.",
		"Monitor symptoms - seek care sooner if they worsen.",
	},
	model.RiskMedium: {
		"Consider visiting a clinic if symptoms persist beyond a few days.",
		"Rest and drink plenty of fluids.",
		"Use over-the-counter relief if appropriate and available.",
	},
	model.RiskLow: {
		"Monitor your symptoms at home.",
		"Rest and stay hydrated.",
		"Visit a clinic if symptoms persist or worsen.",
	},
}

// DefaultRecommendations returns a copy of the fixed advice for a tier.
func DefaultRecommendations(risk model.RiskLevel) []string {
	recs, ok := tierRecommendations[risk]
	if !ok {
		recs = tierRecommendations[model.RiskLow]
	}
	return append([]string(nil), recs...)
}

// RuleBasedTriage classifies structured intake without a model. Rules are
// evaluated top-down and the first match wins, so a symptom listed under a
// higher tier beats a lower reported severity.
func RuleBasedTriage(symptoms []string, severity model.Severity, details string) model.Verdict {
	set := make(map[string]struct{}, len(symptoms))
	for _, s := range symptoms {
		set[strings.ToLower(strings.TrimSpace(s))] = struct{}{}
	}
	hasAny := func(names []string) bool {
		for _, n := range names {
			if _, ok := set[n]; ok {
				return true
			}
		}
		return false
	}
	text := strings.ToLower(details)
	mentions := func(phrases []string) bool {
		for _, p := range phrases {
			if strings.Contains(text, p) {
				return true
			}
		}
		return false
	}

	var risk model.RiskLevel
	switch {
	case severity == model.SeverityCritical || hasAny(emergencySymptoms) || mentions(emergencyPhrases):
		risk = model.RiskEmergency
	case severity == model.SeveritySevere || hasAny(highSymptoms):
		risk = model.RiskHigh
	case severity == model.SeverityModerate || hasAny(mediumSymptoms):
		risk = model.RiskMedium
	default:
		risk = model.RiskLow
	}

	return model.Verdict{RiskLevel: risk, Recommendations: DefaultRecommendations(risk)}
}
