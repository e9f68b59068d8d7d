package service

import (
	"regexp"
	"strings"

	"github.com/afyalink/triage-router/internal/model"
)

var (
	// A marker opens its line, optionally behind a bullet, heading or
	// markdown emphasis, e.g. "**ASSESSMENT:** High" or "- ASSESSMENT: low".
	assessmentLine     = regexp.MustCompile(`(?i)^\s*[-*_#>]*\s*ASSESSMENT[*_ ]{0,3}:[*_\s]*(\w*)`)
	recommendationLine = regexp.MustCompile(`(?i)^\s*[-*_#>]*\s*RECOMMENDATIONS?[*_ ]{0,3}:\s*(.*)$`)

	// inlineAssessment finds a marker after prose on the same line. It only
	// counts when the tier word is recognised; "Self-assessment:" never matches.
	inlineAssessment = regexp.MustCompile(`(?i)(?:^|[^\w-])ASSESSMENT[*_ ]{0,3}:[*_\s]*(\w*)`)
)

// ExtractVerdict parses a model reply for the assessment block. It returns
// nil when the reply holds no usable verdict yet.
func ExtractVerdict(reply string) *model.Verdict {
	v, _ := scanVerdict(reply)
	return v
}

// scanVerdict is ExtractVerdict that also reports the first marker line it
// could not understand when the reply carries no recognised tier at all.
func scanVerdict(reply string) (*model.Verdict, string) {
	var (
		risk      model.RiskLevel
		found     bool
		malformed string
		recs      []string
	)

	for _, line := range strings.Split(reply, "\n") {
		if m := assessmentLine.FindStringSubmatch(line); m != nil {
			if !found {
				if level, err := model.ParseRiskLevel(m[1]); err == nil {
					risk, found = level, true
				} else if malformed == "" {
					malformed = strings.TrimSpace(line)
				}
			}
			continue
		}
		if !found {
			if m := inlineAssessment.FindStringSubmatch(line); m != nil {
				if level, err := model.ParseRiskLevel(m[1]); err == nil {
					risk, found = level, true
					continue
				}
			}
		}
		if m := recommendationLine.FindStringSubmatch(line); m != nil {
			if rec := cleanRecommendation(m[1]); rec != "" {
				recs = append(recs, rec)
			}
		}
	}

	if !found {
		return nil, malformed
	}
	if len(recs) == 0 {
		recs = DefaultRecommendations(risk)
	}
	return &model.Verdict{RiskLevel: risk, Recommendations: capRecommendations(recs)}, ""
}

func cleanRecommendation(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimLeft(s, "-•* ")
	return strings.TrimSpace(strings.TrimRight(s, "*"))
}

func capRecommendations(recs []string) []string {
	if len(recs) > model.MaxRecommendations {
		return recs[:model.MaxRecommendations]
	}
	return recs
}
