package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/afyalink/triage-router/internal/llm"
	"github.com/afyalink/triage-router/internal/model"
	"github.com/afyalink/triage-router/internal/store"
	"github.com/afyalink/triage-router/pkg/logger"
	"github.com/afyalink/triage-router/pkg/metrics"
)

const (
	quickFormMaxTokens   = 500
	quickFormTemperature = 0.3
)

// QuickFormService classifies structured symptom intake in a single step.
type QuickFormService struct {
	assessments store.AssessmentStore
	policy      llm.Client
	logger      *logger.Logger
	timeout     time.Duration
}

// NewQuickFormService creates a quick-form service. Both assessments and
// policy may be nil.
func NewQuickFormService(assessments store.AssessmentStore, policy llm.Client, log *logger.Logger) *QuickFormService {
	return &QuickFormService{
		assessments: assessments,
		policy:      policy,
		logger:      log,
		timeout:     DefaultPolicyTimeout,
	}
}

// SetTimeout overrides the policy call timeout.
func (s *QuickFormService) SetTimeout(d time.Duration) {
	if d > 0 {
		s.timeout = d
	}
}

type policyVerdict struct {
	RiskLevel       string   `json:"riskLevel"`
	Recommendations []string `json:"recommendations"`
}

// Assess classifies the intake with the policy model when one is configured
// and with RuleBasedTriage otherwise, then records a closed assessment.
func (s *QuickFormService) Assess(ctx context.Context, userID string, req *model.QuickFormRequest) (*model.QuickFormResult, error) {
	ctx, span := tracer.Start(ctx, "QuickFormService.Assess")
	defer span.End()

	symptoms := make([]string, 0, len(req.Symptoms))
	for _, sym := range req.Symptoms {
		if sym = strings.TrimSpace(sym); sym != "" {
			symptoms = append(symptoms, sym)
		}
	}
	if len(symptoms) == 0 {
		return nil, fmt.Errorf("%w: at least one symptom is required", model.ErrInvalidInput)
	}
	severity, err := model.ParseSeverity(req.Severity)
	if err != nil {
		return nil, err
	}

	verdict := s.classify(ctx, symptoms, severity, req)
	metrics.VerdictsTotal.WithLabelValues(string(verdict.RiskLevel), originQuickForm).Inc()

	intake, _ := json.Marshal(struct {
		Symptoms []string       `json:"symptoms"`
		Severity model.Severity `json:"severity,omitempty"`
		Duration string         `json:"duration,omitempty"`
		Details  string         `json:"details,omitempty"`
	}{symptoms, severity, req.Duration, req.Details})

	now := time.Now()
	a := &model.Assessment{
		ID:              uuid.Must(uuid.NewV7()).String(),
		UserID:          userID,
		Symptoms:        string(intake),
		RiskLevel:       verdict.RiskLevel,
		Recommendations: verdict.Recommendations,
		Closed:          true,
		CreatedAt:       now,
		VerdictAt:       &now,
	}
	if s.assessments != nil {
		if err := s.assessments.Create(ctx, a); err != nil {
			s.logger.Error("failed to store quick-form assessment",
				zap.String("user_id", userID),
				zap.Error(err),
			)
			a.ID = uuid.New().String()
		}
	}

	return &model.QuickFormResult{
		AssessmentID:    a.ID,
		RiskLevel:       verdict.RiskLevel,
		Recommendations: verdict.Recommendations,
	}, nil
}

func (s *QuickFormService) classify(ctx context.Context, symptoms []string, severity model.Severity, req *model.QuickFormRequest) model.Verdict {
	rules := RuleBasedTriage(symptoms, severity, req.Details)
	if s.policy == nil {
		metrics.RuleFallbacksTotal.WithLabelValues("unconfigured").Inc()
		return rules
	}

	v, err := s.askPolicy(ctx, symptoms, severity, req)
	if err != nil {
		s.logger.Warn("policy classification failed, using rules", zap.Error(err))
		metrics.RuleFallbacksTotal.WithLabelValues("policy_error").Inc()
		return rules
	}
	if len(v.Recommendations) == 0 {
		v.Recommendations = DefaultRecommendations(v.RiskLevel)
	}
	return *v
}

func (s *QuickFormService) askPolicy(ctx context.Context, symptoms []string, severity model.Severity, req *model.QuickFormRequest) (*model.Verdict, error) {
	sev := string(severity)
	if sev == "" {
		sev = "not specified"
	}
	duration := req.Duration
	if duration == "" {
		duration = "not specified"
	}
	details := req.Details
	if details == "" {
		details = "None"
	}
	prompt := fmt.Sprintf("Symptoms: %s\nSeverity: %s\nDuration: %s\nAdditional details: %s\n\nProvide triage assessment as JSON.",
		strings.Join(symptoms, ", "), sev, duration, details)

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	resp, err := s.policy.Complete(callCtx, &llm.CompletionRequest{
		System:      QuickFormPolicy,
		Messages:    []llm.ChatMessage{{Role: string(model.RoleUser), Content: prompt}},
		MaxTokens:   quickFormMaxTokens,
		Temperature: quickFormTemperature,
		JSON:        true,
	})
	if err != nil {
		metrics.RecordLLMRequest(s.policy.Name(), "error", time.Since(start).Seconds(), 0, 0)
		return nil, policyError(err)
	}
	metrics.RecordLLMRequest(s.policy.Name(), "success", time.Since(start).Seconds(), resp.TokensIn, resp.TokensOut)

	return parsePolicyVerdict(resp.Content)
}

// parsePolicyVerdict decodes a JSON verdict, tolerating a fenced code block
// around it.
func parsePolicyVerdict(content string) (*model.Verdict, error) {
	content = strings.TrimSpace(content)
	if i := strings.Index(content, "{"); i >= 0 {
		if j := strings.LastIndex(content, "}"); j > i {
			content = content[i : j+1]
		}
	}

	var pv policyVerdict
	if err := json.Unmarshal([]byte(content), &pv); err != nil {
		return nil, fmt.Errorf("%w: unparseable verdict: %v", model.ErrUpstream, err)
	}
	risk, err := model.ParseRiskLevel(pv.RiskLevel)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrUpstream, err)
	}

	recs := make([]string, 0, len(pv.Recommendations))
	for _, r := range pv.Recommendations {
		if r = strings.TrimSpace(r); r != "" {
			recs = append(recs, r)
		}
	}
	return &model.Verdict{RiskLevel: risk, Recommendations: capRecommendations(recs)}, nil
}
