// Package service provides the triage conversation engine, the quick-form
// rule engine and facility matching.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/afyalink/triage-router/internal/geo"
	"github.com/afyalink/triage-router/internal/llm"
	"github.com/afyalink/triage-router/internal/model"
	"github.com/afyalink/triage-router/internal/store"
	"github.com/afyalink/triage-router/pkg/logger"
	"github.com/afyalink/triage-router/pkg/metrics"
)

const (
	DefaultPolicyTimeout   = 30 * time.Second
	DefaultFacilityTimeout = 5 * time.Second

	emergencyFacilityLimit = 5
	turnMaxTokens          = 400
	turnTemperature        = 0.7

	originConversation = "conversation"
	originQuickForm    = "quick_form"
)

var emergencyKinds = []model.FacilityKind{model.KindHospital, model.KindHealthCenter}

// AlertPublisher receives emergency alerts.
type AlertPublisher interface {
	PublishAlert(ctx context.Context, alert *model.EmergencyAlert) error
}

// AlertPublishers fans an alert out to every publisher.
type AlertPublishers []AlertPublisher

// PublishAlert implements AlertPublisher.
func (p AlertPublishers) PublishAlert(ctx context.Context, alert *model.EmergencyAlert) error {
	var errs []error
	for _, pub := range p {
		if err := pub.PublishAlert(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// TriageService runs multi-turn triage conversations.
type TriageService struct {
	assessments store.AssessmentStore
	turns       store.TurnStore
	policy      llm.Client
	facilities  *FacilityService
	alerts      AlertPublisher
	logger      *logger.Logger

	policyTimeout   time.Duration
	facilityTimeout time.Duration
}

// NewTriageService creates a triage service. Any collaborator may be nil:
// without stores the caller's history drives the prompt, and without a
// policy client every turn fails as unavailable.
func NewTriageService(
	assessments store.AssessmentStore,
	turns store.TurnStore,
	policy llm.Client,
	facilities *FacilityService,
	log *logger.Logger,
) *TriageService {
	return &TriageService{
		assessments:     assessments,
		turns:           turns,
		policy:          policy,
		facilities:      facilities,
		logger:          log,
		policyTimeout:   DefaultPolicyTimeout,
		facilityTimeout: DefaultFacilityTimeout,
	}
}

// SetAlertPublisher sets where emergency alerts are sent.
func (s *TriageService) SetAlertPublisher(p AlertPublisher) {
	s.alerts = p
}

// SetTimeouts overrides the policy call and facility lookup timeouts.
func (s *TriageService) SetTimeouts(policy, facility time.Duration) {
	if policy > 0 {
		s.policyTimeout = policy
	}
	if facility > 0 {
		s.facilityTimeout = facility
	}
}

// SubmitTurn records one user message, asks the policy model for a reply and
// closes the assessment on the first verdict it finds.
func (s *TriageService) SubmitTurn(ctx context.Context, userID string, req *model.TurnRequest) (*model.TurnResult, error) {
	ctx, span := tracer.Start(ctx, "TriageService.SubmitTurn")
	defer span.End()

	message := strings.TrimSpace(req.Message)
	if message == "" {
		return nil, fmt.Errorf("%w: message is required", model.ErrInvalidInput)
	}
	if req.HasLocation() && !geo.ValidCoordinates(*req.Latitude, *req.Longitude) {
		return nil, fmt.Errorf("%w: location out of range", model.ErrInvalidInput)
	}
	if s.policy == nil {
		return nil, fmt.Errorf("%w: policy client not configured", model.ErrUnavailable)
	}

	assessment, err := s.openAssessment(ctx, userID, req)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("assessment_id", assessment.ID))
	log := s.logger.WithAssessment(logger.CorrelationID(ctx), userID, assessment.ID)

	userTurn := &model.Turn{
		ID:           uuid.Must(uuid.NewV7()).String(),
		AssessmentID: assessment.ID,
		Role:         model.RoleUser,
		Content:      message,
		CreatedAt:    time.Now(),
	}
	if len(req.BodyRegions) > 0 {
		userTurn.Metadata = map[string]any{"body_regions": req.BodyRegions}
	}
	if s.turns != nil {
		if err := s.turns.Append(ctx, userTurn); err != nil {
			return nil, fmt.Errorf("failed to record user turn: %w", err)
		}
	}
	metrics.TriageTurnsTotal.WithLabelValues(string(model.RoleUser)).Inc()

	conversation, err := s.conversation(ctx, assessment.ID, message, req.History)
	if err != nil {
		return nil, err
	}

	reply, err := s.complete(ctx, BuildPolicy(req.BodyRegions), conversation)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "policy call failed")
		log.Error("policy call failed", zap.Error(err))
		return nil, err
	}

	if s.turns != nil {
		assistantTurn := &model.Turn{
			ID:           uuid.Must(uuid.NewV7()).String(),
			AssessmentID: assessment.ID,
			Role:         model.RoleAssistant,
			Content:      reply,
			CreatedAt:    time.Now(),
		}
		if err := s.turns.Append(ctx, assistantTurn); err != nil {
			log.Error("failed to record assistant turn", zap.Error(err))
		}
	}
	metrics.TriageTurnsTotal.WithLabelValues(string(model.RoleAssistant)).Inc()

	result := &model.TurnResult{
		Reply:        reply,
		AssessmentID: assessment.ID,
	}

	if v := assessment.Verdict(); v != nil {
		result.Closed = true
		result.RiskLevel = v.RiskLevel
		result.Recommendations = v.Recommendations
		return result, nil
	}

	verdict, malformed := scanVerdict(reply)
	if malformed != "" {
		log.Warn("assessment marker with unknown tier, verdict deferred", zap.String("marker", malformed))
		metrics.MalformedVerdictsTotal.Inc()
	}
	if verdict == nil {
		return result, nil
	}

	conversation = append(conversation, model.ChatTurn{Role: model.RoleAssistant, Content: reply})
	final, first, err := s.closeAssessment(ctx, assessment.ID, *verdict, conversation)
	if err != nil {
		log.Error("failed to store verdict", zap.Error(err))
	}
	span.SetAttributes(attribute.String("risk_level", string(final.RiskLevel)))

	result.Closed = true
	result.RiskLevel = final.RiskLevel
	result.Recommendations = final.Recommendations

	if final.RiskLevel == model.RiskEmergency {
		log.Warn("emergency verdict reached")
		if req.HasLocation() && s.facilities != nil {
			fctx, cancel := context.WithTimeout(ctx, s.facilityTimeout)
			result.NearestFacilities = s.facilities.FindNearest(fctx, NearestQuery{
				Latitude:  *req.Latitude,
				Longitude: *req.Longitude,
				Kinds:     emergencyKinds,
				Limit:     emergencyFacilityLimit,
			})
			cancel()
		}
		if first {
			s.raiseAlert(ctx, userID, assessment.ID, result.NearestFacilities)
		}
	}

	return result, nil
}

// openAssessment creates a new assessment or loads the caller's existing one.
func (s *TriageService) openAssessment(ctx context.Context, userID string, req *model.TurnRequest) (*model.Assessment, error) {
	if req.AssessmentID == "" {
		a := &model.Assessment{
			ID:          uuid.Must(uuid.NewV7()).String(),
			UserID:      userID,
			Symptoms:    `{"conversation":true}`,
			BodyRegions: req.BodyRegions,
			RiskLevel:   model.RiskLow,
			CreatedAt:   time.Now(),
		}
		if s.assessments != nil {
			if err := s.assessments.Create(ctx, a); err != nil {
				return nil, fmt.Errorf("failed to create assessment: %w", err)
			}
		}
		return a, nil
	}

	if s.assessments == nil {
		return &model.Assessment{ID: req.AssessmentID, UserID: userID}, nil
	}

	a, err := s.assessments.Get(ctx, req.AssessmentID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, fmt.Errorf("assessment %s: %w", req.AssessmentID, model.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to load assessment: %w", err)
	}
	if a.UserID != userID {
		return nil, fmt.Errorf("assessment %s: %w", req.AssessmentID, model.ErrNotFound)
	}
	return a, nil
}

// conversation returns the turns sent to the policy model. The persisted
// transcript is used when a turn store exists, otherwise the caller's history
// plus the current message.
func (s *TriageService) conversation(ctx context.Context, assessmentID, message string, history []model.ChatTurn) ([]model.ChatTurn, error) {
	if s.turns != nil {
		turns, err := s.turns.List(ctx, assessmentID)
		if err != nil {
			return nil, fmt.Errorf("failed to load conversation: %w", err)
		}
		out := make([]model.ChatTurn, 0, len(turns))
		for _, t := range turns {
			if t.Role == model.RoleUser || t.Role == model.RoleAssistant {
				out = append(out, model.ChatTurn{Role: t.Role, Content: t.Content})
			}
		}
		return out, nil
	}

	out := make([]model.ChatTurn, 0, len(history)+1)
	for _, h := range history {
		content := strings.TrimSpace(h.Content)
		if content == "" || (h.Role != model.RoleUser && h.Role != model.RoleAssistant) {
			continue
		}
		out = append(out, model.ChatTurn{Role: h.Role, Content: content})
	}
	if n := len(out); n == 0 || out[n-1].Role != model.RoleUser || out[n-1].Content != message {
		out = append(out, model.ChatTurn{Role: model.RoleUser, Content: message})
	}
	return out, nil
}

// complete calls the policy model under its own timeout.
func (s *TriageService) complete(ctx context.Context, system string, conversation []model.ChatTurn) (string, error) {
	messages := make([]llm.ChatMessage, len(conversation))
	for i, t := range conversation {
		messages[i] = llm.ChatMessage{Role: string(t.Role), Content: t.Content}
	}

	callCtx, cancel := context.WithTimeout(ctx, s.policyTimeout)
	defer cancel()

	start := time.Now()
	resp, err := s.policy.Complete(callCtx, &llm.CompletionRequest{
		System:      system,
		Messages:    messages,
		MaxTokens:   turnMaxTokens,
		Temperature: turnTemperature,
	})
	if err != nil {
		metrics.RecordLLMRequest(s.policy.Name(), "error", time.Since(start).Seconds(), 0, 0)
		return "", policyError(err)
	}
	metrics.RecordLLMRequest(s.policy.Name(), "success", time.Since(start).Seconds(), resp.TokensIn, resp.TokensOut)

	reply := strings.TrimSpace(resp.Content)
	if reply == "" {
		reply = fallbackReply
	}
	return reply, nil
}

// closeAssessment stores the verdict unless another turn already did, in
// which case the stored verdict is returned. first reports whether this call
// closed the assessment.
func (s *TriageService) closeAssessment(ctx context.Context, id string, v model.Verdict, conversation []model.ChatTurn) (verdict model.Verdict, first bool, err error) {
	if s.assessments == nil {
		metrics.VerdictsTotal.WithLabelValues(string(v.RiskLevel), originConversation).Inc()
		return v, true, nil
	}

	summary, err := json.Marshal(conversation)
	if err != nil {
		return v, true, fmt.Errorf("failed to encode conversation summary: %w", err)
	}

	won, err := s.assessments.SetVerdict(ctx, id, v, string(summary))
	if err != nil {
		return v, true, err
	}
	if won {
		metrics.VerdictsTotal.WithLabelValues(string(v.RiskLevel), originConversation).Inc()
		return v, true, nil
	}

	stored, err := s.assessments.Get(ctx, id)
	if err != nil {
		return v, false, err
	}
	if sv := stored.Verdict(); sv != nil {
		return *sv, false, nil
	}
	return v, false, nil
}

func (s *TriageService) raiseAlert(ctx context.Context, userID, assessmentID string, facilities []model.RankedFacility) {
	if s.alerts == nil {
		return
	}
	alert := &model.EmergencyAlert{
		ID:           uuid.Must(uuid.NewV7()).String(),
		UserID:       userID,
		AssessmentID: assessmentID,
		Message:      "Emergency triage verdict",
		Status:       model.AlertPending,
		Facilities:   facilities,
		CreatedAt:    time.Now(),
	}
	if err := s.alerts.PublishAlert(ctx, alert); err != nil {
		s.logger.Error("failed to publish emergency alert",
			zap.String("assessment_id", assessmentID),
			zap.Error(err),
		)
	}
}

// policyError maps an arbitrary client error onto the error taxonomy.
func policyError(err error) error {
	if errors.Is(err, model.ErrUnavailable) || errors.Is(err, model.ErrUpstream) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: policy call: %v", model.ErrUnavailable, err)
	}
	return fmt.Errorf("%w: policy call: %v", model.ErrUpstream, err)
}
