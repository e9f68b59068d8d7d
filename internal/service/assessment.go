package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/afyalink/triage-router/internal/model"
	"github.com/afyalink/triage-router/internal/store"
)

// MaxAssessmentList caps a user's assessment history page.
const MaxAssessmentList = 50

// AssessmentService serves read access to a user's own assessments.
type AssessmentService struct {
	assessments store.AssessmentStore
	turns       store.TurnStore
}

// NewAssessmentService creates an assessment service. Either store may be nil.
func NewAssessmentService(assessments store.AssessmentStore, turns store.TurnStore) *AssessmentService {
	return &AssessmentService{assessments: assessments, turns: turns}
}

// Get returns an assessment owned by userID.
func (s *AssessmentService) Get(ctx context.Context, userID, id string) (*model.Assessment, error) {
	if s.assessments == nil {
		return nil, fmt.Errorf("assessment %s: %w", id, model.ErrNotFound)
	}

	a, err := s.assessments.Get(ctx, id)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, fmt.Errorf("assessment %s: %w", id, model.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to load assessment: %w", err)
	}
	if a.UserID != userID {
		return nil, fmt.Errorf("assessment %s: %w", id, model.ErrNotFound)
	}
	return a, nil
}

// List returns a user's assessments, newest first.
func (s *AssessmentService) List(ctx context.Context, userID string, limit int) (*model.ListAssessmentsResponse, error) {
	if limit <= 0 || limit > MaxAssessmentList {
		limit = MaxAssessmentList
	}

	resp := &model.ListAssessmentsResponse{Assessments: []model.AssessmentSummary{}}
	if s.assessments == nil {
		return resp, nil
	}

	list, err := s.assessments.ListByUser(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list assessments: %w", err)
	}
	for _, a := range list {
		resp.Assessments = append(resp.Assessments, model.AssessmentSummary{
			ID:        a.ID,
			RiskLevel: a.RiskLevel,
			Symptoms:  a.Symptoms,
			Closed:    a.Closed,
			CreatedAt: a.CreatedAt,
		})
	}
	return resp, nil
}

// Turns returns the transcript of an assessment owned by userID.
func (s *AssessmentService) Turns(ctx context.Context, userID, id string) ([]model.Turn, error) {
	if _, err := s.Get(ctx, userID, id); err != nil {
		return nil, err
	}
	if s.turns == nil {
		return []model.Turn{}, nil
	}

	turns, err := s.turns.List(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load turns: %w", err)
	}
	return turns, nil
}
