package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/afyalink/triage-router/internal/model"
)

// Memory is an in-process store used when no database is configured and in
// tests. Records are copied on the way in and out.
type Memory struct {
	mu          sync.RWMutex
	assessments map[string]*model.Assessment
	turns       map[string][]model.Turn
	facilities  []model.FacilityRecord
	seq         uint64
}

var (
	_ AssessmentStore = (*Memory)(nil)
	_ TurnStore       = (*Memory)(nil)
	_ FacilityStore   = (*Memory)(nil)
)

// NewMemory creates an empty store seeded with the given facilities.
func NewMemory(facilities ...model.FacilityRecord) *Memory {
	return &Memory{
		assessments: make(map[string]*model.Assessment),
		turns:       make(map[string][]model.Turn),
		facilities:  append([]model.FacilityRecord(nil), facilities...),
	}
}

// Create stores a new assessment.
func (m *Memory) Create(ctx context.Context, a *model.Assessment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.assessments[a.ID]; exists {
		return fmt.Errorf("assessment %s already exists", a.ID)
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	m.assessments[a.ID] = cloneAssessment(a)
	return nil
}

// Get retrieves an assessment by ID.
func (m *Memory) Get(ctx context.Context, id string) (*model.Assessment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, exists := m.assessments[id]
	if !exists {
		return nil, fmt.Errorf("assessment %s: %w", id, model.ErrNotFound)
	}
	return cloneAssessment(a), nil
}

// ListByUser returns a user's assessments, newest first.
func (m *Memory) ListByUser(ctx context.Context, userID string, limit int) ([]model.Assessment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []model.Assessment
	for _, a := range m.assessments {
		if a.UserID == userID {
			out = append(out, *cloneAssessment(a))
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// SetVerdict closes an assessment unless it already has a verdict.
func (m *Memory) SetVerdict(ctx context.Context, id string, v model.Verdict, summary string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, exists := m.assessments[id]
	if !exists {
		return false, fmt.Errorf("assessment %s: %w", id, model.ErrNotFound)
	}
	if a.Closed {
		return false, nil
	}

	now := time.Now()
	a.RiskLevel = v.RiskLevel
	a.Recommendations = append([]string(nil), v.Recommendations...)
	a.ConversationSummary = summary
	a.Closed = true
	a.VerdictAt = &now
	return true, nil
}

// Append adds a turn to the end of an assessment's conversation.
func (m *Memory) Append(ctx context.Context, turn *model.Turn) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.seq++
	turn.Sequence = m.seq
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now()
	}
	m.turns[turn.AssessmentID] = append(m.turns[turn.AssessmentID], *turn)
	return nil
}

// List returns an assessment's turns in insertion order.
func (m *Memory) List(ctx context.Context, assessmentID string) ([]model.Turn, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return append([]model.Turn(nil), m.turns[assessmentID]...), nil
}

// ListActiveGeolocated returns active facilities that have coordinates.
func (m *Memory) ListActiveGeolocated(ctx context.Context, limit int) ([]model.FacilityRecord, error) {
	return m.listFacilities(limit, func(f *model.FacilityRecord) bool {
		return f.Active && f.Located()
	}), nil
}

// ListActive returns active facilities with or without coordinates.
func (m *Memory) ListActive(ctx context.Context, limit int) ([]model.FacilityRecord, error) {
	return m.listFacilities(limit, func(f *model.FacilityRecord) bool {
		return f.Active
	}), nil
}

func (m *Memory) listFacilities(limit int, keep func(*model.FacilityRecord) bool) []model.FacilityRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []model.FacilityRecord
	for i := range m.facilities {
		if limit > 0 && len(out) == limit {
			break
		}
		if keep(&m.facilities[i]) {
			f := m.facilities[i]
			f.Source = model.SourceInternal
			out = append(out, f)
		}
	}
	return out
}

func cloneAssessment(a *model.Assessment) *model.Assessment {
	c := *a
	c.BodyRegions = append([]string(nil), a.BodyRegions...)
	c.Recommendations = append([]string(nil), a.Recommendations...)
	if a.VerdictAt != nil {
		t := *a.VerdictAt
		c.VerdictAt = &t
	}
	return &c
}
