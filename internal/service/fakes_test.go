package service

import (
	"context"
	"errors"
	"sync"

	"github.com/afyalink/triage-router/internal/llm"
	"github.com/afyalink/triage-router/internal/model"
	"github.com/afyalink/triage-router/internal/places"
	"github.com/afyalink/triage-router/internal/store"
)

var errBoom = errors.New("boom")

func ptr[T any](v T) *T { return &v }

type fakePolicy struct {
	mu           sync.Mutex
	requests     []*llm.CompletionRequest
	CompleteFunc func(ctx context.Context, req *llm.CompletionRequest) (*llm.CompletionResponse, error)
}

var _ llm.Client = (*fakePolicy)(nil)

func replyWith(content string) *fakePolicy {
	return &fakePolicy{
		CompleteFunc: func(ctx context.Context, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
			return &llm.CompletionResponse{Content: content}, nil
		},
	}
}

func failWith(err error) *fakePolicy {
	return &fakePolicy{
		CompleteFunc: func(ctx context.Context, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
			return nil, err
		},
	}
}

func (f *fakePolicy) Complete(ctx context.Context, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	return f.CompleteFunc(ctx, req)
}

func (f *fakePolicy) Name() string { return "fake" }

func (f *fakePolicy) lastRequest() *llm.CompletionRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.requests) == 0 {
		return nil
	}
	return f.requests[len(f.requests)-1]
}

type fakePlaces struct {
	calls            int
	SearchNearbyFunc func(ctx context.Context, lat, lng, radiusKm float64, kind model.FacilityKind, limit int) ([]model.FacilityRecord, error)
}

var _ places.Provider = (*fakePlaces)(nil)

func (f *fakePlaces) SearchNearby(ctx context.Context, lat, lng, radiusKm float64, kind model.FacilityKind, limit int) ([]model.FacilityRecord, error) {
	f.calls++
	return f.SearchNearbyFunc(ctx, lat, lng, radiusKm, kind, limit)
}

type fakeFacilityStore struct {
	ListActiveGeolocatedFunc func(ctx context.Context, limit int) ([]model.FacilityRecord, error)
	ListActiveFunc           func(ctx context.Context, limit int) ([]model.FacilityRecord, error)
}

var _ store.FacilityStore = (*fakeFacilityStore)(nil)

func (f *fakeFacilityStore) ListActiveGeolocated(ctx context.Context, limit int) ([]model.FacilityRecord, error) {
	return f.ListActiveGeolocatedFunc(ctx, limit)
}

func (f *fakeFacilityStore) ListActive(ctx context.Context, limit int) ([]model.FacilityRecord, error) {
	return f.ListActiveFunc(ctx, limit)
}

type fakeAlerts struct {
	mu     sync.Mutex
	alerts []*model.EmergencyAlert
	err    error
}

var _ AlertPublisher = (*fakeAlerts)(nil)

func (f *fakeAlerts) PublishAlert(ctx context.Context, alert *model.EmergencyAlert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alerts = append(f.alerts, alert)
	return f.err
}

func facility(name string, kind model.FacilityKind, lat, lng float64) model.FacilityRecord {
	return model.FacilityRecord{
		ID:        name,
		Name:      name,
		Address:   name + " Road, Nairobi",
		Latitude:  ptr(lat),
		Longitude: ptr(lng),
		Kind:      kind,
		Active:    true,
	}
}
