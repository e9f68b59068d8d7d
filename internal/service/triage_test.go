package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/afyalink/triage-router/internal/llm"
	"github.com/afyalink/triage-router/internal/model"
	"github.com/afyalink/triage-router/internal/store"
	"github.com/afyalink/triage-router/pkg/logger"
)

const emergencyReply = "Please get help now.\nASSESSMENT: emergency\nRECOMMENDATIONS: Go to the nearest hospital"

func newTriage(mem *store.Memory, policy llm.Client, facilities *FacilityService) *TriageService {
	if mem == nil {
		return NewTriageService(nil, nil, policy, facilities, logger.NewNop())
	}
	return NewTriageService(mem, mem, policy, facilities, logger.NewNop())
}

func TestSubmitTurnOpensAssessment(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	policy := replyWith("How long have you had the headache?")
	svc := newTriage(mem, policy, nil)

	res, err := svc.SubmitTurn(ctx, "user-1", &model.TurnRequest{
		Message:     "  I have a headache  ",
		BodyRegions: []string{"head"},
	})
	require.NoError(t, err)
	assert.False(t, res.Closed)
	assert.Equal(t, "How long have you had the headache?", res.Reply)
	require.NotEmpty(t, res.AssessmentID)

	a, err := mem.Get(ctx, res.AssessmentID)
	require.NoError(t, err)
	assert.Equal(t, "user-1", a.UserID)
	assert.Equal(t, []string{"head"}, a.BodyRegions)
	assert.False(t, a.Closed)

	turns, err := mem.List(ctx, res.AssessmentID)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, model.RoleUser, turns[0].Role)
	assert.Equal(t, "I have a headache", turns[0].Content)
	assert.Equal(t, map[string]any{"body_regions": []string{"head"}}, turns[0].Metadata)
	assert.Equal(t, model.RoleAssistant, turns[1].Role)

	req := policy.lastRequest()
	require.NotNil(t, req)
	assert.True(t, strings.HasPrefix(req.System, TriagePolicy))
	assert.Contains(t, req.System, "body areas: head.")
	assert.Equal(t, []llm.ChatMessage{{Role: "user", Content: "I have a headache"}}, req.Messages)
}

func TestSubmitTurnSendsPersistedHistory(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	policy := replyWith("Any fever?")
	svc := newTriage(mem, policy, nil)

	first, err := svc.SubmitTurn(ctx, "user-1", &model.TurnRequest{Message: "My stomach hurts"})
	require.NoError(t, err)

	_, err = svc.SubmitTurn(ctx, "user-1", &model.TurnRequest{
		AssessmentID: first.AssessmentID,
		Message:      "Since yesterday",
		History:      []model.ChatTurn{{Role: model.RoleUser, Content: "ignored when persisted"}},
	})
	require.NoError(t, err)

	assert.Equal(t, []llm.ChatMessage{
		{Role: "user", Content: "My stomach hurts"},
		{Role: "assistant", Content: "Any fever?"},
		{Role: "user", Content: "Since yesterday"},
	}, policy.lastRequest().Messages)
}

func TestSubmitTurnCallerHistoryWithoutStore(t *testing.T) {
	ctx := context.Background()
	policy := replyWith("Any fever?")
	svc := newTriage(nil, policy, nil)

	history := []model.ChatTurn{
		{Role: model.RoleUser, Content: "My stomach hurts"},
		{Role: model.RoleAssistant, Content: "Since when?"},
		{Role: model.RoleSystem, Content: "dropped"},
		{Role: model.RoleUser, Content: "   "},
	}
	_, err := svc.SubmitTurn(ctx, "user-1", &model.TurnRequest{Message: "Since yesterday", History: history})
	require.NoError(t, err)
	assert.Equal(t, []llm.ChatMessage{
		{Role: "user", Content: "My stomach hurts"},
		{Role: "assistant", Content: "Since when?"},
		{Role: "user", Content: "Since yesterday"},
	}, policy.lastRequest().Messages)

	history = append(history, model.ChatTurn{Role: model.RoleUser, Content: "Since yesterday"})
	_, err = svc.SubmitTurn(ctx, "user-1", &model.TurnRequest{Message: "Since yesterday", History: history})
	require.NoError(t, err)
	assert.Len(t, policy.lastRequest().Messages, 3, "current message already last in history")
}

func TestSubmitTurnHistoryPathsAgree(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	stored := replyWith("Any fever?")
	withStore := newTriage(mem, stored, nil)

	first, err := withStore.SubmitTurn(ctx, "u", &model.TurnRequest{Message: "Cough"})
	require.NoError(t, err)
	_, err = withStore.SubmitTurn(ctx, "u", &model.TurnRequest{AssessmentID: first.AssessmentID, Message: "No fever"})
	require.NoError(t, err)

	caller := replyWith("Any fever?")
	_, err = newTriage(nil, caller, nil).SubmitTurn(ctx, "u", &model.TurnRequest{
		Message: "No fever",
		History: []model.ChatTurn{
			{Role: model.RoleUser, Content: "Cough"},
			{Role: model.RoleAssistant, Content: "Any fever?"},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, stored.lastRequest().Messages, caller.lastRequest().Messages)
}

func TestSubmitTurnClosesOnVerdict(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	svc := newTriage(mem, replyWith("ASSESSMENT: high\nRECOMMENDATIONS: Visit a clinic within 24 hours"), nil)

	res, err := svc.SubmitTurn(ctx, "user-1", &model.TurnRequest{Message: "Fever of 40C for two days"})
	require.NoError(t, err)
	assert.True(t, res.Closed)
	assert.Equal(t, model.RiskHigh, res.RiskLevel)
	assert.Equal(t, []string{"Visit a clinic within 24 hours"}, res.Recommendations)

	a, err := mem.Get(ctx, res.AssessmentID)
	require.NoError(t, err)
	assert.True(t, a.Closed)
	assert.NotNil(t, a.VerdictAt)
	assert.Equal(t, model.RiskHigh, a.RiskLevel)

	var summary []model.ChatTurn
	require.NoError(t, json.Unmarshal([]byte(a.ConversationSummary), &summary))
	require.Len(t, summary, 2)
	assert.Equal(t, model.RoleAssistant, summary[1].Role)
}

func TestSubmitTurnFirstVerdictWins(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	policy := replyWith("ASSESSMENT: medium\nRECOMMENDATIONS: Rest")
	svc := newTriage(mem, policy, nil)

	first, err := svc.SubmitTurn(ctx, "user-1", &model.TurnRequest{Message: "Cough for three days"})
	require.NoError(t, err)
	require.Equal(t, model.RiskMedium, first.RiskLevel)

	policy.CompleteFunc = func(ctx context.Context, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
		return &llm.CompletionResponse{Content: "ASSESSMENT: emergency\nRECOMMENDATIONS: Go now"}, nil
	}
	second, err := svc.SubmitTurn(ctx, "user-1", &model.TurnRequest{AssessmentID: first.AssessmentID, Message: "Now chest pain"})
	require.NoError(t, err)
	assert.True(t, second.Closed)
	assert.Equal(t, model.RiskMedium, second.RiskLevel)
	assert.Equal(t, []string{"Rest"}, second.Recommendations)
	assert.Contains(t, second.Reply, "ASSESSMENT: emergency", "the reply is still returned")

	turns, err := mem.List(ctx, first.AssessmentID)
	require.NoError(t, err)
	assert.Len(t, turns, 4, "turns are recorded after the verdict")
}

func TestSubmitTurnConcurrentVerdicts(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	require.NoError(t, mem.Create(ctx, &model.Assessment{ID: "a1", UserID: "user-1", RiskLevel: model.RiskLow}))

	var n int
	var mu sync.Mutex
	policy := &fakePolicy{
		CompleteFunc: func(ctx context.Context, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
			mu.Lock()
			defer mu.Unlock()
			n++
			tiers := []string{"low", "medium", "high", "emergency"}
			return &llm.CompletionResponse{Content: "ASSESSMENT: " + tiers[n%len(tiers)]}, nil
		},
	}
	svc := newTriage(mem, policy, nil)

	results := make([]*model.TurnResult, 8)
	var wg sync.WaitGroup
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := svc.SubmitTurn(ctx, "user-1", &model.TurnRequest{AssessmentID: "a1", Message: fmt.Sprintf("turn %d", i)})
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}
	wg.Wait()

	stored, err := mem.Get(ctx, "a1")
	require.NoError(t, err)
	for _, res := range results {
		require.NotNil(t, res)
		assert.Equal(t, stored.RiskLevel, res.RiskLevel)
	}
}

func TestSubmitTurnEmptyReplyFallback(t *testing.T) {
	res, err := newTriage(store.NewMemory(), replyWith("   "), nil).
		SubmitTurn(context.Background(), "user-1", &model.TurnRequest{Message: "hello"})
	require.NoError(t, err)
	assert.Equal(t, fallbackReply, res.Reply)
	assert.False(t, res.Closed)
}

func TestSubmitTurnMalformedMarkerDefers(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	res, err := newTriage(mem, replyWith("ASSESSMENT: severe\nRECOMMENDATIONS: Rest"), nil).
		SubmitTurn(ctx, "user-1", &model.TurnRequest{Message: "bad pain"})
	require.NoError(t, err)
	assert.False(t, res.Closed)
	assert.Empty(t, res.RiskLevel)

	a, err := mem.Get(ctx, res.AssessmentID)
	require.NoError(t, err)
	assert.False(t, a.Closed)
}

func TestSubmitTurnInvalidInput(t *testing.T) {
	mem := store.NewMemory()
	policy := replyWith("ok")
	svc := newTriage(mem, policy, nil)

	_, err := svc.SubmitTurn(context.Background(), "user-1", &model.TurnRequest{Message: " \n\t "})
	assert.ErrorIs(t, err, model.ErrInvalidInput)

	_, err = svc.SubmitTurn(context.Background(), "user-1", &model.TurnRequest{
		Message:   "help",
		Latitude:  ptr(95.0),
		Longitude: ptr(36.8),
	})
	assert.ErrorIs(t, err, model.ErrInvalidInput)
	assert.Empty(t, policy.requests)
}

func TestSubmitTurnUnconfiguredPolicy(t *testing.T) {
	mem := store.NewMemory()
	_, err := newTriage(mem, nil, nil).
		SubmitTurn(context.Background(), "user-1", &model.TurnRequest{Message: "help"})
	assert.ErrorIs(t, err, model.ErrUnavailable)

	list, err := mem.ListByUser(context.Background(), "user-1", 10)
	require.NoError(t, err)
	assert.Empty(t, list, "no assessment is created")
}

func TestSubmitTurnPolicyFailures(t *testing.T) {
	tests := []struct {
		name   string
		policy *fakePolicy
		want   error
	}{
		{"upstream", failWith(fmt.Errorf("%w: 500", model.ErrUpstream)), model.ErrUpstream},
		{"unavailable", failWith(model.ErrUnavailable), model.ErrUnavailable},
		{"raw error", failWith(errBoom), model.ErrUpstream},
		{"timeout", &fakePolicy{CompleteFunc: func(ctx context.Context, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}}, model.ErrUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			mem := store.NewMemory()
			svc := newTriage(mem, tt.policy, nil)
			svc.SetTimeouts(20*time.Millisecond, 0)

			_, err := svc.SubmitTurn(ctx, "user-1", &model.TurnRequest{Message: "help"})
			assert.ErrorIs(t, err, tt.want)

			list, err := mem.ListByUser(ctx, "user-1", 10)
			require.NoError(t, err)
			require.Len(t, list, 1)
			turns, err := mem.List(ctx, list[0].ID)
			require.NoError(t, err)
			require.Len(t, turns, 1, "only the user turn is recorded")
			assert.Equal(t, model.RoleUser, turns[0].Role)
		})
	}
}

func TestSubmitTurnOwnership(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	svc := newTriage(mem, replyWith("ok"), nil)

	res, err := svc.SubmitTurn(ctx, "owner", &model.TurnRequest{Message: "hi"})
	require.NoError(t, err)

	_, err = svc.SubmitTurn(ctx, "intruder", &model.TurnRequest{AssessmentID: res.AssessmentID, Message: "hi"})
	assert.ErrorIs(t, err, model.ErrNotFound)

	_, err = svc.SubmitTurn(ctx, "owner", &model.TurnRequest{AssessmentID: "missing", Message: "hi"})
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestSubmitTurnEmergencyAttachesFacilities(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory(
		facility("Clinic", model.KindClinic, userLat+0.001, userLng),
		facility("Hospital", model.KindHospital, userLat+0.01, userLng),
		facility("Center", model.KindHealthCenter, userLat+0.02, userLng),
	)
	alerts := &fakeAlerts{}
	svc := newTriage(mem, replyWith(emergencyReply), NewFacilityService(mem, nil, logger.NewNop()))
	svc.SetAlertPublisher(alerts)

	res, err := svc.SubmitTurn(ctx, "user-1", &model.TurnRequest{
		Message:   "Crushing chest pain",
		Latitude:  ptr(userLat),
		Longitude: ptr(userLng),
	})
	require.NoError(t, err)
	assert.Equal(t, model.RiskEmergency, res.RiskLevel)
	assert.Equal(t, []string{"Hospital", "Center"}, names(res.NearestFacilities))

	require.Len(t, alerts.alerts, 1)
	alert := alerts.alerts[0]
	assert.Equal(t, res.AssessmentID, alert.AssessmentID)
	assert.Equal(t, "user-1", alert.UserID)
	assert.Equal(t, model.AlertPending, alert.Status)
	assert.Len(t, alert.Facilities, 2)
}

func TestSubmitTurnEmergencyWithoutLocation(t *testing.T) {
	mem := store.NewMemory(facility("Hospital", model.KindHospital, userLat, userLng))
	alerts := &fakeAlerts{}
	svc := newTriage(mem, replyWith(emergencyReply), NewFacilityService(mem, nil, logger.NewNop()))
	svc.SetAlertPublisher(alerts)

	res, err := svc.SubmitTurn(context.Background(), "user-1", &model.TurnRequest{Message: "Crushing chest pain"})
	require.NoError(t, err)
	assert.Equal(t, model.RiskEmergency, res.RiskLevel)
	assert.Empty(t, res.NearestFacilities)
	assert.Len(t, alerts.alerts, 1)
}

func TestSubmitTurnEmergencyAfterProseAssessment(t *testing.T) {
	mem := store.NewMemory()
	alerts := &fakeAlerts{}
	reply := "Thank you. Based on my assessment: this is serious.\n\n" + emergencyReply
	svc := newTriage(mem, replyWith(reply), nil)
	svc.SetAlertPublisher(alerts)

	res, err := svc.SubmitTurn(context.Background(), "user-1", &model.TurnRequest{Message: "Crushing chest pain"})
	require.NoError(t, err)
	assert.True(t, res.Closed)
	assert.Equal(t, model.RiskEmergency, res.RiskLevel)
	assert.Len(t, alerts.alerts, 1)
}

func TestSubmitTurnFacilityFailureIsNonFatal(t *testing.T) {
	failing := &fakeFacilityStore{
		ListActiveGeolocatedFunc: func(ctx context.Context, limit int) ([]model.FacilityRecord, error) {
			return nil, errBoom
		},
	}
	alerts := &fakeAlerts{err: errBoom}
	svc := newTriage(store.NewMemory(), replyWith(emergencyReply), NewFacilityService(failing, nil, logger.NewNop()))
	svc.SetAlertPublisher(alerts)

	res, err := svc.SubmitTurn(context.Background(), "user-1", &model.TurnRequest{
		Message:   "Not breathing well",
		Latitude:  ptr(userLat),
		Longitude: ptr(userLng),
	})
	require.NoError(t, err)
	assert.True(t, res.Closed)
	assert.Equal(t, model.RiskEmergency, res.RiskLevel)
	assert.Empty(t, res.NearestFacilities)
}

func TestAlertPublishersFanOut(t *testing.T) {
	a, b := &fakeAlerts{}, &fakeAlerts{err: errBoom}
	err := AlertPublishers{a, b}.PublishAlert(context.Background(), &model.EmergencyAlert{ID: "x"})
	assert.ErrorIs(t, err, errBoom)
	assert.Len(t, a.alerts, 1)
	assert.Len(t, b.alerts, 1)
}
