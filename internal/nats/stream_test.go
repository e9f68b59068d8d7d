package nats

import (
	"context"
	"testing"

	natstest "github.com/nats-io/nats-server/v2/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/afyalink/triage-router/internal/model"
	"github.com/afyalink/triage-router/pkg/logger"
)

func TestSubjects(t *testing.T) {
	id := "0190a5c2-7d1e-7c3a-9f1e-2b9d3c4e5f60"

	assert.Equal(t, "triage."+id+".turn.user", TurnSubject(id, model.RoleUser))
	assert.Equal(t, "triage."+id+".turn.assistant", TurnSubject(id, model.RoleAssistant))
	assert.Equal(t, "triage."+id+".turn.>", TurnFilter(id))
	assert.Equal(t, "triage."+id+".alert", AlertSubject(id))
}

func TestAlertSubjectOutsideTurnFilter(t *testing.T) {
	id := "a1"
	// Alerts share the stream but must never be replayed as turns.
	assert.NotContains(t, AlertSubject(id), ".turn.")
}

func runJetStream(t *testing.T) *TurnStream {
	t.Helper()

	opts := natstest.DefaultTestOptions
	opts.Port = -1
	opts.JetStream = true
	opts.StoreDir = t.TempDir()
	srv := natstest.RunServer(&opts)
	t.Cleanup(srv.Shutdown)

	client, err := Connect(context.Background(), Config{URL: srv.ClientURL()}, logger.NewNop())
	require.NoError(t, err)
	t.Cleanup(client.Close)

	stream := NewTurnStream(client)
	require.NoError(t, stream.EnsureStream(context.Background()))
	require.NoError(t, stream.EnsureStream(context.Background()), "an existing stream is reused")
	return stream
}

func TestTurnStreamReplaysInOrder(t *testing.T) {
	ctx := context.Background()
	stream := runJetStream(t)

	const id = "0190a5c2-7d1e-7c3a-9f1e-2b9d3c4e5f60"
	contents := []string{"I have a fever", "How long?", "Two days", "ASSESSMENT: medium"}
	for i, content := range contents {
		role := model.RoleUser
		if i%2 == 1 {
			role = model.RoleAssistant
		}
		turn := &model.Turn{AssessmentID: id, Role: role, Content: content}
		require.NoError(t, stream.Append(ctx, turn))
		assert.NotEmpty(t, turn.ID)
		assert.NotZero(t, turn.Sequence)
	}
	// Another conversation interleaved with this one stays out of its replay.
	require.NoError(t, stream.Append(ctx, &model.Turn{AssessmentID: "other", Role: model.RoleUser, Content: "hello"}))
	require.NoError(t, stream.PublishAlert(ctx, &model.EmergencyAlert{AssessmentID: id, Status: model.AlertPending}))

	turns, err := stream.List(ctx, id)
	require.NoError(t, err)
	require.Len(t, turns, len(contents))
	for i, turn := range turns {
		assert.Equal(t, contents[i], turn.Content)
		assert.Equal(t, id, turn.AssessmentID)
		if i > 0 {
			assert.Greater(t, turn.Sequence, turns[i-1].Sequence)
		}
	}
	assert.Equal(t, model.RoleAssistant, turns[1].Role)
}

func TestTurnStreamEmptyConversation(t *testing.T) {
	turns, err := runJetStream(t).List(context.Background(), "missing")
	require.NoError(t, err)
	assert.Empty(t, turns)
}

func TestClientPing(t *testing.T) {
	stream := runJetStream(t)
	require.NoError(t, stream.client.Ping(context.Background()))

	stream.client.Close()
	assert.Error(t, stream.client.Ping(context.Background()))
}
