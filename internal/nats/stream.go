package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/afyalink/triage-router/internal/model"
)

const (
	// StreamName is the name of the triage stream.
	StreamName = "TRIAGE"

	// SubjectPrefix is the prefix for all triage subjects.
	SubjectPrefix = "triage"

	fetchWait = 2 * time.Second
)

// TurnStream keeps the append-only turn log and emergency alerts in a
// JetStream stream. Stream sequence numbers give the turn order.
type TurnStream struct {
	client *Client
}

// NewTurnStream creates a turn stream on an established connection.
func NewTurnStream(client *Client) *TurnStream {
	return &TurnStream{client: client}
}

// EnsureStream ensures the triage stream exists with proper configuration.
func (s *TurnStream) EnsureStream(ctx context.Context) error {
	js := s.client.JetStream()

	_, err := js.Stream(ctx, StreamName)
	if err == nil {
		return nil
	}
	if !errors.Is(err, jetstream.ErrStreamNotFound) {
		return fmt.Errorf("failed to look up stream: %w", err)
	}

	_, err = js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Subjects:    []string{fmt.Sprintf("%s.>", SubjectPrefix)},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      365 * 24 * time.Hour,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Compression: jetstream.S2Compression,
		DenyDelete:  true,
		DenyPurge:   true,
		Description: "Triage conversation turns and emergency alerts",
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}

	return nil
}

// TurnSubject returns the subject for a turn.
func TurnSubject(assessmentID string, role model.Role) string {
	return fmt.Sprintf("%s.%s.turn.%s", SubjectPrefix, assessmentID, role)
}

// TurnFilter returns the filter subject for every turn of an assessment.
func TurnFilter(assessmentID string) string {
	return fmt.Sprintf("%s.%s.turn.>", SubjectPrefix, assessmentID)
}

// AlertSubject returns the subject for an assessment's emergency alert.
func AlertSubject(assessmentID string) string {
	return fmt.Sprintf("%s.%s.alert", SubjectPrefix, assessmentID)
}

// Append publishes a turn to JetStream.
func (s *TurnStream) Append(ctx context.Context, turn *model.Turn) error {
	if turn.ID == "" {
		turn.ID = uuid.Must(uuid.NewV7()).String()
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now()
	}

	data, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("failed to marshal turn: %w", err)
	}

	ack, err := s.client.JetStream().Publish(ctx, TurnSubject(turn.AssessmentID, turn.Role), data)
	if err != nil {
		return fmt.Errorf("failed to publish turn: %w", err)
	}
	turn.Sequence = ack.Sequence

	return nil
}

// List replays every turn of an assessment in stream order.
func (s *TurnStream) List(ctx context.Context, assessmentID string) ([]model.Turn, error) {
	consumer, err := s.client.JetStream().CreateConsumer(ctx, StreamName, jetstream.ConsumerConfig{
		FilterSubject:     TurnFilter(assessmentID),
		AckPolicy:         jetstream.AckNonePolicy,
		DeliverPolicy:     jetstream.DeliverAllPolicy,
		InactiveThreshold: 30 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer: %w", err)
	}

	info, err := consumer.Info(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read consumer info: %w", err)
	}
	pending := int(info.NumPending)
	if pending == 0 {
		return nil, nil
	}

	batch, err := consumer.Fetch(pending, jetstream.FetchMaxWait(fetchWait))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch turns: %w", err)
	}

	turns := make([]model.Turn, 0, pending)
	for msg := range batch.Messages() {
		var turn model.Turn
		if err := json.Unmarshal(msg.Data(), &turn); err != nil {
			return nil, fmt.Errorf("failed to decode turn: %w", err)
		}
		if meta, err := msg.Metadata(); err == nil {
			turn.Sequence = meta.Sequence.Stream
		}
		turns = append(turns, turn)
	}

	if err := batch.Error(); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("batch error: %w", err)
	}

	return turns, nil
}

// PublishAlert publishes an emergency alert to JetStream.
func (s *TurnStream) PublishAlert(ctx context.Context, alert *model.EmergencyAlert) error {
	data, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}

	if _, err := s.client.JetStream().Publish(ctx, AlertSubject(alert.AssessmentID), data); err != nil {
		return fmt.Errorf("failed to publish alert: %w", err)
	}

	return nil
}
