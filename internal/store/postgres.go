package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "embed"

	"github.com/lib/pq"

	"github.com/afyalink/triage-router/internal/model"
)

//go:embed schema.sql
var schemaSQL string

// Postgres implements every store interface over a single database.
type Postgres struct {
	DB *sql.DB
}

var (
	_ AssessmentStore = (*Postgres)(nil)
	_ TurnStore       = (*Postgres)(nil)
	_ FacilityStore   = (*Postgres)(nil)
)

// OpenPostgres connects with the lib/pq driver and verifies the connection.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}
	return &Postgres{DB: db}, nil
}

// Migrate applies schema.sql. Every statement is idempotent.
func (p *Postgres) Migrate(ctx context.Context) error {
	_, err := p.DB.ExecContext(ctx, schemaSQL)
	return err
}

// Close closes the underlying connection pool.
func (p *Postgres) Close() error {
	return p.DB.Close()
}

// Create stores a new assessment.
func (p *Postgres) Create(ctx context.Context, a *model.Assessment) error {
	risk := a.RiskLevel
	if risk == "" {
		risk = model.RiskLow
	}

	err := p.DB.QueryRowContext(ctx,
		`INSERT INTO assessments (id, user_id, symptoms, body_regions, risk_level, recommendations, closed, verdict_at)
         VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
         RETURNING created_at`,
		a.ID, a.UserID, a.Symptoms, pq.Array(a.BodyRegions), risk, pq.Array(a.Recommendations),
		a.Closed, a.VerdictAt,
	).Scan(&a.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert assessment: %w", err)
	}
	return nil
}

// Get retrieves an assessment by ID.
func (p *Postgres) Get(ctx context.Context, id string) (*model.Assessment, error) {
	var (
		a       model.Assessment
		summary sql.NullString
		verdict sql.NullTime
	)
	err := p.DB.QueryRowContext(ctx,
		`SELECT id, user_id, symptoms, body_regions, risk_level, recommendations,
                conversation_summary, closed, created_at, verdict_at
         FROM assessments
         WHERE id = $1`, id,
	).Scan(&a.ID, &a.UserID, &a.Symptoms, pq.Array(&a.BodyRegions), &a.RiskLevel,
		pq.Array(&a.Recommendations), &summary, &a.Closed, &a.CreatedAt, &verdict)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("assessment %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load assessment: %w", err)
	}

	a.ConversationSummary = summary.String
	if verdict.Valid {
		a.VerdictAt = &verdict.Time
	}
	return &a, nil
}

// ListByUser returns a user's assessments, newest first.
func (p *Postgres) ListByUser(ctx context.Context, userID string, limit int) ([]model.Assessment, error) {
	rows, err := p.DB.QueryContext(ctx,
		`SELECT id, user_id, symptoms, risk_level, closed, created_at
         FROM assessments
         WHERE user_id = $1
         ORDER BY created_at DESC
         LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list assessments: %w", err)
	}
	defer rows.Close()

	var out []model.Assessment
	for rows.Next() {
		var a model.Assessment
		if err := rows.Scan(&a.ID, &a.UserID, &a.Symptoms, &a.RiskLevel, &a.Closed, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// SetVerdict closes an open assessment. The closed guard keeps the first
// verdict when two turns race.
func (p *Postgres) SetVerdict(ctx context.Context, id string, v model.Verdict, summary string) (bool, error) {
	res, err := p.DB.ExecContext(ctx,
		`UPDATE assessments
         SET risk_level = $2, recommendations = $3, conversation_summary = $4,
             closed = TRUE, verdict_at = NOW()
         WHERE id = $1 AND closed = FALSE`,
		id, v.RiskLevel, pq.Array(v.Recommendations), summary,
	)
	if err != nil {
		return false, fmt.Errorf("failed to set verdict: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Append adds a turn to the end of an assessment's conversation.
func (p *Postgres) Append(ctx context.Context, turn *model.Turn) error {
	var metadata []byte
	if len(turn.Metadata) > 0 {
		var err error
		if metadata, err = json.Marshal(turn.Metadata); err != nil {
			return fmt.Errorf("failed to marshal turn metadata: %w", err)
		}
	}

	var seq int64
	err := p.DB.QueryRowContext(ctx,
		`INSERT INTO assessment_turns (id, assessment_id, role, content, metadata)
         VALUES ($1, $2, $3, $4, $5)
         RETURNING seq, created_at`,
		turn.ID, turn.AssessmentID, turn.Role, turn.Content, metadata,
	).Scan(&seq, &turn.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert turn: %w", err)
	}
	turn.Sequence = uint64(seq)
	return nil
}

// List returns an assessment's turns in insertion order.
func (p *Postgres) List(ctx context.Context, assessmentID string) ([]model.Turn, error) {
	rows, err := p.DB.QueryContext(ctx,
		`SELECT seq, id, assessment_id, role, content, metadata, created_at
         FROM assessment_turns
         WHERE assessment_id = $1
         ORDER BY seq ASC`, assessmentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list turns: %w", err)
	}
	defer rows.Close()

	var turns []model.Turn
	for rows.Next() {
		var (
			t        model.Turn
			seq      int64
			metadata []byte
		)
		if err := rows.Scan(&seq, &t.ID, &t.AssessmentID, &t.Role, &t.Content, &metadata, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.Sequence = uint64(seq)
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &t.Metadata); err != nil {
				return nil, fmt.Errorf("turn %s metadata: %w", t.ID, err)
			}
		}
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

// ListActiveGeolocated returns active facilities that have coordinates.
func (p *Postgres) ListActiveGeolocated(ctx context.Context, limit int) ([]model.FacilityRecord, error) {
	return p.queryFacilities(ctx,
		`SELECT id, name, address, phone, latitude, longitude, type, is_active
         FROM clinics
         WHERE is_active AND latitude IS NOT NULL AND longitude IS NOT NULL
         ORDER BY created_at, id
         LIMIT $1`, limit)
}

// ListActive returns active facilities with or without coordinates.
func (p *Postgres) ListActive(ctx context.Context, limit int) ([]model.FacilityRecord, error) {
	return p.queryFacilities(ctx,
		`SELECT id, name, address, phone, latitude, longitude, type, is_active
         FROM clinics
         WHERE is_active
         ORDER BY created_at, id
         LIMIT $1`, limit)
}

func (p *Postgres) queryFacilities(ctx context.Context, query string, limit int) ([]model.FacilityRecord, error) {
	rows, err := p.DB.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query clinics: %w", err)
	}
	defer rows.Close()

	var out []model.FacilityRecord
	for rows.Next() {
		var (
			f        model.FacilityRecord
			phone    sql.NullString
			lat, lng sql.NullFloat64
		)
		if err := rows.Scan(&f.ID, &f.Name, &f.Address, &phone, &lat, &lng, &f.Kind, &f.Active); err != nil {
			return nil, err
		}
		if phone.Valid {
			f.Phone = &phone.String
		}
		if lat.Valid && lng.Valid {
			f.Latitude, f.Longitude = &lat.Float64, &lng.Float64
		}
		f.Source = model.SourceInternal
		out = append(out, f)
	}
	return out, rows.Err()
}

// PublishAlert records an emergency alert in the emergency_alerts table.
func (p *Postgres) PublishAlert(ctx context.Context, alert *model.EmergencyAlert) error {
	_, err := p.DB.ExecContext(ctx,
		`INSERT INTO emergency_alerts (id, user_id, assessment_id, message, status, created_at)
         VALUES ($1, $2, $3, $4, $5, $6)`,
		alert.ID, alert.UserID, alert.AssessmentID, alert.Message, alert.Status, alert.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert alert: %w", err)
	}
	return nil
}
