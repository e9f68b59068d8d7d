package middleware

import (
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/afyalink/triage-router/internal/model"
	"github.com/afyalink/triage-router/pkg/logger"
)

const testSecret = "test-secret"

func signToken(t *testing.T, secret string, claims Claims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func userEcho() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(GetUserID(r.Context()) + "|" + GetRole(r.Context())))
	})
}

func TestAuth(t *testing.T) {
	valid := signToken(t, testSecret, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Role: "patient",
	})
	expired := signToken(t, testSecret, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
	})
	noSubject := signToken(t, testSecret, Claims{})
	wrongKey := signToken(t, "other", Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "user-1"}})

	tests := []struct {
		name   string
		header string
		status int
		body   string
	}{
		{"valid", "Bearer " + valid, http.StatusOK, "user-1|patient"},
		{"missing", "", http.StatusUnauthorized, "missing authorization header"},
		{"bad scheme", "Basic abc", http.StatusUnauthorized, "invalid authorization header format"},
		{"expired", "Bearer " + expired, http.StatusUnauthorized, "invalid token"},
		{"no subject", "Bearer " + noSubject, http.StatusUnauthorized, "invalid token"},
		{"wrong key", "Bearer " + wrongKey, http.StatusUnauthorized, "invalid token"},
	}

	h := Auth(testSecret)(userEcho())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.body)
		})
	}
}

func TestLoggingSetsCorrelationID(t *testing.T) {
	var seen string
	r := chi.NewRouter()
	r.Use(Logging(logger.NewNop()))
	r.Get("/x/{id}", func(w http.ResponseWriter, r *http.Request) {
		seen = logger.CorrelationID(r.Context())
		w.WriteHeader(http.StatusTeapot)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x/1", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, rec.Header().Get(CorrelationHeader))

	req := httptest.NewRequest(http.MethodGet, "/x/2", nil)
	req.Header.Set(CorrelationHeader, "corr-123")
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, "corr-123", seen)
	assert.Equal(t, "corr-123", rec.Header().Get(CorrelationHeader))
}

func TestRateLimitByUser(t *testing.T) {
	token := signToken(t, testSecret, Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "user-1"}})
	other := signToken(t, testSecret, Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "user-2"}})

	h := Auth(testSecret)(RateLimit(2, time.Minute)(userEcho()))
	do := func(tok string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+tok)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, do(token))
	assert.Equal(t, http.StatusOK, do(token))
	assert.Equal(t, http.StatusTooManyRequests, do(token))
	assert.Equal(t, http.StatusOK, do(other), "limits are per user")
}

func TestCORSPreflight(t *testing.T) {
	h := CORS([]string{"https://app.example.org"})(userEcho())

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/triage", nil)
	req.Header.Set("Origin", "https://app.example.org")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "https://app.example.org", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestValidateTurnRequest(t *testing.T) {
	lat, lng := -1.29, 36.82
	badLat := 91.0
	nan := math.NaN()

	tests := []struct {
		name    string
		req     model.TurnRequest
		wantErr bool
	}{
		{"minimal", model.TurnRequest{Message: "I have a cough"}, false},
		{"with assessment and location", model.TurnRequest{
			AssessmentID: "0190c5a4-8d0e-7c4e-9f2a-3b1d2e4f5a6b",
			Message:      "still coughing",
			Latitude:     &lat,
			Longitude:    &lng,
		}, false},
		{"blank message", model.TurnRequest{Message: "  "}, true},
		{"message too long", model.TurnRequest{Message: strings.Repeat("a", MaxMessageLength+1)}, true},
		{"bad assessment id", model.TurnRequest{AssessmentID: "not-a-uuid", Message: "hi"}, true},
		{"half a location", model.TurnRequest{Message: "hi", Latitude: &lat}, true},
		{"latitude out of range", model.TurnRequest{Message: "hi", Latitude: &badLat, Longitude: &lng}, true},
		{"NaN longitude", model.TurnRequest{Message: "hi", Latitude: &lat, Longitude: &nan}, true},
		{"too many regions", model.TurnRequest{Message: "hi", BodyRegions: make([]string, MaxBodyRegions+1)}, true},
		{"history too long", model.TurnRequest{Message: "hi", History: make([]model.ChatTurn, MaxHistoryTurns+1)}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTurnRequest(&tt.req)
			if tt.wantErr {
				assert.ErrorIs(t, err, model.ErrInvalidInput)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateMessageInvalidUTF8(t *testing.T) {
	assert.ErrorIs(t, ValidateMessage("ok \xff"), model.ErrInvalidInput)
}

func TestSecurityHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	SecurityHeaders(userEcho()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
}
