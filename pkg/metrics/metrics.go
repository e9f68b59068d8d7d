// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// LLMRequestDuration tracks policy client completion latency.
	LLMRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llm_request_duration_seconds",
			Help:    "Policy client completion duration",
			Buckets: []float64{.25, .5, 1, 2, 5, 10, 20, 30, 60},
		},
		[]string{"provider", "status"},
	)

	// LLMTokensTotal tracks total LLM tokens processed.
	LLMTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_tokens_total",
			Help: "Total LLM tokens processed",
		},
		[]string{"provider", "direction"},
	)

	// TriageTurnsTotal tracks turns recorded in triage conversations.
	TriageTurnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "triage_turns_total",
			Help: "Total triage conversation turns",
		},
		[]string{"role"},
	)

	// VerdictsTotal tracks verdicts by tier and origin (conversation or quick_form).
	VerdictsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "triage_verdicts_total",
			Help: "Total triage verdicts reached",
		},
		[]string{"risk_level", "origin"},
	)

	// MalformedVerdictsTotal tracks assessment markers with an unknown tier word.
	MalformedVerdictsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "triage_malformed_verdicts_total",
			Help: "Assessment markers that could not be parsed",
		},
	)

	// RuleFallbacksTotal tracks quick-form assessments that used the rule engine.
	RuleFallbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "triage_rule_fallbacks_total",
			Help: "Quick-form assessments classified by the rule engine",
		},
		[]string{"reason"},
	)

	// FacilitySourceErrors tracks failed facility source lookups.
	FacilitySourceErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "facility_source_errors_total",
			Help: "Facility source lookups that failed",
		},
		[]string{"source"},
	)

	// FacilitiesReturned tracks result sizes of nearest-facility lookups.
	FacilitiesReturned = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "facility_lookup_results",
			Help:    "Facilities returned per nearest lookup",
			Buckets: []float64{0, 1, 2, 5, 10, 20},
		},
	)

	// PlacesCacheTotal tracks places cache hits and misses.
	PlacesCacheTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "places_cache_total",
			Help: "Places provider cache lookups",
		},
		[]string{"result"},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordLLMRequest records metrics for one policy client completion.
func RecordLLMRequest(provider, status string, duration float64, tokensIn, tokensOut int) {
	LLMRequestDuration.WithLabelValues(provider, status).Observe(duration)
	LLMTokensTotal.WithLabelValues(provider, "in").Add(float64(tokensIn))
	LLMTokensTotal.WithLabelValues(provider, "out").Add(float64(tokensOut))
}
