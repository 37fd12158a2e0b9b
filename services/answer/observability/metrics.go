// Copyright (C) 2026 Cobalt Labs (eng@cobaltlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package observability provides Prometheus metrics for the answer service.
//
// # Description
//
// Metrics cover the ask pipeline end to end:
//   - Request counters (by status)
//   - Cache hit/miss counters
//   - Evidence gathering latency and result counts per engine
//   - Token stream latency (time to first token, total ask duration)
//   - Active stream gauge
//   - Rate limit rejections
//
// # Integration
//
// Metrics are exposed via the /metrics endpoint. Use with Prometheus +
// Grafana for dashboards and alerting.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "searchlight"

const askSubsystem = "ask"

// AskMetrics holds all Prometheus metrics for the ask pipeline.
//
// Initialize once at startup via InitMetrics().
type AskMetrics struct {
	// RequestsTotal counts ask requests by terminal status.
	// Labels: status (success, error, rate_limited)
	RequestsTotal *prometheus.CounterVec

	// CacheTotal counts cache lookups by outcome.
	// Labels: outcome (hit, miss, bypass)
	CacheTotal *prometheus.CounterVec

	// SearchDurationSeconds measures evidence gathering latency per engine.
	// Labels: engine (web, vector)
	SearchDurationSeconds *prometheus.HistogramVec

	// SearchResultsTotal counts evidence items returned per engine.
	// Labels: engine (web, vector), kind (text, image)
	SearchResultsTotal *prometheus.CounterVec

	// TimeToFirstTokenSeconds measures latency from request to first answer token.
	TimeToFirstTokenSeconds prometheus.Histogram

	// AskDurationSeconds measures total pipeline duration.
	// Labels: status (success, error)
	AskDurationSeconds *prometheus.HistogramVec

	// ActiveStreams tracks currently open SSE streams.
	ActiveStreams prometheus.Gauge

	// RateLimitedTotal counts requests rejected by the anonymous rate gate.
	RateLimitedTotal prometheus.Counter
}

// DefaultMetrics is the singleton instance of AskMetrics.
// Initialized by InitMetrics().
var DefaultMetrics *AskMetrics

// InitMetrics initializes the default metrics instance.
//
// # Description
//
// Creates and registers all Prometheus metrics. Call once at application
// startup; calling twice panics on duplicate registration.
func InitMetrics() *AskMetrics {
	DefaultMetrics = &AskMetrics{
		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: askSubsystem,
				Name:      "requests_total",
				Help:      "Total ask requests by terminal status",
			},
			[]string{"status"},
		),

		CacheTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: askSubsystem,
				Name:      "cache_total",
				Help:      "Cache lookups by outcome",
			},
			[]string{"outcome"},
		),

		SearchDurationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: askSubsystem,
				Name:      "search_duration_seconds",
				Help:      "Evidence gathering latency per engine",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"engine"},
		),

		SearchResultsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: askSubsystem,
				Name:      "search_results_total",
				Help:      "Evidence items returned per engine and kind",
			},
			[]string{"engine", "kind"},
		),

		TimeToFirstTokenSeconds: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: askSubsystem,
				Name:      "time_to_first_token_seconds",
				Help:      "Time from request to first answer token in seconds",
				Buckets:   []float64{0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
			},
		),

		AskDurationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: askSubsystem,
				Name:      "duration_seconds",
				Help:      "Total ask pipeline duration in seconds",
				Buckets:   []float64{1, 5, 10, 30, 60, 120, 300},
			},
			[]string{"status"},
		),

		ActiveStreams: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: askSubsystem,
				Name:      "active_streams",
				Help:      "Number of currently open ask SSE streams",
			},
		),

		RateLimitedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: askSubsystem,
				Name:      "rate_limited_total",
				Help:      "Requests rejected by the anonymous rate gate",
			},
		),
	}

	return DefaultMetrics
}

// =============================================================================
// Label Values
// =============================================================================

// Status is a terminal request status for metrics labeling.
type Status string

const (
	StatusSuccess     Status = "success"
	StatusError       Status = "error"
	StatusRateLimited Status = "rate_limited"
)

// CacheOutcome labels one cache lookup.
type CacheOutcome string

const (
	CacheHit    CacheOutcome = "hit"
	CacheMiss   CacheOutcome = "miss"
	CacheBypass CacheOutcome = "bypass"
)

// Engine labels one evidence engine.
type Engine string

const (
	EngineWeb    Engine = "web"
	EngineVector Engine = "vector"
)

// =============================================================================
// Helper Methods
// =============================================================================

// RecordRequest records a completed ask request.
func (m *AskMetrics) RecordRequest(status Status) {
	m.RequestsTotal.WithLabelValues(string(status)).Inc()
}

// RecordCache records one cache lookup outcome.
func (m *AskMetrics) RecordCache(outcome CacheOutcome) {
	m.CacheTotal.WithLabelValues(string(outcome)).Inc()
}

// RecordSearch records one engine's gathering latency and result counts.
func (m *AskMetrics) RecordSearch(engine Engine, seconds float64, texts, images int) {
	m.SearchDurationSeconds.WithLabelValues(string(engine)).Observe(seconds)
	m.SearchResultsTotal.WithLabelValues(string(engine), "text").Add(float64(texts))
	if images > 0 {
		m.SearchResultsTotal.WithLabelValues(string(engine), "image").Add(float64(images))
	}
}

// RecordTimeToFirstToken records latency to the first answer token.
func (m *AskMetrics) RecordTimeToFirstToken(seconds float64) {
	m.TimeToFirstTokenSeconds.Observe(seconds)
}

// RecordAskDuration records the total pipeline duration.
func (m *AskMetrics) RecordAskDuration(seconds float64, success bool) {
	status := StatusSuccess
	if !success {
		status = StatusError
	}
	m.AskDurationSeconds.WithLabelValues(string(status)).Observe(seconds)
}

// StreamStarted increments the active streams gauge.
func (m *AskMetrics) StreamStarted() {
	m.ActiveStreams.Inc()
}

// StreamEnded decrements the active streams gauge.
func (m *AskMetrics) StreamEnded() {
	m.ActiveStreams.Dec()
}

// RecordRateLimited counts one rejected anonymous request.
func (m *AskMetrics) RecordRateLimited() {
	m.RateLimitedTotal.Inc()
	m.RecordRequest(StatusRateLimited)
}
