// Copyright (C) 2025 Osori AI (dev@osori.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package observability provides metrics and health indicators for the
// answering pipeline.
//
// # Description
//
// Prometheus metrics cover request counters (by intent, track, status),
// failure counters (by code), end-to-end and per-node latency histograms,
// and a pending-clarification gauge. Recording is sampled (default 30%) to
// bound cardinality cost on hot paths; counters used by health indicators
// are NOT sampled, because ratios computed from sampled counts drift.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking;
// the sampler keeps its own mutex.
package observability

import (
	"math/rand"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace for all metrics
const metricsNamespace = "pms"

// Subsystem for answering pipeline metrics
const answerSubsystem = "answer"

// DefaultSamplingRate is the fraction of requests whose latency
// observations are recorded.
const DefaultSamplingRate = 0.3

// PipelineMetrics holds all Prometheus metrics for the answering pipeline.
type PipelineMetrics struct {
	// RequestsTotal counts requests by intent, track, and terminal status.
	// Labels: intent, track (FAST, QUALITY), status (OK, FAILED)
	RequestsTotal *prometheus.CounterVec

	// FailuresTotal counts classified failures.
	// Labels: code (taxonomy failure code)
	FailuresTotal *prometheus.CounterVec

	// RequestDurationSeconds measures end-to-end latency. Sampled.
	// Labels: track
	RequestDurationSeconds *prometheus.HistogramVec

	// NodeDurationSeconds measures per-node latency. Sampled.
	// Labels: node
	NodeDurationSeconds *prometheus.HistogramVec

	// PendingClarifications tracks open clarification requests: responses
	// that asked the user a question and have not been followed up.
	PendingClarifications prometheus.Gauge
}

// NewPipelineMetrics creates and registers the metric set on the default
// registry. Call once at startup; a second call panics on duplicate
// registration.
func NewPipelineMetrics() *PipelineMetrics {
	return &PipelineMetrics{
		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: answerSubsystem,
				Name:      "requests_total",
				Help:      "Total answered requests by intent, track, and status",
			},
			[]string{"intent", "track", "status"},
		),

		FailuresTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: answerSubsystem,
				Name:      "failures_total",
				Help:      "Total classified failures by taxonomy code",
			},
			[]string{"code"},
		),

		RequestDurationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: answerSubsystem,
				Name:      "request_duration_seconds",
				Help:      "End-to-end request latency in seconds (sampled)",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
			},
			[]string{"track"},
		),

		NodeDurationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: answerSubsystem,
				Name:      "node_duration_seconds",
				Help:      "Per-node latency in seconds (sampled)",
				Buckets:   []float64{0.001, 0.005, 0.025, 0.1, 0.5, 1.0, 5.0, 15.0},
			},
			[]string{"node"},
		),

		PendingClarifications: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: answerSubsystem,
				Name:      "pending_clarifications",
				Help:      "Clarification questions awaiting a user follow-up",
			},
		),
	}
}

// RequestObservation is one completed request, as seen by the recorder.
type RequestObservation struct {
	Intent string
	Track  string
	// SessionID links clarification questions to their follow-ups. Empty
	// for sessionless requests.
	SessionID string
	Failed    bool
	Code      string
	Duration  time.Duration
	// NodeDurations keys node name to its elapsed time.
	NodeDurations map[string]time.Duration
	// AskedClarification marks responses that opened a clarification.
	AskedClarification bool
}

// Recorder writes observations into the metric set, sampling the latency
// histograms.
type Recorder struct {
	metrics *PipelineMetrics
	rate    float64

	mu      sync.Mutex
	rng     *rand.Rand
	pending map[string]bool
}

// NewRecorder builds a recorder. rate outside (0,1] falls back to the
// default.
func NewRecorder(metrics *PipelineMetrics, rate float64, seed int64) *Recorder {
	if rate <= 0 || rate > 1 {
		rate = DefaultSamplingRate
	}
	return &Recorder{
		metrics: metrics,
		rate:    rate,
		rng:     rand.New(rand.NewSource(seed)),
		pending: make(map[string]bool),
	}
}

// Observe records one completed request.
//
// The pending-clarification gauge moves on session transitions: a
// clarification question opens the session's pending slot, any later
// non-clarification answer in the same session closes it. Sessionless
// clarifications are not tracked; their resolution is unobservable.
func (r *Recorder) Observe(obs RequestObservation) {
	status := "OK"
	if obs.Failed {
		status = "FAILED"
	}
	r.metrics.RequestsTotal.WithLabelValues(obs.Intent, obs.Track, status).Inc()
	if obs.Failed && obs.Code != "" {
		r.metrics.FailuresTotal.WithLabelValues(obs.Code).Inc()
	}
	if obs.SessionID != "" {
		if obs.AskedClarification {
			r.clarificationOpened(obs.SessionID)
		} else {
			r.ClarificationResolved(obs.SessionID)
		}
	}

	if !r.sample() {
		return
	}
	r.metrics.RequestDurationSeconds.WithLabelValues(obs.Track).Observe(obs.Duration.Seconds())
	for node, d := range obs.NodeDurations {
		r.metrics.NodeDurationSeconds.WithLabelValues(node).Observe(d.Seconds())
	}
}

func (r *Recorder) clarificationOpened(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pending[sessionID] {
		return
	}
	r.pending[sessionID] = true
	r.metrics.PendingClarifications.Inc()
}

// ClarificationResolved closes the session's open clarification, if any,
// decrementing the pending gauge.
func (r *Recorder) ClarificationResolved(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.pending[sessionID] {
		return
	}
	delete(r.pending, sessionID)
	r.metrics.PendingClarifications.Dec()
}

func (r *Recorder) sample() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rng.Float64() < r.rate
}
