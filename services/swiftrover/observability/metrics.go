// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics for SwiftRover.
//
// # Description
//
// Metrics cover the ChatKit endpoint and the upstream APIs behind it:
//   - Request counters (by endpoint, status, ChatKit request type)
//   - Stream duration histograms and active stream gauges
//   - Streamed event counters by event type
//   - Error, keepalive and client disconnect counters
//   - Intent classifications by intent and source
//   - Upstream API calls (flights, vision, reasoning) by outcome and latency
//
// # Integration
//
// Metrics are exposed via the /metrics endpoint.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Metric Definitions
// =============================================================================

// Namespace for all metrics
const metricsNamespace = "swiftrover"

// Subsystem for ChatKit metrics
const chatkitSubsystem = "chatkit"

// Metrics holds all Prometheus metrics of the service.
//
// # Fields
//
//   - RequestsTotal: Counter of HTTP requests by endpoint and status
//   - RequestTypesTotal: Counter of ChatKit requests by protocol type
//   - StreamDurationSeconds: Histogram of total stream duration
//   - ActiveStreams: Gauge of currently open event streams
//   - StreamEventsTotal: Counter of events written, by event type
//   - ErrorsTotal: Counter of errors by endpoint and code
//   - KeepAlivesTotal: Counter of keepalive comments sent
//   - ClientDisconnectsTotal: Counter of streams abandoned by the client
//   - IntentsTotal: Counter of intent classifications
//   - UpstreamCallsTotal: Counter of upstream API calls by API and outcome
//   - UpstreamDurationSeconds: Histogram of upstream API latency
//
// # Thread Safety
//
// All operations are thread-safe.
type Metrics struct {
	// Labels: endpoint (chatkit, upload, preview), status (success, error)
	RequestsTotal *prometheus.CounterVec

	// Labels: request_type (threads.create, items.list, ...)
	RequestTypesTotal *prometheus.CounterVec

	// Labels: endpoint, status (success, error)
	StreamDurationSeconds *prometheus.HistogramVec

	// Labels: endpoint
	ActiveStreams *prometheus.GaugeVec

	// Labels: event_type (thread.created, thread.item.done, ...)
	StreamEventsTotal *prometheus.CounterVec

	// Labels: endpoint, error_code (validation, not_found, stream_error, ...)
	ErrorsTotal *prometheus.CounterVec

	// Labels: endpoint
	KeepAlivesTotal *prometheus.CounterVec

	// Labels: endpoint
	ClientDisconnectsTotal *prometheus.CounterVec

	// Labels: intent (flight, parking, expense, general), source (image, model, keywords)
	IntentsTotal *prometheus.CounterVec

	// Labels: api (aviationstack, vision, reasoning), outcome
	UpstreamCallsTotal *prometheus.CounterVec

	// Labels: api
	UpstreamDurationSeconds *prometheus.HistogramVec
}

// DefaultMetrics is the process-wide instance registered by InitMetrics.
var DefaultMetrics *Metrics

// InitMetrics registers the metrics with the default Prometheus registry
// and stores them in DefaultMetrics.
//
// # Limitations
//
//   - Panics if called twice (duplicate registration).
func InitMetrics() *Metrics {
	DefaultMetrics = NewMetrics(prometheus.DefaultRegisterer)
	return DefaultMetrics
}

// NewMetrics creates the metrics and registers them with reg.
//
// # Inputs
//
//   - reg: Registry to register with. Tests pass prometheus.NewRegistry().
//
// # Outputs
//
//   - *Metrics: Ready to record.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: chatkitSubsystem,
				Name:      "requests_total",
				Help:      "Total number of HTTP requests by endpoint and status",
			},
			[]string{"endpoint", "status"},
		),
		RequestTypesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: chatkitSubsystem,
				Name:      "request_types_total",
				Help:      "Total ChatKit requests by protocol request type",
			},
			[]string{"request_type"},
		),
		StreamDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: chatkitSubsystem,
				Name:      "stream_duration_seconds",
				Help:      "Total stream duration in seconds",
				Buckets:   []float64{0.5, 1, 5, 10, 30, 60, 120, 300},
			},
			[]string{"endpoint", "status"},
		),
		ActiveStreams: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: chatkitSubsystem,
				Name:      "active_streams",
				Help:      "Number of currently open event streams",
			},
			[]string{"endpoint"},
		),
		StreamEventsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: chatkitSubsystem,
				Name:      "stream_events_total",
				Help:      "Total events written to streams by event type",
			},
			[]string{"event_type"},
		),
		ErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: chatkitSubsystem,
				Name:      "errors_total",
				Help:      "Total errors by endpoint and error code",
			},
			[]string{"endpoint", "error_code"},
		),
		KeepAlivesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: chatkitSubsystem,
				Name:      "keepalives_total",
				Help:      "Total keepalive comments sent",
			},
			[]string{"endpoint"},
		),
		ClientDisconnectsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: chatkitSubsystem,
				Name:      "client_disconnects_total",
				Help:      "Total client disconnections during streaming",
			},
			[]string{"endpoint"},
		),
		IntentsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: chatkitSubsystem,
				Name:      "intents_total",
				Help:      "Total intent classifications by intent and source",
			},
			[]string{"intent", "source"},
		),
		UpstreamCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: chatkitSubsystem,
				Name:      "upstream_calls_total",
				Help:      "Total upstream API calls by API and outcome",
			},
			[]string{"api", "outcome"},
		),
		UpstreamDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: chatkitSubsystem,
				Name:      "upstream_duration_seconds",
				Help:      "Upstream API call latency in seconds",
				Buckets:   []float64{0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
			},
			[]string{"api"},
		),
	}
}

// =============================================================================
// Error Codes
// =============================================================================

// ErrorCode represents a categorized error type for metrics.
type ErrorCode string

const (
	// ErrorCodeValidation indicates a malformed or invalid request.
	ErrorCodeValidation ErrorCode = "validation"

	// ErrorCodeNotFound indicates a missing thread, item or attachment.
	ErrorCodeNotFound ErrorCode = "not_found"

	// ErrorCodeStream indicates a stream that ended with an error event.
	ErrorCodeStream ErrorCode = "stream_error"

	// ErrorCodeInternal indicates internal server error.
	ErrorCodeInternal ErrorCode = "internal"

	// ErrorCodeClientDisconnect indicates client disconnected.
	ErrorCodeClientDisconnect ErrorCode = "client_disconnect"
)

// =============================================================================
// Endpoint Names
// =============================================================================

// Endpoint represents an HTTP endpoint for metrics labeling.
type Endpoint string

const (
	// EndpointChatKit is the ChatKit protocol endpoint.
	EndpointChatKit Endpoint = "chatkit"

	// EndpointUpload receives attachment bytes.
	EndpointUpload Endpoint = "upload"

	// EndpointPreview serves attachment bytes.
	EndpointPreview Endpoint = "preview"
)

// Upstream API labels.
const (
	APIAviationStack = "aviationstack"
	APIVision        = "vision"
	APIReasoning     = "reasoning"
)

// =============================================================================
// Helper Methods
// =============================================================================

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// RecordRequest records a completed request.
func (m *Metrics) RecordRequest(endpoint Endpoint, success bool) {
	m.RequestsTotal.WithLabelValues(string(endpoint), statusLabel(success)).Inc()
}

// RecordRequestType records one ChatKit request by protocol type.
func (m *Metrics) RecordRequestType(requestType string) {
	m.RequestTypesTotal.WithLabelValues(requestType).Inc()
}

// RecordError records an error.
func (m *Metrics) RecordError(endpoint Endpoint, code ErrorCode) {
	m.ErrorsTotal.WithLabelValues(string(endpoint), string(code)).Inc()
}

// StreamStarted increments the active streams gauge.
func (m *Metrics) StreamStarted(endpoint Endpoint) {
	m.ActiveStreams.WithLabelValues(string(endpoint)).Inc()
}

// StreamEnded decrements the active streams gauge.
func (m *Metrics) StreamEnded(endpoint Endpoint) {
	m.ActiveStreams.WithLabelValues(string(endpoint)).Dec()
}

// RecordStreamEvent counts one written event.
func (m *Metrics) RecordStreamEvent(eventType string) {
	m.StreamEventsTotal.WithLabelValues(eventType).Inc()
}

// RecordStreamDuration records the total stream duration.
//
// # Inputs
//
//   - endpoint: The endpoint that handled the stream.
//   - seconds: Total duration in seconds.
//   - success: Whether the stream completed without an error event.
func (m *Metrics) RecordStreamDuration(endpoint Endpoint, seconds float64, success bool) {
	m.StreamDurationSeconds.WithLabelValues(string(endpoint), statusLabel(success)).Observe(seconds)
}

// RecordKeepAlive increments the keepalive counter.
func (m *Metrics) RecordKeepAlive(endpoint Endpoint) {
	m.KeepAlivesTotal.WithLabelValues(string(endpoint)).Inc()
}

// RecordClientDisconnect increments the client disconnect counter.
func (m *Metrics) RecordClientDisconnect(endpoint Endpoint) {
	m.ClientDisconnectsTotal.WithLabelValues(string(endpoint)).Inc()
}

// RecordIntent counts one classification.
func (m *Metrics) RecordIntent(intent, source string) {
	m.IntentsTotal.WithLabelValues(intent, source).Inc()
}

// RecordUpstream records one upstream API call.
//
// # Inputs
//
//   - api: One of the API* labels.
//   - outcome: Caller-defined outcome ("success", "timeout", ...).
//   - elapsed: Call latency.
func (m *Metrics) RecordUpstream(api, outcome string, elapsed time.Duration) {
	m.UpstreamCallsTotal.WithLabelValues(api, outcome).Inc()
	m.UpstreamDurationSeconds.WithLabelValues(api).Observe(elapsed.Seconds())
}
