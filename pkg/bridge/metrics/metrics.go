// Package metrics exposes Prometheus metrics for the bridge.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the bridge.
type Metrics struct {
	registry *prometheus.Registry

	// Request metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Call metrics
	CallsTotal *prometheus.CounterVec

	// Media stream metrics
	StreamsActive   prometheus.Gauge
	StreamsTotal    *prometheus.CounterVec
	StreamDuration  prometheus.Histogram
	AudioBytesTotal *prometheus.CounterVec

	// Error metrics
	ErrorsTotal *prometheus.CounterVec
}

// New creates a Metrics instance with all metrics registered on a
// private registry.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "callwire"
	}

	registry := prometheus.NewRegistry()

	requestsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Request duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
		},
		[]string{"method", "path"},
	)

	callsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_total",
			Help:      "Total number of outbound calls",
		},
		[]string{"call_type", "status"},
	)

	streamsActive := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "media_streams_active",
			Help:      "Number of active media streams",
		},
	)

	streamsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "media_streams_total",
			Help:      "Total number of media streams",
		},
		[]string{"status"},
	)

	streamDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "media_stream_duration_seconds",
			Help:      "Media stream duration in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
		},
	)

	audioBytesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_total",
			Help:      "Total audio bytes carried over media streams",
		},
		[]string{"direction"},
	)

	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Total number of errors",
		},
		[]string{"component"},
	)

	registry.MustRegister(
		requestsTotal,
		requestDuration,
		callsTotal,
		streamsActive,
		streamsTotal,
		streamDuration,
		audioBytesTotal,
		errorsTotal,
	)

	return &Metrics{
		registry:        registry,
		RequestsTotal:   requestsTotal,
		RequestDuration: requestDuration,
		CallsTotal:      callsTotal,
		StreamsActive:   streamsActive,
		StreamsTotal:    streamsTotal,
		StreamDuration:  streamDuration,
		AudioBytesTotal: audioBytesTotal,
		ErrorsTotal:     errorsTotal,
	}
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordRequest records a completed HTTP request.
func (m *Metrics) RecordRequest(method, path, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordCall records an outbound call reaching a final dial status.
func (m *Metrics) RecordCall(callType, status string) {
	m.CallsTotal.WithLabelValues(callType, status).Inc()
}

// RecordStreamStart records a media stream opening.
func (m *Metrics) RecordStreamStart() {
	m.StreamsActive.Inc()
}

// RecordStreamEnd records a media stream closing.
func (m *Metrics) RecordStreamEnd(status string, duration time.Duration) {
	m.StreamsActive.Dec()
	m.StreamsTotal.WithLabelValues(status).Inc()
	m.StreamDuration.Observe(duration.Seconds())
}

// RecordAudio records audio bytes carried over a media stream.
func (m *Metrics) RecordAudio(direction string, bytes int) {
	m.AudioBytesTotal.WithLabelValues(direction).Add(float64(bytes))
}

// RecordError records an error in a bridge component.
func (m *Metrics) RecordError(component string) {
	m.ErrorsTotal.WithLabelValues(component).Inc()
}
