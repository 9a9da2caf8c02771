// Package metrics exposes Prometheus collectors for the voice session and
// a per-turn latency collector.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the service. All methods are
// safe on a nil receiver.
type Metrics struct {
	registry *prometheus.Registry

	FramesSent      prometheus.Counter
	FramesDropped   *prometheus.CounterVec
	PlaybackChunks  prometheus.Counter
	Interruptions   prometheus.Counter
	ToolCalls       *prometheus.CounterVec
	ToolFailures    *prometheus.CounterVec
	Reconnects      prometheus.Counter
	ConnectFailures *prometheus.CounterVec
	Connected       prometheus.Gauge
	ResponseLatency *prometheus.HistogramVec
}

// New creates a Metrics instance with its own registry.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "skinvoice"
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		FramesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_frames_sent_total",
			Help:      "Capture windows sent to the backend",
		}),
		FramesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_frames_dropped_total",
			Help:      "Capture windows not sent",
		}, []string{"reason"}),
		PlaybackChunks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playback_chunks_total",
			Help:      "Model audio chunks queued for playback",
		}),
		Interruptions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "interruptions_total",
			Help:      "Backend interruptions of model speech",
		}),
		ToolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Tool calls received from the model",
		}, []string{"name"}),
		ToolFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_failures_total",
			Help:      "Tool handlers that panicked",
		}, []string{"name"}),
		Reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnects_total",
			Help:      "Automatic reconnect attempts",
		}),
		ConnectFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connect_failures_total",
			Help:      "Failed connection attempts",
		}, []string{"reason"}),
		Connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "session_connected",
			Help:      "1 while the session is connected",
		}),
		ResponseLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "response_latency_seconds",
			Help:      "Latency from end of user speech to model audio",
			Buckets:   []float64{0.1, 0.25, 0.5, 0.75, 1, 1.5, 2, 3, 5, 10},
		}, []string{"stage"}),
	}

	registry.MustRegister(
		m.FramesSent,
		m.FramesDropped,
		m.PlaybackChunks,
		m.Interruptions,
		m.ToolCalls,
		m.ToolFailures,
		m.Reconnects,
		m.ConnectFailures,
		m.Connected,
		m.ResponseLatency,
	)

	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordFrameSent counts a sent capture window.
func (m *Metrics) RecordFrameSent() {
	if m == nil {
		return
	}
	m.FramesSent.Inc()
}

// RecordFrameDropped counts a dropped capture window.
func (m *Metrics) RecordFrameDropped(reason string) {
	if m == nil {
		return
	}
	m.FramesDropped.WithLabelValues(reason).Inc()
}

// RecordPlaybackChunk counts a queued playback chunk.
func (m *Metrics) RecordPlaybackChunk() {
	if m == nil {
		return
	}
	m.PlaybackChunks.Inc()
}

// RecordInterruption counts a backend interruption.
func (m *Metrics) RecordInterruption() {
	if m == nil {
		return
	}
	m.Interruptions.Inc()
}

// RecordToolCall counts a tool call and, if failed, a failure.
func (m *Metrics) RecordToolCall(name string, failed bool) {
	if m == nil {
		return
	}
	m.ToolCalls.WithLabelValues(name).Inc()
	if failed {
		m.ToolFailures.WithLabelValues(name).Inc()
	}
}

// RecordReconnect counts an automatic reconnect.
func (m *Metrics) RecordReconnect() {
	if m == nil {
		return
	}
	m.Reconnects.Inc()
}

// RecordConnectFailure counts a failed connect by reason.
func (m *Metrics) RecordConnectFailure(reason string) {
	if m == nil {
		return
	}
	m.ConnectFailures.WithLabelValues(reason).Inc()
}

// SetConnected updates the connected gauge.
func (m *Metrics) SetConnected(connected bool) {
	if m == nil {
		return
	}
	if connected {
		m.Connected.Set(1)
	} else {
		m.Connected.Set(0)
	}
}

// ObserveLatency records a latency sample for stage.
func (m *Metrics) ObserveLatency(stage string, d time.Duration) {
	if m == nil || d <= 0 {
		return
	}
	m.ResponseLatency.WithLabelValues(stage).Observe(d.Seconds())
}
