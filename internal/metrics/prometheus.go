package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus collectors for the transcription service.
type Metrics struct {
	ActiveStreams    prometheus.Gauge
	StreamsStarted   prometheus.Counter
	StreamsEnded     *prometheus.CounterVec
	StreamDuration   prometheus.Histogram
	FragmentsDecoded prometheus.Counter
	FragmentsEmpty   prometheus.Counter
	DecodeErrors     prometheus.Counter

	RecognitionRequests prometheus.Counter
	RecognitionFailures *prometheus.CounterVec
	RecognitionDuration prometheus.Histogram
	RecognitionWaits    prometheus.Counter

	BufferUpdates     prometheus.Counter
	BufferReady       prometheus.Counter
	UtterancesFlushed *prometheus.CounterVec

	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	WSConnections       prometheus.Gauge
}

// NewMetrics registers collectors on reg. Pass prometheus.DefaultRegisterer
// in production and a fresh registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ActiveStreams: f.NewGauge(prometheus.GaugeOpts{
			Name: "streamscribe_active_streams",
			Help: "Current number of live stream sessions",
		}),
		StreamsStarted: f.NewCounter(prometheus.CounterOpts{
			Name: "streamscribe_streams_started_total",
			Help: "Total number of stream sessions started or replaced",
		}),
		StreamsEnded: f.NewCounterVec(prometheus.CounterOpts{
			Name: "streamscribe_streams_ended_total",
			Help: "Total number of stream sessions removed, by reason",
		}, []string{"reason"}),
		StreamDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "streamscribe_stream_duration_seconds",
			Help:    "Lifetime of stream sessions in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~68 minutes
		}),
		FragmentsDecoded: f.NewCounter(prometheus.CounterOpts{
			Name: "streamscribe_fragments_decoded_total",
			Help: "Total number of non-empty audio fragments accepted",
		}),
		FragmentsEmpty: f.NewCounter(prometheus.CounterOpts{
			Name: "streamscribe_fragments_empty_total",
			Help: "Total number of empty fragments answered from the cached result",
		}),
		DecodeErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "streamscribe_fragment_decode_errors_total",
			Help: "Total number of fragments rejected as malformed",
		}),
		RecognitionRequests: f.NewCounter(prometheus.CounterOpts{
			Name: "streamscribe_recognition_requests_total",
			Help: "Total number of recognizer invocations",
		}),
		RecognitionFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "streamscribe_recognition_failures_total",
			Help: "Total number of failed recognizer invocations, by cause",
		}, []string{"cause"}),
		RecognitionDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "streamscribe_recognition_duration_seconds",
			Help:    "Duration of recognizer invocations",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~100s
		}),
		RecognitionWaits: f.NewCounter(prometheus.CounterOpts{
			Name: "streamscribe_recognition_waits_total",
			Help: "Total number of feeds that waited for an in-flight recognition on the same stream",
		}),
		BufferUpdates: f.NewCounter(prometheus.CounterOpts{
			Name: "streamscribe_buffer_updates_total",
			Help: "Total number of debouncer updates",
		}),
		BufferReady: f.NewCounter(prometheus.CounterOpts{
			Name: "streamscribe_buffer_ready_total",
			Help: "Total number of debouncer updates that reported ready",
		}),
		UtterancesFlushed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "streamscribe_utterances_flushed_total",
			Help: "Total number of ready utterances handed downstream, by outcome",
		}, []string{"outcome"}),
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "streamscribe_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "route", "status_code"}),
		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "streamscribe_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		WSConnections: f.NewGauge(prometheus.GaugeOpts{
			Name: "streamscribe_ws_connections",
			Help: "Current number of open push connections",
		}),
	}
}

func (m *Metrics) RecordStreamStarted(active int) {
	m.StreamsStarted.Inc()
	m.ActiveStreams.Set(float64(active))
}

func (m *Metrics) RecordStreamEnded(reason string, durationSeconds float64, active int) {
	m.StreamsEnded.WithLabelValues(reason).Inc()
	m.StreamDuration.Observe(durationSeconds)
	m.ActiveStreams.Set(float64(active))
}

func (m *Metrics) RecordRecognition(durationSeconds float64, cause string) {
	m.RecognitionRequests.Inc()
	m.RecognitionDuration.Observe(durationSeconds)
	if cause != "" {
		m.RecognitionFailures.WithLabelValues(cause).Inc()
	}
}

func (m *Metrics) RecordBufferUpdate(ready bool) {
	m.BufferUpdates.Inc()
	if ready {
		m.BufferReady.Inc()
	}
}

func (m *Metrics) RecordUtteranceFlushed(outcome string) {
	m.UtterancesFlushed.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordHTTPRequest(method, route, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, route, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(durationSeconds)
}
