// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "call_transcription"

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// Session metrics
	SessionsStarted   prometheus.Counter
	SessionsActive    prometheus.Gauge
	SessionsCompleted prometheus.Counter
	SessionsFailed    *prometheus.CounterVec
	SessionDuration   prometheus.Histogram

	// Audio metrics
	AudioFramesReceived prometheus.Counter
	AudioBytesReceived  prometheus.Counter
	FramesDropped       *prometheus.CounterVec
	ChunksEmitted       prometheus.Counter

	// STT metrics
	STTLatency  *prometheus.HistogramVec
	STTErrors   *prometheus.CounterVec
	STTRetries  *prometheus.CounterVec
	STTInterims prometheus.Counter

	// Merge metrics
	SegmentsCommitted prometheus.Counter
	SegmentsFailed    prometheus.Counter
	ResultsDiscarded  *prometheus.CounterVec
	PartialUpdates    prometheus.Counter

	// Subscriber metrics
	SubscribersActive    prometheus.Gauge
	SubscriberDeliveries prometheus.Counter
	SubscriberDrops      *prometheus.CounterVec

	// Persistence metrics
	PersistOps     *prometheus.CounterVec
	PersistLatency *prometheus.HistogramVec
	ArchiveUploads *prometheus.CounterVec

	// Kafka publish metrics
	KafkaPublishTotal   *prometheus.CounterVec
	KafkaPublishErrors  *prometheus.CounterVec
	KafkaPublishLatency *prometheus.HistogramVec
	KafkaDropped        *prometheus.CounterVec

	// Backpressure metrics
	SessionLimitExceeded *prometheus.CounterVec

	// gRPC metrics
	GRPCCalls   *prometheus.CounterVec
	GRPCLatency *prometheus.HistogramVec
}

// DefaultMetrics is the global metrics instance.
var DefaultMetrics = NewMetrics()

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		SessionsStarted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_started_total",
			Help:      "Total number of transcription sessions started",
		}),
		SessionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of sessions that have not reached a terminal state",
		}),
		SessionsCompleted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_completed_total",
			Help:      "Total number of sessions completed",
		}),
		SessionsFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_failed_total",
			Help:      "Total number of sessions failed",
		}, []string{"reason"}),
		SessionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Wall clock duration of sessions from start to terminal state",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		}),

		AudioFramesReceived: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_frames_received_total",
			Help:      "Total audio frames received",
		}),
		AudioBytesReceived: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_received_total",
			Help:      "Total decoded PCM bytes received",
		}),
		FramesDropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_frames_dropped_total",
			Help:      "Total audio frames dropped",
		}, []string{"reason"}),
		ChunksEmitted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_chunks_emitted_total",
			Help:      "Total audio chunks sent for transcription",
		}),

		STTLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stt_latency_seconds",
			Help:      "Speech-to-text latency per chunk in seconds, retries included",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 45},
		}, []string{"provider", "outcome"}),
		STTErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stt_errors_total",
			Help:      "Total number of STT attempt errors",
		}, []string{"provider", "error_type"}),
		STTRetries: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stt_retries_total",
			Help:      "Total number of STT retries",
		}, []string{"provider"}),
		STTInterims: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stt_interim_results_total",
			Help:      "Total number of interim STT results",
		}),

		SegmentsCommitted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "segments_committed_total",
			Help:      "Total number of transcript segments committed",
		}),
		SegmentsFailed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "segments_failed_total",
			Help:      "Total number of empty placeholder segments committed for failed chunks",
		}),
		ResultsDiscarded: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "results_discarded_total",
			Help:      "Total number of transcription results discarded by the merge",
		}, []string{"reason"}),
		PartialUpdates: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "partial_updates_total",
			Help:      "Total number of partial segment updates applied",
		}),

		SubscribersActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "subscribers_active",
			Help:      "Number of registered subscribers",
		}),
		SubscriberDeliveries: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscriber_deliveries_total",
			Help:      "Total number of events delivered to subscribers",
		}),
		SubscriberDrops: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscriber_drops_total",
			Help:      "Total number of subscribers dropped after a failed send",
		}, []string{"reason"}),

		PersistOps: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persist_operations_total",
			Help:      "Total number of persistence operations",
		}, []string{"op", "outcome"}),
		PersistLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "persist_latency_seconds",
			Help:      "Persistence operation latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 5},
		}, []string{"op"}),
		ArchiveUploads: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "archive_uploads_total",
			Help:      "Total number of completed transcripts archived",
		}, []string{"outcome"}),

		KafkaPublishTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_total",
			Help:      "Total number of Kafka messages published",
		}, []string{"topic", "event_type"}),
		KafkaPublishErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_errors_total",
			Help:      "Total number of Kafka publish errors",
		}, []string{"topic", "event_type"}),
		KafkaPublishLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "kafka_publish_latency_seconds",
			Help:      "Kafka publish latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"topic"}),
		KafkaDropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_events_dropped_total",
			Help:      "Total number of events dropped because the publish queue was full",
		}, []string{"event_type"}),

		SessionLimitExceeded: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_limit_exceeded_total",
			Help:      "Total number of times session limits were exceeded",
		}, []string{"limit_type"}),

		GRPCCalls: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grpc_calls_total",
			Help:      "Total number of gRPC calls handled",
		}, []string{"method", "code"}),
		GRPCLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "grpc_call_duration_seconds",
			Help:      "gRPC call duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
	}
}

// RecordSessionStart records a new session becoming active.
func (m *Metrics) RecordSessionStart() {
	m.SessionsStarted.Inc()
	m.SessionsActive.Inc()
}

// RecordSessionEnd records a session reaching a terminal state.
func (m *Metrics) RecordSessionEnd(failureReason string, durationSeconds float64) {
	m.SessionsActive.Dec()
	m.SessionDuration.Observe(durationSeconds)
	if failureReason == "" {
		m.SessionsCompleted.Inc()
	} else {
		m.SessionsFailed.WithLabelValues(failureReason).Inc()
	}
}

// RecordAudioReceived records decoded audio bytes for one frame.
func (m *Metrics) RecordAudioReceived(bytes int) {
	m.AudioBytesReceived.Add(float64(bytes))
	m.AudioFramesReceived.Inc()
}

// RecordFrameDropped records a frame that was not processed.
func (m *Metrics) RecordFrameDropped(reason string) {
	m.FramesDropped.WithLabelValues(reason).Inc()
}

// RecordChunkEmitted records a chunk handed to the transcription client.
func (m *Metrics) RecordChunkEmitted() {
	m.ChunksEmitted.Inc()
}

// RecordSTTResult records the outcome of one chunk transcription.
func (m *Metrics) RecordSTTResult(provider string, err error, latencySeconds float64) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.STTLatency.WithLabelValues(provider, outcome).Observe(latencySeconds)
}

// RecordSTTError records an STT attempt error.
func (m *Metrics) RecordSTTError(provider, errorType string) {
	m.STTErrors.WithLabelValues(provider, errorType).Inc()
}

// RecordSTTRetry records an STT retry.
func (m *Metrics) RecordSTTRetry(provider string) {
	m.STTRetries.WithLabelValues(provider).Inc()
}

// RecordInterim records an interim STT result.
func (m *Metrics) RecordInterim() {
	m.STTInterims.Inc()
}

// RecordSegmentCommitted records a committed segment.
func (m *Metrics) RecordSegmentCommitted(failed bool) {
	m.SegmentsCommitted.Inc()
	if failed {
		m.SegmentsFailed.Inc()
	}
}

// RecordResultDiscarded records a result dropped by the merge.
func (m *Metrics) RecordResultDiscarded(reason string) {
	m.ResultsDiscarded.WithLabelValues(reason).Inc()
}

// RecordPartialUpdate records a partial segment revision.
func (m *Metrics) RecordPartialUpdate() {
	m.PartialUpdates.Inc()
}

// RecordSubscriberAdded records a new hub subscriber.
func (m *Metrics) RecordSubscriberAdded() {
	m.SubscribersActive.Inc()
}

// RecordSubscriberRemoved records a subscriber leaving the hub.
func (m *Metrics) RecordSubscriberRemoved() {
	m.SubscribersActive.Dec()
}

// RecordDelivery records an event delivered to a subscriber.
func (m *Metrics) RecordDelivery() {
	m.SubscriberDeliveries.Inc()
}

// RecordSubscriberDropped records a subscriber dropped after a failed send.
func (m *Metrics) RecordSubscriberDropped(reason string) {
	m.SubscriberDrops.WithLabelValues(reason).Inc()
}

// RecordPersist records a persistence operation.
func (m *Metrics) RecordPersist(op string, err error, latencySeconds float64) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.PersistOps.WithLabelValues(op, outcome).Inc()
	m.PersistLatency.WithLabelValues(op).Observe(latencySeconds)
}

// RecordArchive records a transcript archive upload.
func (m *Metrics) RecordArchive(err error) {
	if err != nil {
		m.ArchiveUploads.WithLabelValues("error").Inc()
		return
	}
	m.ArchiveUploads.WithLabelValues("success").Inc()
}

// RecordKafkaPublish records a Kafka publish attempt.
func (m *Metrics) RecordKafkaPublish(topic, eventType string, err error, latencySeconds float64) {
	m.KafkaPublishTotal.WithLabelValues(topic, eventType).Inc()
	m.KafkaPublishLatency.WithLabelValues(topic).Observe(latencySeconds)
	if err != nil {
		m.KafkaPublishErrors.WithLabelValues(topic, eventType).Inc()
	}
}

// RecordKafkaDropped records an event that never reached the publish queue.
func (m *Metrics) RecordKafkaDropped(eventType string) {
	m.KafkaDropped.WithLabelValues(eventType).Inc()
}

// RecordLimitExceeded records when a session limit is exceeded.
func (m *Metrics) RecordLimitExceeded(limitType string) {
	m.SessionLimitExceeded.WithLabelValues(limitType).Inc()
}

// RecordGRPCCall records a completed gRPC call.
func (m *Metrics) RecordGRPCCall(method, code string, durationSeconds float64) {
	m.GRPCCalls.WithLabelValues(method, code).Inc()
	m.GRPCLatency.WithLabelValues(method).Observe(durationSeconds)
}
