package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Request outcomes used as the "outcome" label
const (
	OutcomeSuccess        = "success"
	OutcomeStatusError    = "status_error"
	OutcomeTransportError = "transport_error"
	OutcomeDecodeError    = "decode_error"
)

// Metrics contains all Prometheus metrics for the ASR session client.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Transcription service client metrics
	ClientRequests        *prometheus.CounterVec
	ClientRequestDuration *prometheus.HistogramVec
	ClientRetries         *prometheus.CounterVec

	// Chunk synchronization metrics
	SyncPolls        prometheus.Counter
	SyncPollFailures prometheus.Counter
	ChunksMerged     prometheus.Counter
	TrackedChunks    prometheus.Gauge
	ChunkEdits       prometheus.Counter

	// Audio upload metrics
	AudioChunksQueued    prometheus.Counter
	AudioChunksSubmitted prometheus.Counter
	AudioChunksFailed    prometheus.Counter
	AudioChunksDropped   prometheus.Counter
	AudioChunksSilent    prometheus.Counter
	AudioQueueDepth      prometheus.Gauge
	AudioChunkSamples    prometheus.Histogram

	// UDP audio ingest metrics
	UDPPacketsReceived prometheus.Counter
	UDPPacketErrors    prometheus.Counter

	// Session lifecycle metrics
	SessionSwitches prometheus.Counter

	// Monitoring HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
	FeedClients         prometheus.Gauge
}

// NewMetrics creates all metrics and registers them with reg.
// Pass prometheus.DefaultRegisterer to expose them through promhttp.Handler.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ClientRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "asr_client_requests_total",
			Help: "Total number of calls to the transcription service by outcome",
		}, []string{"endpoint", "outcome"}),
		ClientRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "asr_client_request_duration_seconds",
			Help:    "Duration of calls to the transcription service including retries",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		}, []string{"endpoint"}),
		ClientRetries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "asr_client_retries_total",
			Help: "Total number of retried attempts after transport failures",
		}, []string{"endpoint"}),

		SyncPolls: factory.NewCounter(prometheus.CounterOpts{
			Name: "asr_sync_polls_total",
			Help: "Total number of text chunk synchronization polls",
		}),
		SyncPollFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "asr_sync_poll_failures_total",
			Help: "Total number of failed synchronization polls",
		}),
		ChunksMerged: factory.NewCounter(prometheus.CounterOpts{
			Name: "asr_sync_chunks_merged_total",
			Help: "Total number of text chunks merged into local state",
		}),
		TrackedChunks: factory.NewGauge(prometheus.GaugeOpts{
			Name: "asr_sync_tracked_chunks",
			Help: "Current number of text chunks held locally",
		}),
		ChunkEdits: factory.NewCounter(prometheus.CounterOpts{
			Name: "asr_sync_chunk_edits_total",
			Help: "Total number of text chunk edits accepted by the service",
		}),

		AudioChunksQueued: factory.NewCounter(prometheus.CounterOpts{
			Name: "asr_audio_chunks_queued_total",
			Help: "Total number of audio chunks queued for upload",
		}),
		AudioChunksSubmitted: factory.NewCounter(prometheus.CounterOpts{
			Name: "asr_audio_chunks_submitted_total",
			Help: "Total number of audio chunks accepted by the service",
		}),
		AudioChunksFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "asr_audio_chunks_failed_total",
			Help: "Total number of audio chunks the service did not accept",
		}),
		AudioChunksDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "asr_audio_chunks_dropped_total",
			Help: "Total number of audio chunks dropped because the upload queue was full",
		}),
		AudioChunksSilent: factory.NewCounter(prometheus.CounterOpts{
			Name: "asr_audio_chunks_silent_total",
			Help: "Total number of audio chunks skipped by the silence gate",
		}),
		AudioQueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "asr_audio_queue_depth",
			Help: "Current number of audio chunks waiting for upload",
		}),
		AudioChunkSamples: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "asr_audio_chunk_samples",
			Help:    "Number of samples per uploaded audio chunk",
			Buckets: prometheus.ExponentialBuckets(256, 2, 10), // 256 to ~131k
		}),

		UDPPacketsReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "asr_udp_packets_received_total",
			Help: "Total number of UDP audio datagrams received",
		}),
		UDPPacketErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "asr_udp_packet_errors_total",
			Help: "Total number of UDP audio datagrams that could not be decoded",
		}),

		SessionSwitches: factory.NewCounter(prometheus.CounterOpts{
			Name: "asr_session_switches_total",
			Help: "Total number of active session switches",
		}),

		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "asr_http_requests_total",
			Help: "Total number of monitoring API requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "asr_http_request_duration_seconds",
			Help:    "Duration of monitoring API requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "asr_http_errors_total",
			Help: "Total number of monitoring API errors",
		}, []string{"method", "endpoint", "error_type"}),
		FeedClients: factory.NewGauge(prometheus.GaugeOpts{
			Name: "asr_feed_clients",
			Help: "Current number of connected transcript feed clients",
		}),
	}
}

// RecordClientRequest records one finished service call
func (m *Metrics) RecordClientRequest(endpoint, outcome string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.ClientRequests.WithLabelValues(endpoint, outcome).Inc()
	m.ClientRequestDuration.WithLabelValues(endpoint).Observe(durationSeconds)
}

// RecordClientRetry increments the retry counter of an endpoint
func (m *Metrics) RecordClientRetry(endpoint string) {
	if m == nil {
		return
	}
	m.ClientRetries.WithLabelValues(endpoint).Inc()
}

// RecordSyncPoll records a synchronization poll and the chunks it merged
func (m *Metrics) RecordSyncPoll(merged, tracked int, failed bool) {
	if m == nil {
		return
	}
	m.SyncPolls.Inc()
	if failed {
		m.SyncPollFailures.Inc()
		return
	}
	m.ChunksMerged.Add(float64(merged))
	m.TrackedChunks.Set(float64(tracked))
}

// RecordChunkEdit increments the accepted edits counter
func (m *Metrics) RecordChunkEdit() {
	if m == nil {
		return
	}
	m.ChunkEdits.Inc()
}

// RecordAudioQueued records a chunk entering the upload queue
func (m *Metrics) RecordAudioQueued(depth int) {
	if m == nil {
		return
	}
	m.AudioChunksQueued.Inc()
	m.AudioQueueDepth.Set(float64(depth))
}

// RecordAudioDropped records a chunk evicted from a full upload queue
func (m *Metrics) RecordAudioDropped() {
	if m == nil {
		return
	}
	m.AudioChunksDropped.Inc()
}

// RecordAudioSilent records a chunk skipped by the silence gate
func (m *Metrics) RecordAudioSilent() {
	if m == nil {
		return
	}
	m.AudioChunksSilent.Inc()
}

// RecordAudioSubmitted records the upload result of one chunk
func (m *Metrics) RecordAudioSubmitted(samples, depth int, ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.AudioChunksSubmitted.Inc()
	} else {
		m.AudioChunksFailed.Inc()
	}
	m.AudioChunkSamples.Observe(float64(samples))
	m.AudioQueueDepth.Set(float64(depth))
}

// RecordUDPPacket records a received datagram
func (m *Metrics) RecordUDPPacket(ok bool) {
	if m == nil {
		return
	}
	m.UDPPacketsReceived.Inc()
	if !ok {
		m.UDPPacketErrors.Inc()
	}
}

// RecordSessionSwitch increments the session switch counter
func (m *Metrics) RecordSessionSwitch() {
	if m == nil {
		return
	}
	m.SessionSwitches.Inc()
}

// RecordHTTPRequest records a monitoring API request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records a monitoring API error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	if m == nil {
		return
	}
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}

// SetFeedClients sets the number of connected feed clients
func (m *Metrics) SetFeedClients(count int) {
	if m == nil {
		return
	}
	m.FeedClients.Set(float64(count))
}
