package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Session metrics
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "meeting_capture_active_sessions",
		Help: "Number of meeting sessions currently recording or paused",
	})

	totalSessions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "meeting_capture_sessions_total",
		Help: "Total number of meeting sessions started",
	})

	sessionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "meeting_capture_session_duration_seconds",
		Help:    "Recorded (unpaused) duration of ended sessions in seconds",
		Buckets: []float64{10, 60, 300, 600, 1800, 3600, 7200},
	})

	sessionTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "meeting_capture_session_transitions_total",
		Help: "Session state transitions by target state",
	}, []string{"state"})

	trackedSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "meeting_capture_tracked_sessions",
		Help: "Number of sessions held in memory, including ended ones awaiting cleanup",
	})

	activeConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "meeting_capture_websocket_connections",
		Help: "Number of open browser websocket connections",
	})

	// Transcript metrics
	transcriptionEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "meeting_capture_transcription_events_total",
		Help: "Transcription events received by type",
	}, []string{"type"})

	eventsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "meeting_capture_events_dropped_total",
		Help: "Transcription events dropped before reaching the transcript",
	}, []string{"reason"})

	transcriptLines = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "meeting_capture_transcript_lines_total",
		Help: "Transcript lines created",
	}, []string{"mode"})

	// Batch upload metrics
	uploadRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "meeting_capture_batch_uploads_total",
		Help: "Total number of batch transcription uploads",
	}, []string{"status"})

	uploadLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "meeting_capture_batch_upload_latency_seconds",
		Help:    "Batch transcription upload latency in seconds",
		Buckets: []float64{0.5, 1.0, 2.0, 5.0, 10.0, 20.0, 60.0},
	})

	// Minutes metrics
	minutesRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "meeting_capture_minutes_requests_total",
		Help: "Total number of minutes synthesis requests",
	}, []string{"status"})

	minutesLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "meeting_capture_minutes_latency_seconds",
		Help:    "Minutes synthesis latency in seconds",
		Buckets: []float64{1.0, 2.0, 5.0, 10.0, 30.0, 60.0},
	})

	// Event publishing metrics
	eventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "meeting_capture_events_published_total",
		Help: "Events written to the message bus",
	}, []string{"topic", "status"})

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "meeting_capture_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "meeting_capture_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	circuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "meeting_capture_circuit_breaker_failures_total",
		Help: "Total circuit breaker failures",
	}, []string{"service"})

	// Audio metrics
	audioBytesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "meeting_capture_audio_bytes_total",
		Help: "Total audio bytes processed",
	}, []string{"direction"}) // direction: "in" (from browser) or "out" (to transcription)
)

// Metrics tracks metrics for a single meeting session
type Metrics struct {
	sessionID string
	startTime time.Time
	started   bool
	ended     bool
	mu        sync.Mutex
}

// NewSessionMetrics creates a new metrics tracker for a session
func NewSessionMetrics(sessionID string) *Metrics {
	return &Metrics{sessionID: sessionID}
}

// RecordSessionStart records the start of a recording session
func (m *Metrics) RecordSessionStart() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return
	}
	m.started = true
	m.startTime = time.Now()
	activeSessions.Inc()
	totalSessions.Inc()
}

// RecordSessionEnd records the end of a session with its recorded duration
func (m *Metrics) RecordSessionEnd(recorded time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.started || m.ended {
		return
	}
	m.ended = true
	activeSessions.Dec()
	sessionDuration.Observe(recorded.Seconds())
}

// RecordTransition records a session state transition
func (m *Metrics) RecordTransition(state string) {
	sessionTransitions.WithLabelValues(state).Inc()
}

// RecordEvent records a received transcription event
func (m *Metrics) RecordEvent(eventType string) {
	transcriptionEvents.WithLabelValues(eventType).Inc()
}

// RecordDropped records a transcription event dropped for the given reason
func (m *Metrics) RecordDropped(reason string) {
	eventsDropped.WithLabelValues(reason).Inc()
}

// RecordLines records transcript lines created in the given mode
func (m *Metrics) RecordLines(mode string, n int) {
	if n <= 0 {
		return
	}
	transcriptLines.WithLabelValues(mode).Add(float64(n))
}

// RecordUpload records the outcome of one batch upload
func (m *Metrics) RecordUpload(success bool, latency time.Duration) {
	uploadLatency.Observe(latency.Seconds())
	uploadRequests.WithLabelValues(statusLabel(success)).Inc()
}

// RecordMinutes records the outcome of a minutes synthesis request
func (m *Metrics) RecordMinutes(success bool, latency time.Duration) {
	minutesLatency.Observe(latency.Seconds())
	minutesRequests.WithLabelValues(statusLabel(success)).Inc()
}

// RecordError records an error
func (m *Metrics) RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

// RecordAudioBytes records audio bytes processed
func (m *Metrics) RecordAudioBytes(direction string, bytes int64) {
	audioBytesProcessed.WithLabelValues(direction).Add(float64(bytes))
}

// RecordPublish records the outcome of one message bus write
func RecordPublish(topic string, err error) {
	eventsPublished.WithLabelValues(topic, statusLabel(err == nil)).Inc()
}

// SetTrackedSessions reports how many sessions the manager holds
func SetTrackedSessions(n int) {
	trackedSessions.Set(float64(n))
}

// ConnectionOpened tracks a new browser websocket
func ConnectionOpened() {
	activeConnections.Inc()
}

// ConnectionClosed tracks a closed browser websocket
func ConnectionClosed() {
	activeConnections.Dec()
}

// UpdateCircuitBreakerState updates circuit breaker state metric
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// IncrementCircuitBreakerFailures increments circuit breaker failure counter
func IncrementCircuitBreakerFailures(service string) {
	circuitBreakerFailures.WithLabelValues(service).Inc()
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}
