package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the consultation service
type Metrics struct {
	// Interview lifecycle metrics
	InterviewsStarted   prometheus.Counter
	InterviewsCompleted prometheus.Counter
	InterviewsAborted   prometheus.Counter
	InterviewActive     prometheus.Gauge
	CurrentQuestion     prometheus.Gauge
	InterviewDuration   prometheus.Histogram

	// Turn metrics
	TurnsProcessed *prometheus.CounterVec
	Failures       *prometheus.CounterVec
	StageDuration  *prometheus.HistogramVec

	// Capture metrics
	ActiveCaptures  prometheus.Gauge
	CaptureDuration prometheus.Histogram
	CaptureBytes    prometheus.Histogram

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all metrics on the given registerer.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)

	return &Metrics{
		// Interview lifecycle metrics
		InterviewsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "consult_interviews_started_total",
			Help: "Total number of interviews started",
		}),
		InterviewsCompleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "consult_interviews_completed_total",
			Help: "Total number of interviews that reached completion",
		}),
		InterviewsAborted: factory.NewCounter(prometheus.CounterOpts{
			Name: "consult_interviews_aborted_total",
			Help: "Total number of interviews aborted before completion",
		}),
		InterviewActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "consult_interview_active",
			Help: "Whether an interview is currently running (0 or 1)",
		}),
		CurrentQuestion: factory.NewGauge(prometheus.GaugeOpts{
			Name: "consult_current_question_index",
			Help: "Index of the question currently being asked",
		}),
		InterviewDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "consult_interview_duration_seconds",
			Help:    "Wall time of completed interviews",
			Buckets: prometheus.ExponentialBuckets(10, 2, 8), // 10s to ~21 minutes
		}),

		// Turn metrics
		TurnsProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "consult_turns_processed_total",
			Help: "Total number of answer turns processed",
		}, []string{"status"}),
		Failures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "consult_failures_total",
			Help: "Total number of failures by classification",
		}, []string{"kind"}),
		StageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "consult_stage_duration_seconds",
			Help:    "Duration of interview stages",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~2 minutes
		}, []string{"stage"}),

		// Capture metrics
		ActiveCaptures: factory.NewGauge(prometheus.GaugeOpts{
			Name: "consult_active_captures",
			Help: "Current number of active capture sessions",
		}),
		CaptureDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "consult_capture_duration_seconds",
			Help:    "Audio duration of finalized captures",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 8), // 0.5s to ~2 minutes
		}),
		CaptureBytes: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "consult_capture_size_bytes",
			Help:    "Size of finalized capture artifacts in bytes",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 10), // 1KB to ~256MB
		}),

		// HTTP API metrics
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "consult_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "consult_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
	}
}

// RecordInterviewStarted increments the started counter and marks active
func (m *Metrics) RecordInterviewStarted() {
	m.InterviewsStarted.Inc()
	m.InterviewActive.Set(1)
}

// RecordInterviewCompleted records a completed interview
func (m *Metrics) RecordInterviewCompleted(duration time.Duration) {
	m.InterviewsCompleted.Inc()
	m.InterviewDuration.Observe(duration.Seconds())
	m.InterviewActive.Set(0)
}

// RecordInterviewAborted records an aborted interview
func (m *Metrics) RecordInterviewAborted() {
	m.InterviewsAborted.Inc()
	m.InterviewActive.Set(0)
}

// SetCurrentQuestion sets the question index gauge
func (m *Metrics) SetCurrentQuestion(index int) {
	m.CurrentQuestion.Set(float64(index))
}

// RecordTurn records a processed turn
func (m *Metrics) RecordTurn(success bool) {
	status := "success"
	if !success {
		status = "failed"
	}
	m.TurnsProcessed.WithLabelValues(status).Inc()
}

// RecordFailure increments the failure counter for a classification
func (m *Metrics) RecordFailure(kind string) {
	m.Failures.WithLabelValues(kind).Inc()
}

// ObserveStageDuration records the duration of one interview stage
func (m *Metrics) ObserveStageDuration(stage string, duration time.Duration) {
	m.StageDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

// SetActiveCaptures sets the active capture gauge
func (m *Metrics) SetActiveCaptures(count int) {
	m.ActiveCaptures.Set(float64(count))
}

// RecordCaptureFinalized records a finalized capture artifact
func (m *Metrics) RecordCaptureFinalized(duration time.Duration, sizeBytes int) {
	m.CaptureDuration.Observe(duration.Seconds())
	m.CaptureBytes.Observe(float64(sizeBytes))
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}
