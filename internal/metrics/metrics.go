package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics contains the Prometheus instruments for the collection server
type Metrics struct {
	registry *prometheus.Registry

	// Corpus metrics
	PromptsServed     *prometheus.CounterVec
	RecordingsSaved   prometheus.Counter
	RecordingFailures *prometheus.CounterVec
	RecordingDuration prometheus.Histogram

	// Session metrics
	SessionTransitions *prometheus.CounterVec
	SessionState       *prometheus.GaugeVec

	// Backup metrics
	BackupRuns  *prometheus.CounterVec
	BackupFiles prometheus.Counter

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// New creates the instruments on a dedicated registry
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		PromptsServed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voxcollect_prompts_served_total",
			Help: "Total number of prompts served, by kind (current, skip)",
		}, []string{"kind"}),
		RecordingsSaved: factory.NewCounter(prometheus.CounterOpts{
			Name: "voxcollect_recordings_saved_total",
			Help: "Total number of recordings stored",
		}),
		RecordingFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voxcollect_recording_failures_total",
			Help: "Total number of rejected uploads, by reason",
		}, []string{"reason"}),
		RecordingDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "voxcollect_recording_duration_seconds",
			Help:    "Duration of stored recordings",
			Buckets: []float64{1, 2, 3, 5, 8, 13, 20, 30, 60},
		}),

		SessionTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voxcollect_session_transitions_total",
			Help: "Recording session state transitions",
		}, []string{"from", "to"}),
		SessionState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "voxcollect_session_state",
			Help: "1 for the current recording session state, 0 otherwise",
		}, []string{"state"}),

		BackupRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voxcollect_backup_runs_total",
			Help: "Backup passes, by result",
		}, []string{"result"}),
		BackupFiles: factory.NewCounter(prometheus.CounterOpts{
			Name: "voxcollect_backup_files_total",
			Help: "Total number of files uploaded to backup storage",
		}),

		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voxcollect_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "voxcollect_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
	}
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) RecordPrompt(skip bool) {
	kind := "current"
	if skip {
		kind = "skip"
	}
	m.PromptsServed.WithLabelValues(kind).Inc()
}

// RecordSaved counts a stored recording of the given length
func (m *Metrics) RecordSaved(durationSeconds float64) {
	m.RecordingsSaved.Inc()
	m.RecordingDuration.Observe(durationSeconds)
}

func (m *Metrics) RecordRejected(reason string) {
	m.RecordingFailures.WithLabelValues(reason).Inc()
}

// RecordTransition tracks session state changes
func (m *Metrics) RecordTransition(from, to string) {
	m.SessionTransitions.WithLabelValues(from, to).Inc()
	m.SessionState.WithLabelValues(from).Set(0)
	m.SessionState.WithLabelValues(to).Set(1)
}

// RecordBackup counts a backup pass and the files it uploaded
func (m *Metrics) RecordBackup(files int, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	m.BackupRuns.WithLabelValues(result).Inc()
	m.BackupFiles.Add(float64(files))
}

// RecordHTTPRequest records HTTP request metrics
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}
