// Package monitoring provides Prometheus metrics for harness runs.
package monitoring

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ScenarioRuns tracks scenario outcomes.
	ScenarioRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "livetest_scenario_runs_total",
		Help: "Total number of scenario runs by result",
	}, []string{"scenario", "result"})

	// ScenarioDuration tracks wall time per scenario, including server restarts.
	ScenarioDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "livetest_scenario_duration_seconds",
		Help:    "Scenario duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12), // 100ms to ~3.4min
	}, []string{"scenario"})

	// PhaseDuration tracks time spent in each orchestrator phase.
	PhaseDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "livetest_phase_duration_seconds",
		Help:    "Orchestrator phase duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 15),
	}, []string{"phase"})

	// ServerStarts tracks server process starts.
	ServerStarts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "livetest_server_starts_total",
		Help: "Total number of server starts",
	}, []string{"status"})

	// ServerStartLatency tracks the time from launch to a passing health check.
	ServerStartLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "livetest_server_start_latency_seconds",
		Help:    "Time until the server answers its health check",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	})

	// ServerStops tracks server process stops.
	ServerStops = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "livetest_server_stops_total",
		Help: "Total number of server stops",
	}, []string{"status"})

	// ControlRequests tracks control API calls by method and HTTP status.
	ControlRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "livetest_control_requests_total",
		Help: "Total number of control API requests",
	}, []string{"method", "status"})

	// ControlLatency tracks control API latency.
	ControlLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "livetest_control_request_duration_seconds",
		Help:    "Control API request latency",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
	}, []string{"method"})

	// StubConnections tracks connections accepted by fault-injection stubs.
	StubConnections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "livetest_stub_connections_total",
		Help: "Total number of connections handled by stub servers",
	}, []string{"port"})

	// LogAssertions tracks log tracker assertions.
	LogAssertions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "livetest_log_assertions_total",
		Help: "Total number of log assertions",
	}, []string{"kind", "status"})

	// CleanupFailures tracks failed cleanup actions.
	CleanupFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "livetest_cleanup_failures_total",
		Help: "Total number of failed cleanup actions",
	})

	// StoreWipes tracks persisted store wipes.
	StoreWipes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "livetest_store_wipes_total",
		Help: "Total number of persisted store wipes",
	}, []string{"backend", "status"})

	// IngestBytes tracks bytes pushed through the media ingest port.
	IngestBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "livetest_ingest_bytes_total",
		Help: "Total number of media bytes sent",
	}, []string{"media_type"})

	// ArtifactUploads tracks uploads of run artifacts.
	ArtifactUploads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "livetest_artifact_uploads_total",
		Help: "Total number of artifact uploads",
	}, []string{"status"})
)

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}

// RecordScenario records a scenario outcome and its duration
func RecordScenario(scenario, result string, duration time.Duration) {
	ScenarioRuns.WithLabelValues(scenario, result).Inc()
	ScenarioDuration.WithLabelValues(scenario).Observe(duration.Seconds())
}

// RecordPhase records the duration of an orchestrator phase
func RecordPhase(phase string, duration time.Duration) {
	PhaseDuration.WithLabelValues(phase).Observe(duration.Seconds())
}

// RecordServerStart records a server start attempt
func RecordServerStart(duration time.Duration, success bool) {
	ServerStarts.WithLabelValues(statusLabel(success)).Inc()
	if success {
		ServerStartLatency.Observe(duration.Seconds())
	}
}

// RecordServerStop records a server stop attempt
func RecordServerStop(success bool) {
	ServerStops.WithLabelValues(statusLabel(success)).Inc()
}

// RecordControlRequest records a control API call. A zero status means a transport error.
func RecordControlRequest(method string, status int, duration time.Duration) {
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	ControlRequests.WithLabelValues(method, label).Inc()
	ControlLatency.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordStubConnection records a connection handled by a stub server
func RecordStubConnection(port int) {
	StubConnections.WithLabelValues(strconv.Itoa(port)).Inc()
}

// RecordLogAssertion records a log tracker assertion
func RecordLogAssertion(kind string, passed bool) {
	status := "passed"
	if !passed {
		status = "failed"
	}
	LogAssertions.WithLabelValues(kind, status).Inc()
}

// RecordCleanupFailure records a failed cleanup action
func RecordCleanupFailure() {
	CleanupFailures.Inc()
}

// RecordStoreWipe records a persisted store wipe
func RecordStoreWipe(backend string, success bool) {
	StoreWipes.WithLabelValues(backend, statusLabel(success)).Inc()
}

// RecordIngestBytes records media bytes sent for a track
func RecordIngestBytes(mediaType string, n int) {
	IngestBytes.WithLabelValues(mediaType).Add(float64(n))
}

// RecordArtifactUpload records an artifact upload
func RecordArtifactUpload(success bool) {
	ArtifactUploads.WithLabelValues(statusLabel(success)).Inc()
}

// WriteTextfile writes a snapshot of all registered metrics in the text exposition format.
func WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, prometheus.DefaultGatherer)
}
