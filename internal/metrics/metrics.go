package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Startup pipeline metrics
	StepDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "taxagent_startup_step_duration_seconds",
			Help:    "Duration of startup pipeline steps",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"step"},
	)

	StepsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taxagent_startup_steps_total",
			Help: "Total number of startup pipeline steps by outcome",
		},
		[]string{"step", "status"},
	)

	// Installer metrics
	InstallCommandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taxagent_install_commands_total",
			Help: "Total number of package manager invocations",
		},
		[]string{"command", "status"},
	)

	// Bundle metrics
	BundleCacheHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "taxagent_bundle_cache_hits_total",
			Help: "Total number of bundle cache hits",
		},
	)

	BundleCacheMisses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "taxagent_bundle_cache_misses_total",
			Help: "Total number of bundle cache misses",
		},
	)

	// Preflight metrics
	PreflightChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taxagent_preflight_checks_total",
			Help: "Total number of preflight checks by outcome",
		},
		[]string{"check", "status"},
	)

	// Server metrics
	ServerLaunchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taxagent_server_launches_total",
			Help: "Total number of application server launches",
		},
		[]string{"status"},
	)

	ServerExitCode = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "taxagent_server_exit_code",
			Help: "Exit code of the last application server run",
		},
	)

	// Infrastructure metrics
	MinioOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taxagent_minio_operations_total",
			Help: "Total number of MinIO operations",
		},
		[]string{"operation", "status"},
	)

	JournalWritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taxagent_journal_writes_total",
			Help: "Total number of run journal writes",
		},
		[]string{"status"},
	)
)

// Init registers all metrics with Prometheus
func Init() {
	// Startup pipeline metrics
	prometheus.MustRegister(StepDuration)
	prometheus.MustRegister(StepsTotal)

	// Installer metrics
	prometheus.MustRegister(InstallCommandsTotal)

	// Bundle metrics
	prometheus.MustRegister(BundleCacheHits)
	prometheus.MustRegister(BundleCacheMisses)

	// Preflight metrics
	prometheus.MustRegister(PreflightChecksTotal)

	// Server metrics
	prometheus.MustRegister(ServerLaunchesTotal)
	prometheus.MustRegister(ServerExitCode)

	// Infrastructure metrics
	prometheus.MustRegister(MinioOperationsTotal)
	prometheus.MustRegister(JournalWritesTotal)
}

// Handler returns an HTTP handler for the /metrics endpoint
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordStep is a helper to record step metrics
func RecordStep(step, status string, duration time.Duration) {
	StepsTotal.WithLabelValues(step, status).Inc()
	StepDuration.WithLabelValues(step).Observe(duration.Seconds())
}
