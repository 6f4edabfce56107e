package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RecordsIngested counts telemetry records accepted by a worker, by kind
	// ("vehicle", "phase", "sentinel").
	RecordsIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "simstats_records_ingested_total",
		Help: "Telemetry records accepted by the step reconstructor.",
	}, []string{"kind"})

	RecordsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "simstats_records_rejected_total",
		Help: "Telemetry records rejected as malformed.",
	}, []string{"reason"})

	StepsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "simstats_steps_completed_total",
		Help: "Steps that received both sentinels and were emitted.",
	})

	StepsEvicted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "simstats_steps_evicted_total",
		Help: "In-flight steps dropped by the step timeout or lag limit.",
	})

	OrphanSentinels = promauto.NewCounter(prometheus.CounterOpts{
		Name: "simstats_orphan_sentinels_total",
		Help: "Sentinels that referenced no in-flight step.",
	})

	ModuleFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "simstats_module_failures_total",
		Help: "Statistic module executions that failed or panicked.",
	}, []string{"module"})

	StepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "simstats_step_stats_seconds",
		Help:    "Time spent running the statistics pipeline for one step.",
		Buckets: prometheus.ExponentialBuckets(0.00005, 2, 14), // 50µs to ~400ms
	})

	SinkErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "simstats_sink_errors_total",
		Help: "Errors returned by output sinks.",
	}, []string{"sink"})
)

// AttachMetricsRoute serves the default Prometheus registry at /metrics.
func AttachMetricsRoute(mux *http.ServeMux) {
	mux.Handle("/metrics", promhttp.Handler())
}
