package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the
// acquisition pipeline. The run-level JSON metrics file is written from the
// pipeline's own snapshot; these collectors feed the /metrics endpoint of the
// run-status server.
type Metrics struct {
	DownloadSuccess  prometheus.Counter
	DownloadFailures prometheus.Counter
	DownloadSizeMiB  prometheus.Counter
	DownloadDuration prometheus.Histogram

	CacheLookups *prometheus.CounterVec // labels: result={hit,miss}
	Transactions *prometheus.CounterVec // labels: action

	PipelineRunning prometheus.Gauge
	WorkerPoolSize  prometheus.Gauge

	UploadsTotal prometheus.Counter
}

// NewMetrics creates and registers all pipeline metrics with the default
// Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.DownloadSuccess,
		m.DownloadFailures,
		m.DownloadSizeMiB,
		m.DownloadDuration,
		m.CacheLookups,
		m.Transactions,
		m.PipelineRunning,
		m.WorkerPoolSize,
		m.UploadsTotal,
	)
	return m
}

// NewMetricsForTesting creates Metrics without registering them, avoiding
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		DownloadSuccess: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "meghanetra",
			Name:      "download_success_total",
			Help:      "Total work items that completed and validated.",
		}),
		DownloadFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "meghanetra",
			Name:      "download_failures_total",
			Help:      "Total work items that failed after retries.",
		}),
		DownloadSizeMiB: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "meghanetra",
			Name:      "download_size_mib",
			Help:      "Cumulative size of validated artifacts in MiB.",
		}),
		DownloadDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "meghanetra",
			Name:      "download_duration_seconds",
			Help:      "Wall time of one fetch strategy invocation.",
			Buckets:   []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		}),
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "meghanetra",
			Name:      "cache_lookups_total",
			Help:      "Content-addressed cache lookups by result.",
		}, []string{"result"}),
		Transactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "meghanetra",
			Name:      "transactions_total",
			Help:      "Transaction log records by action tag.",
		}, []string{"action"}),
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "meghanetra",
			Name:      "pipeline_running",
			Help:      "1 while a run is active, 0 otherwise.",
		}),
		WorkerPoolSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "meghanetra",
			Name:      "worker_pool_size",
			Help:      "Worker count recommended for the current date batch.",
		}),
		UploadsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "meghanetra",
			Name:      "uploads_total",
			Help:      "Artifacts pushed to the upload target.",
		}),
	}
}
