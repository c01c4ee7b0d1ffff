package metrics

import "github.com/prometheus/client_golang/prometheus"

// Index build and snapshot lifecycle metrics.
var (
	BuildDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "build_duration_seconds",
			Help:      "Index build duration",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
		[]string{"status"},
	)

	BuildState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "build_state",
			Help:      "1 for the builder's current state, 0 otherwise",
		},
		[]string{"state"},
	)

	BuildChunksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "build_chunks_total",
			Help:      "Chunks processed by index builds",
		},
		[]string{"outcome"}, // indexed / skipped / excluded / enrich_failed
	)

	SnapshotChunks = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "snapshot_chunks",
			Help:      "Chunks in the published snapshot",
		},
	)

	SnapshotsPublishedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshots_published_total",
			Help:      "Snapshots made visible to queries",
		},
	)

	SnapshotsRetiredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshots_retired_total",
			Help:      "Snapshots released after their last reader finished",
		},
	)
)

var buildMetricsRegistered bool

// RegisterBuildMetrics registers build and snapshot metrics. Must be called once from main.
func RegisterBuildMetrics() {
	if buildMetricsRegistered {
		return
	}
	prometheus.MustRegister(
		BuildDuration,
		BuildState,
		BuildChunksTotal,
		SnapshotChunks,
		SnapshotsPublishedTotal,
		SnapshotsRetiredTotal,
	)
	buildMetricsRegistered = true
}
