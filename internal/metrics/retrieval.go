package metrics

import "github.com/prometheus/client_golang/prometheus"

// Retrieval Prometheus metrics.
var (
	RetrievalDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "retrieval_duration_seconds",
			Help:      "End-to-end retrieval latency",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"mode", "status"},
	)

	RetrievalStageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "retrieval_stage_duration_seconds",
			Help:      "Per-stage retrieval latency",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"stage"}, // embed / dense / sparse / fuse / rerank
	)

	RetrievalCandidates = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "retrieval_candidates",
			Help:      "Candidates returned per index before fusion",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		},
		[]string{"index"},
	)

	DuplicatesCollapsedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fusion_duplicates_collapsed_total",
			Help:      "Candidates dropped because their normalised text duplicated a better candidate",
		},
	)

	RerankFallbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rerank_fallbacks_total",
			Help:      "Queries that kept fusion order because reranking failed",
		},
		[]string{"reason"}, // timeout / error
	)

	FilterPlansTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "filter_plans_total",
			Help:      "Metadata filter strategy chosen per query",
		},
		[]string{"plan"}, // none / pre / post / empty
	)

	EmptyResultsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "empty_results_total",
			Help:      "Queries that found no relevant content",
		},
	)
)

var retrievalMetricsRegistered bool

// RegisterRetrievalMetrics registers query-path metrics. Must be called once from main.
func RegisterRetrievalMetrics() {
	if retrievalMetricsRegistered {
		return
	}
	prometheus.MustRegister(
		RetrievalDuration,
		RetrievalStageDuration,
		RetrievalCandidates,
		DuplicatesCollapsedTotal,
		RerankFallbacksTotal,
		FilterPlansTotal,
		EmptyResultsTotal,
	)
	retrievalMetricsRegistered = true
}
