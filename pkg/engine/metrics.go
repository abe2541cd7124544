package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// metricsRegisterer is the registration surface the engine needs.
// prometheus.Registerer satisfies it.
type metricsRegisterer = prometheus.Registerer

// engineMetrics holds the Prometheus metrics for one engine.
type engineMetrics struct {
	batches           prometheus.Counter
	commits           prometheus.Counter
	mutations         *prometheus.CounterVec
	suspenseFallbacks prometheus.Counter
	failuresRecovered *prometheus.CounterVec
	hydrationMismatch prometheus.Counter
	batchDuration     prometheus.Histogram
}

// newEngineMetrics registers the engine metrics on the given registerer.
func newEngineMetrics(reg metricsRegisterer) *engineMetrics {
	factory := promauto.With(reg)

	return &engineMetrics{
		batches: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "loom",
			Name:      "batches_total",
			Help:      "Scheduled reconciliation batches processed.",
		}),
		commits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "loom",
			Name:      "commits_total",
			Help:      "Commit phases run (one per non-empty batch).",
		}),
		mutations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "loom",
			Name:      "mutations_total",
			Help:      "Output mutations applied, by operation.",
		}, []string{"op"}),
		suspenseFallbacks: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "loom",
			Name:      "suspense_fallbacks_total",
			Help:      "Suspense boundaries that lost the race and showed their fallback.",
		}),
		failuresRecovered: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "loom",
			Name:      "failures_recovered_total",
			Help:      "Failures recovered by an error boundary, by kind.",
		}, []string{"kind"}),
		hydrationMismatch: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "loom",
			Name:      "hydration_mismatches_total",
			Help:      "Hydration attempts aborted by a structural mismatch.",
		}),
		batchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "loom",
			Name:      "batch_duration_seconds",
			Help:      "Work + commit duration per batch.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

func (m *engineMetrics) observeBatch(seconds float64) {
	if m == nil {
		return
	}
	m.batches.Inc()
	m.batchDuration.Observe(seconds)
}

func (m *engineMetrics) observeCommit(muts []Mutation) {
	if m == nil {
		return
	}
	m.commits.Inc()
	for _, mu := range muts {
		m.mutations.WithLabelValues(mu.Op.String()).Inc()
	}
}

func (m *engineMetrics) observeFallback() {
	if m == nil {
		return
	}
	m.suspenseFallbacks.Inc()
}

func (m *engineMetrics) observeRecovered(kind string) {
	if m == nil {
		return
	}
	m.failuresRecovered.WithLabelValues(kind).Inc()
}

func (m *engineMetrics) observeHydrationMismatch() {
	if m == nil {
		return
	}
	m.hydrationMismatch.Inc()
}
