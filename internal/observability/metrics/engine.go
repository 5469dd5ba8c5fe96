// Package metrics provides Prometheus metric collectors for the
// identification engine and its datastore.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// EngineMetrics contains Prometheus metrics for identification engine
// operations.
type EngineMetrics struct {
	registry *prometheus.Registry

	identificationsTotal   *prometheus.CounterVec
	categorizeRunsTotal    *prometheus.CounterVec
	categorizeDuration     prometheus.Histogram
	categoryAssignedTotal  *prometheus.CounterVec
	disagreementsTotal     *prometheus.CounterVec
	currencyConflictsTotal prometheus.Counter
	taxonChangeTotal       *prometheus.CounterVec
	taxonChangeSkipped     prometheus.Counter
	recomputeQueueDepth    prometheus.Gauge

	collectors []prometheus.Collector
}

// NewEngineMetrics creates and registers new engine metrics
func NewEngineMetrics(registry *prometheus.Registry) (*EngineMetrics, error) {
	m := &EngineMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *EngineMetrics) initMetrics() {
	m.identificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ident_identifications_total",
			Help: "Total number of identification operations",
		},
		[]string{"operation", "status"}, // operation: create, withdraw, restore, delete; status: success, error
	)

	m.categorizeRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ident_categorize_runs_total",
			Help: "Total number of categorization passes",
		},
		[]string{"status"},
	)

	m.categorizeDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ident_categorize_duration_seconds",
			Help:    "Time taken for one categorization pass",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
	)

	m.categoryAssignedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ident_category_assigned_total",
			Help: "Total category assignments persisted",
		},
		[]string{"category"},
	)

	m.disagreementsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ident_disagreements_total",
			Help: "Total disagreement classifications at creation",
		},
		[]string{"type"}, // none, branch, implicit
	)

	m.currencyConflictsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ident_currency_conflicts_total",
			Help: "Benign currency uniqueness races absorbed",
		},
	)

	m.taxonChangeTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ident_taxon_change_identifications_total",
			Help: "Identifications created or rewritten by taxon-change propagation",
		},
		[]string{"change_type", "action"}, // action: replayed, rewritten, cleared
	)

	m.taxonChangeSkipped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ident_taxon_change_skipped_total",
			Help: "Identifications skipped during taxon-change propagation",
		},
	)

	m.recomputeQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ident_recompute_queue_depth",
			Help: "Observations currently queued for recategorization",
		},
	)

	m.collectors = []prometheus.Collector{
		m.identificationsTotal,
		m.categorizeRunsTotal,
		m.categorizeDuration,
		m.categoryAssignedTotal,
		m.disagreementsTotal,
		m.currencyConflictsTotal,
		m.taxonChangeTotal,
		m.taxonChangeSkipped,
		m.recomputeQueueDepth,
	}
}

// Describe implements prometheus.Collector
func (m *EngineMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, collector := range m.collectors {
		collector.Describe(ch)
	}
}

// Collect implements prometheus.Collector
func (m *EngineMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, collector := range m.collectors {
		collector.Collect(ch)
	}
}

// RecordOperation records an identification operation outcome.
func (m *EngineMetrics) RecordOperation(operation, status string) {
	if m == nil {
		return
	}
	m.identificationsTotal.WithLabelValues(operation, status).Inc()
}

// RecordCategorizeRun records one categorization pass.
func (m *EngineMetrics) RecordCategorizeRun(status string, seconds float64) {
	if m == nil {
		return
	}
	m.categorizeRunsTotal.WithLabelValues(status).Inc()
	m.categorizeDuration.Observe(seconds)
}

// RecordCategoryAssigned records persisted category assignments.
func (m *EngineMetrics) RecordCategoryAssigned(category string, count int) {
	if m == nil {
		return
	}
	m.categoryAssignedTotal.WithLabelValues(category).Add(float64(count))
}

// RecordDisagreement records a disagreement classification result.
func (m *EngineMetrics) RecordDisagreement(disagreementType string) {
	if m == nil {
		return
	}
	if disagreementType == "" {
		disagreementType = "none"
	}
	m.disagreementsTotal.WithLabelValues(disagreementType).Inc()
}

// RecordCurrencyConflict records a benign currency race.
func (m *EngineMetrics) RecordCurrencyConflict() {
	if m == nil {
		return
	}
	m.currencyConflictsTotal.Inc()
}

// RecordTaxonChange records a taxon-change propagation action.
func (m *EngineMetrics) RecordTaxonChange(changeType, action string) {
	if m == nil {
		return
	}
	m.taxonChangeTotal.WithLabelValues(changeType, action).Inc()
}

// RecordTaxonChangeSkipped records a skipped record during propagation.
func (m *EngineMetrics) RecordTaxonChangeSkipped() {
	if m == nil {
		return
	}
	m.taxonChangeSkipped.Inc()
}

// SetRecomputeQueueDepth reports the recompute queue depth.
func (m *EngineMetrics) SetRecomputeQueueDepth(depth int) {
	if m == nil {
		return
	}
	m.recomputeQueueDepth.Set(float64(depth))
}
