package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
)

// ConsolidationMetrics covers bulk sends, reminder creation and delivery reports.
type ConsolidationMetrics struct {
	bulkResults         *prometheus.CounterVec
	bulkDuration        *prometheus.HistogramVec
	bulkBatchSize       prometheus.Observer
	remindersCreated    *prometheus.CounterVec
	deliveryStatuses    *prometheus.CounterVec
	collaboratorRetries *prometheus.CounterVec
	candidates          prometheus.Observer
}

var (
	consolidationMetricsOnce sync.Once
	consolidationMetrics     *ConsolidationMetrics
)

func Consolidation() *ConsolidationMetrics {
	return ConsolidationWithConfig(Config{})
}

func ConsolidationWithConfig(cfg Config) *ConsolidationMetrics {
	consolidationMetricsOnce.Do(func() {
		consolidationMetrics = newConsolidationMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return consolidationMetrics
}

// ResetConsolidationMetricsForTest resets the consolidation metrics singleton for tests.
func ResetConsolidationMetricsForTest() {
	consolidationMetricsOnce = sync.Once{}
	consolidationMetrics = nil
}

// NewConsolidationMetricsForTest builds an instance bound to registerer.
func NewConsolidationMetricsForTest(registerer prometheus.Registerer) *ConsolidationMetrics {
	return newConsolidationMetrics(registerer, Config{ServiceName: "reminder", Environment: "test"})
}

func newConsolidationMetrics(registerer prometheus.Registerer, cfg Config) *ConsolidationMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	constLabels := cfg.constLabels()

	bulkBatchSize := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:        "reminder_bulk_batch_size",
		Help:        "Customers per bulk send request.",
		Buckets:     []float64{1, 5, 10, 25, 50, 100, 150},
		ConstLabels: constLabels,
	})
	candidates := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:        "reminder_candidates_built",
		Help:        "Consolidation candidates produced per build.",
		Buckets:     []float64{0, 1, 5, 10, 25, 50, 100, 250, 500},
		ConstLabels: constLabels,
	})
	m := &ConsolidationMetrics{
		bulkResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "reminder_bulk_results_total",
			Help:        "Per-customer bulk send outcomes by failure reason.",
			ConstLabels: constLabels,
		}, []string{"outcome", "reason"}),
		bulkDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "reminder_bulk_duration_seconds",
			Help:        "Bulk send latency by trigger.",
			Buckets:     []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			ConstLabels: constLabels,
		}, []string{"trigger"}),
		bulkBatchSize: bulkBatchSize,
		remindersCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "reminder_consolidated_created_total",
			Help:        "Consolidated reminders created by initial status and escalation level.",
			ConstLabels: constLabels,
		}, []string{"status", "level"}),
		deliveryStatuses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "reminder_delivery_status_total",
			Help:        "Delivery reports applied to reminders.",
			ConstLabels: constLabels,
		}, []string{"status"}),
		collaboratorRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "reminder_collaborator_retries_total",
			Help:        "Retried collaborator calls.",
			ConstLabels: constLabels,
		}, []string{"collaborator"}),
		candidates: candidates,
	}

	registerCollector(registerer, m.bulkResults)
	registerCollector(registerer, m.bulkDuration)
	registerCollector(registerer, bulkBatchSize)
	registerCollector(registerer, m.remindersCreated)
	registerCollector(registerer, m.deliveryStatuses)
	registerCollector(registerer, m.collaboratorRetries)
	registerCollector(registerer, candidates)
	return m
}

func (m *ConsolidationMetrics) IncBulkResult(success bool, reason string) {
	if m == nil {
		return
	}
	outcome := OutcomeSucceeded
	if !success {
		outcome = OutcomeFailed
	}
	m.bulkResults.WithLabelValues(outcome, reason).Inc()
}

func (m *ConsolidationMetrics) ObserveBulk(trigger string, size int, duration time.Duration) {
	if m == nil {
		return
	}
	m.bulkDuration.WithLabelValues(trigger).Observe(duration.Seconds())
	m.bulkBatchSize.Observe(float64(size))
}

func (m *ConsolidationMetrics) IncReminderCreated(status, level string) {
	if m == nil {
		return
	}
	m.remindersCreated.WithLabelValues(status, level).Inc()
}

func (m *ConsolidationMetrics) IncDeliveryStatus(status string) {
	if m == nil {
		return
	}
	m.deliveryStatuses.WithLabelValues(status).Inc()
}

func (m *ConsolidationMetrics) IncCollaboratorRetry(collaborator string) {
	if m == nil {
		return
	}
	m.collaboratorRetries.WithLabelValues(collaborator).Inc()
}

func (m *ConsolidationMetrics) ObserveCandidates(count int) {
	if m == nil {
		return
	}
	m.candidates.Observe(float64(count))
}
