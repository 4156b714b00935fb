package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ChangeMetrics содержит метрики движка изменения заказов.
type ChangeMetrics struct {
	// Счётчики commit-операций
	changesCommitted prometheus.Counter
	changesRejected  *prometheus.CounterVec
	ordersCanceled   prometheus.Counter

	// Счётчики затронутых позиций
	positionsCanceled prometheus.Counter
	positionsAdded    prometheus.Counter

	// Гистограммы времени выполнения
	commitDuration prometheus.Histogram
	stepDuration   *prometheus.HistogramVec

	// Счётчики событий
	quotaDenied    prometheus.Counter
	timelineEvents prometheus.Counter
	outboxEvents   prometheus.Counter

	// Gauge для открытых change set'ов
	openChangeSets prometheus.Gauge
}

// NewChangeMetrics создаёт метрики движка на default registerer.
func NewChangeMetrics() *ChangeMetrics {
	return newChangeMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

func newChangeMetricsWithRegisterer(registerer prometheus.Registerer) *ChangeMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &ChangeMetrics{
		changesCommitted: registerCounter(registerer, prometheus.CounterOpts{
			Name: "tcs_changes_committed_total",
			Help: "Total number of order change sets committed successfully",
		}),
		changesRejected: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "tcs_changes_rejected_total",
			Help: "Total number of order change sets rejected grouped by reason",
		}, []string{"reason"}),
		ordersCanceled: registerCounter(registerer, prometheus.CounterOpts{
			Name: "tcs_orders_canceled_total",
			Help: "Total number of order-level cancellations",
		}),
		positionsCanceled: registerCounter(registerer, prometheus.CounterOpts{
			Name: "tcs_positions_canceled_total",
			Help: "Total number of positions canceled via change sets",
		}),
		positionsAdded: registerCounter(registerer, prometheus.CounterOpts{
			Name: "tcs_positions_added_total",
			Help: "Total number of positions added via change sets",
		}),
		commitDuration: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "tcs_change_commit_duration_seconds",
			Help:    "Duration of change set commits in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		stepDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "tcs_change_step_duration_seconds",
			Help:    "Duration of individual commit steps in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"step"}),
		quotaDenied: registerCounter(registerer, prometheus.CounterOpts{
			Name: "tcs_quota_denied_total",
			Help: "Total number of change sets rejected due to exhausted quota",
		}),
		timelineEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "tcs_timeline_events_total",
			Help: "Total number of timeline events recorded",
		}),
		outboxEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "tcs_outbox_events_total",
			Help: "Total number of outbox events enqueued",
		}),
		openChangeSets: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "tcs_open_change_sets",
			Help: "Number of currently open change sets",
		}),
	}
}

func registerCounter(registerer prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	collector := prometheus.NewCounter(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Counter)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter %q: %v", opts.Name, err))
	}
	return collector
}

func registerCounterVec(registerer prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	collector := prometheus.NewCounterVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter vec %q: %v", opts.Name, err))
	}
	return collector
}

func registerGauge(registerer prometheus.Registerer, opts prometheus.GaugeOpts) prometheus.Gauge {
	collector := prometheus.NewGauge(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Gauge)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register gauge %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogram(registerer prometheus.Registerer, opts prometheus.HistogramOpts) prometheus.Histogram {
	collector := prometheus.NewHistogram(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Histogram)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogramVec(registerer prometheus.Registerer, opts prometheus.HistogramOpts, labels []string) *prometheus.HistogramVec {
	collector := prometheus.NewHistogramVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.HistogramVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram vec %q: %v", opts.Name, err))
	}
	return collector
}

// RecordChangeCommitted увеличивает счётчик успешных commit'ов.
func (m *ChangeMetrics) RecordChangeCommitted() {
	m.changesCommitted.Inc()
}

// RecordChangeRejected увеличивает счётчик отклонённых change set'ов.
func (m *ChangeMetrics) RecordChangeRejected(reason string) {
	m.changesRejected.WithLabelValues(reason).Inc()
}

// RecordOrderCanceled увеличивает счётчик отмен заказов.
func (m *ChangeMetrics) RecordOrderCanceled() {
	m.ordersCanceled.Inc()
}

// RecordPositionsCanceled увеличивает счётчик отменённых позиций.
func (m *ChangeMetrics) RecordPositionsCanceled(n int) {
	m.positionsCanceled.Add(float64(n))
}

// RecordPositionsAdded увеличивает счётчик добавленных позиций.
func (m *ChangeMetrics) RecordPositionsAdded(n int) {
	m.positionsAdded.Add(float64(n))
}

// RecordCommitDuration записывает время выполнения commit.
func (m *ChangeMetrics) RecordCommitDuration(duration time.Duration) {
	m.commitDuration.Observe(duration.Seconds())
}

// RecordStepDuration записывает время выполнения шага commit.
func (m *ChangeMetrics) RecordStepDuration(step string, duration time.Duration) {
	m.stepDuration.WithLabelValues(step).Observe(duration.Seconds())
}

// RecordQuotaDenied увеличивает счётчик отказов по квоте.
func (m *ChangeMetrics) RecordQuotaDenied() {
	m.quotaDenied.Inc()
}

// RecordTimelineEvent увеличивает счётчик событий timeline.
func (m *ChangeMetrics) RecordTimelineEvent() {
	m.timelineEvents.Inc()
}

// RecordOutboxEvent увеличивает счётчик событий outbox.
func (m *ChangeMetrics) RecordOutboxEvent() {
	m.outboxEvents.Inc()
}

// RecordChangeOpened увеличивает количество открытых change set'ов.
func (m *ChangeMetrics) RecordChangeOpened() {
	m.openChangeSets.Inc()
}

// RecordChangeClosed уменьшает количество открытых change set'ов.
func (m *ChangeMetrics) RecordChangeClosed() {
	m.openChangeSets.Dec()
}
