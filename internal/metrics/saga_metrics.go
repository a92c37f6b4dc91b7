package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SagaMetrics содержит метрики saga-координатора.
type SagaMetrics struct {
	// Счётчики жизненного цикла саги
	sagaStarted     prometheus.Counter
	sagaCompleted   prometheus.Counter
	sagaCompensated prometheus.Counter

	// События шагов: label step (stock/coupon/point/payment/delivery),
	// label result (ok/failed/compensated)
	stepEvents *prometheus.CounterVec

	// Время от создания заказа до терминального статуса
	sagaDuration prometheus.Histogram

	// События, записанные координатором в outbox
	outboxEvents prometheus.Counter

	// Gauge для активных саг
	activeSagas prometheus.Gauge
}

// NewSagaMetrics создаёт новый экземпляр метрик saga.
func NewSagaMetrics() *SagaMetrics {
	return newSagaMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

func newSagaMetricsWithRegisterer(registerer prometheus.Registerer) *SagaMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &SagaMetrics{
		sagaStarted: registerCounter(registerer, prometheus.CounterOpts{
			Name: "fulfillment_saga_started_total",
			Help: "Total number of order sagas started",
		}),
		sagaCompleted: registerCounter(registerer, prometheus.CounterOpts{
			Name: "fulfillment_saga_completed_total",
			Help: "Total number of order sagas completed successfully",
		}),
		sagaCompensated: registerCounter(registerer, prometheus.CounterOpts{
			Name: "fulfillment_saga_compensated_total",
			Help: "Total number of order sagas rolled back by compensation",
		}),
		stepEvents: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "fulfillment_saga_step_events_total",
			Help: "Total number of saga step events grouped by step and result",
		}, []string{"step", "result"}),
		sagaDuration: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "fulfillment_saga_duration_seconds",
			Help:    "Time from order placement to a terminal status in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900, 3600},
		}),
		outboxEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "fulfillment_saga_outbox_events_total",
			Help: "Total number of outbox events emitted by the coordinator",
		}),
		activeSagas: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "fulfillment_active_sagas",
			Help: "Number of currently active order sagas",
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

// RecordSagaStarted увеличивает счётчик запущенных саг.
func (m *SagaMetrics) RecordSagaStarted() {
	m.sagaStarted.Inc()
	m.activeSagas.Inc()
}

// RecordSagaCompleted увеличивает счётчик завершённых саг.
func (m *SagaMetrics) RecordSagaCompleted() {
	m.sagaCompleted.Inc()
	m.activeSagas.Dec()
}

// RecordSagaCompensated увеличивает счётчик откаченных саг.
func (m *SagaMetrics) RecordSagaCompensated() {
	m.sagaCompensated.Inc()
	m.activeSagas.Dec()
}

// RecordStepEvent учитывает событие шага саги.
func (m *SagaMetrics) RecordStepEvent(step, result string) {
	m.stepEvents.WithLabelValues(step, result).Inc()
}

// RecordSagaDuration записывает время жизни саги до терминального статуса.
func (m *SagaMetrics) RecordSagaDuration(duration time.Duration) {
	m.sagaDuration.Observe(duration.Seconds())
}

// RecordOutboxEvent увеличивает счётчик событий, записанных в outbox.
func (m *SagaMetrics) RecordOutboxEvent() {
	m.outboxEvents.Inc()
}
