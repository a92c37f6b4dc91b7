package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestNewSagaMetrics(t *testing.T) {
	metrics := newSagaMetricsWithRegisterer(prometheus.NewRegistry())

	if metrics == nil {
		t.Fatal("newSagaMetricsWithRegisterer should not return nil")
	}

	if metrics.sagaStarted == nil {
		t.Error("sagaStarted counter should not be nil")
	}
	if metrics.sagaCompleted == nil {
		t.Error("sagaCompleted counter should not be nil")
	}
	if metrics.sagaCompensated == nil {
		t.Error("sagaCompensated counter should not be nil")
	}
	if metrics.stepEvents == nil {
		t.Error("stepEvents counter vec should not be nil")
	}
	if metrics.sagaDuration == nil {
		t.Error("sagaDuration histogram should not be nil")
	}
	if metrics.outboxEvents == nil {
		t.Error("outboxEvents counter should not be nil")
	}
	if metrics.activeSagas == nil {
		t.Error("activeSagas gauge should not be nil")
	}
}

func TestNewSagaMetrics_ReusesRegisteredCollectors(t *testing.T) {
	registry := prometheus.NewRegistry()

	first := newSagaMetricsWithRegisterer(registry)
	second := newSagaMetricsWithRegisterer(registry)

	first.RecordOutboxEvent()
	second.RecordOutboxEvent()

	metric := &dto.Metric{}
	if err := first.outboxEvents.Write(metric); err != nil {
		t.Fatalf("failed to write metric: %v", err)
	}
	if metric.Counter.GetValue() != 2.0 {
		t.Errorf("expected shared counter value 2.0, got %f", metric.Counter.GetValue())
	}
}

func TestSagaLifecycle(t *testing.T) {
	metrics := newSagaMetricsWithRegisterer(prometheus.NewRegistry())

	metrics.RecordSagaStarted() // active: 1
	metrics.RecordSagaStarted() // active: 2
	metrics.RecordSagaStarted() // active: 3

	metrics.RecordSagaCompleted()   // active: 2
	metrics.RecordSagaCompensated() // active: 1

	gaugeMetric := &dto.Metric{}
	if err := metrics.activeSagas.Write(gaugeMetric); err != nil {
		t.Fatalf("failed to write gauge: %v", err)
	}
	if gaugeMetric.Gauge.GetValue() != 1.0 {
		t.Errorf("expected 1 active saga, got %f", gaugeMetric.Gauge.GetValue())
	}

	startedMetric := &dto.Metric{}
	if err := metrics.sagaStarted.Write(startedMetric); err != nil {
		t.Fatalf("failed to write started metric: %v", err)
	}
	if startedMetric.Counter.GetValue() != 3.0 {
		t.Errorf("expected 3 started sagas, got %f", startedMetric.Counter.GetValue())
	}

	compensatedMetric := &dto.Metric{}
	if err := metrics.sagaCompensated.Write(compensatedMetric); err != nil {
		t.Fatalf("failed to write compensated metric: %v", err)
	}
	if compensatedMetric.Counter.GetValue() != 1.0 {
		t.Errorf("expected 1 compensated saga, got %f", compensatedMetric.Counter.GetValue())
	}
}

func TestRecordStepEvent(t *testing.T) {
	metrics := newSagaMetricsWithRegisterer(prometheus.NewRegistry())

	metrics.RecordStepEvent("stock", "ok")
	metrics.RecordStepEvent("stock", "ok")
	metrics.RecordStepEvent("coupon", "failed")

	stockMetric := &dto.Metric{}
	if err := metrics.stepEvents.WithLabelValues("stock", "ok").Write(stockMetric); err != nil {
		t.Fatalf("failed to write stock metric: %v", err)
	}
	if stockMetric.Counter.GetValue() != 2.0 {
		t.Errorf("expected 2 stock ok events, got %f", stockMetric.Counter.GetValue())
	}
}

func TestRecordSagaDuration(t *testing.T) {
	metrics := newSagaMetricsWithRegisterer(prometheus.NewRegistry())

	metrics.RecordSagaDuration(100 * time.Millisecond)
	metrics.RecordSagaDuration(500 * time.Millisecond)
	metrics.RecordSagaDuration(1 * time.Second)

	metric := &dto.Metric{}
	if err := metrics.sagaDuration.Write(metric); err != nil {
		t.Fatalf("failed to write metric: %v", err)
	}

	if metric.Histogram.GetSampleCount() != 3 {
		t.Errorf("expected 3 samples, got %d", metric.Histogram.GetSampleCount())
	}

	sum := metric.Histogram.GetSampleSum()
	if sum < 1.5 || sum > 1.7 {
		t.Errorf("expected sum around 1.6, got %f", sum)
	}
}
