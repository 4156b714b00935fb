package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestNewChangeMetrics(t *testing.T) {
	metrics := NewChangeMetrics()

	if metrics == nil {
		t.Fatal("NewChangeMetrics should not return nil")
	}

	if metrics.changesCommitted == nil {
		t.Error("changesCommitted counter should not be nil")
	}
	if metrics.changesRejected == nil {
		t.Error("changesRejected counter vec should not be nil")
	}
	if metrics.ordersCanceled == nil {
		t.Error("ordersCanceled counter should not be nil")
	}
	if metrics.positionsCanceled == nil {
		t.Error("positionsCanceled counter should not be nil")
	}
	if metrics.positionsAdded == nil {
		t.Error("positionsAdded counter should not be nil")
	}
	if metrics.commitDuration == nil {
		t.Error("commitDuration histogram should not be nil")
	}
	if metrics.stepDuration == nil {
		t.Error("stepDuration histogram vec should not be nil")
	}
	if metrics.quotaDenied == nil {
		t.Error("quotaDenied counter should not be nil")
	}
	if metrics.openChangeSets == nil {
		t.Error("openChangeSets gauge should not be nil")
	}
}

func TestNewChangeMetrics_ReusesRegisteredCollectors(t *testing.T) {
	registry := prometheus.NewRegistry()

	first := newChangeMetricsWithRegisterer(registry)
	second := newChangeMetricsWithRegisterer(registry)

	if first.changesCommitted != second.changesCommitted {
		t.Error("expected committed counter to be reused on re-register")
	}
	if first.openChangeSets != second.openChangeSets {
		t.Error("expected gauge to be reused on re-register")
	}
}

func TestChangeMetrics_Counters(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := newChangeMetricsWithRegisterer(registry)

	metrics.RecordChangeCommitted()
	metrics.RecordChangeCommitted()
	metrics.RecordPositionsCanceled(3)
	metrics.RecordQuotaDenied()
	metrics.RecordCommitDuration(25 * time.Millisecond)
	metrics.RecordChangeOpened()

	if got := counterValue(t, metrics.changesCommitted); got != 2 {
		t.Fatalf("expected 2 committed, got %v", got)
	}
	if got := counterValue(t, metrics.positionsCanceled); got != 3 {
		t.Fatalf("expected 3 positions canceled, got %v", got)
	}
	if got := counterValue(t, metrics.quotaDenied); got != 1 {
		t.Fatalf("expected 1 quota denial, got %v", got)
	}
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()

	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	return m.GetCounter().GetValue()
}
