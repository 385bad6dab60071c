package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestBillingMetricsExportsCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewBillingMetrics(reg)
	metrics.IncUsageBilled("report.finalized")
	metrics.IncCreditOperation("reserve", "ok")
	metrics.IncCreditOperation("reserve", "insufficient")
	metrics.ObserveOperation("reserve", 30*time.Millisecond)
	metrics.IncOutboxPublished()
	metrics.IncOutboxFailed()

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}

	if got, err := fetchCounterValue(mfs, "usage_events_billed", "event_type", "report.finalized"); err != nil {
		t.Fatalf("fetch usage billed: %v", err)
	} else if got != 1 {
		t.Fatalf("expected billed=1, got %f", got)
	}

	if got, err := fetchCounterValue(mfs, "credit_operations", "outcome", "insufficient"); err != nil {
		t.Fatalf("fetch credit ops: %v", err)
	} else if got != 1 {
		t.Fatalf("expected insufficient=1, got %f", got)
	}

	if got, err := fetchHistogramSum(mfs, "billing_operation_duration_seconds", "operation", "reserve"); err != nil {
		t.Fatalf("fetch duration: %v", err)
	} else if got <= 0 {
		t.Fatalf("expected duration sum > 0, got %f", got)
	}

	if findMetricFamily(mfs, "outbox_events_published") == nil {
		t.Fatal("outbox published counter not registered")
	}
	if findMetricFamily(mfs, "outbox_events_failed") == nil {
		t.Fatal("outbox failed counter not registered")
	}
}

func TestBillingMetricsNilSafe(t *testing.T) {
	var metrics *BillingMetrics
	metrics.IncUsageBilled("report.finalized")
	metrics.IncCreditOperation("grant", "ok")
	metrics.ObserveOperation("grant", time.Millisecond)
	metrics.IncOutboxPublished()
	metrics.IncOutboxFailed()

	empty := NewBillingMetrics(nil)
	empty.IncUsageBilled("report.finalized")
	empty.IncOutboxPublished()
}
