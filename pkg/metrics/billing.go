package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// BillingMetrics records billing engine activity.
type BillingMetrics struct {
	usageBilled     *prometheus.CounterVec
	creditOps       *prometheus.CounterVec
	opDuration      *prometheus.HistogramVec
	outboxPublished prometheus.Counter
	outboxFailed    prometheus.Counter
}

// NewBillingMetrics registers the billing engine metrics on the provided registerer.
func NewBillingMetrics(reg prometheus.Registerer) *BillingMetrics {
	if reg == nil {
		return &BillingMetrics{}
	}
	usageBilled := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "usage_events_billed",
		Help: "Usage events billed onto invoices.",
	}, []string{"event_type"})
	creditOps := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "credit_operations",
		Help: "Credit ledger operations by outcome.",
	}, []string{"operation", "outcome"})
	opDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "billing_operation_duration_seconds",
		Help:    "Duration of billing engine operations in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})
	outboxPublished := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "outbox_events_published",
		Help: "Outbox events published to Pub/Sub.",
	})
	outboxFailed := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "outbox_events_failed",
		Help: "Outbox publish attempts that failed.",
	})
	reg.MustRegister(usageBilled, creditOps, opDuration, outboxPublished, outboxFailed)
	return &BillingMetrics{
		usageBilled:     usageBilled,
		creditOps:       creditOps,
		opDuration:      opDuration,
		outboxPublished: outboxPublished,
		outboxFailed:    outboxFailed,
	}
}

// IncUsageBilled increments the billed counter for the event type.
func (b *BillingMetrics) IncUsageBilled(eventType string) {
	if b == nil || b.usageBilled == nil {
		return
	}
	b.usageBilled.WithLabelValues(normalizeLabel(eventType)).Inc()
}

// IncCreditOperation increments the credit operation counter.
func (b *BillingMetrics) IncCreditOperation(operation, outcome string) {
	if b == nil || b.creditOps == nil {
		return
	}
	b.creditOps.WithLabelValues(normalizeLabel(operation), normalizeLabel(outcome)).Inc()
}

// ObserveOperation records the duration for the named operation.
func (b *BillingMetrics) ObserveOperation(operation string, duration time.Duration) {
	if b == nil || b.opDuration == nil {
		return
	}
	b.opDuration.WithLabelValues(normalizeLabel(operation)).Observe(duration.Seconds())
}

// IncOutboxPublished increments the published counter.
func (b *BillingMetrics) IncOutboxPublished() {
	if b == nil || b.outboxPublished == nil {
		return
	}
	b.outboxPublished.Inc()
}

// IncOutboxFailed increments the failed counter.
func (b *BillingMetrics) IncOutboxFailed() {
	if b == nil || b.outboxFailed == nil {
		return
	}
	b.outboxFailed.Inc()
}
