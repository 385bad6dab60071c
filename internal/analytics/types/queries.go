package types

import "time"

// RevenueQueryRequest carries the input parameters for tenant revenue
// analytics. AccountID is optional; credit series are skipped without it.
type RevenueQueryRequest struct {
	TenantID  string
	AccountID string
	Start     time.Time
	End       time.Time
}

// TimeSeriesPoint describes a single date/value pair returned by the query service.
type TimeSeriesPoint struct {
	Date  string `json:"date"`
	Value int64  `json:"value"`
}

// LabelValue represents a top-N entry such as usage type or subject.
type LabelValue struct {
	Label string `json:"label"`
	Value int64  `json:"value"`
}

// RevenueQueryResponse wraps the billing KPIs for the operator dashboard.
type RevenueQueryResponse struct {
	BilledSeries        []TimeSeriesPoint `json:"billed"`
	CollectedSeries     []TimeSeriesPoint `json:"collected"`
	CreditGranted       []TimeSeriesPoint `json:"credit_granted"`
	CreditConsumed      []TimeSeriesPoint `json:"credit_consumed"`
	TopUsageTypes       []LabelValue      `json:"top_usage_types"`
	TopSubjects         []LabelValue      `json:"top_subjects"`
	AverageInvoiceValue float64           `json:"average_invoice_value"`
	BilledEvents        int64             `json:"billed_events"`
	PaidInvoices        int64             `json:"paid_invoices"`
}
