package types

import (
	"time"

	cbigquery "cloud.google.com/go/bigquery"
)

// BillingEventRow mirrors the billing_events BigQuery schema. Usage billing
// and invoice settlement events land here, one row per outbox event.
type BillingEventRow struct {
	EventID             string             `bigquery:"event_id"`
	EventType           string             `bigquery:"event_type"`
	OccurredAt          time.Time          `bigquery:"occurred_at"`
	TenantID            *string            `bigquery:"tenant_id"`
	InvoiceID           *string            `bigquery:"invoice_id"`
	UsageEventID        *string            `bigquery:"usage_event_id"`
	UsageType           *string            `bigquery:"usage_type"`
	SubjectID           *string            `bigquery:"subject_id"`
	Ordinal             *int64             `bigquery:"ordinal"`
	UnitPriceMinorUnits *int64             `bigquery:"unit_price_minor_units"`
	AmountMinorUnits    *int64             `bigquery:"amount_minor_units"`
	Currency            *string            `bigquery:"currency"`
	Method              *string            `bigquery:"method"`
	PeriodStart         *string            `bigquery:"period_start"`
	PeriodEnd           *string            `bigquery:"period_end"`
	Payload             cbigquery.NullJSON `bigquery:"payload"`
}

// CreditEventRow mirrors the credit_events BigQuery schema. Every ledger
// and reservation lifecycle event lands here.
type CreditEventRow struct {
	EventID                  string             `bigquery:"event_id"`
	EventType                string             `bigquery:"event_type"`
	OccurredAt               time.Time          `bigquery:"occurred_at"`
	AccountID                string             `bigquery:"account_id"`
	EntryID                  *string            `bigquery:"entry_id"`
	ReservationID            *string            `bigquery:"reservation_id"`
	SubscriptionID           *string            `bigquery:"subscription_id"`
	AmountMinorUnits         *int64             `bigquery:"amount_minor_units"`
	Reason                   *string            `bigquery:"reason"`
	Status                   *string            `bigquery:"status"`
	RefType                  *string            `bigquery:"ref_type"`
	RefID                    *string            `bigquery:"ref_id"`
	OperatorOverride         *bool              `bigquery:"operator_override"`
	AvailableAfterMinorUnits *int64             `bigquery:"available_after_minor_units"`
	Payload                  cbigquery.NullJSON `bigquery:"payload"`
}
