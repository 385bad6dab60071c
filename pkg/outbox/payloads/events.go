package payloads

import (
	"time"

	"github.com/atlasops/atlasops-backend/pkg/enums"
	"github.com/google/uuid"
)

// UsageBilledEvent is emitted once per usage event priced onto an invoice.
type UsageBilledEvent struct {
	UsageEventID        uuid.UUID            `json:"usage_event_id"`
	TenantID            uuid.UUID            `json:"tenant_id"`
	EventType           enums.UsageEventType `json:"event_type"`
	SubjectID           *uuid.UUID           `json:"subject_id,omitempty"`
	Ordinal             int64                `json:"ordinal"`
	UnitPriceMinorUnits int64                `json:"unit_price_minor_units"`
	AmountMinorUnits    int64                `json:"amount_minor_units"`
	PeriodStart         string               `json:"period_start"`
	PeriodEnd           string               `json:"period_end"`
	InvoiceID           uuid.UUID            `json:"invoice_id"`
}

// InvoicePaidEvent is emitted when an invoice settles.
type InvoicePaidEvent struct {
	InvoiceID        uuid.UUID           `json:"invoice_id"`
	TenantID         uuid.UUID           `json:"tenant_id"`
	PeriodStart      string              `json:"period_start"`
	PeriodEnd        string              `json:"period_end"`
	AmountMinorUnits int64               `json:"amount_minor_units"`
	Currency         enums.Currency      `json:"currency"`
	Method           enums.PaymentMethod `json:"method"`
}

// CreditGrantedEvent is emitted when spendable credit is added.
type CreditGrantedEvent struct {
	EntryID          uuid.UUID                `json:"entry_id"`
	AccountID        uuid.UUID                `json:"account_id"`
	AmountMinorUnits int64                    `json:"amount_minor_units"`
	Reason           enums.CreditLedgerReason `json:"reason"`
	AvailableAfter   int64                    `json:"available_after_minor_units"`
}

// CreditReservedEvent is emitted when a reservation activates.
type CreditReservedEvent struct {
	ReservationID    uuid.UUID `json:"reservation_id"`
	AccountID        uuid.UUID `json:"account_id"`
	AmountMinorUnits int64     `json:"amount_minor_units"`
	RefType          string    `json:"ref_type"`
	RefID            string    `json:"ref_id"`
	OperatorOverride bool      `json:"operator_override"`
}

// CreditSettledEvent covers reservation consume, release, and expiry. The
// status field carries the terminal state the reservation landed in.
type CreditSettledEvent struct {
	ReservationID    uuid.UUID               `json:"reservation_id"`
	AccountID        uuid.UUID               `json:"account_id"`
	AmountMinorUnits int64                   `json:"amount_minor_units"`
	Status           enums.ReservationStatus `json:"status"`
}

// SubscriptionRefilledEvent is emitted once per applied refill cycle.
type SubscriptionRefilledEvent struct {
	SubscriptionID   uuid.UUID `json:"subscription_id"`
	AccountID        uuid.UUID `json:"account_id"`
	EntryID          uuid.UUID `json:"entry_id"`
	AmountMinorUnits int64     `json:"amount_minor_units"`
	CycleAt          time.Time `json:"cycle_at"`
	NextRefillAt     time.Time `json:"next_refill_at"`
}
