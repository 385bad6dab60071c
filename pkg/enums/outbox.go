package enums

import "fmt"

// OutboxAggregateType maps to the aggregate_type enum in Postgres.
type OutboxAggregateType string

const (
	AggregateUsageEvent   OutboxAggregateType = "usage_event"
	AggregateInvoice      OutboxAggregateType = "invoice"
	AggregateCreditAcct   OutboxAggregateType = "billing_account"
	AggregateLedgerEntry  OutboxAggregateType = "credit_ledger_entry"
	AggregateReservation  OutboxAggregateType = "credit_reservation"
	AggregateSubscription OutboxAggregateType = "subscription"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateUsageEvent,
	AggregateInvoice,
	AggregateCreditAcct,
	AggregateLedgerEntry,
	AggregateReservation,
	AggregateSubscription,
}

// IsValid reports whether the value matches the canonical aggregate_type enum.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	for _, candidate := range validAggregateTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType maps to the event_type enum in Postgres.
type OutboxEventType string

const (
	EventUsageBilled              OutboxEventType = "usage_billed"
	EventInvoicePaid              OutboxEventType = "invoice_paid"
	EventCreditGranted            OutboxEventType = "credit_granted"
	EventCreditReserved           OutboxEventType = "credit_reserved"
	EventCreditConsumed           OutboxEventType = "credit_consumed"
	EventCreditReleased           OutboxEventType = "credit_released"
	EventCreditReservationExpired OutboxEventType = "credit_reservation_expired"
	EventSubscriptionRefilled     OutboxEventType = "subscription_refilled"
)

var validOutboxEventTypes = []OutboxEventType{
	EventUsageBilled,
	EventInvoicePaid,
	EventCreditGranted,
	EventCreditReserved,
	EventCreditConsumed,
	EventCreditReleased,
	EventCreditReservationExpired,
	EventSubscriptionRefilled,
}

// IsValid reports whether the value matches the canonical event_type enum.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}
