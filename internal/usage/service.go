package usage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/atlasops/atlasops-backend/internal/periods"
	"github.com/atlasops/atlasops-backend/internal/tenantbilling"
	dbpkg "github.com/atlasops/atlasops-backend/pkg/db"
	"github.com/atlasops/atlasops-backend/pkg/db/models"
	"github.com/atlasops/atlasops-backend/pkg/enums"
	pkgerrors "github.com/atlasops/atlasops-backend/pkg/errors"
	"github.com/atlasops/atlasops-backend/pkg/metrics"
	"github.com/atlasops/atlasops-backend/pkg/outbox"
)

type profileEnsurer interface {
	EnsureProfileTx(ctx context.Context, tx *gorm.DB, tenantID uuid.UUID) (*tenantbilling.Profile, error)
}

type invoiceAggregator interface {
	GetOrCreateOpenTx(ctx context.Context, tx *gorm.DB, tenantID uuid.UUID, period periods.Period, currency enums.Currency, taxRateBps int) (*models.Invoice, error)
	AddUsageLineTx(ctx context.Context, tx *gorm.DB, invoice *models.Invoice, event *models.UsageEvent) (*models.InvoiceLine, error)
	FindUsageLineTx(ctx context.Context, tx *gorm.DB, invoiceID, usageEventID uuid.UUID) (*models.InvoiceLine, error)
	RecalcTotalsTx(ctx context.Context, tx *gorm.DB, invoiceID uuid.UUID) (*models.Invoice, error)
}

type outboxPublisher interface {
	EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// ServiceParams groups dependencies for the usage metering service.
// Metrics is optional; the counters are nil-safe.
type ServiceParams struct {
	Repo     Repository
	Lock     dbpkg.LockRunner
	Profiles profileEnsurer
	Invoices invoiceAggregator
	Outbox   outboxPublisher
	Metrics  *metrics.BillingMetrics
}

// Service meters billable events and bills them onto the period invoice.
type Service struct {
	repo     Repository
	lock     dbpkg.LockRunner
	profiles profileEnsurer
	invoices invoiceAggregator
	outbox   outboxPublisher
	metrics  *metrics.BillingMetrics
}

// NewService builds a usage metering service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Repo == nil {
		return nil, errors.New("repo is required")
	}
	if params.Lock == nil {
		return nil, errors.New("lock runner is required")
	}
	if params.Profiles == nil {
		return nil, errors.New("profile ensurer is required")
	}
	if params.Invoices == nil {
		return nil, errors.New("invoice aggregator is required")
	}
	if params.Outbox == nil {
		return nil, errors.New("outbox publisher is required")
	}
	return &Service{
		repo:     params.Repo,
		lock:     params.Lock,
		profiles: params.Profiles,
		invoices: params.Invoices,
		outbox:   params.Outbox,
		metrics:  params.Metrics,
	}, nil
}

// RecordInput identifies one billable business event. At least one of
// SubjectID and IdempotencyKey must be present so replays can be detected.
type RecordInput struct {
	TenantID       uuid.UUID
	EventType      enums.UsageEventType
	SubjectID      *uuid.UUID
	IdempotencyKey *string
	OccurredAt     *time.Time
	Actor          *outbox.ActorRef
}

// BillResult is the outcome of metering one event.
type BillResult struct {
	Event    *models.UsageEvent
	Line     *models.InvoiceLine
	Invoice  *models.Invoice
	Replayed bool
}

// UsageBilledEvent is emitted once per billed usage event.
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

// RecordUsageAndBill meters one event: it resolves the billing period in
// the tenant's timezone, prices the event by its ordinal within that period
// (included units bill at zero, overage at the plan price captured now),
// and appends it to the period's open invoice. The whole pipeline runs in
// one transaction serialized per tenant, and replays return the original
// outcome without touching lines or totals.
func (s *Service) RecordUsageAndBill(ctx context.Context, input RecordInput) (*BillResult, error) {
	if input.TenantID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tenant id required")
	}
	if !input.EventType.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid usage event type %q", input.EventType))
	}
	if (input.SubjectID == nil || *input.SubjectID == uuid.Nil) && (input.IdempotencyKey == nil || *input.IdempotencyKey == "") {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "subject id or idempotency key required")
	}

	var result *BillResult
	err := s.lock.RunLocked(ctx, dbpkg.BillingScope(input.TenantID.String()), func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		profile, err := s.profiles.EnsureProfileTx(ctx, tx, input.TenantID)
		if err != nil {
			return err
		}
		if profile.Billing.Status == enums.TenantBillingStatusSuspended {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "tenant billing is suspended")
		}

		existing, err := s.findExisting(ctx, repo, input)
		if err != nil {
			return err
		}
		if existing != nil {
			replayed, err := s.replay(ctx, tx, profile, existing)
			if err != nil {
				return err
			}
			result = replayed
			return nil
		}

		occurred := time.Now().UTC()
		if input.OccurredAt != nil && !input.OccurredAt.IsZero() {
			occurred = input.OccurredAt.UTC()
		}
		period, err := periods.Resolve(occurred, profile.Billing.Timezone)
		if err != nil {
			return err
		}

		billed, err := repo.CountInPeriod(ctx, input.TenantID, input.EventType, period.Start, period.End)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count period usage")
		}
		ordinal := billed + 1

		var unitPrice int64
		if ordinal > int64(profile.Plan.IncludedUnits) {
			unitPrice = profile.Plan.UnitPriceMinorUnits
		}

		event := &models.UsageEvent{
			TenantID:            input.TenantID,
			EventType:           input.EventType,
			SubjectID:           input.SubjectID,
			Quantity:            1,
			UnitPriceMinorUnits: unitPrice,
			AmountMinorUnits:    unitPrice,
			PeriodStart:         period.Start,
			PeriodEnd:           period.End,
			OccurredAt:          occurred,
			IdempotencyKey:      input.IdempotencyKey,
		}
		if err := repo.Create(ctx, event); err != nil {
			if !dbpkg.IsUniqueViolation(err, "ux_usage_events_subject_event") &&
				!dbpkg.IsUniqueViolation(err, "ux_usage_events_tenant_event_idem") {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create usage event")
			}
			recovered, rerr := s.findExisting(ctx, repo, input)
			if rerr != nil {
				return rerr
			}
			if recovered == nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create usage event")
			}
			replayed, rerr := s.replay(ctx, tx, profile, recovered)
			if rerr != nil {
				return rerr
			}
			result = replayed
			return nil
		}

		invoice, err := s.invoices.GetOrCreateOpenTx(ctx, tx, input.TenantID, period, profile.Plan.Currency, profile.Billing.TaxRateBps)
		if err != nil {
			return err
		}
		line, err := s.invoices.AddUsageLineTx(ctx, tx, invoice, event)
		if err != nil {
			return err
		}
		invoice, err = s.invoices.RecalcTotalsTx(ctx, tx, invoice.ID)
		if err != nil {
			return err
		}

		domainEvent := outbox.DomainEvent{
			EventType:     enums.EventUsageBilled,
			AggregateType: enums.AggregateUsageEvent,
			AggregateID:   event.ID,
			Version:       1,
			Actor:         input.Actor,
			Data: UsageBilledEvent{
				UsageEventID:        event.ID,
				TenantID:            event.TenantID,
				EventType:           event.EventType,
				SubjectID:           event.SubjectID,
				Ordinal:             ordinal,
				UnitPriceMinorUnits: event.UnitPriceMinorUnits,
				AmountMinorUnits:    event.AmountMinorUnits,
				PeriodStart:         event.PeriodStart,
				PeriodEnd:           event.PeriodEnd,
				InvoiceID:           invoice.ID,
			},
		}
		if err := s.outbox.EmitIfNotExists(ctx, tx, domainEvent); err != nil {
			return err
		}

		result = &BillResult{Event: event, Line: line, Invoice: invoice}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !result.Replayed {
		s.metrics.IncUsageBilled(string(result.Event.EventType))
	}
	return result, nil
}

func (s *Service) findExisting(ctx context.Context, repo Repository, input RecordInput) (*models.UsageEvent, error) {
	if input.SubjectID != nil && *input.SubjectID != uuid.Nil {
		event, err := repo.FindBySubjectAndType(ctx, *input.SubjectID, input.EventType)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load usage event by subject")
		}
		if event != nil {
			return event, nil
		}
	}
	if input.IdempotencyKey != nil && *input.IdempotencyKey != "" {
		event, err := repo.FindByIdempotencyKey(ctx, input.TenantID, input.EventType, *input.IdempotencyKey)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load usage event by key")
		}
		if event != nil {
			return event, nil
		}
	}
	return nil, nil
}

// replay rebuilds the original outcome for an already-billed event. The
// invoice is resolved through the same period lookup; nothing is written.
func (s *Service) replay(ctx context.Context, tx *gorm.DB, profile *tenantbilling.Profile, event *models.UsageEvent) (*BillResult, error) {
	period := periods.Period{Start: event.PeriodStart, End: event.PeriodEnd}
	invoice, err := s.invoices.GetOrCreateOpenTx(ctx, tx, event.TenantID, period, profile.Plan.Currency, profile.Billing.TaxRateBps)
	if err != nil {
		return nil, err
	}
	line, err := s.invoices.FindUsageLineTx(ctx, tx, invoice.ID, event.ID)
	if err != nil {
		return nil, err
	}
	return &BillResult{Event: event, Invoice: invoice, Line: line, Replayed: true}, nil
}
