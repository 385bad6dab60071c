package invoices

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	sq "github.com/square/square-go-sdk"
	"gorm.io/gorm"

	"github.com/atlasops/atlasops-backend/internal/periods"
	dbpkg "github.com/atlasops/atlasops-backend/pkg/db"
	"github.com/atlasops/atlasops-backend/pkg/db/models"
	"github.com/atlasops/atlasops-backend/pkg/enums"
	pkgerrors "github.com/atlasops/atlasops-backend/pkg/errors"
	"github.com/atlasops/atlasops-backend/pkg/outbox"
	"github.com/atlasops/atlasops-backend/pkg/pagination"
	"github.com/atlasops/atlasops-backend/pkg/square"
)

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type cardCharger interface {
	CreatePayment(ctx context.Context, params square.PaymentCreateParams) (*sq.Payment, error)
	LocationID() string
}

// ServiceParams groups dependencies for the invoice service.
type ServiceParams struct {
	Repo   Repository
	Lock   dbpkg.LockRunner
	Outbox outboxPublisher
	Cards  cardCharger
}

// Service owns invoice aggregation, settlement, and card charging.
type Service struct {
	repo   Repository
	lock   dbpkg.LockRunner
	outbox outboxPublisher
	cards  cardCharger
}

// NewService builds an invoice service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Repo == nil {
		return nil, errors.New("repo is required")
	}
	if params.Lock == nil {
		return nil, errors.New("lock runner is required")
	}
	if params.Outbox == nil {
		return nil, errors.New("outbox publisher is required")
	}
	if params.Cards == nil {
		return nil, errors.New("card charger is required")
	}
	return &Service{
		repo:   params.Repo,
		lock:   params.Lock,
		outbox: params.Outbox,
		cards:  params.Cards,
	}, nil
}

// MarkPaidInput carries a settlement request. Amount defaults to the
// invoice's outstanding total when nil.
type MarkPaidInput struct {
	InvoiceID  uuid.UUID
	TenantID   uuid.UUID
	Amount     *int64
	Reference  *string
	Method     enums.PaymentMethod
	ExternalID *string
	Actor      *outbox.ActorRef
}

// ChargeInput carries a card charge request for an open invoice.
type ChargeInput struct {
	InvoiceID uuid.UUID
	TenantID  uuid.UUID
	SourceID  string
	Actor     *outbox.ActorRef
}

// ListInput filters the tenant's invoice history.
type ListInput struct {
	TenantID uuid.UUID
	Status   *enums.InvoiceStatus
	pagination.Params
}

// ListResult is one page of invoices plus the cursor for the next page.
type ListResult struct {
	Items  []models.Invoice
	Cursor string
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

// GetOrCreateOpenTx resolves the tenant's invoice for the period inside the
// caller's transaction, creating an open one when none exists. A concurrent
// creation is absorbed by re-reading after the uniqueness violation.
func (s *Service) GetOrCreateOpenTx(ctx context.Context, tx *gorm.DB, tenantID uuid.UUID, period periods.Period, currency enums.Currency, taxRateBps int) (*models.Invoice, error) {
	if tenantID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tenant id required")
	}
	if period.Start == "" || period.End == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "billing period required")
	}

	repo := s.repo.WithTx(tx)
	invoice, err := repo.FindByTenantPeriod(ctx, tenantID, period.Start, period.End)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load period invoice")
	}
	if invoice != nil {
		return invoice, nil
	}

	invoice = &models.Invoice{
		TenantID:    tenantID,
		PeriodStart: period.Start,
		PeriodEnd:   period.End,
		Status:      enums.InvoiceStatusOpen,
		Currency:    currency,
		TaxRateBps:  taxRateBps,
	}
	if err := repo.Create(ctx, invoice); err != nil {
		if !dbpkg.IsUniqueViolation(err, "ux_invoices_tenant_period") {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create period invoice")
		}
		invoice, err = repo.FindByTenantPeriod(ctx, tenantID, period.Start, period.End)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload period invoice")
		}
		if invoice == nil {
			return nil, pkgerrors.New(pkgerrors.CodeDependency, "period invoice vanished after conflict")
		}
	}
	return invoice, nil
}

// AddUsageLineTx appends the line for a billed usage event inside the
// caller's transaction. Replays and duplicate writers resolve to the
// existing line. Settled invoices reject new lines.
func (s *Service) AddUsageLineTx(ctx context.Context, tx *gorm.DB, invoice *models.Invoice, event *models.UsageEvent) (*models.InvoiceLine, error) {
	if invoice == nil || event == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invoice and usage event required")
	}
	if invoice.Status != enums.InvoiceStatusOpen {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "invoice for period already settled")
	}

	repo := s.repo.WithTx(tx)
	existing, err := repo.FindLineByUsageEvent(ctx, invoice.ID, event.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load invoice line")
	}
	if existing != nil {
		return existing, nil
	}

	line := &models.InvoiceLine{
		InvoiceID:           invoice.ID,
		UsageEventID:        event.ID,
		Description:         string(event.EventType),
		Quantity:            event.Quantity,
		UnitPriceMinorUnits: event.UnitPriceMinorUnits,
		AmountMinorUnits:    event.AmountMinorUnits,
	}
	if err := repo.CreateLine(ctx, line); err != nil {
		if !dbpkg.IsUniqueViolation(err, "ux_invoice_lines_invoice_usage_event") {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create invoice line")
		}
		existing, err = repo.FindLineByUsageEvent(ctx, invoice.ID, event.ID)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload invoice line")
		}
		if existing == nil {
			return nil, pkgerrors.New(pkgerrors.CodeDependency, "invoice line vanished after conflict")
		}
		return existing, nil
	}
	return line, nil
}

// FindUsageLineTx loads the line already billed for a usage event, if any,
// inside the caller's transaction.
func (s *Service) FindUsageLineTx(ctx context.Context, tx *gorm.DB, invoiceID, usageEventID uuid.UUID) (*models.InvoiceLine, error) {
	line, err := s.repo.WithTx(tx).FindLineByUsageEvent(ctx, invoiceID, usageEventID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load invoice line")
	}
	return line, nil
}

// RecalcTotalsTx recomputes subtotal, tax, and total from the invoice's
// lines inside the caller's transaction. Totals are always derived from
// lines, never accumulated, so replays cannot drift.
func (s *Service) RecalcTotalsTx(ctx context.Context, tx *gorm.DB, invoiceID uuid.UUID) (*models.Invoice, error) {
	if invoiceID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invoice id required")
	}

	repo := s.repo.WithTx(tx)
	invoice, err := repo.FindByID(ctx, invoiceID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load invoice")
	}
	if invoice == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "invoice not found")
	}

	subtotal, err := repo.SumLineAmounts(ctx, invoiceID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "sum invoice lines")
	}
	tax := subtotal * int64(invoice.TaxRateBps) / 10000
	total := subtotal + tax

	if err := repo.UpdateTotals(ctx, invoiceID, subtotal, tax, total); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update invoice totals")
	}

	invoice.SubtotalMinorUnits = subtotal
	invoice.TaxMinorUnits = tax
	invoice.TotalMinorUnits = total
	return invoice, nil
}

// MarkPaid settles an open invoice with exactly one Payment. Calling it
// against an already-paid invoice is a no-op that returns the invoice
// unchanged.
func (s *Service) MarkPaid(ctx context.Context, input MarkPaidInput) (*models.Invoice, error) {
	if input.InvoiceID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invoice id required")
	}
	method := input.Method
	if method == "" {
		method = enums.PaymentMethodManual
	}
	if !method.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid payment method %q", input.Method))
	}
	if input.Amount != nil && *input.Amount < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must not be negative")
	}

	scope, err := s.resolveScope(ctx, input.InvoiceID, input.TenantID)
	if err != nil {
		return nil, err
	}

	var result *models.Invoice
	err = s.lock.RunLocked(ctx, dbpkg.BillingScope(scope.String()), func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		invoice, err := repo.FindByID(ctx, input.InvoiceID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load invoice")
		}
		if invoice == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "invoice not found")
		}
		if invoice.Status == enums.InvoiceStatusPaid {
			result = invoice
			return nil
		}

		amount := invoice.TotalMinorUnits
		if input.Amount != nil {
			amount = *input.Amount
		}

		now := time.Now().UTC()
		flipped, err := repo.MarkPaid(ctx, invoice.ID, now)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark invoice paid")
		}
		if !flipped {
			refreshed, err := repo.FindByID(ctx, invoice.ID)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload invoice")
			}
			result = refreshed
			return nil
		}

		payment := &models.Payment{
			InvoiceID:        invoice.ID,
			AmountMinorUnits: amount,
			Currency:         invoice.Currency,
			Method:           method,
			Reference:        input.Reference,
			ExternalID:       input.ExternalID,
		}
		if err := repo.CreatePayment(ctx, payment); err != nil {
			if dbpkg.IsUniqueViolation(err, "ux_payments_external_id") {
				return pkgerrors.Wrap(pkgerrors.CodeConflict, err, "payment already recorded")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create payment")
		}

		event := outbox.DomainEvent{
			EventType:     enums.EventInvoicePaid,
			AggregateType: enums.AggregateInvoice,
			AggregateID:   invoice.ID,
			Version:       1,
			Actor:         input.Actor,
			Data: InvoicePaidEvent{
				InvoiceID:        invoice.ID,
				TenantID:         invoice.TenantID,
				PeriodStart:      invoice.PeriodStart,
				PeriodEnd:        invoice.PeriodEnd,
				AmountMinorUnits: amount,
				Currency:         invoice.Currency,
				Method:           method,
			},
		}
		if err := s.outbox.Emit(ctx, tx, event); err != nil {
			return err
		}

		refreshed, err := repo.FindByID(ctx, invoice.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload invoice")
		}
		result = refreshed
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ChargeInvoice collects an open invoice's total from a card source and
// settles it. The idempotency key is derived from the invoice so retries
// after a partial failure do not double-charge.
func (s *Service) ChargeInvoice(ctx context.Context, input ChargeInput) (*models.Invoice, error) {
	if input.InvoiceID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invoice id required")
	}
	if strings.TrimSpace(input.SourceID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "card source required")
	}

	invoice, err := s.repo.FindByID(ctx, input.InvoiceID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load invoice")
	}
	if invoice == nil || (input.TenantID != uuid.Nil && invoice.TenantID != input.TenantID) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "invoice not found")
	}
	if invoice.Status == enums.InvoiceStatusPaid {
		return invoice, nil
	}
	if invoice.TotalMinorUnits <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "invoice has nothing to charge")
	}

	payment, err := s.cards.CreatePayment(ctx, square.PaymentCreateParams{
		AmountMinorUnits: invoice.TotalMinorUnits,
		Currency:         string(invoice.Currency),
		LocationID:       s.cards.LocationID(),
		SourceID:         input.SourceID,
		IdempotencyKey:   "invoice-" + invoice.ID.String(),
		ReferenceID:      invoice.ID.String(),
	})
	if err != nil {
		return nil, err
	}

	externalID := payment.GetID()
	reference := "square"
	amount := invoice.TotalMinorUnits
	return s.MarkPaid(ctx, MarkPaidInput{
		InvoiceID:  invoice.ID,
		TenantID:   input.TenantID,
		Amount:     &amount,
		Reference:  &reference,
		Method:     enums.PaymentMethodSquare,
		ExternalID: externalID,
		Actor:      input.Actor,
	})
}

// Get returns one invoice with lines and payments, scoped to the tenant.
func (s *Service) Get(ctx context.Context, tenantID, invoiceID uuid.UUID) (*models.Invoice, error) {
	if invoiceID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invoice id required")
	}
	invoice, err := s.repo.FindByID(ctx, invoiceID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load invoice")
	}
	if invoice == nil || (tenantID != uuid.Nil && invoice.TenantID != tenantID) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "invoice not found")
	}
	return invoice, nil
}

// List returns a page of the tenant's invoices, newest first.
func (s *Service) List(ctx context.Context, input ListInput) (*ListResult, error) {
	if input.TenantID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tenant id required")
	}
	if input.Status != nil && !input.Status.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid invoice status")
	}
	cursor, err := pagination.ParseCursor(input.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}

	rows, next, err := s.repo.List(ctx, ListQuery{
		TenantID: input.TenantID,
		Status:   input.Status,
		Limit:    input.Limit,
		Cursor:   cursor,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list invoices")
	}

	result := &ListResult{Items: rows}
	if next != nil {
		result.Cursor = pagination.EncodeCursor(*next)
	}
	return result, nil
}

func (s *Service) resolveScope(ctx context.Context, invoiceID, tenantID uuid.UUID) (uuid.UUID, error) {
	invoice, err := s.repo.FindByID(ctx, invoiceID)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load invoice")
	}
	if invoice == nil || (tenantID != uuid.Nil && invoice.TenantID != tenantID) {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeNotFound, "invoice not found")
	}
	return invoice.TenantID, nil
}
