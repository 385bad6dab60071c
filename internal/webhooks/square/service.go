package squarewebhook

import (
	"context"
	"strings"

	"github.com/google/uuid"
	sq "github.com/square/square-go-sdk"

	"github.com/atlasops/atlasops-backend/internal/invoices"
	"github.com/atlasops/atlasops-backend/pkg/db/models"
	"github.com/atlasops/atlasops-backend/pkg/enums"
	pkgerrors "github.com/atlasops/atlasops-backend/pkg/errors"
	"github.com/atlasops/atlasops-backend/pkg/logger"
)

const paymentCompleted = "COMPLETED"

type invoiceSettler interface {
	MarkPaid(ctx context.Context, input invoices.MarkPaidInput) (*models.Invoice, error)
}

type paymentFetcher interface {
	GetPayment(ctx context.Context, paymentID string) (*sq.Payment, error)
}

type idempotencyGuard interface {
	CheckAndMark(ctx context.Context, eventID string) (bool, error)
	Delete(ctx context.Context, eventID string) error
}

// ServiceParams groups dependencies for the Square webhook service.
type ServiceParams struct {
	Logger   *logger.Logger
	Invoices invoiceSettler
	Payments paymentFetcher
	// Guard dedupes Square's at-least-once deliveries. Optional: without it
	// the invoice settle path still no-ops on replays.
	Guard idempotencyGuard
}

// Service settles invoices from Square payment webhooks. Card charges
// created by the platform carry the invoice id as the payment reference;
// anything else is acknowledged and skipped.
type Service struct {
	logg     *logger.Logger
	invoices invoiceSettler
	payments paymentFetcher
	guard    idempotencyGuard
}

// NewService builds a Square webhook service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	if params.Invoices == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "invoice service required")
	}
	if params.Payments == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "payment fetcher required")
	}
	return &Service{
		logg:     params.Logger,
		invoices: params.Invoices,
		payments: params.Payments,
		guard:    params.Guard,
	}, nil
}

// PaymentEvent is the Square webhook envelope for payment notifications.
type PaymentEvent struct {
	EventID string           `json:"event_id"`
	Type    string           `json:"type"`
	Data    PaymentEventData `json:"data"`
}

// PaymentEventData carries the changed object reference.
type PaymentEventData struct {
	Type   string             `json:"type"`
	ID     string             `json:"id"`
	Object PaymentEventObject `json:"object"`
}

// PaymentEventObject embeds the payment snapshot when Square includes one.
type PaymentEventObject struct {
	Payment *sq.Payment `json:"payment"`
}

// HandleEvent processes one Square payment notification. Deliveries for
// payments the platform did not originate are acknowledged without action.
func (s *Service) HandleEvent(ctx context.Context, event *PaymentEvent) error {
	if event == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "square event required")
	}

	switch strings.ToLower(event.Type) {
	case "payment.created", "payment.updated":
	default:
		return nil
	}

	if s.guard != nil && event.EventID != "" {
		seen, err := s.guard.CheckAndMark(ctx, event.EventID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check webhook idempotency")
		}
		if seen {
			s.logg.Info(ctx, "square event already processed")
			return nil
		}
	}

	if err := s.settleFromEvent(ctx, event); err != nil {
		if s.guard != nil && event.EventID != "" {
			if delErr := s.guard.Delete(ctx, event.EventID); delErr != nil {
				s.logg.Error(ctx, "release webhook idempotency mark", delErr)
			}
		}
		return err
	}
	return nil
}

func (s *Service) settleFromEvent(ctx context.Context, event *PaymentEvent) error {
	payment := event.Data.Object.Payment
	if payment == nil {
		paymentID := strings.TrimSpace(event.Data.ID)
		if paymentID == "" {
			return pkgerrors.New(pkgerrors.CodeValidation, "payment id missing")
		}
		fetched, err := s.payments.GetPayment(ctx, paymentID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "fetch square payment")
		}
		payment = fetched
	}
	if payment == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "payment payload missing")
	}

	if status := stringValue(payment.GetStatus()); status != paymentCompleted {
		logCtx := s.logg.WithFields(ctx, map[string]any{"status": status})
		s.logg.Info(logCtx, "square payment not completed; skipping")
		return nil
	}

	invoiceID, err := uuid.Parse(stringValue(payment.GetReferenceID()))
	if err != nil {
		// Not a platform charge.
		s.logg.Info(ctx, "square payment without invoice reference; skipping")
		return nil
	}

	input := invoices.MarkPaidInput{
		InvoiceID:  invoiceID,
		Method:     enums.PaymentMethodSquare,
		ExternalID: payment.GetID(),
	}
	if money := payment.GetAmountMoney(); money != nil && money.GetAmount() != nil {
		input.Amount = money.GetAmount()
	}

	invoice, err := s.invoices.MarkPaid(ctx, input)
	if err != nil {
		if appErr := pkgerrors.As(err); appErr != nil && appErr.Code() == pkgerrors.CodeNotFound {
			// Reference points at nothing we bill; acknowledge.
			s.logg.Warn(ctx, "square payment references unknown invoice")
			return nil
		}
		return err
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"invoice_id": invoice.ID,
		"payment_id": stringValue(payment.GetID()),
	})
	s.logg.Info(logCtx, "invoice settled from square webhook")
	return nil
}

func stringValue(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
