package usage

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/atlasops/atlasops-backend/api/controllers/tenantcontext"
	"github.com/atlasops/atlasops-backend/api/responses"
	"github.com/atlasops/atlasops-backend/api/validators"
	usagesvc "github.com/atlasops/atlasops-backend/internal/usage"
	"github.com/atlasops/atlasops-backend/pkg/db/models"
	"github.com/atlasops/atlasops-backend/pkg/enums"
	pkgerrors "github.com/atlasops/atlasops-backend/pkg/errors"
	"github.com/atlasops/atlasops-backend/pkg/logger"
)

// UsageService describes the metering methods used by the HTTP controllers.
type UsageService interface {
	RecordUsageAndBill(ctx context.Context, input usagesvc.RecordInput) (*usagesvc.BillResult, error)
}

type recordUsageRequest struct {
	EventType      string  `json:"event_type" validate:"required"`
	SubjectID      *string `json:"subject_id"`
	IdempotencyKey *string `json:"idempotency_key"`
	OccurredAt     *string `json:"occurred_at"`
}

type usageEventResponse struct {
	ID                  string  `json:"id"`
	EventType           string  `json:"event_type"`
	SubjectID           *string `json:"subject_id,omitempty"`
	Quantity            int     `json:"quantity"`
	UnitPrice           string  `json:"unit_price"`
	UnitPriceMinorUnits int64   `json:"unit_price_minor_units"`
	Amount              string  `json:"amount"`
	AmountMinorUnits    int64   `json:"amount_minor_units"`
	PeriodStart         string  `json:"period_start"`
	PeriodEnd           string  `json:"period_end"`
	OccurredAt          string  `json:"occurred_at"`
}

type billedInvoiceResponse struct {
	ID              string `json:"id"`
	Status          string `json:"status"`
	Subtotal        string `json:"subtotal"`
	Tax             string `json:"tax"`
	Total           string `json:"total"`
	TotalMinorUnits int64  `json:"total_minor_units"`
	Currency        string `json:"currency"`
}

type recordUsageResponse struct {
	Event    usageEventResponse    `json:"event"`
	Invoice  billedInvoiceResponse `json:"invoice"`
	Replayed bool                  `json:"replayed"`
}

// RecordEvent meters one billable event onto the tenant's open invoice.
func RecordEvent(svc UsageService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "usage service unavailable"))
			return
		}

		tenantID, err := tenantcontext.ResolveTenantID(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		var payload recordUsageRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		eventType, err := enums.ParseUsageEventType(strings.TrimSpace(payload.EventType))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid event_type"))
			return
		}

		input := usagesvc.RecordInput{
			TenantID:  tenantID,
			EventType: eventType,
			Actor:     tenantcontext.Actor(r),
		}

		if payload.SubjectID != nil && strings.TrimSpace(*payload.SubjectID) != "" {
			subjectID, err := uuid.Parse(strings.TrimSpace(*payload.SubjectID))
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid subject_id"))
				return
			}
			input.SubjectID = &subjectID
		}

		if payload.IdempotencyKey != nil && strings.TrimSpace(*payload.IdempotencyKey) != "" {
			key := strings.TrimSpace(*payload.IdempotencyKey)
			input.IdempotencyKey = &key
		}

		if payload.OccurredAt != nil && strings.TrimSpace(*payload.OccurredAt) != "" {
			occurredAt, err := time.Parse(time.RFC3339, strings.TrimSpace(*payload.OccurredAt))
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid occurred_at"))
				return
			}
			occurredAt = occurredAt.UTC()
			input.OccurredAt = &occurredAt
		}

		result, err := svc.RecordUsageAndBill(ctx, input)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, recordUsageResponse{
			Event:    eventToResponse(result.Event),
			Invoice:  invoiceToResponse(result.Invoice),
			Replayed: result.Replayed,
		})
	}
}

func eventToResponse(event *models.UsageEvent) usageEventResponse {
	resp := usageEventResponse{
		ID:                  event.ID.String(),
		EventType:           string(event.EventType),
		Quantity:            event.Quantity,
		UnitPrice:           minorUnitsToDisplay(event.UnitPriceMinorUnits),
		UnitPriceMinorUnits: event.UnitPriceMinorUnits,
		Amount:              minorUnitsToDisplay(event.AmountMinorUnits),
		AmountMinorUnits:    event.AmountMinorUnits,
		PeriodStart:         event.PeriodStart,
		PeriodEnd:           event.PeriodEnd,
		OccurredAt:          event.OccurredAt.UTC().Format(time.RFC3339),
	}
	if event.SubjectID != nil {
		subject := event.SubjectID.String()
		resp.SubjectID = &subject
	}
	return resp
}

func invoiceToResponse(invoice *models.Invoice) billedInvoiceResponse {
	return billedInvoiceResponse{
		ID:              invoice.ID.String(),
		Status:          string(invoice.Status),
		Subtotal:        minorUnitsToDisplay(invoice.SubtotalMinorUnits),
		Tax:             minorUnitsToDisplay(invoice.TaxMinorUnits),
		Total:           minorUnitsToDisplay(invoice.TotalMinorUnits),
		TotalMinorUnits: invoice.TotalMinorUnits,
		Currency:        string(invoice.Currency),
	}
}

func minorUnitsToDisplay(minorUnits int64) string {
	return decimal.NewFromInt(minorUnits).Shift(-2).StringFixed(2)
}
