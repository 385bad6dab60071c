package billing

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/atlasops/atlasops-backend/api/controllers/tenantcontext"
	"github.com/atlasops/atlasops-backend/api/responses"
	"github.com/atlasops/atlasops-backend/api/validators"
	invoicesvc "github.com/atlasops/atlasops-backend/internal/invoices"
	"github.com/atlasops/atlasops-backend/pkg/db/models"
	"github.com/atlasops/atlasops-backend/pkg/enums"
	pkgerrors "github.com/atlasops/atlasops-backend/pkg/errors"
	"github.com/atlasops/atlasops-backend/pkg/logger"
	"github.com/atlasops/atlasops-backend/pkg/pagination"
)

// InvoiceService describes the invoice methods used by the HTTP controllers.
type InvoiceService interface {
	List(ctx context.Context, input invoicesvc.ListInput) (*invoicesvc.ListResult, error)
	Get(ctx context.Context, tenantID, invoiceID uuid.UUID) (*models.Invoice, error)
	MarkPaid(ctx context.Context, input invoicesvc.MarkPaidInput) (*models.Invoice, error)
	ChargeInvoice(ctx context.Context, input invoicesvc.ChargeInput) (*models.Invoice, error)
}

type invoiceLineResponse struct {
	ID                  string `json:"id"`
	UsageEventID        string `json:"usage_event_id"`
	Description         string `json:"description"`
	Quantity            int    `json:"quantity"`
	UnitPrice           string `json:"unit_price"`
	UnitPriceMinorUnits int64  `json:"unit_price_minor_units"`
	Amount              string `json:"amount"`
	AmountMinorUnits    int64  `json:"amount_minor_units"`
}

type paymentResponse struct {
	ID               string  `json:"id"`
	Amount           string  `json:"amount"`
	AmountMinorUnits int64   `json:"amount_minor_units"`
	Currency         string  `json:"currency"`
	Method           string  `json:"method"`
	Reference        *string `json:"reference,omitempty"`
	ExternalID       *string `json:"external_id,omitempty"`
	CreatedAt        string  `json:"created_at"`
}

type invoiceResponse struct {
	ID                 string                `json:"id"`
	PeriodStart        string                `json:"period_start"`
	PeriodEnd          string                `json:"period_end"`
	Status             string                `json:"status"`
	Currency           string                `json:"currency"`
	Subtotal           string                `json:"subtotal"`
	SubtotalMinorUnits int64                 `json:"subtotal_minor_units"`
	TaxRateBps         int                   `json:"tax_rate_bps"`
	Tax                string                `json:"tax"`
	TaxMinorUnits      int64                 `json:"tax_minor_units"`
	Total              string                `json:"total"`
	TotalMinorUnits    int64                 `json:"total_minor_units"`
	IssuedAt           *string               `json:"issued_at,omitempty"`
	PaidAt             *string               `json:"paid_at,omitempty"`
	Lines              []invoiceLineResponse `json:"lines,omitempty"`
	Payments           []paymentResponse     `json:"payments,omitempty"`
	CreatedAt          string                `json:"created_at"`
	UpdatedAt          string                `json:"updated_at"`
}

type invoiceListResponse struct {
	Invoices   []invoiceResponse `json:"invoices"`
	NextCursor string            `json:"next_cursor,omitempty"`
}

type markPaidRequest struct {
	AmountMinorUnits *int64  `json:"amount_minor_units"`
	Reference        *string `json:"reference"`
}

type chargeRequest struct {
	SourceID string `json:"source_id" validate:"required"`
}

// ListInvoices pages through the tenant's invoices, newest first.
func ListInvoices(svc InvoiceService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "invoice service unavailable"))
			return
		}

		tenantID, err := tenantcontext.ResolveTenantID(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		limit, err := validators.ParseQueryInt(r, "limit", 0, 0, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		input := invoicesvc.ListInput{
			TenantID: tenantID,
			Params: pagination.Params{
				Limit:  limit,
				Cursor: strings.TrimSpace(r.URL.Query().Get("cursor")),
			},
		}

		if statusParam := strings.TrimSpace(r.URL.Query().Get("status")); statusParam != "" {
			status, err := enums.ParseInvoiceStatus(statusParam)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status"))
				return
			}
			input.Status = &status
		}

		result, err := svc.List(ctx, input)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		resp := invoiceListResponse{
			Invoices:   make([]invoiceResponse, 0, len(result.Items)),
			NextCursor: result.Cursor,
		}
		for i := range result.Items {
			resp.Invoices = append(resp.Invoices, invoiceToResponse(&result.Items[i]))
		}
		responses.WriteSuccess(w, resp)
	}
}

// GetInvoice returns one invoice with its lines and payments.
func GetInvoice(svc InvoiceService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "invoice service unavailable"))
			return
		}

		tenantID, err := tenantcontext.ResolveTenantID(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		invoiceID, err := invoiceIDParam(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		invoice, err := svc.Get(ctx, tenantID, invoiceID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, invoiceToResponse(invoice))
	}
}

// PayInvoice settles an open invoice manually. Amount defaults to the
// outstanding total.
func PayInvoice(svc InvoiceService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "invoice service unavailable"))
			return
		}

		tenantID, err := tenantcontext.ResolveTenantID(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		invoiceID, err := invoiceIDParam(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		var payload markPaidRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		invoice, err := svc.MarkPaid(ctx, invoicesvc.MarkPaidInput{
			InvoiceID: invoiceID,
			TenantID:  tenantID,
			Amount:    payload.AmountMinorUnits,
			Reference: payload.Reference,
			Method:    enums.PaymentMethodManual,
			Actor:     tenantcontext.Actor(r),
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, invoiceToResponse(invoice))
	}
}

// ChargeInvoice collects an open invoice through Square using the supplied
// payment source.
func ChargeInvoice(svc InvoiceService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "invoice service unavailable"))
			return
		}

		tenantID, err := tenantcontext.ResolveTenantID(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		invoiceID, err := invoiceIDParam(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		var payload chargeRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		invoice, err := svc.ChargeInvoice(ctx, invoicesvc.ChargeInput{
			InvoiceID: invoiceID,
			TenantID:  tenantID,
			SourceID:  strings.TrimSpace(payload.SourceID),
			Actor:     tenantcontext.Actor(r),
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, invoiceToResponse(invoice))
	}
}

func invoiceIDParam(r *http.Request) (uuid.UUID, error) {
	raw := strings.TrimSpace(chi.URLParam(r, "invoiceID"))
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "invoice id is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid invoice id")
	}
	return id, nil
}

func invoiceToResponse(invoice *models.Invoice) invoiceResponse {
	resp := invoiceResponse{
		ID:                 invoice.ID.String(),
		PeriodStart:        invoice.PeriodStart,
		PeriodEnd:          invoice.PeriodEnd,
		Status:             string(invoice.Status),
		Currency:           string(invoice.Currency),
		Subtotal:           minorUnitsToDisplay(invoice.SubtotalMinorUnits),
		SubtotalMinorUnits: invoice.SubtotalMinorUnits,
		TaxRateBps:         invoice.TaxRateBps,
		Tax:                minorUnitsToDisplay(invoice.TaxMinorUnits),
		TaxMinorUnits:      invoice.TaxMinorUnits,
		Total:              minorUnitsToDisplay(invoice.TotalMinorUnits),
		TotalMinorUnits:    invoice.TotalMinorUnits,
		CreatedAt:          invoice.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:          invoice.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if invoice.IssuedAt != nil {
		issued := invoice.IssuedAt.UTC().Format(time.RFC3339)
		resp.IssuedAt = &issued
	}
	if invoice.PaidAt != nil {
		paid := invoice.PaidAt.UTC().Format(time.RFC3339)
		resp.PaidAt = &paid
	}
	for i := range invoice.Lines {
		line := &invoice.Lines[i]
		resp.Lines = append(resp.Lines, invoiceLineResponse{
			ID:                  line.ID.String(),
			UsageEventID:        line.UsageEventID.String(),
			Description:         line.Description,
			Quantity:            line.Quantity,
			UnitPrice:           minorUnitsToDisplay(line.UnitPriceMinorUnits),
			UnitPriceMinorUnits: line.UnitPriceMinorUnits,
			Amount:              minorUnitsToDisplay(line.AmountMinorUnits),
			AmountMinorUnits:    line.AmountMinorUnits,
		})
	}
	for i := range invoice.Payments {
		payment := &invoice.Payments[i]
		resp.Payments = append(resp.Payments, paymentResponse{
			ID:               payment.ID.String(),
			Amount:           minorUnitsToDisplay(payment.AmountMinorUnits),
			AmountMinorUnits: payment.AmountMinorUnits,
			Currency:         string(payment.Currency),
			Method:           string(payment.Method),
			Reference:        payment.Reference,
			ExternalID:       payment.ExternalID,
			CreatedAt:        payment.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return resp
}

func minorUnitsToDisplay(minorUnits int64) string {
	return decimal.NewFromInt(minorUnits).Shift(-2).StringFixed(2)
}
