package router

import (
	"context"
	"fmt"

	"github.com/atlasops/atlasops-backend/internal/analytics/types"
	analyticswriter "github.com/atlasops/atlasops-backend/internal/analytics/writer"
	"github.com/atlasops/atlasops-backend/pkg/logger"
	"github.com/atlasops/atlasops-backend/pkg/outbox/payloads"
)

type invoicePaidHandler struct {
	writer Writer
	logg   *logger.Logger
}

func newInvoicePaidHandler(writer Writer, logg *logger.Logger) Handler {
	return &invoicePaidHandler{writer: writer, logg: logg}
}

func (h *invoicePaidHandler) Handle(ctx context.Context, envelope types.Envelope, payload any) error {
	event, ok := payload.(*payloads.InvoicePaidEvent)
	if !ok {
		return fmt.Errorf("invalid payload for invoice_paid")
	}
	fields := map[string]any{
		"event_type": envelope.EventType,
		"invoice_id": event.InvoiceID,
		"tenant_id":  event.TenantID,
		"amount":     event.AmountMinorUnits,
		"method":     event.Method,
	}
	logCtx := h.logg.WithFields(ctx, fields)

	payloadJSON, err := analyticswriter.EncodeJSON(event)
	if err != nil {
		h.logg.Error(logCtx, "failed to encode invoice payload", err)
		return err
	}

	row := types.BillingEventRow{
		EventID:          envelope.EventID,
		EventType:        string(envelope.EventType),
		OccurredAt:       envelope.OccurredAt.UTC(),
		TenantID:         stringPtr(event.TenantID.String()),
		InvoiceID:        stringPtr(event.InvoiceID.String()),
		AmountMinorUnits: int64Ptr(event.AmountMinorUnits),
		Currency:         stringPtr(string(event.Currency)),
		Method:           stringPtr(string(event.Method)),
		PeriodStart:      stringPtr(event.PeriodStart),
		PeriodEnd:        stringPtr(event.PeriodEnd),
		Payload:          payloadJSON,
	}

	if err := h.writer.InsertBilling(logCtx, row); err != nil {
		h.logg.Error(logCtx, "failed to insert billing row", err)
		return err
	}

	h.logg.Info(logCtx, "invoice_paid handler inserted billing row")
	return nil
}
