package router

import (
	"context"
	"fmt"

	"github.com/atlasops/atlasops-backend/internal/analytics/types"
	analyticswriter "github.com/atlasops/atlasops-backend/internal/analytics/writer"
	"github.com/atlasops/atlasops-backend/pkg/logger"
	"github.com/atlasops/atlasops-backend/pkg/outbox/payloads"
)

type usageBilledHandler struct {
	writer Writer
	logg   *logger.Logger
}

func newUsageBilledHandler(writer Writer, logg *logger.Logger) Handler {
	return &usageBilledHandler{writer: writer, logg: logg}
}

func (h *usageBilledHandler) Handle(ctx context.Context, envelope types.Envelope, payload any) error {
	event, ok := payload.(*payloads.UsageBilledEvent)
	if !ok {
		return fmt.Errorf("invalid payload for usage_billed")
	}
	fields := map[string]any{
		"event_type":     envelope.EventType,
		"usage_event_id": event.UsageEventID,
		"tenant_id":      event.TenantID,
		"amount":         event.AmountMinorUnits,
	}
	logCtx := h.logg.WithFields(ctx, fields)

	payloadJSON, err := analyticswriter.EncodeJSON(event)
	if err != nil {
		h.logg.Error(logCtx, "failed to encode usage payload", err)
		return err
	}

	var subjectID *string
	if event.SubjectID != nil {
		subjectID = stringPtr(event.SubjectID.String())
	}
	row := types.BillingEventRow{
		EventID:             envelope.EventID,
		EventType:           string(envelope.EventType),
		OccurredAt:          envelope.OccurredAt.UTC(),
		TenantID:            stringPtr(event.TenantID.String()),
		InvoiceID:           stringPtr(event.InvoiceID.String()),
		UsageEventID:        stringPtr(event.UsageEventID.String()),
		UsageType:           stringPtr(string(event.EventType)),
		SubjectID:           subjectID,
		Ordinal:             int64Ptr(event.Ordinal),
		UnitPriceMinorUnits: int64Ptr(event.UnitPriceMinorUnits),
		AmountMinorUnits:    int64Ptr(event.AmountMinorUnits),
		PeriodStart:         stringPtr(event.PeriodStart),
		PeriodEnd:           stringPtr(event.PeriodEnd),
		Payload:             payloadJSON,
	}

	if err := h.writer.InsertBilling(logCtx, row); err != nil {
		h.logg.Error(logCtx, "failed to insert billing row", err)
		return err
	}

	h.logg.Info(logCtx, "usage_billed handler inserted billing row")
	return nil
}
