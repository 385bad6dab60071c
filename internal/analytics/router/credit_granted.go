package router

import (
	"context"
	"fmt"

	"github.com/atlasops/atlasops-backend/internal/analytics/types"
	"github.com/atlasops/atlasops-backend/pkg/logger"
	"github.com/atlasops/atlasops-backend/pkg/outbox/payloads"
)

type creditGrantedHandler struct {
	writer Writer
	logg   *logger.Logger
}

func newCreditGrantedHandler(writer Writer, logg *logger.Logger) Handler {
	return &creditGrantedHandler{writer: writer, logg: logg}
}

func (h *creditGrantedHandler) Handle(ctx context.Context, envelope types.Envelope, payload any) error {
	event, ok := payload.(*payloads.CreditGrantedEvent)
	if !ok {
		return fmt.Errorf("invalid payload for credit_granted")
	}
	fields := map[string]any{
		"event_type": envelope.EventType,
		"entry_id":   event.EntryID,
		"account_id": event.AccountID,
		"amount":     event.AmountMinorUnits,
	}
	logCtx := h.logg.WithFields(ctx, fields)

	row, err := buildCreditRow(envelope, event.AccountID, event.AmountMinorUnits, envelope.OccurredAt, event)
	if err != nil {
		h.logg.Error(logCtx, "failed to build credit row", err)
		return err
	}
	row.EntryID = stringPtr(event.EntryID.String())
	row.Reason = stringPtr(string(event.Reason))
	row.AvailableAfterMinorUnits = int64Ptr(event.AvailableAfter)

	if err := h.writer.InsertCredit(logCtx, row); err != nil {
		h.logg.Error(logCtx, "failed to insert credit row", err)
		return err
	}

	h.logg.Info(logCtx, "credit_granted handler inserted credit row")
	return nil
}
