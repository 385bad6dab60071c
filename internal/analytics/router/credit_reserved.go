package router

import (
	"context"
	"fmt"

	"github.com/atlasops/atlasops-backend/internal/analytics/types"
	"github.com/atlasops/atlasops-backend/pkg/logger"
	"github.com/atlasops/atlasops-backend/pkg/outbox/payloads"
)

type creditReservedHandler struct {
	writer Writer
	logg   *logger.Logger
}

func newCreditReservedHandler(writer Writer, logg *logger.Logger) Handler {
	return &creditReservedHandler{writer: writer, logg: logg}
}

func (h *creditReservedHandler) Handle(ctx context.Context, envelope types.Envelope, payload any) error {
	event, ok := payload.(*payloads.CreditReservedEvent)
	if !ok {
		return fmt.Errorf("invalid payload for credit_reserved")
	}
	fields := map[string]any{
		"event_type":     envelope.EventType,
		"reservation_id": event.ReservationID,
		"account_id":     event.AccountID,
		"amount":         event.AmountMinorUnits,
	}
	logCtx := h.logg.WithFields(ctx, fields)

	row, err := buildCreditRow(envelope, event.AccountID, event.AmountMinorUnits, envelope.OccurredAt, event)
	if err != nil {
		h.logg.Error(logCtx, "failed to build credit row", err)
		return err
	}
	row.ReservationID = stringPtr(event.ReservationID.String())
	row.RefType = stringPtr(event.RefType)
	row.RefID = stringPtr(event.RefID)
	row.OperatorOverride = boolPtr(event.OperatorOverride)

	if err := h.writer.InsertCredit(logCtx, row); err != nil {
		h.logg.Error(logCtx, "failed to insert credit row", err)
		return err
	}

	h.logg.Info(logCtx, "credit_reserved handler inserted credit row")
	return nil
}
