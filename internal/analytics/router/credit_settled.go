package router

import (
	"context"
	"fmt"

	"github.com/atlasops/atlasops-backend/internal/analytics/types"
	"github.com/atlasops/atlasops-backend/pkg/logger"
	"github.com/atlasops/atlasops-backend/pkg/outbox/payloads"
)

// creditSettledHandler covers consume, release, and expire. The payload's
// status distinguishes them; the event type is preserved on the row.
type creditSettledHandler struct {
	writer Writer
	logg   *logger.Logger
}

func newCreditSettledHandler(writer Writer, logg *logger.Logger) Handler {
	return &creditSettledHandler{writer: writer, logg: logg}
}

func (h *creditSettledHandler) Handle(ctx context.Context, envelope types.Envelope, payload any) error {
	event, ok := payload.(*payloads.CreditSettledEvent)
	if !ok {
		return fmt.Errorf("invalid payload for %s", envelope.EventType)
	}
	fields := map[string]any{
		"event_type":     envelope.EventType,
		"reservation_id": event.ReservationID,
		"account_id":     event.AccountID,
		"status":         event.Status,
	}
	logCtx := h.logg.WithFields(ctx, fields)

	row, err := buildCreditRow(envelope, event.AccountID, event.AmountMinorUnits, envelope.OccurredAt, event)
	if err != nil {
		h.logg.Error(logCtx, "failed to build credit row", err)
		return err
	}
	row.ReservationID = stringPtr(event.ReservationID.String())
	row.Status = stringPtr(string(event.Status))

	if err := h.writer.InsertCredit(logCtx, row); err != nil {
		h.logg.Error(logCtx, "failed to insert credit row", err)
		return err
	}

	h.logg.Info(logCtx, "credit settlement handler inserted credit row")
	return nil
}
