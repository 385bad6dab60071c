package router

import (
	"context"
	"fmt"

	"github.com/atlasops/atlasops-backend/internal/analytics"
	"github.com/atlasops/atlasops-backend/internal/analytics/types"
	"github.com/atlasops/atlasops-backend/pkg/enums"
	"github.com/atlasops/atlasops-backend/pkg/logger"
	"github.com/atlasops/atlasops-backend/pkg/outbox/payloads"
)

type subscriptionRefilledHandler struct {
	writer Writer
	logg   *logger.Logger
}

func newSubscriptionRefilledHandler(writer Writer, logg *logger.Logger) Handler {
	return &subscriptionRefilledHandler{writer: writer, logg: logg}
}

func (h *subscriptionRefilledHandler) Handle(ctx context.Context, envelope types.Envelope, payload any) error {
	event, ok := payload.(*payloads.SubscriptionRefilledEvent)
	if !ok {
		return fmt.Errorf("invalid payload for subscription_refilled")
	}
	fields := map[string]any{
		"event_type":      envelope.EventType,
		"subscription_id": event.SubscriptionID,
		"account_id":      event.AccountID,
		"amount":          event.AmountMinorUnits,
		"cycle_at":        event.CycleAt,
	}
	logCtx := h.logg.WithFields(ctx, fields)

	occurred := analytics.EventTimestamp(event.CycleAt, envelope.OccurredAt)
	row, err := buildCreditRow(envelope, event.AccountID, event.AmountMinorUnits, occurred, event)
	if err != nil {
		h.logg.Error(logCtx, "failed to build credit row", err)
		return err
	}
	row.SubscriptionID = stringPtr(event.SubscriptionID.String())
	row.EntryID = stringPtr(event.EntryID.String())
	row.Reason = stringPtr(string(enums.CreditLedgerReasonTopup))

	if err := h.writer.InsertCredit(logCtx, row); err != nil {
		h.logg.Error(logCtx, "failed to insert credit row", err)
		return err
	}

	h.logg.Info(logCtx, "subscription_refilled handler inserted credit row")
	return nil
}
