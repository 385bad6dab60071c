package router

import (
	"fmt"
	"time"

	"github.com/atlasops/atlasops-backend/internal/analytics/types"
	analyticswriter "github.com/atlasops/atlasops-backend/internal/analytics/writer"
	"github.com/google/uuid"
)

func buildCreditRow(envelope types.Envelope, accountID uuid.UUID, amount int64, occurred time.Time, payload any) (types.CreditEventRow, error) {
	if occurred.IsZero() {
		occurred = envelope.OccurredAt
	}

	payloadJSON, err := analyticswriter.EncodeJSON(payload)
	if err != nil {
		return types.CreditEventRow{}, fmt.Errorf("encode payload json: %w", err)
	}

	return types.CreditEventRow{
		EventID:          envelope.EventID,
		EventType:        string(envelope.EventType),
		OccurredAt:       occurred.UTC(),
		AccountID:        accountID.String(),
		AmountMinorUnits: int64Ptr(amount),
		Payload:          payloadJSON,
	}, nil
}
