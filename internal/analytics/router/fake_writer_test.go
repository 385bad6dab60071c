package router

import (
	"context"

	"github.com/atlasops/atlasops-backend/internal/analytics/types"
)

type fakeWriter struct {
	billing []types.BillingEventRow
	credit  []types.CreditEventRow
}

func (f *fakeWriter) InsertBilling(_ context.Context, row types.BillingEventRow) error {
	f.billing = append(f.billing, row)
	return nil
}

func (f *fakeWriter) InsertCredit(_ context.Context, row types.CreditEventRow) error {
	f.credit = append(f.credit, row)
	return nil
}
