package analytics

import (
	"context"
	"fmt"

	"github.com/atlasops/atlasops-backend/internal/analytics/query"
	"github.com/atlasops/atlasops-backend/internal/analytics/types"
	"github.com/atlasops/atlasops-backend/pkg/bigquery"
)

// Service provides analytics reports based on billing events.
type Service interface {
	// Query returns billing KPIs for the provided request.
	Query(ctx context.Context, req types.RevenueQueryRequest) (*types.RevenueQueryResponse, error)
}

type service struct {
	revenue query.RevenueService
}

// NewService builds an analytics service backed by BigQuery.
func NewService(client *bigquery.Client, project, dataset, billingTable, creditTable string) (Service, error) {
	if client == nil {
		return nil, fmt.Errorf("bigquery client required")
	}

	revenue, err := query.NewRevenueService(client, project, dataset, billingTable, creditTable)
	if err != nil {
		return nil, err
	}

	return &service{revenue: revenue}, nil
}

func (s *service) Query(ctx context.Context, req types.RevenueQueryRequest) (*types.RevenueQueryResponse, error) {
	return s.revenue.Query(ctx, req)
}
