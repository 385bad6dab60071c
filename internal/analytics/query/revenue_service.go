package query

import (
	"context"
	"fmt"

	cloudbigquery "cloud.google.com/go/bigquery"
	"github.com/atlasops/atlasops-backend/internal/analytics/types"
	"github.com/atlasops/atlasops-backend/pkg/bigquery"
	pkgerrors "github.com/atlasops/atlasops-backend/pkg/errors"
	"google.golang.org/api/iterator"
)

const (
	billedSeriesSQL = `
SELECT
  FORMAT_DATE('%%F', DATE_TRUNC(occurred_at, DAY)) AS day,
  SUM(COALESCE(amount_minor_units, 0)) AS value
FROM %s
WHERE tenant_id = @tenantID
  AND event_type = 'usage_billed'
  AND occurred_at BETWEEN @start AND @end
GROUP BY day
ORDER BY day ASC
`

	collectedSeriesSQL = `
SELECT
  FORMAT_DATE('%%F', DATE_TRUNC(occurred_at, DAY)) AS day,
  SUM(COALESCE(amount_minor_units, 0)) AS value
FROM %s
WHERE tenant_id = @tenantID
  AND event_type = 'invoice_paid'
  AND occurred_at BETWEEN @start AND @end
GROUP BY day
ORDER BY day ASC
`

	creditGrantedSeriesSQL = `
SELECT
  FORMAT_DATE('%%F', DATE_TRUNC(occurred_at, DAY)) AS day,
  SUM(COALESCE(amount_minor_units, 0)) AS value
FROM %s
WHERE account_id = @accountID
  AND event_type IN ('credit_granted', 'subscription_refilled')
  AND occurred_at BETWEEN @start AND @end
GROUP BY day
ORDER BY day ASC
`

	creditConsumedSeriesSQL = `
SELECT
  FORMAT_DATE('%%F', DATE_TRUNC(occurred_at, DAY)) AS day,
  SUM(COALESCE(amount_minor_units, 0)) AS value
FROM %s
WHERE account_id = @accountID
  AND event_type = 'credit_consumed'
  AND occurred_at BETWEEN @start AND @end
GROUP BY day
ORDER BY day ASC
`

	topUsageTypesSQL = `
SELECT usage_type AS label, SUM(COALESCE(amount_minor_units, 0)) AS value
FROM %s
WHERE tenant_id = @tenantID
  AND usage_type IS NOT NULL
  AND event_type = 'usage_billed'
  AND occurred_at BETWEEN @start AND @end
GROUP BY usage_type
ORDER BY value DESC
LIMIT 5
`

	topSubjectsSQL = `
SELECT subject_id AS label, SUM(COALESCE(amount_minor_units, 0)) AS value
FROM %s
WHERE tenant_id = @tenantID
  AND subject_id IS NOT NULL
  AND event_type = 'usage_billed'
  AND occurred_at BETWEEN @start AND @end
GROUP BY subject_id
ORDER BY value DESC
LIMIT 5
`

	averageInvoiceSQL = `
SELECT SAFE_DIVIDE(SUM(COALESCE(amount_minor_units, 0)), NULLIF(COUNT(DISTINCT invoice_id), 0)) AS value
FROM %s
WHERE tenant_id = @tenantID
  AND event_type = 'invoice_paid'
  AND occurred_at BETWEEN @start AND @end
`

	activitySQL = `
SELECT
  COUNTIF(event_type = 'usage_billed') AS billed_events,
  COUNT(DISTINCT IF(event_type = 'invoice_paid', invoice_id, NULL)) AS paid_invoices
FROM %s
WHERE tenant_id = @tenantID
  AND occurred_at BETWEEN @start AND @end
`
)

// RevenueService provides dashboard data from the BigQuery billing tables.
type RevenueService interface {
	Query(ctx context.Context, req types.RevenueQueryRequest) (*types.RevenueQueryResponse, error)
}

type revenueService struct {
	client     *bigquery.Client
	billingRef string
	creditRef  string
}

// NewRevenueService builds a service backed by BigQuery.
func NewRevenueService(client *bigquery.Client, project, dataset, billingTable, creditTable string) (RevenueService, error) {
	if client == nil {
		return nil, fmt.Errorf("bigquery client required")
	}
	if project == "" || dataset == "" || billingTable == "" || creditTable == "" {
		return nil, fmt.Errorf("project, dataset, and tables are required")
	}
	return &revenueService{
		client:     client,
		billingRef: fmt.Sprintf("`%s.%s.%s`", project, dataset, billingTable),
		creditRef:  fmt.Sprintf("`%s.%s.%s`", project, dataset, creditTable),
	}, nil
}

func (s *revenueService) Query(ctx context.Context, req types.RevenueQueryRequest) (*types.RevenueQueryResponse, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	params := s.billingParams(req)

	billed, err := s.querySeries(ctx, fmt.Sprintf(billedSeriesSQL, s.billingRef), params)
	if err != nil {
		return nil, err
	}
	collected, err := s.querySeries(ctx, fmt.Sprintf(collectedSeriesSQL, s.billingRef), params)
	if err != nil {
		return nil, err
	}

	topUsageTypes, err := s.queryTopLabels(ctx, fmt.Sprintf(topUsageTypesSQL, s.billingRef), params)
	if err != nil {
		return nil, err
	}
	topSubjects, err := s.queryTopLabels(ctx, fmt.Sprintf(topSubjectsSQL, s.billingRef), params)
	if err != nil {
		return nil, err
	}

	averageInvoice, err := s.queryAverage(ctx, fmt.Sprintf(averageInvoiceSQL, s.billingRef), params)
	if err != nil {
		return nil, err
	}

	billedEvents, paidInvoices, err := s.queryActivity(ctx, fmt.Sprintf(activitySQL, s.billingRef), params)
	if err != nil {
		return nil, err
	}

	response := &types.RevenueQueryResponse{
		BilledSeries:        billed,
		CollectedSeries:     collected,
		TopUsageTypes:       topUsageTypes,
		TopSubjects:         topSubjects,
		AverageInvoiceValue: averageInvoice,
		BilledEvents:        billedEvents,
		PaidInvoices:        paidInvoices,
	}

	// Credit series need an account scope; tenant-only requests skip them.
	if req.AccountID != "" {
		creditParams := s.creditParams(req)
		granted, err := s.querySeries(ctx, fmt.Sprintf(creditGrantedSeriesSQL, s.creditRef), creditParams)
		if err != nil {
			return nil, err
		}
		consumed, err := s.querySeries(ctx, fmt.Sprintf(creditConsumedSeriesSQL, s.creditRef), creditParams)
		if err != nil {
			return nil, err
		}
		response.CreditGranted = granted
		response.CreditConsumed = consumed
	}

	return response, nil
}

func validateRequest(req types.RevenueQueryRequest) error {
	if req.TenantID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "tenant id required")
	}
	if req.Start.IsZero() || req.End.IsZero() {
		return pkgerrors.New(pkgerrors.CodeValidation, "start and end are required")
	}
	if req.End.Before(req.Start) {
		return pkgerrors.New(pkgerrors.CodeValidation, "end must be after start")
	}
	return nil
}

func (s *revenueService) billingParams(req types.RevenueQueryRequest) []cloudbigquery.QueryParameter {
	return []cloudbigquery.QueryParameter{
		{Name: "tenantID", Value: req.TenantID},
		{Name: "start", Value: req.Start},
		{Name: "end", Value: req.End},
	}
}

func (s *revenueService) creditParams(req types.RevenueQueryRequest) []cloudbigquery.QueryParameter {
	return []cloudbigquery.QueryParameter{
		{Name: "accountID", Value: req.AccountID},
		{Name: "start", Value: req.Start},
		{Name: "end", Value: req.End},
	}
}

func (s *revenueService) querySeries(ctx context.Context, sql string, params []cloudbigquery.QueryParameter) ([]types.TimeSeriesPoint, error) {
	iter, err := s.client.Query(ctx, sql, params)
	if err != nil {
		return nil, fmt.Errorf("query series: %w", err)
	}

	var points []types.TimeSeriesPoint
	for {
		var row struct {
			Day   string `bigquery:"day"`
			Value int64  `bigquery:"value"`
		}
		if err := iter.Next(&row); err != nil {
			if err == iterator.Done {
				break
			}
			return nil, fmt.Errorf("reading series row: %w", err)
		}
		points = append(points, types.TimeSeriesPoint{Date: row.Day, Value: row.Value})
	}
	return points, nil
}

func (s *revenueService) queryTopLabels(ctx context.Context, sql string, params []cloudbigquery.QueryParameter) ([]types.LabelValue, error) {
	iter, err := s.client.Query(ctx, sql, params)
	if err != nil {
		return nil, fmt.Errorf("query top labels: %w", err)
	}

	var result []types.LabelValue
	for {
		var row struct {
			Label string `bigquery:"label"`
			Value int64  `bigquery:"value"`
		}
		if err := iter.Next(&row); err != nil {
			if err == iterator.Done {
				break
			}
			return nil, fmt.Errorf("reading top label row: %w", err)
		}
		result = append(result, types.LabelValue{Label: row.Label, Value: row.Value})
	}
	return result, nil
}

func (s *revenueService) queryAverage(ctx context.Context, sql string, params []cloudbigquery.QueryParameter) (float64, error) {
	iter, err := s.client.Query(ctx, sql, params)
	if err != nil {
		return 0, fmt.Errorf("query average invoice: %w", err)
	}
	var row struct {
		Value cloudbigquery.NullFloat64 `bigquery:"value"`
	}
	if err := iter.Next(&row); err != nil {
		if err == iterator.Done {
			return 0, nil
		}
		return 0, fmt.Errorf("reading average invoice row: %w", err)
	}
	if !row.Value.Valid {
		return 0, nil
	}
	return row.Value.Float64, nil
}

func (s *revenueService) queryActivity(ctx context.Context, sql string, params []cloudbigquery.QueryParameter) (int64, int64, error) {
	iter, err := s.client.Query(ctx, sql, params)
	if err != nil {
		return 0, 0, fmt.Errorf("query activity: %w", err)
	}
	var row struct {
		BilledEvents int64 `bigquery:"billed_events"`
		PaidInvoices int64 `bigquery:"paid_invoices"`
	}
	if err := iter.Next(&row); err != nil {
		if err == iterator.Done {
			return 0, 0, nil
		}
		return 0, 0, fmt.Errorf("reading activity row: %w", err)
	}
	return row.BilledEvents, row.PaidInvoices, nil
}
