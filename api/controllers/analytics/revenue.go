// Package analytics serves the operator revenue dashboard from the
// BigQuery-backed analytics service.
package analytics

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/atlasops/atlasops-backend/api/middleware"
	"github.com/atlasops/atlasops-backend/api/responses"
	"github.com/atlasops/atlasops-backend/internal/analytics"
	"github.com/atlasops/atlasops-backend/internal/analytics/types"
	pkgerrors "github.com/atlasops/atlasops-backend/pkg/errors"
	"github.com/atlasops/atlasops-backend/pkg/logger"
)

// Revenue answers billed/collected/credit KPI queries for one tenant.
// Operators name the tenant explicitly; tenant-scoped tokens fall back to
// their own tenant context.
func Revenue(service analytics.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if service == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "analytics service unavailable"))
			return
		}

		tenantID := strings.TrimSpace(r.URL.Query().Get("tenant_id"))
		if tenantID == "" {
			tenantID = middleware.TenantIDFromContext(ctx)
		}
		if tenantID == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "tenant_id is required"))
			return
		}
		if _, err := uuid.Parse(tenantID); err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid tenant_id"))
			return
		}

		accountID := strings.TrimSpace(r.URL.Query().Get("account_id"))
		if accountID != "" {
			if _, err := uuid.Parse(accountID); err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid account_id"))
				return
			}
		}

		start, end, err := resolveAnalyticsRange(r, timeNowUTC())
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		result, err := service.Query(ctx, types.RevenueQueryRequest{
			TenantID:  tenantID,
			AccountID: accountID,
			Start:     start,
			End:       end,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, result)
	}
}
