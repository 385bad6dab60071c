package credits

import (
	"net/http"
	"strings"

	"github.com/atlasops/atlasops-backend/api/responses"
	"github.com/atlasops/atlasops-backend/api/validators"
	creditsvc "github.com/atlasops/atlasops-backend/internal/credit"
	pkgerrors "github.com/atlasops/atlasops-backend/pkg/errors"
	"github.com/atlasops/atlasops-backend/pkg/logger"
	"github.com/atlasops/atlasops-backend/pkg/pagination"
)

type ledgerListResponse struct {
	Entries    []ledgerEntryResponse `json:"entries"`
	NextCursor string                `json:"next_cursor,omitempty"`
}

// GetBalance returns the caller's current balance triple.
func GetBalance(svc CreditService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "credit service unavailable"))
			return
		}

		tenantID, accountID, err := resolveAccount(r, svc, r.URL.Query().Get("account_id"))
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		balance, err := svc.GetBalance(ctx, tenantID, accountID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, balanceToResponse(balance))
	}
}

// ListLedger pages through the account's ledger history, newest first.
func ListLedger(svc CreditService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "credit service unavailable"))
			return
		}

		tenantID, accountID, err := resolveAccount(r, svc, r.URL.Query().Get("account_id"))
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		limit, err := validators.ParseQueryInt(r, "limit", 0, 0, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		page, err := svc.ListLedger(ctx, creditsvc.LedgerInput{
			AccountID: accountID,
			TenantID:  tenantID,
			Params: pagination.Params{
				Limit:  limit,
				Cursor: strings.TrimSpace(r.URL.Query().Get("cursor")),
			},
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		resp := ledgerListResponse{
			Entries:    make([]ledgerEntryResponse, 0, len(page.Items)),
			NextCursor: page.Cursor,
		}
		for i := range page.Items {
			resp.Entries = append(resp.Entries, entryToResponse(&page.Items[i]))
		}
		responses.WriteSuccess(w, resp)
	}
}
