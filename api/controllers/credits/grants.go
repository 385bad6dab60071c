package credits

import (
	"net/http"
	"strings"

	"github.com/atlasops/atlasops-backend/api/controllers/tenantcontext"
	"github.com/atlasops/atlasops-backend/api/responses"
	"github.com/atlasops/atlasops-backend/api/validators"
	creditsvc "github.com/atlasops/atlasops-backend/internal/credit"
	"github.com/atlasops/atlasops-backend/pkg/enums"
	pkgerrors "github.com/atlasops/atlasops-backend/pkg/errors"
	"github.com/atlasops/atlasops-backend/pkg/logger"
)

type grantRequest struct {
	AccountID        string  `json:"account_id"`
	AmountMinorUnits int64   `json:"amount_minor_units" validate:"required,min=1"`
	Reason           string  `json:"reason"`
	IdempotencyKey   string  `json:"idempotency_key" validate:"required"`
	Note             *string `json:"note"`
}

type grantResponse struct {
	Entry    ledgerEntryResponse `json:"entry"`
	Balance  balanceResponse     `json:"balance"`
	Replayed bool                `json:"replayed"`
}

// GrantCredits adds spendable credit to an account. Reason defaults to
// "grant"; topups and adjustments pass their reason explicitly.
func GrantCredits(svc CreditService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "credit service unavailable"))
			return
		}

		var payload grantRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		tenantID, accountID, err := resolveAccount(r, svc, payload.AccountID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		input := creditsvc.GrantInput{
			AccountID:      accountID,
			TenantID:       tenantID,
			Amount:         payload.AmountMinorUnits,
			IdempotencyKey: strings.TrimSpace(payload.IdempotencyKey),
			Note:           payload.Note,
			Actor:          tenantcontext.Actor(r),
		}

		if reason := strings.TrimSpace(payload.Reason); reason != "" {
			parsed, err := enums.ParseCreditLedgerReason(reason)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid reason"))
				return
			}
			input.Reason = parsed
		}

		result, err := svc.Grant(ctx, input)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, grantResponse{
			Entry:    entryToResponse(result.Entry),
			Balance:  balanceToResponse(result.Balance),
			Replayed: result.Replayed,
		})
	}
}
