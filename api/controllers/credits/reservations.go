package credits

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/atlasops/atlasops-backend/api/controllers/tenantcontext"
	"github.com/atlasops/atlasops-backend/api/responses"
	"github.com/atlasops/atlasops-backend/api/validators"
	creditsvc "github.com/atlasops/atlasops-backend/internal/credit"
	pkgerrors "github.com/atlasops/atlasops-backend/pkg/errors"
	"github.com/atlasops/atlasops-backend/pkg/logger"
)

type reserveRequest struct {
	AccountID        string  `json:"account_id"`
	AmountMinorUnits int64   `json:"amount_minor_units" validate:"required,min=1"`
	RefType          string  `json:"ref_type" validate:"required"`
	RefID            string  `json:"ref_id" validate:"required"`
	IdempotencyKey   string  `json:"idempotency_key" validate:"required"`
	OperatorOverride bool    `json:"operator_override"`
	Note             *string `json:"note"`
}

type closeReservationRequest struct {
	IdempotencyKey string `json:"idempotency_key" validate:"required"`
}

type reservationResult struct {
	Reservation reservationResponse  `json:"reservation"`
	Entry       *ledgerEntryResponse `json:"entry,omitempty"`
	Balance     balanceResponse      `json:"balance"`
	Replayed    bool                 `json:"replayed"`
}

// ReserveCredits earmarks credit for referenced work. The override path is
// reserved for elevated callers and drives the balance negative.
func ReserveCredits(svc CreditService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "credit service unavailable"))
			return
		}

		var payload reserveRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		if payload.OperatorOverride && !isElevated(r) {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "operator override requires admin role"))
			return
		}

		tenantID, accountID, err := resolveAccount(r, svc, payload.AccountID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		result, err := svc.Reserve(ctx, creditsvc.ReserveInput{
			AccountID:        accountID,
			TenantID:         tenantID,
			Amount:           payload.AmountMinorUnits,
			RefType:          strings.TrimSpace(payload.RefType),
			RefID:            strings.TrimSpace(payload.RefID),
			IdempotencyKey:   strings.TrimSpace(payload.IdempotencyKey),
			OperatorOverride: payload.OperatorOverride,
			Note:             payload.Note,
			Actor:            tenantcontext.Actor(r),
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, reservationResultToResponse(result))
	}
}

// ConsumeReservation finalizes an active reservation: reserved and wallet
// both drop by the reserved amount.
func ConsumeReservation(svc CreditService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "credit service unavailable"))
			return
		}

		reservationID, err := reservationIDParam(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		tenantID, err := tenantcontext.ResolveTenantID(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		var payload closeReservationRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		result, err := svc.Consume(ctx, creditsvc.ConsumeInput{
			ReservationID:  reservationID,
			TenantID:       tenantID,
			IdempotencyKey: strings.TrimSpace(payload.IdempotencyKey),
			Actor:          tenantcontext.Actor(r),
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, reservationResultToResponse(result))
	}
}

// ReleaseReservation returns an active reservation's credit to the
// available pool.
func ReleaseReservation(svc CreditService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "credit service unavailable"))
			return
		}

		reservationID, err := reservationIDParam(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		tenantID, err := tenantcontext.ResolveTenantID(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		var payload closeReservationRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		result, err := svc.Release(ctx, creditsvc.ReleaseInput{
			ReservationID:  reservationID,
			TenantID:       tenantID,
			IdempotencyKey: strings.TrimSpace(payload.IdempotencyKey),
			Actor:          tenantcontext.Actor(r),
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, reservationResultToResponse(result))
	}
}

func reservationIDParam(r *http.Request) (uuid.UUID, error) {
	raw := strings.TrimSpace(chi.URLParam(r, "reservationID"))
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "reservation id is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid reservation id")
	}
	return id, nil
}

func reservationResultToResponse(result *creditsvc.ReservationResult) reservationResult {
	resp := reservationResult{
		Reservation: reservationToResponse(result.Reservation),
		Balance:     balanceToResponse(result.Balance),
		Replayed:    result.Replayed,
	}
	if result.Entry != nil {
		entry := entryToResponse(result.Entry)
		resp.Entry = &entry
	}
	return resp
}
