package credits

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/atlasops/atlasops-backend/api/controllers/tenantcontext"
	"github.com/atlasops/atlasops-backend/api/middleware"
	creditsvc "github.com/atlasops/atlasops-backend/internal/credit"
	"github.com/atlasops/atlasops-backend/pkg/db/models"
	"github.com/atlasops/atlasops-backend/pkg/enums"
	pkgerrors "github.com/atlasops/atlasops-backend/pkg/errors"
)

// CreditService describes the credit engine methods used by the HTTP
// controllers.
type CreditService interface {
	EnsureTenantAccount(ctx context.Context, tenantID uuid.UUID) (*models.BillingAccount, error)
	GetBalance(ctx context.Context, tenantID, accountID uuid.UUID) (*models.CreditBalance, error)
	ListLedger(ctx context.Context, input creditsvc.LedgerInput) (*creditsvc.LedgerPage, error)
	Grant(ctx context.Context, input creditsvc.GrantInput) (*creditsvc.GrantResult, error)
	Reserve(ctx context.Context, input creditsvc.ReserveInput) (*creditsvc.ReservationResult, error)
	Consume(ctx context.Context, input creditsvc.ConsumeInput) (*creditsvc.ReservationResult, error)
	Release(ctx context.Context, input creditsvc.ReleaseInput) (*creditsvc.ReservationResult, error)
}

// resolveAccount picks the billing account a request operates on: an explicit
// account (admin and operator callers only), the token's account claim, or
// the tenant's own account created on first use.
func resolveAccount(r *http.Request, svc CreditService, explicit string) (uuid.UUID, uuid.UUID, error) {
	tenantID, err := tenantcontext.ResolveTenantID(r)
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}

	if explicit = strings.TrimSpace(explicit); explicit != "" {
		if !isElevated(r) {
			return uuid.Nil, uuid.Nil, pkgerrors.New(pkgerrors.CodeForbidden, "explicit account requires admin role")
		}
		accountID, err := uuid.Parse(explicit)
		if err != nil {
			return uuid.Nil, uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid account id")
		}
		return tenantID, accountID, nil
	}

	if claimed, err := tenantcontext.ResolveAccountID(r); err != nil {
		return uuid.Nil, uuid.Nil, err
	} else if claimed != nil {
		return tenantID, *claimed, nil
	}

	account, err := svc.EnsureTenantAccount(r.Context(), tenantID)
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	return tenantID, account.ID, nil
}

func isElevated(r *http.Request) bool {
	switch middleware.RoleFromContext(r.Context()) {
	case string(enums.PrincipalRoleAdmin), string(enums.PrincipalRoleOperator):
		return true
	}
	return false
}

type balanceResponse struct {
	AccountID           string `json:"account_id"`
	Wallet              string `json:"wallet"`
	WalletMinorUnits    int64  `json:"wallet_minor_units"`
	Reserved            string `json:"reserved"`
	ReservedMinorUnits  int64  `json:"reserved_minor_units"`
	Available           string `json:"available"`
	AvailableMinorUnits int64  `json:"available_minor_units"`
	UpdatedAt           string `json:"updated_at"`
}

type ledgerEntryResponse struct {
	ID                       string  `json:"id"`
	DeltaMinorUnits          int64   `json:"delta_minor_units"`
	Reason                   string  `json:"reason"`
	ReservationID            *string `json:"reservation_id,omitempty"`
	IdempotencyKey           string  `json:"idempotency_key"`
	WalletAfterMinorUnits    int64   `json:"wallet_after_minor_units"`
	ReservedAfterMinorUnits  int64   `json:"reserved_after_minor_units"`
	AvailableAfterMinorUnits int64   `json:"available_after_minor_units"`
	OperatorOverride         bool    `json:"operator_override"`
	Note                     *string `json:"note,omitempty"`
	CreatedAt                string  `json:"created_at"`
}

type reservationResponse struct {
	ID               string  `json:"id"`
	AccountID        string  `json:"account_id"`
	Amount           string  `json:"amount"`
	AmountMinorUnits int64   `json:"amount_minor_units"`
	RefType          string  `json:"ref_type"`
	RefID            string  `json:"ref_id"`
	Status           string  `json:"status"`
	OperatorOverride bool    `json:"operator_override"`
	ClosedAt         *string `json:"closed_at,omitempty"`
	CreatedAt        string  `json:"created_at"`
}

func balanceToResponse(balance *models.CreditBalance) balanceResponse {
	return balanceResponse{
		AccountID:           balance.AccountID.String(),
		Wallet:              minorUnitsToDisplay(balance.WalletMinorUnits),
		WalletMinorUnits:    balance.WalletMinorUnits,
		Reserved:            minorUnitsToDisplay(balance.ReservedMinorUnits),
		ReservedMinorUnits:  balance.ReservedMinorUnits,
		Available:           minorUnitsToDisplay(balance.AvailableMinorUnits),
		AvailableMinorUnits: balance.AvailableMinorUnits,
		UpdatedAt:           balance.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func entryToResponse(entry *models.CreditLedgerEntry) ledgerEntryResponse {
	resp := ledgerEntryResponse{
		ID:                       entry.ID.String(),
		DeltaMinorUnits:          entry.DeltaMinorUnits,
		Reason:                   string(entry.Reason),
		IdempotencyKey:           entry.IdempotencyKey,
		WalletAfterMinorUnits:    entry.WalletAfterMinorUnits,
		ReservedAfterMinorUnits:  entry.ReservedAfterMinorUnits,
		AvailableAfterMinorUnits: entry.AvailableAfterMinorUnits,
		OperatorOverride:         entry.OperatorOverride,
		Note:                     entry.Note,
		CreatedAt:                entry.CreatedAt.UTC().Format(time.RFC3339),
	}
	if entry.ReservationID != nil {
		id := entry.ReservationID.String()
		resp.ReservationID = &id
	}
	return resp
}

func reservationToResponse(reservation *models.CreditReservation) reservationResponse {
	resp := reservationResponse{
		ID:               reservation.ID.String(),
		AccountID:        reservation.AccountID.String(),
		Amount:           minorUnitsToDisplay(reservation.AmountMinorUnits),
		AmountMinorUnits: reservation.AmountMinorUnits,
		RefType:          reservation.RefType,
		RefID:            reservation.RefID,
		Status:           string(reservation.Status),
		OperatorOverride: reservation.OperatorOverride,
		CreatedAt:        reservation.CreatedAt.UTC().Format(time.RFC3339),
	}
	if reservation.ClosedAt != nil {
		closed := reservation.ClosedAt.UTC().Format(time.RFC3339)
		resp.ClosedAt = &closed
	}
	return resp
}

func minorUnitsToDisplay(minorUnits int64) string {
	return decimal.NewFromInt(minorUnits).Shift(-2).StringFixed(2)
}
