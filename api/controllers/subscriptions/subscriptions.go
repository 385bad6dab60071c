// Package subscriptions exposes the refill scheduler over HTTP: create,
// inspect, manual refill, and lifecycle transitions.
package subscriptions

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/atlasops/atlasops-backend/api/controllers/tenantcontext"
	"github.com/atlasops/atlasops-backend/api/responses"
	"github.com/atlasops/atlasops-backend/api/validators"
	subsvc "github.com/atlasops/atlasops-backend/internal/subscriptions"
	"github.com/atlasops/atlasops-backend/pkg/db/models"
	pkgerrors "github.com/atlasops/atlasops-backend/pkg/errors"
	"github.com/atlasops/atlasops-backend/pkg/logger"
)

// SubscriptionService describes the scheduler methods used by the HTTP
// controllers.
type SubscriptionService interface {
	Create(ctx context.Context, input subsvc.CreateInput) (*models.Subscription, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Subscription, error)
	Refill(ctx context.Context, id uuid.UUID) (*subsvc.RefillResult, error)
	Pause(ctx context.Context, id uuid.UUID) (*models.Subscription, error)
	Resume(ctx context.Context, id uuid.UUID) (*models.Subscription, error)
	Cancel(ctx context.Context, id uuid.UUID) (*models.Subscription, error)
}

// AccountResolver lazily resolves the tenant's own billing account when the
// request names none.
type AccountResolver interface {
	EnsureTenantAccount(ctx context.Context, tenantID uuid.UUID) (*models.BillingAccount, error)
}

type createRequest struct {
	AccountID                    string  `json:"account_id"`
	CycleDays                    int     `json:"cycle_days" validate:"required,min=1"`
	MonthlyCreditGrantMinorUnits int64   `json:"monthly_credit_grant_minor_units" validate:"required,min=1"`
	FirstRefillAt                *string `json:"first_refill_at"`
}

type subscriptionResponse struct {
	ID                           string  `json:"id"`
	AccountID                    string  `json:"account_id"`
	CycleDays                    int     `json:"cycle_days"`
	MonthlyCreditGrant           string  `json:"monthly_credit_grant"`
	MonthlyCreditGrantMinorUnits int64   `json:"monthly_credit_grant_minor_units"`
	Status                       string  `json:"status"`
	NextRefillAt                 string  `json:"next_refill_at"`
	LastRefillAt                 *string `json:"last_refill_at,omitempty"`
	CreatedAt                    string  `json:"created_at"`
}

type refillResponse struct {
	Subscription subscriptionResponse `json:"subscription"`
	EntryID      *string              `json:"entry_id,omitempty"`
	Replayed     bool                 `json:"replayed"`
}

// CreateSubscription provisions a recurring credit refill for an account.
func CreateSubscription(svc SubscriptionService, accounts AccountResolver, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil || accounts == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "subscription service unavailable"))
			return
		}

		tenantID, err := tenantcontext.ResolveTenantID(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		var payload createRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		accountID, err := resolveAccountID(ctx, accounts, tenantID, payload.AccountID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		input := subsvc.CreateInput{
			AccountID:                    accountID,
			TenantID:                     tenantID,
			CycleDays:                    payload.CycleDays,
			MonthlyCreditGrantMinorUnits: payload.MonthlyCreditGrantMinorUnits,
		}
		if payload.FirstRefillAt != nil && strings.TrimSpace(*payload.FirstRefillAt) != "" {
			at, err := time.Parse(time.RFC3339, strings.TrimSpace(*payload.FirstRefillAt))
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid first_refill_at"))
				return
			}
			utc := at.UTC()
			input.FirstRefillAt = &utc
		}

		subscription, err := svc.Create(ctx, input)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, subscriptionToResponse(subscription))
	}
}

// GetSubscription returns one subscription by id.
func GetSubscription(svc SubscriptionService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "subscription service unavailable"))
			return
		}

		id, err := subscriptionIDParam(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		subscription, err := svc.Get(ctx, id)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, subscriptionToResponse(subscription))
	}
}

// RefillSubscription applies the pending cycle immediately.
func RefillSubscription(svc SubscriptionService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "subscription service unavailable"))
			return
		}

		id, err := subscriptionIDParam(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		result, err := svc.Refill(ctx, id)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		resp := refillResponse{
			Subscription: subscriptionToResponse(result.Subscription),
			Replayed:     result.Replayed,
		}
		if result.Entry != nil {
			entryID := result.Entry.ID.String()
			resp.EntryID = &entryID
		}
		responses.WriteSuccess(w, resp)
	}
}

// PauseSubscription stops future refills; the schedule resumes from now.
func PauseSubscription(svc SubscriptionService, logg *logger.Logger) http.HandlerFunc {
	return transition(svc, logg, func(ctx context.Context, id uuid.UUID) (*models.Subscription, error) {
		return svc.Pause(ctx, id)
	})
}

// ResumeSubscription reactivates a paused subscription.
func ResumeSubscription(svc SubscriptionService, logg *logger.Logger) http.HandlerFunc {
	return transition(svc, logg, func(ctx context.Context, id uuid.UUID) (*models.Subscription, error) {
		return svc.Resume(ctx, id)
	})
}

// CancelSubscription ends the subscription permanently.
func CancelSubscription(svc SubscriptionService, logg *logger.Logger) http.HandlerFunc {
	return transition(svc, logg, func(ctx context.Context, id uuid.UUID) (*models.Subscription, error) {
		return svc.Cancel(ctx, id)
	})
}

func transition(svc SubscriptionService, logg *logger.Logger, do func(ctx context.Context, id uuid.UUID) (*models.Subscription, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "subscription service unavailable"))
			return
		}

		id, err := subscriptionIDParam(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		subscription, err := do(ctx, id)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, subscriptionToResponse(subscription))
	}
}

func resolveAccountID(ctx context.Context, accounts AccountResolver, tenantID uuid.UUID, explicit string) (uuid.UUID, error) {
	if explicit = strings.TrimSpace(explicit); explicit != "" {
		accountID, err := uuid.Parse(explicit)
		if err != nil {
			return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid account id")
		}
		return accountID, nil
	}
	account, err := accounts.EnsureTenantAccount(ctx, tenantID)
	if err != nil {
		return uuid.Nil, err
	}
	return account.ID, nil
}

func subscriptionIDParam(r *http.Request) (uuid.UUID, error) {
	raw := strings.TrimSpace(chi.URLParam(r, "subscriptionID"))
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "subscription id is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid subscription id")
	}
	return id, nil
}

func subscriptionToResponse(subscription *models.Subscription) subscriptionResponse {
	resp := subscriptionResponse{
		ID:                           subscription.ID.String(),
		AccountID:                    subscription.AccountID.String(),
		CycleDays:                    subscription.CycleDays,
		MonthlyCreditGrant:           decimal.NewFromInt(subscription.MonthlyCreditGrantMinorUnits).Shift(-2).StringFixed(2),
		MonthlyCreditGrantMinorUnits: subscription.MonthlyCreditGrantMinorUnits,
		Status:                       string(subscription.Status),
		NextRefillAt:                 subscription.NextRefillAt.UTC().Format(time.RFC3339),
		CreatedAt:                    subscription.CreatedAt.UTC().Format(time.RFC3339),
	}
	if subscription.LastRefillAt != nil {
		last := subscription.LastRefillAt.UTC().Format(time.RFC3339)
		resp.LastRefillAt = &last
	}
	return resp
}
