package billing

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/atlasops/atlasops-backend/api/controllers/tenantcontext"
	"github.com/atlasops/atlasops-backend/api/responses"
	"github.com/atlasops/atlasops-backend/api/validators"
	"github.com/atlasops/atlasops-backend/internal/tenantbilling"
	"github.com/atlasops/atlasops-backend/pkg/enums"
	pkgerrors "github.com/atlasops/atlasops-backend/pkg/errors"
	"github.com/atlasops/atlasops-backend/pkg/logger"
)

// PlanService describes the tenant billing profile methods used by the HTTP
// controllers.
type PlanService interface {
	GetProfile(ctx context.Context, tenantID uuid.UUID) (*tenantbilling.Profile, error)
	UpdatePlan(ctx context.Context, input tenantbilling.UpdatePlanInput) (*tenantbilling.Profile, error)
}

type planResponse struct {
	ID                  string `json:"id"`
	Currency            string `json:"currency"`
	IncludedUnits       int    `json:"included_units"`
	UnitPrice           string `json:"unit_price"`
	UnitPriceMinorUnits int64  `json:"unit_price_minor_units"`
	CreatedAt           string `json:"created_at"`
	UpdatedAt           string `json:"updated_at"`
}

type billingProfileResponse struct {
	Plan         planResponse `json:"plan"`
	BillingEmail *string      `json:"billing_email,omitempty"`
	TaxRateBps   int          `json:"tax_rate_bps"`
	Timezone     string       `json:"timezone"`
	Status       string       `json:"status"`
}

type planUpdateRequest struct {
	IncludedUnits       *int    `json:"included_units"`
	UnitPriceMinorUnits *int64  `json:"unit_price_minor_units"`
	Currency            *string `json:"currency"`
	TaxRateBps          *int    `json:"tax_rate_bps"`
	Timezone            *string `json:"timezone"`
	BillingEmail        *string `json:"billing_email" validate:"omitempty,email"`
	Status              *string `json:"status"`
}

// GetPlan returns the tenant's plan and billing profile, creating defaults
// on first touch.
func GetPlan(svc PlanService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "billing service unavailable"))
			return
		}

		tenantID, err := tenantcontext.ResolveTenantID(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		profile, err := svc.GetProfile(ctx, tenantID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, profileToResponse(profile))
	}
}

// UpdatePlan applies admin changes to pricing and profile settings. Already
// billed events keep the price captured at billing time.
func UpdatePlan(svc PlanService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "billing service unavailable"))
			return
		}

		tenantID, err := tenantcontext.ResolveTenantID(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		var payload planUpdateRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		input := tenantbilling.UpdatePlanInput{
			TenantID:            tenantID,
			IncludedUnits:       payload.IncludedUnits,
			UnitPriceMinorUnits: payload.UnitPriceMinorUnits,
			TaxRateBps:          payload.TaxRateBps,
			Timezone:            payload.Timezone,
			BillingEmail:        payload.BillingEmail,
		}

		if payload.Currency != nil {
			currency, err := enums.ParseCurrency(strings.TrimSpace(*payload.Currency))
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid currency"))
				return
			}
			input.Currency = &currency
		}

		if payload.Status != nil {
			status, err := enums.ParseTenantBillingStatus(strings.TrimSpace(*payload.Status))
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status"))
				return
			}
			input.Status = &status
		}

		profile, err := svc.UpdatePlan(ctx, input)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, profileToResponse(profile))
	}
}

func profileToResponse(profile *tenantbilling.Profile) billingProfileResponse {
	resp := billingProfileResponse{
		Plan: planResponse{
			ID:                  profile.Plan.ID.String(),
			Currency:            string(profile.Plan.Currency),
			IncludedUnits:       profile.Plan.IncludedUnits,
			UnitPrice:           decimal.NewFromInt(profile.Plan.UnitPriceMinorUnits).Shift(-2).StringFixed(2),
			UnitPriceMinorUnits: profile.Plan.UnitPriceMinorUnits,
			CreatedAt:           profile.Plan.CreatedAt.UTC().Format(time.RFC3339),
			UpdatedAt:           profile.Plan.UpdatedAt.UTC().Format(time.RFC3339),
		},
		BillingEmail: profile.Billing.BillingEmail,
		TaxRateBps:   profile.Billing.TaxRateBps,
		Timezone:     profile.Billing.Timezone,
		Status:       string(profile.Billing.Status),
	}
	return resp
}
