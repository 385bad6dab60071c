package tenantbilling

import (
	"context"
	"errors"
	"time"

	dbpkg "github.com/atlasops/atlasops-backend/pkg/db"
	"github.com/atlasops/atlasops-backend/pkg/db/models"
	"github.com/atlasops/atlasops-backend/pkg/enums"
	pkgerrors "github.com/atlasops/atlasops-backend/pkg/errors"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Defaults seeds the plan and profile created for a tenant on first use.
type Defaults struct {
	Currency            enums.Currency
	IncludedUnits       int
	UnitPriceMinorUnits int64
	TaxRateBps          int
	Timezone            string
}

// Profile pairs a tenant's billing profile with its plan.
type Profile struct {
	Billing *models.TenantBilling
	Plan    *models.BillingPlan
}

// ServiceParams groups dependencies for the tenant billing service.
type ServiceParams struct {
	Repo     Repository
	Tx       txRunner
	Defaults Defaults
}

// Service manages per-tenant billing configuration.
type Service struct {
	repo     Repository
	tx       txRunner
	defaults Defaults
}

// NewService builds a tenant billing service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Repo == nil {
		return nil, errors.New("repo is required")
	}
	if params.Tx == nil {
		return nil, errors.New("tx runner is required")
	}
	if !params.Defaults.Currency.IsValid() {
		return nil, errors.New("default currency is invalid")
	}
	if params.Defaults.IncludedUnits < 0 {
		return nil, errors.New("default included units must not be negative")
	}
	if params.Defaults.UnitPriceMinorUnits < 0 {
		return nil, errors.New("default unit price must not be negative")
	}
	if params.Defaults.TaxRateBps < 0 || params.Defaults.TaxRateBps > 10000 {
		return nil, errors.New("default tax rate out of range")
	}
	if _, err := time.LoadLocation(params.Defaults.Timezone); err != nil || params.Defaults.Timezone == "" {
		return nil, errors.New("default timezone is invalid")
	}
	return &Service{
		repo:     params.Repo,
		tx:       params.Tx,
		defaults: params.Defaults,
	}, nil
}

// UpdatePlanInput carries the fields a tenant admin may change. Nil fields
// are left untouched. Price changes never rewrite already-billed lines.
type UpdatePlanInput struct {
	TenantID            uuid.UUID
	IncludedUnits       *int
	UnitPriceMinorUnits *int64
	Currency            *enums.Currency
	TaxRateBps          *int
	Timezone            *string
	BillingEmail        *string
	Status              *enums.TenantBillingStatus
}

// GetProfile returns the tenant's billing profile and plan, creating both
// from defaults when the tenant has never been configured.
func (s *Service) GetProfile(ctx context.Context, tenantID uuid.UUID) (*Profile, error) {
	if tenantID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tenant id required")
	}

	billing, err := s.repo.FindProfileByTenant(ctx, tenantID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load billing profile")
	}
	if billing != nil {
		plan, err := s.repo.FindPlanByID(ctx, billing.PlanID)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load billing plan")
		}
		if plan == nil {
			return nil, pkgerrors.New(pkgerrors.CodeDependency, "billing plan missing for tenant")
		}
		return &Profile{Billing: billing, Plan: plan}, nil
	}

	var profile *Profile
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		created, err := s.EnsureProfileTx(ctx, tx, tenantID)
		if err != nil {
			return err
		}
		profile = created
		return nil
	})
	if err != nil {
		return nil, err
	}
	return profile, nil
}

// EnsureProfileTx loads the tenant's profile and plan inside the caller's
// transaction, creating both from defaults on first use. Concurrent first
// writes are resolved by the tenant uniqueness constraints.
func (s *Service) EnsureProfileTx(ctx context.Context, tx *gorm.DB, tenantID uuid.UUID) (*Profile, error) {
	if tenantID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tenant id required")
	}

	repo := s.repo.WithTx(tx)
	billing, err := repo.FindProfileByTenant(ctx, tenantID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load billing profile")
	}
	if billing == nil {
		billing, err = s.createDefaults(ctx, repo, tenantID)
		if err != nil {
			return nil, err
		}
	}

	plan, err := repo.FindPlanByID(ctx, billing.PlanID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load billing plan")
	}
	if plan == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "billing plan missing for tenant")
	}
	return &Profile{Billing: billing, Plan: plan}, nil
}

// UpdatePlan applies tenant-admin plan and profile changes, creating the
// profile from defaults first when it does not exist yet.
func (s *Service) UpdatePlan(ctx context.Context, input UpdatePlanInput) (*Profile, error) {
	if err := validateUpdate(input); err != nil {
		return nil, err
	}

	var profile *Profile
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		current, err := s.EnsureProfileTx(ctx, tx, input.TenantID)
		if err != nil {
			return err
		}
		repo := s.repo.WithTx(tx)

		planUpdates := map[string]any{}
		if input.IncludedUnits != nil {
			planUpdates["included_units"] = *input.IncludedUnits
		}
		if input.UnitPriceMinorUnits != nil {
			planUpdates["unit_price_minor_units"] = *input.UnitPriceMinorUnits
		}
		if input.Currency != nil {
			planUpdates["currency"] = *input.Currency
		}
		if len(planUpdates) > 0 {
			if err := repo.UpdatePlan(ctx, current.Plan.ID, planUpdates); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update billing plan")
			}
		}

		profileUpdates := map[string]any{}
		if input.TaxRateBps != nil {
			profileUpdates["tax_rate_bps"] = *input.TaxRateBps
		}
		if input.Timezone != nil {
			profileUpdates["timezone"] = *input.Timezone
		}
		if input.BillingEmail != nil {
			profileUpdates["billing_email"] = *input.BillingEmail
		}
		if input.Status != nil {
			profileUpdates["status"] = *input.Status
		}
		if len(profileUpdates) > 0 {
			if err := repo.UpdateProfile(ctx, input.TenantID, profileUpdates); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update billing profile")
			}
		}

		refreshed, err := s.EnsureProfileTx(ctx, tx, input.TenantID)
		if err != nil {
			return err
		}
		profile = refreshed
		return nil
	})
	if err != nil {
		return nil, err
	}
	return profile, nil
}

func (s *Service) createDefaults(ctx context.Context, repo Repository, tenantID uuid.UUID) (*models.TenantBilling, error) {
	plan := &models.BillingPlan{
		TenantID:            tenantID,
		Currency:            s.defaults.Currency,
		IncludedUnits:       s.defaults.IncludedUnits,
		UnitPriceMinorUnits: s.defaults.UnitPriceMinorUnits,
	}
	if err := repo.CreatePlan(ctx, plan); err != nil {
		if !dbpkg.IsUniqueViolation(err, "ux_billing_plans_tenant") {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create billing plan")
		}
		return s.reloadProfile(ctx, repo, tenantID)
	}

	profile := &models.TenantBilling{
		TenantID:   tenantID,
		PlanID:     plan.ID,
		TaxRateBps: s.defaults.TaxRateBps,
		Timezone:   s.defaults.Timezone,
		Status:     enums.TenantBillingStatusActive,
	}
	if err := repo.CreateProfile(ctx, profile); err != nil {
		if !dbpkg.IsUniqueViolation(err, "ux_tenant_billing_tenant") {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create billing profile")
		}
		return s.reloadProfile(ctx, repo, tenantID)
	}
	return profile, nil
}

func (s *Service) reloadProfile(ctx context.Context, repo Repository, tenantID uuid.UUID) (*models.TenantBilling, error) {
	existing, err := repo.FindProfileByTenant(ctx, tenantID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload billing profile")
	}
	if existing == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "billing profile vanished after conflict")
	}
	return existing, nil
}

func validateUpdate(input UpdatePlanInput) error {
	if input.TenantID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "tenant id required")
	}
	if input.IncludedUnits != nil && *input.IncludedUnits < 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "included units must not be negative")
	}
	if input.UnitPriceMinorUnits != nil && *input.UnitPriceMinorUnits < 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "unit price must not be negative")
	}
	if input.Currency != nil && !input.Currency.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, "invalid currency")
	}
	if input.TaxRateBps != nil && (*input.TaxRateBps < 0 || *input.TaxRateBps > 10000) {
		return pkgerrors.New(pkgerrors.CodeValidation, "tax rate bps must be between 0 and 10000")
	}
	if input.Timezone != nil {
		if *input.Timezone == "" {
			return pkgerrors.New(pkgerrors.CodeValidation, "timezone required")
		}
		if _, err := time.LoadLocation(*input.Timezone); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "unknown timezone")
		}
	}
	if input.Status != nil && !input.Status.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, "invalid billing status")
	}
	return nil
}
