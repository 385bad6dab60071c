package tenantbilling

import (
	"context"

	"github.com/atlasops/atlasops-backend/pkg/db/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Repository handles billing profile and plan persistence.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindProfileByTenant(ctx context.Context, tenantID uuid.UUID) (*models.TenantBilling, error)
	FindPlanByID(ctx context.Context, id uuid.UUID) (*models.BillingPlan, error)
	CreatePlan(ctx context.Context, plan *models.BillingPlan) error
	CreateProfile(ctx context.Context, profile *models.TenantBilling) error
	UpdatePlan(ctx context.Context, planID uuid.UUID, updates map[string]any) error
	UpdateProfile(ctx context.Context, tenantID uuid.UUID, updates map[string]any) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a tenant billing repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindProfileByTenant(ctx context.Context, tenantID uuid.UUID) (*models.TenantBilling, error) {
	var profile models.TenantBilling
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		First(&profile).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &profile, nil
}

func (r *repository) FindPlanByID(ctx context.Context, id uuid.UUID) (*models.BillingPlan, error) {
	var plan models.BillingPlan
	if err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&plan).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &plan, nil
}

func (r *repository) CreatePlan(ctx context.Context, plan *models.BillingPlan) error {
	return r.db.WithContext(ctx).Create(plan).Error
}

func (r *repository) CreateProfile(ctx context.Context, profile *models.TenantBilling) error {
	return r.db.WithContext(ctx).Create(profile).Error
}

func (r *repository) UpdatePlan(ctx context.Context, planID uuid.UUID, updates map[string]any) error {
	return r.db.WithContext(ctx).
		Model(&models.BillingPlan{}).
		Where("id = ?", planID).
		Updates(updates).Error
}

func (r *repository) UpdateProfile(ctx context.Context, tenantID uuid.UUID, updates map[string]any) error {
	return r.db.WithContext(ctx).
		Model(&models.TenantBilling{}).
		Where("tenant_id = ?", tenantID).
		Updates(updates).Error
}
