package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/atlasops/atlasops-backend/pkg/enums"
)

// TenantBilling holds the per-tenant billing profile. One row per tenant,
// created lazily alongside the default plan.
type TenantBilling struct {
	ID           uuid.UUID                 `gorm:"column:id;type:uuid;primaryKey"`
	TenantID     uuid.UUID                 `gorm:"column:tenant_id;type:uuid;not null;uniqueIndex:ux_tenant_billing_tenant"`
	PlanID       uuid.UUID                 `gorm:"column:plan_id;type:uuid;not null"`
	BillingEmail *string                   `gorm:"column:billing_email"`
	TaxRateBps   int                       `gorm:"column:tax_rate_bps;not null;default:0"`
	Timezone     string                    `gorm:"column:timezone;not null;default:'UTC'"`
	Status       enums.TenantBillingStatus `gorm:"column:status;type:tenant_billing_status_enum;not null;default:'active'"`
	CreatedAt    time.Time                 `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time                 `gorm:"column:updated_at;autoUpdateTime"`
}

func (t *TenantBilling) BeforeCreate(tx *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}
