package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/atlasops/atlasops-backend/pkg/enums"
)

// BillingPlan is the tenant-scoped pricing catalog entry. Created lazily on
// the first billing interaction and updated by admin action; already-billed
// usage events keep the unit price captured at billing time.
type BillingPlan struct {
	ID                  uuid.UUID      `gorm:"column:id;type:uuid;primaryKey"`
	TenantID            uuid.UUID      `gorm:"column:tenant_id;type:uuid;not null;uniqueIndex:ux_billing_plans_tenant"`
	Currency            enums.Currency `gorm:"column:currency;not null"`
	IncludedUnits       int            `gorm:"column:included_units;not null;default:0"`
	UnitPriceMinorUnits int64          `gorm:"column:unit_price_minor_units;not null;default:0"`
	CreatedAt           time.Time      `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt           time.Time      `gorm:"column:updated_at;autoUpdateTime"`
}

func (p *BillingPlan) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}
