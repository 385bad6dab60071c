package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/atlasops/atlasops-backend/pkg/enums"
)

// BillingAccount is the credit-mode unit of account: a tenant itself or an
// external associate billed under one.
type BillingAccount struct {
	ID               uuid.UUID                `gorm:"column:id;type:uuid;primaryKey"`
	TenantID         uuid.UUID                `gorm:"column:tenant_id;type:uuid;not null;index;uniqueIndex:ux_billing_accounts_tenant_self,where:kind = 'tenant'"`
	Kind             enums.BillingAccountKind `gorm:"column:kind;type:billing_account_kind_enum;not null;default:'tenant'"`
	Policy           enums.BillingPolicy      `gorm:"column:policy;type:billing_policy_enum;not null;default:'postpaid'"`
	CreditEnabled    bool                     `gorm:"column:credit_enabled;not null;default:false"`
	PaymentTermsDays int                      `gorm:"column:payment_terms_days;not null;default:30"`
	CreatedAt        time.Time                `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time                `gorm:"column:updated_at;autoUpdateTime"`
}

func (a *BillingAccount) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}

// CreditBalance is the single current-state row per account. Mutated only by
// ledger application; wallet - reserved = available must hold at all times
// and is also declared as a CHECK constraint in the schema.
type CreditBalance struct {
	AccountID           uuid.UUID `gorm:"column:account_id;type:uuid;primaryKey"`
	WalletMinorUnits    int64     `gorm:"column:wallet_minor_units;not null;default:0"`
	ReservedMinorUnits  int64     `gorm:"column:reserved_minor_units;not null;default:0"`
	AvailableMinorUnits int64     `gorm:"column:available_minor_units;not null;default:0"`
	UpdatedAt           time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
