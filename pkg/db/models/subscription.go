package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/atlasops/atlasops-backend/pkg/enums"
)

// Subscription schedules recurring credit grants for an account. NextRefillAt
// advances by CycleDays on every applied refill.
type Subscription struct {
	ID                           uuid.UUID                `gorm:"column:id;type:uuid;primaryKey"`
	AccountID                    uuid.UUID                `gorm:"column:account_id;type:uuid;not null;index"`
	CycleDays                    int                      `gorm:"column:cycle_days;not null"`
	MonthlyCreditGrantMinorUnits int64                    `gorm:"column:monthly_credit_grant_minor_units;not null"`
	Status                       enums.SubscriptionStatus `gorm:"column:status;type:subscription_status_enum;not null;default:'active';index:ix_subscriptions_status_next_refill"`
	NextRefillAt                 time.Time                `gorm:"column:next_refill_at;not null;index:ix_subscriptions_status_next_refill"`
	LastRefillAt                 *time.Time               `gorm:"column:last_refill_at"`
	CreatedAt                    time.Time                `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt                    time.Time                `gorm:"column:updated_at;autoUpdateTime"`
}

func (s *Subscription) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}
