package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/atlasops/atlasops-backend/pkg/enums"
)

// CreditReservation is one instance of the reservation state machine
// (active -> consumed | released | expired). The partial unique index keeps
// at most one ACTIVE reservation per (account, ref_type, ref_id).
type CreditReservation struct {
	ID               uuid.UUID               `gorm:"column:id;type:uuid;primaryKey"`
	AccountID        uuid.UUID               `gorm:"column:account_id;type:uuid;not null;index;uniqueIndex:ux_credit_reservations_active_ref,priority:1,where:status = 'active';uniqueIndex:ux_credit_reservations_account_idem,priority:1"`
	AmountMinorUnits int64                   `gorm:"column:amount_minor_units;not null"`
	RefType          string                  `gorm:"column:ref_type;not null;uniqueIndex:ux_credit_reservations_active_ref,priority:2"`
	RefID            string                  `gorm:"column:ref_id;not null;uniqueIndex:ux_credit_reservations_active_ref,priority:3"`
	Status           enums.ReservationStatus `gorm:"column:status;type:reservation_status_enum;not null;default:'active';index:ix_credit_reservations_status_created"`
	IdempotencyKey   string                  `gorm:"column:idempotency_key;not null;uniqueIndex:ux_credit_reservations_account_idem,priority:2"`
	OperatorOverride bool                    `gorm:"column:operator_override;not null;default:false"`
	ClosedAt         *time.Time              `gorm:"column:closed_at"`
	CreatedAt        time.Time               `gorm:"column:created_at;autoCreateTime;index:ix_credit_reservations_status_created"`
	UpdatedAt        time.Time               `gorm:"column:updated_at;autoUpdateTime"`
}

func (r *CreditReservation) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}
