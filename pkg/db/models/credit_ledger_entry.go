package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/atlasops/atlasops-backend/pkg/enums"
)

// CreditLedgerEntry is the immutable audit trail of every balance mutation.
// The *_after columns snapshot the balance the entry produced, so the ledger
// replays to the current balance without consulting other tables.
type CreditLedgerEntry struct {
	ID                       uuid.UUID                `gorm:"column:id;type:uuid;primaryKey"`
	AccountID                uuid.UUID                `gorm:"column:account_id;type:uuid;not null;index;uniqueIndex:ux_credit_ledger_account_idem,priority:1"`
	DeltaMinorUnits          int64                    `gorm:"column:delta_minor_units;not null"`
	Reason                   enums.CreditLedgerReason `gorm:"column:reason;type:credit_ledger_reason_enum;not null"`
	ReservationID            *uuid.UUID               `gorm:"column:reservation_id;type:uuid;index"`
	IdempotencyKey           string                   `gorm:"column:idempotency_key;not null;uniqueIndex:ux_credit_ledger_account_idem,priority:2"`
	WalletAfterMinorUnits    int64                    `gorm:"column:wallet_after_minor_units;not null"`
	ReservedAfterMinorUnits  int64                    `gorm:"column:reserved_after_minor_units;not null"`
	AvailableAfterMinorUnits int64                    `gorm:"column:available_after_minor_units;not null"`
	OperatorOverride         bool                     `gorm:"column:operator_override;not null;default:false"`
	Note                     *string                  `gorm:"column:note"`
	CreatedAt                time.Time                `gorm:"column:created_at;autoCreateTime"`
}

func (e *CreditLedgerEntry) BeforeCreate(tx *gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}
