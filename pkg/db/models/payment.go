package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/atlasops/atlasops-backend/pkg/enums"
)

// Payment is an append-only settlement record against an invoice. ExternalID
// carries the provider payment id when the payment arrived via webhook.
type Payment struct {
	ID               uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	InvoiceID        uuid.UUID           `gorm:"column:invoice_id;type:uuid;not null;index"`
	AmountMinorUnits int64               `gorm:"column:amount_minor_units;not null"`
	Currency         enums.Currency      `gorm:"column:currency;not null"`
	Method           enums.PaymentMethod `gorm:"column:method;type:payment_method_enum;not null"`
	Reference        *string             `gorm:"column:reference"`
	ExternalID       *string             `gorm:"column:external_id;uniqueIndex:ux_payments_external_id,where:external_id IS NOT NULL"`
	CreatedAt        time.Time           `gorm:"column:created_at;autoCreateTime"`
}

func (p *Payment) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}
