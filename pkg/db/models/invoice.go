package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/atlasops/atlasops-backend/pkg/enums"
)

// Invoice is the per-tenant, per-period aggregate. Subtotal, tax, and total
// are recomputed from lines on every mutation and never adjusted in place.
type Invoice struct {
	ID                 uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	TenantID           uuid.UUID           `gorm:"column:tenant_id;type:uuid;not null;index;uniqueIndex:ux_invoices_tenant_period,priority:1"`
	PeriodStart        string              `gorm:"column:period_start;not null;uniqueIndex:ux_invoices_tenant_period,priority:2"`
	PeriodEnd          string              `gorm:"column:period_end;not null;uniqueIndex:ux_invoices_tenant_period,priority:3"`
	Status             enums.InvoiceStatus `gorm:"column:status;type:invoice_status_enum;not null;default:'open'"`
	Currency           enums.Currency      `gorm:"column:currency;not null"`
	SubtotalMinorUnits int64               `gorm:"column:subtotal_minor_units;not null;default:0"`
	TaxRateBps         int                 `gorm:"column:tax_rate_bps;not null;default:0"`
	TaxMinorUnits      int64               `gorm:"column:tax_minor_units;not null;default:0"`
	TotalMinorUnits    int64               `gorm:"column:total_minor_units;not null;default:0"`
	IssuedAt           *time.Time          `gorm:"column:issued_at"`
	PaidAt             *time.Time          `gorm:"column:paid_at"`
	Lines              []InvoiceLine       `gorm:"foreignKey:InvoiceID"`
	Payments           []Payment           `gorm:"foreignKey:InvoiceID"`
	CreatedAt          time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

func (i *Invoice) BeforeCreate(tx *gorm.DB) error {
	if i.ID == uuid.Nil {
		i.ID = uuid.New()
	}
	return nil
}

// InvoiceLine snapshots one usage event onto an invoice. At most one line
// exists per (invoice, usage_event); amounts are immutable after creation.
type InvoiceLine struct {
	ID                  uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	InvoiceID           uuid.UUID `gorm:"column:invoice_id;type:uuid;not null;index;uniqueIndex:ux_invoice_lines_invoice_usage_event,priority:1"`
	UsageEventID        uuid.UUID `gorm:"column:usage_event_id;type:uuid;not null;uniqueIndex:ux_invoice_lines_invoice_usage_event,priority:2"`
	Description         string    `gorm:"column:description;not null"`
	Quantity            int       `gorm:"column:quantity;not null;default:1"`
	UnitPriceMinorUnits int64     `gorm:"column:unit_price_minor_units;not null"`
	AmountMinorUnits    int64     `gorm:"column:amount_minor_units;not null"`
	CreatedAt           time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (l *InvoiceLine) BeforeCreate(tx *gorm.DB) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	return nil
}
