package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/atlasops/atlasops-backend/pkg/enums"
)

// UsageEvent records one billed business event. Rows are immutable: the unit
// price is the plan price captured at billing time, never recomputed.
// Period bounds are calendar dates (YYYY-MM-DD) in the tenant timezone.
type UsageEvent struct {
	ID                  uuid.UUID            `gorm:"column:id;type:uuid;primaryKey"`
	TenantID            uuid.UUID            `gorm:"column:tenant_id;type:uuid;not null;index:ix_usage_events_tenant_period,priority:1;uniqueIndex:ux_usage_events_tenant_event_idem,priority:1,where:idempotency_key IS NOT NULL"`
	EventType           enums.UsageEventType `gorm:"column:event_type;not null;index:ix_usage_events_tenant_period,priority:2;uniqueIndex:ux_usage_events_subject_event,priority:2,where:subject_id IS NOT NULL;uniqueIndex:ux_usage_events_tenant_event_idem,priority:2"`
	SubjectID           *uuid.UUID           `gorm:"column:subject_id;type:uuid;uniqueIndex:ux_usage_events_subject_event,priority:1"`
	Quantity            int                  `gorm:"column:quantity;not null;default:1"`
	UnitPriceMinorUnits int64                `gorm:"column:unit_price_minor_units;not null"`
	AmountMinorUnits    int64                `gorm:"column:amount_minor_units;not null"`
	PeriodStart         string               `gorm:"column:period_start;not null;index:ix_usage_events_tenant_period,priority:3"`
	PeriodEnd           string               `gorm:"column:period_end;not null"`
	OccurredAt          time.Time            `gorm:"column:occurred_at;not null"`
	IdempotencyKey      *string              `gorm:"column:idempotency_key;uniqueIndex:ux_usage_events_tenant_event_idem,priority:3"`
	CreatedAt           time.Time            `gorm:"column:created_at;autoCreateTime"`
}

func (u *UsageEvent) BeforeCreate(tx *gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return nil
}
