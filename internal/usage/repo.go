package usage

import (
	"context"

	"github.com/atlasops/atlasops-backend/pkg/db/models"
	"github.com/atlasops/atlasops-backend/pkg/enums"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Repository handles usage event persistence.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindBySubjectAndType(ctx context.Context, subjectID uuid.UUID, eventType enums.UsageEventType) (*models.UsageEvent, error)
	FindByIdempotencyKey(ctx context.Context, tenantID uuid.UUID, eventType enums.UsageEventType, key string) (*models.UsageEvent, error)
	CountInPeriod(ctx context.Context, tenantID uuid.UUID, eventType enums.UsageEventType, periodStart, periodEnd string) (int64, error)
	Create(ctx context.Context, event *models.UsageEvent) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a usage repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindBySubjectAndType(ctx context.Context, subjectID uuid.UUID, eventType enums.UsageEventType) (*models.UsageEvent, error) {
	var event models.UsageEvent
	if err := r.db.WithContext(ctx).
		Where("subject_id = ? AND event_type = ?", subjectID, eventType).
		First(&event).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &event, nil
}

func (r *repository) FindByIdempotencyKey(ctx context.Context, tenantID uuid.UUID, eventType enums.UsageEventType, key string) (*models.UsageEvent, error) {
	if key == "" {
		return nil, nil
	}
	var event models.UsageEvent
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND event_type = ? AND idempotency_key = ?", tenantID, eventType, key).
		First(&event).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &event, nil
}

func (r *repository) CountInPeriod(ctx context.Context, tenantID uuid.UUID, eventType enums.UsageEventType, periodStart, periodEnd string) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.UsageEvent{}).
		Where("tenant_id = ? AND event_type = ? AND period_start = ? AND period_end = ?", tenantID, eventType, periodStart, periodEnd).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *repository) Create(ctx context.Context, event *models.UsageEvent) error {
	return r.db.WithContext(ctx).Create(event).Error
}
