package subscriptions

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/atlasops/atlasops-backend/pkg/db/models"
	"github.com/atlasops/atlasops-backend/pkg/enums"
)

// Repository is the persistence boundary for subscription schedules.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindByID(ctx context.Context, id uuid.UUID) (*models.Subscription, error)
	Create(ctx context.Context, subscription *models.Subscription) error
	ListDue(ctx context.Context, now time.Time, limit int) ([]models.Subscription, error)
	Advance(ctx context.Context, id uuid.UUID, from time.Time, refilledAt, next time.Time) (bool, error)
	SetStatus(ctx context.Context, id uuid.UUID, from []enums.SubscriptionStatus, to enums.SubscriptionStatus) (bool, error)
	Resume(ctx context.Context, id uuid.UUID, next time.Time) (bool, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a gorm-backed subscription repository.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Subscription, error) {
	var subscription models.Subscription
	err := r.db.WithContext(ctx).First(&subscription, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &subscription, nil
}

func (r *repository) Create(ctx context.Context, subscription *models.Subscription) error {
	return r.db.WithContext(ctx).Create(subscription).Error
}

func (r *repository) ListDue(ctx context.Context, now time.Time, limit int) ([]models.Subscription, error) {
	q := r.db.WithContext(ctx).
		Where("status = ? AND next_refill_at <= ?", enums.SubscriptionStatusActive, now).
		Order("next_refill_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []models.Subscription
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// Advance moves the schedule one cycle forward. The update is conditional on
// the boundary it was computed from, so racing refills settle on one winner.
func (r *repository) Advance(ctx context.Context, id uuid.UUID, from time.Time, refilledAt, next time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Subscription{}).
		Where("id = ? AND status = ? AND next_refill_at = ?", id, enums.SubscriptionStatusActive, from).
		Updates(map[string]any{
			"last_refill_at": refilledAt,
			"next_refill_at": next,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repository) SetStatus(ctx context.Context, id uuid.UUID, from []enums.SubscriptionStatus, to enums.SubscriptionStatus) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Subscription{}).
		Where("id = ? AND status IN ?", id, from).
		Update("status", to)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repository) Resume(ctx context.Context, id uuid.UUID, next time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Subscription{}).
		Where("id = ? AND status = ?", id, enums.SubscriptionStatusPaused).
		Updates(map[string]any{
			"status":         enums.SubscriptionStatusActive,
			"next_refill_at": next,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
