package credit

import (
	"context"
	"time"

	"github.com/atlasops/atlasops-backend/pkg/db/models"
	"github.com/atlasops/atlasops-backend/pkg/enums"
	"github.com/atlasops/atlasops-backend/pkg/pagination"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Repository handles billing account, balance, ledger, and reservation
// persistence.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindAccountByID(ctx context.Context, id uuid.UUID) (*models.BillingAccount, error)
	FindTenantAccount(ctx context.Context, tenantID uuid.UUID) (*models.BillingAccount, error)
	CreateAccount(ctx context.Context, account *models.BillingAccount) error
	FindBalance(ctx context.Context, accountID uuid.UUID) (*models.CreditBalance, error)
	CreateBalance(ctx context.Context, balance *models.CreditBalance) error
	UpdateBalance(ctx context.Context, balance *models.CreditBalance) error
	FindEntryByIdempotency(ctx context.Context, accountID uuid.UUID, key string) (*models.CreditLedgerEntry, error)
	CreateEntry(ctx context.Context, entry *models.CreditLedgerEntry) error
	FindReservationByID(ctx context.Context, id uuid.UUID) (*models.CreditReservation, error)
	FindActiveReservationByRef(ctx context.Context, accountID uuid.UUID, refType, refID string) (*models.CreditReservation, error)
	CreateReservation(ctx context.Context, reservation *models.CreditReservation) error
	CloseReservation(ctx context.Context, id uuid.UUID, to enums.ReservationStatus, closedAt time.Time) (bool, error)
	ListStaleActiveReservations(ctx context.Context, cutoff time.Time, limit int) ([]models.CreditReservation, error)
	ListEntries(ctx context.Context, query LedgerQuery) ([]models.CreditLedgerEntry, *pagination.Cursor, error)
}

// LedgerQuery configures ledger history queries.
type LedgerQuery struct {
	AccountID uuid.UUID
	Limit     int
	Cursor    *pagination.Cursor
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a credit repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindAccountByID(ctx context.Context, id uuid.UUID) (*models.BillingAccount, error) {
	var account models.BillingAccount
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&account).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &account, nil
}

func (r *repository) FindTenantAccount(ctx context.Context, tenantID uuid.UUID) (*models.BillingAccount, error) {
	var account models.BillingAccount
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND kind = ?", tenantID, enums.BillingAccountKindTenant).
		First(&account).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &account, nil
}

func (r *repository) CreateAccount(ctx context.Context, account *models.BillingAccount) error {
	return r.db.WithContext(ctx).Create(account).Error
}

func (r *repository) FindBalance(ctx context.Context, accountID uuid.UUID) (*models.CreditBalance, error) {
	var balance models.CreditBalance
	if err := r.db.WithContext(ctx).Where("account_id = ?", accountID).First(&balance).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &balance, nil
}

func (r *repository) CreateBalance(ctx context.Context, balance *models.CreditBalance) error {
	return r.db.WithContext(ctx).Create(balance).Error
}

func (r *repository) UpdateBalance(ctx context.Context, balance *models.CreditBalance) error {
	return r.db.WithContext(ctx).
		Model(&models.CreditBalance{}).
		Where("account_id = ?", balance.AccountID).
		Updates(map[string]any{
			"wallet_minor_units":    balance.WalletMinorUnits,
			"reserved_minor_units":  balance.ReservedMinorUnits,
			"available_minor_units": balance.AvailableMinorUnits,
		}).Error
}

func (r *repository) FindEntryByIdempotency(ctx context.Context, accountID uuid.UUID, key string) (*models.CreditLedgerEntry, error) {
	if key == "" {
		return nil, nil
	}
	var entry models.CreditLedgerEntry
	if err := r.db.WithContext(ctx).
		Where("account_id = ? AND idempotency_key = ?", accountID, key).
		First(&entry).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &entry, nil
}

func (r *repository) CreateEntry(ctx context.Context, entry *models.CreditLedgerEntry) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *repository) FindReservationByID(ctx context.Context, id uuid.UUID) (*models.CreditReservation, error) {
	var reservation models.CreditReservation
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&reservation).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &reservation, nil
}

func (r *repository) FindActiveReservationByRef(ctx context.Context, accountID uuid.UUID, refType, refID string) (*models.CreditReservation, error) {
	var reservation models.CreditReservation
	if err := r.db.WithContext(ctx).
		Where("account_id = ? AND ref_type = ? AND ref_id = ? AND status = ?",
			accountID, refType, refID, enums.ReservationStatusActive).
		First(&reservation).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &reservation, nil
}

func (r *repository) CreateReservation(ctx context.Context, reservation *models.CreditReservation) error {
	return r.db.WithContext(ctx).Create(reservation).Error
}

// CloseReservation transitions an active reservation to a terminal status.
// The status guard in the WHERE clause makes concurrent closers settle on a
// single winner.
func (r *repository) CloseReservation(ctx context.Context, id uuid.UUID, to enums.ReservationStatus, closedAt time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.CreditReservation{}).
		Where("id = ? AND status = ?", id, enums.ReservationStatusActive).
		Updates(map[string]any{
			"status":    to,
			"closed_at": closedAt,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repository) ListStaleActiveReservations(ctx context.Context, cutoff time.Time, limit int) ([]models.CreditReservation, error) {
	var rows []models.CreditReservation
	q := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", enums.ReservationStatusActive, cutoff).
		Order("created_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) ListEntries(ctx context.Context, query LedgerQuery) ([]models.CreditLedgerEntry, *pagination.Cursor, error) {
	limit := pagination.NormalizeLimit(query.Limit)
	q := r.db.WithContext(ctx).
		Model(&models.CreditLedgerEntry{}).
		Where("account_id = ?", query.AccountID)
	// The cursor names the first row of the requested page, so the
	// comparison is inclusive.
	if query.Cursor != nil {
		q = q.Where("(created_at, id) <= (?, ?)", query.Cursor.CreatedAt, query.Cursor.ID)
	}

	var rows []models.CreditLedgerEntry
	if err := q.Order("created_at DESC, id DESC").Limit(pagination.LimitWithBuffer(limit)).Find(&rows).Error; err != nil {
		return nil, nil, err
	}

	if len(rows) > limit {
		next := rows[limit]
		rows = rows[:limit]
		return rows, &pagination.Cursor{
			CreatedAt: next.CreatedAt,
			ID:        next.ID,
		}, nil
	}

	return rows, nil, nil
}
