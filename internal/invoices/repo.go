package invoices

import (
	"context"
	"time"

	"github.com/atlasops/atlasops-backend/pkg/db/models"
	"github.com/atlasops/atlasops-backend/pkg/enums"
	"github.com/atlasops/atlasops-backend/pkg/pagination"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Repository handles invoice, line, and payment persistence.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindByTenantPeriod(ctx context.Context, tenantID uuid.UUID, periodStart, periodEnd string) (*models.Invoice, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.Invoice, error)
	Create(ctx context.Context, invoice *models.Invoice) error
	CreateLine(ctx context.Context, line *models.InvoiceLine) error
	FindLineByUsageEvent(ctx context.Context, invoiceID, usageEventID uuid.UUID) (*models.InvoiceLine, error)
	SumLineAmounts(ctx context.Context, invoiceID uuid.UUID) (int64, error)
	UpdateTotals(ctx context.Context, invoiceID uuid.UUID, subtotal, tax, total int64) error
	MarkPaid(ctx context.Context, invoiceID uuid.UUID, paidAt time.Time) (bool, error)
	CreatePayment(ctx context.Context, payment *models.Payment) error
	List(ctx context.Context, query ListQuery) ([]models.Invoice, *pagination.Cursor, error)
}

// ListQuery configures invoice list queries.
type ListQuery struct {
	TenantID uuid.UUID
	Status   *enums.InvoiceStatus
	Limit    int
	Cursor   *pagination.Cursor
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns an invoice repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindByTenantPeriod(ctx context.Context, tenantID uuid.UUID, periodStart, periodEnd string) (*models.Invoice, error) {
	var invoice models.Invoice
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND period_start = ? AND period_end = ?", tenantID, periodStart, periodEnd).
		First(&invoice).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &invoice, nil
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Invoice, error) {
	var invoice models.Invoice
	if err := r.db.WithContext(ctx).
		Preload("Lines").
		Preload("Payments").
		Where("id = ?", id).
		First(&invoice).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &invoice, nil
}

func (r *repository) Create(ctx context.Context, invoice *models.Invoice) error {
	return r.db.WithContext(ctx).Create(invoice).Error
}

func (r *repository) CreateLine(ctx context.Context, line *models.InvoiceLine) error {
	return r.db.WithContext(ctx).Create(line).Error
}

func (r *repository) FindLineByUsageEvent(ctx context.Context, invoiceID, usageEventID uuid.UUID) (*models.InvoiceLine, error) {
	var line models.InvoiceLine
	if err := r.db.WithContext(ctx).
		Where("invoice_id = ? AND usage_event_id = ?", invoiceID, usageEventID).
		First(&line).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &line, nil
}

func (r *repository) SumLineAmounts(ctx context.Context, invoiceID uuid.UUID) (int64, error) {
	var subtotal int64
	if err := r.db.WithContext(ctx).
		Model(&models.InvoiceLine{}).
		Where("invoice_id = ?", invoiceID).
		Select("COALESCE(SUM(amount_minor_units), 0)").
		Scan(&subtotal).Error; err != nil {
		return 0, err
	}
	return subtotal, nil
}

func (r *repository) UpdateTotals(ctx context.Context, invoiceID uuid.UUID, subtotal, tax, total int64) error {
	return r.db.WithContext(ctx).
		Model(&models.Invoice{}).
		Where("id = ?", invoiceID).
		Updates(map[string]any{
			"subtotal_minor_units": subtotal,
			"tax_minor_units":      tax,
			"total_minor_units":    total,
		}).Error
}

// MarkPaid flips an open invoice to paid. The status guard in the WHERE
// clause makes concurrent calls settle on a single winner.
func (r *repository) MarkPaid(ctx context.Context, invoiceID uuid.UUID, paidAt time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Invoice{}).
		Where("id = ? AND status = ?", invoiceID, enums.InvoiceStatusOpen).
		Updates(map[string]any{
			"status":    enums.InvoiceStatusPaid,
			"paid_at":   paidAt,
			"issued_at": gorm.Expr("COALESCE(issued_at, ?)", paidAt),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repository) CreatePayment(ctx context.Context, payment *models.Payment) error {
	return r.db.WithContext(ctx).Create(payment).Error
}

func (r *repository) List(ctx context.Context, query ListQuery) ([]models.Invoice, *pagination.Cursor, error) {
	limit := pagination.NormalizeLimit(query.Limit)
	q := r.db.WithContext(ctx).Model(&models.Invoice{}).Where("tenant_id = ?", query.TenantID)
	if query.Status != nil {
		q = q.Where("status = ?", *query.Status)
	}
	// The cursor names the first row of the requested page, so the
	// comparison is inclusive.
	if query.Cursor != nil {
		q = q.Where("(created_at, id) <= (?, ?)", query.Cursor.CreatedAt, query.Cursor.ID)
	}

	var rows []models.Invoice
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
