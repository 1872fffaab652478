package persistence

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/vritti/backend/internal/domain/accounting"
	"github.com/vritti/backend/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
)

// GormInvoiceRepository implements InvoiceRepository using GORM. The sync
// core treats invoices as a read-only input produced by the extraction
// pipeline, so this repository only reads.
type GormInvoiceRepository struct {
	db *gorm.DB
}

// NewGormInvoiceRepository creates a new GormInvoiceRepository
func NewGormInvoiceRepository(db *gorm.DB) *GormInvoiceRepository {
	return &GormInvoiceRepository{db: db}
}

var _ accounting.InvoiceRepository = (*GormInvoiceRepository)(nil)

// FindByID finds an invoice by ID, scoped to a tenant
func (r *GormInvoiceRepository) FindByID(ctx context.Context, tenantID, invoiceID uuid.UUID) (*accounting.Invoice, error) {
	var model models.InvoiceModel
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND id = ?", tenantID, invoiceID).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, accounting.ErrInvoiceNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}
