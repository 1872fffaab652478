package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/vritti/backend/internal/domain/accounting"
	"github.com/vritti/backend/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
)

// GormConnectionRepository implements ConnectionRepository using GORM
type GormConnectionRepository struct {
	db *gorm.DB
}

// NewGormConnectionRepository creates a new GormConnectionRepository
func NewGormConnectionRepository(db *gorm.DB) *GormConnectionRepository {
	return &GormConnectionRepository{db: db}
}

var _ accounting.ConnectionRepository = (*GormConnectionRepository)(nil)

// Save creates or updates a connection
func (r *GormConnectionRepository) Save(ctx context.Context, conn *accounting.TenantConnection) error {
	var model models.TenantConnectionModel
	model.FromDomain(conn)
	return r.db.WithContext(ctx).Save(&model).Error
}

// FindByTenant finds the connection for a tenant
func (r *GormConnectionRepository) FindByTenant(ctx context.Context, tenantID uuid.UUID) (*accounting.TenantConnection, error) {
	var model models.TenantConnectionModel
	if err := r.db.WithContext(ctx).First(&model, "tenant_id = ?", tenantID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, accounting.ErrConnectionNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// UpdateStatus updates only the status of a tenant's connection
func (r *GormConnectionRepository) UpdateStatus(ctx context.Context, tenantID uuid.UUID, status accounting.ConnectionStatus) error {
	result := r.db.WithContext(ctx).
		Model(&models.TenantConnectionModel{}).
		Where("tenant_id = ?", tenantID).
		Updates(map[string]any{
			"status":     status,
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return accounting.ErrConnectionNotFound
	}
	return nil
}
