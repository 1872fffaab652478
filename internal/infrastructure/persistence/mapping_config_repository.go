package persistence

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/vritti/backend/internal/domain/accounting"
	"github.com/vritti/backend/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
)

// GormMappingConfigRepository implements MappingConfigRepository using GORM
type GormMappingConfigRepository struct {
	db *gorm.DB
}

// NewGormMappingConfigRepository creates a new GormMappingConfigRepository
func NewGormMappingConfigRepository(db *gorm.DB) *GormMappingConfigRepository {
	return &GormMappingConfigRepository{db: db}
}

var _ accounting.MappingConfigRepository = (*GormMappingConfigRepository)(nil)

// FindByTenant returns the tenant's mapping configuration. Tenants without a
// stored row get the defaults, which have no default category configured.
func (r *GormMappingConfigRepository) FindByTenant(ctx context.Context, tenantID uuid.UUID) (accounting.TenantMappingConfig, error) {
	var model models.TenantMappingConfigModel
	if err := r.db.WithContext(ctx).First(&model, "tenant_id = ?", tenantID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return accounting.DefaultTenantMappingConfig(tenantID), nil
		}
		return accounting.TenantMappingConfig{}, err
	}
	return model.ToDomain(), nil
}

// Save creates or updates a tenant's mapping configuration
func (r *GormMappingConfigRepository) Save(ctx context.Context, cfg accounting.TenantMappingConfig) error {
	var model models.TenantMappingConfigModel
	model.FromDomain(cfg)
	return r.db.WithContext(ctx).Save(&model).Error
}
