package persistence

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/vritti/backend/internal/domain/accounting"
	"github.com/vritti/backend/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
)

// GormVendorMappingRepository implements VendorMappingRepository using GORM
type GormVendorMappingRepository struct {
	db *gorm.DB
}

// NewGormVendorMappingRepository creates a new GormVendorMappingRepository
func NewGormVendorMappingRepository(db *gorm.DB) *GormVendorMappingRepository {
	return &GormVendorMappingRepository{db: db}
}

var _ accounting.VendorMappingRepository = (*GormVendorMappingRepository)(nil)

// Save creates or updates a mapping
func (r *GormVendorMappingRepository) Save(ctx context.Context, mapping *accounting.VendorMapping) error {
	var model models.VendorMappingModel
	model.FromDomain(mapping)
	return r.db.WithContext(ctx).Save(&model).Error
}

// FindByKey finds the current mapping for a normalized vendor key. Superseded
// mappings never match.
func (r *GormVendorMappingRepository) FindByKey(ctx context.Context, tenantID uuid.UUID, normalizedKey string) (*accounting.VendorMapping, error) {
	var model models.VendorMappingModel
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND normalized_key = ? AND superseded_by IS NULL", tenantID, normalizedKey).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, accounting.ErrVendorMappingNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindCurrentForTenant returns all current (not superseded) mappings for a tenant
func (r *GormVendorMappingRepository) FindCurrentForTenant(ctx context.Context, tenantID uuid.UUID) ([]accounting.VendorMapping, error) {
	var mappingModels []models.VendorMappingModel
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND superseded_by IS NULL", tenantID).
		Order("normalized_key ASC").
		Find(&mappingModels).Error; err != nil {
		return nil, err
	}

	mappings := make([]accounting.VendorMapping, len(mappingModels))
	for i, model := range mappingModels {
		mappings[i] = *model.ToDomain()
	}
	return mappings, nil
}
