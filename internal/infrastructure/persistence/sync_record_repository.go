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

// GormSyncRecordRepository implements SyncRecordRepository using GORM
type GormSyncRecordRepository struct {
	db *gorm.DB
}

// NewGormSyncRecordRepository creates a new GormSyncRecordRepository
func NewGormSyncRecordRepository(db *gorm.DB) *GormSyncRecordRepository {
	return &GormSyncRecordRepository{db: db}
}

var _ accounting.SyncRecordRepository = (*GormSyncRecordRepository)(nil)

// Create inserts a new record. A unique violation on invoice_id surfaces as
// an error; the caller re-reads the concurrent winner.
func (r *GormSyncRecordRepository) Create(ctx context.Context, record *accounting.SyncRecord) error {
	var model models.SyncRecordModel
	model.FromDomain(record)
	return r.db.WithContext(ctx).Create(&model).Error
}

// Update persists the record snapshot and appends the transition atomically.
// A nil transition updates the snapshot only.
func (r *GormSyncRecordRepository) Update(ctx context.Context, record *accounting.SyncRecord, transition *accounting.SyncTransition) error {
	var model models.SyncRecordModel
	model.FromDomain(record)

	if transition == nil {
		return r.db.WithContext(ctx).Save(&model).Error
	}

	var transitionModel models.SyncTransitionModel
	transitionModel.FromDomain(transition)

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(&model).Error; err != nil {
			return err
		}
		return tx.Create(&transitionModel).Error
	})
}

// FindByInvoice finds the record for an invoice
func (r *GormSyncRecordRepository) FindByInvoice(ctx context.Context, tenantID, invoiceID uuid.UUID) (*accounting.SyncRecord, error) {
	var model models.SyncRecordModel
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND invoice_id = ?", tenantID, invoiceID).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, accounting.ErrSyncRecordNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindSucceededBySignature finds a SUCCEEDED record matching a bill signature
func (r *GormSyncRecordRepository) FindSucceededBySignature(ctx context.Context, tenantID uuid.UUID, vendorKey, docNumber, total string) (*accounting.SyncRecord, error) {
	var model models.SyncRecordModel
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND state = ? AND vendor_key = ? AND doc_number = ? AND total_amount = ?",
			tenantID, accounting.SyncStateSucceeded, vendorKey, docNumber, total).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, accounting.ErrSyncRecordNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// ListSucceededByVendor returns SUCCEEDED records for a vendor key with a
// transaction date at or after since
func (r *GormSyncRecordRepository) ListSucceededByVendor(ctx context.Context, tenantID uuid.UUID, vendorKey string, since time.Time) ([]accounting.SyncRecord, error) {
	var recordModels []models.SyncRecordModel
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND state = ? AND vendor_key = ? AND txn_date >= ?",
			tenantID, accounting.SyncStateSucceeded, vendorKey, since).
		Order("txn_date ASC").
		Find(&recordModels).Error; err != nil {
		return nil, err
	}
	return toDomainRecords(recordModels), nil
}

// ListFailures pages over FAILED_RETRYABLE and FAILED_PERMANENT records,
// most recent first
func (r *GormSyncRecordRepository) ListFailures(ctx context.Context, tenantID uuid.UUID, filter accounting.FailureFilter) ([]accounting.SyncRecord, int64, error) {
	query := r.db.WithContext(ctx).
		Model(&models.SyncRecordModel{}).
		Where("tenant_id = ? AND state IN ?", tenantID,
			[]accounting.SyncState{accounting.SyncStateFailedRetryable, accounting.SyncStateFailedPermanent})

	if filter.Reason != nil {
		query = query.Where("last_reason = ?", *filter.Reason)
	}
	if filter.Since != nil {
		query = query.Where("updated_at >= ?", *filter.Since)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var recordModels []models.SyncRecordModel
	offset := (filter.Page - 1) * filter.PageSize
	if err := query.
		Order("updated_at DESC").
		Offset(offset).
		Limit(filter.PageSize).
		Find(&recordModels).Error; err != nil {
		return nil, 0, err
	}
	return toDomainRecords(recordModels), total, nil
}

// ListDueRetries returns FAILED_RETRYABLE records whose NextAttemptAt has passed
func (r *GormSyncRecordRepository) ListDueRetries(ctx context.Context, now time.Time, limit int) ([]accounting.SyncRecord, error) {
	var recordModels []models.SyncRecordModel
	if err := r.db.WithContext(ctx).
		Where("state = ? AND next_attempt_at IS NOT NULL AND next_attempt_at <= ?",
			accounting.SyncStateFailedRetryable, now).
		Order("next_attempt_at ASC").
		Limit(limit).
		Find(&recordModels).Error; err != nil {
		return nil, err
	}
	return toDomainRecords(recordModels), nil
}

// ListStaleInProgress returns IN_PROGRESS records whose attempt started
// before cutoff, for crash recovery
func (r *GormSyncRecordRepository) ListStaleInProgress(ctx context.Context, cutoff time.Time, limit int) ([]accounting.SyncRecord, error) {
	var recordModels []models.SyncRecordModel
	if err := r.db.WithContext(ctx).
		Where("state = ? AND last_attempt_at IS NOT NULL AND last_attempt_at < ?",
			accounting.SyncStateInProgress, cutoff).
		Order("last_attempt_at ASC").
		Limit(limit).
		Find(&recordModels).Error; err != nil {
		return nil, err
	}
	return toDomainRecords(recordModels), nil
}

// History returns the transition log for an invoice, oldest first
func (r *GormSyncRecordRepository) History(ctx context.Context, tenantID, invoiceID uuid.UUID) ([]accounting.SyncTransition, error) {
	var transitionModels []models.SyncTransitionModel
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND invoice_id = ?", tenantID, invoiceID).
		Order("created_at ASC").
		Find(&transitionModels).Error; err != nil {
		return nil, err
	}

	transitions := make([]accounting.SyncTransition, len(transitionModels))
	for i, model := range transitionModels {
		transitions[i] = *model.ToDomain()
	}
	return transitions, nil
}

func toDomainRecords(recordModels []models.SyncRecordModel) []accounting.SyncRecord {
	records := make([]accounting.SyncRecord, len(recordModels))
	for i, model := range recordModels {
		records[i] = *model.ToDomain()
	}
	return records
}
