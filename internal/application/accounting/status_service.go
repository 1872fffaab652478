package accounting

import (
	"context"

	"github.com/google/uuid"
	"github.com/vritti/backend/internal/domain/accounting"
)

// ---------------------------------------------------------------------------
// StatusService
// ---------------------------------------------------------------------------

// SyncStatus is a sync record snapshot together with its transition history
type SyncStatus struct {
	// Record is the current snapshot
	Record *accounting.SyncRecord
	// History is the transition log, oldest first
	History []accounting.SyncTransition
}

// StatusServiceImpl serves sync state reads: per-invoice status with history
// and paged failure listings for the review queue.
type StatusServiceImpl struct {
	syncRepo accounting.SyncRecordRepository
}

// NewStatusService creates a new StatusServiceImpl
func NewStatusService(syncRepo accounting.SyncRecordRepository) *StatusServiceImpl {
	return &StatusServiceImpl{syncRepo: syncRepo}
}

// GetStatus returns the snapshot and transition history for an invoice
func (s *StatusServiceImpl) GetStatus(ctx context.Context, tenantID, invoiceID uuid.UUID) (*SyncStatus, error) {
	record, err := s.syncRepo.FindByInvoice(ctx, tenantID, invoiceID)
	if err != nil {
		return nil, err
	}
	history, err := s.syncRepo.History(ctx, tenantID, invoiceID)
	if err != nil {
		return nil, err
	}
	return &SyncStatus{Record: record, History: history}, nil
}

// ListFailures pages over failed sync records for a tenant
func (s *StatusServiceImpl) ListFailures(ctx context.Context, tenantID uuid.UUID, filter accounting.FailureFilter) ([]accounting.SyncRecord, int64, error) {
	if filter.Page <= 0 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 {
		filter.PageSize = 20
	}
	if filter.PageSize > 100 {
		filter.PageSize = 100
	}
	return s.syncRepo.ListFailures(ctx, tenantID, filter)
}
