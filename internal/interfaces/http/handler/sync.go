package handler

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	appaccounting "github.com/vritti/backend/internal/application/accounting"
	"github.com/vritti/backend/internal/domain/accounting"
	"github.com/vritti/backend/internal/interfaces/http/dto"
)

// SyncEnqueuer is the slice of the sync orchestrator the handler needs
type SyncEnqueuer interface {
	EnqueueSync(ctx context.Context, tenantID, invoiceID uuid.UUID) (*accounting.SyncRecord, error)
}

// StatusReader serves sync state reads
type StatusReader interface {
	GetStatus(ctx context.Context, tenantID, invoiceID uuid.UUID) (*appaccounting.SyncStatus, error)
	ListFailures(ctx context.Context, tenantID uuid.UUID, filter accounting.FailureFilter) ([]accounting.SyncRecord, int64, error)
}

// SyncHandler handles invoice sync API endpoints
type SyncHandler struct {
	BaseHandler
	syncService   SyncEnqueuer
	statusService StatusReader
}

// NewSyncHandler creates a new SyncHandler
func NewSyncHandler(syncService SyncEnqueuer, statusService StatusReader) *SyncHandler {
	return &SyncHandler{
		syncService:   syncService,
		statusService: statusService,
	}
}

// EnqueueSync handles POST /invoices/:id/sync. Enqueueing is idempotent: an
// invoice that already has a sync record returns that record unchanged.
func (h *SyncHandler) EnqueueSync(c *gin.Context) {
	tenantID, err := getTenantID(c)
	if err != nil {
		h.Unauthorized(c, "Tenant not resolved from token")
		return
	}

	var req dto.IDRequest
	if err := c.ShouldBindUri(&req); err != nil {
		h.BadRequest(c, "Invalid invoice ID")
		return
	}
	invoiceID := uuid.MustParse(req.ID)

	record, err := h.syncService.EnqueueSync(c.Request.Context(), tenantID, invoiceID)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Accepted(c, appaccounting.ToSyncRecordResponse(record))
}

// GetStatus handles GET /invoices/:id/sync
func (h *SyncHandler) GetStatus(c *gin.Context) {
	tenantID, err := getTenantID(c)
	if err != nil {
		h.Unauthorized(c, "Tenant not resolved from token")
		return
	}

	var req dto.IDRequest
	if err := c.ShouldBindUri(&req); err != nil {
		h.BadRequest(c, "Invalid invoice ID")
		return
	}
	invoiceID := uuid.MustParse(req.ID)

	status, err := h.statusService.GetStatus(c.Request.Context(), tenantID, invoiceID)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, appaccounting.ToSyncStatusResponse(status))
}

// ListFailures handles GET /sync/failures, the manual review queue
func (h *SyncHandler) ListFailures(c *gin.Context) {
	tenantID, err := getTenantID(c)
	if err != nil {
		h.Unauthorized(c, "Tenant not resolved from token")
		return
	}

	var req dto.FailureListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.BadRequest(c, "Invalid query parameters")
		return
	}

	filter := accounting.FailureFilter{
		Page:     req.Page,
		PageSize: req.PageSize,
	}
	if req.Reason != "" {
		reason := accounting.FailureReason(req.Reason)
		filter.Reason = &reason
	}
	if req.Since != "" {
		since, err := time.Parse(time.RFC3339, req.Since)
		if err != nil {
			h.BadRequest(c, "since must be RFC 3339")
			return
		}
		filter.Since = &since
	}
	if filter.Page <= 0 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 {
		filter.PageSize = 20
	}

	records, total, err := h.statusService.ListFailures(c.Request.Context(), tenantID, filter)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	items := make([]appaccounting.SyncRecordResponse, 0, len(records))
	for i := range records {
		items = append(items, appaccounting.ToSyncRecordResponse(&records[i]))
	}
	h.SuccessWithMeta(c, items, total, filter.Page, filter.PageSize)
}
