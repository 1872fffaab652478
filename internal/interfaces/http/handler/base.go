package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/vritti/backend/internal/domain/accounting"
	"github.com/vritti/backend/internal/interfaces/http/dto"
	"github.com/vritti/backend/internal/interfaces/http/middleware"
)

// BaseHandler provides common handler utilities
type BaseHandler struct{}

// getRequestID extracts the request ID from the context
func getRequestID(c *gin.Context) string {
	if id := c.GetString("request_id"); id != "" {
		return id
	}
	return c.GetHeader("X-Request-ID")
}

// getTenantID extracts the tenant ID from the JWT claims in context
func getTenantID(c *gin.Context) (uuid.UUID, error) {
	tenantIDStr := middleware.GetJWTTenantID(c)
	if tenantIDStr == "" {
		return uuid.Nil, errors.New("tenant ID not found in context")
	}
	return uuid.Parse(tenantIDStr)
}

// Success sends a success response
func (h *BaseHandler) Success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, dto.NewSuccessResponse(data))
}

// SuccessWithMeta sends a success response with pagination meta
func (h *BaseHandler) SuccessWithMeta(c *gin.Context, data any, total int64, page, pageSize int) {
	c.JSON(http.StatusOK, dto.NewSuccessResponseWithMeta(data, total, page, pageSize))
}

// Accepted sends a 202 accepted response
func (h *BaseHandler) Accepted(c *gin.Context, data any) {
	c.JSON(http.StatusAccepted, dto.NewSuccessResponse(data))
}

// NoContent sends a 204 no content response
func (h *BaseHandler) NoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

// Error sends an error response with the given status code
func (h *BaseHandler) Error(c *gin.Context, statusCode int, code, message string) {
	c.JSON(statusCode, dto.NewErrorResponseWithRequestID(code, message, getRequestID(c)))
}

// BadRequest sends a 400 bad request response
func (h *BaseHandler) BadRequest(c *gin.Context, message string) {
	h.Error(c, http.StatusBadRequest, dto.ErrCodeBadRequest, message)
}

// NotFound sends a 404 not found response
func (h *BaseHandler) NotFound(c *gin.Context, message string) {
	h.Error(c, http.StatusNotFound, dto.ErrCodeNotFound, message)
}

// Unauthorized sends a 401 unauthorized response
func (h *BaseHandler) Unauthorized(c *gin.Context, message string) {
	h.Error(c, http.StatusUnauthorized, dto.ErrCodeUnauthorized, message)
}

// InternalError sends a 500 internal server error response
func (h *BaseHandler) InternalError(c *gin.Context, message string) {
	h.Error(c, http.StatusInternalServerError, dto.ErrCodeInternal, message)
}

// domainErrorMapping pairs an accounting sentinel with its API error code
var domainErrorMapping = []struct {
	err  error
	code string
	msg  string
}{
	{accounting.ErrInvoiceNotFound, dto.ErrCodeNotFound, "Invoice not found"},
	{accounting.ErrSyncRecordNotFound, dto.ErrCodeNotFound, "No sync record for this invoice"},
	{accounting.ErrConnectionNotFound, dto.ErrCodeConnectionRequired, "No accounting connection for this tenant"},
	{accounting.ErrAuthExpired, dto.ErrCodeAuthorizationExpired, "Accounting authorization expired, re-authorize the connection"},
	{accounting.ErrConnectionRevoked, dto.ErrCodeConnectionRequired, "Accounting connection was revoked"},
	{accounting.ErrConnectionSuspended, dto.ErrCodeConnectionRequired, "Accounting connection is suspended"},
	{accounting.ErrConnectionNotActive, dto.ErrCodeConnectionRequired, "Accounting connection is not active"},
	{accounting.ErrInvalidState, dto.ErrCodeBadRequest, "Authorization state is invalid or expired"},
	{accounting.ErrTenantPaused, dto.ErrCodeSyncPaused, "Sync is paused for this tenant after repeated failures"},
	{accounting.ErrSyncAlreadyRunning, dto.ErrCodeConflict, "A sync attempt is already in progress for this invoice"},
	{accounting.ErrInvalidTenantID, dto.ErrCodeBadRequest, "Invalid tenant ID"},
	{accounting.ErrInvalidInvoiceID, dto.ErrCodeBadRequest, "Invalid invoice ID"},
}

// HandleError converts domain errors to HTTP responses
func (h *BaseHandler) HandleError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	for _, m := range domainErrorMapping {
		if errors.Is(err, m.err) {
			h.Error(c, dto.GetHTTPStatus(m.code), m.code, m.msg)
			return
		}
	}
	h.InternalError(c, "An unexpected error occurred")
}
