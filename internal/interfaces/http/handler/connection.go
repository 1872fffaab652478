package handler

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	appaccounting "github.com/vritti/backend/internal/application/accounting"
	"github.com/vritti/backend/internal/domain/accounting"
)

// CredentialManager is the slice of the credential service the handler needs
type CredentialManager interface {
	InitiateAuthorization(ctx context.Context, tenantID uuid.UUID) (authURL string, state string, err error)
	ExchangeCode(ctx context.Context, tenantID uuid.UUID, code, state, externalCompanyID string) (*accounting.TenantConnection, error)
	GetConnection(ctx context.Context, tenantID uuid.UUID) (*accounting.TenantConnection, error)
	Revoke(ctx context.Context, tenantID uuid.UUID) error
}

// ConnectionHandler handles the tenant's accounting connection endpoints
type ConnectionHandler struct {
	BaseHandler
	credentials CredentialManager
}

// NewConnectionHandler creates a new ConnectionHandler
func NewConnectionHandler(credentials CredentialManager) *ConnectionHandler {
	return &ConnectionHandler{credentials: credentials}
}

// Authorize handles POST /connection/authorize. It returns the provider
// authorization URL the tenant must visit to grant access.
func (h *ConnectionHandler) Authorize(c *gin.Context) {
	tenantID, err := getTenantID(c)
	if err != nil {
		h.Unauthorized(c, "Tenant not resolved from token")
		return
	}

	authURL, state, err := h.credentials.InitiateAuthorization(c.Request.Context(), tenantID)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, appaccounting.AuthorizationResponse{
		AuthorizationURL: authURL,
		State:            state,
	})
}

// Callback handles GET /connection/callback, the provider's authorization
// redirect. The provider reports the granted company (realm) ID alongside
// the code and state.
func (h *ConnectionHandler) Callback(c *gin.Context) {
	tenantID, err := getTenantID(c)
	if err != nil {
		h.Unauthorized(c, "Tenant not resolved from token")
		return
	}

	code := c.Query("code")
	state := c.Query("state")
	realmID := c.Query("realmId")
	if code == "" || state == "" {
		h.BadRequest(c, "code and state are required")
		return
	}

	conn, err := h.credentials.ExchangeCode(c.Request.Context(), tenantID, code, state, realmID)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, appaccounting.ToConnectionResponse(conn))
}

// GetConnection handles GET /connection
func (h *ConnectionHandler) GetConnection(c *gin.Context) {
	tenantID, err := getTenantID(c)
	if err != nil {
		h.Unauthorized(c, "Tenant not resolved from token")
		return
	}

	conn, err := h.credentials.GetConnection(c.Request.Context(), tenantID)
	if err != nil {
		if err == accounting.ErrConnectionNotFound {
			h.NotFound(c, "No accounting connection for this tenant")
			return
		}
		h.HandleError(c, err)
		return
	}

	h.Success(c, appaccounting.ToConnectionResponse(conn))
}

// Revoke handles DELETE /connection. It revokes the refresh token with the
// provider and clears stored token material.
func (h *ConnectionHandler) Revoke(c *gin.Context) {
	tenantID, err := getTenantID(c)
	if err != nil {
		h.Unauthorized(c, "Tenant not resolved from token")
		return
	}

	if err := h.credentials.Revoke(c.Request.Context(), tenantID); err != nil {
		h.HandleError(c, err)
		return
	}

	h.NoContent(c)
}
