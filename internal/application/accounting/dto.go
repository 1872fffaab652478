package accounting

import (
	"time"

	"github.com/google/uuid"
	"github.com/vritti/backend/internal/domain/accounting"
)

// ---------------------------------------------------------------------------
// Sync Status DTOs
// ---------------------------------------------------------------------------

// SyncRecordResponse represents a sync record in API responses
type SyncRecordResponse struct {
	InvoiceID      uuid.UUID                `json:"invoice_id"`
	State          accounting.SyncState     `json:"state"`
	AttemptCount   int                      `json:"attempt_count"`
	LastReason     accounting.FailureReason `json:"last_reason,omitempty"`
	LastError      string                   `json:"last_error,omitempty"`
	ExternalBillID string                   `json:"external_bill_id,omitempty"`
	NextAttemptAt  *time.Time               `json:"next_attempt_at,omitempty"`
	CreatedAt      time.Time                `json:"created_at"`
	CompletedAt    *time.Time               `json:"completed_at,omitempty"`
	UpdatedAt      time.Time                `json:"updated_at"`
}

// SyncTransitionResponse represents one transition log entry in API responses
type SyncTransitionResponse struct {
	FromState accounting.SyncState     `json:"from_state"`
	ToState   accounting.SyncState     `json:"to_state"`
	Reason    accounting.FailureReason `json:"reason,omitempty"`
	Error     string                   `json:"error,omitempty"`
	Attempt   int                      `json:"attempt"`
	CreatedAt time.Time                `json:"created_at"`
}

// SyncStatusResponse is the snapshot plus history view of one invoice sync
type SyncStatusResponse struct {
	SyncRecordResponse
	History []SyncTransitionResponse `json:"history"`
}

// ToSyncRecordResponse converts a sync record to its response DTO
func ToSyncRecordResponse(r *accounting.SyncRecord) SyncRecordResponse {
	return SyncRecordResponse{
		InvoiceID:      r.InvoiceID,
		State:          r.State,
		AttemptCount:   r.AttemptCount,
		LastReason:     r.LastReason,
		LastError:      r.LastError,
		ExternalBillID: r.ExternalBillID,
		NextAttemptAt:  r.NextAttemptAt,
		CreatedAt:      r.CreatedAt,
		CompletedAt:    r.CompletedAt,
		UpdatedAt:      r.UpdatedAt,
	}
}

// ToSyncStatusResponse converts a status view to its response DTO
func ToSyncStatusResponse(status *SyncStatus) SyncStatusResponse {
	resp := SyncStatusResponse{
		SyncRecordResponse: ToSyncRecordResponse(status.Record),
		History:            make([]SyncTransitionResponse, 0, len(status.History)),
	}
	for _, tr := range status.History {
		resp.History = append(resp.History, SyncTransitionResponse{
			FromState: tr.FromState,
			ToState:   tr.ToState,
			Reason:    tr.Reason,
			Error:     tr.Error,
			Attempt:   tr.Attempt,
			CreatedAt: tr.CreatedAt,
		})
	}
	return resp
}

// ---------------------------------------------------------------------------
// Connection DTOs
// ---------------------------------------------------------------------------

// ConnectionResponse represents a tenant connection in API responses.
// Token material is never part of this view.
type ConnectionResponse struct {
	Status            accounting.ConnectionStatus `json:"status"`
	ExternalCompanyID string                      `json:"external_company_id,omitempty"`
	TokenExpiry       time.Time                   `json:"token_expiry"`
	LastRefreshAt     *time.Time                  `json:"last_refresh_at,omitempty"`
	CreatedAt         time.Time                   `json:"created_at"`
}

// ToConnectionResponse converts a connection to its response DTO
func ToConnectionResponse(c *accounting.TenantConnection) ConnectionResponse {
	return ConnectionResponse{
		Status:            c.Status,
		ExternalCompanyID: c.ExternalCompanyID,
		TokenExpiry:       c.TokenExpiry,
		LastRefreshAt:     c.LastRefreshAt,
		CreatedAt:         c.CreatedAt,
	}
}

// AuthorizationResponse is returned when starting the OAuth flow
type AuthorizationResponse struct {
	AuthorizationURL string `json:"authorization_url"`
	State            string `json:"state"`
}
