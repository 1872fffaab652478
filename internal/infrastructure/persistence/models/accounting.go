package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/vritti/backend/internal/domain/accounting"
)

// ---------------------------------------------------------------------------
// TenantConnectionModel
// ---------------------------------------------------------------------------

// TenantConnectionModel is the persistence model for the TenantConnection
// domain entity. Token columns hold ciphertext only.
type TenantConnectionModel struct {
	ID                         uuid.UUID                   `gorm:"type:uuid;primary_key"`
	TenantID                   uuid.UUID                   `gorm:"type:uuid;not null;uniqueIndex:idx_tenant_connections_tenant"`
	ExternalCompanyID          string                      `gorm:"type:varchar(100);not null"`
	AccessTokenCiphertext      []byte                      `gorm:"type:bytea"`
	RefreshTokenCiphertext     []byte                      `gorm:"type:bytea"`
	TokenExpiry                time.Time                   `gorm:"not null"`
	Status                     accounting.ConnectionStatus `gorm:"type:varchar(20);not null;default:'ACTIVE'"`
	ConsecutiveRefreshFailures int                         `gorm:"not null;default:0"`
	LastRefreshAt              *time.Time
	CreatedAt                  time.Time `gorm:"not null"`
	UpdatedAt                  time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (TenantConnectionModel) TableName() string {
	return "tenant_connections"
}

// ToDomain converts the persistence model to a domain TenantConnection entity.
func (m *TenantConnectionModel) ToDomain() *accounting.TenantConnection {
	return &accounting.TenantConnection{
		ID:                         m.ID,
		TenantID:                   m.TenantID,
		ExternalCompanyID:          m.ExternalCompanyID,
		AccessTokenCiphertext:      m.AccessTokenCiphertext,
		RefreshTokenCiphertext:     m.RefreshTokenCiphertext,
		TokenExpiry:                m.TokenExpiry,
		Status:                     m.Status,
		ConsecutiveRefreshFailures: m.ConsecutiveRefreshFailures,
		LastRefreshAt:              m.LastRefreshAt,
		CreatedAt:                  m.CreatedAt,
		UpdatedAt:                  m.UpdatedAt,
	}
}

// FromDomain populates the persistence model from a domain TenantConnection entity.
func (m *TenantConnectionModel) FromDomain(c *accounting.TenantConnection) {
	m.ID = c.ID
	m.TenantID = c.TenantID
	m.ExternalCompanyID = c.ExternalCompanyID
	m.AccessTokenCiphertext = c.AccessTokenCiphertext
	m.RefreshTokenCiphertext = c.RefreshTokenCiphertext
	m.TokenExpiry = c.TokenExpiry
	m.Status = c.Status
	m.ConsecutiveRefreshFailures = c.ConsecutiveRefreshFailures
	m.LastRefreshAt = c.LastRefreshAt
	m.CreatedAt = c.CreatedAt
	m.UpdatedAt = c.UpdatedAt
}

// ---------------------------------------------------------------------------
// VendorMappingModel
// ---------------------------------------------------------------------------

// VendorMappingModel is the persistence model for the VendorMapping domain
// entity. The partial unique index on (tenant_id, normalized_key) covers
// current mappings only; superseded rows keep the historical key.
type VendorMappingModel struct {
	ID               uuid.UUID  `gorm:"type:uuid;primary_key"`
	TenantID         uuid.UUID  `gorm:"type:uuid;not null;index:idx_vendor_mappings_tenant_key,priority:1"`
	NormalizedKey    string     `gorm:"type:varchar(255);not null;index:idx_vendor_mappings_tenant_key,priority:2"`
	DisplayName      string     `gorm:"type:varchar(255);not null"`
	ExternalVendorID string     `gorm:"type:varchar(100);not null"`
	SupersededBy     *uuid.UUID `gorm:"type:uuid"`
	CreatedAt        time.Time  `gorm:"not null"`
	UpdatedAt        time.Time  `gorm:"not null"`
}

// TableName returns the table name for GORM
func (VendorMappingModel) TableName() string {
	return "vendor_mappings"
}

// ToDomain converts the persistence model to a domain VendorMapping entity.
func (m *VendorMappingModel) ToDomain() *accounting.VendorMapping {
	return &accounting.VendorMapping{
		ID:               m.ID,
		TenantID:         m.TenantID,
		NormalizedKey:    m.NormalizedKey,
		DisplayName:      m.DisplayName,
		ExternalVendorID: m.ExternalVendorID,
		SupersededBy:     m.SupersededBy,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}
}

// FromDomain populates the persistence model from a domain VendorMapping entity.
func (m *VendorMappingModel) FromDomain(v *accounting.VendorMapping) {
	m.ID = v.ID
	m.TenantID = v.TenantID
	m.NormalizedKey = v.NormalizedKey
	m.DisplayName = v.DisplayName
	m.ExternalVendorID = v.ExternalVendorID
	m.SupersededBy = v.SupersededBy
	m.CreatedAt = v.CreatedAt
	m.UpdatedAt = v.UpdatedAt
}

// ---------------------------------------------------------------------------
// SyncRecordModel
// ---------------------------------------------------------------------------

// SyncRecordModel is the persistence model for the SyncRecord domain entity.
// The unique index on invoice_id enforces one record per invoice; concurrent
// creators lose on the constraint and re-read the winner.
type SyncRecordModel struct {
	ID             uuid.UUID                `gorm:"type:uuid;primary_key"`
	InvoiceID      uuid.UUID                `gorm:"type:uuid;not null;uniqueIndex:idx_sync_records_invoice"`
	TenantID       uuid.UUID                `gorm:"type:uuid;not null;index:idx_sync_records_tenant_state,priority:1"`
	State          accounting.SyncState     `gorm:"type:varchar(20);not null;index:idx_sync_records_tenant_state,priority:2"`
	AttemptCount   int                      `gorm:"not null;default:0"`
	LastError      string                   `gorm:"type:text"`
	LastReason     accounting.FailureReason `gorm:"type:varchar(30)"`
	IdempotencyKey string                   `gorm:"type:varchar(100);not null"`
	ExternalBillID string                   `gorm:"type:varchar(100)"`
	VendorKey      string                   `gorm:"type:varchar(255);index:idx_sync_records_vendor,priority:2"`
	DocNumber      string                   `gorm:"type:varchar(100)"`
	TotalAmount    string                   `gorm:"type:varchar(30)"`
	TxnDate        *time.Time
	NextAttemptAt  *time.Time `gorm:"index"`
	CreatedAt      time.Time  `gorm:"not null"`
	LastAttemptAt  *time.Time
	CompletedAt    *time.Time
	UpdatedAt      time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (SyncRecordModel) TableName() string {
	return "sync_records"
}

// ToDomain converts the persistence model to a domain SyncRecord entity.
func (m *SyncRecordModel) ToDomain() *accounting.SyncRecord {
	return &accounting.SyncRecord{
		ID:             m.ID,
		InvoiceID:      m.InvoiceID,
		TenantID:       m.TenantID,
		State:          m.State,
		AttemptCount:   m.AttemptCount,
		LastError:      m.LastError,
		LastReason:     m.LastReason,
		IdempotencyKey: m.IdempotencyKey,
		ExternalBillID: m.ExternalBillID,
		VendorKey:      m.VendorKey,
		DocNumber:      m.DocNumber,
		TotalAmount:    m.TotalAmount,
		TxnDate:        m.TxnDate,
		NextAttemptAt:  m.NextAttemptAt,
		CreatedAt:      m.CreatedAt,
		LastAttemptAt:  m.LastAttemptAt,
		CompletedAt:    m.CompletedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

// FromDomain populates the persistence model from a domain SyncRecord entity.
func (m *SyncRecordModel) FromDomain(r *accounting.SyncRecord) {
	m.ID = r.ID
	m.InvoiceID = r.InvoiceID
	m.TenantID = r.TenantID
	m.State = r.State
	m.AttemptCount = r.AttemptCount
	m.LastError = r.LastError
	m.LastReason = r.LastReason
	m.IdempotencyKey = r.IdempotencyKey
	m.ExternalBillID = r.ExternalBillID
	m.VendorKey = r.VendorKey
	m.DocNumber = r.DocNumber
	m.TotalAmount = r.TotalAmount
	m.TxnDate = r.TxnDate
	m.NextAttemptAt = r.NextAttemptAt
	m.CreatedAt = r.CreatedAt
	m.LastAttemptAt = r.LastAttemptAt
	m.CompletedAt = r.CompletedAt
	m.UpdatedAt = r.UpdatedAt
}

// ---------------------------------------------------------------------------
// SyncTransitionModel
// ---------------------------------------------------------------------------

// SyncTransitionModel is the persistence model for the append-only sync
// transition log. Rows are never updated or deleted.
type SyncTransitionModel struct {
	ID        uuid.UUID                `gorm:"type:uuid;primary_key"`
	InvoiceID uuid.UUID                `gorm:"type:uuid;not null;index:idx_sync_transitions_invoice,priority:1"`
	TenantID  uuid.UUID                `gorm:"type:uuid;not null"`
	FromState accounting.SyncState     `gorm:"type:varchar(20);not null"`
	ToState   accounting.SyncState     `gorm:"type:varchar(20);not null"`
	Reason    accounting.FailureReason `gorm:"type:varchar(30)"`
	Error     string                   `gorm:"type:text"`
	Attempt   int                      `gorm:"not null;default:0"`
	CreatedAt time.Time                `gorm:"not null;index:idx_sync_transitions_invoice,priority:2"`
}

// TableName returns the table name for GORM
func (SyncTransitionModel) TableName() string {
	return "sync_transitions"
}

// ToDomain converts the persistence model to a domain SyncTransition entry.
func (m *SyncTransitionModel) ToDomain() *accounting.SyncTransition {
	return &accounting.SyncTransition{
		ID:        m.ID,
		InvoiceID: m.InvoiceID,
		TenantID:  m.TenantID,
		FromState: m.FromState,
		ToState:   m.ToState,
		Reason:    m.Reason,
		Error:     m.Error,
		Attempt:   m.Attempt,
		CreatedAt: m.CreatedAt,
	}
}

// FromDomain populates the persistence model from a domain SyncTransition entry.
func (m *SyncTransitionModel) FromDomain(t *accounting.SyncTransition) {
	m.ID = t.ID
	m.InvoiceID = t.InvoiceID
	m.TenantID = t.TenantID
	m.FromState = t.FromState
	m.ToState = t.ToState
	m.Reason = t.Reason
	m.Error = t.Error
	m.Attempt = t.Attempt
	m.CreatedAt = t.CreatedAt
}

// ---------------------------------------------------------------------------
// InvoiceModel
// ---------------------------------------------------------------------------

// InvoiceModel is the persistence model for extracted invoices. The sync core
// reads these; the extraction pipeline writes them.
type InvoiceModel struct {
	ID               uuid.UUID       `gorm:"type:uuid;primary_key"`
	TenantID         uuid.UUID       `gorm:"type:uuid;not null;index"`
	InvoiceNumber    string          `gorm:"type:varchar(100);not null"`
	VendorName       string          `gorm:"type:varchar(255);not null"`
	InvoiceDate      time.Time       `gorm:"not null"`
	DueDate          *time.Time
	Currency         string          `gorm:"type:varchar(3);not null"`
	Subtotal         decimal.Decimal `gorm:"type:decimal(18,4);not null"`
	TaxAmount        decimal.Decimal `gorm:"type:decimal(18,4);not null"`
	TotalAmount      decimal.Decimal `gorm:"type:decimal(18,4);not null"`
	LineItemsJSON    string          `gorm:"type:jsonb;column:line_items"`
	VendorConfidence float64         `gorm:"not null;default:0"`
	CreatedAt        time.Time       `gorm:"not null"`
}

// TableName returns the table name for GORM
func (InvoiceModel) TableName() string {
	return "invoices"
}

// invoiceLineItemJSON is the JSONB shape of one invoice line
type invoiceLineItemJSON struct {
	Description        string          `json:"description"`
	Quantity           decimal.Decimal `json:"quantity"`
	UnitPrice          decimal.Decimal `json:"unit_price"`
	Amount             decimal.Decimal `json:"amount"`
	Category           string          `json:"category,omitempty"`
	CategoryConfidence float64         `json:"category_confidence,omitempty"`
}

// ToDomain converts the persistence model to a domain Invoice entity.
func (m *InvoiceModel) ToDomain() *accounting.Invoice {
	inv := &accounting.Invoice{
		ID:               m.ID,
		TenantID:         m.TenantID,
		InvoiceNumber:    m.InvoiceNumber,
		VendorName:       m.VendorName,
		InvoiceDate:      m.InvoiceDate,
		DueDate:          m.DueDate,
		Currency:         m.Currency,
		Subtotal:         m.Subtotal,
		TaxAmount:        m.TaxAmount,
		TotalAmount:      m.TotalAmount,
		LineItems:        make([]accounting.InvoiceLineItem, 0),
		VendorConfidence: m.VendorConfidence,
		CreatedAt:        m.CreatedAt,
	}

	if m.LineItemsJSON != "" {
		var lines []invoiceLineItemJSON
		if err := json.Unmarshal([]byte(m.LineItemsJSON), &lines); err == nil {
			for _, l := range lines {
				inv.LineItems = append(inv.LineItems, accounting.InvoiceLineItem{
					Description:        l.Description,
					Quantity:           l.Quantity,
					UnitPrice:          l.UnitPrice,
					Amount:             l.Amount,
					Category:           l.Category,
					CategoryConfidence: l.CategoryConfidence,
				})
			}
		}
	}

	return inv
}

// FromDomain populates the persistence model from a domain Invoice entity.
func (m *InvoiceModel) FromDomain(inv *accounting.Invoice) {
	m.ID = inv.ID
	m.TenantID = inv.TenantID
	m.InvoiceNumber = inv.InvoiceNumber
	m.VendorName = inv.VendorName
	m.InvoiceDate = inv.InvoiceDate
	m.DueDate = inv.DueDate
	m.Currency = inv.Currency
	m.Subtotal = inv.Subtotal
	m.TaxAmount = inv.TaxAmount
	m.TotalAmount = inv.TotalAmount
	m.VendorConfidence = inv.VendorConfidence
	m.CreatedAt = inv.CreatedAt

	if len(inv.LineItems) > 0 {
		lines := make([]invoiceLineItemJSON, 0, len(inv.LineItems))
		for _, l := range inv.LineItems {
			lines = append(lines, invoiceLineItemJSON{
				Description:        l.Description,
				Quantity:           l.Quantity,
				UnitPrice:          l.UnitPrice,
				Amount:             l.Amount,
				Category:           l.Category,
				CategoryConfidence: l.CategoryConfidence,
			})
		}
		if jsonBytes, err := json.Marshal(lines); err == nil {
			m.LineItemsJSON = string(jsonBytes)
		}
	} else {
		m.LineItemsJSON = "[]"
	}
}

// ---------------------------------------------------------------------------
// TenantMappingConfigModel
// ---------------------------------------------------------------------------

// TenantMappingConfigModel is the persistence model for per-tenant mapping
// configuration. Absent rows fall back to defaults.
type TenantMappingConfigModel struct {
	TenantID            uuid.UUID `gorm:"type:uuid;primary_key"`
	DefaultCategoryRef  string    `gorm:"type:varchar(100)"`
	CategoryRefsJSON    string    `gorm:"type:jsonb;column:category_refs"`
	ConfidenceFloor     float64   `gorm:"not null;default:0"`
	SimilarityThreshold float64   `gorm:"not null;default:0"`
	CreatedAt           time.Time `gorm:"not null"`
	UpdatedAt           time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (TenantMappingConfigModel) TableName() string {
	return "tenant_mapping_configs"
}

// ToDomain converts the persistence model to a domain TenantMappingConfig,
// applying defaults for unset knobs.
func (m *TenantMappingConfigModel) ToDomain() accounting.TenantMappingConfig {
	cfg := accounting.DefaultTenantMappingConfig(m.TenantID)
	cfg.DefaultCategoryRef = m.DefaultCategoryRef
	if m.ConfidenceFloor > 0 {
		cfg.ConfidenceFloor = m.ConfidenceFloor
	}
	if m.SimilarityThreshold > 0 {
		cfg.SimilarityThreshold = m.SimilarityThreshold
	}
	if m.CategoryRefsJSON != "" {
		refs := make(map[string]string)
		if err := json.Unmarshal([]byte(m.CategoryRefsJSON), &refs); err == nil {
			cfg.CategoryRefs = refs
		}
	}
	return cfg
}

// FromDomain populates the persistence model from a domain TenantMappingConfig.
func (m *TenantMappingConfigModel) FromDomain(cfg accounting.TenantMappingConfig) {
	m.TenantID = cfg.TenantID
	m.DefaultCategoryRef = cfg.DefaultCategoryRef
	m.ConfidenceFloor = cfg.ConfidenceFloor
	m.SimilarityThreshold = cfg.SimilarityThreshold
	if len(cfg.CategoryRefs) > 0 {
		if jsonBytes, err := json.Marshal(cfg.CategoryRefs); err == nil {
			m.CategoryRefsJSON = string(jsonBytes)
		}
	} else {
		m.CategoryRefsJSON = "{}"
	}
}
