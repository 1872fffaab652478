package accounting

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// Invoice Input Model
// ---------------------------------------------------------------------------

// Invoice is the validated invoice record produced by the extraction
// pipeline. It is read-only input to the sync core; only its sync status is
// ever written back, via the SyncRecord snapshot.
type Invoice struct {
	// ID is the unique identifier of the invoice
	ID uuid.UUID
	// TenantID is the tenant this invoice belongs to
	TenantID uuid.UUID
	// InvoiceNumber is the vendor-assigned invoice number
	InvoiceNumber string
	// VendorName is the extracted vendor name (raw, not normalized)
	VendorName string
	// InvoiceDate is the invoice issue date
	InvoiceDate time.Time
	// DueDate is the payment due date, if extracted
	DueDate *time.Time
	// Currency is the ISO 4217 currency code
	Currency string
	// Subtotal is the pre-tax amount
	Subtotal decimal.Decimal
	// TaxAmount is the total tax amount
	TaxAmount decimal.Decimal
	// TotalAmount is the grand total the vendor billed
	TotalAmount decimal.Decimal
	// LineItems are the extracted, normalized line items
	LineItems []InvoiceLineItem
	// VendorConfidence is the extraction confidence for the vendor name (0..1)
	VendorConfidence float64
	// CreatedAt is when the extraction pipeline produced the record
	CreatedAt time.Time
}

// InvoiceLineItem is one extracted line of an invoice
type InvoiceLineItem struct {
	// Description is the extracted line description
	Description string
	// Quantity is the billed quantity
	Quantity decimal.Decimal
	// UnitPrice is the price per unit
	UnitPrice decimal.Decimal
	// Amount is the extended line amount
	Amount decimal.Decimal
	// Category is the expense category suggested by extraction, if any
	Category string
	// CategoryConfidence is the extraction confidence for Category (0..1)
	CategoryConfidence float64
}

// IdempotencyKey returns the stable key used to detect and suppress duplicate
// postings of this invoice: tenant_id + invoice_id.
func (i *Invoice) IdempotencyKey() string {
	return i.TenantID.String() + ":" + i.ID.String()
}

// ---------------------------------------------------------------------------
// InvoiceRepository Interface
// ---------------------------------------------------------------------------

// InvoiceRepository reads invoices produced by the extraction pipeline.
// The sync core never writes invoice rows.
type InvoiceRepository interface {
	// FindByID finds an invoice by ID, scoped to a tenant
	FindByID(ctx context.Context, tenantID, invoiceID uuid.UUID) (*Invoice, error)
}

// Validate checks the fields the sync core depends on
func (i *Invoice) Validate() error {
	if i.ID == uuid.Nil {
		return ErrInvalidInvoiceID
	}
	if i.TenantID == uuid.Nil {
		return ErrInvalidTenantID
	}
	if !IsValidCurrency(i.Currency) {
		return ErrInvalidCurrency
	}
	return nil
}
