package accounting

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// Currency
// ---------------------------------------------------------------------------

// iso4217 lists the currency codes accepted for posting. The accounting
// platform rejects anything outside its supported set, so unknown codes fail
// early here.
var iso4217 = map[string]struct{}{
	"USD": {}, "EUR": {}, "GBP": {}, "CAD": {}, "AUD": {}, "NZD": {},
	"JPY": {}, "CNY": {}, "HKD": {}, "SGD": {}, "INR": {}, "CHF": {},
	"SEK": {}, "NOK": {}, "DKK": {}, "MXN": {}, "BRL": {}, "ZAR": {},
	"AED": {}, "SAR": {}, "KRW": {}, "TWD": {}, "THB": {}, "PLN": {},
}

// IsValidCurrency returns true for a supported ISO 4217 currency code
func IsValidCurrency(code string) bool {
	_, ok := iso4217[code]
	return ok
}

// reconcileEpsilon is the maximum allowed |subtotal + tax - total| drift
var reconcileEpsilon = decimal.NewFromFloat(0.01)

// RoundAmount rounds a monetary value to two decimals using round-half-to-even
// (banker's rounding) to avoid cumulative drift across line items.
func RoundAmount(d decimal.Decimal) decimal.Decimal {
	return d.RoundBank(2)
}

// Reconciles returns true if subtotal + tax equals total within the epsilon
func Reconciles(subtotal, tax, total decimal.Decimal) bool {
	diff := subtotal.Add(tax).Sub(total).Abs()
	return diff.LessThanOrEqual(reconcileEpsilon)
}

// ---------------------------------------------------------------------------
// BillDraft Value Objects
// ---------------------------------------------------------------------------

// DraftFlag marks a condition on a bill draft that blocks auto-posting
type DraftFlag string

const (
	// FlagReconciliationMismatch indicates subtotal+tax did not match total
	FlagReconciliationMismatch DraftFlag = "RECONCILIATION_MISMATCH"
	// FlagVendorNeedsCreation indicates no vendor mapping matched and a vendor must be created
	FlagVendorNeedsCreation DraftFlag = "VENDOR_NEEDS_CREATION"
	// FlagLowConfidenceCategory indicates one or more lines fell back to the default category
	FlagLowConfidenceCategory DraftFlag = "LOW_CONFIDENCE_CATEGORY"
)

// VendorDraft describes the vendor side of a bill draft: either a resolved
// external vendor, or the material needed to create one.
type VendorDraft struct {
	// NormalizedKey is the normalized vendor key used for mapping lookups
	NormalizedKey string
	// DisplayName is the vendor name to create on the platform if needed
	DisplayName string
	// ExternalVendorID is set when an existing mapping or fuzzy match resolved the vendor
	ExternalVendorID string
	// MatchedMappingID is the VendorMapping that resolved this vendor, if any
	MatchedMappingID *uuid.UUID
	// MatchScore is the similarity score of a fuzzy match (1.0 for exact key hits)
	MatchScore float64
	// NeedsCreation is true when no mapping matched at or above the threshold
	NeedsCreation bool
}

// BillLine is one line of the bill in the target system's shape
type BillLine struct {
	// Description is the line description
	Description string
	// Amount is the line amount, rounded to two decimals
	Amount decimal.Decimal
	// CategoryRef is the expense category/account reference on the platform
	CategoryRef string
	// CategoryDefaulted is true when the line fell back to the tenant default category
	CategoryDefaulted bool
}

// BillDraft is the fully mapped bill ready for posting, produced by the
// mapping engine and consumed by the sync orchestrator.
type BillDraft struct {
	// InvoiceID is the source invoice
	InvoiceID uuid.UUID
	// TenantID is the tenant this draft belongs to
	TenantID uuid.UUID
	// IdempotencyKey is tenant_id + invoice_id, passed through to posting
	IdempotencyKey string
	// Vendor is the resolved or to-be-created vendor
	Vendor VendorDraft
	// DocNumber is the invoice number carried onto the bill
	DocNumber string
	// TxnDate is the invoice date
	TxnDate time.Time
	// DueDate is the payment due date, if known
	DueDate *time.Time
	// Currency is the validated ISO 4217 currency code
	Currency string
	// Lines are the mapped bill lines
	Lines []BillLine
	// Subtotal is the rounded pre-tax amount
	Subtotal decimal.Decimal
	// TaxAmount is the rounded tax amount
	TaxAmount decimal.Decimal
	// TotalAmount is the rounded grand total
	TotalAmount decimal.Decimal
	// Flags are conditions detected during mapping
	Flags []DraftFlag
}

// HasFlag returns true if the draft carries the given flag
func (d *BillDraft) HasFlag(flag DraftFlag) bool {
	for _, f := range d.Flags {
		if f == flag {
			return true
		}
	}
	return false
}

// AddFlag appends a flag if not already present
func (d *BillDraft) AddFlag(flag DraftFlag) {
	if !d.HasFlag(flag) {
		d.Flags = append(d.Flags, flag)
	}
}

// Postable returns true if the draft may be auto-posted
func (d *BillDraft) Postable() bool {
	return !d.HasFlag(FlagReconciliationMismatch)
}

// ---------------------------------------------------------------------------
// Tenant Mapping Configuration
// ---------------------------------------------------------------------------

// TenantMappingConfig holds the per-tenant knobs of the mapping engine
type TenantMappingConfig struct {
	// TenantID is the tenant this config belongs to
	TenantID uuid.UUID
	// DefaultCategoryRef is the expense category used for low-confidence lines
	DefaultCategoryRef string
	// CategoryRefs maps extracted category names to platform account references
	CategoryRefs map[string]string
	// ConfidenceFloor is the minimum category confidence to keep an extracted category
	ConfidenceFloor float64
	// SimilarityThreshold is the minimum vendor similarity for a fuzzy match
	SimilarityThreshold float64
}

// ResolveCategory resolves an extracted category name to a platform account
// reference, falling back to the tenant default when the category is unknown
// or the extraction confidence is below the floor. defaulted reports whether
// the fallback was taken.
func (c TenantMappingConfig) ResolveCategory(category string, confidence float64) (ref string, defaulted bool, err error) {
	if category != "" && confidence >= c.ConfidenceFloor {
		if r, ok := c.CategoryRefs[category]; ok {
			return r, false, nil
		}
	}
	if c.DefaultCategoryRef == "" {
		return "", false, ErrDefaultCategoryMissing
	}
	return c.DefaultCategoryRef, true, nil
}

// MappingConfigRepository loads the per-tenant mapping configuration
type MappingConfigRepository interface {
	// FindByTenant returns the tenant's mapping configuration, with defaults
	// applied for any unset knobs
	FindByTenant(ctx context.Context, tenantID uuid.UUID) (TenantMappingConfig, error)
}

// DefaultTenantMappingConfig returns the default mapping configuration
func DefaultTenantMappingConfig(tenantID uuid.UUID) TenantMappingConfig {
	return TenantMappingConfig{
		TenantID:            tenantID,
		ConfidenceFloor:     0.70,
		SimilarityThreshold: 0.85,
	}
}
