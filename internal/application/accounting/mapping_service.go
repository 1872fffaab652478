package accounting

import (
	"context"

	"github.com/google/uuid"
	"github.com/vritti/backend/internal/domain/accounting"
	"go.uber.org/zap"
)

// ---------------------------------------------------------------------------
// MappingService
// ---------------------------------------------------------------------------

// MappingServiceImpl translates validated invoices into bill drafts in the
// accounting system's shape: vendor resolution against the tenant's mapping
// table, category resolution with confidence fallback, currency validation
// and amount reconciliation.
type MappingServiceImpl struct {
	mappingRepo accounting.VendorMappingRepository
	configRepo  accounting.MappingConfigRepository
	logger      *zap.Logger
}

// NewMappingService creates a new MappingServiceImpl
func NewMappingService(
	mappingRepo accounting.VendorMappingRepository,
	configRepo accounting.MappingConfigRepository,
	logger *zap.Logger,
) *MappingServiceImpl {
	return &MappingServiceImpl{
		mappingRepo: mappingRepo,
		configRepo:  configRepo,
		logger:      logger,
	}
}

// MapInvoiceToBillDraft maps an invoice to a bill draft. The draft carries
// flags instead of errors for recoverable conditions; only configuration and
// validation problems fail the mapping outright.
func (s *MappingServiceImpl) MapInvoiceToBillDraft(ctx context.Context, tenantID uuid.UUID, invoice *accounting.Invoice) (*accounting.BillDraft, error) {
	if err := invoice.Validate(); err != nil {
		return nil, err
	}
	if invoice.TenantID != tenantID {
		return nil, accounting.ErrInvalidTenantID
	}

	cfg, err := s.configRepo.FindByTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	vendor, err := s.resolveVendor(ctx, tenantID, invoice.VendorName, cfg.SimilarityThreshold)
	if err != nil {
		return nil, err
	}

	draft := &accounting.BillDraft{
		InvoiceID:      invoice.ID,
		TenantID:       tenantID,
		IdempotencyKey: invoice.IdempotencyKey(),
		Vendor:         *vendor,
		DocNumber:      invoice.InvoiceNumber,
		TxnDate:        invoice.InvoiceDate,
		DueDate:        invoice.DueDate,
		Currency:       invoice.Currency,
		Subtotal:       accounting.RoundAmount(invoice.Subtotal),
		TaxAmount:      accounting.RoundAmount(invoice.TaxAmount),
		TotalAmount:    accounting.RoundAmount(invoice.TotalAmount),
	}
	if vendor.NeedsCreation {
		draft.AddFlag(accounting.FlagVendorNeedsCreation)
	}

	for _, item := range invoice.LineItems {
		ref, defaulted, err := cfg.ResolveCategory(item.Category, item.CategoryConfidence)
		if err != nil {
			return nil, err
		}
		if defaulted {
			draft.AddFlag(accounting.FlagLowConfidenceCategory)
		}
		draft.Lines = append(draft.Lines, accounting.BillLine{
			Description:       item.Description,
			Amount:            accounting.RoundAmount(item.Amount),
			CategoryRef:       ref,
			CategoryDefaulted: defaulted,
		})
	}

	if !accounting.Reconciles(draft.Subtotal, draft.TaxAmount, draft.TotalAmount) {
		draft.AddFlag(accounting.FlagReconciliationMismatch)
		s.logger.Warn("Invoice amounts do not reconcile",
			zap.String("tenant_id", tenantID.String()),
			zap.String("invoice_id", invoice.ID.String()),
			zap.String("subtotal", draft.Subtotal.String()),
			zap.String("tax", draft.TaxAmount.String()),
			zap.String("total", draft.TotalAmount.String()))
	}

	return draft, nil
}

// resolveVendor resolves the invoice's vendor against the tenant's mappings:
// an exact normalized-key hit wins, then the best fuzzy match at or above the
// threshold, otherwise the vendor is marked for creation.
func (s *MappingServiceImpl) resolveVendor(ctx context.Context, tenantID uuid.UUID, vendorName string, threshold float64) (*accounting.VendorDraft, error) {
	key := accounting.NormalizeVendorKey(vendorName)
	if key == "" {
		return nil, accounting.ErrInvalidVendorKey
	}

	draft := &accounting.VendorDraft{
		NormalizedKey: key,
		DisplayName:   vendorName,
	}

	mapping, err := s.mappingRepo.FindByKey(ctx, tenantID, key)
	switch {
	case err == nil:
		draft.ExternalVendorID = mapping.ExternalVendorID
		draft.MatchedMappingID = &mapping.ID
		draft.MatchScore = 1.0
		return draft, nil
	case !isNotFound(err):
		return nil, err
	}

	mappings, err := s.mappingRepo.FindCurrentForTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	var best *accounting.VendorMapping
	bestScore := 0.0
	for i := range mappings {
		score := accounting.VendorSimilarity(key, mappings[i].NormalizedKey)
		if score > bestScore {
			best = &mappings[i]
			bestScore = score
		}
	}

	if best != nil && bestScore >= threshold {
		draft.ExternalVendorID = best.ExternalVendorID
		draft.MatchedMappingID = &best.ID
		draft.MatchScore = bestScore
		s.logger.Debug("Fuzzy vendor match",
			zap.String("tenant_id", tenantID.String()),
			zap.String("vendor_key", key),
			zap.String("matched_key", best.NormalizedKey),
			zap.Float64("score", bestScore))
		return draft, nil
	}

	draft.NeedsCreation = true
	return draft, nil
}
