package accounting

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vritti/backend/internal/domain/accounting"
	"go.uber.org/zap"
)

// ---------------------------------------------------------------------------
// DedupService
// ---------------------------------------------------------------------------

// near-duplicate detection windows
var (
	nearDuplicateAmountTolerance = decimal.NewFromFloat(0.01) // 1% of the total
	nearDuplicateDateWindow      = 7 * 24 * time.Hour
)

// DedupResult is the outcome of the pre-posting duplicate check
type DedupResult struct {
	// Duplicate is true when the invoice was already posted
	Duplicate bool
	// ExternalBillID is the existing bill's ID when Duplicate is true
	ExternalBillID string
}

// DedupServiceImpl decides, before any posting, whether a bill for this
// invoice already exists. Exact duplicates short-circuit to success with the
// existing bill ID; near-duplicates that cannot be distinguished safely are
// rejected with ErrDuplicateAmbiguous for manual review.
type DedupServiceImpl struct {
	syncRepo accounting.SyncRecordRepository
	platform accounting.AccountingPlatform
	logger   *zap.Logger
}

// NewDedupService creates a new DedupServiceImpl
func NewDedupService(
	syncRepo accounting.SyncRecordRepository,
	platform accounting.AccountingPlatform,
	logger *zap.Logger,
) *DedupServiceImpl {
	return &DedupServiceImpl{
		syncRepo: syncRepo,
		platform: platform,
		logger:   logger,
	}
}

// Check runs the duplicate checks for a mapped draft, cheapest first:
// local idempotency-key history, then the platform by idempotency key, then
// the local bill signature, then the near-duplicate window.
func (s *DedupServiceImpl) Check(ctx context.Context, creds accounting.CallCredentials, record *accounting.SyncRecord, draft *accounting.BillDraft) (*DedupResult, error) {
	// A SUCCEEDED snapshot with a bill ID means a prior attempt completed but
	// the caller never observed it.
	if record.State == accounting.SyncStateSucceeded && record.ExternalBillID != "" {
		return &DedupResult{Duplicate: true, ExternalBillID: record.ExternalBillID}, nil
	}

	// The platform may hold a bill from an attempt that crashed after posting.
	found, err := s.platform.FindBill(ctx, creds, &accounting.FindBillRequest{
		IdempotencyKey: draft.IdempotencyKey,
	})
	if err != nil {
		return nil, err
	}
	if found.Found {
		s.logger.Info("Adopted bill already present on platform",
			zap.String("tenant_id", draft.TenantID.String()),
			zap.String("invoice_id", draft.InvoiceID.String()),
			zap.String("bill_id", found.BillID))
		return &DedupResult{Duplicate: true, ExternalBillID: found.BillID}, nil
	}

	// Same vendor, invoice number and total under a different invoice ID:
	// the extraction pipeline ingested the same document twice.
	total := draft.TotalAmount.StringFixed(2)
	existing, err := s.syncRepo.FindSucceededBySignature(ctx, draft.TenantID, draft.Vendor.NormalizedKey, draft.DocNumber, total)
	switch {
	case err == nil:
		if existing.InvoiceID != draft.InvoiceID {
			s.logger.Info("Invoice matches an already-synced bill signature",
				zap.String("tenant_id", draft.TenantID.String()),
				zap.String("invoice_id", draft.InvoiceID.String()),
				zap.String("original_invoice_id", existing.InvoiceID.String()))
			return &DedupResult{Duplicate: true, ExternalBillID: existing.ExternalBillID}, nil
		}
	case !errors.Is(err, accounting.ErrSyncRecordNotFound):
		return nil, err
	}

	if err := s.checkNearDuplicates(ctx, draft); err != nil {
		return nil, err
	}

	return &DedupResult{}, nil
}

// checkNearDuplicates rejects drafts that look like a resubmission of a
// recent bill under a different invoice number. These are never merged.
func (s *DedupServiceImpl) checkNearDuplicates(ctx context.Context, draft *accounting.BillDraft) error {
	since := draft.TxnDate.Add(-nearDuplicateDateWindow)
	candidates, err := s.syncRepo.ListSucceededByVendor(ctx, draft.TenantID, draft.Vendor.NormalizedKey, since)
	if err != nil {
		return err
	}

	for i := range candidates {
		c := &candidates[i]
		if c.InvoiceID == draft.InvoiceID || c.DocNumber == draft.DocNumber {
			continue
		}
		if c.TxnDate == nil || absDuration(draft.TxnDate.Sub(*c.TxnDate)) > nearDuplicateDateWindow {
			continue
		}
		prior, err := decimal.NewFromString(c.TotalAmount)
		if err != nil {
			continue
		}
		if !amountsWithinTolerance(draft.TotalAmount, prior) {
			continue
		}
		s.logger.Warn("Ambiguous duplicate detected, manual review required",
			zap.String("tenant_id", draft.TenantID.String()),
			zap.String("invoice_id", draft.InvoiceID.String()),
			zap.String("conflicting_invoice_id", c.InvoiceID.String()),
			zap.String("vendor_key", draft.Vendor.NormalizedKey))
		return accounting.ErrDuplicateAmbiguous
	}
	return nil
}

// amountsWithinTolerance returns true when the two totals differ by at most
// 1% of the larger amount.
func amountsWithinTolerance(a, b decimal.Decimal) bool {
	larger := a.Abs()
	if b.Abs().GreaterThan(larger) {
		larger = b.Abs()
	}
	if larger.IsZero() {
		return true
	}
	diff := a.Sub(b).Abs()
	return diff.LessThanOrEqual(larger.Mul(nearDuplicateAmountTolerance))
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

// isNotFound reports whether err is one of the repository not-found sentinels
func isNotFound(err error) bool {
	return errors.Is(err, accounting.ErrConnectionNotFound) ||
		errors.Is(err, accounting.ErrVendorMappingNotFound) ||
		errors.Is(err, accounting.ErrSyncRecordNotFound)
}
