package accounting

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/vritti/backend/internal/domain/accounting"
	"go.uber.org/zap"
)

// ---------------------------------------------------------------------------
// Orchestration Ports
// ---------------------------------------------------------------------------

// RateGate blocks until the tenant may make another platform call
type RateGate interface {
	// Wait blocks until a token is available or ctx is done
	Wait(ctx context.Context, tenantID uuid.UUID) error
}

// Breaker is the per-tenant circuit breaker over platform failures
type Breaker interface {
	// Allow returns ErrTenantPaused while the tenant's circuit is open
	Allow(tenantID uuid.UUID) error
	// RecordSuccess closes the circuit after a successful attempt
	RecordSuccess(tenantID uuid.UUID)
	// RecordFailure counts a transient platform failure
	RecordFailure(tenantID uuid.UUID)
}

// RetryPolicy computes retry schedules for failed attempts
type RetryPolicy interface {
	// NextDelay returns how long to wait before attempt k+1, given k completed attempts
	NextDelay(attempt int) time.Duration
	// MaxAttempts is the attempt ceiling before failing permanently
	MaxAttempts() int
}

// VendorKeyLocker serializes vendor creation per (tenant, normalized key) so
// concurrent syncs create one vendor, first writer wins.
type VendorKeyLocker interface {
	// Lock acquires the lock and returns its release function
	Lock(tenantID uuid.UUID, key string) (unlock func())
}

// JobQueue accepts sync jobs for asynchronous execution
type JobQueue interface {
	// Submit enqueues one invoice sync for a tenant
	Submit(tenantID, invoiceID uuid.UUID) error
}

// CredentialProvider is the slice of the credential manager the orchestrator needs
type CredentialProvider interface {
	GetValidToken(ctx context.Context, tenantID uuid.UUID) (accounting.CallCredentials, error)
}

// InvoiceMapper is the slice of the mapping engine the orchestrator needs
type InvoiceMapper interface {
	MapInvoiceToBillDraft(ctx context.Context, tenantID uuid.UUID, invoice *accounting.Invoice) (*accounting.BillDraft, error)
}

// DuplicateChecker is the slice of the dedup resolver the orchestrator needs
type DuplicateChecker interface {
	Check(ctx context.Context, creds accounting.CallCredentials, record *accounting.SyncRecord, draft *accounting.BillDraft) (*DedupResult, error)
}

var (
	_ CredentialProvider = (*CredentialServiceImpl)(nil)
	_ InvoiceMapper      = (*MappingServiceImpl)(nil)
	_ DuplicateChecker   = (*DedupServiceImpl)(nil)
)

// ---------------------------------------------------------------------------
// SyncService
// ---------------------------------------------------------------------------

// SyncConfig holds the orchestrator knobs
type SyncConfig struct {
	// CallTimeout bounds each external platform call
	CallTimeout time.Duration
	// StaleAttemptAfter is how long a record may sit IN_PROGRESS before the
	// attempt is considered abandoned and rescued onto the retry path
	StaleAttemptAfter time.Duration
}

// outcomePersistTimeout bounds the detached write of an attempt outcome
const outcomePersistTimeout = 10 * time.Second

// SyncServiceImpl orchestrates the sync of one invoice end to end: rate
// limiting, credentials, duplicate checks, vendor resolution, bill posting
// and the failure taxonomy. All state changes go through the SyncRecord
// state machine and are persisted together with their transition log entry.
type SyncServiceImpl struct {
	syncRepo    accounting.SyncRecordRepository
	invoiceRepo accounting.InvoiceRepository
	mappingRepo accounting.VendorMappingRepository
	credentials CredentialProvider
	mapper      InvoiceMapper
	dedup       DuplicateChecker
	platform    accounting.AccountingPlatform
	gate        RateGate
	breaker     Breaker
	retry       RetryPolicy
	vendorLocks VendorKeyLocker
	queue       JobQueue
	cfg         SyncConfig
	logger      *zap.Logger
}

// NewSyncService creates a new SyncServiceImpl
func NewSyncService(
	syncRepo accounting.SyncRecordRepository,
	invoiceRepo accounting.InvoiceRepository,
	mappingRepo accounting.VendorMappingRepository,
	credentials CredentialProvider,
	mapper InvoiceMapper,
	dedup DuplicateChecker,
	platform accounting.AccountingPlatform,
	gate RateGate,
	breaker Breaker,
	retry RetryPolicy,
	vendorLocks VendorKeyLocker,
	cfg SyncConfig,
	logger *zap.Logger,
) *SyncServiceImpl {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 30 * time.Second
	}
	if cfg.StaleAttemptAfter <= 0 {
		cfg.StaleAttemptAfter = 5 * time.Minute
	}
	return &SyncServiceImpl{
		syncRepo:    syncRepo,
		invoiceRepo: invoiceRepo,
		mappingRepo: mappingRepo,
		credentials: credentials,
		mapper:      mapper,
		dedup:       dedup,
		platform:    platform,
		gate:        gate,
		breaker:     breaker,
		retry:       retry,
		vendorLocks: vendorLocks,
		cfg:         cfg,
		logger:      logger,
	}
}

// SetQueue wires the job queue after construction. The dispatcher executes
// attempts through this service, so the two are built in two steps.
func (s *SyncServiceImpl) SetQueue(queue JobQueue) {
	s.queue = queue
}

// ---------------------------------------------------------------------------
// Enqueue
// ---------------------------------------------------------------------------

// EnqueueSync registers an invoice for syncing and submits it to the worker
// pool. Calling it again for the same invoice is a no-op: an existing record
// in any state is returned as-is.
func (s *SyncServiceImpl) EnqueueSync(ctx context.Context, tenantID, invoiceID uuid.UUID) (*accounting.SyncRecord, error) {
	record, err := s.syncRepo.FindByInvoice(ctx, tenantID, invoiceID)
	switch {
	case err == nil:
		if record.State == accounting.SyncStateFailedRetryable {
			// Manual re-enqueue of a failed record: make the retry due now.
			record.ScheduleRetry(time.Now())
			if err := s.syncRepo.Update(ctx, record, nil); err != nil {
				return nil, err
			}
		}
		if !record.State.IsTerminal() {
			s.submit(tenantID, invoiceID)
		}
		return record, nil
	case !errors.Is(err, accounting.ErrSyncRecordNotFound):
		return nil, err
	}

	// Validate the invoice exists and belongs to the tenant before creating
	// a record for it.
	invoice, err := s.invoiceRepo.FindByID(ctx, tenantID, invoiceID)
	if err != nil {
		return nil, err
	}
	if err := invoice.Validate(); err != nil {
		return nil, err
	}

	record, err = accounting.NewSyncRecord(tenantID, invoiceID)
	if err != nil {
		return nil, err
	}
	if err := s.syncRepo.Create(ctx, record); err != nil {
		// A concurrent enqueue won the insert; adopt its record.
		existing, findErr := s.syncRepo.FindByInvoice(ctx, tenantID, invoiceID)
		if findErr != nil {
			return nil, err
		}
		record = existing
	}

	s.submit(tenantID, invoiceID)
	return record, nil
}

func (s *SyncServiceImpl) submit(tenantID, invoiceID uuid.UUID) {
	if s.queue == nil {
		return
	}
	if err := s.queue.Submit(tenantID, invoiceID); err != nil {
		s.logger.Warn("Failed to submit sync job",
			zap.String("tenant_id", tenantID.String()),
			zap.String("invoice_id", invoiceID.String()),
			zap.Error(err))
	}
}

// ---------------------------------------------------------------------------
// Attempt Execution
// ---------------------------------------------------------------------------

// ExecuteAttempt runs one sync attempt for an invoice. It is called by the
// dispatcher, which guarantees at most one concurrent attempt per invoice.
func (s *SyncServiceImpl) ExecuteAttempt(ctx context.Context, tenantID, invoiceID uuid.UUID) error {
	record, err := s.syncRepo.FindByInvoice(ctx, tenantID, invoiceID)
	if err != nil {
		return err
	}
	if record.State.IsTerminal() {
		return nil
	}
	if record.State == accounting.SyncStateFailedRetryable &&
		record.NextAttemptAt != nil && record.NextAttemptAt.After(time.Now()) {
		// Not due yet; the retry poller will resubmit it.
		return nil
	}

	if err := s.breaker.Allow(tenantID); err != nil {
		// A paused tenant does not consume an attempt.
		return err
	}

	tr, err := record.Transition(accounting.SyncStateInProgress, accounting.ReasonNone, "")
	if err != nil {
		if errors.Is(err, accounting.ErrIllegalTransition) {
			// Another worker took the record; nothing to do.
			return nil
		}
		return err
	}
	if err := s.syncRepo.Update(ctx, record, tr); err != nil {
		return err
	}

	billID, attemptErr := s.runAttempt(ctx, tenantID, record)
	if attemptErr == nil {
		record.RecordSuccess(billID)
		tr, err := record.Transition(accounting.SyncStateSucceeded, accounting.ReasonNone, "")
		if err != nil {
			return err
		}
		if err := s.persistOutcome(ctx, record, tr); err != nil {
			return err
		}
		s.breaker.RecordSuccess(tenantID)
		s.logger.Info("Invoice synced",
			zap.String("tenant_id", tenantID.String()),
			zap.String("invoice_id", invoiceID.String()),
			zap.String("bill_id", billID),
			zap.Int("attempt", record.AttemptCount))
		return nil
	}

	return s.handleFailure(ctx, tenantID, record, attemptErr)
}

// persistOutcome writes the outcome of an attempt under a fresh context. The
// attempt context may already be past its deadline (that is how most timeout
// failures arrive here); writing the outcome with it would fail and leave the
// record stuck IN_PROGRESS with no retry ever scheduled.
func (s *SyncServiceImpl) persistOutcome(ctx context.Context, record *accounting.SyncRecord, tr *accounting.SyncTransition) error {
	outcomeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), outcomePersistTimeout)
	defer cancel()
	return s.syncRepo.Update(outcomeCtx, record, tr)
}

// runAttempt performs the external work of one attempt and returns the
// posted (or adopted) bill ID.
func (s *SyncServiceImpl) runAttempt(ctx context.Context, tenantID uuid.UUID, record *accounting.SyncRecord) (string, error) {
	if err := s.gate.Wait(ctx, tenantID); err != nil {
		return "", err
	}

	creds, err := s.credentials.GetValidToken(ctx, tenantID)
	if err != nil {
		return "", err
	}

	invoice, err := s.invoiceRepo.FindByID(ctx, tenantID, record.InvoiceID)
	if err != nil {
		return "", err
	}

	draft, err := s.mapper.MapInvoiceToBillDraft(ctx, tenantID, invoice)
	if err != nil {
		return "", err
	}
	if !draft.Postable() {
		return "", accounting.ErrReconciliationMismatch
	}

	record.SetSignature(draft.Vendor.NormalizedKey, draft.DocNumber, draft.TotalAmount.StringFixed(2), draft.TxnDate)

	dedupCtx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
	result, err := s.dedup.Check(dedupCtx, creds, record, draft)
	cancel()
	if err != nil {
		return "", err
	}
	if result.Duplicate {
		return result.ExternalBillID, nil
	}

	vendorID := draft.Vendor.ExternalVendorID
	if draft.Vendor.NeedsCreation {
		vendorID, err = s.ensureVendor(ctx, tenantID, creds, &draft.Vendor)
		if err != nil {
			return "", err
		}
	}

	req := &accounting.CreateBillRequest{
		IdempotencyKey: draft.IdempotencyKey,
		VendorID:       vendorID,
		DocNumber:      draft.DocNumber,
		TxnDate:        draft.TxnDate,
		DueDate:        draft.DueDate,
		Currency:       draft.Currency,
		TotalAmount:    draft.TotalAmount,
	}
	for _, line := range draft.Lines {
		req.Lines = append(req.Lines, accounting.CreateBillLine{
			Description: line.Description,
			Amount:      line.Amount,
			CategoryRef: line.CategoryRef,
		})
	}

	billCtx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
	defer cancel()
	resp, err := s.platform.CreateBill(billCtx, creds, req)
	if err != nil {
		return "", err
	}
	if resp.Duplicate {
		s.logger.Info("Platform suppressed duplicate posting",
			zap.String("tenant_id", tenantID.String()),
			zap.String("invoice_id", record.InvoiceID.String()),
			zap.String("bill_id", resp.BillID))
	}
	return resp.BillID, nil
}

// ensureVendor creates the vendor on the platform and records the mapping.
// The per-key lock plus the re-read make the first writer win; later callers
// reuse the mapping it recorded.
func (s *SyncServiceImpl) ensureVendor(ctx context.Context, tenantID uuid.UUID, creds accounting.CallCredentials, vendor *accounting.VendorDraft) (string, error) {
	unlock := s.vendorLocks.Lock(tenantID, vendor.NormalizedKey)
	defer unlock()

	existing, err := s.mappingRepo.FindByKey(ctx, tenantID, vendor.NormalizedKey)
	switch {
	case err == nil:
		return existing.ExternalVendorID, nil
	case !isNotFound(err):
		return "", err
	}

	// The platform may already hold this vendor from outside this system;
	// adopt it instead of creating a twin.
	queryCtx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
	vendors, err := s.platform.QueryVendors(queryCtx, creds, &accounting.QueryVendorsRequest{
		NamePrefix: vendor.DisplayName,
		MaxResults: 10,
	})
	cancel()
	if err != nil {
		return "", err
	}

	vendorID := ""
	for _, v := range vendors {
		if accounting.NormalizeVendorKey(v.DisplayName) == vendor.NormalizedKey {
			vendorID = v.VendorID
			break
		}
	}

	if vendorID == "" {
		createCtx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
		resp, err := s.platform.CreateVendor(createCtx, creds, &accounting.CreateVendorRequest{
			DisplayName: vendor.DisplayName,
		})
		cancel()
		if err != nil {
			return "", err
		}
		vendorID = resp.VendorID
		s.logger.Info("Vendor created on platform",
			zap.String("tenant_id", tenantID.String()),
			zap.String("vendor_key", vendor.NormalizedKey),
			zap.String("vendor_id", vendorID))
	}

	mapping, err := accounting.NewVendorMapping(tenantID, vendor.NormalizedKey, vendor.DisplayName, vendorID)
	if err != nil {
		return "", err
	}
	if err := s.mappingRepo.Save(ctx, mapping); err != nil {
		return "", err
	}
	return vendorID, nil
}

// ---------------------------------------------------------------------------
// Failure Handling
// ---------------------------------------------------------------------------

// handleFailure applies the failure taxonomy: transient failures retry with
// backoff up to the attempt ceiling, everything else fails permanently.
func (s *SyncServiceImpl) handleFailure(ctx context.Context, tenantID uuid.UUID, record *accounting.SyncRecord, attemptErr error) error {
	reason := accounting.ClassifyError(attemptErr)

	if reason.IsTransient() {
		s.breaker.RecordFailure(tenantID)
	}

	retryable := reason.IsTransient() && record.AttemptCount < s.retry.MaxAttempts()

	if retryable {
		tr, err := record.Transition(accounting.SyncStateFailedRetryable, reason, attemptErr.Error())
		if err != nil {
			return err
		}
		delay := s.retry.NextDelay(record.AttemptCount)
		record.ScheduleRetry(time.Now().Add(delay))
		if err := s.persistOutcome(ctx, record, tr); err != nil {
			return err
		}
		s.logger.Warn("Sync attempt failed, retry scheduled",
			zap.String("tenant_id", tenantID.String()),
			zap.String("invoice_id", record.InvoiceID.String()),
			zap.String("reason", reason.String()),
			zap.Int("attempt", record.AttemptCount),
			zap.Duration("delay", delay),
			zap.Error(attemptErr))
		return nil
	}

	tr, err := record.Transition(accounting.SyncStateFailedPermanent, reason, attemptErr.Error())
	if err != nil {
		return err
	}
	if err := s.persistOutcome(ctx, record, tr); err != nil {
		return err
	}
	s.logger.Error("Sync failed permanently",
		zap.String("tenant_id", tenantID.String()),
		zap.String("invoice_id", record.InvoiceID.String()),
		zap.String("reason", reason.String()),
		zap.Int("attempt", record.AttemptCount),
		zap.Error(attemptErr))
	return nil
}

// ---------------------------------------------------------------------------
// Retry Polling
// ---------------------------------------------------------------------------

// ResubmitDueRetries loads FAILED_RETRYABLE records whose retry time has
// passed and resubmits them to the worker pool. Called periodically by the
// dispatcher's retry poller.
func (s *SyncServiceImpl) ResubmitDueRetries(ctx context.Context, limit int) (int, error) {
	records, err := s.syncRepo.ListDueRetries(ctx, time.Now(), limit)
	if err != nil {
		return 0, err
	}
	for i := range records {
		s.submit(records[i].TenantID, records[i].InvoiceID)
	}
	return len(records), nil
}

// RecoverStaleAttempts rescues records left IN_PROGRESS past the staleness
// cutoff, typically after a crash or a dropped outcome write. They re-enter
// the normal retry path: back to FAILED_RETRYABLE with backoff, or to
// FAILED_PERMANENT once the attempt ceiling is spent. Called periodically by
// the dispatcher's retry poller.
func (s *SyncServiceImpl) RecoverStaleAttempts(ctx context.Context, limit int) (int, error) {
	cutoff := time.Now().Add(-s.cfg.StaleAttemptAfter)
	records, err := s.syncRepo.ListStaleInProgress(ctx, cutoff, limit)
	if err != nil {
		return 0, err
	}

	recovered := 0
	for i := range records {
		record := &records[i]

		next := accounting.SyncStateFailedRetryable
		if record.AttemptCount >= s.retry.MaxAttempts() {
			next = accounting.SyncStateFailedPermanent
		}
		tr, err := record.Transition(next, accounting.ReasonTimeout, "attempt abandoned before completing")
		if err != nil {
			return recovered, err
		}
		if next == accounting.SyncStateFailedRetryable {
			record.ScheduleRetry(time.Now().Add(s.retry.NextDelay(record.AttemptCount)))
		}
		if err := s.syncRepo.Update(ctx, record, tr); err != nil {
			return recovered, err
		}
		recovered++
		s.logger.Warn("Recovered stale sync attempt",
			zap.String("tenant_id", record.TenantID.String()),
			zap.String("invoice_id", record.InvoiceID.String()),
			zap.String("state", record.State.String()),
			zap.Int("attempt", record.AttemptCount))
	}
	return recovered, nil
}
