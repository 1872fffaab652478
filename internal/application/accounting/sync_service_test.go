package accounting

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/vritti/backend/internal/domain/accounting"
	"go.uber.org/zap"
)

type syncFixture struct {
	syncRepo    *MockSyncRecordRepository
	invoiceRepo *MockInvoiceRepository
	mappingRepo *MockVendorMappingRepository
	credentials *MockCredentialProvider
	dedup       *MockDuplicateChecker
	platform    *MockAccountingPlatform
	gate        *MockRateGate
	breaker     *MockBreaker
	queue       *MockJobQueue
	configRepo  *MockMappingConfigRepository
	svc         *SyncServiceImpl
}

func newSyncFixture() *syncFixture {
	f := &syncFixture{
		syncRepo:    new(MockSyncRecordRepository),
		invoiceRepo: new(MockInvoiceRepository),
		mappingRepo: new(MockVendorMappingRepository),
		credentials: new(MockCredentialProvider),
		dedup:       new(MockDuplicateChecker),
		platform:    new(MockAccountingPlatform),
		gate:        new(MockRateGate),
		breaker:     new(MockBreaker),
		queue:       new(MockJobQueue),
		configRepo:  new(MockMappingConfigRepository),
	}
	mapper := NewMappingService(f.mappingRepo, f.configRepo, zap.NewNop())
	f.svc = NewSyncService(
		f.syncRepo, f.invoiceRepo, f.mappingRepo,
		f.credentials, mapper, f.dedup, f.platform,
		f.gate, f.breaker,
		fixedRetryPolicy{delay: time.Second, attempts: 5},
		noopKeyLocker{},
		SyncConfig{CallTimeout: time.Second},
		zap.NewNop(),
	)
	f.svc.SetQueue(f.queue)
	return f
}

// expectHappyPath wires everything up to and including the dedup check
func (f *syncFixture) expectHappyPath(t *testing.T, tenantID uuid.UUID, invoice *accounting.Invoice, mapping *accounting.VendorMapping) {
	t.Helper()
	f.breaker.On("Allow", tenantID).Return(nil)
	f.gate.On("Wait", mock.Anything, tenantID).Return(nil)
	f.credentials.On("GetValidToken", mock.Anything, tenantID).Return(testCreds(), nil)
	f.invoiceRepo.On("FindByID", mock.Anything, tenantID, invoice.ID).Return(invoice, nil)
	f.configRepo.On("FindByTenant", mock.Anything, tenantID).Return(testMappingConfig(tenantID), nil)
	if mapping != nil {
		f.mappingRepo.On("FindByKey", mock.Anything, tenantID, mapping.NormalizedKey).Return(mapping, nil)
	}
	f.syncRepo.On("Update", mock.Anything, mock.AnythingOfType("*accounting.SyncRecord"), mock.Anything).Return(nil)
}

func TestSyncService_ExecuteAttempt_Succeeds(t *testing.T) {
	f := newSyncFixture()
	tenantID := uuid.New()
	invoice := testInvoice(tenantID)
	record := pendingRecord(t, tenantID, invoice.ID)
	mapping, err := accounting.NewVendorMapping(tenantID, "acme corp", "Acme Corp", "vend-1")
	require.NoError(t, err)

	f.syncRepo.On("FindByInvoice", mock.Anything, tenantID, invoice.ID).Return(record, nil)
	f.expectHappyPath(t, tenantID, invoice, mapping)
	f.dedup.On("Check", mock.Anything, testCreds(), record, mock.AnythingOfType("*accounting.BillDraft")).
		Return(&DedupResult{}, nil)
	f.platform.On("CreateBill", mock.Anything, testCreds(), mock.MatchedBy(func(req *accounting.CreateBillRequest) bool {
		return req.VendorID == "vend-1" && req.DocNumber == "INV-1001" && req.IdempotencyKey == record.IdempotencyKey
	})).Return(&accounting.CreateBillResponse{BillID: "bill-1"}, nil)
	f.breaker.On("RecordSuccess", tenantID).Return()

	err = f.svc.ExecuteAttempt(context.Background(), tenantID, invoice.ID)
	require.NoError(t, err)

	assert.Equal(t, accounting.SyncStateSucceeded, record.State)
	assert.Equal(t, "bill-1", record.ExternalBillID)
	assert.Equal(t, 1, record.AttemptCount)
	assert.Equal(t, "acme corp", record.VendorKey, "bill signature recorded")
}

func TestSyncService_ExecuteAttempt_DuplicateAdopted(t *testing.T) {
	f := newSyncFixture()
	tenantID := uuid.New()
	invoice := testInvoice(tenantID)
	record := pendingRecord(t, tenantID, invoice.ID)
	mapping, err := accounting.NewVendorMapping(tenantID, "acme corp", "Acme Corp", "vend-1")
	require.NoError(t, err)

	f.syncRepo.On("FindByInvoice", mock.Anything, tenantID, invoice.ID).Return(record, nil)
	f.expectHappyPath(t, tenantID, invoice, mapping)
	f.dedup.On("Check", mock.Anything, testCreds(), record, mock.AnythingOfType("*accounting.BillDraft")).
		Return(&DedupResult{Duplicate: true, ExternalBillID: "bill-77"}, nil)
	f.breaker.On("RecordSuccess", tenantID).Return()

	err = f.svc.ExecuteAttempt(context.Background(), tenantID, invoice.ID)
	require.NoError(t, err)

	assert.Equal(t, accounting.SyncStateSucceeded, record.State)
	assert.Equal(t, "bill-77", record.ExternalBillID)
	f.platform.AssertNotCalled(t, "CreateBill", mock.Anything, mock.Anything, mock.Anything)
}

func TestSyncService_ExecuteAttempt_CreatesVendor(t *testing.T) {
	f := newSyncFixture()
	tenantID := uuid.New()
	invoice := testInvoice(tenantID)
	invoice.VendorName = "Globex Industries"
	record := pendingRecord(t, tenantID, invoice.ID)

	f.syncRepo.On("FindByInvoice", mock.Anything, tenantID, invoice.ID).Return(record, nil)
	f.expectHappyPath(t, tenantID, invoice, nil)
	f.mappingRepo.On("FindByKey", mock.Anything, tenantID, "globex industries").
		Return(nil, accounting.ErrVendorMappingNotFound)
	f.mappingRepo.On("FindCurrentForTenant", mock.Anything, tenantID).Return([]accounting.VendorMapping{}, nil)
	f.dedup.On("Check", mock.Anything, testCreds(), record, mock.AnythingOfType("*accounting.BillDraft")).
		Return(&DedupResult{}, nil)
	f.platform.On("QueryVendors", mock.Anything, testCreds(), mock.AnythingOfType("*accounting.QueryVendorsRequest")).
		Return([]accounting.PlatformVendor{}, nil)
	f.platform.On("CreateVendor", mock.Anything, testCreds(), &accounting.CreateVendorRequest{DisplayName: "Globex Industries"}).
		Return(&accounting.CreateVendorResponse{VendorID: "vend-new"}, nil)
	f.mappingRepo.On("Save", mock.Anything, mock.MatchedBy(func(m *accounting.VendorMapping) bool {
		return m.NormalizedKey == "globex industries" && m.ExternalVendorID == "vend-new"
	})).Return(nil)
	f.platform.On("CreateBill", mock.Anything, testCreds(), mock.MatchedBy(func(req *accounting.CreateBillRequest) bool {
		return req.VendorID == "vend-new"
	})).Return(&accounting.CreateBillResponse{BillID: "bill-2"}, nil)
	f.breaker.On("RecordSuccess", tenantID).Return()

	err := f.svc.ExecuteAttempt(context.Background(), tenantID, invoice.ID)
	require.NoError(t, err)

	assert.Equal(t, accounting.SyncStateSucceeded, record.State)
	f.mappingRepo.AssertExpectations(t)
}

func TestSyncService_ExecuteAttempt_AdoptsExistingPlatformVendor(t *testing.T) {
	f := newSyncFixture()
	tenantID := uuid.New()
	invoice := testInvoice(tenantID)
	invoice.VendorName = "Globex Industries"
	record := pendingRecord(t, tenantID, invoice.ID)

	f.syncRepo.On("FindByInvoice", mock.Anything, tenantID, invoice.ID).Return(record, nil)
	f.expectHappyPath(t, tenantID, invoice, nil)
	f.mappingRepo.On("FindByKey", mock.Anything, tenantID, "globex industries").
		Return(nil, accounting.ErrVendorMappingNotFound)
	f.mappingRepo.On("FindCurrentForTenant", mock.Anything, tenantID).Return([]accounting.VendorMapping{}, nil)
	f.dedup.On("Check", mock.Anything, testCreds(), record, mock.AnythingOfType("*accounting.BillDraft")).
		Return(&DedupResult{}, nil)
	f.platform.On("QueryVendors", mock.Anything, testCreds(), mock.AnythingOfType("*accounting.QueryVendorsRequest")).
		Return([]accounting.PlatformVendor{{VendorID: "vend-ext", DisplayName: "GLOBEX INDUSTRIES", Active: true}}, nil)
	f.mappingRepo.On("Save", mock.Anything, mock.MatchedBy(func(m *accounting.VendorMapping) bool {
		return m.ExternalVendorID == "vend-ext"
	})).Return(nil)
	f.platform.On("CreateBill", mock.Anything, testCreds(), mock.MatchedBy(func(req *accounting.CreateBillRequest) bool {
		return req.VendorID == "vend-ext"
	})).Return(&accounting.CreateBillResponse{BillID: "bill-3"}, nil)
	f.breaker.On("RecordSuccess", tenantID).Return()

	err := f.svc.ExecuteAttempt(context.Background(), tenantID, invoice.ID)
	require.NoError(t, err)
	f.platform.AssertNotCalled(t, "CreateVendor", mock.Anything, mock.Anything, mock.Anything)
}

func TestSyncService_ExecuteAttempt_TransientFailureSchedulesRetry(t *testing.T) {
	f := newSyncFixture()
	tenantID := uuid.New()
	invoice := testInvoice(tenantID)
	record := pendingRecord(t, tenantID, invoice.ID)
	mapping, err := accounting.NewVendorMapping(tenantID, "acme corp", "Acme Corp", "vend-1")
	require.NoError(t, err)

	f.syncRepo.On("FindByInvoice", mock.Anything, tenantID, invoice.ID).Return(record, nil)
	f.expectHappyPath(t, tenantID, invoice, mapping)
	f.dedup.On("Check", mock.Anything, testCreds(), record, mock.AnythingOfType("*accounting.BillDraft")).
		Return(&DedupResult{}, nil)
	f.platform.On("CreateBill", mock.Anything, testCreds(), mock.Anything).
		Return(nil, accounting.ErrPlatformRateLimited)
	f.breaker.On("RecordFailure", tenantID).Return()

	err = f.svc.ExecuteAttempt(context.Background(), tenantID, invoice.ID)
	require.NoError(t, err)

	assert.Equal(t, accounting.SyncStateFailedRetryable, record.State)
	assert.Equal(t, accounting.ReasonRateLimited, record.LastReason)
	require.NotNil(t, record.NextAttemptAt)
	assert.True(t, record.NextAttemptAt.After(time.Now()))
}

func TestSyncService_ExecuteAttempt_AttemptCeilingFailsPermanent(t *testing.T) {
	f := newSyncFixture()
	tenantID := uuid.New()
	invoice := testInvoice(tenantID)
	record := pendingRecord(t, tenantID, invoice.ID)
	record.State = accounting.SyncStateFailedRetryable
	record.AttemptCount = 4
	mapping, err := accounting.NewVendorMapping(tenantID, "acme corp", "Acme Corp", "vend-1")
	require.NoError(t, err)

	f.syncRepo.On("FindByInvoice", mock.Anything, tenantID, invoice.ID).Return(record, nil)
	f.expectHappyPath(t, tenantID, invoice, mapping)
	f.dedup.On("Check", mock.Anything, testCreds(), record, mock.AnythingOfType("*accounting.BillDraft")).
		Return(&DedupResult{}, nil)
	f.platform.On("CreateBill", mock.Anything, testCreds(), mock.Anything).
		Return(nil, accounting.ErrPlatformRateLimited)
	f.breaker.On("RecordFailure", tenantID).Return()

	err = f.svc.ExecuteAttempt(context.Background(), tenantID, invoice.ID)
	require.NoError(t, err)

	assert.Equal(t, accounting.SyncStateFailedPermanent, record.State)
	assert.Equal(t, 5, record.AttemptCount)
}

func TestSyncService_ExecuteAttempt_AuthExpiredFailsPermanent(t *testing.T) {
	f := newSyncFixture()
	tenantID := uuid.New()
	invoice := testInvoice(tenantID)
	record := pendingRecord(t, tenantID, invoice.ID)

	f.syncRepo.On("FindByInvoice", mock.Anything, tenantID, invoice.ID).Return(record, nil)
	f.breaker.On("Allow", tenantID).Return(nil)
	f.gate.On("Wait", mock.Anything, tenantID).Return(nil)
	f.syncRepo.On("Update", mock.Anything, record, mock.Anything).Return(nil)
	f.credentials.On("GetValidToken", mock.Anything, tenantID).
		Return(accounting.CallCredentials{}, accounting.ErrAuthExpired)

	err := f.svc.ExecuteAttempt(context.Background(), tenantID, invoice.ID)
	require.NoError(t, err)

	assert.Equal(t, accounting.SyncStateFailedPermanent, record.State)
	assert.Equal(t, accounting.ReasonAuthExpired, record.LastReason)
	f.breaker.AssertNotCalled(t, "RecordFailure", mock.Anything)
}

func TestSyncService_ExecuteAttempt_ReconciliationMismatchFailsPermanent(t *testing.T) {
	f := newSyncFixture()
	tenantID := uuid.New()
	invoice := testInvoice(tenantID)
	invoice.TotalAmount = invoice.TotalAmount.Add(invoice.TotalAmount) // way off
	record := pendingRecord(t, tenantID, invoice.ID)
	mapping, err := accounting.NewVendorMapping(tenantID, "acme corp", "Acme Corp", "vend-1")
	require.NoError(t, err)

	f.syncRepo.On("FindByInvoice", mock.Anything, tenantID, invoice.ID).Return(record, nil)
	f.expectHappyPath(t, tenantID, invoice, mapping)

	err = f.svc.ExecuteAttempt(context.Background(), tenantID, invoice.ID)
	require.NoError(t, err)

	assert.Equal(t, accounting.SyncStateFailedPermanent, record.State)
	assert.Equal(t, accounting.ReasonReconciliationMismatch, record.LastReason)
	f.platform.AssertNotCalled(t, "CreateBill", mock.Anything, mock.Anything, mock.Anything)
}

func TestSyncService_ExecuteAttempt_BreakerOpenSkipsAttempt(t *testing.T) {
	f := newSyncFixture()
	tenantID := uuid.New()
	invoiceID := uuid.New()
	record := pendingRecord(t, tenantID, invoiceID)

	f.syncRepo.On("FindByInvoice", mock.Anything, tenantID, invoiceID).Return(record, nil)
	f.breaker.On("Allow", tenantID).Return(accounting.ErrTenantPaused)

	err := f.svc.ExecuteAttempt(context.Background(), tenantID, invoiceID)
	assert.ErrorIs(t, err, accounting.ErrTenantPaused)
	assert.Equal(t, accounting.SyncStatePending, record.State, "paused tenants do not consume attempts")
	assert.Equal(t, 0, record.AttemptCount)
}

func TestSyncService_ExecuteAttempt_TerminalIsNoop(t *testing.T) {
	f := newSyncFixture()
	tenantID := uuid.New()
	invoiceID := uuid.New()
	record := pendingRecord(t, tenantID, invoiceID)
	record.State = accounting.SyncStateSucceeded

	f.syncRepo.On("FindByInvoice", mock.Anything, tenantID, invoiceID).Return(record, nil)

	err := f.svc.ExecuteAttempt(context.Background(), tenantID, invoiceID)
	require.NoError(t, err)
	f.breaker.AssertNotCalled(t, "Allow", mock.Anything)
}

func TestSyncService_ExecuteAttempt_ExpiredDeadlineStillPersistsOutcome(t *testing.T) {
	f := newSyncFixture()
	tenantID := uuid.New()
	invoice := testInvoice(tenantID)
	record := pendingRecord(t, tenantID, invoice.ID)
	mapping, err := accounting.NewVendorMapping(tenantID, "acme corp", "Acme Corp", "vend-1")
	require.NoError(t, err)

	// The repository honors context deadlines the way gorm does: writes made
	// after the attempt deadline fire must fail.
	f.syncRepo.On("Update",
		mock.MatchedBy(func(ctx context.Context) bool { return ctx.Err() != nil }),
		mock.Anything, mock.Anything).Return(context.DeadlineExceeded)
	f.syncRepo.On("Update",
		mock.MatchedBy(func(ctx context.Context) bool { return ctx.Err() == nil }),
		mock.Anything, mock.Anything).Return(nil)

	f.syncRepo.On("FindByInvoice", mock.Anything, tenantID, invoice.ID).Return(record, nil)
	f.breaker.On("Allow", tenantID).Return(nil)
	f.gate.On("Wait", mock.Anything, tenantID).Return(nil)
	f.credentials.On("GetValidToken", mock.Anything, tenantID).Return(testCreds(), nil)
	f.invoiceRepo.On("FindByID", mock.Anything, tenantID, invoice.ID).Return(invoice, nil)
	f.configRepo.On("FindByTenant", mock.Anything, tenantID).Return(testMappingConfig(tenantID), nil)
	f.mappingRepo.On("FindByKey", mock.Anything, tenantID, mapping.NormalizedKey).Return(mapping, nil)
	f.dedup.On("Check", mock.Anything, testCreds(), record, mock.AnythingOfType("*accounting.BillDraft")).
		Return(&DedupResult{}, nil)
	// The platform call outlives the attempt deadline.
	f.platform.On("CreateBill", mock.Anything, testCreds(), mock.Anything).
		Run(func(args mock.Arguments) {
			<-args.Get(0).(context.Context).Done()
		}).
		Return(nil, context.DeadlineExceeded)
	f.breaker.On("RecordFailure", tenantID).Return()

	attemptCtx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err = f.svc.ExecuteAttempt(attemptCtx, tenantID, invoice.ID)
	require.NoError(t, err)

	// The record must not be stranded IN_PROGRESS: the failure is recorded
	// and a retry scheduled even though the attempt context is long dead.
	assert.Equal(t, accounting.SyncStateFailedRetryable, record.State)
	assert.Equal(t, accounting.ReasonNetworkError, record.LastReason)
	require.NotNil(t, record.NextAttemptAt)
}

func TestSyncService_RecoverStaleAttempts(t *testing.T) {
	f := newSyncFixture()
	tenantID := uuid.New()
	staleAt := time.Now().Add(-time.Hour)

	retryable := *pendingRecord(t, tenantID, uuid.New())
	retryable.State = accounting.SyncStateInProgress
	retryable.AttemptCount = 1
	retryable.LastAttemptAt = &staleAt

	exhausted := *pendingRecord(t, tenantID, uuid.New())
	exhausted.State = accounting.SyncStateInProgress
	exhausted.AttemptCount = 5
	exhausted.LastAttemptAt = &staleAt

	f.syncRepo.On("ListStaleInProgress", mock.Anything, mock.AnythingOfType("time.Time"), 100).
		Return([]accounting.SyncRecord{retryable, exhausted}, nil)

	var persisted []accounting.SyncRecord
	f.syncRepo.On("Update", mock.Anything, mock.AnythingOfType("*accounting.SyncRecord"), mock.AnythingOfType("*accounting.SyncTransition")).
		Run(func(args mock.Arguments) {
			persisted = append(persisted, *args.Get(1).(*accounting.SyncRecord))
		}).
		Return(nil)

	n, err := f.svc.RecoverStaleAttempts(context.Background(), 100)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.Len(t, persisted, 2)
	assert.Equal(t, accounting.SyncStateFailedRetryable, persisted[0].State)
	assert.Equal(t, accounting.ReasonTimeout, persisted[0].LastReason)
	require.NotNil(t, persisted[0].NextAttemptAt)
	assert.Equal(t, accounting.SyncStateFailedPermanent, persisted[1].State, "spent attempt ceiling fails permanently")
}

func TestSyncService_EnqueueSync_CreatesAndSubmits(t *testing.T) {
	f := newSyncFixture()
	tenantID := uuid.New()
	invoice := testInvoice(tenantID)

	f.syncRepo.On("FindByInvoice", mock.Anything, tenantID, invoice.ID).
		Return(nil, accounting.ErrSyncRecordNotFound)
	f.invoiceRepo.On("FindByID", mock.Anything, tenantID, invoice.ID).Return(invoice, nil)
	f.syncRepo.On("Create", mock.Anything, mock.AnythingOfType("*accounting.SyncRecord")).Return(nil)
	f.queue.On("Submit", tenantID, invoice.ID).Return(nil)

	record, err := f.svc.EnqueueSync(context.Background(), tenantID, invoice.ID)
	require.NoError(t, err)
	assert.Equal(t, accounting.SyncStatePending, record.State)
	f.queue.AssertExpectations(t)
}

func TestSyncService_EnqueueSync_ExistingIsIdempotent(t *testing.T) {
	f := newSyncFixture()
	tenantID := uuid.New()
	invoiceID := uuid.New()
	existing := pendingRecord(t, tenantID, invoiceID)

	f.syncRepo.On("FindByInvoice", mock.Anything, tenantID, invoiceID).Return(existing, nil)
	f.queue.On("Submit", tenantID, invoiceID).Return(nil)

	record, err := f.svc.EnqueueSync(context.Background(), tenantID, invoiceID)
	require.NoError(t, err)
	assert.Same(t, existing, record)
	f.syncRepo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestSyncService_EnqueueSync_SucceededShortCircuits(t *testing.T) {
	f := newSyncFixture()
	tenantID := uuid.New()
	invoiceID := uuid.New()
	existing := pendingRecord(t, tenantID, invoiceID)
	existing.State = accounting.SyncStateSucceeded
	existing.ExternalBillID = "bill-1"

	f.syncRepo.On("FindByInvoice", mock.Anything, tenantID, invoiceID).Return(existing, nil)

	record, err := f.svc.EnqueueSync(context.Background(), tenantID, invoiceID)
	require.NoError(t, err)
	assert.Equal(t, accounting.SyncStateSucceeded, record.State)
	f.queue.AssertNotCalled(t, "Submit", mock.Anything, mock.Anything)
}

func TestSyncService_ResubmitDueRetries(t *testing.T) {
	f := newSyncFixture()
	tenantID := uuid.New()
	r1 := *pendingRecord(t, tenantID, uuid.New())
	r2 := *pendingRecord(t, tenantID, uuid.New())

	f.syncRepo.On("ListDueRetries", mock.Anything, mock.AnythingOfType("time.Time"), 100).
		Return([]accounting.SyncRecord{r1, r2}, nil)
	f.queue.On("Submit", tenantID, r1.InvoiceID).Return(nil)
	f.queue.On("Submit", tenantID, r2.InvoiceID).Return(nil)

	n, err := f.svc.ResubmitDueRetries(context.Background(), 100)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	f.queue.AssertExpectations(t)
}
