package accounting

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/vritti/backend/internal/domain/accounting"
)

// ---------------------------------------------------------------------------
// Repository Mocks
// ---------------------------------------------------------------------------

// MockConnectionRepository is a mock implementation of ConnectionRepository
type MockConnectionRepository struct {
	mock.Mock
}

func (m *MockConnectionRepository) Save(ctx context.Context, conn *accounting.TenantConnection) error {
	args := m.Called(ctx, conn)
	return args.Error(0)
}

func (m *MockConnectionRepository) FindByTenant(ctx context.Context, tenantID uuid.UUID) (*accounting.TenantConnection, error) {
	args := m.Called(ctx, tenantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*accounting.TenantConnection), args.Error(1)
}

func (m *MockConnectionRepository) UpdateStatus(ctx context.Context, tenantID uuid.UUID, status accounting.ConnectionStatus) error {
	args := m.Called(ctx, tenantID, status)
	return args.Error(0)
}

// MockVendorMappingRepository is a mock implementation of VendorMappingRepository
type MockVendorMappingRepository struct {
	mock.Mock
}

func (m *MockVendorMappingRepository) Save(ctx context.Context, mapping *accounting.VendorMapping) error {
	args := m.Called(ctx, mapping)
	return args.Error(0)
}

func (m *MockVendorMappingRepository) FindByKey(ctx context.Context, tenantID uuid.UUID, normalizedKey string) (*accounting.VendorMapping, error) {
	args := m.Called(ctx, tenantID, normalizedKey)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*accounting.VendorMapping), args.Error(1)
}

func (m *MockVendorMappingRepository) FindCurrentForTenant(ctx context.Context, tenantID uuid.UUID) ([]accounting.VendorMapping, error) {
	args := m.Called(ctx, tenantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]accounting.VendorMapping), args.Error(1)
}

// MockMappingConfigRepository is a mock implementation of MappingConfigRepository
type MockMappingConfigRepository struct {
	mock.Mock
}

func (m *MockMappingConfigRepository) FindByTenant(ctx context.Context, tenantID uuid.UUID) (accounting.TenantMappingConfig, error) {
	args := m.Called(ctx, tenantID)
	return args.Get(0).(accounting.TenantMappingConfig), args.Error(1)
}

// MockSyncRecordRepository is a mock implementation of SyncRecordRepository
type MockSyncRecordRepository struct {
	mock.Mock
}

func (m *MockSyncRecordRepository) Create(ctx context.Context, record *accounting.SyncRecord) error {
	args := m.Called(ctx, record)
	return args.Error(0)
}

func (m *MockSyncRecordRepository) Update(ctx context.Context, record *accounting.SyncRecord, transition *accounting.SyncTransition) error {
	args := m.Called(ctx, record, transition)
	return args.Error(0)
}

func (m *MockSyncRecordRepository) FindByInvoice(ctx context.Context, tenantID, invoiceID uuid.UUID) (*accounting.SyncRecord, error) {
	args := m.Called(ctx, tenantID, invoiceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*accounting.SyncRecord), args.Error(1)
}

func (m *MockSyncRecordRepository) FindSucceededBySignature(ctx context.Context, tenantID uuid.UUID, vendorKey, docNumber, total string) (*accounting.SyncRecord, error) {
	args := m.Called(ctx, tenantID, vendorKey, docNumber, total)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*accounting.SyncRecord), args.Error(1)
}

func (m *MockSyncRecordRepository) ListSucceededByVendor(ctx context.Context, tenantID uuid.UUID, vendorKey string, since time.Time) ([]accounting.SyncRecord, error) {
	args := m.Called(ctx, tenantID, vendorKey, since)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]accounting.SyncRecord), args.Error(1)
}

func (m *MockSyncRecordRepository) ListFailures(ctx context.Context, tenantID uuid.UUID, filter accounting.FailureFilter) ([]accounting.SyncRecord, int64, error) {
	args := m.Called(ctx, tenantID, filter)
	if args.Get(0) == nil {
		return nil, args.Get(1).(int64), args.Error(2)
	}
	return args.Get(0).([]accounting.SyncRecord), args.Get(1).(int64), args.Error(2)
}

func (m *MockSyncRecordRepository) ListDueRetries(ctx context.Context, now time.Time, limit int) ([]accounting.SyncRecord, error) {
	args := m.Called(ctx, now, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]accounting.SyncRecord), args.Error(1)
}

func (m *MockSyncRecordRepository) ListStaleInProgress(ctx context.Context, cutoff time.Time, limit int) ([]accounting.SyncRecord, error) {
	args := m.Called(ctx, cutoff, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]accounting.SyncRecord), args.Error(1)
}

func (m *MockSyncRecordRepository) History(ctx context.Context, tenantID, invoiceID uuid.UUID) ([]accounting.SyncTransition, error) {
	args := m.Called(ctx, tenantID, invoiceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]accounting.SyncTransition), args.Error(1)
}

// MockInvoiceRepository is a mock implementation of InvoiceRepository
type MockInvoiceRepository struct {
	mock.Mock
}

func (m *MockInvoiceRepository) FindByID(ctx context.Context, tenantID, invoiceID uuid.UUID) (*accounting.Invoice, error) {
	args := m.Called(ctx, tenantID, invoiceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*accounting.Invoice), args.Error(1)
}

// ---------------------------------------------------------------------------
// Credential Port Mocks
// ---------------------------------------------------------------------------

// MockOAuthTokenClient is a mock implementation of OAuthTokenClient
type MockOAuthTokenClient struct {
	mock.Mock
}

func (m *MockOAuthTokenClient) AuthorizeURL(state string) string {
	args := m.Called(state)
	return args.String(0)
}

func (m *MockOAuthTokenClient) Exchange(ctx context.Context, code, externalCompanyID string) (*accounting.TokenSet, error) {
	args := m.Called(ctx, code, externalCompanyID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*accounting.TokenSet), args.Error(1)
}

func (m *MockOAuthTokenClient) Refresh(ctx context.Context, refreshToken string) (*accounting.TokenSet, error) {
	args := m.Called(ctx, refreshToken)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*accounting.TokenSet), args.Error(1)
}

func (m *MockOAuthTokenClient) Revoke(ctx context.Context, refreshToken string) error {
	args := m.Called(ctx, refreshToken)
	return args.Error(0)
}

// MockTokenCipher is a mock implementation of TokenCipher
type MockTokenCipher struct {
	mock.Mock
}

func (m *MockTokenCipher) Encrypt(plaintext string) ([]byte, error) {
	args := m.Called(plaintext)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *MockTokenCipher) Decrypt(ciphertext []byte) (string, error) {
	args := m.Called(ciphertext)
	return args.String(0), args.Error(1)
}

// MockStateStore is a mock implementation of StateStore
type MockStateStore struct {
	mock.Mock
}

func (m *MockStateStore) Put(ctx context.Context, tenantID uuid.UUID, state string, ttl time.Duration) error {
	args := m.Called(ctx, tenantID, state, ttl)
	return args.Error(0)
}

func (m *MockStateStore) Consume(ctx context.Context, tenantID uuid.UUID, state string) (bool, error) {
	args := m.Called(ctx, tenantID, state)
	return args.Bool(0), args.Error(1)
}

// ---------------------------------------------------------------------------
// Platform Mock
// ---------------------------------------------------------------------------

// MockAccountingPlatform is a mock implementation of AccountingPlatform
type MockAccountingPlatform struct {
	mock.Mock
}

func (m *MockAccountingPlatform) CreateVendor(ctx context.Context, creds accounting.CallCredentials, req *accounting.CreateVendorRequest) (*accounting.CreateVendorResponse, error) {
	args := m.Called(ctx, creds, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*accounting.CreateVendorResponse), args.Error(1)
}

func (m *MockAccountingPlatform) QueryVendors(ctx context.Context, creds accounting.CallCredentials, req *accounting.QueryVendorsRequest) ([]accounting.PlatformVendor, error) {
	args := m.Called(ctx, creds, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]accounting.PlatformVendor), args.Error(1)
}

func (m *MockAccountingPlatform) CreateBill(ctx context.Context, creds accounting.CallCredentials, req *accounting.CreateBillRequest) (*accounting.CreateBillResponse, error) {
	args := m.Called(ctx, creds, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*accounting.CreateBillResponse), args.Error(1)
}

func (m *MockAccountingPlatform) FindBill(ctx context.Context, creds accounting.CallCredentials, req *accounting.FindBillRequest) (*accounting.FindBillResponse, error) {
	args := m.Called(ctx, creds, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*accounting.FindBillResponse), args.Error(1)
}

// ---------------------------------------------------------------------------
// Orchestration Port Mocks
// ---------------------------------------------------------------------------

// MockRateGate is a mock implementation of RateGate
type MockRateGate struct {
	mock.Mock
}

func (m *MockRateGate) Wait(ctx context.Context, tenantID uuid.UUID) error {
	args := m.Called(ctx, tenantID)
	return args.Error(0)
}

// MockBreaker is a mock implementation of Breaker
type MockBreaker struct {
	mock.Mock
}

func (m *MockBreaker) Allow(tenantID uuid.UUID) error {
	args := m.Called(tenantID)
	return args.Error(0)
}

func (m *MockBreaker) RecordSuccess(tenantID uuid.UUID) {
	m.Called(tenantID)
}

func (m *MockBreaker) RecordFailure(tenantID uuid.UUID) {
	m.Called(tenantID)
}

// MockJobQueue is a mock implementation of JobQueue
type MockJobQueue struct {
	mock.Mock
}

func (m *MockJobQueue) Submit(tenantID, invoiceID uuid.UUID) error {
	args := m.Called(tenantID, invoiceID)
	return args.Error(0)
}

// MockCredentialProvider is a mock implementation of CredentialProvider
type MockCredentialProvider struct {
	mock.Mock
}

func (m *MockCredentialProvider) GetValidToken(ctx context.Context, tenantID uuid.UUID) (accounting.CallCredentials, error) {
	args := m.Called(ctx, tenantID)
	return args.Get(0).(accounting.CallCredentials), args.Error(1)
}

// MockDuplicateChecker is a mock implementation of DuplicateChecker
type MockDuplicateChecker struct {
	mock.Mock
}

func (m *MockDuplicateChecker) Check(ctx context.Context, creds accounting.CallCredentials, record *accounting.SyncRecord, draft *accounting.BillDraft) (*DedupResult, error) {
	args := m.Called(ctx, creds, record, draft)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*DedupResult), args.Error(1)
}

// fixedRetryPolicy is a deterministic RetryPolicy for tests
type fixedRetryPolicy struct {
	delay    time.Duration
	attempts int
}

func (p fixedRetryPolicy) NextDelay(int) time.Duration { return p.delay }
func (p fixedRetryPolicy) MaxAttempts() int            { return p.attempts }

// noopKeyLocker is a VendorKeyLocker that never blocks
type noopKeyLocker struct{}

func (noopKeyLocker) Lock(uuid.UUID, string) func() { return func() {} }
