package accounting

import "errors"

// ---------------------------------------------------------------------------
// Sentinel Errors
// ---------------------------------------------------------------------------

var (
	// Connection / credential errors
	ErrConnectionNotFound  = errors.New("accounting: tenant connection not found")
	ErrConnectionNotActive = errors.New("accounting: tenant connection is not active")
	ErrInvalidState        = errors.New("accounting: oauth state nonce mismatched or expired")
	ErrAuthExpired         = errors.New("accounting: authorization expired, re-authorization required")
	ErrConnectionRevoked   = errors.New("accounting: tenant connection revoked")
	ErrConnectionSuspended = errors.New("accounting: tenant connection suspended")

	// Platform errors
	ErrPlatformAuthFailed      = errors.New("accounting: platform authentication failed")
	ErrPlatformRateLimited     = errors.New("accounting: platform rate limited")
	ErrPlatformUnavailable     = errors.New("accounting: platform temporarily unavailable")
	ErrPlatformTimeout         = errors.New("accounting: platform request timed out")
	ErrPlatformInvalidResponse = errors.New("accounting: invalid platform response")
	ErrPlatformValidation      = errors.New("accounting: platform rejected the request as invalid")
	ErrQuotaExceeded           = errors.New("accounting: platform quota exceeded")

	// Mapping errors
	ErrInvalidTenantID        = errors.New("accounting: invalid tenant ID")
	ErrInvalidInvoiceID       = errors.New("accounting: invalid invoice ID")
	ErrInvoiceNotFound        = errors.New("accounting: invoice not found")
	ErrInvalidVendorKey       = errors.New("accounting: invalid normalized vendor key")
	ErrInvalidCurrency        = errors.New("accounting: invalid ISO 4217 currency code")
	ErrVendorMappingNotFound  = errors.New("accounting: vendor mapping not found")
	ErrDefaultCategoryMissing = errors.New("accounting: tenant default expense category not configured")
	ErrReconciliationMismatch = errors.New("accounting: subtotal plus tax does not reconcile to total")

	// Sync errors
	ErrSyncRecordNotFound = errors.New("accounting: sync record not found")
	ErrIllegalTransition  = errors.New("accounting: illegal sync state transition")
	ErrDuplicateAmbiguous = errors.New("accounting: ambiguous duplicate bill, manual review required")
	ErrSyncAlreadyRunning = errors.New("accounting: sync attempt already in progress for invoice")
	ErrTenantPaused       = errors.New("accounting: sync paused for tenant by circuit breaker")
)

// ---------------------------------------------------------------------------
// FailureReason
// ---------------------------------------------------------------------------

// FailureReason categorizes a sync failure so retry, circuit-breaker and
// audit logic can branch on values instead of error types.
type FailureReason string

const (
	// ReasonNone indicates no failure
	ReasonNone FailureReason = ""
	// ReasonAuthExpired indicates refresh was exhausted and re-authorization is required
	ReasonAuthExpired FailureReason = "AUTH_EXPIRED"
	// ReasonRateLimited indicates the platform throttled the request
	ReasonRateLimited FailureReason = "RATE_LIMITED"
	// ReasonNetworkError indicates a network-level failure
	ReasonNetworkError FailureReason = "NETWORK_ERROR"
	// ReasonTimeout indicates the platform call exceeded its deadline
	ReasonTimeout FailureReason = "TIMEOUT"
	// ReasonValidationError indicates the bill draft failed validation
	ReasonValidationError FailureReason = "VALIDATION_ERROR"
	// ReasonReconciliationMismatch indicates subtotal+tax did not match total
	ReasonReconciliationMismatch FailureReason = "RECONCILIATION_MISMATCH"
	// ReasonDuplicateAmbiguous indicates an ambiguous duplicate needing manual review
	ReasonDuplicateAmbiguous FailureReason = "DUPLICATE_AMBIGUOUS"
	// ReasonQuotaExceeded indicates sustained quota exhaustion on the platform
	ReasonQuotaExceeded FailureReason = "QUOTA_EXCEEDED"
)

// String returns the string representation of FailureReason
func (r FailureReason) String() string {
	return string(r)
}

// IsTransient returns true if a failure with this reason should be retried
// with backoff rather than terminally failing the sync.
func (r FailureReason) IsTransient() bool {
	switch r {
	case ReasonRateLimited, ReasonNetworkError, ReasonTimeout, ReasonQuotaExceeded:
		return true
	default:
		return false
	}
}

// ClassifyError maps an error returned by the platform or the credential
// manager to a FailureReason. Unknown errors are treated as network errors
// so they stay on the retry path.
func ClassifyError(err error) FailureReason {
	switch {
	case err == nil:
		return ReasonNone
	case errors.Is(err, ErrAuthExpired), errors.Is(err, ErrPlatformAuthFailed),
		errors.Is(err, ErrConnectionRevoked), errors.Is(err, ErrConnectionSuspended):
		return ReasonAuthExpired
	case errors.Is(err, ErrQuotaExceeded):
		return ReasonQuotaExceeded
	case errors.Is(err, ErrPlatformRateLimited):
		return ReasonRateLimited
	case errors.Is(err, ErrPlatformTimeout):
		return ReasonTimeout
	case errors.Is(err, ErrReconciliationMismatch):
		return ReasonReconciliationMismatch
	case errors.Is(err, ErrDuplicateAmbiguous):
		return ReasonDuplicateAmbiguous
	case errors.Is(err, ErrPlatformValidation), errors.Is(err, ErrInvalidCurrency),
		errors.Is(err, ErrDefaultCategoryMissing):
		return ReasonValidationError
	default:
		return ReasonNetworkError
	}
}
