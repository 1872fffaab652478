package accounting

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// SyncState
// ---------------------------------------------------------------------------

// SyncState represents the synchronization state of one invoice
type SyncState string

const (
	// SyncStatePending indicates the sync is queued and not yet started
	SyncStatePending SyncState = "PENDING"
	// SyncStateInProgress indicates an attempt is currently executing
	SyncStateInProgress SyncState = "IN_PROGRESS"
	// SyncStateSucceeded indicates the bill was posted (terminal)
	SyncStateSucceeded SyncState = "SUCCEEDED"
	// SyncStateFailedRetryable indicates a transient failure awaiting retry
	SyncStateFailedRetryable SyncState = "FAILED_RETRYABLE"
	// SyncStateFailedPermanent indicates a terminal failure (terminal)
	SyncStateFailedPermanent SyncState = "FAILED_PERMANENT"
)

// IsValid returns true if the state is valid
func (s SyncState) IsValid() bool {
	switch s {
	case SyncStatePending, SyncStateInProgress, SyncStateSucceeded,
		SyncStateFailedRetryable, SyncStateFailedPermanent:
		return true
	default:
		return false
	}
}

// String returns the string representation of SyncState
func (s SyncState) String() string {
	return string(s)
}

// IsTerminal returns true for states with no outgoing transitions
func (s SyncState) IsTerminal() bool {
	return s == SyncStateSucceeded || s == SyncStateFailedPermanent
}

// legalTransitions is the per-invoice state machine. Any transition not
// listed here is rejected with ErrIllegalTransition.
var legalTransitions = map[SyncState][]SyncState{
	SyncStatePending:         {SyncStateInProgress},
	SyncStateInProgress:      {SyncStateSucceeded, SyncStateFailedRetryable, SyncStateFailedPermanent},
	SyncStateFailedRetryable: {SyncStateInProgress, SyncStateFailedPermanent},
}

// CanTransitionTo returns true if the transition s -> next is legal
func (s SyncState) CanTransitionTo(next SyncState) bool {
	for _, allowed := range legalTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ---------------------------------------------------------------------------
// SyncRecord Entity
// ---------------------------------------------------------------------------

// SyncRecord tracks the sync lifecycle of exactly one invoice. There is one
// record per invoice; all state changes go through Transition so the state
// machine is enforced in a single place.
type SyncRecord struct {
	// ID is the unique identifier of this record
	ID uuid.UUID
	// InvoiceID is the synced invoice (unique)
	InvoiceID uuid.UUID
	// TenantID is the tenant this record belongs to
	TenantID uuid.UUID
	// State is the current sync state
	State SyncState
	// AttemptCount is the number of attempts started so far
	AttemptCount int
	// LastError is the error detail of the most recent failure
	LastError string
	// LastReason categorizes the most recent failure
	LastReason FailureReason
	// IdempotencyKey is tenant_id + invoice_id
	IdempotencyKey string
	// ExternalBillID is the bill ID on the accounting system, set on success
	ExternalBillID string
	// VendorKey is the normalized vendor key of the mapped bill (signature)
	VendorKey string
	// DocNumber is the invoice number of the mapped bill (signature)
	DocNumber string
	// TotalAmount is the bill total as a fixed 2dp string (signature)
	TotalAmount string
	// TxnDate is the bill transaction date (signature)
	TxnDate *time.Time
	// NextAttemptAt is when the next retry becomes due (FAILED_RETRYABLE only)
	NextAttemptAt *time.Time
	// CreatedAt is when the record was created
	CreatedAt time.Time
	// LastAttemptAt is when the most recent attempt started
	LastAttemptAt *time.Time
	// CompletedAt is when the record reached a terminal state
	CompletedAt *time.Time
	// UpdatedAt is when the record was last updated
	UpdatedAt time.Time
}

// NewSyncRecord creates a PENDING sync record for an invoice
func NewSyncRecord(tenantID, invoiceID uuid.UUID) (*SyncRecord, error) {
	if tenantID == uuid.Nil {
		return nil, ErrInvalidTenantID
	}
	if invoiceID == uuid.Nil {
		return nil, ErrInvalidInvoiceID
	}
	now := time.Now()
	return &SyncRecord{
		ID:             uuid.New(),
		InvoiceID:      invoiceID,
		TenantID:       tenantID,
		State:          SyncStatePending,
		IdempotencyKey: tenantID.String() + ":" + invoiceID.String(),
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// Transition moves the record to the next state, returning the transition
// log entry to append. Illegal transitions return ErrIllegalTransition.
func (r *SyncRecord) Transition(next SyncState, reason FailureReason, errDetail string) (*SyncTransition, error) {
	if !r.State.CanTransitionTo(next) {
		return nil, ErrIllegalTransition
	}
	now := time.Now()
	from := r.State
	r.State = next
	r.UpdatedAt = now

	switch next {
	case SyncStateInProgress:
		r.AttemptCount++
		r.LastAttemptAt = &now
		r.NextAttemptAt = nil
	case SyncStateSucceeded:
		r.LastError = ""
		r.LastReason = ReasonNone
		r.CompletedAt = &now
	case SyncStateFailedRetryable:
		r.LastError = errDetail
		r.LastReason = reason
	case SyncStateFailedPermanent:
		r.LastError = errDetail
		r.LastReason = reason
		r.CompletedAt = &now
	}

	return &SyncTransition{
		ID:        uuid.New(),
		InvoiceID: r.InvoiceID,
		TenantID:  r.TenantID,
		FromState: from,
		ToState:   next,
		Reason:    reason,
		Error:     errDetail,
		Attempt:   r.AttemptCount,
		CreatedAt: now,
	}, nil
}

// ScheduleRetry sets when the next attempt becomes due
func (r *SyncRecord) ScheduleRetry(at time.Time) {
	r.NextAttemptAt = &at
	r.UpdatedAt = time.Now()
}

// RecordSuccess stores the external bill ID alongside the SUCCEEDED transition
func (r *SyncRecord) RecordSuccess(externalBillID string) {
	r.ExternalBillID = externalBillID
	r.UpdatedAt = time.Now()
}

// SetSignature records the mapped bill's dedup signature on the snapshot
func (r *SyncRecord) SetSignature(vendorKey, docNumber, total string, txnDate time.Time) {
	r.VendorKey = vendorKey
	r.DocNumber = docNumber
	r.TotalAmount = total
	r.TxnDate = &txnDate
	r.UpdatedAt = time.Now()
}

// ---------------------------------------------------------------------------
// SyncTransition (Audit Log Entry)
// ---------------------------------------------------------------------------

// SyncTransition is one append-only entry in the per-invoice transition log
type SyncTransition struct {
	// ID is the unique identifier of this entry
	ID uuid.UUID
	// InvoiceID is the invoice whose state changed
	InvoiceID uuid.UUID
	// TenantID is the tenant the invoice belongs to
	TenantID uuid.UUID
	// FromState is the state before the transition
	FromState SyncState
	// ToState is the state after the transition
	ToState SyncState
	// Reason categorizes a failure transition
	Reason FailureReason
	// Error is the error detail, if any
	Error string
	// Attempt is the attempt count at the time of the transition
	Attempt int
	// CreatedAt is when the transition happened
	CreatedAt time.Time
}

// ---------------------------------------------------------------------------
// Repository Interfaces
// ---------------------------------------------------------------------------

// FailureFilter defines filter criteria for listing failed syncs
type FailureFilter struct {
	// Reason filters by failure reason (optional)
	Reason *FailureReason
	// Since filters records that failed after this time (optional)
	Since *time.Time
	// Page number (1-indexed)
	Page int
	// Page size
	PageSize int
}

// SyncRecordRepository defines the interface for persisting sync records and
// their append-only transition log. Update persists the snapshot and appends
// the transition in one transaction, so the log never disagrees with the
// current state.
type SyncRecordRepository interface {
	// Create inserts a new PENDING record; a unique violation on invoice_id
	// means a record already exists and the caller should re-read it
	Create(ctx context.Context, record *SyncRecord) error

	// Update persists the record snapshot and appends the transition
	// atomically. A nil transition updates the snapshot only.
	Update(ctx context.Context, record *SyncRecord, transition *SyncTransition) error

	// FindByInvoice finds the record for an invoice
	FindByInvoice(ctx context.Context, tenantID, invoiceID uuid.UUID) (*SyncRecord, error)

	// FindSucceededBySignature finds a SUCCEEDED record matching a bill
	// signature (vendor key, doc number, total as fixed 2dp string)
	FindSucceededBySignature(ctx context.Context, tenantID uuid.UUID, vendorKey, docNumber, total string) (*SyncRecord, error)

	// ListSucceededByVendor returns SUCCEEDED records for a vendor key with a
	// transaction date at or after since, for near-duplicate detection
	ListSucceededByVendor(ctx context.Context, tenantID uuid.UUID, vendorKey string, since time.Time) ([]SyncRecord, error)

	// ListFailures pages over FAILED_RETRYABLE and FAILED_PERMANENT records
	ListFailures(ctx context.Context, tenantID uuid.UUID, filter FailureFilter) ([]SyncRecord, int64, error)

	// ListDueRetries returns FAILED_RETRYABLE records whose NextAttemptAt has passed
	ListDueRetries(ctx context.Context, now time.Time, limit int) ([]SyncRecord, error)

	// ListStaleInProgress returns IN_PROGRESS records whose attempt started
	// before cutoff, for crash recovery
	ListStaleInProgress(ctx context.Context, cutoff time.Time, limit int) ([]SyncRecord, error)

	// History returns the transition log for an invoice, oldest first
	History(ctx context.Context, tenantID, invoiceID uuid.UUID) ([]SyncTransition, error)
}
