package accounting

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSyncRecord(t *testing.T) {
	tenantID := uuid.New()
	invoiceID := uuid.New()

	record, err := NewSyncRecord(tenantID, invoiceID)
	require.NoError(t, err)

	assert.Equal(t, SyncStatePending, record.State)
	assert.Equal(t, 0, record.AttemptCount)
	assert.Equal(t, tenantID.String()+":"+invoiceID.String(), record.IdempotencyKey)
}

func TestNewSyncRecord_InvalidIDs(t *testing.T) {
	_, err := NewSyncRecord(uuid.Nil, uuid.New())
	assert.ErrorIs(t, err, ErrInvalidTenantID)

	_, err = NewSyncRecord(uuid.New(), uuid.Nil)
	assert.ErrorIs(t, err, ErrInvalidInvoiceID)
}

func TestSyncState_CanTransitionTo(t *testing.T) {
	tests := []struct {
		name    string
		from    SyncState
		to      SyncState
		allowed bool
	}{
		{"pending to in progress", SyncStatePending, SyncStateInProgress, true},
		{"in progress to succeeded", SyncStateInProgress, SyncStateSucceeded, true},
		{"in progress to retryable", SyncStateInProgress, SyncStateFailedRetryable, true},
		{"in progress to permanent", SyncStateInProgress, SyncStateFailedPermanent, true},
		{"retryable to in progress", SyncStateFailedRetryable, SyncStateInProgress, true},
		{"retryable to permanent", SyncStateFailedRetryable, SyncStateFailedPermanent, true},
		{"succeeded is terminal", SyncStateSucceeded, SyncStateInProgress, false},
		{"permanent is terminal", SyncStateFailedPermanent, SyncStateInProgress, false},
		{"pending cannot succeed directly", SyncStatePending, SyncStateSucceeded, false},
		{"pending cannot fail directly", SyncStatePending, SyncStateFailedRetryable, false},
		{"in progress cannot go back to pending", SyncStateInProgress, SyncStatePending, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.allowed, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestSyncRecord_Transition_Illegal(t *testing.T) {
	record, err := NewSyncRecord(uuid.New(), uuid.New())
	require.NoError(t, err)

	_, err = record.Transition(SyncStateSucceeded, ReasonNone, "")
	assert.ErrorIs(t, err, ErrIllegalTransition)
	assert.Equal(t, SyncStatePending, record.State, "state must not change on illegal transition")
}

func TestSyncRecord_Transition_AttemptCounting(t *testing.T) {
	record, err := NewSyncRecord(uuid.New(), uuid.New())
	require.NoError(t, err)

	tr, err := record.Transition(SyncStateInProgress, ReasonNone, "")
	require.NoError(t, err)
	assert.Equal(t, 1, record.AttemptCount)
	assert.Equal(t, SyncStatePending, tr.FromState)
	assert.Equal(t, SyncStateInProgress, tr.ToState)
	assert.NotNil(t, record.LastAttemptAt)

	_, err = record.Transition(SyncStateFailedRetryable, ReasonTimeout, "context deadline exceeded")
	require.NoError(t, err)
	assert.Equal(t, ReasonTimeout, record.LastReason)
	assert.Equal(t, "context deadline exceeded", record.LastError)

	_, err = record.Transition(SyncStateInProgress, ReasonNone, "")
	require.NoError(t, err)
	assert.Equal(t, 2, record.AttemptCount)
}

func TestSyncRecord_Transition_Succeeded(t *testing.T) {
	record, err := NewSyncRecord(uuid.New(), uuid.New())
	require.NoError(t, err)

	_, err = record.Transition(SyncStateInProgress, ReasonNone, "")
	require.NoError(t, err)

	record.RecordSuccess("bill-1042")
	tr, err := record.Transition(SyncStateSucceeded, ReasonNone, "")
	require.NoError(t, err)

	assert.Equal(t, "bill-1042", record.ExternalBillID)
	assert.Empty(t, record.LastError)
	assert.NotNil(t, record.CompletedAt)
	assert.Equal(t, 1, tr.Attempt)
}

func TestSyncRecord_Transition_PermanentKeepsLastError(t *testing.T) {
	record, err := NewSyncRecord(uuid.New(), uuid.New())
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err = record.Transition(SyncStateInProgress, ReasonNone, "")
		require.NoError(t, err)
		_, err = record.Transition(SyncStateFailedRetryable, ReasonNetworkError, "connection refused")
		require.NoError(t, err)
	}

	_, err = record.Transition(SyncStateFailedPermanent, ReasonNetworkError, "connection refused")
	require.NoError(t, err)

	assert.Equal(t, 5, record.AttemptCount)
	assert.Equal(t, "connection refused", record.LastError)
	assert.True(t, record.State.IsTerminal())
	assert.NotNil(t, record.CompletedAt)
}

func TestSyncRecord_ScheduleRetry(t *testing.T) {
	record, err := NewSyncRecord(uuid.New(), uuid.New())
	require.NoError(t, err)

	at := time.Now().Add(4 * time.Second)
	record.ScheduleRetry(at)
	require.NotNil(t, record.NextAttemptAt)
	assert.Equal(t, at, *record.NextAttemptAt)

	// Starting the next attempt clears the schedule.
	_, err = record.Transition(SyncStateInProgress, ReasonNone, "")
	require.NoError(t, err)
	assert.Nil(t, record.NextAttemptAt)
}

func TestFailureReason_IsTransient(t *testing.T) {
	assert.True(t, ReasonRateLimited.IsTransient())
	assert.True(t, ReasonNetworkError.IsTransient())
	assert.True(t, ReasonTimeout.IsTransient())
	assert.True(t, ReasonQuotaExceeded.IsTransient())

	assert.False(t, ReasonAuthExpired.IsTransient())
	assert.False(t, ReasonValidationError.IsTransient())
	assert.False(t, ReasonReconciliationMismatch.IsTransient())
	assert.False(t, ReasonDuplicateAmbiguous.IsTransient())
}

func TestClassifyError(t *testing.T) {
	assert.Equal(t, ReasonAuthExpired, ClassifyError(ErrAuthExpired))
	assert.Equal(t, ReasonAuthExpired, ClassifyError(ErrPlatformAuthFailed))
	assert.Equal(t, ReasonRateLimited, ClassifyError(ErrPlatformRateLimited))
	assert.Equal(t, ReasonQuotaExceeded, ClassifyError(ErrQuotaExceeded))
	assert.Equal(t, ReasonTimeout, ClassifyError(ErrPlatformTimeout))
	assert.Equal(t, ReasonReconciliationMismatch, ClassifyError(ErrReconciliationMismatch))
	assert.Equal(t, ReasonDuplicateAmbiguous, ClassifyError(ErrDuplicateAmbiguous))
	assert.Equal(t, ReasonValidationError, ClassifyError(ErrPlatformValidation))
	assert.Equal(t, ReasonNone, ClassifyError(nil))
	assert.Equal(t, ReasonNetworkError, ClassifyError(assert.AnError))
}
