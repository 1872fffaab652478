package accounting

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// AccountingPlatform Port Interface
// ---------------------------------------------------------------------------

// CallCredentials carry the per-call authentication material for platform
// requests. The orchestrator obtains the token from the credential manager
// immediately before each call; adapters never cache it.
type CallCredentials struct {
	// AccessToken is the OAuth bearer token
	AccessToken string
	// ExternalCompanyID is the company (realm) on the accounting system
	ExternalCompanyID string
}

// CreateVendorRequest asks the platform to create a vendor
type CreateVendorRequest struct {
	// DisplayName is the vendor display name
	DisplayName string
}

// CreateVendorResponse is the result of creating a vendor
type CreateVendorResponse struct {
	// VendorID is the created vendor's ID on the platform
	VendorID string
	// DisplayName is the name as stored by the platform
	DisplayName string
}

// QueryVendorsRequest searches vendors by display name
type QueryVendorsRequest struct {
	// NamePrefix restricts results to names starting with this prefix (optional)
	NamePrefix string
	// MaxResults caps the number of returned vendors
	MaxResults int
}

// PlatformVendor is one vendor as known by the platform
type PlatformVendor struct {
	// VendorID is the vendor's ID on the platform
	VendorID string
	// DisplayName is the vendor display name
	DisplayName string
	// Active indicates whether the vendor is active
	Active bool
}

// CreateBillRequest asks the platform to create a bill
type CreateBillRequest struct {
	// IdempotencyKey suppresses duplicate postings on retries
	IdempotencyKey string
	// VendorID is the platform vendor the bill belongs to
	VendorID string
	// DocNumber is the vendor-assigned invoice number
	DocNumber string
	// TxnDate is the bill transaction date
	TxnDate time.Time
	// DueDate is the payment due date (optional)
	DueDate *time.Time
	// Currency is the ISO 4217 currency code
	Currency string
	// Lines are the bill lines
	Lines []CreateBillLine
	// TotalAmount is the bill total
	TotalAmount decimal.Decimal
}

// CreateBillLine is one line of a bill creation request
type CreateBillLine struct {
	// Description is the line description
	Description string
	// Amount is the line amount
	Amount decimal.Decimal
	// CategoryRef is the expense account reference
	CategoryRef string
}

// CreateBillResponse is the result of creating a bill
type CreateBillResponse struct {
	// BillID is the created bill's ID on the platform
	BillID string
	// Duplicate is true when the platform recognized the idempotency key and
	// returned the previously created bill instead of posting a new one
	Duplicate bool
}

// FindBillRequest looks up an existing bill by idempotency key
type FindBillRequest struct {
	// IdempotencyKey is the key the bill would have been posted under
	IdempotencyKey string
}

// FindBillResponse is the result of a bill lookup. BillID is empty when no
// bill exists for the key.
type FindBillResponse struct {
	// Found indicates whether a bill exists for the key
	Found bool
	// BillID is the existing bill's ID, when found
	BillID string
}

// AccountingPlatform defines the port interface for the external accounting
// system's REST API. Implementations live in the infrastructure layer and map
// transport failures onto the package's sentinel errors so the orchestrator
// can classify them without knowing the wire protocol.
type AccountingPlatform interface {
	// CreateVendor creates a vendor on the platform
	CreateVendor(ctx context.Context, creds CallCredentials, req *CreateVendorRequest) (*CreateVendorResponse, error)

	// QueryVendors lists vendors matching the request
	QueryVendors(ctx context.Context, creds CallCredentials, req *QueryVendorsRequest) ([]PlatformVendor, error)

	// CreateBill creates a bill, honoring the request's idempotency key
	CreateBill(ctx context.Context, creds CallCredentials, req *CreateBillRequest) (*CreateBillResponse, error)

	// FindBill looks up a bill previously posted under an idempotency key
	FindBill(ctx context.Context, creds CallCredentials, req *FindBillRequest) (*FindBillResponse, error)
}
