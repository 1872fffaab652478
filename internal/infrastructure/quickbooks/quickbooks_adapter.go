package quickbooks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/vritti/backend/internal/domain/accounting"
)

const (
	// maxResponseSize limits the response body size to prevent memory exhaustion
	maxResponseSize = 10 * 1024 * 1024 // 10MB max response
	// qboDateLayout is the date format QBO uses for TxnDate and DueDate
	qboDateLayout = "2006-01-02"
	// faultCodeDuplicateDocNumber is QBO's validation code for a duplicate DocNumber
	faultCodeDuplicateDocNumber = "6140"
)

// QuickBooksAdapter implements the AccountingPlatform interface for
// QuickBooks Online. Per-tenant credentials arrive on every call; the adapter
// itself is tenant-agnostic and safe for concurrent use.
type QuickBooksAdapter struct {
	config     *QuickBooksConfig
	httpClient *http.Client
	logger     *zap.Logger
}

var _ accounting.AccountingPlatform = (*QuickBooksAdapter)(nil)

// NewQuickBooksAdapter creates a new QuickBooks adapter with the given configuration
func NewQuickBooksAdapter(config *QuickBooksConfig, logger *zap.Logger) (*QuickBooksAdapter, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &QuickBooksAdapter{
		config: config,
		httpClient: &http.Client{
			Timeout: time.Duration(config.TimeoutSeconds) * time.Second,
		},
		logger: logger.Named("quickbooks"),
	}, nil
}

// ---------------------------------------------------------------------------
// Vendor Operations
// ---------------------------------------------------------------------------

// CreateVendor creates a vendor on QBO
func (a *QuickBooksAdapter) CreateVendor(ctx context.Context, creds accounting.CallCredentials, req *accounting.CreateVendorRequest) (*accounting.CreateVendorResponse, error) {
	body := qboVendor{DisplayName: req.DisplayName, Active: true}

	respBody, err := a.doRequest(ctx, creds, "POST", "/vendor", nil, body)
	if err != nil {
		return nil, err
	}

	var parsed qboVendorResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil || parsed.Vendor.ID == "" {
		return nil, fmt.Errorf("%w: vendor create response", accounting.ErrPlatformInvalidResponse)
	}

	return &accounting.CreateVendorResponse{
		VendorID:    parsed.Vendor.ID,
		DisplayName: parsed.Vendor.DisplayName,
	}, nil
}

// QueryVendors lists vendors whose display name starts with the given prefix
func (a *QuickBooksAdapter) QueryVendors(ctx context.Context, creds accounting.CallCredentials, req *accounting.QueryVendorsRequest) ([]accounting.PlatformVendor, error) {
	maxResults := req.MaxResults
	if maxResults <= 0 {
		maxResults = 100
	}
	query := fmt.Sprintf("select * from Vendor where DisplayName like '%s%%' maxresults %d",
		escapeQueryLiteral(req.NamePrefix), maxResults)

	respBody, err := a.doQuery(ctx, creds, query)
	if err != nil {
		return nil, err
	}

	var parsed qboVendorQueryResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("%w: vendor query response", accounting.ErrPlatformInvalidResponse)
	}

	vendors := make([]accounting.PlatformVendor, 0, len(parsed.QueryResponse.Vendor))
	for _, v := range parsed.QueryResponse.Vendor {
		vendors = append(vendors, accounting.PlatformVendor{
			VendorID:    v.ID,
			DisplayName: v.DisplayName,
			Active:      v.Active,
		})
	}
	return vendors, nil
}

// ---------------------------------------------------------------------------
// Bill Operations
// ---------------------------------------------------------------------------

// CreateBill posts a bill. The idempotency key rides along twice: as the QBO
// request ID, which makes retries of the same posting return the original
// response, and in PrivateNote so FindBill can locate the bill later.
func (a *QuickBooksAdapter) CreateBill(ctx context.Context, creds accounting.CallCredentials, req *accounting.CreateBillRequest) (*accounting.CreateBillResponse, error) {
	bill := qboBill{
		VendorRef:   qboRef{Value: req.VendorID},
		DocNumber:   req.DocNumber,
		TxnDate:     req.TxnDate.Format(qboDateLayout),
		PrivateNote: req.IdempotencyKey,
		Line:        make([]qboBillLine, 0, len(req.Lines)),
	}
	if req.DueDate != nil {
		bill.DueDate = req.DueDate.Format(qboDateLayout)
	}
	if req.Currency != "" {
		bill.CurrencyRef = &qboRef{Value: req.Currency}
	}
	for _, line := range req.Lines {
		l := qboBillLine{
			Description: line.Description,
			Amount:      line.Amount.InexactFloat64(),
			DetailType:  "AccountBasedExpenseLineDetail",
		}
		l.Detail.AccountRef = qboRef{Value: line.CategoryRef}
		bill.Line = append(bill.Line, l)
	}

	params := url.Values{"requestid": {req.IdempotencyKey}}
	respBody, err := a.doRequest(ctx, creds, "POST", "/bill", params, bill)
	if err != nil {
		// A duplicate DocNumber fault usually means an earlier attempt posted
		// the bill but the response was lost. Recover it by idempotency key.
		if isDuplicateDocNumberFault(err) {
			found, findErr := a.FindBill(ctx, creds, &accounting.FindBillRequest{IdempotencyKey: req.IdempotencyKey})
			if findErr == nil && found.Found {
				return &accounting.CreateBillResponse{BillID: found.BillID, Duplicate: true}, nil
			}
		}
		return nil, err
	}

	var parsed qboBillResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil || parsed.Bill.ID == "" {
		return nil, fmt.Errorf("%w: bill create response", accounting.ErrPlatformInvalidResponse)
	}

	return &accounting.CreateBillResponse{BillID: parsed.Bill.ID}, nil
}

// FindBill looks up an existing bill by idempotency key
func (a *QuickBooksAdapter) FindBill(ctx context.Context, creds accounting.CallCredentials, req *accounting.FindBillRequest) (*accounting.FindBillResponse, error) {
	query := fmt.Sprintf("select Id from Bill where PrivateNote = '%s'", escapeQueryLiteral(req.IdempotencyKey))

	respBody, err := a.doQuery(ctx, creds, query)
	if err != nil {
		return nil, err
	}

	var parsed qboBillQueryResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("%w: bill query response", accounting.ErrPlatformInvalidResponse)
	}

	if len(parsed.QueryResponse.Bill) == 0 {
		return &accounting.FindBillResponse{Found: false}, nil
	}
	return &accounting.FindBillResponse{Found: true, BillID: parsed.QueryResponse.Bill[0].ID}, nil
}

// ---------------------------------------------------------------------------
// Transport
// ---------------------------------------------------------------------------

// doQuery performs a QBO SQL-ish query request
func (a *QuickBooksAdapter) doQuery(ctx context.Context, creds accounting.CallCredentials, query string) ([]byte, error) {
	params := url.Values{"query": {query}}
	return a.doRequest(ctx, creds, "GET", "/query", params, nil)
}

// doRequest performs an HTTP request against the QBO company endpoint and
// maps transport and status failures onto the domain sentinel errors.
func (a *QuickBooksAdapter) doRequest(ctx context.Context, creds accounting.CallCredentials, method, path string, params url.Values, payload any) ([]byte, error) {
	endpoint := fmt.Sprintf("%s/v3/company/%s%s", a.config.APIBaseURL, url.PathEscape(creds.ExternalCompanyID), path)
	if params == nil {
		params = url.Values{}
	}
	params.Set("minorversion", a.config.MinorVersion)
	endpoint += "?" + params.Encode()

	var bodyReader io.Reader
	if payload != nil {
		bodyBytes, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("quickbooks: failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("quickbooks: failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+creds.AccessToken)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		if isTimeout(err) {
			return nil, fmt.Errorf("%w: %v", accounting.ErrPlatformTimeout, err)
		}
		return nil, fmt.Errorf("%w: %v", accounting.ErrPlatformUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %v", accounting.ErrPlatformInvalidResponse, err)
	}

	if resp.StatusCode >= 400 {
		return nil, a.mapStatusError(resp.StatusCode, body)
	}

	return body, nil
}

// mapStatusError converts a non-2xx QBO response into a sentinel error
func (a *QuickBooksAdapter) mapStatusError(status int, body []byte) error {
	detail := faultDetail(body)

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%w: HTTP %d: %s", accounting.ErrPlatformAuthFailed, status, detail)
	case status == http.StatusTooManyRequests:
		// QBO answers 429 both for per-minute throttling and for the daily
		// quota; only the latter names the quota in the fault message.
		if strings.Contains(strings.ToLower(detail), "quota") {
			return fmt.Errorf("%w: %s", accounting.ErrQuotaExceeded, detail)
		}
		return fmt.Errorf("%w: %s", accounting.ErrPlatformRateLimited, detail)
	case status >= 500:
		return fmt.Errorf("%w: HTTP %d", accounting.ErrPlatformUnavailable, status)
	default:
		a.logger.Warn("QBO rejected request",
			zap.Int("status", status),
			zap.String("detail", detail),
		)
		return fmt.Errorf("%w: %s", accounting.ErrPlatformValidation, detail)
	}
}

// faultDetail extracts a human-readable message (and leading error code) from
// a QBO fault envelope
func faultDetail(body []byte) string {
	var fault qboFaultResponse
	if err := json.Unmarshal(body, &fault); err != nil || len(fault.Fault.Error) == 0 {
		return "unrecognized fault"
	}
	first := fault.Fault.Error[0]
	if first.Detail != "" {
		return fmt.Sprintf("code %s: %s", first.Code, first.Detail)
	}
	return fmt.Sprintf("code %s: %s", first.Code, first.Message)
}

// isDuplicateDocNumberFault reports whether err carries QBO's duplicate
// DocNumber validation code
func isDuplicateDocNumberFault(err error) bool {
	return errors.Is(err, accounting.ErrPlatformValidation) &&
		strings.Contains(err.Error(), "code "+faultCodeDuplicateDocNumber)
}

// isTimeout reports whether a transport error was a timeout
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr) && urlErr.Timeout()
}

// escapeQueryLiteral escapes single quotes for QBO query string literals
func escapeQueryLiteral(s string) string {
	return strings.ReplaceAll(s, "'", "\\'")
}
