package quickbooks

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vritti/backend/internal/domain/accounting"
)

// ---------------------------------------------------------------------------
// Config Tests
// ---------------------------------------------------------------------------

func TestQuickBooksConfig_Validate(t *testing.T) {
	t.Run("fills defaults", func(t *testing.T) {
		config := &QuickBooksConfig{}
		require.NoError(t, config.Validate())
		assert.Equal(t, QuickBooksProductionAPIURL, config.APIBaseURL)
		assert.Equal(t, defaultMinorVersion, config.MinorVersion)
		assert.Equal(t, 30, config.TimeoutSeconds)
	})

	t.Run("sandbox defaults to sandbox URL", func(t *testing.T) {
		config := &QuickBooksConfig{IsSandbox: true}
		require.NoError(t, config.Validate())
		assert.Equal(t, QuickBooksSandboxAPIURL, config.APIBaseURL)
	})

	t.Run("keeps explicit values", func(t *testing.T) {
		config := &QuickBooksConfig{APIBaseURL: "https://example.test", MinorVersion: "70", TimeoutSeconds: 5}
		require.NoError(t, config.Validate())
		assert.Equal(t, "https://example.test", config.APIBaseURL)
		assert.Equal(t, "70", config.MinorVersion)
	})
}

// ---------------------------------------------------------------------------
// Test Helpers
// ---------------------------------------------------------------------------

func createTestAdapter(t *testing.T, serverURL string) *QuickBooksAdapter {
	t.Helper()
	adapter, err := NewQuickBooksAdapter(&QuickBooksConfig{APIBaseURL: serverURL, TimeoutSeconds: 5}, nil)
	require.NoError(t, err)
	return adapter
}

func testCredentials() accounting.CallCredentials {
	return accounting.CallCredentials{
		AccessToken:       "test-access-token",
		ExternalCompanyID: "realm-123",
	}
}

func writeFault(w http.ResponseWriter, status int, code, detail string) {
	var fault qboFaultResponse
	fault.Fault.Type = "ValidationFault"
	fault.Fault.Error = []struct {
		Message string `json:"Message"`
		Detail  string `json:"Detail"`
		Code    string `json:"code"`
	}{{Message: "error", Detail: detail, Code: code}}
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(fault)
}

// ---------------------------------------------------------------------------
// Vendor Tests
// ---------------------------------------------------------------------------

func TestQuickBooksAdapter_CreateVendor(t *testing.T) {
	t.Run("successful create", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "POST", r.Method)
			assert.Equal(t, "/v3/company/realm-123/vendor", r.URL.Path)
			assert.Equal(t, "Bearer test-access-token", r.Header.Get("Authorization"))
			assert.Equal(t, defaultMinorVersion, r.URL.Query().Get("minorversion"))

			var received qboVendor
			require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
			assert.Equal(t, "Acme Corp", received.DisplayName)

			json.NewEncoder(w).Encode(qboVendorResponse{
				Vendor: qboVendor{ID: "v-42", DisplayName: "Acme Corp", Active: true},
			})
		}))
		defer server.Close()

		adapter := createTestAdapter(t, server.URL)
		resp, err := adapter.CreateVendor(context.Background(), testCredentials(), &accounting.CreateVendorRequest{DisplayName: "Acme Corp"})
		require.NoError(t, err)
		assert.Equal(t, "v-42", resp.VendorID)
		assert.Equal(t, "Acme Corp", resp.DisplayName)
	})

	t.Run("malformed response", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("{}"))
		}))
		defer server.Close()

		adapter := createTestAdapter(t, server.URL)
		_, err := adapter.CreateVendor(context.Background(), testCredentials(), &accounting.CreateVendorRequest{DisplayName: "Acme Corp"})
		assert.ErrorIs(t, err, accounting.ErrPlatformInvalidResponse)
	})
}

func TestQuickBooksAdapter_QueryVendors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v3/company/realm-123/query", r.URL.Path)
		query := r.URL.Query().Get("query")
		assert.Contains(t, query, "select * from Vendor")
		assert.Contains(t, query, "DisplayName like 'acme%'")

		var resp qboVendorQueryResponse
		resp.QueryResponse.Vendor = []qboVendor{
			{ID: "v-1", DisplayName: "acme corp", Active: true},
			{ID: "v-2", DisplayName: "acme west", Active: false},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	adapter := createTestAdapter(t, server.URL)
	vendors, err := adapter.QueryVendors(context.Background(), testCredentials(), &accounting.QueryVendorsRequest{NamePrefix: "acme"})
	require.NoError(t, err)
	require.Len(t, vendors, 2)
	assert.Equal(t, "v-1", vendors[0].VendorID)
	assert.True(t, vendors[0].Active)
	assert.False(t, vendors[1].Active)
}

// ---------------------------------------------------------------------------
// Bill Tests
// ---------------------------------------------------------------------------

func billRequest() *accounting.CreateBillRequest {
	due := time.Date(2026, 2, 15, 0, 0, 0, 0, time.UTC)
	return &accounting.CreateBillRequest{
		IdempotencyKey: "tenant-1:inv-1:acme corp:INV-001:125.5000",
		VendorID:       "v-42",
		DocNumber:      "INV-001",
		TxnDate:        time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC),
		DueDate:        &due,
		Currency:       "USD",
		Lines: []accounting.CreateBillLine{
			{Description: "Office chairs", Amount: decimal.NewFromFloat(125.50), CategoryRef: "acct-64"},
		},
		TotalAmount: decimal.NewFromFloat(125.50),
	}
}

func TestQuickBooksAdapter_CreateBill(t *testing.T) {
	t.Run("successful create", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/v3/company/realm-123/bill", r.URL.Path)
			assert.Equal(t, "tenant-1:inv-1:acme corp:INV-001:125.5000", r.URL.Query().Get("requestid"))

			var received qboBill
			require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
			assert.Equal(t, "v-42", received.VendorRef.Value)
			assert.Equal(t, "INV-001", received.DocNumber)
			assert.Equal(t, "2026-01-15", received.TxnDate)
			assert.Equal(t, "2026-02-15", received.DueDate)
			assert.Equal(t, "tenant-1:inv-1:acme corp:INV-001:125.5000", received.PrivateNote)
			require.Len(t, received.Line, 1)
			assert.Equal(t, "AccountBasedExpenseLineDetail", received.Line[0].DetailType)
			assert.Equal(t, "acct-64", received.Line[0].Detail.AccountRef.Value)
			require.NotNil(t, received.CurrencyRef)
			assert.Equal(t, "USD", received.CurrencyRef.Value)

			json.NewEncoder(w).Encode(qboBillResponse{Bill: qboBill{ID: "bill-7"}})
		}))
		defer server.Close()

		adapter := createTestAdapter(t, server.URL)
		resp, err := adapter.CreateBill(context.Background(), testCredentials(), billRequest())
		require.NoError(t, err)
		assert.Equal(t, "bill-7", resp.BillID)
		assert.False(t, resp.Duplicate)
	})

	t.Run("duplicate doc number recovers existing bill", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/v3/company/realm-123/bill" {
				writeFault(w, http.StatusBadRequest, "6140", "Duplicate Document Number Error")
				return
			}
			assert.Equal(t, "/v3/company/realm-123/query", r.URL.Path)
			assert.Contains(t, r.URL.Query().Get("query"), "PrivateNote")

			var resp qboBillQueryResponse
			resp.QueryResponse.Bill = []qboBill{{ID: "bill-existing"}}
			json.NewEncoder(w).Encode(resp)
		}))
		defer server.Close()

		adapter := createTestAdapter(t, server.URL)
		resp, err := adapter.CreateBill(context.Background(), testCredentials(), billRequest())
		require.NoError(t, err)
		assert.Equal(t, "bill-existing", resp.BillID)
		assert.True(t, resp.Duplicate)
	})

	t.Run("duplicate doc number without recoverable bill stays an error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/v3/company/realm-123/bill" {
				writeFault(w, http.StatusBadRequest, "6140", "Duplicate Document Number Error")
				return
			}
			json.NewEncoder(w).Encode(qboBillQueryResponse{})
		}))
		defer server.Close()

		adapter := createTestAdapter(t, server.URL)
		_, err := adapter.CreateBill(context.Background(), testCredentials(), billRequest())
		assert.ErrorIs(t, err, accounting.ErrPlatformValidation)
	})
}

func TestQuickBooksAdapter_FindBill(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var resp qboBillQueryResponse
			resp.QueryResponse.Bill = []qboBill{{ID: "bill-9"}}
			json.NewEncoder(w).Encode(resp)
		}))
		defer server.Close()

		adapter := createTestAdapter(t, server.URL)
		resp, err := adapter.FindBill(context.Background(), testCredentials(), &accounting.FindBillRequest{IdempotencyKey: "key-1"})
		require.NoError(t, err)
		assert.True(t, resp.Found)
		assert.Equal(t, "bill-9", resp.BillID)
	})

	t.Run("not found", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(qboBillQueryResponse{})
		}))
		defer server.Close()

		adapter := createTestAdapter(t, server.URL)
		resp, err := adapter.FindBill(context.Background(), testCredentials(), &accounting.FindBillRequest{IdempotencyKey: "key-1"})
		require.NoError(t, err)
		assert.False(t, resp.Found)
		assert.Empty(t, resp.BillID)
	})
}

// ---------------------------------------------------------------------------
// Error Mapping Tests
// ---------------------------------------------------------------------------

func TestQuickBooksAdapter_StatusErrorMapping(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		detail  string
		wantErr error
	}{
		{"unauthorized", http.StatusUnauthorized, "something went wrong", accounting.ErrPlatformAuthFailed},
		{"forbidden", http.StatusForbidden, "something went wrong", accounting.ErrPlatformAuthFailed},
		{"rate limited", http.StatusTooManyRequests, "ThrottleExceeded", accounting.ErrPlatformRateLimited},
		{"quota exceeded", http.StatusTooManyRequests, "Daily API quota exceeded", accounting.ErrQuotaExceeded},
		{"server error", http.StatusInternalServerError, "something went wrong", accounting.ErrPlatformUnavailable},
		{"bad gateway", http.StatusBadGateway, "something went wrong", accounting.ErrPlatformUnavailable},
		{"validation", http.StatusBadRequest, "something went wrong", accounting.ErrPlatformValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeFault(w, tt.status, "2000", tt.detail)
			}))
			defer server.Close()

			adapter := createTestAdapter(t, server.URL)
			_, err := adapter.CreateVendor(context.Background(), testCredentials(), &accounting.CreateVendorRequest{DisplayName: "x"})
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestQuickBooksAdapter_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	adapter := createTestAdapter(t, server.URL)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := adapter.CreateVendor(ctx, testCredentials(), &accounting.CreateVendorRequest{DisplayName: "x"})
	assert.ErrorIs(t, err, accounting.ErrPlatformTimeout)
}

func TestEscapeQueryLiteral(t *testing.T) {
	assert.Equal(t, `o\'brien supplies`, escapeQueryLiteral("o'brien supplies"))
	assert.Equal(t, "plain", escapeQueryLiteral("plain"))
}
