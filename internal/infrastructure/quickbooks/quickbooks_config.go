package quickbooks

import "errors"

// QuickBooksConfig holds configuration for the QuickBooks Online API
type QuickBooksConfig struct {
	// APIBaseURL is the base URL for the QBO accounting API (production or sandbox)
	APIBaseURL string
	// MinorVersion is the QBO API minor version sent on every request
	MinorVersion string
	// IsSandbox indicates if this is a sandbox environment
	IsSandbox bool
	// TimeoutSeconds is the HTTP request timeout
	TimeoutSeconds int
}

const (
	// QuickBooksProductionAPIURL is the production API endpoint
	QuickBooksProductionAPIURL = "https://quickbooks.api.intuit.com"
	// QuickBooksSandboxAPIURL is the sandbox API endpoint
	QuickBooksSandboxAPIURL = "https://sandbox-quickbooks.api.intuit.com"
	// defaultMinorVersion is the QBO API minor version this adapter targets
	defaultMinorVersion = "65"
)

var (
	ErrQuickBooksConfigMissingBaseURL = errors.New("quickbooks: API base URL is required")
)

// NewQuickBooksConfig creates a new QuickBooks configuration with defaults
func NewQuickBooksConfig() *QuickBooksConfig {
	return &QuickBooksConfig{
		APIBaseURL:     QuickBooksProductionAPIURL,
		MinorVersion:   defaultMinorVersion,
		IsSandbox:      false,
		TimeoutSeconds: 30,
	}
}

// NewSandboxQuickBooksConfig creates a new QuickBooks configuration for the sandbox
func NewSandboxQuickBooksConfig() *QuickBooksConfig {
	return &QuickBooksConfig{
		APIBaseURL:     QuickBooksSandboxAPIURL,
		MinorVersion:   defaultMinorVersion,
		IsSandbox:      true,
		TimeoutSeconds: 30,
	}
}

// Validate validates the QuickBooks configuration
func (c *QuickBooksConfig) Validate() error {
	if c.APIBaseURL == "" {
		if c.IsSandbox {
			c.APIBaseURL = QuickBooksSandboxAPIURL
		} else {
			c.APIBaseURL = QuickBooksProductionAPIURL
		}
	}
	if c.MinorVersion == "" {
		c.MinorVersion = defaultMinorVersion
	}
	if c.TimeoutSeconds <= 0 {
		c.TimeoutSeconds = 30
	}
	return nil
}
