package accounting

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// ConnectionStatus
// ---------------------------------------------------------------------------

// ConnectionStatus represents the lifecycle status of a tenant connection
type ConnectionStatus string

const (
	// ConnectionStatusActive indicates the connection holds usable tokens
	ConnectionStatusActive ConnectionStatus = "ACTIVE"
	// ConnectionStatusExpired indicates refresh was exhausted; re-authorization required
	ConnectionStatusExpired ConnectionStatus = "EXPIRED"
	// ConnectionStatusRevoked indicates the tenant revoked the connection
	ConnectionStatusRevoked ConnectionStatus = "REVOKED"
	// ConnectionStatusSuspended indicates the connection was suspended after repeated auth failures
	ConnectionStatusSuspended ConnectionStatus = "SUSPENDED"
)

// IsValid returns true if the status is valid
func (s ConnectionStatus) IsValid() bool {
	switch s {
	case ConnectionStatusActive, ConnectionStatusExpired, ConnectionStatusRevoked, ConnectionStatusSuspended:
		return true
	default:
		return false
	}
}

// String returns the string representation of ConnectionStatus
func (s ConnectionStatus) String() string {
	return string(s)
}

// ---------------------------------------------------------------------------
// TenantConnection Entity
// ---------------------------------------------------------------------------

// TenantConnection represents a tenant's OAuth-authorized connection to the
// external accounting system. There is at most one per tenant. Token fields
// hold ciphertext only; plaintext tokens never reach persistence or logs.
type TenantConnection struct {
	// ID is the unique identifier of this connection
	ID uuid.UUID
	// TenantID is the tenant this connection belongs to
	TenantID uuid.UUID
	// ExternalCompanyID is the company (realm) identifier on the accounting system
	ExternalCompanyID string
	// AccessTokenCiphertext is the encrypted OAuth access token
	AccessTokenCiphertext []byte
	// RefreshTokenCiphertext is the encrypted OAuth refresh token
	RefreshTokenCiphertext []byte
	// TokenExpiry is when the access token expires
	TokenExpiry time.Time
	// Status is the connection lifecycle status
	Status ConnectionStatus
	// ConsecutiveRefreshFailures counts refresh failures since the last success
	ConsecutiveRefreshFailures int
	// LastRefreshAt is when the tokens were last refreshed
	LastRefreshAt *time.Time
	// CreatedAt is when the connection was created (OAuth completion)
	CreatedAt time.Time
	// UpdatedAt is when the connection was last updated
	UpdatedAt time.Time
}

// NewTenantConnection creates a connection in ACTIVE status from a completed
// OAuth exchange. Token ciphertexts must already be encrypted by the caller.
func NewTenantConnection(tenantID uuid.UUID, externalCompanyID string, accessCiphertext, refreshCiphertext []byte, tokenExpiry time.Time) (*TenantConnection, error) {
	if tenantID == uuid.Nil {
		return nil, ErrInvalidTenantID
	}
	now := time.Now()
	return &TenantConnection{
		ID:                     uuid.New(),
		TenantID:               tenantID,
		ExternalCompanyID:      externalCompanyID,
		AccessTokenCiphertext:  accessCiphertext,
		RefreshTokenCiphertext: refreshCiphertext,
		TokenExpiry:            tokenExpiry,
		Status:                 ConnectionStatusActive,
		CreatedAt:              now,
		UpdatedAt:              now,
	}, nil
}

// IsUsable returns true if the connection may be used for platform calls
func (c *TenantConnection) IsUsable() bool {
	return c.Status == ConnectionStatusActive
}

// TokenExpiresWithin returns true if the access token expires within the
// given skew window from now.
func (c *TenantConnection) TokenExpiresWithin(skew time.Duration) bool {
	return !time.Now().Add(skew).Before(c.TokenExpiry)
}

// RecordRefresh stores rotated token ciphertexts after a successful refresh
// and resets the failure counter.
func (c *TenantConnection) RecordRefresh(accessCiphertext, refreshCiphertext []byte, tokenExpiry time.Time) {
	now := time.Now()
	c.AccessTokenCiphertext = accessCiphertext
	c.RefreshTokenCiphertext = refreshCiphertext
	c.TokenExpiry = tokenExpiry
	c.ConsecutiveRefreshFailures = 0
	c.LastRefreshAt = &now
	c.UpdatedAt = now
}

// RecordRefreshFailure increments the failure counter. Once maxFailures is
// reached the connection moves to EXPIRED and the method returns true.
func (c *TenantConnection) RecordRefreshFailure(maxFailures int) (expired bool) {
	c.ConsecutiveRefreshFailures++
	c.UpdatedAt = time.Now()
	if c.ConsecutiveRefreshFailures >= maxFailures {
		c.Status = ConnectionStatusExpired
		return true
	}
	return false
}

// Revoke marks the connection revoked and clears token material
func (c *TenantConnection) Revoke() {
	c.Status = ConnectionStatusRevoked
	c.AccessTokenCiphertext = nil
	c.RefreshTokenCiphertext = nil
	c.UpdatedAt = time.Now()
}

// Suspend marks the connection suspended
func (c *TenantConnection) Suspend() {
	c.Status = ConnectionStatusSuspended
	c.UpdatedAt = time.Now()
}

// UsabilityError returns the sentinel error matching a non-usable status,
// or nil when the connection is ACTIVE.
func (c *TenantConnection) UsabilityError() error {
	switch c.Status {
	case ConnectionStatusActive:
		return nil
	case ConnectionStatusExpired:
		return ErrAuthExpired
	case ConnectionStatusRevoked:
		return ErrConnectionRevoked
	case ConnectionStatusSuspended:
		return ErrConnectionSuspended
	default:
		return ErrConnectionNotActive
	}
}

// ---------------------------------------------------------------------------
// ConnectionRepository Interface
// ---------------------------------------------------------------------------

// ConnectionRepository defines the interface for persisting tenant connections
type ConnectionRepository interface {
	// Save creates or updates a connection
	Save(ctx context.Context, conn *TenantConnection) error

	// FindByTenant finds the connection for a tenant
	FindByTenant(ctx context.Context, tenantID uuid.UUID) (*TenantConnection, error)

	// UpdateStatus updates only the status of a tenant's connection
	UpdateStatus(ctx context.Context, tenantID uuid.UUID, status ConnectionStatus) error
}

// ---------------------------------------------------------------------------
// Credential Ports
// ---------------------------------------------------------------------------

// TokenSet holds plaintext OAuth tokens as returned by the token endpoint.
// Instances are short-lived; only encrypted forms are persisted.
type TokenSet struct {
	// AccessToken is the bearer token for platform calls
	AccessToken string
	// RefreshToken is the (possibly rotated) refresh token
	RefreshToken string
	// ExpiresAt is when the access token expires
	ExpiresAt time.Time
	// ExternalCompanyID is the company (realm) granted during authorization
	ExternalCompanyID string
}

// OAuthTokenClient defines the port for the accounting system's OAuth2 token
// endpoint. Implementations live in the infrastructure layer.
type OAuthTokenClient interface {
	// AuthorizeURL builds the provider authorization redirect URL for a state nonce
	AuthorizeURL(state string) string

	// Exchange trades an authorization code for a token set. The company
	// (realm) ID arrives on the authorization callback, not from the token
	// endpoint, so the caller passes it through.
	Exchange(ctx context.Context, code, externalCompanyID string) (*TokenSet, error)

	// Refresh trades a refresh token for a new token set.
	// Refresh tokens rotate: the returned set carries the replacement.
	Refresh(ctx context.Context, refreshToken string) (*TokenSet, error)

	// Revoke revokes a refresh token on the provider side
	Revoke(ctx context.Context, refreshToken string) error
}

// TokenCipher encrypts and decrypts token material at rest
type TokenCipher interface {
	// Encrypt returns the ciphertext for a plaintext token
	Encrypt(plaintext string) ([]byte, error)

	// Decrypt returns the plaintext token for a ciphertext
	Decrypt(ciphertext []byte) (string, error)
}

// StateStore stores OAuth state nonces with a TTL, bound to a tenant.
// Consume is one-shot: a nonce can be redeemed at most once.
type StateStore interface {
	// Put stores a nonce for a tenant with the given TTL
	Put(ctx context.Context, tenantID uuid.UUID, state string, ttl time.Duration) error

	// Consume atomically checks and deletes a nonce.
	// Returns true only if the nonce existed for this tenant and had not expired.
	Consume(ctx context.Context, tenantID uuid.UUID, state string) (bool, error)
}
