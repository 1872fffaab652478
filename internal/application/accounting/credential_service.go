package accounting

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/vritti/backend/internal/domain/accounting"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// ---------------------------------------------------------------------------
// CredentialService
// ---------------------------------------------------------------------------

// CredentialConfig holds the credential manager knobs
type CredentialConfig struct {
	// RefreshSkew refreshes tokens that expire within this window
	RefreshSkew time.Duration
	// MaxRefreshFailures expires the connection after this many consecutive failures
	MaxRefreshFailures int
	// StateTTL bounds how long an authorization state nonce stays redeemable
	StateTTL time.Duration
}

// DefaultCredentialConfig returns the default credential manager configuration
func DefaultCredentialConfig() CredentialConfig {
	return CredentialConfig{
		RefreshSkew:        60 * time.Second,
		MaxRefreshFailures: 3,
		StateTTL:           10 * time.Minute,
	}
}

// CredentialServiceImpl manages the OAuth credential lifecycle for tenant
// connections: authorization, token storage, proactive refresh and
// revocation. Plaintext tokens exist only in memory; everything persisted
// goes through the TokenCipher.
type CredentialServiceImpl struct {
	connRepo    accounting.ConnectionRepository
	oauthClient accounting.OAuthTokenClient
	cipher      accounting.TokenCipher
	states      accounting.StateStore
	cfg         CredentialConfig
	logger      *zap.Logger

	// refreshGroup collapses concurrent refreshes for the same tenant into
	// one provider call, so rotated refresh tokens are never raced.
	refreshGroup singleflight.Group
}

// NewCredentialService creates a new CredentialServiceImpl
func NewCredentialService(
	connRepo accounting.ConnectionRepository,
	oauthClient accounting.OAuthTokenClient,
	cipher accounting.TokenCipher,
	states accounting.StateStore,
	cfg CredentialConfig,
	logger *zap.Logger,
) *CredentialServiceImpl {
	if cfg.RefreshSkew <= 0 {
		cfg.RefreshSkew = 60 * time.Second
	}
	if cfg.MaxRefreshFailures <= 0 {
		cfg.MaxRefreshFailures = 3
	}
	if cfg.StateTTL <= 0 {
		cfg.StateTTL = 10 * time.Minute
	}
	return &CredentialServiceImpl{
		connRepo:    connRepo,
		oauthClient: oauthClient,
		cipher:      cipher,
		states:      states,
		cfg:         cfg,
		logger:      logger,
	}
}

// ---------------------------------------------------------------------------
// Authorization Flow
// ---------------------------------------------------------------------------

// InitiateAuthorization starts the OAuth authorization flow for a tenant.
// It stores a one-shot state nonce and returns the provider authorize URL.
func (s *CredentialServiceImpl) InitiateAuthorization(ctx context.Context, tenantID uuid.UUID) (authURL string, state string, err error) {
	if tenantID == uuid.Nil {
		return "", "", accounting.ErrInvalidTenantID
	}

	state, err = generateStateNonce()
	if err != nil {
		return "", "", err
	}

	if err := s.states.Put(ctx, tenantID, state, s.cfg.StateTTL); err != nil {
		return "", "", err
	}

	s.logger.Info("Initiated accounting authorization",
		zap.String("tenant_id", tenantID.String()))

	return s.oauthClient.AuthorizeURL(state), state, nil
}

// ExchangeCode completes the OAuth flow: it redeems the state nonce exactly
// once, exchanges the authorization code for tokens and persists them
// encrypted in an ACTIVE connection. externalCompanyID is the company (realm)
// the provider reported on the callback.
func (s *CredentialServiceImpl) ExchangeCode(ctx context.Context, tenantID uuid.UUID, code, state, externalCompanyID string) (*accounting.TenantConnection, error) {
	if tenantID == uuid.Nil {
		return nil, accounting.ErrInvalidTenantID
	}

	ok, err := s.states.Consume(ctx, tenantID, state)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, accounting.ErrInvalidState
	}

	tokens, err := s.oauthClient.Exchange(ctx, code, externalCompanyID)
	if err != nil {
		return nil, err
	}

	accessCT, refreshCT, err := s.encryptTokens(tokens)
	if err != nil {
		return nil, err
	}

	// Re-authorization replaces the existing connection in place so the
	// tenant keeps a single connection row.
	conn, err := s.connRepo.FindByTenant(ctx, tenantID)
	switch {
	case err == nil:
		conn.Status = accounting.ConnectionStatusActive
		conn.ExternalCompanyID = tokens.ExternalCompanyID
		conn.RecordRefresh(accessCT, refreshCT, tokens.ExpiresAt)
	case errors.Is(err, accounting.ErrConnectionNotFound):
		conn, err = accounting.NewTenantConnection(tenantID, tokens.ExternalCompanyID, accessCT, refreshCT, tokens.ExpiresAt)
		if err != nil {
			return nil, err
		}
	default:
		return nil, err
	}

	if err := s.connRepo.Save(ctx, conn); err != nil {
		return nil, err
	}

	s.logger.Info("Accounting connection established",
		zap.String("tenant_id", tenantID.String()),
		zap.String("external_company_id", conn.ExternalCompanyID))

	return conn, nil
}

// ---------------------------------------------------------------------------
// Token Access
// ---------------------------------------------------------------------------

// GetValidToken returns a decrypted access token valid for at least the
// refresh skew window, refreshing it first when needed. Concurrent callers
// for the same tenant share one refresh.
func (s *CredentialServiceImpl) GetValidToken(ctx context.Context, tenantID uuid.UUID) (accounting.CallCredentials, error) {
	conn, err := s.connRepo.FindByTenant(ctx, tenantID)
	if err != nil {
		return accounting.CallCredentials{}, err
	}
	if err := conn.UsabilityError(); err != nil {
		return accounting.CallCredentials{}, err
	}

	if !conn.TokenExpiresWithin(s.cfg.RefreshSkew) {
		access, err := s.cipher.Decrypt(conn.AccessTokenCiphertext)
		if err != nil {
			return accounting.CallCredentials{}, err
		}
		return accounting.CallCredentials{
			AccessToken:       access,
			ExternalCompanyID: conn.ExternalCompanyID,
		}, nil
	}

	result, err, _ := s.refreshGroup.Do(tenantID.String(), func() (interface{}, error) {
		return s.refresh(ctx, tenantID)
	})
	if err != nil {
		return accounting.CallCredentials{}, err
	}
	return result.(accounting.CallCredentials), nil
}

// refresh performs one token refresh for a tenant. It re-reads the
// connection inside the singleflight so a refresh completed by another
// caller is observed instead of repeated.
func (s *CredentialServiceImpl) refresh(ctx context.Context, tenantID uuid.UUID) (accounting.CallCredentials, error) {
	conn, err := s.connRepo.FindByTenant(ctx, tenantID)
	if err != nil {
		return accounting.CallCredentials{}, err
	}
	if err := conn.UsabilityError(); err != nil {
		return accounting.CallCredentials{}, err
	}

	if !conn.TokenExpiresWithin(s.cfg.RefreshSkew) {
		access, err := s.cipher.Decrypt(conn.AccessTokenCiphertext)
		if err != nil {
			return accounting.CallCredentials{}, err
		}
		return accounting.CallCredentials{AccessToken: access, ExternalCompanyID: conn.ExternalCompanyID}, nil
	}

	refreshToken, err := s.cipher.Decrypt(conn.RefreshTokenCiphertext)
	if err != nil {
		return accounting.CallCredentials{}, err
	}

	tokens, err := s.oauthClient.Refresh(ctx, refreshToken)
	if err != nil {
		expired := conn.RecordRefreshFailure(s.cfg.MaxRefreshFailures)
		if saveErr := s.connRepo.Save(ctx, conn); saveErr != nil {
			s.logger.Error("Failed to persist refresh failure",
				zap.String("tenant_id", tenantID.String()),
				zap.Error(saveErr))
		}
		if expired {
			s.logger.Warn("Connection expired after consecutive refresh failures",
				zap.String("tenant_id", tenantID.String()),
				zap.Int("failures", conn.ConsecutiveRefreshFailures))
			return accounting.CallCredentials{}, accounting.ErrAuthExpired
		}
		s.logger.Warn("Token refresh failed",
			zap.String("tenant_id", tenantID.String()),
			zap.Int("failures", conn.ConsecutiveRefreshFailures),
			zap.Error(err))
		return accounting.CallCredentials{}, err
	}

	accessCT, refreshCT, err := s.encryptTokens(tokens)
	if err != nil {
		return accounting.CallCredentials{}, err
	}

	conn.RecordRefresh(accessCT, refreshCT, tokens.ExpiresAt)
	if err := s.connRepo.Save(ctx, conn); err != nil {
		return accounting.CallCredentials{}, err
	}

	s.logger.Debug("Access token refreshed",
		zap.String("tenant_id", tenantID.String()),
		zap.Time("expires_at", tokens.ExpiresAt))

	return accounting.CallCredentials{
		AccessToken:       tokens.AccessToken,
		ExternalCompanyID: conn.ExternalCompanyID,
	}, nil
}

// ---------------------------------------------------------------------------
// Revocation / Status
// ---------------------------------------------------------------------------

// Revoke disconnects a tenant from the accounting system. Provider-side
// revocation is best effort; local token material is always cleared.
func (s *CredentialServiceImpl) Revoke(ctx context.Context, tenantID uuid.UUID) error {
	conn, err := s.connRepo.FindByTenant(ctx, tenantID)
	if err != nil {
		return err
	}

	if len(conn.RefreshTokenCiphertext) > 0 {
		if refreshToken, decErr := s.cipher.Decrypt(conn.RefreshTokenCiphertext); decErr == nil {
			if revErr := s.oauthClient.Revoke(ctx, refreshToken); revErr != nil {
				s.logger.Warn("Provider-side token revocation failed",
					zap.String("tenant_id", tenantID.String()),
					zap.Error(revErr))
			}
		}
	}

	conn.Revoke()
	if err := s.connRepo.Save(ctx, conn); err != nil {
		return err
	}

	s.logger.Info("Accounting connection revoked",
		zap.String("tenant_id", tenantID.String()))
	return nil
}

// GetConnection returns the connection status view for a tenant. Token
// ciphertexts are blanked so the API layer cannot leak them.
func (s *CredentialServiceImpl) GetConnection(ctx context.Context, tenantID uuid.UUID) (*accounting.TenantConnection, error) {
	conn, err := s.connRepo.FindByTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	view := *conn
	view.AccessTokenCiphertext = nil
	view.RefreshTokenCiphertext = nil
	return &view, nil
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func (s *CredentialServiceImpl) encryptTokens(tokens *accounting.TokenSet) (accessCT, refreshCT []byte, err error) {
	accessCT, err = s.cipher.Encrypt(tokens.AccessToken)
	if err != nil {
		return nil, nil, err
	}
	refreshCT, err = s.cipher.Encrypt(tokens.RefreshToken)
	if err != nil {
		return nil, nil, err
	}
	return accessCT, refreshCT, nil
}

// generateStateNonce returns a 192-bit URL-safe random nonce
func generateStateNonce() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
