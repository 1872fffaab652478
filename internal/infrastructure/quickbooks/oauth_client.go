package quickbooks

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/vritti/backend/internal/domain/accounting"
	"github.com/vritti/backend/internal/infrastructure/config"
)

// ---------------------------------------------------------------------------
// OAuth Token Client
// ---------------------------------------------------------------------------

// oauthTokenResponse is the token endpoint's wire format
type oauthTokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	TokenType    string `json:"token_type"`
}

// OAuthClient implements the OAuthTokenClient interface against the
// QuickBooks OAuth2 endpoints. Plaintext tokens pass through it but are
// never logged.
type OAuthClient struct {
	config     *config.OAuthConfig
	httpClient *http.Client
	logger     *zap.Logger
}

var _ accounting.OAuthTokenClient = (*OAuthClient)(nil)

// NewOAuthClient creates a new OAuth client from the platform OAuth settings
func NewOAuthClient(cfg *config.OAuthConfig, logger *zap.Logger) *OAuthClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OAuthClient{
		config: cfg,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger.Named("oauth"),
	}
}

// AuthorizeURL builds the provider authorization redirect URL for a state nonce
func (c *OAuthClient) AuthorizeURL(state string) string {
	params := url.Values{}
	params.Set("client_id", c.config.ClientID)
	params.Set("response_type", "code")
	params.Set("scope", strings.Join(c.config.Scopes, " "))
	params.Set("redirect_uri", c.config.RedirectURI)
	params.Set("state", state)
	return c.config.AuthorizeEndpoint + "?" + params.Encode()
}

// Exchange trades an authorization code for a token set. The realm identifier
// comes from the authorization callback and is attached to the result.
func (c *OAuthClient) Exchange(ctx context.Context, code, externalCompanyID string) (*accounting.TokenSet, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", c.config.RedirectURI)

	tokens, err := c.postTokenRequest(ctx, c.config.TokenEndpoint, form)
	if err != nil {
		return nil, err
	}
	tokens.ExternalCompanyID = externalCompanyID
	return tokens, nil
}

// Refresh trades a refresh token for a new token set. QBO rotates refresh
// tokens, so the returned set carries the replacement.
func (c *OAuthClient) Refresh(ctx context.Context, refreshToken string) (*accounting.TokenSet, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)

	return c.postTokenRequest(ctx, c.config.TokenEndpoint, form)
}

// Revoke revokes a refresh token on the provider side
func (c *OAuthClient) Revoke(ctx context.Context, refreshToken string) error {
	body, err := json.Marshal(map[string]string{"token": refreshToken})
	if err != nil {
		return fmt.Errorf("marshal revoke request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.config.RevokeEndpoint, strings.NewReader(string(body)))
	if err != nil {
		return fmt.Errorf("create revoke request: %w", err)
	}
	req.SetBasicAuth(c.config.ClientID, c.config.ClientSecret)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if isTimeout(err) {
			return fmt.Errorf("%w: token revocation", accounting.ErrPlatformTimeout)
		}
		return fmt.Errorf("%w: token revocation: %v", accounting.ErrPlatformUnavailable, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseSize))

	if resp.StatusCode >= 400 {
		return c.mapTokenStatusError(resp.StatusCode, "revoke")
	}
	return nil
}

// ---------------------------------------------------------------------------
// Internal Helpers
// ---------------------------------------------------------------------------

// postTokenRequest sends a form-encoded grant request to the token endpoint
// and parses the token response.
func (c *OAuthClient) postTokenRequest(ctx context.Context, endpoint string, form url.Values) (*accounting.TokenSet, error) {
	req, err := http.NewRequestWithContext(ctx, "POST", endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("create token request: %w", err)
	}
	req.SetBasicAuth(c.config.ClientID, c.config.ClientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if isTimeout(err) {
			return nil, fmt.Errorf("%w: token endpoint", accounting.ErrPlatformTimeout)
		}
		return nil, fmt.Errorf("%w: token endpoint: %v", accounting.ErrPlatformUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("read token response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, c.mapTokenStatusError(resp.StatusCode, form.Get("grant_type"))
	}

	var parsed oauthTokenResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil || parsed.AccessToken == "" {
		return nil, fmt.Errorf("%w: token response", accounting.ErrPlatformInvalidResponse)
	}

	return &accounting.TokenSet{
		AccessToken:  parsed.AccessToken,
		RefreshToken: parsed.RefreshToken,
		ExpiresAt:    time.Now().Add(time.Duration(parsed.ExpiresIn) * time.Second),
	}, nil
}

// mapTokenStatusError maps a token endpoint HTTP status to a domain sentinel.
// 4xx responses on grant requests mean the credentials or grant are bad, not
// that the payload was malformed.
func (c *OAuthClient) mapTokenStatusError(status int, operation string) error {
	c.logger.Warn("oauth endpoint returned error status",
		zap.Int("status", status),
		zap.String("operation", operation))

	switch {
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", accounting.ErrPlatformRateLimited, operation)
	case status >= 500:
		return fmt.Errorf("%w: %s", accounting.ErrPlatformUnavailable, operation)
	default:
		return fmt.Errorf("%w: %s", accounting.ErrPlatformAuthFailed, operation)
	}
}
