package quickbooks

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vritti/backend/internal/domain/accounting"
	"github.com/vritti/backend/internal/infrastructure/config"
)

func testOAuthConfig(tokenEndpoint, revokeEndpoint string) *config.OAuthConfig {
	return &config.OAuthConfig{
		ClientID:          "client-1",
		ClientSecret:      "secret-1",
		AuthorizeEndpoint: "https://provider.example/connect/oauth2",
		TokenEndpoint:     tokenEndpoint,
		RevokeEndpoint:    revokeEndpoint,
		RedirectURI:       "https://app.example/callback",
		Scopes:            []string{"com.intuit.quickbooks.accounting"},
	}
}

func TestOAuthClient_AuthorizeURL(t *testing.T) {
	client := NewOAuthClient(testOAuthConfig("", ""), nil)

	raw := client.AuthorizeURL("nonce-abc")
	parsed, err := url.Parse(raw)
	require.NoError(t, err)

	assert.Equal(t, "provider.example", parsed.Host)
	assert.Equal(t, "/connect/oauth2", parsed.Path)
	q := parsed.Query()
	assert.Equal(t, "client-1", q.Get("client_id"))
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, "com.intuit.quickbooks.accounting", q.Get("scope"))
	assert.Equal(t, "https://app.example/callback", q.Get("redirect_uri"))
	assert.Equal(t, "nonce-abc", q.Get("state"))
}

func TestOAuthClient_Exchange(t *testing.T) {
	t.Run("successful exchange", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "POST", r.Method)
			user, pass, ok := r.BasicAuth()
			require.True(t, ok)
			assert.Equal(t, "client-1", user)
			assert.Equal(t, "secret-1", pass)

			require.NoError(t, r.ParseForm())
			assert.Equal(t, "authorization_code", r.PostForm.Get("grant_type"))
			assert.Equal(t, "code-xyz", r.PostForm.Get("code"))
			assert.Equal(t, "https://app.example/callback", r.PostForm.Get("redirect_uri"))

			json.NewEncoder(w).Encode(oauthTokenResponse{
				AccessToken:  "at-plain",
				RefreshToken: "rt-plain",
				ExpiresIn:    3600,
				TokenType:    "bearer",
			})
		}))
		defer server.Close()

		client := NewOAuthClient(testOAuthConfig(server.URL, ""), nil)
		tokens, err := client.Exchange(context.Background(), "code-xyz", "realm-9")
		require.NoError(t, err)
		assert.Equal(t, "at-plain", tokens.AccessToken)
		assert.Equal(t, "rt-plain", tokens.RefreshToken)
		assert.Equal(t, "realm-9", tokens.ExternalCompanyID)
		assert.WithinDuration(t, time.Now().Add(time.Hour), tokens.ExpiresAt, 5*time.Second)
	})

	t.Run("bad grant maps to auth failure", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":"invalid_grant"}`))
		}))
		defer server.Close()

		client := NewOAuthClient(testOAuthConfig(server.URL, ""), nil)
		_, err := client.Exchange(context.Background(), "stale-code", "realm-9")
		assert.ErrorIs(t, err, accounting.ErrPlatformAuthFailed)
	})

	t.Run("missing access token in response", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("{}"))
		}))
		defer server.Close()

		client := NewOAuthClient(testOAuthConfig(server.URL, ""), nil)
		_, err := client.Exchange(context.Background(), "code-xyz", "realm-9")
		assert.ErrorIs(t, err, accounting.ErrPlatformInvalidResponse)
	})
}

func TestOAuthClient_Refresh(t *testing.T) {
	t.Run("rotates refresh token", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, r.ParseForm())
			assert.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))
			assert.Equal(t, "rt-old", r.PostForm.Get("refresh_token"))

			json.NewEncoder(w).Encode(oauthTokenResponse{
				AccessToken:  "at-new",
				RefreshToken: "rt-new",
				ExpiresIn:    3600,
			})
		}))
		defer server.Close()

		client := NewOAuthClient(testOAuthConfig(server.URL, ""), nil)
		tokens, err := client.Refresh(context.Background(), "rt-old")
		require.NoError(t, err)
		assert.Equal(t, "at-new", tokens.AccessToken)
		assert.Equal(t, "rt-new", tokens.RefreshToken)
	})

	t.Run("server error maps to unavailable", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer server.Close()

		client := NewOAuthClient(testOAuthConfig(server.URL, ""), nil)
		_, err := client.Refresh(context.Background(), "rt-old")
		assert.ErrorIs(t, err, accounting.ErrPlatformUnavailable)
	})

	t.Run("rate limit maps to sentinel", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
		}))
		defer server.Close()

		client := NewOAuthClient(testOAuthConfig(server.URL, ""), nil)
		_, err := client.Refresh(context.Background(), "rt-old")
		assert.ErrorIs(t, err, accounting.ErrPlatformRateLimited)
	})
}

func TestOAuthClient_Revoke(t *testing.T) {
	t.Run("successful revoke", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, pass, ok := r.BasicAuth()
			require.True(t, ok)
			assert.Equal(t, "client-1", user)
			assert.Equal(t, "secret-1", pass)

			var body map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "rt-plain", body["token"])
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		client := NewOAuthClient(testOAuthConfig("", server.URL), nil)
		assert.NoError(t, client.Revoke(context.Background(), "rt-plain"))
	})

	t.Run("revoke failure surfaces", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		}))
		defer server.Close()

		client := NewOAuthClient(testOAuthConfig("", server.URL), nil)
		err := client.Revoke(context.Background(), "rt-plain")
		assert.ErrorIs(t, err, accounting.ErrPlatformAuthFailed)
	})
}
