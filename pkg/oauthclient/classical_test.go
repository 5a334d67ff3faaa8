package oauthclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassicalFlowAuthorizationURLIncludesStateAndResource(t *testing.T) {
	t.Parallel()
	f := NewClassicalFlow("client-1", "secret", "https://as.example.com/authorize", "https://as.example.com/token",
		"http://127.0.0.1:9000/callback", "https://mcp.example.com")

	u, err := url.Parse(f.AuthorizationURL())
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, "client-1", q.Get("client_id"))
	assert.Equal(t, f.ExpectedState(), q.Get("state"))
	assert.Equal(t, "https://mcp.example.com", q.Get("resource"))
	assert.NotEmpty(t, f.ExpectedState())
}

func TestClassicalFlowExchangeSuccess(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "authorization_code", r.Form.Get("grant_type"))
		assert.Equal(t, "the-code", r.Form.Get("code"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"AT","token_type":"Bearer","expires_in":3600,"refresh_token":"RT"}`))
	}))
	defer srv.Close()

	f := NewClassicalFlow("client-1", "secret", "https://as.example.com/authorize", srv.URL, "http://127.0.0.1:9000/callback", "")
	bundle, err := f.Exchange(context.Background(), "the-code")
	require.NoError(t, err)
	assert.Equal(t, "AT", bundle.AccessToken)
	assert.Equal(t, "RT", bundle.RefreshToken)
	assert.False(t, bundle.Expiry.IsZero())
}

func TestClassicalFlowExchangeNon2xxReturnsTokenExchangeFailed(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
	}))
	defer srv.Close()

	f := NewClassicalFlow("client-1", "secret", "https://as.example.com/authorize", srv.URL, "http://127.0.0.1:9000/callback", "")
	_, err := f.Exchange(context.Background(), "bad-code")
	require.Error(t, err)
	var exchangeErr *TokenExchangeFailed
	require.ErrorAs(t, err, &exchangeErr)
	assert.Equal(t, http.StatusBadRequest, exchangeErr.Status)
}

func TestClassicalFlowRefreshPreservesPreviousTokenWhenOmitted(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.Form.Get("grant_type"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"AT2","token_type":"Bearer"}`))
	}))
	defer srv.Close()

	f := NewClassicalFlow("client-1", "secret", "https://as.example.com/authorize", srv.URL, "http://127.0.0.1:9000/callback", "")
	bundle, err := f.Refresh(context.Background(), "old-refresh-token")
	require.NoError(t, err)
	assert.Equal(t, "AT2", bundle.AccessToken)
	assert.Equal(t, "old-refresh-token", bundle.RefreshToken)
}
