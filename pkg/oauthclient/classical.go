package oauthclient

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

// ClassicalFlow implements OAuth 2.0 authorization-code grant without
// PKCE, for a confidential client with a pre-registered
// client_id/client_secret. Built directly on oauth2.Config, the same
// machinery PKCEFlow uses — AuthStyleInParams, since a classical
// confidential client presents its secret as a form
// parameter rather than over HTTP Basic auth.
type ClassicalFlow struct {
	Config   *oauth2.Config
	Resource string

	state string
}

// NewClassicalFlow constructs a flow and generates its per-instance state
// parameter immediately: a freshly generated UUID, sent unchanged on every
// authorization attempt for this flow instance's lifetime.
func NewClassicalFlow(clientID, clientSecret, authURL, tokenURL, redirectURI, resource string) *ClassicalFlow {
	return &ClassicalFlow{
		Config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURI,
			Endpoint: oauth2.Endpoint{
				AuthURL:   authURL,
				TokenURL:  tokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		Resource: resource,
		state:    uuid.New().String(),
	}
}

// ExpectedState returns the state the callback server should verify.
func (f *ClassicalFlow) ExpectedState() string { return f.state }

// AuthorizationURL builds the authorization request URL: response_type=
// code, client_id, redirect_uri, state (all set by oauth2.Config), plus
// resource when set. No code_challenge — this is the non-PKCE flow.
func (f *ClassicalFlow) AuthorizationURL() string {
	var opts []oauth2.AuthCodeOption
	if f.Resource != "" {
		opts = append(opts, oauth2.SetAuthURLParam("resource", f.Resource))
	}
	return f.Config.AuthCodeURL(f.state, opts...)
}

// Exchange trades an authorization code for tokens via
// grant_type=authorization_code, presenting client_id/client_secret as
// form parameters per AuthStyleInParams.
func (f *ClassicalFlow) Exchange(ctx context.Context, code string) (*TokenBundle, error) {
	token, err := f.Config.Exchange(ctx, code)
	if err != nil {
		if status, body, ok := retrieveErrorDetails(err); ok {
			return nil, &TokenExchangeFailed{Status: status, Body: body}
		}
		return nil, EnrichNetworkError(fmt.Errorf("oauthclient: classical code exchange: %w", err))
	}
	return bundleFromOAuth2(token), nil
}

// Refresh trades a refresh token for a new access token via the
// oauth2.Config's token source. If the response omits refresh_token, the
// previous one is preserved.
func (f *ClassicalFlow) Refresh(ctx context.Context, refreshToken string) (*TokenBundle, error) {
	src := f.Config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	token, err := src.Token()
	if err != nil {
		if status, body, ok := retrieveErrorDetails(err); ok {
			return nil, &TokenRefreshFailed{Status: status, Body: body}
		}
		return nil, EnrichNetworkError(fmt.Errorf("oauthclient: classical refresh: %w", err))
	}
	if token.RefreshToken == "" {
		token.RefreshToken = refreshToken
	}
	return bundleFromOAuth2(token), nil
}

// retrieveErrorDetails unwraps the status code and response body from an
// oauth2.RetrieveError, the error x/oauth2 returns for a non-2xx token
// endpoint response.
func retrieveErrorDetails(err error) (status int, body string, ok bool) {
	var rerr *oauth2.RetrieveError
	if !errors.As(err, &rerr) {
		return 0, "", false
	}
	if rerr.Response != nil {
		status = rerr.Response.StatusCode
	}
	return status, string(rerr.Body), true
}
