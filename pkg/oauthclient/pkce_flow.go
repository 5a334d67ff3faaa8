package oauthclient

import (
	"context"
	"fmt"

	"golang.org/x/oauth2"
)

// PKCEFlow implements the authorization-code grant with PKCE (RFC 7636),
// the default flow whenever a registration_endpoint is discovered. It is
// built directly on oauth2.Config so that token refresh can be delegated
// to the x/oauth2 TokenSource machinery.
type PKCEFlow struct {
	Config   *oauth2.Config
	Params   *PKCEParams
	Resource string

	state string
}

// NewPKCEFlow generates a fresh code verifier/challenge pair and state
// token and binds them to config.
func NewPKCEFlow(config *oauth2.Config, resource string) (*PKCEFlow, error) {
	params, err := GeneratePKCEParams()
	if err != nil {
		return nil, err
	}
	state, err := GenerateState()
	if err != nil {
		return nil, err
	}
	return &PKCEFlow{Config: config, Params: params, Resource: resource, state: state}, nil
}

// ExpectedState returns the state the callback server should verify.
func (f *PKCEFlow) ExpectedState() string { return f.state }

// AuthorizationURL builds the authorization request URL with the S256 code
// challenge and, when set, the target resource.
func (f *PKCEFlow) AuthorizationURL() string {
	opts := []oauth2.AuthCodeOption{
		oauth2.SetAuthURLParam("code_challenge", f.Params.CodeChallenge),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
	}
	if f.Resource != "" {
		opts = append(opts, oauth2.SetAuthURLParam("resource", f.Resource))
	}
	return f.Config.AuthCodeURL(f.state, opts...)
}

// Exchange trades an authorization code for tokens, presenting the PKCE
// code verifier in place of a client secret.
func (f *PKCEFlow) Exchange(ctx context.Context, code string) (*TokenBundle, error) {
	token, err := f.Config.Exchange(ctx, code, oauth2.SetAuthURLParam("code_verifier", f.Params.CodeVerifier))
	if err != nil {
		return nil, EnrichNetworkError(fmt.Errorf("oauthclient: pkce code exchange: %w", err))
	}
	return bundleFromOAuth2(token), nil
}

// Refresh trades a refresh token for a new access token via the
// oauth2.Config's token source.
func (f *PKCEFlow) Refresh(ctx context.Context, refreshToken string) (*TokenBundle, error) {
	src := f.Config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	token, err := src.Token()
	if err != nil {
		return nil, EnrichNetworkError(fmt.Errorf("oauthclient: pkce refresh: %w", err))
	}
	return bundleFromOAuth2(token), nil
}
