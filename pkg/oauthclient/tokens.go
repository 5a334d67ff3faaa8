package oauthclient

import (
	"context"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/stacklok/mcp-remote-broker/pkg/authstore"
	"github.com/stacklok/mcp-remote-broker/pkg/logger"
)

// tokensBlobName is the authstore blob holding the current token bundle.
const tokensBlobName = "tokens.json"

// TokenBundle is the on-disk representation of a token: ExpiresIn is
// seconds-remaining-as-of-persistence, and is informational only — Expiry
// is what EnsureAccessToken actually consults.
type TokenBundle struct {
	AccessToken  string    `json:"access_token"`
	TokenType    string    `json:"token_type,omitempty"`
	ExpiresIn    *int64    `json:"expires_in,omitempty"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	Scope        string    `json:"scope,omitempty"`
	Expiry       time.Time `json:"expiry,omitempty"`
}

func bundleFromOAuth2(t *oauth2.Token) *TokenBundle {
	b := &TokenBundle{
		AccessToken:  t.AccessToken,
		TokenType:    t.TokenType,
		RefreshToken: t.RefreshToken,
		Expiry:       t.Expiry,
	}
	if !t.Expiry.IsZero() {
		secs := int64(time.Until(t.Expiry).Seconds())
		b.ExpiresIn = &secs
	}
	return b
}

func (b *TokenBundle) toOAuth2() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  b.AccessToken,
		TokenType:    b.TokenType,
		RefreshToken: b.RefreshToken,
		Expiry:       b.Expiry,
	}
}

// valid reports whether the bundle's access token is still usable: no
// expiry recorded, or strictly in the future.
func (b *TokenBundle) valid() bool {
	if b == nil || b.AccessToken == "" {
		return false
	}
	if b.Expiry.IsZero() {
		return true
	}
	return time.Now().Before(b.Expiry)
}

// loadTokens reads the persisted bundle for fingerprint, returning (nil,
// nil) if none exists — absence is not an error.
func loadTokens(store *authstore.Store, fingerprint string) (*TokenBundle, error) {
	var b TokenBundle
	if err := store.GetJSON(fingerprint, tokensBlobName, &b); err != nil {
		if err == authstore.ErrNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &b, nil
}

func saveTokens(store *authstore.Store, fingerprint string, b *TokenBundle) error {
	return store.PutJSON(fingerprint, tokensBlobName, b)
}

// PersistingTokenSource wraps an oauth2.TokenSource and persists the bundle
// to the credential store whenever the refresh token changes, so that a
// refresh performed mid-session survives process restarts.
type PersistingTokenSource struct {
	source      oauth2.TokenSource
	store       *authstore.Store
	fingerprint string

	mu        sync.Mutex
	lastToken *oauth2.Token
}

// NewPersistingTokenSource wraps source with persist-on-refresh-change
// behavior for fingerprint's token bundle.
func NewPersistingTokenSource(source oauth2.TokenSource, store *authstore.Store, fingerprint string) *PersistingTokenSource {
	return &PersistingTokenSource{source: source, store: store, fingerprint: fingerprint}
}

// Token returns a valid token, persisting it if its refresh token changed
// since the last call.
func (p *PersistingTokenSource) Token() (*oauth2.Token, error) {
	token, err := p.source.Token()
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if token.RefreshToken != "" && (p.lastToken == nil || token.RefreshToken != p.lastToken.RefreshToken) {
		if err := saveTokens(p.store, p.fingerprint, bundleFromOAuth2(token)); err != nil {
			logger.Warnf("oauthclient: failed to persist refreshed token: %v", err)
		} else {
			logger.Debugf("oauthclient: persisted refreshed token for %s", p.fingerprint)
		}
		p.lastToken = token
	}

	return token, nil
}

// SessionTokens holds the live token state for one proxy session: a
// TokenProvider backed by PersistingTokenSource, so an expiry-driven
// refresh is picked up and persisted transparently, plus a Finish hook
// that swaps in a freshly exchanged bundle after a 401 forces
// re-authorization mid-session (transport.AuthFinisher's contract).
type SessionTokens struct {
	mu     sync.Mutex
	config *oauth2.Config
	source oauth2.TokenSource

	store       *authstore.Store
	fingerprint string
}

// NewSessionTokens builds session token state around bundle, the result of
// the initial token acquisition, ready for its config's token endpoint to
// refresh it going forward.
func NewSessionTokens(store *authstore.Store, fingerprint string, config *oauth2.Config, bundle *TokenBundle) *SessionTokens {
	s := &SessionTokens{config: config, store: store, fingerprint: fingerprint}
	s.source = s.buildSource(bundle)
	return s
}

func (s *SessionTokens) buildSource(bundle *TokenBundle) oauth2.TokenSource {
	reuse := oauth2.ReuseTokenSource(bundle.toOAuth2(), s.config.TokenSource(context.Background(), bundle.toOAuth2()))
	return NewPersistingTokenSource(reuse, s.store, s.fingerprint)
}

// Provide is shaped as a transport.TokenProvider: the session's current
// access token, refreshed and persisted transparently as it expires.
func (s *SessionTokens) Provide(context.Context) (string, error) {
	s.mu.Lock()
	source := s.source
	s.mu.Unlock()
	token, err := source.Token()
	if err != nil {
		return "", err
	}
	return token.AccessToken, nil
}

// Finish returns a function shaped as a transport.AuthFinisher: it
// exchanges a freshly delivered authorization code via flow, persists the
// resulting bundle, and swaps it in as the session's current token source
// so the very next Provide call returns it.
func (s *SessionTokens) Finish(flow Flow) func(ctx context.Context, code string) error {
	return func(ctx context.Context, code string) error {
		bundle, err := flow.Exchange(ctx, code)
		if err != nil {
			return err
		}
		if err := saveTokens(s.store, s.fingerprint, bundle); err != nil {
			return err
		}
		s.mu.Lock()
		s.source = s.buildSource(bundle)
		s.mu.Unlock()
		return nil
	}
}

// BearerTokenSource is a static oauth2.TokenSource for pre-supplied bearer
// tokens (skips the OAuth dance entirely).
type BearerTokenSource struct {
	token string
}

// NewBearerTokenSource wraps a static bearer token.
func NewBearerTokenSource(token string) *BearerTokenSource {
	return &BearerTokenSource{token: token}
}

// Token always returns the same static token.
func (b *BearerTokenSource) Token() (*oauth2.Token, error) {
	return &oauth2.Token{AccessToken: b.token, TokenType: "Bearer"}, nil
}
