package oauthclient

import (
	"context"
	"time"

	"github.com/stacklok/mcp-remote-broker/pkg/authstore"
	"github.com/stacklok/mcp-remote-broker/pkg/logger"
)

// Refresher trades a refresh token for a new access token. Both ClassicalFlow
// and PKCEFlow implement it.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (*TokenBundle, error)
}

// clientInfoBlobName holds a dynamically registered client's credentials,
// keyed per server fingerprint so a later invocation can skip registration.
const clientInfoBlobName = "client_info.json"

// verifierBlobName is the blob InvalidateCredentials removes for the
// verifier scope. PKCEFlow keeps its verifier in memory; nothing in this
// package writes this blob.
const verifierBlobName = "code_verifier.json"

// EnsureAccessToken implements the three-step token-acquisition algorithm:
// reuse a cached access token if still valid, else refresh if a refresh
// token is on file, else fall back to a full interactive
// authorization. The resulting bundle is persisted before its access token
// is returned.
func EnsureAccessToken(
	ctx context.Context,
	store *authstore.Store,
	fingerprint string,
	flow Flow,
	refresher Refresher,
	authorizer *BrowserAuthorizer,
	host string,
	port int,
	path string,
	authTimeout time.Duration,
) (*TokenBundle, error) {
	cached, err := loadTokens(store, fingerprint)
	if err != nil {
		return nil, err
	}

	if cached.valid() {
		return cached, nil
	}

	if cached != nil && cached.RefreshToken != "" {
		refreshed, rerr := refresher.Refresh(ctx, cached.RefreshToken)
		if rerr == nil {
			if err := saveTokens(store, fingerprint, refreshed); err != nil {
				return nil, err
			}
			return refreshed, nil
		}
		logger.Warnf("oauthclient: refresh failed for %s, falling back to interactive authorization: %v", fingerprint, rerr)
	}

	persist := func(b *TokenBundle) error {
		return saveTokens(store, fingerprint, b)
	}
	return authorizer.Authorize(ctx, flow, host, port, path, authTimeout, persist)
}

// InvalidationScope selects which credential blobs to remove.
type InvalidationScope string

const (
	// InvalidateAll removes every persisted credential for a server.
	InvalidateAll InvalidationScope = "all"
	// InvalidateClient removes only the dynamically registered client info.
	InvalidateClient InvalidationScope = "client"
	// InvalidateTokens removes only the access/refresh token bundle.
	InvalidateTokens InvalidationScope = "tokens"
	// InvalidateVerifier removes only an in-flight PKCE verifier.
	InvalidateVerifier InvalidationScope = "verifier"
)

// InvalidateCredentials deletes the blobs named by scope for fingerprint.
func InvalidateCredentials(store *authstore.Store, fingerprint string, scope InvalidationScope) error {
	blobs := map[InvalidationScope][]string{
		InvalidateAll:      {tokensBlobName, clientInfoBlobName, verifierBlobName},
		InvalidateClient:   {clientInfoBlobName},
		InvalidateTokens:   {tokensBlobName},
		InvalidateVerifier: {verifierBlobName},
	}[scope]

	for _, blob := range blobs {
		if err := store.Delete(fingerprint, blob); err != nil {
			return err
		}
	}
	return nil
}
