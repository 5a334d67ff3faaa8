package oauthclient

import (
	"context"
	"fmt"

	"github.com/stacklok/mcp-remote-broker/pkg/authstore"
)

// cachedClientInfo is what EnsureDynamicClient persists so a later
// invocation for the same fingerprint can skip registration entirely.
type cachedClientInfo struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret,omitempty"`
}

// EnsureDynamicClient returns a dynamically registered OAuth client for
// fingerprint, registering one via RFC 7591 against registrationEndpoint
// the first time and reusing the persisted client_id/client_secret on
// every subsequent call.
func EnsureDynamicClient(
	ctx context.Context,
	store *authstore.Store,
	fingerprint string,
	registrationEndpoint string,
	scopes []string,
	callbackHost string,
	callbackPort int,
	callbackPath string,
) (clientID, clientSecret string, err error) {
	var cached cachedClientInfo
	if getErr := store.GetJSON(fingerprint, clientInfoBlobName, &cached); getErr == nil {
		return cached.ClientID, cached.ClientSecret, nil
	} else if getErr != authstore.ErrNotFound {
		return "", "", getErr
	}

	if registrationEndpoint == "" {
		return "", "", fmt.Errorf("oauthclient: no registration endpoint discovered and no cached client")
	}

	request := NewDynamicClientRegistrationRequest(scopes, callbackHost, callbackPort, callbackPath)
	resp, err := RegisterClientDynamically(ctx, registrationEndpoint, request)
	if err != nil {
		return "", "", err
	}

	info := cachedClientInfo{ClientID: resp.ClientID, ClientSecret: resp.ClientSecret}
	if err := store.PutJSON(fingerprint, clientInfoBlobName, info); err != nil {
		return "", "", fmt.Errorf("oauthclient: persist registered client: %w", err)
	}
	return info.ClientID, info.ClientSecret, nil
}

// LoadCachedAccessToken returns the access token from fingerprint's
// persisted token bundle. Used by secondary broker instances, which never
// run the interactive flow themselves and must read tokens the leader
// wrote to disk.
func LoadCachedAccessToken(store *authstore.Store, fingerprint string) (string, error) {
	bundle, err := loadTokens(store, fingerprint)
	if err != nil {
		return "", err
	}
	if bundle == nil || bundle.AccessToken == "" {
		return "", fmt.Errorf("oauthclient: no token bundle on disk for %s", fingerprint)
	}
	return bundle.AccessToken, nil
}
