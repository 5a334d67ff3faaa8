package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/stacklok/mcp-remote-broker/pkg/logger"
)

// Endpoints is the result of discovery: the two endpoints the OAuth client
// needs. Discovery never fails outright — on any step's failure it falls
// back to the origin-derived defaults, which the caller is free to try and
// let the exchange itself reject.
type Endpoints struct {
	AuthorizationEndpoint string
	TokenEndpoint         string
	RegistrationEndpoint  string // RFC 7591, optional
}

// wellKnownDocument is the subset of RFC 8414 authorization-server metadata
// this broker consumes.
type wellKnownDocument struct {
	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint"`
	RegistrationEndpoint  string `json:"registration_endpoint"`
}

// DiscoverEndpoints runs the five-step discovery algorithm against
// serverURL, using headers on the initial unauthenticated probe.
func DiscoverEndpoints(ctx context.Context, serverURL string, headers map[string]string) (*Endpoints, error) {
	origin, err := originOf(serverURL)
	if err != nil {
		return nil, fmt.Errorf("discovery: invalid server URL: %w", err)
	}
	fallback := &Endpoints{
		AuthorizationEndpoint: origin + "/oauth/authorize",
		TokenEndpoint:         origin + "/oauth/token",
	}

	wwwAuth, err := probeUnauthenticated(ctx, serverURL, headers)
	if err != nil {
		logger.Debugf("discovery: unauthenticated probe failed, using fallback endpoints: %v", err)
		return fallback, nil
	}
	if wwwAuth == "" {
		return fallback, nil
	}

	authInfo, err := ParseWWWAuthenticate(wwwAuth)
	if err != nil || authInfo.ResourceMetadata == "" {
		return fallback, nil
	}

	resourceMeta, err := FetchResourceMetadata(ctx, authInfo.ResourceMetadata)
	if err != nil || len(resourceMeta.AuthorizationServers) == 0 {
		logger.Debugf("discovery: resource metadata fetch failed, using fallback endpoints: %v", err)
		return fallback, nil
	}

	doc, err := fetchWellKnown(ctx, resourceMeta.AuthorizationServers[0])
	if err != nil || doc.AuthorizationEndpoint == "" || doc.TokenEndpoint == "" {
		logger.Debugf("discovery: well-known fetch failed, using fallback endpoints: %v", err)
		return fallback, nil
	}

	return &Endpoints{
		AuthorizationEndpoint: doc.AuthorizationEndpoint,
		TokenEndpoint:         doc.TokenEndpoint,
		RegistrationEndpoint:  doc.RegistrationEndpoint,
	}, nil
}

// probeUnauthenticated issues the unauthenticated GET and returns the
// WWW-Authenticate header when the response is 401, "" otherwise.
func probeUnauthenticated(ctx context.Context, serverURL string, headers map[string]string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, serverURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	client := &http.Client{Timeout: DefaultHTTPTimeout}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxMetadataResponseSize))

	if resp.StatusCode != http.StatusUnauthorized {
		return "", nil
	}
	// Header lookup is case-insensitive by construction of net/http.Header.
	return resp.Header.Get("WWW-Authenticate"), nil
}

func fetchWellKnown(ctx context.Context, authServer string) (*wellKnownDocument, error) {
	wellKnownURL := strings.TrimSuffix(authServer, "/") + "/.well-known/oauth-authorization-server"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, wellKnownURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	client := &http.Client{Timeout: DefaultHTTPTimeout}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("well-known document request failed with status %d", resp.StatusCode)
	}

	var doc wellKnownDocument
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxMetadataResponseSize)).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to parse well-known document: %w", err)
	}
	return &doc, nil
}

func originOf(serverURL string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", err
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("missing scheme or host in %q", serverURL)
	}
	return u.Scheme + "://" + u.Host, nil
}
