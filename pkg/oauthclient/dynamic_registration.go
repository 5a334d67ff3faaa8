package oauthclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/stacklok/mcp-remote-broker/pkg/discovery"
	"github.com/stacklok/mcp-remote-broker/pkg/logger"
)

// ClientName identifies this broker to authorization servers during
// dynamic client registration.
const ClientName = "mcp-remote-broker"

const grantTypeAuthorizationCode = "authorization_code"
const responseTypeCode = "code"
const tokenEndpointAuthMethodNone = "none"

const maxDCRResponseSize = 1024 * 1024 // 1MB

// DynamicClientRegistrationRequest is an RFC 7591 registration request.
type DynamicClientRegistrationRequest struct {
	RedirectURIs            []string `json:"redirect_uris"`
	ClientName              string   `json:"client_name,omitempty"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method,omitempty"`
	GrantTypes              []string `json:"grant_types,omitempty"`
	ResponseTypes           []string `json:"response_types,omitempty"`
	Scopes                  []string `json:"scope,omitempty"`
}

// NewDynamicClientRegistrationRequest builds the standard registration
// request this broker sends: a single loopback redirect URI, no client
// secret (PKCE carries the proof instead).
func NewDynamicClientRegistrationRequest(scopes []string, callbackHost string, callbackPort int, callbackPath string) *DynamicClientRegistrationRequest {
	redirectURI := fmt.Sprintf("http://%s:%d%s", callbackHost, callbackPort, callbackPath)
	return &DynamicClientRegistrationRequest{
		ClientName:              ClientName,
		RedirectURIs:            []string{redirectURI},
		TokenEndpointAuthMethod: tokenEndpointAuthMethodNone,
		GrantTypes:              []string{grantTypeAuthorizationCode},
		ResponseTypes:           []string{responseTypeCode},
		Scopes:                  scopes,
	}
}

// DynamicClientRegistrationResponse is an RFC 7591 registration response.
type DynamicClientRegistrationResponse struct {
	ClientID                string   `json:"client_id"`
	ClientSecret            string   `json:"client_secret,omitempty"`
	ClientIDIssuedAt        int64    `json:"client_id_issued_at,omitempty"`
	ClientSecretExpiresAt   int64    `json:"client_secret_expires_at,omitempty"`
	RegistrationAccessToken string   `json:"registration_access_token,omitempty"`
	RegistrationClientURI   string   `json:"registration_client_uri,omitempty"`
	ClientName              string   `json:"client_name,omitempty"`
	RedirectURIs            []string `json:"redirect_uris,omitempty"`
}

// RegisterClientDynamically performs RFC 7591 dynamic client registration
// against registrationEndpoint.
func RegisterClientDynamically(
	ctx context.Context,
	registrationEndpoint string,
	request *DynamicClientRegistrationRequest,
) (*DynamicClientRegistrationResponse, error) {
	regURL, err := url.Parse(registrationEndpoint)
	if err != nil {
		return nil, fmt.Errorf("oauthclient: invalid registration endpoint: %w", err)
	}
	if regURL.Scheme != "https" && !discovery.IsLocalhost(regURL.Host) {
		return nil, fmt.Errorf("oauthclient: registration endpoint must use HTTPS: %s", registrationEndpoint)
	}

	body, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("oauthclient: marshal registration request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, registrationEndpoint, strings.NewReader(string(body)))
	if err != nil {
		return nil, fmt.Errorf("oauthclient: build registration request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	client := &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: 10 * time.Second,
		},
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, EnrichNetworkError(fmt.Errorf("oauthclient: dynamic client registration request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxDCRResponseSize))
		return nil, fmt.Errorf("oauthclient: dynamic client registration failed with status %d: %s", resp.StatusCode, errBody)
	}

	var out DynamicClientRegistrationResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxDCRResponseSize)).Decode(&out); err != nil {
		return nil, fmt.Errorf("oauthclient: decode registration response: %w", err)
	}
	if out.ClientID == "" {
		return nil, fmt.Errorf("oauthclient: registration response missing client_id")
	}

	logger.Infof("oauthclient: dynamically registered OAuth client %s", out.ClientID)
	return &out, nil
}
