package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultHTTPTimeout bounds every discovery HTTP call.
const DefaultHTTPTimeout = 10 * time.Second

const maxMetadataResponseSize = 1024 * 1024 // 1MB

// RFC9728AuthInfo is OAuth 2.0 Protected Resource Metadata (RFC 9728).
type RFC9728AuthInfo struct {
	Resource               string   `json:"resource"`
	AuthorizationServers   []string `json:"authorization_servers"`
	BearerMethodsSupported []string `json:"bearer_methods_supported"`
	JWKSURI                string   `json:"jwks_uri"`
	ScopesSupported        []string `json:"scopes_supported"`
}

// FetchResourceMetadata fetches and validates a protected-resource metadata
// document. Enforces HTTPS unless the host is localhost/127.0.0.1.
func FetchResourceMetadata(ctx context.Context, metadataURL string) (*RFC9728AuthInfo, error) {
	if metadataURL == "" {
		return nil, fmt.Errorf("metadata URL is empty")
	}

	parsedURL, err := url.Parse(metadataURL)
	if err != nil {
		return nil, fmt.Errorf("invalid metadata URL: %w", err)
	}
	if parsedURL.Scheme != "https" && !IsLocalhost(parsedURL.Host) {
		return nil, fmt.Errorf("metadata URL must use HTTPS: %s", metadataURL)
	}

	client := &http.Client{
		Timeout: DefaultHTTPTimeout,
		Transport: &http.Transport{
			TLSHandshakeTimeout:   5 * time.Second,
			ResponseHeaderTimeout: 5 * time.Second,
		},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, metadataURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch metadata: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("metadata request failed with status %d", resp.StatusCode)
	}

	contentType := strings.ToLower(resp.Header.Get("Content-Type"))
	if !strings.Contains(contentType, "application/json") {
		return nil, fmt.Errorf("unexpected content type: %s", contentType)
	}

	var metadata RFC9728AuthInfo
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxMetadataResponseSize)).Decode(&metadata); err != nil {
		return nil, fmt.Errorf("failed to parse metadata: %w", err)
	}
	if metadata.Resource == "" {
		return nil, fmt.Errorf("metadata missing required 'resource' field")
	}

	return &metadata, nil
}

// IsLocalhost reports whether host (optionally "host:port") refers to the
// loopback interface.
func IsLocalhost(host string) bool {
	h := host
	if hostOnly, _, err := net.SplitHostPort(host); err == nil {
		h = hostOnly
	}
	h = strings.Trim(h, "[]")
	return h == "localhost" || h == "127.0.0.1" || h == "::1"
}
