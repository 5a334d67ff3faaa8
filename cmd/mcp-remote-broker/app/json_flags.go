package app

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strings"
)

// loadJSONFlag parses raw as either inline JSON or, when prefixed with
// "@", a path to a file containing JSON — the "<json | @file>" flag
// convention shared by --static-oauth-client-metadata and
// --static-oauth-client-info.
func loadJSONFlag(raw string, out any) error {
	if raw == "" {
		return nil
	}
	data := []byte(raw)
	if strings.HasPrefix(raw, "@") {
		path := strings.TrimPrefix(raw, "@")
		content, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		data = content
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse JSON: %w", err)
	}
	return nil
}

// staticClientInfo is the static-oauth-client-info flag's shape: a
// classical-flow client already registered with the remote's authorization
// server, so dynamic client registration can be skipped entirely.
type staticClientInfo struct {
	ClientID     string   `json:"client_id"`
	ClientSecret string   `json:"client_secret"`
	RedirectURIs []string `json:"redirect_uris"`
}

// staticClientMetadata is the static-oauth-client-metadata flag's shape.
// Only Scopes is used: it is passed to dynamic client registration and to
// the OAuth2 config. ClientName and RedirectURIs are parsed but not sent.
type staticClientMetadata struct {
	ClientName   string   `json:"client_name"`
	Scopes       []string `json:"scope"`
	RedirectURIs []string `json:"redirect_uris"`
}

// validateServerURL enforces the HTTPS-unless-localhost rule: server-url
// must be https:// unless the host is localhost or 127.0.0.1, or
// --allow-http overrides the check.
func validateServerURL(raw string, allowHTTP bool) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid server URL %q: %w", raw, err)
	}
	if u.Scheme == "https" {
		return nil
	}
	if allowHTTP {
		return nil
	}
	host := u.Hostname()
	if host == "localhost" || host == "127.0.0.1" {
		return nil
	}
	return fmt.Errorf("server URL %q must use https:// (use --allow-http to override for a remote host)", raw)
}
