// Package discovery implements endpoint discovery: finding a remote MCP
// server's OAuth authorization and token endpoints from its unauthenticated
// responses.
package discovery

import (
	"fmt"
	"strings"

	"github.com/stacklok/mcp-remote-broker/pkg/logger"
)

// AuthInfo is the parsed content of a WWW-Authenticate challenge.
type AuthInfo struct {
	Type             string
	Realm            string
	ResourceMetadata string
	Error            string
	ErrorDescription string
}

// ParseWWWAuthenticate parses a WWW-Authenticate header value, supporting
// the Bearer and OAuth schemes (RFC 6750 / RFC 9728). Basic and Digest are
// recognized but rejected as unsupported.
func ParseWWWAuthenticate(header string) (*AuthInfo, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return nil, fmt.Errorf("empty WWW-Authenticate header")
	}

	if strings.HasPrefix(header, "Bearer") {
		info := &AuthInfo{Type: "OAuth"}
		params := strings.TrimSpace(strings.TrimPrefix(header, "Bearer"))
		if params != "" {
			info.Realm = ExtractParameter(params, "realm")
			info.ResourceMetadata = ExtractParameter(params, "resource_metadata")
			info.Error = ExtractParameter(params, "error")
			info.ErrorDescription = ExtractParameter(params, "error_description")
		}
		return info, nil
	}

	if strings.HasPrefix(header, "OAuth") {
		info := &AuthInfo{Type: "OAuth"}
		params := strings.TrimSpace(strings.TrimPrefix(header, "OAuth"))
		if params != "" {
			info.Realm = ExtractParameter(params, "realm")
			info.ResourceMetadata = ExtractParameter(params, "resource_metadata")
		}
		return info, nil
	}

	if strings.HasPrefix(header, "Basic") || strings.HasPrefix(header, "Digest") {
		logger.Debugf("unsupported authentication scheme: %s", header)
		return nil, fmt.Errorf("unsupported authentication scheme: %s", strings.Split(header, " ")[0])
	}

	return nil, fmt.Errorf("no supported authentication type found in header: %s", header)
}

// ExtractParameter extracts a parameter value from an auth-header parameter
// list, handling both quoted (with backslash-escaped quotes) and unquoted
// comma/space-terminated values.
func ExtractParameter(params, paramName string) string {
	searchStr := paramName + "="
	idx := strings.Index(params, searchStr)
	if idx == -1 {
		return ""
	}

	valueStart := idx + len(searchStr)
	if valueStart >= len(params) {
		return ""
	}
	remainder := params[valueStart:]

	if strings.HasPrefix(remainder, `"`) {
		endIdx := 1
		for endIdx < len(remainder) {
			if remainder[endIdx] == '"' && remainder[endIdx-1] != '\\' {
				value := remainder[1:endIdx]
				return strings.ReplaceAll(value, `\"`, `"`)
			}
			endIdx++
		}
		return ""
	}

	endIdx := 0
	for endIdx < len(remainder) {
		if remainder[endIdx] == ',' || remainder[endIdx] == ' ' {
			break
		}
		endIdx++
	}
	return strings.TrimSpace(remainder[:endIdx])
}
