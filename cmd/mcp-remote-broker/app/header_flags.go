package app

import (
	"fmt"
	"os"
	"strings"

	httpval "github.com/stacklok/toolhive-core/validation/http"

	"github.com/stacklok/mcp-remote-broker/pkg/logger"
)

// parseHeaderForwardFlags parses repeated --header "Name: Value" flags into
// a map, substituting ${VARNAME} references from the process environment
// into each value before validating it.
func parseHeaderForwardFlags(headers []string) (map[string]string, error) {
	result := make(map[string]string, len(headers))
	for _, header := range headers {
		name, value, err := parseHeaderString(header)
		if err != nil {
			return nil, err
		}
		expanded := expandEnvWarn(value)
		if expanded != "" {
			if err := httpval.ValidateHeaderValue(expanded); err != nil {
				return nil, fmt.Errorf("invalid header value in %q after substitution: %w", header, err)
			}
		}
		result[name] = expanded
	}
	return result, nil
}

// parseHeaderString splits a single "Name: Value" header string and
// validates both halves for RFC 7230 compliance (rejects CRLF injection).
func parseHeaderString(header string) (string, string, error) {
	idx := strings.Index(header, ":")
	if idx == -1 {
		return "", "", fmt.Errorf("invalid header format %q: expected \"Name: Value\"", header)
	}

	name := strings.TrimSpace(header[:idx])
	value := strings.TrimSpace(header[idx+1:])

	if err := httpval.ValidateHeaderName(name); err != nil {
		return "", "", fmt.Errorf("invalid header name in %q: %w", header, err)
	}
	if value != "" {
		if err := httpval.ValidateHeaderValue(value); err != nil {
			return "", "", fmt.Errorf("invalid header value in %q: %w", header, err)
		}
	}
	return name, value, nil
}

// expandEnvWarn substitutes ${VARNAME} references from the environment.
// An undefined variable expands to the empty string and logs a warning,
// rather than os.Expand's silent-empty-string default.
func expandEnvWarn(value string) string {
	return os.Expand(value, func(name string) string {
		v, ok := os.LookupEnv(name)
		if !ok {
			logger.Warnf("header value references undefined environment variable %q", name)
			return ""
		}
		return v
	})
}
