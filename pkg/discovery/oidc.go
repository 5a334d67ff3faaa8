package discovery

import (
	"context"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
)

// EnrichFromOIDCIssuer attempts OIDC discovery against issuer and, on
// success, returns the endpoints it advertises. No code in this module
// calls it: DiscoverEndpoints reads only the RFC 8414 well-known document.
func EnrichFromOIDCIssuer(ctx context.Context, issuer string) (*Endpoints, error) {
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("discovery: OIDC discovery against %s failed: %w", issuer, err)
	}

	var claims struct {
		AuthorizationEndpoint string `json:"authorization_endpoint"`
		TokenEndpoint         string `json:"token_endpoint"`
		RegistrationEndpoint  string `json:"registration_endpoint"`
	}
	if err := provider.Claims(&claims); err != nil {
		return nil, fmt.Errorf("discovery: parse OIDC provider metadata: %w", err)
	}
	if claims.AuthorizationEndpoint == "" || claims.TokenEndpoint == "" {
		return nil, fmt.Errorf("discovery: OIDC metadata for %s missing required endpoints", issuer)
	}

	return &Endpoints{
		AuthorizationEndpoint: claims.AuthorizationEndpoint,
		TokenEndpoint:         claims.TokenEndpoint,
		RegistrationEndpoint:  claims.RegistrationEndpoint,
	}, nil
}
