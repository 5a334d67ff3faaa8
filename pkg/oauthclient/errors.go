package oauthclient

import (
	"errors"
	"fmt"
	"strings"
)

// TokenExchangeFailed is returned when a code→token exchange gets a
// non-2xx response from the token endpoint.
type TokenExchangeFailed struct {
	Status int
	Body   string
}

func (e *TokenExchangeFailed) Error() string {
	return fmt.Sprintf("token exchange failed with status %d: %s", e.Status, e.Body)
}

// TokenRefreshFailed is returned when a refresh_token grant fails.
type TokenRefreshFailed struct {
	Status int
	Body   string
}

func (e *TokenRefreshFailed) Error() string {
	return fmt.Sprintf("token refresh failed with status %d: %s", e.Status, e.Body)
}

// ErrNoRefreshToken names a refresh attempted with no refresh token on
// file. No code in this module returns it: EnsureAccessToken skips the
// refresh and goes to interactive authorization when none is stored.
var ErrNoRefreshToken = errors.New("oauthclient: no refresh token available")

// ErrUnauthorized names a 401 response from the remote resource server.
// No code in this module returns it; the remote transports report a 401
// as transport.ErrUnauthorized.
var ErrUnauthorized = errors.New("oauthclient: unauthorized")

// ErrStateMismatch names a callback whose state parameter didn't match the
// one sent in the authorization request. No code in this module returns
// it; the callback server reports a mismatch with its own error value.
var ErrStateMismatch = errors.New("oauthclient: state mismatch")

const selfSignedHint = "self-signed certificate in certificate chain"

// EnrichNetworkError appends an actionable hint when err's text indicates a
// self-signed TLS certificate.
func EnrichNetworkError(err error) error {
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), selfSignedHint) {
		return fmt.Errorf("%w (hint: the remote's TLS certificate is not trusted; "+
			"if this is expected, point your system's CA trust store at it)", err)
	}
	return err
}
