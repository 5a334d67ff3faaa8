package transport

import "errors"

// ErrUnauthorized is returned by a remote transport when the server
// responds 401, signaling the connection driver to re-run authorization.
var ErrUnauthorized = errors.New("transport: unauthorized")

// ErrFallbackAlreadyAttempted is the fatal error raised when a second
// transport fallback would be needed; only one is ever allowed.
var ErrFallbackAlreadyAttempted = errors.New("transport: already attempted transport fallback")
