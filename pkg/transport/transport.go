// Package transport implements the broker's remote-side message
// transports (streamable HTTP and SSE), the stdio transport to the local
// client, and the strategy-driven selector that picks between them with a
// single fallback.
package transport

import (
	"context"
	"encoding/json"
	"strings"
)

// Message is a single framed JSON-RPC message, passed through unparsed
// except for the fields the proxy router needs to inspect.
type Message = json.RawMessage

// TokenProvider returns the current bearer token to present to the remote
// server. It is called on every outbound request rather than cached, so a
// token refreshed mid-session is always picked up.
type TokenProvider func(ctx context.Context) (string, error)

// Transport is the minimal bidirectional message channel the proxy router
// drives. Both the local stdio transport and the remote transports
// implement it.
type Transport interface {
	// Send writes one message.
	Send(ctx context.Context, msg Message) error
	// Recv blocks for the next message, or returns an error (including
	// io.EOF-equivalent) when the peer closes.
	Recv(ctx context.Context) (Message, error)
	Close() error
}

// RemoteTransport is a Transport to the remote MCP server, with an extra
// hook to hand a fresh authorization code back in after an Unauthorized
// response triggers re-authorization (PKCE or classical flow).
type RemoteTransport interface {
	Transport
	// FinishAuth completes an in-flight authorization using code,
	// swapping in the resulting token for subsequent requests.
	FinishAuth(ctx context.Context, code string) error
}

// Strategy selects which remote transport family to attempt, and whether
// to fall back to the other on specific error classes.
type Strategy string

const (
	StrategySSEOnly   Strategy = "sse-only"
	StrategyHTTPOnly  Strategy = "http-only"
	StrategySSEFirst  Strategy = "sse-first"
	StrategyHTTPFirst Strategy = "http-first"

	DefaultStrategy = StrategyHTTPFirst
)

// fallbackTriggers are the substrings in an error's message that justify a
// single automatic transport fallback under a "*-first" strategy.
var fallbackTriggers = []string{"404", "405", "Not Found", "Method Not Allowed"}

func isFallbackEligible(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, trigger := range fallbackTriggers {
		if strings.Contains(msg, trigger) {
			return true
		}
	}
	return false
}
