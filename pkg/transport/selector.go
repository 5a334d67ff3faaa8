package transport

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/stacklok/mcp-remote-broker/pkg/logger"
)

// Selector connects to a remote MCP server per a configured Strategy,
// falling back between the streamable-HTTP and SSE transport families
// exactly once when the first attempt fails with a class of error that
// indicates the family isn't supported.
type Selector struct {
	Strategy      Strategy
	ServerURL     string
	Headers       map[string]string
	TokenProvider TokenProvider
	AuthFinisher  AuthFinisher

	// probe defaults to probeCapability; startSSE defaults to starting a
	// real SSETransport. Tests override either to avoid depending on a
	// live MCP-speaking server.
	probe    func(ctx context.Context, serverURL string) error
	startSSE func(ctx context.Context) (RemoteTransport, error)
}

// NewSelector returns a Selector wired to the real go-sdk capability probe.
func NewSelector(strategy Strategy, serverURL string, headers map[string]string, tokenProvider TokenProvider, authFinisher AuthFinisher) *Selector {
	s := &Selector{
		Strategy: strategy, ServerURL: serverURL, Headers: headers,
		TokenProvider: tokenProvider, AuthFinisher: authFinisher,
	}
	s.probe = s.probeCapability
	return s
}

// recursionReasons tracks whether a transport-family fallback has already
// been attempted this connection attempt, so a second occurrence is
// treated as fatal rather than retried forever. Unauthorized-response
// retry during an established session is a separate, later-stage concern
// handled by proxy.Router.reauthorize, not this connect-time selector.
type recursionReasons struct {
	transportFallback bool
}

// Connect builds and returns a RemoteTransport per the selector's
// strategy, performing at most one transport fallback.
func (s *Selector) Connect(ctx context.Context) (RemoteTransport, error) {
	reasons := &recursionReasons{}
	return s.connect(ctx, s.Strategy, reasons)
}

func (s *Selector) connect(ctx context.Context, strategy Strategy, reasons *recursionReasons) (RemoteTransport, error) {
	switch strategy {
	case StrategyHTTPOnly:
		return s.connectHTTP(ctx)
	case StrategySSEOnly:
		return s.connectSSE(ctx)
	case StrategyHTTPFirst:
		t, err := s.connectHTTP(ctx)
		if err == nil {
			return t, nil
		}
		if !isFallbackEligible(err) {
			return nil, err
		}
		if reasons.transportFallback {
			return nil, ErrFallbackAlreadyAttempted
		}
		reasons.transportFallback = true
		logger.Warnf("transport: streamable HTTP unavailable (%v), falling back to SSE", err)
		return s.connect(ctx, StrategySSEFirst, reasons)
	case StrategySSEFirst:
		t, err := s.connectSSE(ctx)
		if err == nil {
			return t, nil
		}
		if !isFallbackEligible(err) {
			return nil, err
		}
		if reasons.transportFallback {
			return nil, ErrFallbackAlreadyAttempted
		}
		reasons.transportFallback = true
		logger.Warnf("transport: SSE unavailable (%v), falling back to streamable HTTP", err)
		return s.connect(ctx, StrategyHTTPFirst, reasons)
	default:
		return nil, fmt.Errorf("transport: unknown strategy %q", strategy)
	}
}

func (s *Selector) connectHTTP(ctx context.Context) (RemoteTransport, error) {
	t := NewHTTPStreamTransport(s.ServerURL, s.Headers, s.TokenProvider, s.AuthFinisher)
	probe := s.probe
	if probe == nil {
		probe = s.probeCapability
	}
	if err := probe(ctx, s.ServerURL); err != nil {
		return nil, err
	}
	return t, nil
}

func (s *Selector) connectSSE(ctx context.Context) (RemoteTransport, error) {
	if s.startSSE != nil {
		return s.startSSE(ctx)
	}
	t := NewSSETransport(s.ServerURL, s.Headers, s.TokenProvider, s.AuthFinisher)
	if err := t.Start(ctx); err != nil {
		return nil, err
	}
	return t, nil
}

// probeCapability issues a throwaway MCP initialize handshake through the
// go-sdk client, purely to force the server to reveal whether it actually
// speaks streamable HTTP — constructing an HTTPStreamTransport never sends
// a request on its own.
func (s *Selector) probeCapability(ctx context.Context, serverURL string) error {
	client := mcp.NewClient(&mcp.Implementation{Name: "mcp-remote-broker-probe", Version: "0.1.0"}, nil)
	probeTransport := &mcp.StreamableClientTransport{Endpoint: serverURL}

	session, err := client.Connect(ctx, probeTransport, nil)
	if err != nil {
		return fmt.Errorf("transport: capability probe: %w", err)
	}
	defer session.Close()
	return nil
}
