// Package proxy implements the broker's bidirectional JSON-RPC forwarding
// between the local stdio client and the selected remote transport, with
// a tool filter applied along the way.
package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/stacklok/mcp-remote-broker/pkg/logger"
	"github.com/stacklok/mcp-remote-broker/pkg/toolfilter"
	"github.com/stacklok/mcp-remote-broker/pkg/transport"
)

// Version is the broker's own identifier, appended to the upstream
// client's name on the initialize handshake so the remote server can tell
// a proxied session from a direct one.
const Version = "0.1.0"

// pendingEntry is what the router remembers about an in-flight request
// between forwarding it to the server and seeing the matching response.
type pendingEntry struct {
	method string
}

// Router forwards messages between a local stdio Transport and a remote
// RemoteTransport, consulting a tool filter and rewriting two message
// shapes along the way.
type Router struct {
	Client transport.Transport
	Server transport.RemoteTransport
	Filter *toolfilter.Filter

	// Reauthorizer, when set, drives a fresh interactive authorization
	// round trip and returns the resulting code after the server answers
	// 401. The router exchanges it via Server.FinishAuth and retries the
	// request exactly once; a second 401 is treated as fatal.
	Reauthorizer func(ctx context.Context) (string, error)

	mu          sync.Mutex
	pending     map[string]pendingEntry
	authRetried bool

	closeOnce sync.Once
}

// New builds a Router. filter may be nil, meaning every tool is included.
func New(client transport.Transport, server transport.RemoteTransport, filter *toolfilter.Filter) *Router {
	return &Router{
		Client:  client,
		Server:  server,
		Filter:  filter,
		pending: make(map[string]pendingEntry),
	}
}

// envelope is the subset of a JSON-RPC message the router needs to
// inspect; everything else passes through as raw json.RawMessage so
// unrecognized fields are preserved verbatim.
type envelope struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Run drives the router until either side closes or ctx is cancelled. It
// blocks until both forwarding loops have returned.
func (r *Router) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		r.pumpClientToServer(ctx)
	}()
	go func() {
		defer wg.Done()
		r.pumpServerToClient(ctx)
	}()

	wg.Wait()
	return ctx.Err()
}

func (r *Router) pumpClientToServer(ctx context.Context) {
	for {
		msg, err := r.Client.Recv(ctx)
		if err != nil {
			logger.Debugf("proxy: client transport closed: %v", err)
			r.closeBoth()
			return
		}

		forward, err := r.handleClientMessage(ctx, msg)
		if err != nil {
			logger.Warnf("proxy: client->server: %v", err)
			continue
		}
		if forward == nil {
			continue
		}
		if err := r.Server.Send(ctx, forward); err != nil {
			if errors.Is(err, transport.ErrUnauthorized) && r.reauthorize(ctx) {
				err = r.Server.Send(ctx, forward)
			}
			if err != nil {
				logger.Warnf("proxy: forward to server: %v", err)
				if errors.Is(err, transport.ErrUnauthorized) {
					r.closeBoth()
					return
				}
			}
		}
	}
}

func (r *Router) pumpServerToClient(ctx context.Context) {
	for {
		msg, err := r.Server.Recv(ctx)
		if err != nil {
			if errors.Is(err, transport.ErrUnauthorized) && r.reauthorize(ctx) {
				continue
			}
			logger.Debugf("proxy: server transport closed: %v", err)
			r.closeBoth()
			return
		}

		forward, err := r.handleServerMessage(msg)
		if err != nil {
			logger.Warnf("proxy: server->client: %v", err)
			continue
		}
		if err := r.Client.Send(ctx, forward); err != nil {
			logger.Warnf("proxy: forward to client: %v", err)
		}
	}
}

// handleClientMessage records the pending request, applies the tool
// filter and initialize rewrite, and returns the message to forward (or
// nil if the call was blocked and answered locally).
func (r *Router) handleClientMessage(ctx context.Context, msg transport.Message) (transport.Message, error) {
	var env envelope
	if err := json.Unmarshal(msg, &env); err != nil {
		return msg, nil // not a recognizable JSON-RPC envelope; pass through
	}

	switch env.Method {
	case "tools/call":
		name, ok := toolCallName(env.Params)
		if ok && r.Filter != nil && !r.Filter.ShouldInclude(name) {
			reply, err := blockedResponse(env.ID, name)
			if err != nil {
				return nil, err
			}
			if err := r.Client.Send(ctx, reply); err != nil {
				return nil, fmt.Errorf("send blocked-tool response: %w", err)
			}
			return nil, nil
		}
		r.recordPending(env)
		return msg, nil
	case "initialize":
		r.recordPending(env)
		rewritten, err := rewriteClientInfoName(msg)
		if err != nil {
			return msg, nil // leave the message untouched rather than drop it
		}
		return rewritten, nil
	default:
		r.recordPending(env)
		return msg, nil
	}
}

// recordPending remembers a forwarded request's method so the matching
// response can be correlated back to it. Only requests that are actually
// forwarded get an entry — a blocked tools/call never reaches the server,
// so it never needs one.
func (r *Router) recordPending(env envelope) {
	if len(env.ID) == 0 || env.Method == "" {
		return
	}
	r.mu.Lock()
	r.pending[string(env.ID)] = pendingEntry{method: env.Method}
	r.mu.Unlock()
}

// handleServerMessage looks up the pending request the response
// correlates to and, if it was a tools/list call, filters the tool
// listing before forwarding.
func (r *Router) handleServerMessage(msg transport.Message) (transport.Message, error) {
	var env envelope
	if err := json.Unmarshal(msg, &env); err != nil {
		return msg, nil
	}
	if len(env.ID) == 0 {
		return msg, nil // notification; nothing to correlate
	}

	r.mu.Lock()
	entry, ok := r.pending[string(env.ID)]
	if ok {
		delete(r.pending, string(env.ID))
	}
	r.mu.Unlock()

	if ok && entry.method == "tools/list" && env.Result != nil {
		filtered, err := filterToolsListResult(msg, r.Filter)
		if err == nil {
			return filtered, nil
		}
		logger.Warnf("proxy: filter tools/list result: %v", err)
	}
	return msg, nil
}

// reauthorize handles a 401 from the remote transport: it drives the
// configured Reauthorizer for a fresh code, exchanges it via
// Server.FinishAuth, and reports whether the caller should retry. Allowed
// exactly once per router lifetime — a second 401 after a completed
// re-authorization indicates something other than an expired token.
func (r *Router) reauthorize(ctx context.Context) bool {
	if r.Reauthorizer == nil {
		return false
	}

	r.mu.Lock()
	if r.authRetried {
		r.mu.Unlock()
		return false
	}
	r.authRetried = true
	r.mu.Unlock()

	code, err := r.Reauthorizer(ctx)
	if err != nil {
		logger.Warnf("proxy: re-authorization failed: %v", err)
		return false
	}
	if err := r.Server.FinishAuth(ctx, code); err != nil {
		logger.Warnf("proxy: finish authorization: %v", err)
		return false
	}
	logger.Infof("proxy: re-authorized after 401 response, retrying")
	return true
}

func (r *Router) closeBoth() {
	r.closeOnce.Do(func() {
		if err := r.Client.Close(); err != nil {
			logger.Debugf("proxy: close client transport: %v", err)
		}
		if err := r.Server.Close(); err != nil {
			logger.Debugf("proxy: close server transport: %v", err)
		}
	})
}

func toolCallName(params json.RawMessage) (string, bool) {
	if len(params) == 0 {
		return "", false
	}
	var p struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(params, &p); err != nil || p.Name == "" {
		return "", false
	}
	return p.Name, true
}

func blockedResponse(id json.RawMessage, name string) (transport.Message, error) {
	body := struct {
		JSONRPC string          `json:"jsonrpc"`
		ID      json.RawMessage `json:"id"`
		Error   rpcError        `json:"error"`
	}{
		JSONRPC: "2.0",
		ID:      id,
		Error:   rpcError{Code: toolfilter.BlockedErrorCode, Message: toolfilter.BlockedMessage(name)},
	}
	return json.Marshal(body)
}

func rewriteClientInfoName(msg transport.Message) (transport.Message, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(msg, &raw); err != nil {
		return nil, err
	}
	paramsRaw, ok := raw["params"]
	if !ok {
		return msg, nil
	}
	var params map[string]json.RawMessage
	if err := json.Unmarshal(paramsRaw, &params); err != nil {
		return nil, err
	}
	clientInfoRaw, ok := params["clientInfo"]
	if !ok {
		return msg, nil
	}
	var clientInfo map[string]json.RawMessage
	if err := json.Unmarshal(clientInfoRaw, &clientInfo); err != nil {
		return nil, err
	}
	nameRaw, ok := clientInfo["name"]
	if !ok {
		return msg, nil
	}
	var name string
	if err := json.Unmarshal(nameRaw, &name); err != nil {
		return nil, err
	}

	name = fmt.Sprintf("%s (via mcp-remote %s)", name, Version)
	nameEncoded, err := json.Marshal(name)
	if err != nil {
		return nil, err
	}
	clientInfo["name"] = nameEncoded
	clientInfoEncoded, err := json.Marshal(clientInfo)
	if err != nil {
		return nil, err
	}
	params["clientInfo"] = clientInfoEncoded
	paramsEncoded, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	raw["params"] = paramsEncoded
	return json.Marshal(raw)
}

func filterToolsListResult(msg transport.Message, filter *toolfilter.Filter) (transport.Message, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(msg, &raw); err != nil {
		return nil, err
	}
	resultRaw, ok := raw["result"]
	if !ok {
		return msg, nil
	}
	var result struct {
		Tools []json.RawMessage `json:"tools"`
	}
	if err := json.Unmarshal(resultRaw, &result); err != nil {
		return nil, err
	}

	kept := make([]json.RawMessage, 0, len(result.Tools))
	for _, tool := range result.Tools {
		var t struct {
			Name string `json:"name"`
		}
		if err := json.Unmarshal(tool, &t); err != nil {
			kept = append(kept, tool) // can't inspect it; don't drop it
			continue
		}
		if filter == nil || filter.ShouldInclude(t.Name) {
			kept = append(kept, tool)
		}
	}

	var resultMap map[string]json.RawMessage
	if err := json.Unmarshal(resultRaw, &resultMap); err != nil {
		return nil, err
	}
	toolsEncoded, err := json.Marshal(kept)
	if err != nil {
		return nil, err
	}
	resultMap["tools"] = toolsEncoded
	resultEncoded, err := json.Marshal(resultMap)
	if err != nil {
		return nil, err
	}
	raw["result"] = resultEncoded
	return json.Marshal(raw)
}
