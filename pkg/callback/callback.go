// Package callback implements the loopback HTTP server that receives the
// OAuth authorization-code redirect and coordinates its handoff to both the
// broker that started it and any sibling broker processes waiting on it.
package callback

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/stacklok/mcp-remote-broker/pkg/logger"
)

// DefaultAuthTimeout is the default long-poll window for /wait-for-auth.
const DefaultAuthTimeout = 30 * time.Second

// DefaultCallbackPath is the default redirect path registered with the
// authorization server.
const DefaultCallbackPath = "/oauth/callback"

// Server is a single-process loopback HTTP server. The zero value is not
// usable; construct one with New.
//
// It exposes two distinct signals, deliberately kept separate: the
// redirect handler resolving a code (AwaitCode, for the process driving
// the exchange) and the whole authorization attempt completing — code
// exchanged and persisted to disk (Received/handleWaitForAuth, for
// sibling processes long-polling /wait-for-auth). A secondary must never
// see 200 before the leader's bundle is actually safe to read off disk.
type Server struct {
	path        string
	expectState string
	authTimeout time.Duration

	mu       sync.Mutex
	received bool
	code     string
	err      error
	codeDone chan struct{} // closed exactly once, when the redirect handler resolves

	completeOnce sync.Once
	completeErr  error
	completeDone chan struct{} // closed exactly once, when the caller marks the attempt complete

	listener net.Listener
	http     *http.Server
}

// New constructs a callback server listening on host:port (port 0 means
// "let the OS choose"). expectState, when non-empty, is compared against
// the callback's state query parameter; a mismatch is reported as an error
// from AwaitCode rather than a received code.
func New(host string, port int, path, expectState string, authTimeout time.Duration) *Server {
	if path == "" {
		path = DefaultCallbackPath
	}
	if authTimeout <= 0 {
		authTimeout = DefaultAuthTimeout
	}
	s := &Server{
		path:         path,
		expectState:  expectState,
		authTimeout:  authTimeout,
		codeDone:     make(chan struct{}),
		completeDone: make(chan struct{}),
	}

	mux := chi.NewRouter()
	mux.Get(path, s.handleCallback)
	mux.Get("/wait-for-auth", s.handleWaitForAuth)

	s.http = &http.Server{Addr: fmt.Sprintf("%s:%d", host, port), Handler: mux}
	return s
}

// Start binds the listener and begins serving in the background. Returns
// the actual bound port (useful when the constructor was given port 0). An
// occupied port is returned as an error; no other port is tried.
func (s *Server) Start() (int, error) {
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return 0, fmt.Errorf("callback: listen: %w", err)
	}
	s.listener = ln

	go func() {
		if err := s.http.Serve(ln); err != nil && err != http.ErrServerClosed {
			logger.Warnf("callback server exited: %v", err)
		}
	}()

	return ln.Addr().(*net.TCPAddr).Port, nil
}

// Close shuts down the server. Safe to call more than once and safe to
// call whether or not a code was ever received — every exit path from an
// authorization attempt must reach this.
func (s *Server) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return s.http.Shutdown(ctx)
}

// AwaitCode blocks until the redirect handler receives a code (or a
// state-mismatch/missing-code error), or ctx is done. This fires as soon
// as the redirect lands — well before the code has been exchanged or
// persisted.
func (s *Server) AwaitCode(ctx context.Context) (string, error) {
	select {
	case <-s.codeDone:
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.code, s.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// MarkComplete signals that the whole authorization attempt is finished —
// the code has been exchanged and, on success, the resulting bundle is
// already durable on disk. Only after this fires do Received and
// handleWaitForAuth report success, so a sibling process long-polling
// /wait-for-auth never observes 200 before it is safe to read the token
// bundle the leader wrote. Safe to call more than once; only the first
// call's outcome is recorded.
func (s *Server) MarkComplete(err error) {
	s.completeOnce.Do(func() {
		s.mu.Lock()
		s.completeErr = err
		s.received = err == nil
		s.mu.Unlock()
		close(s.completeDone)
	})
}

// Received reports whether the authorization attempt has completed
// successfully, for the /wait-for-auth?poll=false health probe.
func (s *Server) Received() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.received
}

func (s *Server) resolveCode(code string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.codeDone:
		return // single-shot: first result wins
	default:
	}
	s.code = code
	s.err = err
	close(s.codeDone)
}

func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	if code == "" {
		http.Error(w, "missing code parameter", http.StatusBadRequest)
		return
	}

	if s.expectState != "" {
		if got := r.URL.Query().Get("state"); got != s.expectState {
			s.resolveCode("", fmt.Errorf("callback: state mismatch: expected %q, got %q", s.expectState, got))
			http.Error(w, "state mismatch", http.StatusBadRequest)
			return
		}
	}

	s.resolveCode(code, nil)

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(callbackPage))
}

// handleWaitForAuth implements both /wait-for-auth?poll=false (immediate
// 200/202 health probe) and /wait-for-auth (long-poll up to authTimeout).
// Both gate on the authorization attempt having fully completed — code
// exchanged and bundle persisted — never merely on the redirect landing.
func (s *Server) handleWaitForAuth(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("poll") == "false" {
		if s.Received() {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusAccepted)
		}
		return
	}

	if s.Received() {
		w.WriteHeader(http.StatusOK)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.authTimeout)
	defer cancel()

	select {
	case <-s.completeDone:
		if s.Received() {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusAccepted)
		}
	case <-ctx.Done():
		w.WriteHeader(http.StatusAccepted)
	}
}

const callbackPage = `<!DOCTYPE html>
<html><head><title>Authorization complete</title></head>
<body>
<p>Authorization complete. You may close this window.</p>
<script>window.close();</script>
</body></html>`
