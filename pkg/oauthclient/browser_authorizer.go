package oauthclient

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/browser"

	"github.com/stacklok/mcp-remote-broker/pkg/callback"
	"github.com/stacklok/mcp-remote-broker/pkg/logger"
)

// Flow is the shared contract between ClassicalFlow and PKCEFlow that
// BrowserAuthorizer drives to completion.
type Flow interface {
	AuthorizationURL() string
	ExpectedState() string
	Exchange(ctx context.Context, code string) (*TokenBundle, error)
}

// BrowserAuthorizer drives the interactive half of the authorization-code
// flow: start a loopback callback server, open the system browser at the
// flow's authorization URL, block for the redirect, and exchange the code
// (start -> wait -> exchange -> close).
type BrowserAuthorizer struct {
	// OpenBrowser defaults to browser.OpenURL; tests override it to avoid
	// actually launching a browser.
	OpenBrowser func(url string) error
}

// NewBrowserAuthorizer returns a BrowserAuthorizer that launches the
// system's default browser.
func NewBrowserAuthorizer() *BrowserAuthorizer {
	return &BrowserAuthorizer{OpenBrowser: browser.OpenURL}
}

// Authorize starts a callback server bound to host:port, opens flow's
// authorization URL in the browser, waits for the redirect until ctx is
// done, and exchanges the resulting code. authTimeout bounds each
// /wait-for-auth long-poll the callback server answers. If persist is non-nil, it is
// called with the exchanged bundle before the callback server reports
// completion to any sibling process long-polling /wait-for-auth, so a
// secondary never observes success before the bundle persist has actually
// happened. The callback server is always closed before returning, on
// every exit path.
func (a *BrowserAuthorizer) Authorize(
	ctx context.Context,
	flow Flow,
	host string,
	port int,
	path string,
	authTimeout time.Duration,
	persist func(*TokenBundle) error,
) (*TokenBundle, error) {
	srv := callback.New(host, port, path, flow.ExpectedState(), authTimeout)
	actualPort, err := srv.Start()
	if err != nil {
		return nil, fmt.Errorf("oauthclient: start callback server: %w", err)
	}
	defer func() {
		if cerr := srv.Close(); cerr != nil {
			logger.Warnf("oauthclient: closing callback server: %v", cerr)
		}
	}()

	if actualPort != port && port != 0 {
		logger.Warnf("oauthclient: callback server bound to port %d instead of requested %d", actualPort, port)
	}

	authURL := flow.AuthorizationURL()
	logger.Infof("oauthclient: opening browser for authorization: %s", authURL)
	if err := a.OpenBrowser(authURL); err != nil {
		logger.Warnf("oauthclient: could not open browser automatically, please visit: %s", authURL)
	}

	code, err := srv.AwaitCode(ctx)
	if err != nil {
		srv.MarkComplete(err)
		return nil, fmt.Errorf("oauthclient: waiting for authorization: %w", err)
	}

	bundle, err := flow.Exchange(ctx, code)
	if err != nil {
		srv.MarkComplete(err)
		return nil, err
	}

	if persist != nil {
		if err := persist(bundle); err != nil {
			srv.MarkComplete(err)
			return nil, fmt.Errorf("oauthclient: persist token bundle: %w", err)
		}
	}
	srv.MarkComplete(nil)
	return bundle, nil
}

// AwaitFreshCode drives the same loopback-browser handoff as Authorize but
// stops once the authorization code lands, without exchanging it. It backs
// a transport-level re-authorization retry after a 401: the caller
// exchanges the returned code itself (SessionTokens.Finish) rather than
// going through persist-and-return here.
func (a *BrowserAuthorizer) AwaitFreshCode(ctx context.Context, flow Flow, host string, port int, path string, authTimeout time.Duration) (string, error) {
	srv := callback.New(host, port, path, flow.ExpectedState(), authTimeout)
	if _, err := srv.Start(); err != nil {
		return "", fmt.Errorf("oauthclient: start callback server: %w", err)
	}
	defer func() {
		if cerr := srv.Close(); cerr != nil {
			logger.Warnf("oauthclient: closing callback server: %v", cerr)
		}
	}()

	authURL := flow.AuthorizationURL()
	logger.Infof("oauthclient: re-authorization required, opening browser: %s", authURL)
	if err := a.OpenBrowser(authURL); err != nil {
		logger.Warnf("oauthclient: could not open browser automatically, please visit: %s", authURL)
	}

	code, err := srv.AwaitCode(ctx)
	srv.MarkComplete(err)
	if err != nil {
		return "", fmt.Errorf("oauthclient: waiting for re-authorization: %w", err)
	}
	return code, nil
}
