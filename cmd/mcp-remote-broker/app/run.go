package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/oauth2"

	"github.com/stacklok/mcp-remote-broker/pkg/authstore"
	"github.com/stacklok/mcp-remote-broker/pkg/coordinator"
	"github.com/stacklok/mcp-remote-broker/pkg/discovery"
	"github.com/stacklok/mcp-remote-broker/pkg/logger"
	"github.com/stacklok/mcp-remote-broker/pkg/oauthclient"
	"github.com/stacklok/mcp-remote-broker/pkg/proxy"
	"github.com/stacklok/mcp-remote-broker/pkg/toolfilter"
	"github.com/stacklok/mcp-remote-broker/pkg/transport"
)

const defaultCallbackPath = "/oauth/callback"

var (
	flagHeaders               []string
	flagAllowHTTP             bool
	flagTransport             string
	flagHost                  string
	flagStaticClientMetadata  string
	flagStaticClientInfo      string
	flagResource              string
	flagIgnoreTools           []string
	flagAuthTimeoutSeconds    int
	flagDebug                 bool
	flagEnableProxy           bool
)

var runCmd = &cobra.Command{
	Use:          "mcp-remote-broker server-url [callback-port]",
	Short:        "Bridge a local stdio MCP client to a remote OAuth2-protected MCP server",
	Args:         cobra.RangeArgs(1, 2),
	RunE:         runCmdFunc,
	SilenceUsage: true,
}

func init() {
	runCmd.Flags().StringArrayVar(&flagHeaders, "header", nil, `Extra request header, e.g. "Authorization: Bearer x" (repeatable)`)
	runCmd.Flags().BoolVar(&flagAllowHTTP, "allow-http", false, "Allow a non-localhost server-url to use http://")
	runCmd.Flags().StringVar(&flagTransport, "transport", string(transport.DefaultStrategy), "sse-only|http-only|sse-first|http-first")
	runCmd.Flags().StringVar(&flagHost, "host", "localhost", "Hostname the loopback callback server binds")
	runCmd.Flags().StringVar(&flagStaticClientMetadata, "static-oauth-client-metadata", "", "JSON or @file: metadata for dynamic client registration")
	runCmd.Flags().StringVar(&flagStaticClientInfo, "static-oauth-client-info", "", "JSON or @file: a pre-registered classical-flow client")
	runCmd.Flags().StringVar(&flagResource, "resource", "", "RFC 8707 resource indicator to request")
	runCmd.Flags().StringArrayVar(&flagIgnoreTools, "ignore-tool", nil, "Glob pattern of tool names to hide (repeatable)")
	runCmd.Flags().IntVar(&flagAuthTimeoutSeconds, "auth-timeout", 30, "Seconds the callback server holds a /wait-for-auth long-poll open before answering 202")
	runCmd.Flags().BoolVar(&flagDebug, "debug", false, "Enable debug logging, including a debug log file on disk")
	runCmd.Flags().BoolVar(&flagEnableProxy, "enable-proxy", false, "Log which of HTTP_PROXY/HTTPS_PROXY/NO_PROXY are set; outbound request routing is the same with or without this flag")
}

// NewRootCmd returns the broker's single command.
func NewRootCmd() *cobra.Command {
	return runCmd
}

func runCmdFunc(cmd *cobra.Command, args []string) error {
	logger.Initialize()

	serverURL := args[0]
	if err := validateServerURL(serverURL, flagAllowHTTP); err != nil {
		return err
	}

	strategy := transport.Strategy(flagTransport)
	switch strategy {
	case transport.StrategySSEOnly, transport.StrategyHTTPOnly, transport.StrategySSEFirst, transport.StrategyHTTPFirst:
	default:
		return fmt.Errorf("invalid --transport %q", flagTransport)
	}

	if flagAuthTimeoutSeconds <= 0 {
		logger.Warnf("invalid --auth-timeout %d, using default of 30s", flagAuthTimeoutSeconds)
		flagAuthTimeoutSeconds = 30
	}
	authTimeout := time.Duration(flagAuthTimeoutSeconds) * time.Second

	headers, err := parseHeaderForwardFlags(flagHeaders)
	if err != nil {
		return err
	}

	filter, err := toolfilter.New(flagIgnoreTools)
	if err != nil {
		return fmt.Errorf("invalid --ignore-tool pattern: %w", err)
	}

	if flagEnableProxy {
		applyProxyEnv()
	}

	store, err := authstore.New()
	if err != nil {
		return fmt.Errorf("open credential store: %w", err)
	}
	fingerprint := authstore.Fingerprint(serverURL)

	if flagDebug {
		if err := os.MkdirAll(store.Dir(), 0o700); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
		debugLogPath := fmt.Sprintf("%s/%s_debug.log", store.Dir(), fingerprint)
		closer, err := logger.EnableDebugFile(debugLogPath)
		if err != nil {
			return err
		}
		defer closer.Close()
	}

	callbackPort, err := resolveCallbackPort(args, fingerprint)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	session, err := acquireAccessToken(ctx, store, fingerprint, serverURL, headers, callbackPort, authTimeout)
	if err != nil {
		return err
	}

	var authFinisher transport.AuthFinisher
	if session.finish != nil {
		authFinisher = transport.AuthFinisher(session.finish)
	}
	selector := transport.NewSelector(strategy, serverURL, headers, session.provide, authFinisher)
	remote, err := selector.Connect(ctx)
	if err != nil {
		return fmt.Errorf("connect to remote: %w", err)
	}

	client := transport.NewStdio(os.Stdin, os.Stdout)
	router := proxy.New(client, remote, filter)
	router.Reauthorizer = session.reauthorize

	logger.Infof("mcp-remote-broker %s bridging %s (%s)", proxy.Version, serverURL, strategy)
	return router.Run(ctx)
}

func resolveCallbackPort(args []string, fingerprint string) (int, error) {
	if len(args) == 2 {
		port, err := strconv.Atoi(args[1])
		if err != nil {
			return 0, fmt.Errorf("invalid callback-port %q: %w", args[1], err)
		}
		return port, nil
	}
	return authstore.DefaultCallbackPort(fingerprint)
}

func applyProxyEnv() {
	for _, name := range []string{"HTTP_PROXY", "HTTPS_PROXY", "NO_PROXY"} {
		if v := os.Getenv(name); v != "" {
			logger.Debugf("%s is set in the environment (--enable-proxy)", name)
		}
	}
}

// tokenSession bundles the live token state a proxy session needs: a
// provider consulted on every outbound request, and, when the instance
// owns the OAuth client config (the leader, never a secondary), the hooks
// a 401 mid-session uses to re-authorize and retry once.
type tokenSession struct {
	provide     transport.TokenProvider
	reauthorize func(ctx context.Context) (string, error)
	finish      func(ctx context.Context, code string) error
}

// acquireAccessToken runs leader election for fingerprint and either drives
// the full OAuth token-acquisition flow (leader) or waits on the leader and
// reads tokens from disk once they land (secondary).
func acquireAccessToken(
	ctx context.Context,
	store *authstore.Store,
	fingerprint string,
	serverURL string,
	headers map[string]string,
	callbackPort int,
	authTimeout time.Duration,
) (*tokenSession, error) {
	coord := coordinator.New(store)
	election, err := coord.Elect(ctx, fingerprint)
	if err != nil {
		return nil, fmt.Errorf("leader election: %w", err)
	}

	if election.Role == coordinator.Secondary {
		defer election.PlaceholderListener.Close()
		if err := waitForLeader(ctx, election.LeaderPort); err != nil {
			return nil, err
		}
		accessToken, err := oauthclient.LoadCachedAccessToken(store, fingerprint)
		if err != nil {
			return nil, fmt.Errorf("read tokens written by leader: %w", err)
		}
		// A secondary never owns the OAuth client config the leader
		// registered with, so it can't drive its own refresh or
		// re-authorization — it presents the token the leader wrote and,
		// on a 401, relies on restarting to re-elect and wait again.
		bearer := oauthclient.NewBearerTokenSource(accessToken)
		return &tokenSession{provide: func(context.Context) (string, error) {
			token, err := bearer.Token()
			if err != nil {
				return "", err
			}
			return token.AccessToken, nil
		}}, nil
	}

	release, err := coord.BecomeLeader(fingerprint, callbackPort)
	if err != nil {
		return nil, fmt.Errorf("become leader: %w", err)
	}
	defer release()

	endpoints, err := discovery.DiscoverEndpoints(ctx, serverURL, headers)
	if err != nil {
		return nil, fmt.Errorf("discover OAuth endpoints: %w", err)
	}

	flow, refresher, config, err := buildFlow(ctx, store, fingerprint, endpoints, flagHost, callbackPort)
	if err != nil {
		return nil, err
	}

	authorizer := oauthclient.NewBrowserAuthorizer()
	bundle, err := oauthclient.EnsureAccessToken(ctx, store, fingerprint, flow, refresher, authorizer, flagHost, callbackPort, defaultCallbackPath, authTimeout)
	if err != nil {
		return nil, err
	}

	tokens := oauthclient.NewSessionTokens(store, fingerprint, config, bundle)
	return &tokenSession{
		provide: tokens.Provide,
		reauthorize: func(ctx context.Context) (string, error) {
			return authorizer.AwaitFreshCode(ctx, flow, flagHost, callbackPort, defaultCallbackPath, authTimeout)
		},
		finish: tokens.Finish(flow),
	}, nil
}

// buildFlow picks the classical flow when a static, pre-registered client
// is configured, otherwise the PKCE flow with dynamic client registration
// (reusing a previously registered client from disk when present). The
// returned oauth2.Config backs the ongoing session's token refresh once
// the initial token has been acquired.
func buildFlow(
	ctx context.Context,
	store *authstore.Store,
	fingerprint string,
	endpoints *discovery.Endpoints,
	host string,
	port int,
) (oauthclient.Flow, oauthclient.Refresher, *oauth2.Config, error) {
	if flagStaticClientInfo != "" {
		var info staticClientInfo
		if err := loadJSONFlag(flagStaticClientInfo, &info); err != nil {
			return nil, nil, nil, fmt.Errorf("--static-oauth-client-info: %w", err)
		}
		redirectURI := fmt.Sprintf("http://%s:%d%s", host, port, defaultCallbackPath)
		if len(info.RedirectURIs) > 0 {
			redirectURI = info.RedirectURIs[0]
		}
		flow := oauthclient.NewClassicalFlow(info.ClientID, info.ClientSecret, endpoints.AuthorizationEndpoint, endpoints.TokenEndpoint, redirectURI, flagResource)
		return flow, flow, flow.Config, nil
	}

	var metadata staticClientMetadata
	if flagStaticClientMetadata != "" {
		if err := loadJSONFlag(flagStaticClientMetadata, &metadata); err != nil {
			return nil, nil, nil, fmt.Errorf("--static-oauth-client-metadata: %w", err)
		}
	}

	clientID, clientSecret, err := oauthclient.EnsureDynamicClient(ctx, store, fingerprint, endpoints.RegistrationEndpoint, metadata.Scopes, host, port, defaultCallbackPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("dynamic client registration: %w", err)
	}

	redirectURI := fmt.Sprintf("http://%s:%d%s", host, port, defaultCallbackPath)
	config, err := oauthclient.NewManualOAuth2Config(clientID, clientSecret, endpoints.AuthorizationEndpoint, endpoints.TokenEndpoint, redirectURI, metadata.Scopes)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("build OAuth2 config: %w", err)
	}
	flow, err := oauthclient.NewPKCEFlow(config, flagResource)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("build PKCE flow: %w", err)
	}
	return flow, flow, config, nil
}

// waitForLeader long-polls the leader's /wait-for-auth endpoint until it
// reports completion (200), or gives up once coordinator.MaxLockAge passes
// without the leader answering 202 (still in progress) or 200.
func waitForLeader(ctx context.Context, leaderPort int) error {
	deadline := time.Now().Add(coordinator.MaxLockAge)
	url := fmt.Sprintf("http://127.0.0.1:%d/wait-for-auth", leaderPort)

	for {
		if time.Now().After(deadline) {
			return fmt.Errorf("coordinator: leader at port %d never completed authorization", leaderPort)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
			continue
		}
		status := resp.StatusCode
		resp.Body.Close()

		switch status {
		case http.StatusOK:
			return nil
		case http.StatusAccepted:
			deadline = time.Now().Add(coordinator.MaxLockAge)
			continue
		default:
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
		}
	}
}
