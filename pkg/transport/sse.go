package transport

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"
)

// SSETransport is the legacy MCP transport: a long-lived GET to serverURL
// with Accept: text/event-stream. The first event the server sends is an
// "endpoint" event whose data is the URI subsequent JSON-RPC messages must
// be POSTed to; later "message" events carry JSON-RPC responses and
// notifications.
type SSETransport struct {
	serverURL     string
	headers       map[string]string
	tokenProvider TokenProvider
	authFinisher  AuthFinisher
	client        *http.Client

	postURL  atomic.Pointer[string]
	endpoint chan struct{}
	incoming chan Message
	errs     chan error

	mu        sync.Mutex
	closed    bool
	closeBody func() error
}

// NewSSETransport constructs an SSE transport. Start must be called before
// Send/Recv will make progress.
func NewSSETransport(serverURL string, headers map[string]string, tokenProvider TokenProvider, authFinisher AuthFinisher) *SSETransport {
	return &SSETransport{
		serverURL:     serverURL,
		headers:       headers,
		tokenProvider: tokenProvider,
		authFinisher:  authFinisher,
		client:        &http.Client{Timeout: 0}, // long-lived stream, no overall timeout
		endpoint:      make(chan struct{}),
		incoming:      make(chan Message, 16),
		errs:          make(chan error, 1),
	}
}

// Start opens the event stream and begins dispatching events in the
// background. The bearer token is re-resolved via tokenProvider on the
// GET that opens the stream — there is only ever one GET per transport
// lifetime, so a fresh token is always used to open it.
func (t *SSETransport) Start(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.serverURL, nil)
	if err != nil {
		return fmt.Errorf("transport: build sse request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}
	if t.tokenProvider != nil {
		token, err := t.tokenProvider(ctx)
		if err != nil {
			return fmt.Errorf("transport: resolve bearer token: %w", err)
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("transport: sse connect: %w", err)
	}
	if resp.StatusCode == http.StatusUnauthorized {
		resp.Body.Close()
		return ErrUnauthorized
	}
	if resp.StatusCode >= 400 {
		resp.Body.Close()
		return &httpStatusError{status: resp.StatusCode}
	}

	t.closeBody = resp.Body.Close
	go t.readLoop(resp.Body)
	return nil
}

func (t *SSETransport) readLoop(body io.Reader) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var event, data bytes.Buffer
	flush := func() {
		if data.Len() == 0 {
			return
		}
		ev := event.String()
		payload := append([]byte(nil), data.Bytes()...)
		switch ev {
		case "endpoint":
			resolved := t.resolveEndpoint(string(payload))
			t.postURL.Store(&resolved)
			select {
			case <-t.endpoint:
			default:
				close(t.endpoint)
			}
		default:
			t.incoming <- Message(payload)
		}
		event.Reset()
		data.Reset()
	}

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			flush()
		case len(line) >= 6 && line[:6] == "event:":
			event.WriteString(trimOneLeadingSpace(line[6:]))
		case len(line) >= 5 && line[:5] == "data:":
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(trimOneLeadingSpace(line[5:]))
		}
	}
	flush()
	if err := scanner.Err(); err != nil {
		select {
		case t.errs <- err:
		default:
		}
	}
	close(t.incoming)
}

func (t *SSETransport) resolveEndpoint(raw string) string {
	base, err := url.Parse(t.serverURL)
	if err != nil {
		return raw
	}
	ref, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	return base.ResolveReference(ref).String()
}

// Send POSTs msg to the endpoint discovered from the "endpoint" event,
// waiting for it to arrive if the stream has only just started.
func (t *SSETransport) Send(ctx context.Context, msg Message) error {
	select {
	case <-t.endpoint:
	case <-ctx.Done():
		return ctx.Err()
	}

	postURL := t.postURL.Load()
	if postURL == nil {
		return fmt.Errorf("transport: sse endpoint never arrived")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, *postURL, bytes.NewReader(msg))
	if err != nil {
		return fmt.Errorf("transport: build sse post: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}
	if t.tokenProvider != nil {
		token, err := t.tokenProvider(ctx)
		if err != nil {
			return fmt.Errorf("transport: resolve bearer token: %w", err)
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	postClient := &http.Client{Timeout: 30 * time.Second}
	resp, err := postClient.Do(req)
	if err != nil {
		return fmt.Errorf("transport: sse post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	if resp.StatusCode >= 400 {
		return &httpStatusError{status: resp.StatusCode}
	}
	return nil
}

// Recv returns the next message dispatched from the event stream.
func (t *SSETransport) Recv(ctx context.Context) (Message, error) {
	select {
	case msg, ok := <-t.incoming:
		if !ok {
			select {
			case err := <-t.errs:
				return nil, err
			default:
				return nil, fmt.Errorf("transport: sse stream closed")
			}
		}
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// FinishAuth exchanges code for tokens via the configured AuthFinisher.
func (t *SSETransport) FinishAuth(ctx context.Context, code string) error {
	if t.authFinisher == nil {
		return fmt.Errorf("transport: no auth finisher configured")
	}
	return t.authFinisher(ctx, code)
}

// Close terminates the underlying connection; idempotent.
func (t *SSETransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	if t.closeBody != nil {
		return t.closeBody()
	}
	return nil
}
