package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPStreamTransportSendJSONResponse(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer the-token", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":{}}`))
	}))
	defer srv.Close()

	transport := NewHTTPStreamTransport(srv.URL, nil, func(context.Context) (string, error) {
		return "the-token", nil
	}, nil)

	require.NoError(t, transport.Send(context.Background(), Message(`{"jsonrpc":"2.0","id":1,"method":"ping"}`)))

	msg, err := transport.Recv(context.Background())
	require.NoError(t, err)
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":1,"result":{}}`, string(msg))
}

func TestHTTPStreamTransportSendEventStreamResponse(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("data: {\"jsonrpc\":\"2.0\",\"id\":1,\"result\":{}}\n\n"))
	}))
	defer srv.Close()

	transport := NewHTTPStreamTransport(srv.URL, nil, nil, nil)
	require.NoError(t, transport.Send(context.Background(), Message(`{"jsonrpc":"2.0","id":1,"method":"ping"}`)))

	msg, err := transport.Recv(context.Background())
	require.NoError(t, err)
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":1,"result":{}}`, string(msg))
}

func TestHTTPStreamTransportUnauthorizedReturnsErrUnauthorized(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	transport := NewHTTPStreamTransport(srv.URL, nil, nil, nil)
	err := transport.Send(context.Background(), Message(`{}`))
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestHTTPStreamTransportNotFoundIsFallbackEligible(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "Not Found", http.StatusNotFound)
	}))
	defer srv.Close()

	transport := NewHTTPStreamTransport(srv.URL, nil, nil, nil)
	err := transport.Send(context.Background(), Message(`{}`))
	require.Error(t, err)
	assert.True(t, isFallbackEligible(err))
}

func TestHTTPStreamTransportFinishAuthWithoutFinisherErrors(t *testing.T) {
	t.Parallel()
	transport := NewHTTPStreamTransport("http://example.com", nil, nil, nil)
	err := transport.FinishAuth(context.Background(), "code")
	assert.Error(t, err)
}

func TestHTTPStreamTransportFinishAuthDelegates(t *testing.T) {
	t.Parallel()
	var gotCode string
	transport := NewHTTPStreamTransport("http://example.com", nil, nil, func(_ context.Context, code string) error {
		gotCode = code
		return nil
	})
	require.NoError(t, transport.FinishAuth(context.Background(), "the-code"))
	assert.Equal(t, "the-code", gotCode)
}
