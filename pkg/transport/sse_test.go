package transport

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSSETransportEndpointThenMessage(t *testing.T) {
	t.Parallel()

	var postedBody string
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/sse", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "event: endpoint\ndata: %s/messages\n\n", srv.URL)
		w.(http.Flusher).Flush()
		fmt.Fprintf(w, "event: message\ndata: {\"jsonrpc\":\"2.0\",\"id\":1,\"result\":{}}\n\n")
		w.(http.Flusher).Flush()
		<-make(chan struct{}) // keep the stream open until the test closes it
	})
	mux.HandleFunc("/messages", func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, 1024)
		n, _ := r.Body.Read(buf)
		postedBody = string(buf[:n])
		w.WriteHeader(http.StatusAccepted)
	})

	transport := NewSSETransport(srv.URL+"/sse", nil, nil, nil)
	require.NoError(t, transport.Start(context.Background()))
	defer transport.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	msg, err := transport.Recv(ctx)
	require.NoError(t, err)
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":1,"result":{}}`, string(msg))

	require.NoError(t, transport.Send(ctx, Message(`{"jsonrpc":"2.0","id":2,"method":"ping"}`)))
	assert.Contains(t, postedBody, `"method":"ping"`)
}

func TestSSETransportUnauthorized(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	transport := NewSSETransport(srv.URL, nil, nil, nil)
	err := transport.Start(context.Background())
	assert.ErrorIs(t, err, ErrUnauthorized)
}
