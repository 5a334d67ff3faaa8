package callback

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCallbackDeliversCodeAndWaitForAuthSucceeds(t *testing.T) {
	t.Parallel()

	s := New("127.0.0.1", 0, "/oauth/callback", "", time.Second)
	port, err := s.Start()
	require.NoError(t, err)
	defer s.Close()

	base := fmt.Sprintf("http://127.0.0.1:%d", port)

	resp, err := http.Get(base + "/wait-for-auth?poll=false")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp, err = http.Get(base + "/oauth/callback?code=xyz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	code, err := s.AwaitCode(ctx)
	require.NoError(t, err)
	assert.Equal(t, "xyz", code)

	// The code has landed but the exchange/persist step hasn't run yet —
	// a sibling long-polling /wait-for-auth must not see success.
	resp, err = http.Get(base + "/wait-for-auth?poll=false")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	s.MarkComplete(nil)

	resp, err = http.Get(base + "/wait-for-auth?poll=false")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestWaitForAuthLongPollSucceedsOnlyAfterMarkComplete(t *testing.T) {
	t.Parallel()
	s := New("127.0.0.1", 0, "/oauth/callback", "", 5*time.Second)
	port, err := s.Start()
	require.NoError(t, err)
	defer s.Close()

	done := make(chan *http.Response, 1)
	go func() {
		resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/wait-for-auth", port))
		require.NoError(t, err)
		done <- resp
	}()

	time.Sleep(50 * time.Millisecond)
	s.MarkComplete(nil)

	resp := <-done
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMarkCompleteWithErrorNeverReportsReceived(t *testing.T) {
	t.Parallel()
	s := New("127.0.0.1", 0, "/oauth/callback", "", time.Second)
	_, err := s.Start()
	require.NoError(t, err)
	defer s.Close()

	s.MarkComplete(fmt.Errorf("exchange failed"))
	assert.False(t, s.Received())
}

func TestCallbackMissingCodeIsBadRequest(t *testing.T) {
	t.Parallel()
	s := New("127.0.0.1", 0, "/oauth/callback", "", time.Second)
	port, err := s.Start()
	require.NoError(t, err)
	defer s.Close()

	resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/oauth/callback", port))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCallbackStateMismatchResolvesWithError(t *testing.T) {
	t.Parallel()
	s := New("127.0.0.1", 0, "/oauth/callback", "expected-state", time.Second)
	port, err := s.Start()
	require.NoError(t, err)
	defer s.Close()

	resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/oauth/callback?code=xyz&state=wrong", port))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err = s.AwaitCode(ctx)
	assert.Error(t, err)
}

func TestWaitForAuthLongPollTimesOutWith202(t *testing.T) {
	t.Parallel()
	s := New("127.0.0.1", 0, "/oauth/callback", "", 100*time.Millisecond)
	port, err := s.Start()
	require.NoError(t, err)
	defer s.Close()

	resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/wait-for-auth", port))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
}

func TestCloseIsIdempotentAndSafeWithoutACode(t *testing.T) {
	t.Parallel()
	s := New("127.0.0.1", 0, "/oauth/callback", "", time.Second)
	_, err := s.Start()
	require.NoError(t, err)
	assert.NoError(t, s.Close())
	assert.NoError(t, s.Close())
}
