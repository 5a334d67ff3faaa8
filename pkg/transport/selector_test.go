package transport

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelectorHTTPOnlyNeverFallsBack(t *testing.T) {
	t.Parallel()
	s := &Selector{Strategy: StrategyHTTPOnly, ServerURL: "http://example.com"}
	s.probe = func(context.Context, string) error { return errors.New("404 Not Found") }

	_, err := s.Connect(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrFallbackAlreadyAttempted)
}

func TestSelectorHTTPFirstFallsBackToSSEOnNotFound(t *testing.T) {
	t.Parallel()

	var sseStarted bool
	s := &Selector{Strategy: StrategyHTTPFirst, ServerURL: "http://example.com"}
	s.probe = func(context.Context, string) error { return errors.New("404 Not Found") }
	s.startSSE = func(context.Context) (RemoteTransport, error) {
		sseStarted = true
		return &SSETransport{}, nil
	}

	transport, err := s.Connect(context.Background())
	require.NoError(t, err)
	require.NotNil(t, transport)
	assert.True(t, sseStarted)
}

func TestSelectorHTTPFirstReturnsNonFallbackErrorImmediately(t *testing.T) {
	t.Parallel()
	s := &Selector{Strategy: StrategyHTTPFirst, ServerURL: "http://example.com"}
	s.probe = func(context.Context, string) error { return errors.New("connection refused") }

	_, err := s.Connect(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestSelectorSecondFallbackIsFatal(t *testing.T) {
	t.Parallel()
	reasons := &recursionReasons{transportFallback: true}
	s := &Selector{Strategy: StrategyHTTPFirst, ServerURL: "http://example.com"}
	s.probe = func(context.Context, string) error { return errors.New("404 Not Found") }

	_, err := s.connect(context.Background(), StrategyHTTPFirst, reasons)
	assert.ErrorIs(t, err, ErrFallbackAlreadyAttempted)
}

func TestSelectorUnknownStrategyErrors(t *testing.T) {
	t.Parallel()
	s := &Selector{Strategy: Strategy("bogus")}
	_, err := s.Connect(context.Background())
	require.Error(t, err)
}
