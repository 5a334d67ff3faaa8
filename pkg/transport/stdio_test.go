package transport

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStdioTransportRecvReadsLines(t *testing.T) {
	t.Parallel()
	in := bytes.NewBufferString(`{"jsonrpc":"2.0","id":1,"method":"ping"}` + "\n")
	var out bytes.Buffer
	tr := NewStdio(in, &out)

	msg, err := tr.Recv(context.Background())
	require.NoError(t, err)
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":1,"method":"ping"}`, string(msg))

	_, err = tr.Recv(context.Background())
	assert.ErrorIs(t, err, io.EOF)
}

func TestStdioTransportSendAppendsNewline(t *testing.T) {
	t.Parallel()
	var out bytes.Buffer
	tr := NewStdio(bytes.NewReader(nil), &out)

	require.NoError(t, tr.Send(context.Background(), Message(`{"jsonrpc":"2.0","id":1,"result":{}}`)))
	assert.Equal(t, "{\"jsonrpc\":\"2.0\",\"id\":1,\"result\":{}}\n", out.String())
}

func TestStdioTransportSendAfterCloseErrors(t *testing.T) {
	t.Parallel()
	var out bytes.Buffer
	tr := NewStdio(bytes.NewReader(nil), &out)
	require.NoError(t, tr.Close())

	err := tr.Send(context.Background(), Message(`{}`))
	assert.Error(t, err)
}
