package app

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadJSONFlagInline(t *testing.T) {
	t.Parallel()
	var info staticClientInfo
	err := loadJSONFlag(`{"client_id":"A","client_secret":"B"}`, &info)
	require.NoError(t, err)
	assert.Equal(t, "A", info.ClientID)
	assert.Equal(t, "B", info.ClientSecret)
}

func TestLoadJSONFlagFromFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "client-info.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"client_id":"from-file"}`), 0o600))

	var info staticClientInfo
	require.NoError(t, loadJSONFlag("@"+path, &info))
	assert.Equal(t, "from-file", info.ClientID)
}

func TestLoadJSONFlagEmptyIsNoop(t *testing.T) {
	t.Parallel()
	var info staticClientInfo
	require.NoError(t, loadJSONFlag("", &info))
	assert.Empty(t, info.ClientID)
}

func TestValidateServerURLRequiresHTTPSForRemoteHost(t *testing.T) {
	t.Parallel()
	err := validateServerURL("http://example.com/mcp", false)
	assert.Error(t, err)
}

func TestValidateServerURLAllowsHTTPOnLocalhost(t *testing.T) {
	t.Parallel()
	assert.NoError(t, validateServerURL("http://localhost:3000/mcp", false))
	assert.NoError(t, validateServerURL("http://127.0.0.1:3000/mcp", false))
}

func TestValidateServerURLAllowHTTPOverride(t *testing.T) {
	t.Parallel()
	assert.NoError(t, validateServerURL("http://example.com/mcp", true))
}

func TestValidateServerURLAcceptsHTTPS(t *testing.T) {
	t.Parallel()
	assert.NoError(t, validateServerURL("https://example.com/mcp", false))
}
