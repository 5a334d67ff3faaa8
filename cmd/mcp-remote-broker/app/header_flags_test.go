package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseHeaderStringSimple(t *testing.T) {
	t.Parallel()
	name, value, err := parseHeaderString("Authorization: Bearer xyz")
	require.NoError(t, err)
	assert.Equal(t, "Authorization", name)
	assert.Equal(t, "Bearer xyz", value)
}

func TestParseHeaderStringMissingColonIsError(t *testing.T) {
	t.Parallel()
	_, _, err := parseHeaderString("X-Custom-Value")
	assert.Error(t, err)
}

func TestParseHeaderStringRejectsCRLFInjection(t *testing.T) {
	t.Parallel()
	_, _, err := parseHeaderString("X-Evil: value\r\nX-Injected: true")
	assert.Error(t, err)
}

func TestParseHeaderForwardFlagsExpandsEnvVar(t *testing.T) {
	t.Setenv("MY_TOKEN", "secret123")

	headers, err := parseHeaderForwardFlags([]string{"Authorization: Bearer ${MY_TOKEN}"})
	require.NoError(t, err)
	assert.Equal(t, "Bearer secret123", headers["Authorization"])
}

func TestParseHeaderForwardFlagsUndefinedVarExpandsEmpty(t *testing.T) {
	t.Parallel()
	headers, err := parseHeaderForwardFlags([]string{"X-Missing: ${DEFINITELY_NOT_SET_XYZ}"})
	require.NoError(t, err)
	assert.Equal(t, "", headers["X-Missing"])
}
