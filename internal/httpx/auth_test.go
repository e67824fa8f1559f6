package httpx_test

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"pulse-telemetry/internal/httpx"
)

func TestParseAPIKeyBearerWins(t *testing.T) {
	h := http.Header{}
	h.Set("Authorization", "Bearer pk_from_bearer")
	h.Set("X-API-Key", "pk_from_header")

	key, ok := httpx.ParseAPIKey(h)
	require.True(t, ok)
	require.Equal(t, "pk_from_bearer", key)
}

func TestParseAPIKeyDedicatedHeader(t *testing.T) {
	h := http.Header{}
	h.Set("X-API-Key", "pk_from_header")

	key, ok := httpx.ParseAPIKey(h)
	require.True(t, ok)
	require.Equal(t, "pk_from_header", key)
}

func TestParseAPIKeyMalformedBearerFallsThrough(t *testing.T) {
	h := http.Header{}
	h.Set("Authorization", "Basic dXNlcjpwYXNz")
	h.Set("X-API-Key", "pk_from_header")

	key, ok := httpx.ParseAPIKey(h)
	require.True(t, ok)
	require.Equal(t, "pk_from_header", key)
}

func TestParseAPIKeyMissing(t *testing.T) {
	_, ok := httpx.ParseAPIKey(http.Header{})
	require.False(t, ok)

	h := http.Header{}
	h.Set("Authorization", "Bearer ")
	_, ok = httpx.ParseAPIKey(h)
	require.False(t, ok)
}
