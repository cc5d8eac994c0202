package main

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/urfv/yandex-tracker-mcp/internal/config"
)

func testApp(signingKey string) *app {
	return &app{cfg: &config.Config{
		Server: config.ServerConfig{
			Port:               8089,
			RateLimitPerSecond: 10,
			Language:           "en-US",
			InstanceID:         "i-1",
			InstanceRegion:     "eu",
		},
		Gateway: config.GatewayConfig{SigningKey: signingKey},
	}}
}

func TestHealthWithoutDatabase(t *testing.T) {
	mux, err := testApp("").routes()
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "i-1", rec.Header().Get("X-Instance-ID"))

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, map[string]string{"status": "ok", "instance": "i-1", "region": "eu", "db": "disabled"}, body)
}

func TestRoutesAnonymousMCP(t *testing.T) {
	mux, err := testApp("").routes()
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"ping"}`))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":1,"result":{}}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	// Usage reporting needs a database.
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/usage", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRoutesJWKS(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	mux, err := testApp(base64.StdEncoding.EncodeToString(priv.Seed())).routes()
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/.well-known/jwks.json", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var doc struct {
		Keys []map[string]string `json:"keys"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	require.Len(t, doc.Keys, 1)
	assert.Equal(t, "Ed25519", doc.Keys[0]["crv"])
	assert.Equal(t, base64.RawURLEncoding.EncodeToString(priv.Public().(ed25519.PublicKey)), doc.Keys[0]["x"])
}

func TestRoutesRejectsBadSigningKey(t *testing.T) {
	_, err := testApp("not-base64!").routes()
	assert.Error(t, err)
}
