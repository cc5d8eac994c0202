package auth

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type testGateway struct {
	priv    ed25519.PrivateKey
	kid     string
	server  *httptest.Server
	fetches atomic.Int32
}

func newTestGateway(t *testing.T) *testGateway {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	g := &testGateway{priv: priv, kid: "gw-1"}
	g.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		g.fetches.Add(1)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"keys": []map[string]string{
			{"kty": "RSA", "kid": "ignored"},
			{"kty": "OKP", "crv": "Ed25519", "kid": g.kid, "x": base64.RawURLEncoding.EncodeToString(pub), "use": "sig", "alg": "EdDSA"},
		}})
	}))
	t.Cleanup(g.server.Close)
	return g
}

func (g *testGateway) sign(t *testing.T, kid string, claims GatewayClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	if kid != "" {
		token.Header["kid"] = kid
	}
	s, err := token.SignedString(g.priv)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return s
}

func validClaims() GatewayClaims {
	return GatewayClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    DefaultIssuer,
			Subject:   "user-123",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		},
		Email: "user@example.com",
		Tools: []string{"tracker:get_issue"},
	}
}

func TestVerifyToken(t *testing.T) {
	g := newTestGateway(t)
	v := NewGatewayVerifier(g.server.URL, "")

	claims, err := v.VerifyToken(g.sign(t, g.kid, validClaims()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if claims.Subject != "user-123" {
		t.Errorf("sub = %q, want %q", claims.Subject, "user-123")
	}
	if len(claims.Tools) != 1 || claims.Tools[0] != "tracker:get_issue" {
		t.Errorf("tools = %v", claims.Tools)
	}

	// Second verification is served from the key cache.
	if _, err := v.VerifyToken(g.sign(t, g.kid, validClaims())); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n := g.fetches.Load(); n != 1 {
		t.Errorf("JWKS fetched %d times, want 1", n)
	}
}

func TestVerifyTokenRejects(t *testing.T) {
	g := newTestGateway(t)

	expired := validClaims()
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))

	wrongIssuer := validClaims()
	wrongIssuer.Issuer = "someone-else"

	noSubject := validClaims()
	noSubject.Subject = ""

	noExpiry := validClaims()
	noExpiry.ExpiresAt = nil

	_, otherKey, _ := ed25519.GenerateKey(nil)
	forged, _ := jwt.NewWithClaims(jwt.SigningMethodEdDSA, validClaims()).SignedString(otherKey)
	forgedWithKid := func() string {
		token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, validClaims())
		token.Header["kid"] = g.kid
		s, _ := token.SignedString(otherKey)
		return s
	}()

	tests := []struct {
		name    string
		token   string
		wantErr string
	}{
		{"garbage", "not-a-jwt", "parse token"},
		{"missing kid", forged, "missing kid"},
		{"unknown kid", g.sign(t, "gw-unknown", validClaims()), "not found in JWKS"},
		{"expired", g.sign(t, g.kid, expired), "token verification failed"},
		{"wrong issuer", g.sign(t, g.kid, wrongIssuer), "token verification failed"},
		{"no expiry", g.sign(t, g.kid, noExpiry), "token verification failed"},
		{"no subject", g.sign(t, g.kid, noSubject), "missing sub claim"},
		{"bad signature", forgedWithKid, "token verification failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := NewGatewayVerifier(g.server.URL, "")
			_, err := v.VerifyToken(tt.token)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want it to contain %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestVerifyTokenJWKSUnavailable(t *testing.T) {
	g := newTestGateway(t)
	v := NewGatewayVerifier(g.server.URL, "")
	token := g.sign(t, g.kid, validClaims())

	if _, err := v.VerifyToken(token); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Expire the cache and take the JWKS endpoint down: the cached key still verifies.
	g.server.Close()
	v.mu.Lock()
	v.fetchedAt = time.Now().Add(-time.Hour)
	v.mu.Unlock()

	if _, err := v.VerifyToken(token); err != nil {
		t.Errorf("expected stale key to be used, got %v", err)
	}

	fresh := NewGatewayVerifier(g.server.URL, "")
	if _, err := fresh.VerifyToken(token); err == nil {
		t.Error("expected error without any cached key")
	}
}
