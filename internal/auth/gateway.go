// Package auth verifies the Ed25519 tokens an MCP gateway attaches to the
// requests it forwards.
package auth

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/golang-jwt/jwt/v5"

	"github.com/urfv/yandex-tracker-mcp/internal/observability"
)

// DefaultIssuer is the expected iss claim when none is configured.
const DefaultIssuer = "tracker-mcp-gateway"

// GatewayClaims represents the claims in a gateway JWT. The caller is
// identified by sub. Tools, when present, lists the tool IDs the caller
// may use ("tracker:get_issue", or "tracker:*").
type GatewayClaims struct {
	jwt.RegisteredClaims
	Email string   `json:"email,omitempty"`
	Tools []string `json:"tools,omitempty"`
}

type jwksKey struct {
	Kty string `json:"kty"`
	Crv string `json:"crv"`
	X   string `json:"x"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	Alg string `json:"alg"`
}

type jwksResponse struct {
	Keys []jwksKey `json:"keys"`
}

// GatewayVerifier verifies gateway JWTs using a JWKS document.
type GatewayVerifier struct {
	jwksURL    string
	issuer     string
	httpClient *http.Client

	mu        sync.RWMutex
	keys      map[string]ed25519.PublicKey
	fetchedAt time.Time
	cacheTTL  time.Duration
}

// NewGatewayVerifier creates a verifier that fetches public keys from
// jwksURL and accepts tokens issued by issuer (DefaultIssuer if empty).
func NewGatewayVerifier(jwksURL, issuer string) *GatewayVerifier {
	if issuer == "" {
		issuer = DefaultIssuer
	}
	return &GatewayVerifier{
		jwksURL:    jwksURL,
		issuer:     issuer,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		keys:       make(map[string]ed25519.PublicKey),
		cacheTTL:   5 * time.Minute,
	}
}

// VerifyToken verifies a gateway JWT and returns the claims.
func (v *GatewayVerifier) VerifyToken(tokenString string) (*GatewayClaims, error) {
	// Parse without verification to get kid from header
	unverified, _, err := jwt.NewParser().ParseUnverified(tokenString, &GatewayClaims{})
	if err != nil {
		return nil, errors.Wrap(err, "parse token")
	}

	kid, ok := unverified.Header["kid"].(string)
	if !ok || kid == "" {
		return nil, errors.New("missing kid in token header")
	}

	key, err := v.getKey(kid)
	if err != nil {
		return nil, err
	}

	claims := &GatewayClaims{}
	_, err = jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, errors.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return key, nil
	},
		jwt.WithIssuer(v.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(5*time.Second),
	)
	if err != nil {
		return nil, errors.Wrap(err, "token verification failed")
	}
	if claims.Subject == "" {
		return nil, errors.New("missing sub claim")
	}

	return claims, nil
}

// getKey returns the public key for the given kid, fetching JWKS if cache
// is empty or expired. An unknown kid forces a refetch (key rotation).
func (v *GatewayVerifier) getKey(kid string) (ed25519.PublicKey, error) {
	v.mu.RLock()
	key, ok := v.keys[kid]
	expired := time.Since(v.fetchedAt) > v.cacheTTL
	v.mu.RUnlock()

	if ok && !expired {
		return key, nil
	}

	if err := v.fetchJWKS(); err != nil {
		// An expired key still beats no key while the JWKS endpoint is down.
		if ok {
			return key, nil
		}
		return nil, err
	}

	v.mu.RLock()
	key, ok = v.keys[kid]
	v.mu.RUnlock()

	if !ok {
		return nil, errors.Errorf("key with kid %q not found in JWKS", kid)
	}

	return key, nil
}

func (v *GatewayVerifier) fetchJWKS() error {
	resp, err := v.httpClient.Get(v.jwksURL)
	if err != nil {
		return errors.Wrapf(err, "fetch JWKS from %s", v.jwksURL)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("JWKS fetch returned status %d", resp.StatusCode)
	}

	var jwks jwksResponse
	if err := json.NewDecoder(resp.Body).Decode(&jwks); err != nil {
		return errors.Wrap(err, "decode JWKS")
	}

	keys := make(map[string]ed25519.PublicKey)
	for _, k := range jwks.Keys {
		if k.Kty != "OKP" || k.Crv != "Ed25519" || k.X == "" {
			continue
		}
		xBytes, err := base64.RawURLEncoding.DecodeString(k.X)
		if err != nil {
			observability.Warn("gateway: undecodable JWKS key", "kid", k.Kid, "error", err)
			continue
		}
		if len(xBytes) != ed25519.PublicKeySize {
			observability.Warn("gateway: invalid JWKS key size", "kid", k.Kid, "size", len(xBytes))
			continue
		}
		keys[k.Kid] = ed25519.PublicKey(xBytes)
	}

	v.mu.Lock()
	v.keys = keys
	v.fetchedAt = time.Now()
	v.mu.Unlock()

	observability.Info("gateway: JWKS refreshed", "keys", len(keys), "url", v.jwksURL)
	return nil
}
