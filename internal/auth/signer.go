package auth

import (
	"crypto/ed25519"
	"encoding/base64"
	"time"

	"github.com/go-faster/errors"
	"github.com/golang-jwt/jwt/v5"
)

// DefaultKID is the key ID used for self-issued gateway tokens.
const DefaultKID = "tracker-mcp-gateway-v1"

// Signer issues gateway tokens with an Ed25519 key. It lets a single
// deployment act as its own gateway: the server publishes JWKS() and
// verifies what Signer issued.
type Signer struct {
	PrivateKey ed25519.PrivateKey
	PublicKey  ed25519.PublicKey
	KID        string
	Issuer     string
}

// NewSigner loads a base64-encoded Ed25519 key (32-byte seed or 64-byte
// private key).
func NewSigner(encoded, issuer string) (*Signer, error) {
	seed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, errors.Wrap(err, "decode signing key")
	}

	var privKey ed25519.PrivateKey
	switch len(seed) {
	case ed25519.SeedSize:
		privKey = ed25519.NewKeyFromSeed(seed)
	case ed25519.PrivateKeySize:
		privKey = ed25519.PrivateKey(seed)
	default:
		return nil, errors.Errorf("invalid key size: %d (expected 32 or 64)", len(seed))
	}

	if issuer == "" {
		issuer = DefaultIssuer
	}
	return &Signer{
		PrivateKey: privKey,
		PublicKey:  privKey.Public().(ed25519.PublicKey),
		KID:        DefaultKID,
		Issuer:     issuer,
	}, nil
}

// Issue signs a token for subject. tools restricts the caller to the
// listed tool IDs; nil leaves it unrestricted.
func (s *Signer) Issue(subject, email string, tools []string, ttl time.Duration) (string, error) {
	if subject == "" {
		return "", errors.New("subject is required")
	}
	if ttl <= 0 {
		return "", errors.New("ttl must be positive")
	}

	now := time.Now()
	claims := GatewayClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.Issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Email: email,
		Tools: tools,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	token.Header["kid"] = s.KID

	signed, err := token.SignedString(s.PrivateKey)
	if err != nil {
		return "", errors.Wrap(err, "sign token")
	}
	return signed, nil
}

// JWKS returns the public key document GatewayVerifier consumes.
func (s *Signer) JWKS() any {
	return jwksResponse{Keys: []jwksKey{{
		Kty: "OKP",
		Crv: "Ed25519",
		X:   base64.RawURLEncoding.EncodeToString(s.PublicKey),
		Kid: s.KID,
		Use: "sig",
		Alg: "EdDSA",
	}}}
}
