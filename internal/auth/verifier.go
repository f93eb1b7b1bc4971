// internal/auth/verifier.go
// JWT verification against a JWKS endpoint. Tokens are issued by the
// identity provider; the service only ever verifies them.
package auth

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	sverrors "github.com/stylevault/stylevault-go/internal/errors"
)

// JWKS represents a JSON Web Key Set
type JWKS struct {
	Keys []JWK `json:"keys"`
}

// JWK represents a JSON Web Key
type JWK struct {
	Kty string `json:"kty"` // Key type
	Kid string `json:"kid"` // Key ID
	Use string `json:"use"` // Public key use
	Alg string `json:"alg"` // Algorithm
	Crv string `json:"crv"` // Curve
	X   string `json:"x"`   // X coordinate
}

// Verifier validates bearer tokens and extracts the subject user ID.
// Keys are discovered from a JWKS endpoint and cached for five minutes.
type Verifier struct {
	jwksURL    string
	issuer     string
	audience   string
	httpClient *http.Client

	mu        sync.RWMutex
	cached    *JWKS
	expiresAt time.Time

	testMode bool
	testKey  ed25519.PrivateKey
}

// NewVerifier creates a Verifier against the given JWKS endpoint.
func NewVerifier(jwksURL, issuer, audience string) *Verifier {
	return &Verifier{
		jwksURL:  jwksURL,
		issuer:   issuer,
		audience: audience,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// NewTestVerifier creates a Verifier that signs and accepts its own tokens.
// Intended for tests and local development.
func NewTestVerifier(issuer, audience string) *Verifier {
	_, priv, _ := ed25519.GenerateKey(nil)
	return &Verifier{
		issuer:   issuer,
		audience: audience,
		testMode: true,
		testKey:  priv,
	}
}

// SignTestToken issues a token for userID. Only available in test mode.
func (v *Verifier) SignTestToken(userID string) (string, error) {
	if !v.testMode {
		return "", fmt.Errorf("not a test verifier")
	}
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, jwt.MapClaims{
		"sub": userID,
		"iss": v.issuer,
		"aud": v.audience,
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	return token.SignedString(v.testKey)
}

// Verify validates tokenString and returns the subject user ID.
func (v *Verifier) Verify(ctx context.Context, tokenString string) (string, error) {
	keyFunc := func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		if v.testMode {
			return v.testKey.Public(), nil
		}
		kid, _ := token.Header["kid"].(string)
		if kid == "" {
			return nil, fmt.Errorf("missing kid in token header")
		}
		return v.publicKey(ctx, kid)
	}

	parsed, err := jwt.ParseWithClaims(tokenString, jwt.MapClaims{}, keyFunc,
		jwt.WithIssuer(v.issuer),
		jwt.WithAudience(v.audience),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return "", sverrors.Wrap(sverrors.SV_AUTHN, "invalid token", err)
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return "", sverrors.New(sverrors.SV_AUTHN, "invalid token claims")
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return "", sverrors.New(sverrors.SV_AUTHN, "token has no subject")
	}
	return sub, nil
}

// publicKey resolves the Ed25519 public key for kid via the cached JWKS.
func (v *Verifier) publicKey(ctx context.Context, kid string) (ed25519.PublicKey, error) {
	jwks, err := v.getJWKS(ctx)
	if err != nil {
		return nil, err
	}
	for _, key := range jwks.Keys {
		if key.Kid != kid {
			continue
		}
		if key.Kty != "OKP" || key.Crv != "Ed25519" || key.Alg != "EdDSA" {
			return nil, fmt.Errorf("unsupported key type or algorithm for kid %s", kid)
		}
		xBytes, err := base64.RawURLEncoding.DecodeString(key.X)
		if err != nil {
			return nil, fmt.Errorf("failed to decode public key: %w", err)
		}
		return ed25519.PublicKey(xBytes), nil
	}
	return nil, fmt.Errorf("key with kid %s not found", kid)
}

// getJWKS retrieves JWKS from cache or fetches fresh if needed.
func (v *Verifier) getJWKS(ctx context.Context) (*JWKS, error) {
	v.mu.RLock()
	if v.cached != nil && time.Now().Before(v.expiresAt) {
		jwks := v.cached
		v.mu.RUnlock()
		return jwks, nil
	}
	v.mu.RUnlock()

	v.mu.Lock()
	defer v.mu.Unlock()

	// Double-check after acquiring write lock
	if v.cached != nil && time.Now().Before(v.expiresAt) {
		return v.cached, nil
	}

	jwks, err := v.fetchJWKS(ctx)
	if err != nil {
		return nil, err
	}
	v.cached = jwks
	v.expiresAt = time.Now().Add(5 * time.Minute)
	return jwks, nil
}

// fetchJWKS fetches the JWKS from the identity provider.
func (v *Verifier) fetchJWKS(ctx context.Context) (*JWKS, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", v.jwksURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch JWKS: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("JWKS fetch failed with status %d", resp.StatusCode)
	}

	var jwks JWKS
	if err := json.NewDecoder(resp.Body).Decode(&jwks); err != nil {
		return nil, fmt.Errorf("failed to decode JWKS: %w", err)
	}
	return &jwks, nil
}
