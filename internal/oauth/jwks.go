package oauth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"sync"

	"github.com/golang-jwt/jwt/v5"
)

// jwk is a single JSON Web Key as served by the realm certs endpoint.
// Only the RSA fields are decoded; Keycloak signs ID tokens with RS256.
type jwk struct {
	Kid string `json:"kid"`
	Kty string `json:"kty"`
	Use string `json:"use"`
	N   string `json:"n"`
	E   string `json:"e"`
}

type jwkSet struct {
	Keys []jwk `json:"keys"`
}

// keyCache holds the realm signing keys keyed by kid. Keys are fetched
// lazily and refreshed when an unknown kid appears, which covers both the
// cold cache and server-side key rotation.
type keyCache struct {
	mu   sync.Mutex
	keys map[string]*rsa.PublicKey
}

// VerifyIDToken validates an ID token against the realm JWKS: signature,
// issuer, audience, and lifetime. The caller decides whether a missing ID
// token is acceptable; this only judges tokens that are present.
func (p *KeycloakProvider) VerifyIDToken(ctx context.Context, rawToken string) error {
	keyfunc := func(token *jwt.Token) (interface{}, error) {
		kid, ok := token.Header["kid"].(string)
		if !ok {
			return nil, fmt.Errorf("token header missing kid")
		}
		return p.signingKey(ctx, kid)
	}

	_, err := jwt.Parse(rawToken, keyfunc,
		jwt.WithValidMethods([]string{"RS256", "RS384", "RS512"}),
		jwt.WithIssuer(p.issuer),
		jwt.WithAudience(p.clientID),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidIDToken, err)
	}
	return nil
}

// signingKey returns the realm public key for kid, refreshing the cache on
// a miss.
func (p *KeycloakProvider) signingKey(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	p.keys.mu.Lock()
	defer p.keys.mu.Unlock()

	if key, ok := p.keys.keys[kid]; ok {
		return key, nil
	}

	keys, err := p.fetchJWKS(ctx)
	if err != nil {
		return nil, err
	}
	p.keys.keys = keys

	key, ok := keys[kid]
	if !ok {
		return nil, fmt.Errorf("no signing key found for kid %q", kid)
	}
	return key, nil
}

// fetchJWKS downloads the realm certs document and builds the RSA keys.
func (p *KeycloakProvider) fetchJWKS(ctx context.Context) (map[string]*rsa.PublicKey, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.jwksURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating jwks request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending jwks request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("jwks request failed with status %d", resp.StatusCode)
	}

	var set jwkSet
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return nil, fmt.Errorf("parsing jwks response: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(set.Keys))
	for _, k := range set.Keys {
		if k.Kty != "RSA" || k.Kid == "" {
			continue
		}
		key, err := k.rsaPublicKey()
		if err != nil {
			return nil, fmt.Errorf("building key %q: %w", k.Kid, err)
		}
		keys[k.Kid] = key
	}
	return keys, nil
}

// rsaPublicKey decodes the base64url modulus and exponent into a public key.
func (k jwk) rsaPublicKey() (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, fmt.Errorf("decoding modulus: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, fmt.Errorf("decoding exponent: %w", err)
	}

	e := 0
	for _, b := range eBytes {
		e = e<<8 + int(b)
	}

	return &rsa.PublicKey{N: new(big.Int).SetBytes(nBytes), E: e}, nil
}
