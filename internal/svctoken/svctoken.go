// Package svctoken mints and verifies short-lived service JWTs used to
// authenticate the gateway to the cloud ingest endpoint, grounded on
// original_source/fog/app/security/jwk.py.
package svctoken

import (
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	subject     = "fog"
	tokenType   = "service"
	headerName  = "Authorization"
	bearerPrefx = "Bearer "

	// renewBefore is the δ in "re-minted at T − δ": currentToken keeps
	// serving a cached token until this close to its expiry.
	renewBefore = 60 * time.Second
)

// Minter issues and verifies HS256 service tokens under a shared secret.
// currentToken caches the most recently minted token so the forwarder
// doesn't pay a sign operation on every request; a fresh one is only cut
// once the cached one is within renewBefore of expiring.
type Minter struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time

	mu           sync.Mutex
	cachedToken  string
	cachedExpiry time.Time
}

// New builds a Minter. ttl is the token lifetime (spec.md §4.11).
func New(secret []byte, ttl time.Duration) *Minter {
	return &Minter{secret: secret, ttl: ttl, now: time.Now}
}

type claims struct {
	jwt.RegisteredClaims
	Type string `json:"type"`
}

// Mint issues a new signed service token.
func (m *Minter) Mint() (string, error) {
	now := m.now()
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
		Type: tokenType,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("svctoken: sign: %w", err)
	}
	return signed, nil
}

// Verify checks a token's signature, expiry, subject, and type.
func (m *Minter) Verify(tokenString string) error {
	token, err := jwt.ParseWithClaims(tokenString, &claims{}, func(t *jwt.Token) (interface{}, error) {
		return m.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithTimeFunc(m.now))
	if err != nil {
		return fmt.Errorf("svctoken: %w", err)
	}
	c, ok := token.Claims.(*claims)
	if !ok || !token.Valid {
		return fmt.Errorf("svctoken: invalid claims")
	}
	if c.Subject != subject {
		return fmt.Errorf("svctoken: unexpected subject %q", c.Subject)
	}
	if c.Type != tokenType {
		return fmt.Errorf("svctoken: unexpected type %q", c.Type)
	}
	return nil
}

// currentToken returns the cached service token, re-minting only once it
// is within renewBefore of its expiry (spec.md §4.11).
func (m *Minter) currentToken() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if m.cachedToken != "" && now.Before(m.cachedExpiry.Add(-renewBefore)) {
		return m.cachedToken, nil
	}

	token, err := m.Mint()
	if err != nil {
		return "", err
	}
	m.cachedToken = token
	m.cachedExpiry = now.Add(m.ttl)
	return token, nil
}

// AuthHeader returns the header name/value pair to attach to an outbound
// request, backed by currentToken's cache-and-renew behavior and
// mirroring jwk.py's create_auth_header.
func (m *Minter) AuthHeader() (name, value string, err error) {
	token, err := m.currentToken()
	if err != nil {
		return "", "", err
	}
	return headerName, bearerPrefx + token, nil
}

// Invalidate drops the cached token, forcing the next AuthHeader call to
// mint a fresh one regardless of its remaining lifetime. The forwarder
// calls this when the cloud rejects a token as expired or invalid.
func (m *Minter) Invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cachedToken = ""
}

// ExtractBearer pulls the raw token out of an Authorization header value.
func ExtractBearer(header string) (string, error) {
	if len(header) <= len(bearerPrefx) || header[:len(bearerPrefx)] != bearerPrefx {
		return "", fmt.Errorf("svctoken: missing bearer prefix")
	}
	return header[len(bearerPrefx):], nil
}
