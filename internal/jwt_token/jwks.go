package jwt_token

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	dErrors "commandbridge/pkg/domain-errors"
	"commandbridge/pkg/platform/middleware/auth"
)

var (
	ErrUnknownKey      = errors.New("jwks: unknown key id")
	ErrKeysUnavailable = errors.New("jwks: keys unavailable")
)

// minRefreshInterval bounds how often an unknown kid may force a refetch.
const minRefreshInterval = time.Minute

type jwk struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	N   string `json:"n"`
	E   string `json:"e"`
}

type jwkSet struct {
	Keys []jwk `json:"keys"`
}

// JWKSValidator verifies RS256 tokens against a remote key set, caching keys
// for ttl and refetching early when a token names an unseen kid.
type JWKSValidator struct {
	url      string
	issuer   string
	audience string
	ttl      time.Duration
	client   *http.Client
	logger   *slog.Logger
	now      func() time.Time

	mu          sync.RWMutex
	keys        map[string]*rsa.PublicKey
	fetchedAt   time.Time
	lastAttempt time.Time
}

type JWKSOption func(*JWKSValidator)

func WithHTTPClient(c *http.Client) JWKSOption {
	return func(v *JWKSValidator) { v.client = c }
}

func WithLogger(l *slog.Logger) JWKSOption {
	return func(v *JWKSValidator) { v.logger = l }
}

func WithClock(now func() time.Time) JWKSOption {
	return func(v *JWKSValidator) { v.now = now }
}

func NewJWKSValidator(url, issuer, audience string, ttl time.Duration, opts ...JWKSOption) *JWKSValidator {
	v := &JWKSValidator{
		url:      url,
		issuer:   issuer,
		audience: audience,
		ttl:      ttl,
		client:   &http.Client{Timeout: 5 * time.Second},
		logger:   slog.Default(),
		now:      time.Now,
		keys:     map[string]*rsa.PublicKey{},
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// ValidateToken implements auth.JWTValidator.
func (v *JWKSValidator) ValidateToken(ctx context.Context, tokenString string) (*auth.JWTClaims, error) {
	claims := new(IdentityClaims)
	parsed, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		return v.key(ctx, kid)
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuer(v.issuer),
		jwt.WithAudience(v.audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		return nil, translateParseError(err)
	}
	if !parsed.Valid {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token")
	}
	return claims.toMiddleware(), nil
}

func (v *JWKSValidator) key(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	v.mu.RLock()
	k, ok := v.keys[kid]
	fresh := !v.fetchedAt.IsZero() && v.now().Sub(v.fetchedAt) < v.ttl
	v.mu.RUnlock()
	if ok && fresh {
		return k, nil
	}

	if err := v.refresh(ctx, ok); err != nil {
		if ok {
			v.logger.WarnContext(ctx, "jwks refresh failed, serving cached key", "error", err)
			return k, nil
		}
		return nil, err
	}

	v.mu.RLock()
	defer v.mu.RUnlock()
	if k, ok := v.keys[kid]; ok {
		return k, nil
	}
	return nil, ErrUnknownKey
}

// refresh refetches the key set. Refetches triggered by unknown kids are
// throttled to minRefreshInterval; TTL expiry always refetches.
func (v *JWKSValidator) refresh(ctx context.Context, expired bool) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	now := v.now()
	if !expired && !v.lastAttempt.IsZero() && now.Sub(v.lastAttempt) < minRefreshInterval {
		return nil
	}
	v.lastAttempt = now

	keys, err := v.fetch(ctx)
	if err != nil {
		return err
	}
	v.keys = keys
	v.fetchedAt = now
	return nil
}

func (v *JWKSValidator) fetch(ctx context.Context) (map[string]*rsa.PublicKey, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeysUnavailable, err)
	}
	resp, err := v.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeysUnavailable, err)
	}
	defer resp.Body.Close() //nolint:errcheck // read-only body

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrKeysUnavailable, resp.StatusCode)
	}

	var set jwkSet
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrKeysUnavailable, err)
	}

	keys := make(map[string]*rsa.PublicKey, len(set.Keys))
	for _, k := range set.Keys {
		if k.Kty != "RSA" || (k.Use != "" && k.Use != "sig") {
			continue
		}
		pub, err := parseRSA(k)
		if err != nil {
			v.logger.WarnContext(ctx, "skipping malformed jwk", "kid", k.Kid, "error", err)
			continue
		}
		keys[k.Kid] = pub
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("%w: no usable RSA keys", ErrKeysUnavailable)
	}
	return keys, nil
}

func parseRSA(k jwk) (*rsa.PublicKey, error) {
	nb, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, fmt.Errorf("modulus: %w", err)
	}
	eb, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, fmt.Errorf("exponent: %w", err)
	}
	e := new(big.Int).SetBytes(eb)
	if !e.IsInt64() || e.Int64() < 3 {
		return nil, fmt.Errorf("exponent out of range")
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(nb), E: int(e.Int64())}, nil
}

var _ auth.JWTValidator = (*JWKSValidator)(nil)
