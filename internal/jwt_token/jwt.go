package jwt_token

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	dErrors "commandbridge/pkg/domain-errors"
	"commandbridge/pkg/platform/middleware/auth"
	"commandbridge/pkg/requestcontext"
)

// IdentityClaims are the claims read from portal tokens. Identity providers
// disagree on where the address lives, so several fields are accepted.
type IdentityClaims struct {
	Email           string `json:"email,omitempty"`
	Name            string `json:"name,omitempty"`
	Username        string `json:"username,omitempty"`
	CognitoUsername string `json:"cognito:username,omitempty"`
	jwt.RegisteredClaims
}

// Identity returns the lowercased email, falling back to username fields.
func (c *IdentityClaims) Identity() string {
	for _, v := range []string{c.Email, c.Username, c.CognitoUsername} {
		if v = strings.TrimSpace(v); v != "" {
			return strings.ToLower(v)
		}
	}
	return ""
}

func (c *IdentityClaims) toMiddleware() *auth.JWTClaims {
	return &auth.JWTClaims{
		Subject: c.Subject,
		Email:   c.Identity(),
	}
}

// HMACService issues and validates HS256 tokens for local development.
type HMACService struct {
	signingKey []byte
	issuer     string
	audience   string
	tokenTTL   time.Duration
}

func NewHMACService(signingKey, issuer, audience string, tokenTTL time.Duration) *HMACService {
	return &HMACService{
		signingKey: []byte(signingKey),
		issuer:     issuer,
		audience:   audience,
		tokenTTL:   tokenTTL,
	}
}

// GenerateToken signs a token carrying email and name.
func (s *HMACService) GenerateToken(ctx context.Context, email, name string) (string, error) {
	if strings.TrimSpace(email) == "" {
		return "", dErrors.New(dErrors.CodeValidation, "email is required")
	}
	now := requestcontext.Now(ctx)

	claims := IdentityClaims{
		Email: strings.ToLower(strings.TrimSpace(email)),
		Name:  name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   uuid.NewString(),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        uuid.NewString(),
		},
	}
	if s.issuer != "" {
		claims.Issuer = s.issuer
	}
	if s.audience != "" {
		claims.Audience = []string{s.audience}
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.signingKey)
}

// ValidateToken implements auth.JWTValidator.
func (s *HMACService) ValidateToken(_ context.Context, tokenString string) (*auth.JWTClaims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}
	if s.audience != "" {
		opts = append(opts, jwt.WithAudience(s.audience))
	}

	claims := new(IdentityClaims)
	parsed, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return s.signingKey, nil
	}, opts...)
	if err != nil {
		return nil, translateParseError(err)
	}
	if !parsed.Valid {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token")
	}
	return claims.toMiddleware(), nil
}

func translateParseError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return dErrors.New(dErrors.CodeUnauthorized, "token expired")
	case errors.Is(err, jwt.ErrTokenInvalidIssuer), errors.Is(err, jwt.ErrTokenInvalidAudience):
		return dErrors.New(dErrors.CodeUnauthorized, "token not issued for this service")
	case errors.Is(err, jwt.ErrSignatureInvalid), errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return dErrors.New(dErrors.CodeUnauthorized, "invalid token signature")
	case errors.Is(err, ErrUnknownKey):
		return dErrors.New(dErrors.CodeUnauthorized, "token signed by unknown key")
	case errors.Is(err, ErrKeysUnavailable):
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "signing keys unavailable")
	default:
		return dErrors.New(dErrors.CodeUnauthorized, "invalid token")
	}
}

var _ auth.JWTValidator = (*HMACService)(nil)
