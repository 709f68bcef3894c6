package auth

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"commandbridge/pkg/domain"
	dErrors "commandbridge/pkg/domain-errors"
	"commandbridge/pkg/platform/httputil"
	"commandbridge/pkg/platform/privacy"
	"commandbridge/pkg/requestcontext"
)

// JWTValidator verifies a bearer token's signature, issuer, audience, and expiry.
type JWTValidator interface {
	ValidateToken(ctx context.Context, tokenString string) (*JWTClaims, error)
}

// JWTClaims is the subset of verified claims the portal trusts: identity only.
// Any role or group claim in the token is ignored.
type JWTClaims struct {
	Subject string
	Email   string
}

// CallerResolver looks up the caller's role in the durable user store.
type CallerResolver interface {
	ResolveCaller(ctx context.Context, email domain.Email) (domain.Caller, error)
}

// RequireAuth validates the bearer token and stores the verified email in context.
func RequireAuth(validator JWTValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			requestID := requestcontext.RequestID(ctx)

			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || strings.TrimSpace(token) == "" {
				logger.WarnContext(ctx, "unauthorized access - missing token",
					"request_id", requestID,
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "missing or invalid Authorization header"))
				return
			}

			claims, err := validator.ValidateToken(ctx, strings.TrimSpace(token))
			if err != nil {
				logger.WarnContext(ctx, "unauthorized access - invalid token",
					"error", err,
					"request_id", requestID,
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "invalid or expired token"))
				return
			}

			email := domain.NormalizeEmail(claims.Email)
			if email.IsNil() {
				logger.WarnContext(ctx, "unauthorized access - token has no email claim",
					"subject", claims.Subject,
					"request_id", requestID,
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "token carries no identity"))
				return
			}

			next.ServeHTTP(w, r.WithContext(requestcontext.WithEmail(ctx, email)))
		})
	}
}

// ResolveCaller maps the verified email to a role through the user store.
// Unknown or inactive users continue with an empty role; every downstream
// permission check then fails closed. Only a store failure aborts the request.
func ResolveCaller(resolver CallerResolver, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			email := requestcontext.Email(ctx)
			if email.IsNil() {
				logger.ErrorContext(ctx, "email missing from context despite auth middleware",
					"request_id", requestcontext.RequestID(ctx),
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "authentication required"))
				return
			}

			caller, err := resolver.ResolveCaller(ctx, email)
			if err != nil {
				logger.ErrorContext(ctx, "failed to resolve caller",
					"error", err,
					"user", privacy.MaskEmail(email.String()),
					"request_id", requestcontext.RequestID(ctx),
				)
				httputil.WriteError(w, err)
				return
			}
			caller.Email = email

			next.ServeHTTP(w, r.WithContext(requestcontext.WithCaller(ctx, caller)))
		})
	}
}
