// Package requestcontext carries per-request values (request ID, client
// metadata, authenticated caller, request time) through context.Context.
package requestcontext

import (
	"context"
	"time"

	"commandbridge/pkg/domain"
)

type ctxKey int

const (
	keyRequestID ctxKey = iota
	keyClientIP
	keyUserAgent
	keyEmail
	keyCaller
	keyTime
)

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, keyRequestID, requestID)
}

// RequestID returns the request correlation ID, or "" when unset.
func RequestID(ctx context.Context) string {
	v, _ := ctx.Value(keyRequestID).(string)
	return v
}

// WithClientMetadata stores the resolved client IP and User-Agent.
func WithClientMetadata(ctx context.Context, ip, userAgent string) context.Context {
	ctx = context.WithValue(ctx, keyClientIP, ip)
	return context.WithValue(ctx, keyUserAgent, userAgent)
}

func ClientIP(ctx context.Context) string {
	v, _ := ctx.Value(keyClientIP).(string)
	return v
}

func UserAgent(ctx context.Context) string {
	v, _ := ctx.Value(keyUserAgent).(string)
	return v
}

// WithEmail stores the verified identity from the bearer token.
func WithEmail(ctx context.Context, email domain.Email) context.Context {
	return context.WithValue(ctx, keyEmail, email)
}

func Email(ctx context.Context) domain.Email {
	v, _ := ctx.Value(keyEmail).(domain.Email)
	return v
}

// WithCaller stores the caller resolved against the user store.
func WithCaller(ctx context.Context, caller domain.Caller) context.Context {
	return context.WithValue(ctx, keyCaller, caller)
}

// Caller returns the resolved caller. ok is false when no resolution ran.
func Caller(ctx context.Context) (domain.Caller, bool) {
	v, ok := ctx.Value(keyCaller).(domain.Caller)
	return v, ok
}

// WithTime pins the request time. Tests use it to make timestamps deterministic.
func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, keyTime, t)
}

// Now returns the pinned request time or the wall clock in UTC.
func Now(ctx context.Context) time.Time {
	if t, ok := ctx.Value(keyTime).(time.Time); ok {
		return t
	}
	return time.Now().UTC()
}
