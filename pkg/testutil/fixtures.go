package testutil

import (
	"context"
	"io"
	"log/slog"

	"commandbridge/pkg/domain"
	"commandbridge/pkg/requestcontext"
)

// Fixed callers, one per tier, for deterministic tests.
var (
	Operator = domain.Caller{Email: "operator@example.com", Role: "L1-operator", Level: 1}
	Engineer = domain.Caller{Email: "engineer@example.com", Role: "L2-engineer", Level: 2}
	Admin    = domain.Caller{Email: "admin@example.com", Role: "L3-admin", Level: 3}
	// Engineer2 lets approval tests use a reviewer distinct from Engineer.
	Engineer2 = domain.Caller{Email: "engineer2@example.com", Role: "L2-engineer", Level: 2}
	Nobody    = domain.Caller{Email: "ghost@example.com"}
)

// DiscardLogger returns a logger that drops all output.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// WithCaller returns a context carrying caller and a request ID.
func WithCaller(caller domain.Caller) context.Context {
	ctx := requestcontext.WithRequestID(context.Background(), "test-request")
	ctx = requestcontext.WithEmail(ctx, caller.Email)
	return requestcontext.WithCaller(ctx, caller)
}
