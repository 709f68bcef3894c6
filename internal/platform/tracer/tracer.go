// Package tracer is a thin tracing abstraction so domain code does not import
// OpenTelemetry directly.
//
// Implementations:
//   - NoopTracer: for tests
//   - OTelTracer: OpenTelemetry adapter for production
package tracer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// Span is an active trace span. End must be called exactly once.
type Span interface {
	End(err error)
	SetAttributes(attrs ...Attribute)
	AddEvent(name string, attrs ...Attribute)
}

// Tracer creates spans. Implementations must be safe for concurrent use.
type Tracer interface {
	Start(ctx context.Context, name string, attrs ...Attribute) (context.Context, Span)
}

// Attribute is a key-value pair attached to spans.
type Attribute struct {
	Key   string
	Value any
}

func String(key, value string) Attribute {
	return Attribute{Key: key, Value: value}
}

func Bool(key string, value bool) Attribute {
	return Attribute{Key: key, Value: value}
}

func Int64(key string, value int64) Attribute {
	return Attribute{Key: key, Value: value}
}

// Duration records value in milliseconds.
func Duration(key string, value time.Duration) Attribute {
	return Attribute{Key: key, Value: value.Milliseconds()}
}

// HashEmail returns a short SHA-256 prefix of the lowercased email so traces
// can be correlated without carrying the address.
func HashEmail(email string) string {
	if email == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(strings.ToLower(email)))
	return hex.EncodeToString(sum[:8])
}

// ExecutorSpan names the span wrapping an executor call for actionID.
func ExecutorSpan(actionID string) string {
	return "executor." + actionID
}

// Attribute keys.
const (
	AttrActionID = "action.id"
	AttrTarget   = "action.target"
	AttrTicket   = "action.ticket"
	AttrCaller   = "caller.hash"
	AttrDryRun   = "executor.dry_run"
	AttrBreaker  = "executor.breaker_open"
	AttrRecordID = "audit.record_id"
)

// Event names.
const (
	EventAuditWritten = "audit.written"
)
