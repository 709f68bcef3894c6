package tracer_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"commandbridge/internal/platform/tracer"
)

func TestNoopTracerReturnsSameContext(t *testing.T) {
	ctx := context.Background()
	newCtx, span := tracer.NewNoop().Start(ctx, "executor.purge-cache", tracer.String(tracer.AttrActionID, "purge-cache"))

	assert.Equal(t, ctx, newCtx)
	require.NotNil(t, span)
	span.SetAttributes(tracer.Bool(tracer.AttrDryRun, true))
	span.AddEvent(tracer.EventAuditWritten)
	span.End(errors.New("boom"))
}

func TestOTelTracerWithInjectedProvider(t *testing.T) {
	tr := tracer.NewOTel(tracer.WithOTelTracer(noop.NewTracerProvider().Tracer("test")))

	_, span := tr.Start(context.Background(), tracer.ExecutorSpan("restart-pods"),
		tracer.String(tracer.AttrTarget, "checkout"),
		tracer.Int64("attempt", 1),
		tracer.Duration("timeout_ms", 10*time.Second),
	)
	require.NotNil(t, span)
	assert.NotPanics(t, func() { span.End(errors.New("executor failed")) })
}

func TestExecutorSpan(t *testing.T) {
	assert.Equal(t, "executor.purge-cache", tracer.ExecutorSpan("purge-cache"))
}

func TestHashEmail(t *testing.T) {
	assert.Empty(t, tracer.HashEmail(""))
	h := tracer.HashEmail("Eng@Example.com")
	assert.Len(t, h, 16)
	assert.Equal(t, h, tracer.HashEmail("eng@example.com"))
	assert.NotEqual(t, h, tracer.HashEmail("other@example.com"))
}
