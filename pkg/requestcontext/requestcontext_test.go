package requestcontext

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"commandbridge/pkg/domain"
)

func TestEmptyContextDefaults(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, RequestID(ctx))
	assert.Empty(t, ClientIP(ctx))
	assert.Empty(t, UserAgent(ctx))
	assert.True(t, Email(ctx).IsNil())
	_, ok := Caller(ctx)
	assert.False(t, ok)
}

func TestRoundTrips(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req-1")
	ctx = WithClientMetadata(ctx, "10.0.0.1", "curl/8")
	ctx = WithEmail(ctx, "ops@example.com")
	ctx = WithCaller(ctx, domain.Caller{Email: "ops@example.com", Role: "L1-operator", Level: 1})

	assert.Equal(t, "req-1", RequestID(ctx))
	assert.Equal(t, "10.0.0.1", ClientIP(ctx))
	assert.Equal(t, "curl/8", UserAgent(ctx))
	assert.Equal(t, domain.Email("ops@example.com"), Email(ctx))

	caller, ok := Caller(ctx)
	assert.True(t, ok)
	assert.Equal(t, 1, caller.Level)
}

func TestNowHonoursPinnedTime(t *testing.T) {
	pinned := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, pinned, Now(WithTime(context.Background(), pinned)))
	assert.WithinDuration(t, time.Now(), Now(context.Background()), time.Second)
}
