package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"commandbridge/internal/identity/models"
	"commandbridge/pkg/platform/sentinel"
)

func TestInMemoryLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewInMemory()

	require.NoError(t, s.Create(ctx, &models.User{Email: "b@example.com", Role: "L1-operator", Active: true}))
	require.NoError(t, s.Create(ctx, &models.User{Email: "a@example.com", Role: "L3-admin", Active: true}))
	assert.ErrorIs(t, s.Create(ctx, &models.User{Email: "a@example.com"}), sentinel.ErrAlreadyUsed)

	users, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "a@example.com", users[0].Email.String())

	u, err := s.FindByEmail(ctx, "b@example.com")
	require.NoError(t, err)
	u.Active = false
	require.NoError(t, s.Update(ctx, u))

	stored, err := s.FindByEmail(ctx, "b@example.com")
	require.NoError(t, err)
	assert.False(t, stored.Active)

	assert.ErrorIs(t, s.Update(ctx, &models.User{Email: "x@example.com"}), sentinel.ErrNotFound)
	_, err = s.FindByEmail(ctx, "x@example.com")
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}

func TestInMemoryReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewInMemory()
	require.NoError(t, s.Create(ctx, &models.User{Email: "a@example.com", Role: "L1-operator"}))

	u, err := s.FindByEmail(ctx, "a@example.com")
	require.NoError(t, err)
	u.Role = "L3-admin"

	again, err := s.FindByEmail(ctx, "a@example.com")
	require.NoError(t, err)
	assert.Equal(t, "L1-operator", again.Role.String())
}
