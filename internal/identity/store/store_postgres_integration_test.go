//go:build integration

package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"commandbridge/internal/identity/models"
	"commandbridge/internal/identity/store"
	"commandbridge/pkg/domain"
	"commandbridge/pkg/platform/sentinel"
	"commandbridge/pkg/testutil"
	"commandbridge/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *store.PostgresStore
	now      time.Time
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.postgres = containers.GetManager().GetPostgres(s.T())
	s.store = store.NewPostgres(s.postgres.DB)
	s.now = time.Date(2026, 1, 5, 8, 0, 0, 0, time.UTC)
}

func (s *PostgresStoreSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(context.Background(), "users"))
}

func (s *PostgresStoreSuite) user(email domain.Email, role domain.Role) *models.User {
	return &models.User{
		Email:     email,
		Name:      "Test User",
		Role:      role,
		Team:      "sre",
		Active:    true,
		CreatedAt: s.now,
		UpdatedAt: s.now,
		UpdatedBy: testutil.Admin.Email,
	}
}

func (s *PostgresStoreSuite) TestCreateAndFind() {
	ctx := context.Background()
	s.Require().NoError(s.store.Create(ctx, s.user("b@example.com", "L2-engineer")))
	s.Require().NoError(s.store.Create(ctx, s.user("a@example.com", "L1-operator")))
	s.ErrorIs(s.store.Create(ctx, s.user("a@example.com", "L3-admin")), sentinel.ErrAlreadyUsed)

	got, err := s.store.FindByEmail(ctx, "a@example.com")
	s.Require().NoError(err)
	s.Equal(domain.Role("L1-operator"), got.Role)
	s.Equal("sre", got.Team)
	s.True(got.Active)
	s.True(got.CreatedAt.Equal(s.now))

	_, err = s.store.FindByEmail(ctx, "ghost@example.com")
	s.ErrorIs(err, sentinel.ErrNotFound)

	users, err := s.store.List(ctx)
	s.Require().NoError(err)
	s.Require().Len(users, 2)
	s.Equal(domain.Email("a@example.com"), users[0].Email)
	s.Equal(domain.Email("b@example.com"), users[1].Email)
}

func (s *PostgresStoreSuite) TestUpdate() {
	ctx := context.Background()
	s.Require().NoError(s.store.Create(ctx, s.user("a@example.com", "L1-operator")))

	u, err := s.store.FindByEmail(ctx, "a@example.com")
	s.Require().NoError(err)
	u.Role = "L2-engineer"
	u.Active = false
	u.UpdatedAt = s.now.Add(time.Hour)
	u.UpdatedBy = testutil.Engineer.Email
	s.Require().NoError(s.store.Update(ctx, u))

	stored, err := s.store.FindByEmail(ctx, "a@example.com")
	s.Require().NoError(err)
	s.Equal(domain.Role("L2-engineer"), stored.Role)
	s.False(stored.Active)
	s.Equal(testutil.Engineer.Email, stored.UpdatedBy)
	s.True(stored.CreatedAt.Equal(s.now))

	s.ErrorIs(s.store.Update(ctx, s.user("ghost@example.com", "L1-operator")), sentinel.ErrNotFound)
}
