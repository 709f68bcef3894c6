//go:build integration

package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"commandbridge/internal/activity/models"
	"commandbridge/internal/activity/store"
	"commandbridge/pkg/domain"
	"commandbridge/pkg/platform/pagination"
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
	s.now = time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
}

func (s *PostgresStoreSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(context.Background(), "activity_events"))
}

func (s *PostgresStoreSuite) event(user domain.Email, typ models.EventType, offset time.Duration) *models.Event {
	ev := models.NewEvent(user, typ, map[string]any{"path": "/kb"}, s.now.Add(offset))
	ev.Device = "Chrome on Linux"
	return &ev
}

func (s *PostgresStoreSuite) put(events ...*models.Event) {
	n, err := s.store.PutBatch(context.Background(), events)
	s.Require().NoError(err)
	s.Require().Equal(len(events), n)
}

func (s *PostgresStoreSuite) TestPutBatchUpsertsOnUserAndTimestamp() {
	ctx := context.Background()
	first := s.event(testutil.Operator.Email, models.EventPageView, 0)
	s.put(first)

	replacement := s.event(testutil.Operator.Email, models.EventSearch, 0)
	replacement.Data = map[string]any{"query": "disk"}
	s.put(replacement)

	events, err := s.store.Query(ctx, models.Filter{User: testutil.Operator.Email}, 10, nil)
	s.Require().NoError(err)
	s.Require().Len(events, 1)
	s.Equal(models.EventSearch, events[0].Type)
	s.Equal("disk", events[0].Data["query"])
	s.Equal("Chrome on Linux", events[0].Device)

	n, err := s.store.PutBatch(ctx, nil)
	s.Require().NoError(err)
	s.Zero(n)
}

func (s *PostgresStoreSuite) TestQueryPagesInKeysetOrder() {
	ctx := context.Background()
	// Operator and Engineer share a timestamp so the email breaks the tie.
	s.put(
		s.event(testutil.Operator.Email, models.EventPageView, 0),
		s.event(testutil.Engineer.Email, models.EventPageView, 0),
		s.event(testutil.Admin.Email, models.EventKBView, time.Second),
		s.event(testutil.Operator.Email, models.EventSearch, 2*time.Second),
		s.event(testutil.Engineer.Email, models.EventLogin, 3*time.Second),
	)

	type key struct {
		user domain.Email
		ts   int64
	}
	var (
		seen   []key
		cursor *pagination.Cursor
	)
	for range 5 {
		page, err := s.store.Query(ctx, models.Filter{}, 2, cursor)
		s.Require().NoError(err)
		if len(page) == 0 {
			break
		}
		for _, ev := range page {
			seen = append(seen, key{ev.User, ev.Timestamp})
		}
		last := page[len(page)-1]
		cursor = &pagination.Cursor{Time: time.UnixMilli(last.Timestamp), Key: last.User.String()}
	}

	base := s.now.UnixMilli()
	s.Equal([]key{
		{testutil.Engineer.Email, base + 3000},
		{testutil.Operator.Email, base + 2000},
		{testutil.Admin.Email, base + 1000},
		{testutil.Operator.Email, base},
		{testutil.Engineer.Email, base},
	}, seen)
}

func (s *PostgresStoreSuite) TestQueryFilters() {
	ctx := context.Background()
	s.put(
		s.event(testutil.Operator.Email, models.EventPageView, 0),
		s.event(testutil.Operator.Email, models.EventSearch, time.Minute),
		s.event(testutil.Engineer.Email, models.EventSearch, 2*time.Minute),
	)

	byType, err := s.store.Query(ctx, models.Filter{Type: models.EventSearch}, 10, nil)
	s.Require().NoError(err)
	s.Len(byType, 2)

	// Start and End are both inclusive.
	window, err := s.store.Query(ctx, models.Filter{
		Start: s.now.Add(time.Minute).UnixMilli(),
		End:   s.now.Add(2 * time.Minute).UnixMilli(),
	}, 10, nil)
	s.Require().NoError(err)
	s.Len(window, 2)
}

func (s *PostgresStoreSuite) TestActiveUsers() {
	ctx := context.Background()
	s.put(
		s.event(testutil.Operator.Email, models.EventPageView, -2*time.Hour),
		s.event(testutil.Operator.Email, models.EventPageView, 0),
		s.event(testutil.Operator.Email, models.EventSearch, time.Minute),
		s.event(testutil.Engineer.Email, models.EventLogin, 2*time.Minute),
	)

	users, err := s.store.ActiveUsers(ctx, s.now.Add(-time.Hour).UnixMilli())
	s.Require().NoError(err)
	s.Equal([]models.ActiveUser{
		{User: testutil.Engineer.Email, LastSeen: s.now.Add(2 * time.Minute).UnixMilli(), EventCount: 1},
		{User: testutil.Operator.Email, LastSeen: s.now.Add(time.Minute).UnixMilli(), EventCount: 2},
	}, users)
}

func (s *PostgresStoreSuite) TestDeleteExpired() {
	ctx := context.Background()
	stale := s.event(testutil.Operator.Email, models.EventPageView, 0)
	stale.ExpiresAt = s.now.Add(-time.Minute)
	s.put(stale, s.event(testutil.Engineer.Email, models.EventPageView, 0))

	removed, err := s.store.DeleteExpired(ctx, s.now)
	s.Require().NoError(err)
	s.Equal(1, removed)

	left, err := s.postgres.Count(ctx, "activity_events", "")
	s.Require().NoError(err)
	s.Equal(1, left)
}
