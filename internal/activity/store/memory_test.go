package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"commandbridge/internal/activity/models"
	"commandbridge/pkg/domain"
	"commandbridge/pkg/platform/pagination"
)

type InMemorySuite struct {
	suite.Suite
	store *InMemory
	ctx   context.Context
	base  time.Time
}

func TestInMemorySuite(t *testing.T) {
	suite.Run(t, new(InMemorySuite))
}

func (s *InMemorySuite) SetupTest() {
	s.store = NewInMemory()
	s.ctx = context.Background()
	s.base = time.Date(2026, 2, 12, 9, 0, 0, 0, time.UTC)
}

func (s *InMemorySuite) put(user string, typ models.EventType, offset time.Duration) *models.Event {
	ev := models.NewEvent(domain.Email(user), typ, nil, s.base.Add(offset))
	n, err := s.store.PutBatch(s.ctx, []*models.Event{&ev})
	s.Require().NoError(err)
	s.Require().Equal(1, n)
	return &ev
}

func (s *InMemorySuite) TestPutReplacesSameKey() {
	s.put("a@example.com", models.EventPageView, 0)
	s.put("a@example.com", models.EventSearch, 0)

	events, err := s.store.Query(s.ctx, models.Filter{}, 0, nil)
	s.Require().NoError(err)
	s.Require().Len(events, 1)
	s.Equal(models.EventSearch, events[0].Type)
}

func (s *InMemorySuite) TestQueryFiltersAndOrders() {
	s.put("a@example.com", models.EventPageView, 0)
	s.put("a@example.com", models.EventSearch, time.Second)
	s.put("b@example.com", models.EventSearch, 2*time.Second)
	s.put("a@example.com", models.EventPageView, 3*time.Second)

	s.Run("user only, newest first", func() {
		events, err := s.store.Query(s.ctx, models.Filter{User: "a@example.com"}, 0, nil)
		s.Require().NoError(err)
		s.Require().Len(events, 3)
		s.Equal(s.base.Add(3*time.Second).UnixMilli(), events[0].Timestamp)
		s.Equal(s.base.UnixMilli(), events[2].Timestamp)
	})

	s.Run("type across users", func() {
		events, err := s.store.Query(s.ctx, models.Filter{Type: models.EventSearch}, 0, nil)
		s.Require().NoError(err)
		s.Require().Len(events, 2)
		s.Equal(domain.Email("b@example.com"), events[0].User)
	})

	s.Run("inclusive time bounds", func() {
		events, err := s.store.Query(s.ctx, models.Filter{
			Start: s.base.Add(time.Second).UnixMilli(),
			End:   s.base.Add(2 * time.Second).UnixMilli(),
		}, 0, nil)
		s.Require().NoError(err)
		s.Len(events, 2)
	})
}

func (s *InMemorySuite) TestQueryPagesWithCursor() {
	for i := range 5 {
		s.put("a@example.com", models.EventPageView, time.Duration(i)*time.Millisecond)
	}
	// Same millisecond, different user.
	s.put("b@example.com", models.EventPageView, 4*time.Millisecond)

	var seen []string
	var cursor *pagination.Cursor
	for {
		events, err := s.store.Query(s.ctx, models.Filter{}, 2, cursor)
		s.Require().NoError(err)
		if len(events) == 0 {
			break
		}
		for _, ev := range events {
			seen = append(seen, ev.User.String()+"@"+time.UnixMilli(ev.Timestamp).UTC().Format("05.000"))
		}
		last := events[len(events)-1]
		cursor = &pagination.Cursor{Time: time.UnixMilli(last.Timestamp), Key: last.User.String()}
	}
	s.Len(seen, 6)
	s.Equal("b@example.com@00.004", seen[0])
	s.Equal("a@example.com@00.004", seen[1])
}

func (s *InMemorySuite) TestActiveUsers() {
	s.put("a@example.com", models.EventPageView, 0)
	s.put("a@example.com", models.EventPageView, time.Minute)
	s.put("b@example.com", models.EventPageView, 2*time.Minute)
	s.put("c@example.com", models.EventPageView, -time.Hour)

	users, err := s.store.ActiveUsers(s.ctx, s.base.UnixMilli())
	s.Require().NoError(err)
	s.Require().Len(users, 2)
	s.Equal(domain.Email("b@example.com"), users[0].User)
	s.Equal(domain.Email("a@example.com"), users[1].User)
	s.Equal(2, users[1].EventCount)
	s.Equal(s.base.Add(time.Minute).UnixMilli(), users[1].LastSeen)
}

func (s *InMemorySuite) TestDeleteExpired() {
	s.put("a@example.com", models.EventPageView, 0)
	s.put("a@example.com", models.EventPageView, 48*time.Hour)

	deleted, err := s.store.DeleteExpired(s.ctx, s.base.Add(models.Retention+time.Hour))
	s.Require().NoError(err)
	s.Equal(1, deleted)

	events, err := s.store.Query(s.ctx, models.Filter{}, 0, nil)
	s.Require().NoError(err)
	s.Len(events, 1)
}
