package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"commandbridge/internal/audit/models"
	"commandbridge/pkg/domain"
	"commandbridge/pkg/platform/pagination"
	"commandbridge/pkg/platform/sentinel"
	"commandbridge/pkg/testutil"
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

func (s *InMemorySuite) seed(user string, action string, result models.Result, offset time.Duration) *models.Record {
	ts := s.base.Add(offset)
	rec := &models.Record{
		ID:          domain.NewRecordID(),
		UserEmail:   domain.Email(user),
		ActionID:    domain.ActionID(action),
		Result:      result,
		Timestamp:   ts,
		MonthBucket: models.MonthBucket(ts),
	}
	s.Require().NoError(s.store.Append(s.ctx, rec))
	return rec
}

func (s *InMemorySuite) TestAppendRejectsDuplicateID() {
	rec := s.seed("a@example.com", "purge-cache", models.ResultSuccess, 0)
	err := s.store.Append(s.ctx, rec)
	s.ErrorIs(err, sentinel.ErrAlreadyUsed)
}

func (s *InMemorySuite) TestGetReturnsCopy() {
	rec := s.seed("a@example.com", "purge-cache", models.ResultSuccess, 0)

	got, err := s.store.Get(s.ctx, rec.ID)
	s.Require().NoError(err)
	got.Result = models.ResultFailed

	again, err := s.store.Get(s.ctx, rec.ID)
	s.Require().NoError(err)
	s.Equal(models.ResultSuccess, again.Result)

	_, err = s.store.Get(s.ctx, domain.NewRecordID())
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *InMemorySuite) TestTransitionIsConditional() {
	rec := s.seed("a@example.com", "rotate-secrets", models.ResultRequested, 0)

	updated, err := s.store.Transition(s.ctx, rec.ID, models.ResultRequested, models.ResultApproved,
		"b@example.com", map[string]any{"approved_at": "now"})
	s.Require().NoError(err)
	s.Equal(models.ResultApproved, updated.Result)
	s.Equal(domain.Email("b@example.com"), updated.ApprovedBy)
	s.Equal("now", updated.Detail["approved_at"])

	_, err = s.store.Transition(s.ctx, rec.ID, models.ResultRequested, models.ResultApproved, "c@example.com", nil)
	s.ErrorIs(err, sentinel.ErrConflict)

	_, err = s.store.Transition(s.ctx, domain.NewRecordID(), models.ResultRequested, models.ResultApproved, "", nil)
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *InMemorySuite) TestConcurrentClaimHasSingleWinner() {
	rec := s.seed("a@example.com", "rotate-secrets", models.ResultRequested, 0)

	result := testutil.RunConcurrent(20, func(int) error {
		_, err := s.store.Transition(s.ctx, rec.ID, models.ResultRequested, models.ResultApproved, "b@example.com", nil)
		return err
	})

	s.Equal(int32(1), result.Successes)
	s.Equal(int32(19), result.Conflicts)
}

func (s *InMemorySuite) TestQueryOrdersNewestFirstAndPages() {
	for i := 0; i < 5; i++ {
		s.seed("a@example.com", "purge-cache", models.ResultSuccess, time.Duration(i)*time.Minute)
	}
	s.seed("b@example.com", "purge-cache", models.ResultSuccess, 10*time.Minute)

	first, err := s.store.Query(s.ctx, models.Filter{User: "a@example.com"}, 3, nil)
	s.Require().NoError(err)
	s.Require().Len(first, 3)
	s.True(first[0].Timestamp.After(first[1].Timestamp))

	last := first[len(first)-1]
	rest, err := s.store.Query(s.ctx, models.Filter{User: "a@example.com"}, 3,
		&pagination.Cursor{Time: last.Timestamp, Key: last.ID.String()})
	s.Require().NoError(err)
	s.Len(rest, 2)
	for _, rec := range rest {
		s.True(rec.Timestamp.Before(last.Timestamp))
	}
}

func (s *InMemorySuite) TestQueryByResultAndWindow() {
	s.seed("a@example.com", "rotate-secrets", models.ResultRequested, 0)
	s.seed("a@example.com", "purge-cache", models.ResultSuccess, time.Minute)
	s.seed("a@example.com", "purge-cache", models.ResultSuccess, 2*time.Hour)

	pending, err := s.store.Query(s.ctx, models.Filter{Result: models.ResultRequested}, 0, nil)
	s.Require().NoError(err)
	s.Len(pending, 1)

	window, err := s.store.Query(s.ctx, models.Filter{From: s.base, To: s.base.Add(time.Hour)}, 0, nil)
	s.Require().NoError(err)
	s.Len(window, 2)
}

func (s *InMemorySuite) TestAppendNilRecord() {
	err := s.store.Append(s.ctx, nil)
	s.Error(err)
	s.False(errors.Is(err, sentinel.ErrAlreadyUsed))
}
