//go:build integration

package store_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"commandbridge/internal/kb/models"
	"commandbridge/internal/kb/store"
	"commandbridge/pkg/domain"
	"commandbridge/pkg/platform/pagination"
	"commandbridge/pkg/platform/sentinel"
	"commandbridge/pkg/testutil"
	"commandbridge/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *store.PostgresStore
	base     time.Time
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
	s.base = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
}

func (s *PostgresStoreSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(context.Background(), "kb_articles"))
}

func (s *PostgresStoreSuite) article(id domain.ArticleID, version int, updated time.Time) *models.Article {
	return &models.Article{
		ID:           id,
		Version:      version,
		Title:        "Login Failures",
		Slug:         id.String(),
		Service:      "auth",
		Owner:        "identity-team",
		Category:     "runbook",
		Tags:         []string{"login", "auth"},
		Content:      fmt.Sprintf("body v%d", version),
		LastReviewed: "2026-03-01",
		CreatedAt:    s.base,
		CreatedBy:    testutil.Engineer.Email,
		UpdatedAt:    updated,
		UpdatedBy:    testutil.Engineer.Email,
	}
}

func (s *PostgresStoreSuite) latestRows(id domain.ArticleID) int {
	n, err := s.postgres.Count(context.Background(), "kb_articles", "id = $1 AND is_latest", id.String())
	s.Require().NoError(err)
	return n
}

func (s *PostgresStoreSuite) TestCreateAndRead() {
	ctx := context.Background()
	a := s.article("login-failures", 1, s.base)

	s.Require().NoError(s.store.Create(ctx, a))
	s.ErrorIs(s.store.Create(ctx, a), sentinel.ErrAlreadyUsed)

	got, err := s.store.Latest(ctx, "login-failures")
	s.Require().NoError(err)
	s.Equal(1, got.Version)
	s.True(got.IsLatest)
	s.Equal([]string{"login", "auth"}, got.Tags)
	s.Equal("body v1", got.Content)
	s.True(got.UpdatedAt.Equal(s.base))

	_, err = s.store.Latest(ctx, "missing")
	s.ErrorIs(err, sentinel.ErrNotFound)
	_, err = s.store.Version(ctx, "login-failures", 9)
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresStoreSuite) TestBump() {
	ctx := context.Background()
	s.Require().NoError(s.store.Create(ctx, s.article("login-failures", 1, s.base)))

	s.Run("moves the latest marker to the new version", func() {
		s.Require().NoError(s.store.Bump(ctx, s.article("login-failures", 2, s.base.Add(time.Minute))))

		latest, err := s.store.Latest(ctx, "login-failures")
		s.Require().NoError(err)
		s.Equal(2, latest.Version)

		v1, err := s.store.Version(ctx, "login-failures", 1)
		s.Require().NoError(err)
		s.False(v1.IsLatest)
		s.Equal(1, s.latestRows("login-failures"))
	})

	s.Run("stale base version conflicts without writing", func() {
		err := s.store.Bump(ctx, s.article("login-failures", 2, s.base.Add(2*time.Minute)))
		s.ErrorIs(err, sentinel.ErrConflict)

		versions, err := s.store.Versions(ctx, "login-failures")
		s.Require().NoError(err)
		s.Len(versions, 2)
		s.Empty(versions[0].Content)
	})

	s.Run("unknown article is not found", func() {
		err := s.store.Bump(ctx, s.article("missing", 2, s.base))
		s.ErrorIs(err, sentinel.ErrNotFound)
	})
}

func (s *PostgresStoreSuite) TestConcurrentBumpKeepsOneLatestRow() {
	ctx := context.Background()
	s.Require().NoError(s.store.Create(ctx, s.article("login-failures", 1, s.base)))

	const writers = 12
	result := testutil.RunConcurrent(writers, func(idx int) error {
		return s.store.Bump(ctx, s.article("login-failures", 2, s.base.Add(time.Duration(idx+1)*time.Second)))
	})

	s.Equal(int32(1), result.Successes)
	s.Equal(int32(writers-1), result.Conflicts)
	s.Zero(result.Errors)
	s.Equal(1, s.latestRows("login-failures"))

	total, err := s.postgres.Count(ctx, "kb_articles", "id = $1", "login-failures")
	s.Require().NoError(err)
	s.Equal(2, total)
}

func (s *PostgresStoreSuite) TestConcurrentVersionChainKeepsOneLatestRow() {
	ctx := context.Background()
	s.Require().NoError(s.store.Create(ctx, s.article("login-failures", 1, s.base)))

	// Each writer retries against whatever is latest, so every write lands
	// on a distinct version.
	const writers = 8
	result := testutil.RunConcurrent(writers, func(idx int) error {
		for {
			latest, err := s.store.Latest(ctx, "login-failures")
			if err != nil {
				return err
			}
			next := s.article("login-failures", latest.Version+1, s.base.Add(time.Duration(idx+1)*time.Second))
			err = s.store.Bump(ctx, next)
			if err == nil || !errors.Is(err, sentinel.ErrConflict) {
				return err
			}
		}
	})

	s.Equal(int32(writers), result.Successes)
	s.Equal(1, s.latestRows("login-failures"))

	latest, err := s.store.Latest(ctx, "login-failures")
	s.Require().NoError(err)
	s.Equal(writers+1, latest.Version)
}

func (s *PostgresStoreSuite) TestListPagesInKeysetOrder() {
	ctx := context.Background()
	// Two articles share an updated_at so the id breaks the tie.
	ids := []domain.ArticleID{"alpha", "bravo", "charlie", "delta", "echo"}
	stamps := []time.Time{s.base, s.base.Add(time.Minute), s.base.Add(time.Minute), s.base.Add(2 * time.Minute), s.base.Add(3 * time.Minute)}
	for i, id := range ids {
		s.Require().NoError(s.store.Create(ctx, s.article(id, 1, stamps[i])))
	}
	s.Require().NoError(s.store.Bump(ctx, s.article("alpha", 2, s.base.Add(4*time.Minute))))

	var (
		seen   []domain.ArticleID
		cursor *pagination.Cursor
	)
	for range 5 {
		page, err := s.store.List(ctx, models.Filter{}, 2, cursor)
		s.Require().NoError(err)
		if len(page) == 0 {
			break
		}
		for _, a := range page {
			s.True(a.IsLatest)
			s.Empty(a.Content)
			seen = append(seen, a.ID)
		}
		last := page[len(page)-1]
		cursor = &pagination.Cursor{Time: last.UpdatedAt, Key: last.ID.String()}
	}

	s.Equal([]domain.ArticleID{"alpha", "echo", "delta", "charlie", "bravo"}, seen)
}

func (s *PostgresStoreSuite) TestListFilters() {
	ctx := context.Background()
	disk := s.article("disk_full", 1, s.base)
	disk.Title = "disk_full alert"
	disk.Service = "storage"
	disk.Tags = []string{"disk"}
	s.Require().NoError(s.store.Create(ctx, disk))
	login := s.article("login-failures", 1, s.base.Add(time.Minute))
	login.Title = "Disk full during login"
	s.Require().NoError(s.store.Create(ctx, login))

	byService, err := s.store.List(ctx, models.Filter{Service: "storage"}, 10, nil)
	s.Require().NoError(err)
	s.Require().Len(byService, 1)
	s.Equal(domain.ArticleID("disk_full"), byService[0].ID)

	// Underscore is a LIKE wildcard and must match literally.
	bySearch, err := s.store.List(ctx, models.Filter{Search: "k_f"}, 10, nil)
	s.Require().NoError(err)
	s.Require().Len(bySearch, 1)
	s.Equal(domain.ArticleID("disk_full"), bySearch[0].ID)

	byTag, err := s.store.List(ctx, models.Filter{Search: "AUTH"}, 10, nil)
	s.Require().NoError(err)
	s.Require().Len(byTag, 1)
	s.Equal(domain.ArticleID("login-failures"), byTag[0].ID)
}

func (s *PostgresStoreSuite) TestDeleteRemovesEveryVersion() {
	ctx := context.Background()
	s.Require().NoError(s.store.Create(ctx, s.article("login-failures", 1, s.base)))
	s.Require().NoError(s.store.Bump(ctx, s.article("login-failures", 2, s.base.Add(time.Minute))))

	removed, err := s.store.Delete(ctx, "login-failures")
	s.Require().NoError(err)
	s.Equal(2, removed)

	_, err = s.store.Delete(ctx, "login-failures")
	s.ErrorIs(err, sentinel.ErrNotFound)
	_, err = s.store.Versions(ctx, "login-failures")
	s.ErrorIs(err, sentinel.ErrNotFound)
}
