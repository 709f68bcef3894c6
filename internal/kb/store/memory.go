package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"commandbridge/internal/kb/models"
	"commandbridge/pkg/domain"
	"commandbridge/pkg/platform/pagination"
	"commandbridge/pkg/platform/sentinel"
	pkgsync "commandbridge/pkg/platform/sync"
)

// InMemory keeps every article version in process. Writes to one article are
// serialised by its shard lock so the version check and the write are atomic;
// mu guards the map for readers.
type InMemory struct {
	locks *pkgsync.ShardedMutex

	mu       sync.RWMutex
	articles map[domain.ArticleID][]*models.Article // ascending by version
}

func NewInMemory() *InMemory {
	return &InMemory{
		locks:    pkgsync.NewShardedMutex(),
		articles: make(map[domain.ArticleID][]*models.Article),
	}
}

// Create stores version 1 of a new article.
func (s *InMemory) Create(_ context.Context, a *models.Article) error {
	if a == nil {
		return fmt.Errorf("article is required")
	}
	key := a.ID.String()
	return s.locks.WithLock(key, func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, exists := s.articles[a.ID]; exists {
			return fmt.Errorf("article %s: %w", a.ID, sentinel.ErrAlreadyUsed)
		}
		cp := a.Clone()
		cp.IsLatest = true
		s.articles[a.ID] = []*models.Article{cp}
		return nil
	})
}

func (s *InMemory) Latest(_ context.Context, id domain.ArticleID) (*models.Article, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	versions := s.articles[id]
	if len(versions) == 0 {
		return nil, sentinel.ErrNotFound
	}
	return versions[len(versions)-1].Clone(), nil
}

// Version is a point lookup that ignores the latest marker.
func (s *InMemory) Version(_ context.Context, id domain.ArticleID, version int) (*models.Article, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.articles[id] {
		if a.Version == version {
			return a.Clone(), nil
		}
	}
	return nil, sentinel.ErrNotFound
}

// Versions lists every version newest first, without content.
func (s *InMemory) Versions(_ context.Context, id domain.ArticleID) ([]*models.Article, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	versions := s.articles[id]
	if len(versions) == 0 {
		return nil, sentinel.ErrNotFound
	}
	out := make([]*models.Article, 0, len(versions))
	for i := len(versions) - 1; i >= 0; i-- {
		out = append(out, versions[i].Summary())
	}
	return out, nil
}

// Bump writes next as the new latest version. It succeeds only while the
// stored latest is next.Version-1; otherwise it returns ErrConflict.
func (s *InMemory) Bump(_ context.Context, next *models.Article) error {
	if next == nil {
		return fmt.Errorf("article is required")
	}
	key := next.ID.String()
	return s.locks.WithLock(key, func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		versions := s.articles[next.ID]
		if len(versions) == 0 {
			return sentinel.ErrNotFound
		}
		cur := versions[len(versions)-1]
		if cur.Version != next.Version-1 {
			return fmt.Errorf("article %s at version %d, expected %d: %w", next.ID, cur.Version, next.Version-1, sentinel.ErrConflict)
		}
		prior := cur.Clone()
		prior.IsLatest = false
		versions[len(versions)-1] = prior
		cp := next.Clone()
		cp.IsLatest = true
		s.articles[next.ID] = append(versions, cp)
		return nil
	})
}

// Delete removes every version and reports how many there were.
func (s *InMemory) Delete(_ context.Context, id domain.ArticleID) (int, error) {
	var removed int
	err := s.locks.WithLock(id.String(), func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		removed = len(s.articles[id])
		if removed == 0 {
			return sentinel.ErrNotFound
		}
		delete(s.articles, id)
		return nil
	})
	return removed, err
}

// List returns latest versions matching filter, most recently updated first,
// starting after cursor. Content is omitted.
func (s *InMemory) List(_ context.Context, filter models.Filter, limit int, cursor *pagination.Cursor) ([]*models.Article, error) {
	s.mu.RLock()
	matched := make([]*models.Article, 0)
	for _, versions := range s.articles {
		latest := versions[len(versions)-1]
		if filter.Matches(latest) && cursor.After(latest.UpdatedAt, latest.ID.String()) {
			matched = append(matched, latest.Summary())
		}
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].UpdatedAt.Equal(matched[j].UpdatedAt) {
			return matched[i].UpdatedAt.After(matched[j].UpdatedAt)
		}
		return matched[i].ID > matched[j].ID
	})
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

// LatestCount reports how many rows of id carry the latest marker.
func (s *InMemory) LatestCount(id domain.ArticleID) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, a := range s.articles[id] {
		if a.IsLatest {
			n++
		}
	}
	return n
}
