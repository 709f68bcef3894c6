package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"commandbridge/internal/activity/models"
	"commandbridge/pkg/domain"
	"commandbridge/pkg/platform/pagination"
)

type eventKey struct {
	user domain.Email
	ts   int64
}

// InMemory keeps activity events in process. Used for dev mode and tests.
// Writes to an existing (user, timestamp) key replace the stored event.
type InMemory struct {
	mu     sync.RWMutex
	events map[eventKey]*models.Event
}

func NewInMemory() *InMemory {
	return &InMemory{events: make(map[eventKey]*models.Event)}
}

func (s *InMemory) PutBatch(_ context.Context, events []*models.Event) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ev := range events {
		cp := *ev
		s.events[eventKey{user: ev.User, ts: ev.Timestamp}] = &cp
	}
	return len(events), nil
}

// Query returns up to limit events matching filter, newest first, starting
// after cursor.
func (s *InMemory) Query(_ context.Context, filter models.Filter, limit int, cursor *pagination.Cursor) ([]*models.Event, error) {
	s.mu.RLock()
	matched := make([]*models.Event, 0)
	for _, ev := range s.events {
		if filter.Matches(ev) && cursor.After(time.UnixMilli(ev.Timestamp), ev.User.String()) {
			cp := *ev
			matched = append(matched, &cp)
		}
	}
	s.mu.RUnlock()

	sortNewestFirst(matched)
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

// ActiveUsers reports each user with an event at or after since, most
// recently seen first.
func (s *InMemory) ActiveUsers(_ context.Context, since int64) ([]models.ActiveUser, error) {
	s.mu.RLock()
	byUser := make(map[domain.Email]*models.ActiveUser)
	for _, ev := range s.events {
		if ev.Timestamp < since {
			continue
		}
		au, ok := byUser[ev.User]
		if !ok {
			au = &models.ActiveUser{User: ev.User}
			byUser[ev.User] = au
		}
		au.EventCount++
		if ev.Timestamp > au.LastSeen {
			au.LastSeen = ev.Timestamp
		}
	}
	s.mu.RUnlock()

	users := make([]models.ActiveUser, 0, len(byUser))
	for _, au := range byUser {
		users = append(users, *au)
	}
	sort.Slice(users, func(i, j int) bool {
		if users[i].LastSeen != users[j].LastSeen {
			return users[i].LastSeen > users[j].LastSeen
		}
		return users[i].User < users[j].User
	})
	return users, nil
}

// DeleteExpired removes events whose retention ended at or before now.
func (s *InMemory) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	deleted := 0
	for key, ev := range s.events {
		if !ev.ExpiresAt.After(now) {
			delete(s.events, key)
			deleted++
		}
	}
	return deleted, nil
}

func sortNewestFirst(events []*models.Event) {
	sort.Slice(events, func(i, j int) bool {
		if events[i].Timestamp != events[j].Timestamp {
			return events[i].Timestamp > events[j].Timestamp
		}
		return events[i].User > events[j].User
	})
}
