package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"commandbridge/internal/identity/models"
	"commandbridge/pkg/domain"
	"commandbridge/pkg/platform/sentinel"
)

// InMemory stores users in process for dev mode and tests.
type InMemory struct {
	mu    sync.RWMutex
	users map[domain.Email]*models.User
}

func NewInMemory() *InMemory {
	return &InMemory{users: make(map[domain.Email]*models.User)}
}

// Create inserts a user unless the email is taken.
func (s *InMemory) Create(_ context.Context, user *models.User) error {
	if user == nil {
		return fmt.Errorf("user is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.users[user.Email]; exists {
		return fmt.Errorf("user %s: %w", user.Email, sentinel.ErrAlreadyUsed)
	}
	cp := *user
	s.users[user.Email] = &cp
	return nil
}

func (s *InMemory) FindByEmail(_ context.Context, email domain.Email) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[email]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

// List returns every user ordered by email.
func (s *InMemory) List(_ context.Context) ([]*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.User, 0, len(s.users))
	for _, u := range s.users {
		cp := *u
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return out, nil
}

// Update replaces a stored user.
func (s *InMemory) Update(_ context.Context, user *models.User) error {
	if user == nil {
		return fmt.Errorf("user is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[user.Email]; !ok {
		return sentinel.ErrNotFound
	}
	cp := *user
	s.users[user.Email] = &cp
	return nil
}
