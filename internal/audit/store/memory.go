package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"commandbridge/internal/audit/models"
	"commandbridge/pkg/domain"
	"commandbridge/pkg/platform/pagination"
	"commandbridge/pkg/platform/sentinel"
)

// InMemory keeps audit records in process. Used for dev mode and tests.
type InMemory struct {
	mu      sync.RWMutex
	records map[domain.RecordID]*models.Record
}

func NewInMemory() *InMemory {
	return &InMemory{records: make(map[domain.RecordID]*models.Record)}
}

// Append stores a new record. Reusing an ID is a conflict.
func (s *InMemory) Append(_ context.Context, rec *models.Record) error {
	if rec == nil {
		return fmt.Errorf("record is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[rec.ID]; exists {
		return fmt.Errorf("audit record %s: %w", rec.ID, sentinel.ErrAlreadyUsed)
	}
	s.records[rec.ID] = rec.Clone()
	return nil
}

func (s *InMemory) Get(_ context.Context, id domain.RecordID) (*models.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return rec.Clone(), nil
}

// Transition moves a record from one result to another. It fails with
// sentinel.ErrConflict when the stored result is no longer from.
func (s *InMemory) Transition(_ context.Context, id domain.RecordID, from, to models.Result, approver domain.Email, detail map[string]any) (*models.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	if rec.Result != from {
		return nil, fmt.Errorf("record is %s: %w", rec.Result, sentinel.ErrConflict)
	}
	next := rec.Clone()
	next.Result = to
	if approver != "" {
		next.ApprovedBy = approver
	}
	if len(detail) > 0 && next.Detail == nil {
		next.Detail = make(map[string]any, len(detail))
	}
	for k, v := range detail {
		next.Detail[k] = v
	}
	s.records[id] = next
	return next.Clone(), nil
}

// Query returns up to limit records matching filter, newest first, starting
// after cursor.
func (s *InMemory) Query(_ context.Context, filter models.Filter, limit int, cursor *pagination.Cursor) ([]*models.Record, error) {
	s.mu.RLock()
	matched := make([]*models.Record, 0)
	for _, rec := range s.records {
		if filter.Matches(rec) && cursor.After(rec.Timestamp, rec.ID.String()) {
			matched = append(matched, rec.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].Timestamp.Equal(matched[j].Timestamp) {
			return matched[i].Timestamp.After(matched[j].Timestamp)
		}
		return matched[i].ID.String() > matched[j].ID.String()
	})
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}
