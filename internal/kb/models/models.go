package models

import (
	"slices"
	"strings"
	"time"

	"commandbridge/pkg/domain"
)

// Article is one version of a knowledge-base article. Rows are keyed by
// (ID, Version); exactly one row per ID has IsLatest set.
type Article struct {
	ID           domain.ArticleID `json:"id"`
	Version      int              `json:"version"`
	Title        string           `json:"title"`
	Slug         string           `json:"slug"`
	Service      string           `json:"service,omitempty"`
	Owner        string           `json:"owner"`
	Category     string           `json:"category,omitempty"`
	Tags         []string         `json:"tags"`
	Content      string           `json:"content,omitempty"`
	LastReviewed string           `json:"last_reviewed"`
	CreatedAt    time.Time        `json:"created_at"`
	CreatedBy    domain.Email     `json:"created_by"`
	UpdatedAt    time.Time        `json:"updated_at"`
	UpdatedBy    domain.Email     `json:"updated_by"`
	IsLatest     bool             `json:"is_latest"`
}

func (a *Article) Clone() *Article {
	if a == nil {
		return nil
	}
	cp := *a
	cp.Tags = slices.Clone(a.Tags)
	if cp.Tags == nil {
		cp.Tags = []string{}
	}
	return &cp
}

// Summary is a copy without Content, for listings.
func (a *Article) Summary() *Article {
	cp := a.Clone()
	if cp != nil {
		cp.Content = ""
	}
	return cp
}

// Draft is the input for a new article.
type Draft struct {
	Title    string
	Service  string
	Owner    string
	Category string
	Tags     []string
	Content  string
}

// Patch updates selected fields. Nil fields keep the current value; a non-nil
// empty Tags clears them.
type Patch struct {
	Title    *string
	Service  *string
	Owner    *string
	Category *string
	Tags     []string
	Content  *string
}

// Next builds version cur.Version+1 from cur with p applied.
func (p Patch) Next(cur *Article, by domain.Email, now time.Time) *Article {
	next := cur.Clone()
	if p.Title != nil {
		next.Title = *p.Title
	}
	if p.Service != nil {
		next.Service = *p.Service
	}
	if p.Owner != nil {
		next.Owner = *p.Owner
	}
	if p.Category != nil {
		next.Category = *p.Category
	}
	if p.Tags != nil {
		next.Tags = slices.Clone(p.Tags)
	}
	if p.Content != nil {
		next.Content = *p.Content
	}
	next.Version = cur.Version + 1
	next.UpdatedAt = now
	next.UpdatedBy = by
	next.LastReviewed = ReviewDate(now)
	next.IsLatest = true
	return next
}

// PatchFrom restates a stored version as a full patch, for restores.
func PatchFrom(a *Article) Patch {
	return Patch{
		Title:    &a.Title,
		Service:  &a.Service,
		Owner:    &a.Owner,
		Category: &a.Category,
		Tags:     append([]string{}, a.Tags...),
		Content:  &a.Content,
	}
}

// ReviewDate formats t as the YYYY-MM-DD last-reviewed stamp.
func ReviewDate(t time.Time) string {
	return t.UTC().Format(time.DateOnly)
}

// Filter selects latest articles. Search is a case-insensitive substring
// match over title, service, owner, and tags; Service and Category match
// exactly.
type Filter struct {
	Search   string
	Service  string
	Category string
}

func (f Filter) Matches(a *Article) bool {
	if f.Service != "" && a.Service != f.Service {
		return false
	}
	if f.Category != "" && a.Category != f.Category {
		return false
	}
	if f.Search == "" {
		return true
	}
	needle := strings.ToLower(f.Search)
	if strings.Contains(strings.ToLower(a.Title), needle) ||
		strings.Contains(strings.ToLower(a.Service), needle) ||
		strings.Contains(strings.ToLower(a.Owner), needle) {
		return true
	}
	for _, tag := range a.Tags {
		if strings.Contains(strings.ToLower(tag), needle) {
			return true
		}
	}
	return false
}

// Page is one page of latest articles, most recently updated first.
type Page struct {
	Articles   []*Article `json:"articles"`
	NextCursor string     `json:"next_cursor,omitempty"`
}
