package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/yuin/goldmark"

	activitymodels "commandbridge/internal/activity/models"
	auditmodels "commandbridge/internal/audit/models"
	"commandbridge/internal/kb/models"
	"commandbridge/internal/platform/metrics"
	"commandbridge/internal/rbac"
	"commandbridge/pkg/domain"
	dErrors "commandbridge/pkg/domain-errors"
	"commandbridge/pkg/platform/pagination"
	"commandbridge/pkg/platform/sentinel"
	pkgstrings "commandbridge/pkg/platform/strings"
	"commandbridge/pkg/platform/validation"
	"commandbridge/pkg/requestcontext"
)

// Store is the persistence contract for versioned articles.
type Store interface {
	Create(ctx context.Context, a *models.Article) error
	Latest(ctx context.Context, id domain.ArticleID) (*models.Article, error)
	Version(ctx context.Context, id domain.ArticleID, version int) (*models.Article, error)
	Versions(ctx context.Context, id domain.ArticleID) ([]*models.Article, error)
	Bump(ctx context.Context, next *models.Article) error
	Delete(ctx context.Context, id domain.ArticleID) (int, error)
	List(ctx context.Context, filter models.Filter, limit int, cursor *pagination.Cursor) ([]*models.Article, error)
}

// AuditRecorder writes best-effort audit rows for article writes.
type AuditRecorder interface {
	Record(ctx context.Context, rec *auditmodels.Record)
}

// ActivityRecorder queues server-side activity. It must never block.
type ActivityRecorder interface {
	Enqueue(ev activitymodels.Event) bool
}

// Article audit action ids.
const (
	ActionCreate  = "kb-create"
	ActionUpdate  = "kb-update"
	ActionDelete  = "kb-delete"
	ActionRestore = "kb-restore"
	ActionDenied  = "kb-denied"
)

// bumpAttempts is one write plus one retry after a lost race.
const bumpAttempts = 2

// ListParams selects a page of latest articles.
type ListParams struct {
	Filter models.Filter
	Limit  int
	Cursor string
}

// Service manages knowledge-base articles. Every write creates a new version;
// only Delete removes rows.
type Service struct {
	store    Store
	audit    AuditRecorder
	activity ActivityRecorder
	logger   *slog.Logger
	metrics  *metrics.Metrics
	markdown goldmark.Markdown
}

func New(store Store, opts ...Option) *Service {
	cfg := &serviceConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	return &Service{
		store:    store,
		audit:    cfg.audit,
		activity: cfg.activity,
		logger:   cfg.logger,
		metrics:  cfg.metrics,
		markdown: newMarkdown(),
	}
}

// Create stores version 1 of a new article keyed by the slug of its title.
func (s *Service) Create(ctx context.Context, caller domain.Caller, draft models.Draft) (*models.Article, error) {
	if !rbac.CanWriteKB(caller) {
		s.deny(ctx, caller, "", "create")
		return nil, dErrors.New(dErrors.CodeForbidden, "L2+ access required to create articles")
	}
	title := strings.TrimSpace(draft.Title)
	if title == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "title is required")
	}
	slug := pkgstrings.Slugify(title)
	if slug == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "title must contain letters or digits")
	}

	now := requestcontext.Now(ctx)
	tags := draft.Tags
	if tags == nil {
		tags = []string{}
	}
	article := &models.Article{
		ID:           domain.ArticleID(slug),
		Version:      1,
		Title:        title,
		Slug:         slug,
		Service:      draft.Service,
		Owner:        draft.Owner,
		Category:     draft.Category,
		Tags:         tags,
		Content:      draft.Content,
		LastReviewed: models.ReviewDate(now),
		CreatedAt:    now,
		CreatedBy:    caller.Email,
		UpdatedAt:    now,
		UpdatedBy:    caller.Email,
		IsLatest:     true,
	}
	if err := s.store.Create(ctx, article); err != nil {
		if errors.Is(err, sentinel.ErrAlreadyUsed) {
			return nil, dErrors.New(dErrors.CodeConflict, "An article with this slug already exists")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to create article")
	}

	s.recordWrite(ctx, caller, ActionCreate, article, map[string]any{"title": title})
	return article, nil
}

// Update writes the patched latest version as a new version.
func (s *Service) Update(ctx context.Context, caller domain.Caller, id domain.ArticleID, patch models.Patch) (*models.Article, error) {
	if !rbac.CanWriteKB(caller) {
		s.deny(ctx, caller, id, "update")
		return nil, dErrors.New(dErrors.CodeForbidden, "L2+ access required to edit articles")
	}
	if patch.Title != nil {
		title := strings.TrimSpace(*patch.Title)
		if title == "" {
			return nil, dErrors.New(dErrors.CodeValidation, "title cannot be blank")
		}
		patch.Title = &title
	}

	next, err := s.bump(ctx, caller, id, patch)
	if err != nil {
		return nil, err
	}
	s.recordWrite(ctx, caller, ActionUpdate, next, map[string]any{"title": next.Title, "version": next.Version})
	return next, nil
}

// Restore copies version n forward as the new latest version.
func (s *Service) Restore(ctx context.Context, caller domain.Caller, id domain.ArticleID, version int) (*models.Article, error) {
	if !rbac.CanWriteKB(caller) {
		s.deny(ctx, caller, id, "restore")
		return nil, dErrors.New(dErrors.CodeForbidden, "L2+ access required to edit articles")
	}
	old, err := s.GetVersion(ctx, id, version)
	if err != nil {
		return nil, err
	}

	next, err := s.bump(ctx, caller, id, models.PatchFrom(old))
	if err != nil {
		return nil, err
	}
	s.recordWrite(ctx, caller, ActionRestore, next, map[string]any{"restored_from": version, "version": next.Version})
	return next, nil
}

// Delete removes every version of an article.
func (s *Service) Delete(ctx context.Context, caller domain.Caller, id domain.ArticleID) error {
	if !rbac.CanDeleteKB(caller) {
		s.deny(ctx, caller, id, "delete")
		return dErrors.New(dErrors.CodeForbidden, "L3 access required to delete articles")
	}
	current, err := s.store.Latest(ctx, id)
	if err != nil {
		return wrapArticleErr(err, "Article not found", "failed to read article")
	}
	removed, err := s.store.Delete(ctx, id)
	if err != nil {
		return wrapArticleErr(err, "Article not found", "failed to delete article")
	}
	s.recordWrite(ctx, caller, ActionDelete, current, map[string]any{"title": current.Title, "versions": removed})
	return nil
}

// Get returns the latest version and notes the view.
func (s *Service) Get(ctx context.Context, caller domain.Caller, id domain.ArticleID) (*models.Article, error) {
	article, err := s.store.Latest(ctx, id)
	if err != nil {
		return nil, wrapArticleErr(err, "Article not found", "failed to read article")
	}
	s.track(ctx, caller.Email, activitymodels.EventKBView, article)
	return article, nil
}

// GetVersion is a point lookup, independent of the latest marker.
func (s *Service) GetVersion(ctx context.Context, id domain.ArticleID, version int) (*models.Article, error) {
	if version < 1 {
		return nil, dErrors.New(dErrors.CodeValidation, "version must be a positive integer")
	}
	article, err := s.store.Version(ctx, id, version)
	if err != nil {
		return nil, wrapArticleErr(err, "Version not found", "failed to read article version")
	}
	return article, nil
}

// Versions lists version metadata, newest first.
func (s *Service) Versions(ctx context.Context, id domain.ArticleID) ([]*models.Article, error) {
	versions, err := s.store.Versions(ctx, id)
	if err != nil {
		return nil, wrapArticleErr(err, "Article not found", "failed to list versions")
	}
	return versions, nil
}

// List returns a page of latest articles without content.
func (s *Service) List(ctx context.Context, params ListParams) (*models.Page, error) {
	limit := validation.ClampLimit(params.Limit, validation.DefaultArticleLimit, validation.MaxArticleLimit)
	cursor, err := pagination.Decode(params.Cursor)
	if err != nil {
		return nil, err
	}
	articles, err := s.store.List(ctx, params.Filter, limit+1, cursor)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to list articles")
	}

	page := &models.Page{Articles: articles}
	if len(articles) > limit {
		last := articles[limit-1]
		page.Articles = articles[:limit]
		page.NextCursor = pagination.Encode(&pagination.Cursor{Time: last.UpdatedAt, Key: last.ID.String()})
	}
	return page, nil
}

// bump applies patch to the latest version and writes the result
// conditionally. A lost race is retried once against a fresh read.
func (s *Service) bump(ctx context.Context, caller domain.Caller, id domain.ArticleID, patch models.Patch) (*models.Article, error) {
	var lastErr error
	for range bumpAttempts {
		current, err := s.store.Latest(ctx, id)
		if err != nil {
			return nil, wrapArticleErr(err, "Article not found", "failed to read article")
		}
		next := patch.Next(current, caller.Email, requestcontext.Now(ctx))
		err = s.store.Bump(ctx, next)
		if err == nil {
			return next, nil
		}
		if !errors.Is(err, sentinel.ErrConflict) {
			return nil, wrapArticleErr(err, "Article not found", "failed to update article")
		}
		s.metrics.IncrementArticleConflict()
		if s.logger != nil {
			s.logger.WarnContext(ctx, "article version conflict",
				"article", id.String(),
				"version", next.Version,
				"request_id", requestcontext.RequestID(ctx),
			)
		}
		lastErr = err
	}
	return nil, &dErrors.Error{
		Code:    dErrors.CodeUnavailable,
		Message: "Article was modified concurrently; retry",
		Err:     lastErr,
	}
}

func (s *Service) recordWrite(ctx context.Context, caller domain.Caller, action string, a *models.Article, detail map[string]any) {
	s.metrics.IncrementArticleWrite(action)
	if s.logger != nil {
		s.logger.InfoContext(ctx, "article written",
			"log_type", "audit",
			"action", action,
			"article", a.ID.String(),
			"version", a.Version,
			"request_id", requestcontext.RequestID(ctx),
		)
	}
	if s.audit != nil {
		s.audit.Record(ctx, &auditmodels.Record{
			UserEmail: caller.Email,
			ActionID:  domain.ActionID(action),
			Target:    a.ID.String(),
			Result:    auditmodels.ResultSuccess,
			Detail:    detail,
		})
	}
	s.track(ctx, caller.Email, activitymodels.EventKBEdit, a)
}

func (s *Service) deny(ctx context.Context, caller domain.Caller, id domain.ArticleID, attempted string) {
	if s.audit == nil {
		return
	}
	s.audit.Record(ctx, &auditmodels.Record{
		UserEmail: caller.Email,
		ActionID:  ActionDenied,
		Target:    id.String(),
		Result:    auditmodels.ResultDenied,
		Detail:    map[string]any{"attempted": attempted},
	})
}

func (s *Service) track(ctx context.Context, user domain.Email, typ activitymodels.EventType, a *models.Article) {
	if s.activity == nil {
		return
	}
	s.activity.Enqueue(activitymodels.NewEvent(user, typ, map[string]any{
		"article": a.ID.String(),
		"version": a.Version,
	}, requestcontext.Now(ctx)))
}

func wrapArticleErr(err error, notFound, action string) error {
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.New(dErrors.CodeNotFound, notFound)
	}
	return dErrors.Wrap(err, dErrors.CodeUnavailable, action)
}
