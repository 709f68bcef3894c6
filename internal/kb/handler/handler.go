package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"commandbridge/internal/kb/models"
	"commandbridge/internal/kb/service"
	"commandbridge/pkg/domain"
	dErrors "commandbridge/pkg/domain-errors"
	"commandbridge/pkg/platform/httputil"
	"commandbridge/pkg/requestcontext"
)

// Service is the knowledge base as exposed over HTTP.
type Service interface {
	List(ctx context.Context, params service.ListParams) (*models.Page, error)
	Get(ctx context.Context, caller domain.Caller, id domain.ArticleID) (*models.Article, error)
	GetVersion(ctx context.Context, id domain.ArticleID, version int) (*models.Article, error)
	Versions(ctx context.Context, id domain.ArticleID) ([]*models.Article, error)
	Create(ctx context.Context, caller domain.Caller, draft models.Draft) (*models.Article, error)
	Update(ctx context.Context, caller domain.Caller, id domain.ArticleID, patch models.Patch) (*models.Article, error)
	Restore(ctx context.Context, caller domain.Caller, id domain.ArticleID, version int) (*models.Article, error)
	Delete(ctx context.Context, caller domain.Caller, id domain.ArticleID) error
	Render(a *models.Article) (string, error)
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Get("/kb", h.HandleList)
	r.Post("/kb", h.HandleCreate)
	r.Get("/kb/{id}", h.HandleGet)
	r.Put("/kb/{id}", h.HandleUpdate)
	r.Delete("/kb/{id}", h.HandleDelete)
	r.Get("/kb/{id}/versions", h.HandleVersions)
	r.Get("/kb/{id}/versions/{version}", h.HandleGetVersion)
	r.Post("/kb/{id}/versions/{version}/restore", h.HandleRestore)
}

// HandleList returns latest articles without content.
// Query parameters: search, service, category, limit, cursor.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()
	limit, err := httputil.QueryInt(r, "limit", 0)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	page, err := h.service.List(ctx, service.ListParams{
		Filter: models.Filter{
			Search:   q.Get("search"),
			Service:  q.Get("service"),
			Category: q.Get("category"),
		},
		Limit:  limit,
		Cursor: q.Get("cursor"),
	})
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, page)
}

// HandleGet returns the latest version. With ?format=html the rendered body
// is included.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, err := httputil.RequireCaller(ctx, h.logger)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	id, err := articleID(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	article, err := h.service.Get(ctx, caller, id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	resp := &ArticleResponse{Article: article}
	switch format := r.URL.Query().Get("format"); format {
	case "", "markdown":
	case "html":
		html, err := h.service.Render(article)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		resp.HTML = html
	default:
		httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "format must be markdown or html"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) HandleVersions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := articleID(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	versions, err := h.service.Versions(ctx, id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, &VersionsResponse{Versions: versions})
}

func (h *Handler) HandleGetVersion(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, version, err := articleVersion(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	article, err := h.service.GetVersion(ctx, id, version)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, &ArticleResponse{Article: article})
}

func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	caller, err := httputil.RequireCaller(ctx, h.logger)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[CreateArticleRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	article, err := h.service.Create(ctx, caller, req.toDraft())
	if err != nil {
		h.logger.WarnContext(ctx, "create article failed", "error", err, "request_id", requestID)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, &ArticleResponse{Article: article})
}

func (h *Handler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	caller, err := httputil.RequireCaller(ctx, h.logger)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	id, err := articleID(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[UpdateArticleRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	article, err := h.service.Update(ctx, caller, id, req.toPatch())
	if err != nil {
		h.logger.WarnContext(ctx, "update article failed", "error", err, "article", id.String(), "request_id", requestID)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, &ArticleResponse{Article: article})
}

func (h *Handler) HandleRestore(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, err := httputil.RequireCaller(ctx, h.logger)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	id, version, err := articleVersion(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	article, err := h.service.Restore(ctx, caller, id, version)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, &ArticleResponse{Article: article})
}

func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, err := httputil.RequireCaller(ctx, h.logger)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	id, err := articleID(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := h.service.Delete(ctx, caller, id); err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, &MessageResponse{Message: "Article " + id.String() + " deleted"})
}

func articleID(r *http.Request) (domain.ArticleID, error) {
	return domain.ParseArticleID(chi.URLParam(r, "id"))
}

func articleVersion(r *http.Request) (domain.ArticleID, int, error) {
	id, err := articleID(r)
	if err != nil {
		return "", 0, err
	}
	version, err := strconv.Atoi(chi.URLParam(r, "version"))
	if err != nil || version < 1 {
		return "", 0, dErrors.New(dErrors.CodeValidation, "version must be a positive integer")
	}
	return id, version, nil
}
