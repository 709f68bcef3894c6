package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"commandbridge/internal/audit/models"
	"commandbridge/internal/audit/service"
	"commandbridge/pkg/domain"
	dErrors "commandbridge/pkg/domain-errors"
	"commandbridge/pkg/platform/httputil"
	"commandbridge/pkg/requestcontext"
)

// Service is the read side of the audit trail.
type Service interface {
	Query(ctx context.Context, caller domain.Caller, q service.QueryParams) (*models.Page, error)
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Get("/actions/audit", h.HandleQuery)
}

// HandleQuery returns audit history, newest first.
// Query parameters: user, action, from, to (RFC 3339), limit, cursor.
func (h *Handler) HandleQuery(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	caller, err := httputil.RequireCaller(ctx, h.logger)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	params, err := parseQuery(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	page, err := h.service.Query(ctx, caller, params)
	if err != nil {
		h.logger.WarnContext(ctx, "audit query failed", "error", err, "request_id", requestID)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, page)
}

func parseQuery(r *http.Request) (service.QueryParams, error) {
	q := r.URL.Query()
	params := service.QueryParams{
		Action: domain.ActionID(q.Get("action")),
		Cursor: q.Get("cursor"),
	}
	if raw := q.Get("user"); raw != "" {
		params.User = domain.NormalizeEmail(raw)
	}

	limit, err := httputil.QueryInt(r, "limit", 0)
	if err != nil {
		return params, err
	}
	params.Limit = limit

	if params.From, err = parseTime(q.Get("from"), "from"); err != nil {
		return params, err
	}
	if params.To, err = parseTime(q.Get("to"), "to"); err != nil {
		return params, err
	}
	return params, nil
}

func parseTime(raw, name string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, dErrors.New(dErrors.CodeValidation, name+" must be an RFC 3339 timestamp")
	}
	return t.UTC(), nil
}
