package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"commandbridge/internal/activity/models"
	"commandbridge/internal/activity/service"
	"commandbridge/pkg/domain"
	dErrors "commandbridge/pkg/domain-errors"
	"commandbridge/pkg/platform/httputil"
	"commandbridge/pkg/requestcontext"
)

// Service is the activity surface used by the handler.
type Service interface {
	Ingest(ctx context.Context, caller domain.Caller, batch []models.Submission) (*models.IngestResult, error)
	Query(ctx context.Context, caller domain.Caller, params service.QueryParams) (*models.Page, error)
	ActiveUsers(ctx context.Context, caller domain.Caller, sinceMinutes int) ([]models.ActiveUser, error)
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Get("/activity", h.HandleQuery)
	r.Post("/activity", h.HandleIngest)
}

// HandleIngest stores a batch of client events for the caller.
func (h *Handler) HandleIngest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	caller, err := httputil.RequireCaller(ctx, h.logger)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[IngestRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	res, err := h.service.Ingest(ctx, caller, req.toSubmissions())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

// HandleQuery lists events, or active users when active=true.
// Query parameters: user, event_type, start, end, limit, cursor,
// active, since_minutes.
func (h *Handler) HandleQuery(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, err := httputil.RequireCaller(ctx, h.logger)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	q := r.URL.Query()

	if q.Get("active") == "true" {
		since, err := httputil.QueryInt(r, "since_minutes", 0)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		users, err := h.service.ActiveUsers(ctx, caller, since)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, &ActiveUsersResponse{ActiveUsers: users})
		return
	}

	start, err := queryMillis(q.Get("start"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	end, err := queryMillis(q.Get("end"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	limit, err := httputil.QueryInt(r, "limit", 0)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	params := service.QueryParams{
		Type:   models.EventType(q.Get("event_type")),
		Start:  start,
		End:    end,
		Limit:  limit,
		Cursor: q.Get("cursor"),
	}
	if raw := q.Get("user"); raw != "" {
		user, err := domain.ParseEmail(raw)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		params.User = user
	}

	page, err := h.service.Query(ctx, caller, params)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, page)
}

func queryMillis(raw string) (int64, error) {
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		return 0, dErrors.New(dErrors.CodeValidation, "start and end must be numeric timestamps")
	}
	return v, nil
}
